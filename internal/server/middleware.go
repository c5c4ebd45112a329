package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// APIKeyMiddleware returns middleware that authorizes internal
// callers by Bearer API key. Comparison is constant-time per key. With
// no keys configured every request is rejected; the token endpoint is
// never open by accident.
func APIKeyMiddleware(keys []string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "a Bearer API key is required")
				return
			}

			for _, key := range keys {
				if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}

			logger.Warn("rejected API key", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "unrecognized API key")
		})
	}
}
