// Package server provides HTTP server construction for adconnect.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/storeops/adconnect/internal/credential"
)

// CredentialManager is the lifecycle surface the HTTP layer drives.
// *manager.Manager satisfies it.
type CredentialManager interface {
	StartAuth(ctx context.Context, entityID string, p credential.Provider) (string, error)
	CompleteAuth(ctx context.Context, p credential.Provider, code, state string) (*credential.Credential, error)
	SelectAccount(ctx context.Context, entityID string, p credential.Provider, accountID, accountName string) error
	Disconnect(ctx context.Context, entityID string, p credential.Provider) error
	ListConnections(ctx context.Context, entityID string) ([]*credential.Credential, error)
	GetValidAccessToken(ctx context.Context, entityID string, p credential.Provider) (string, error)
}

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Manager CredentialManager
	Logger  *slog.Logger

	// APIKeys authorize the internal token endpoint. Empty disables it.
	APIKeys []string
}

// NewMux builds the HTTP mux: the browser-facing connect and callback
// endpoints, the dashboard API, and the internal token endpoint behind
// Bearer API-key middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /connect/{provider}", HandleConnect(cfg.Manager, cfg.Logger))
	mux.HandleFunc("GET /oauth/callback/{provider}", HandleCallback(cfg.Manager, cfg.Logger))

	mux.HandleFunc("POST /api/accounts/select", HandleSelectAccount(cfg.Manager, cfg.Logger))
	mux.HandleFunc("POST /api/disconnect", HandleDisconnect(cfg.Manager, cfg.Logger))
	mux.HandleFunc("GET /api/connections", HandleConnections(cfg.Manager, cfg.Logger))

	apiKeyMiddleware := APIKeyMiddleware(cfg.APIKeys, cfg.Logger)
	mux.Handle("POST /api/token", apiKeyMiddleware(HandleToken(cfg.Manager, cfg.Logger)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}
