package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"time"

	"github.com/storeops/adconnect/internal/credential"
	apperrors "github.com/storeops/adconnect/internal/errors"
)

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

// pathProvider parses the {provider} path segment.
func pathProvider(r *http.Request) (credential.Provider, error) {
	return credential.ParseProvider(r.PathValue("provider"))
}

// HandleConnect returns the GET /connect/{provider} handler. It starts
// a handshake for the store in ?store_id and redirects the browser to
// the provider's authorization page.
func HandleConnect(mgr CredentialManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := pathProvider(r)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "unknown_provider", err.Error())
			return
		}

		storeID := r.URL.Query().Get("store_id")
		if storeID == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "store_id is required")
			return
		}

		authURL, err := mgr.StartAuth(r.Context(), storeID, p)
		if err != nil {
			if errors.Is(err, apperrors.ErrUnknownProvider) {
				writeJSONError(w, http.StatusNotFound, "unknown_provider", "provider is not configured")
				return
			}
			logger.Error("starting handshake",
				slog.String("provider", string(p)),
				slog.String("store_id", storeID),
				slog.String("error", err.Error()),
			)
			writeJSONError(w, http.StatusInternalServerError, "server_error", "could not start the connect flow")
			return
		}

		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// HandleCallback returns the GET /oauth/callback/{provider} handler,
// the redirect target registered with every provider. It finishes the
// handshake and renders a small result page for the browser.
func HandleCallback(mgr CredentialManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := pathProvider(r)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "unknown_provider", err.Error())
			return
		}

		q := r.URL.Query()

		// Providers report user denial and their own errors in the
		// query string instead of a code.
		if providerErr := q.Get("error"); providerErr != "" {
			logger.Warn("handshake denied",
				slog.String("provider", string(p)),
				slog.String("error", providerErr),
			)
			renderResult(w, http.StatusBadRequest, "Connection failed",
				fmt.Sprintf("The provider reported: %s. Close this window and try again.", providerErr))
			return
		}

		code := q.Get("code")
		state := q.Get("state")
		if code == "" || state == "" {
			renderResult(w, http.StatusBadRequest, "Connection failed",
				"The callback is missing its code or state parameter.")
			return
		}

		cred, err := mgr.CompleteAuth(r.Context(), p, code, state)
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidState) {
				renderResult(w, http.StatusBadRequest, "Connection failed",
					"This sign-in link has expired or was already used. Start again from the dashboard.")
				return
			}
			logger.Error("completing handshake",
				slog.String("provider", string(p)),
				slog.String("error", err.Error()),
			)
			renderResult(w, http.StatusBadGateway, "Connection failed",
				"The provider did not accept the sign-in. Close this window and try again.")
			return
		}

		msg := "Your account is connected. You can close this window."
		if len(cred.AccountCandidates) > 1 {
			msg = "Almost done. Return to the dashboard to choose which ad account to use."
		}
		renderResult(w, http.StatusOK, "Connected", msg)
	}
}

func renderResult(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>",
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
}

type selectAccountRequest struct {
	StoreID     string `json:"store_id"`
	Provider    string `json:"provider"`
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`
}

// HandleSelectAccount returns the POST /api/accounts/select handler.
// Binding an ad account is always an explicit dashboard action.
func HandleSelectAccount(mgr CredentialManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req selectAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
		if req.StoreID == "" || req.AccountID == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "store_id and account_id are required")
			return
		}

		p, err := credential.ParseProvider(req.Provider)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unknown_provider", err.Error())
			return
		}

		err = mgr.SelectAccount(r.Context(), req.StoreID, p, req.AccountID, req.AccountName)
		switch {
		case errors.Is(err, apperrors.ErrNotConnected):
			writeJSONError(w, http.StatusNotFound, "not_connected", "connect the provider first")
		case errors.Is(err, apperrors.ErrUnknownAccount):
			writeJSONError(w, http.StatusBadRequest, "unknown_account", "account is not among the discovered candidates")
		case err != nil:
			logger.Error("selecting account",
				slog.String("provider", req.Provider),
				slog.String("store_id", req.StoreID),
				slog.String("error", err.Error()),
			)
			writeJSONError(w, http.StatusInternalServerError, "server_error", "could not select the account")
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

type disconnectRequest struct {
	StoreID  string `json:"store_id"`
	Provider string `json:"provider"`
}

// HandleDisconnect returns the POST /api/disconnect handler.
func HandleDisconnect(mgr CredentialManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req disconnectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
		if req.StoreID == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "store_id is required")
			return
		}

		p, err := credential.ParseProvider(req.Provider)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unknown_provider", err.Error())
			return
		}

		if err := mgr.Disconnect(r.Context(), req.StoreID, p); err != nil {
			logger.Error("disconnecting",
				slog.String("provider", req.Provider),
				slog.String("store_id", req.StoreID),
				slog.String("error", err.Error()),
			)
			writeJSONError(w, http.StatusInternalServerError, "server_error", "could not disconnect")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// connectionView is the dashboard projection of a credential. Token
// material never appears here, not even ciphertext.
type connectionView struct {
	Provider            string               `json:"provider"`
	Status              string               `json:"status"`
	SelectedAccountID   string               `json:"selected_account_id,omitempty"`
	SelectedAccountName string               `json:"selected_account_name,omitempty"`
	AccountCandidates   []credential.Account `json:"account_candidates,omitempty"`
	ExpiresAt           *time.Time           `json:"expires_at,omitempty"`
	LastError           string               `json:"last_error,omitempty"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// HandleConnections returns the GET /api/connections handler.
func HandleConnections(mgr CredentialManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeID := r.URL.Query().Get("store_id")
		if storeID == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "store_id is required")
			return
		}

		creds, err := mgr.ListConnections(r.Context(), storeID)
		if err != nil {
			logger.Error("listing connections",
				slog.String("store_id", storeID),
				slog.String("error", err.Error()),
			)
			writeJSONError(w, http.StatusInternalServerError, "server_error", "could not list connections")
			return
		}

		views := make([]connectionView, 0, len(creds))
		for _, c := range creds {
			views = append(views, connectionView{
				Provider:            string(c.Provider),
				Status:              string(c.Status),
				SelectedAccountID:   c.SelectedAccountID,
				SelectedAccountName: c.SelectedAccountName,
				AccountCandidates:   c.AccountCandidates,
				ExpiresAt:           c.ExpiresAt,
				LastError:           c.LastError,
				UpdatedAt:           c.UpdatedAt,
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{"connections": views})
	}
}

type tokenRequest struct {
	StoreID  string `json:"store_id"`
	Provider string `json:"provider"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// HandleToken returns the POST /api/token handler used by internal
// services. A disconnected or broken credential yields 204 rather
// than an error; callers route the merchant back through the connect
// flow.
func HandleToken(mgr CredentialManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
		if req.StoreID == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "store_id is required")
			return
		}

		p, err := credential.ParseProvider(req.Provider)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unknown_provider", err.Error())
			return
		}

		token, err := mgr.GetValidAccessToken(r.Context(), req.StoreID, p)
		if err != nil {
			logger.Error("resolving access token",
				slog.String("provider", req.Provider),
				slog.String("store_id", req.StoreID),
				slog.String("error", err.Error()),
			)
			writeJSONError(w, http.StatusInternalServerError, "server_error", "could not resolve a token")
			return
		}

		if token == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token})
	}
}
