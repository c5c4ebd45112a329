package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeops/adconnect/internal/config"
	"github.com/storeops/adconnect/internal/credential"
	apperrors "github.com/storeops/adconnect/internal/errors"
)

// newTestSnapchat points every Snapchat endpoint at the test server.
func newTestSnapchat(t *testing.T, handler http.Handler) *Snapchat {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	settings := config.ProviderSettings{
		AuthURL:  srv.URL + "/authorize",
		TokenURL: srv.URL + "/token",
		APIURL:   srv.URL + "/v1",
	}

	return NewSnapchat("snap-client", "snap-secret", settings, newTokenClient(srv.Client()), testLogger())
}

func TestSnapchat_AuthCodeURL(t *testing.T) {
	s := NewSnapchat("snap-client", "snap-secret", config.ProviderSettings{}, newTokenClient(nil), testLogger())

	u := s.AuthCodeURL("state-123", "https://ops.example.com/oauth/callback/snapchat")
	assert.Contains(t, u, snapchatAuthURL)
	assert.Contains(t, u, "client_id=snap-client")
	assert.Contains(t, u, "state=state-123")
	assert.Contains(t, u, "snapchat-marketing-api")
	assert.NotContains(t, u, "snap-secret", "client secret never appears in a browser URL")
}

func TestSnapchat_ExchangeCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "code-1", r.Form.Get("code"))
		assert.Equal(t, "snap-client", r.Form.Get("client_id"))
		w.Write([]byte(`{"access_token":"AT1","refresh_token":"RT1","expires_in":1800}`))
	})
	mux.HandleFunc("/v1/me/organizations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer AT1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"organizations":[{"organization":{"id":"org-1","ad_accounts":[
			{"id":"ad-1","name":"Brand"},{"id":"ad-2","name":"Retail"}]}}]}`))
	})

	s := newTestSnapchat(t, mux)
	grant, err := s.ExchangeCode(context.Background(), "code-1", "https://cb")
	require.NoError(t, err)

	assert.Equal(t, "AT1", grant.AccessToken)
	assert.Equal(t, "RT1", grant.RefreshToken)
	assert.Equal(t, int64(1800), grant.ExpiresIn)
	assert.Equal(t, []credential.Account{
		{ID: "ad-1", Name: "Brand"},
		{ID: "ad-2", Name: "Retail"},
	}, grant.Accounts)
}

func TestSnapchat_ExchangeCode_AccountListingFailureIsNonFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"AT1","refresh_token":"RT1","expires_in":1800}`))
	})
	mux.HandleFunc("/v1/me/organizations", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	s := newTestSnapchat(t, mux)
	grant, err := s.ExchangeCode(context.Background(), "code-1", "https://cb")
	require.NoError(t, err)
	assert.Empty(t, grant.Accounts)
}

func TestSnapchat_Refresh_RotatesRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "RT1", r.Form.Get("refresh_token"))
		w.Write([]byte(`{"access_token":"AT2","refresh_token":"RT2","expires_in":3600}`))
	})

	s := newTestSnapchat(t, mux)
	grant, err := s.Refresh(context.Background(), "RT1")
	require.NoError(t, err)

	assert.Equal(t, "AT2", grant.AccessToken)
	assert.Equal(t, "RT2", grant.RefreshToken, "rotated refresh token must be surfaced")
	assert.Equal(t, int64(3600), grant.ExpiresIn)
}

func TestSnapchat_Refresh_InvalidGrant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Token revoked"}`))
	})

	s := newTestSnapchat(t, mux)
	_, err := s.Refresh(context.Background(), "RT-revoked")
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 400, pe.StatusCode)
	assert.Equal(t, "invalid_grant", pe.Code)
	assert.Equal(t, ClassReauth, s.Classify(err))
}

func TestSnapchat_Classify(t *testing.T) {
	s := NewSnapchat("id", "secret", config.ProviderSettings{}, newTokenClient(nil), testLogger())

	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"network", &apperrors.TransientError{Err: errors.New("dial tcp")}, ClassTransient},
		{"rate limited", &Error{StatusCode: 429}, ClassTransient},
		{"server error", &Error{StatusCode: 503}, ClassTransient},
		{"invalid_grant", &Error{StatusCode: 400, Code: "invalid_grant"}, ClassReauth},
		{"unauthorized", &Error{StatusCode: 401}, ClassReauth},
		{"invalid_client", &Error{StatusCode: 400, Code: "invalid_client"}, ClassPermanent},
		{"unsupported_grant_type", &Error{StatusCode: 400, Code: "unsupported_grant_type"}, ClassPermanent},
		{"unknown 400", &Error{StatusCode: 400, Code: "something_else"}, ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Classify(tt.err))
		})
	}
}
