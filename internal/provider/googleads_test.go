package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeops/adconnect/internal/config"
	"github.com/storeops/adconnect/internal/credential"
)

func newTestGoogleAds(t *testing.T, handler http.Handler) *GoogleAds {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	settings := config.ProviderSettings{
		AuthURL:  srv.URL + "/auth",
		TokenURL: srv.URL + "/token",
	}

	return NewGoogleAds("g-client", "g-secret", settings, newTokenClient(srv.Client()), testLogger())
}

func TestGoogleAds_AuthCodeURL_OfflineConsent(t *testing.T) {
	g := NewGoogleAds("g-client", "g-secret", config.ProviderSettings{}, newTokenClient(nil), testLogger())

	u := g.AuthCodeURL("state-5", "https://ops.example.com/oauth/callback/google_ads")
	assert.Contains(t, u, googleAuthURL)
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "prompt=consent")
	assert.Contains(t, u, "adwords")
}

func TestGoogleAds_ExchangeCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		w.Write([]byte(`{"access_token":"G-AT1","refresh_token":"G-RT1","expires_in":3599}`))
	})

	g := newTestGoogleAds(t, mux)
	grant, err := g.ExchangeCode(context.Background(), "code-1", "https://cb")
	require.NoError(t, err)

	assert.Equal(t, "G-AT1", grant.AccessToken)
	assert.Equal(t, "G-RT1", grant.RefreshToken)
	assert.Equal(t, int64(3599), grant.ExpiresIn)
	assert.Empty(t, grant.Accounts, "customer listing needs the Ads API; none at exchange time")
}

func TestGoogleAds_Refresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "G-RT1", r.Form.Get("refresh_token"))
		// Google usually returns no refresh_token on refresh; the
		// stored one stays valid.
		w.Write([]byte(`{"access_token":"G-AT2","expires_in":3599}`))
	})

	g := newTestGoogleAds(t, mux)
	grant, err := g.Refresh(context.Background(), "G-RT1")
	require.NoError(t, err)

	assert.Equal(t, "G-AT2", grant.AccessToken)
	assert.Empty(t, grant.RefreshToken)
}

func TestGoogleAds_Classify(t *testing.T) {
	g := NewGoogleAds("g-client", "g-secret", config.ProviderSettings{}, newTokenClient(nil), testLogger())

	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"revoked", &Error{StatusCode: 400, Code: "invalid_grant"}, ClassReauth},
		{"bad client", &Error{StatusCode: 401, Code: "invalid_client"}, ClassPermanent},
		{"bad scope", &Error{StatusCode: 400, Code: "invalid_scope"}, ClassPermanent},
		{"rate limited", &Error{StatusCode: 429}, ClassTransient},
		{"backend error", &Error{StatusCode: 500}, ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Classify(tt.err))
		})
	}
}

func TestRegistry_For(t *testing.T) {
	cfg := &config.Config{
		SnapchatClientID:     "snap-client",
		SnapchatClientSecret: "snap-secret",
		GoogleClientID:       "g-client",
		GoogleClientSecret:   "g-secret",
	}

	r := NewRegistry(cfg, config.Catalog{}, nil, testLogger())

	a, err := r.For(credential.ProviderSnapchat)
	require.NoError(t, err)
	assert.Equal(t, credential.ProviderSnapchat, a.Name())

	// TikTok has no app ID configured, so it is not registered.
	_, err = r.For(credential.ProviderTikTok)
	assert.Error(t, err)
}
