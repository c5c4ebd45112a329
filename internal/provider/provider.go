// Package provider implements one adapter per advertising platform,
// translating the generic refresh and code-exchange operations into
// each platform's OAuth contract.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/storeops/adconnect/internal/config"
	"github.com/storeops/adconnect/internal/credential"
	apperrors "github.com/storeops/adconnect/internal/errors"
)

// Grant is the uniform result of a token exchange or refresh.
type Grant struct {
	AccessToken string

	// RefreshToken is set when the provider issued or rotated one.
	// When a refresh response includes a new refresh token it must
	// overwrite the stored one (Snapchat, Google Ads rotate).
	RefreshToken string

	// ExpiresIn is the token lifetime in seconds. Zero means the
	// provider reported no expiry; the token is assumed long-lived.
	ExpiresIn int64

	// Accounts are the ad accounts visible to the token, discovered
	// during code exchange. Empty for providers that expose no
	// listing at exchange time.
	Accounts []credential.Account
}

// Classification buckets a failed provider call.
type Classification int

const (
	// ClassTransient: network failure, 5xx, rate limiting. Retried
	// only by the next natural call, never by an internal loop.
	ClassTransient Classification = iota

	// ClassReauth: the provider rejected the stored grant; only a new
	// handshake can recover.
	ClassReauth

	// ClassPermanent: client misconfiguration (bad client ID or
	// secret, malformed request). Retrying cannot help until the
	// deployment is fixed.
	ClassPermanent
)

func (c Classification) String() string {
	switch c {
	case ClassReauth:
		return "reauth"
	case ClassPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Error carries the HTTP status and decoded error fields from a failed
// provider call. Message bodies are sanitized before they get here.
type Error struct {
	Provider   credential.Provider
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s token endpoint: status %d, code %q: %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s token endpoint: status %d, code %q", e.Provider, e.StatusCode, e.Code)
}

// Adapter is the uniform per-platform boundary. Implementations carry
// their platform's quirks (expiry units, rotation, error taxonomy) so
// nothing above this interface branches on the provider.
type Adapter interface {
	Name() credential.Provider

	// AuthCodeURL builds the provider authorization URL embedding the
	// anti-CSRF state and the fixed redirect URI.
	AuthCodeURL(state, redirectURI string) string

	// ExchangeCode trades a one-time authorization code for tokens and
	// the visible ad accounts.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*Grant, error)

	// Refresh obtains a fresh access token. The secret is the stored
	// refresh token for rotating providers, or the current access
	// token for Meta's re-extension exchange.
	Refresh(ctx context.Context, secret string) (*Grant, error)

	// Classify buckets an error returned by ExchangeCode or Refresh.
	Classify(err error) Classification
}

// Registry maps provider names to their configured adapter. Adding a
// platform means one adapter and one entry here; the coordinator never
// changes.
type Registry map[credential.Provider]Adapter

// For returns the adapter for p, or ErrUnknownProvider when the
// platform is unsupported or not configured.
func (r Registry) For(p credential.Provider) (Adapter, error) {
	a, ok := r[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownProvider, p)
	}
	return a, nil
}

// NewRegistry builds adapters for every provider with configured client
// credentials. httpClient may be nil, in which case a default with a
// sane timeout is used for all adapters.
func NewRegistry(cfg *config.Config, catalog config.Catalog, httpClient *http.Client, logger *slog.Logger) Registry {
	r := Registry{}
	tc := newTokenClient(httpClient)

	if cfg.SnapchatClientID != "" {
		r[credential.ProviderSnapchat] = NewSnapchat(cfg.SnapchatClientID, cfg.SnapchatClientSecret, catalog["snapchat"], tc, logger)
	}
	if cfg.TikTokAppID != "" {
		r[credential.ProviderTikTok] = NewTikTok(cfg.TikTokAppID, cfg.TikTokAppSecret, catalog["tiktok"], tc, logger)
	}
	if cfg.MetaAppID != "" {
		r[credential.ProviderMeta] = NewMeta(cfg.MetaAppID, cfg.MetaAppSecret, catalog["meta"], tc, logger)
	}
	if cfg.GoogleClientID != "" {
		r[credential.ProviderGoogleAds] = NewGoogleAds(cfg.GoogleClientID, cfg.GoogleClientSecret, catalog["google_ads"], tc, logger)
	}

	return r
}
