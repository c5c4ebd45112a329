// Package credential defines the stored model for ad-platform
// connections and the durable store that holds them.
package credential

import (
	"fmt"
	"time"
)

// Provider identifies one of the supported advertising platforms.
type Provider string

const (
	ProviderSnapchat  Provider = "snapchat"
	ProviderTikTok    Provider = "tiktok"
	ProviderMeta      Provider = "meta"
	ProviderGoogleAds Provider = "google_ads"
)

// Providers lists every supported provider in a stable order.
func Providers() []Provider {
	return []Provider{ProviderSnapchat, ProviderTikTok, ProviderMeta, ProviderGoogleAds}
}

// ParseProvider validates a provider name from an untrusted source
// (URL path, JSON body).
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	switch p {
	case ProviderSnapchat, ProviderTikTok, ProviderMeta, ProviderGoogleAds:
		return p, nil
	}
	return "", fmt.Errorf("unsupported provider %q", s)
}

// Status is the connection state of a credential.
//
// connected does not guarantee the token is valid right now; provider-side
// revocation is only discovered on use. needs_reauth means automated
// refresh cannot recover and a new handshake is required.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusNeedsReauth  Status = "needs_reauth"
	StatusError        Status = "error"
	StatusDisconnected Status = "disconnected"
)

// Account is one ad account reachable through a credential's token.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Credential is the persisted record of tokens and status for one
// (entity, provider) pair. Token fields hold ciphertext only; plaintext
// exists just long enough to be used or re-encrypted.
type Credential struct {
	EntityID string   `json:"entity_id"`
	Provider Provider `json:"provider"`

	// AccessTokenCiphertext and RefreshTokenCiphertext are sealed by
	// the secret codec. RefreshTokenCiphertext is empty for providers
	// that issue no refresh token (Meta, TikTok).
	AccessTokenCiphertext  string `json:"access_token_ciphertext,omitempty"`
	RefreshTokenCiphertext string `json:"refresh_token_ciphertext,omitempty"`

	// ExpiresAt is absent for tokens the provider reports no expiry
	// for; such tokens are assumed long-lived and revalidated on use.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Status Status `json:"status"`

	// SelectedAccountID binds the credential to exactly one ad account.
	// Empty until the explicit select-account step runs.
	SelectedAccountID   string `json:"selected_account_id,omitempty"`
	SelectedAccountName string `json:"selected_account_name,omitempty"`

	// AccountCandidates are the ad accounts discovered during the
	// handshake, offered to the dashboard for the select-account step.
	AccountCandidates []Account `json:"account_candidates,omitempty"`

	// LastError is the most recent refresh or validation failure,
	// cleared on success.
	LastError string `json:"last_error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// HasCandidate reports whether id is among the discovered ad accounts.
// A credential with no recorded candidates accepts any id, since some
// providers expose no account listing at exchange time.
func (c *Credential) HasCandidate(id string) bool {
	if len(c.AccountCandidates) == 0 {
		return true
	}
	for _, a := range c.AccountCandidates {
		if a.ID == id {
			return true
		}
	}
	return false
}

// AuthState is the ephemeral anti-CSRF record for one in-flight
// handshake. It is single-use: consumed on first read or discarded at
// expiry.
type AuthState struct {
	State       string    `json:"state"`
	EntityID    string    `json:"entity_id"`
	Provider    Provider  `json:"provider"`
	RedirectURI string    `json:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
