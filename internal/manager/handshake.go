package manager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/storeops/adconnect/internal/credential"
	apperrors "github.com/storeops/adconnect/internal/errors"
)

// stateBytes is the entropy of a handshake state token; 24 bytes hex
// encodes to 48 characters.
const stateBytes = 24

// StartAuth begins the browser handshake for an entity and provider.
// It persists a single-use state token bound to the entity and returns
// the provider authorization URL to redirect the user to.
func (m *Manager) StartAuth(_ context.Context, entityID string, p credential.Provider) (string, error) {
	adapter, err := m.registry.For(p)
	if err != nil {
		return "", err
	}

	state, err := randomHex(stateBytes)
	if err != nil {
		return "", fmt.Errorf("generating state token: %w", err)
	}

	redirectURI := m.redirectURI(p)
	now := m.now()
	if err := m.store.SaveAuthState(&credential.AuthState{
		State:       state,
		EntityID:    entityID,
		Provider:    p,
		RedirectURI: redirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.stateTTL),
	}); err != nil {
		return "", err
	}

	return adapter.AuthCodeURL(state, redirectURI), nil
}

// CompleteAuth finishes the handshake after the provider redirects
// back. The state token is consumed before any network call, so a
// replayed callback fails with ErrInvalidState regardless of whether
// the first attempt succeeded. p is the provider named by the callback
// path; a state issued for a different provider is rejected.
func (m *Manager) CompleteAuth(ctx context.Context, p credential.Provider, code, state string) (*credential.Credential, error) {
	st, err := m.store.ConsumeAuthState(state)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperrors.ErrInvalidState
	}
	if st.Provider != p {
		return nil, fmt.Errorf("state issued for %s presented on the %s callback: %w", st.Provider, p, apperrors.ErrInvalidState)
	}

	adapter, err := m.registry.For(st.Provider)
	if err != nil {
		return nil, err
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.providerTimeout)
	defer cancel()

	grant, err := adapter.ExchangeCode(fctx, code, st.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("completing %s handshake: %w", st.Provider, err)
	}

	cred := &credential.Credential{
		EntityID:          st.EntityID,
		Provider:          st.Provider,
		AccountCandidates: grant.Accounts,
	}
	if err := m.applyGrant(cred, m.keys.For(st.Provider), grant); err != nil {
		return nil, err
	}

	m.logger.Info("handshake completed",
		"entity_id", st.EntityID,
		"provider", string(st.Provider),
		"account_candidates", len(grant.Accounts),
	)

	return cred, nil
}

// SelectAccount binds one advertiser account to the connection. When
// the handshake surfaced candidates the chosen ID must be one of them;
// account selection is always an explicit caller step, even with a
// single candidate.
func (m *Manager) SelectAccount(_ context.Context, entityID string, p credential.Provider, accountID, accountName string) error {
	cred, err := m.store.Get(entityID, p)
	if err != nil {
		return err
	}
	if cred == nil || cred.Status == credential.StatusDisconnected {
		return apperrors.ErrNotConnected
	}
	if !cred.HasCandidate(accountID) {
		return fmt.Errorf("account %q: %w", accountID, apperrors.ErrUnknownAccount)
	}

	cred.SelectedAccountID = accountID
	cred.SelectedAccountName = accountName

	return m.store.Upsert(cred)
}

// redirectURI derives the provider callback URL from the public base
// URL. Every provider app must whitelist exactly this path.
func (m *Manager) redirectURI(p credential.Provider) string {
	return strings.TrimSuffix(m.externalURL, "/") + "/oauth/callback/" + string(p)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
