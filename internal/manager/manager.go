// Package manager coordinates the credential lifecycle: it decides
// when a stored token is still usable, deduplicates refreshes across
// concurrent callers, and owns every mutation of the credential row.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/storeops/adconnect/internal/credential"
	"github.com/storeops/adconnect/internal/provider"
	"github.com/storeops/adconnect/internal/secret"
)

const (
	// DefaultSafetyMargin is the lead time before true expiry at which
	// a token is refreshed proactively, so callers never race the real
	// deadline. One uniform value for every provider.
	DefaultSafetyMargin = 5 * time.Minute

	// DefaultProviderTimeout bounds each refresh or exchange flight. A
	// hung provider releases the flight (as a transient failure) at
	// this deadline instead of holding the per-key lock indefinitely.
	DefaultProviderTimeout = 15 * time.Second

	// DefaultStateTTL is how long a handshake state token stays valid.
	DefaultStateTTL = 10 * time.Minute
)

// Options tune the manager. Zero fields take the defaults above.
type Options struct {
	SafetyMargin    time.Duration
	ProviderTimeout time.Duration
	StateTTL        time.Duration

	// ExternalURL is the public base URL callbacks land on; redirect
	// URIs are derived from it.
	ExternalURL string
}

// Manager is the sole entry point consumers use to obtain usable
// tokens, and the only writer of credential rows after the handshake.
// It is safe for arbitrary concurrent use.
type Manager struct {
	store    *credential.Store
	keys     *secret.Keyring
	registry provider.Registry
	logger   *slog.Logger

	safetyMargin    time.Duration
	providerTimeout time.Duration
	stateTTL        time.Duration
	externalURL     string

	// flights deduplicates refreshes per (entity, provider) key.
	// Different keys never contend.
	flights singleflight.Group

	// now is replaceable in tests.
	now func() time.Time
}

// New builds a Manager.
func New(store *credential.Store, keys *secret.Keyring, registry provider.Registry, logger *slog.Logger, opts Options) *Manager {
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = DefaultSafetyMargin
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = DefaultStateTTL
	}

	return &Manager{
		store:           store,
		keys:            keys,
		registry:        registry,
		logger:          logger,
		safetyMargin:    opts.SafetyMargin,
		providerTimeout: opts.ProviderTimeout,
		stateTTL:        opts.StateTTL,
		externalURL:     opts.ExternalURL,
		now:             time.Now,
	}
}

// GetValidAccessToken returns a plaintext access token usable right
// now, or "" when the entity is not connected, needs re-authentication,
// or the refresh failed. Consumers must treat "" as "send the user
// through the connect flow", never retry in a loop.
//
// A non-nil error is returned only for infrastructure faults: storage
// I/O and ciphertext integrity failures. Provider and network failures
// are resolved internally and recorded on the credential row.
func (m *Manager) GetValidAccessToken(ctx context.Context, entityID string, p credential.Provider) (string, error) {
	cred, err := m.store.Get(entityID, p)
	if err != nil {
		return "", err
	}

	// No row, or a state automated refresh cannot leave: no network
	// call is made, the caller must start a handshake.
	if cred == nil || cred.Status == credential.StatusDisconnected || cred.Status == credential.StatusNeedsReauth {
		return "", nil
	}

	if m.fresh(cred) {
		return m.keys.For(p).Decrypt(cred.AccessTokenCiphertext)
	}

	// Single flight per (entity, provider): concurrent callers share
	// one refresh and one outcome. Duplicate refreshes would burn the
	// rotated refresh token another caller is about to receive.
	token, err, _ := m.flights.Do(flightKey(entityID, p), func() (any, error) {
		return m.refreshLocked(ctx, entityID, p)
	})
	if err != nil {
		return "", err
	}

	return token.(string), nil
}

// fresh reports whether the stored token can be returned without a
// refresh: either the provider reported no expiry (assumed long-lived,
// revalidated on use) or expiry is still beyond the safety margin.
func (m *Manager) fresh(cred *credential.Credential) bool {
	if cred.ExpiresAt == nil {
		return true
	}
	return m.now().Before(cred.ExpiresAt.Add(-m.safetyMargin))
}

func flightKey(entityID string, p credential.Provider) string {
	return entityID + "|" + string(p)
}

// refreshLocked performs the actual refresh. It runs inside the
// single-flight group, so at most one execution per key is in flight.
func (m *Manager) refreshLocked(ctx context.Context, entityID string, p credential.Provider) (string, error) {
	// Re-read under the flight: a caller queued behind a completed
	// refresh must see the new token, not trigger another call.
	cred, err := m.store.Get(entityID, p)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.Status == credential.StatusDisconnected || cred.Status == credential.StatusNeedsReauth {
		return "", nil
	}
	if m.fresh(cred) {
		return m.keys.For(p).Decrypt(cred.AccessTokenCiphertext)
	}

	adapter, err := m.registry.For(p)
	if err != nil {
		return "", err
	}

	codec := m.keys.For(p)

	// Rotating providers refresh with the refresh token; Meta
	// re-extends the access token itself.
	sealedSecret := cred.RefreshTokenCiphertext
	if sealedSecret == "" {
		sealedSecret = cred.AccessTokenCiphertext
	}
	if sealedSecret == "" {
		return "", nil
	}

	plainSecret, err := codec.Decrypt(sealedSecret)
	if err != nil {
		// Integrity failure is misconfiguration (rotated key without
		// re-encrypting), never masked as "not connected".
		return "", err
	}

	// The flight is detached from the caller: if the originating
	// request dies mid-refresh, the result is still persisted so
	// waiters and future callers benefit. The provider timeout is the
	// only cancellation.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.providerTimeout)
	defer cancel()

	grant, err := adapter.Refresh(fctx, plainSecret)
	if err != nil {
		return "", m.recordFailure(cred, adapter, err)
	}

	if err := m.applyGrant(cred, codec, grant); err != nil {
		return "", err
	}

	m.logger.Info("token refreshed",
		slog.String("entity_id", entityID),
		slog.String("provider", string(p)),
	)

	return grant.AccessToken, nil
}

// applyGrant re-encrypts the grant into the credential row and marks
// it connected.
func (m *Manager) applyGrant(cred *credential.Credential, codec *secret.Codec, grant *provider.Grant) error {
	sealed, err := codec.Encrypt(grant.AccessToken)
	if err != nil {
		return fmt.Errorf("sealing access token: %w", err)
	}
	cred.AccessTokenCiphertext = sealed

	// A rotated refresh token must overwrite the stored one; when the
	// provider returns none, the stored token stays valid.
	if grant.RefreshToken != "" {
		sealed, err := codec.Encrypt(grant.RefreshToken)
		if err != nil {
			return fmt.Errorf("sealing refresh token: %w", err)
		}
		cred.RefreshTokenCiphertext = sealed
	}

	if grant.ExpiresIn > 0 {
		exp := m.now().Add(time.Duration(grant.ExpiresIn) * time.Second)
		cred.ExpiresAt = &exp
	} else {
		cred.ExpiresAt = nil
	}

	cred.Status = credential.StatusConnected
	cred.LastError = ""

	return m.store.Upsert(cred)
}

// recordFailure classifies a failed refresh and persists the outcome.
// The caller still receives "" and nil error: provider failures are
// resolved here, not leaked to consumers.
func (m *Manager) recordFailure(cred *credential.Credential, adapter provider.Adapter, refreshErr error) error {
	class := adapter.Classify(refreshErr)

	switch class {
	case provider.ClassReauth:
		cred.Status = credential.StatusNeedsReauth
	case provider.ClassPermanent:
		cred.Status = credential.StatusError
	case provider.ClassTransient:
		// Status unchanged; the next natural call retries.
	}
	cred.LastError = refreshErr.Error()

	m.logger.Warn("token refresh failed",
		slog.String("entity_id", cred.EntityID),
		slog.String("provider", string(cred.Provider)),
		slog.String("class", class.String()),
		slog.String("error", refreshErr.Error()),
	)

	return m.store.Upsert(cred)
}

// Disconnect clears token material and marks the credential
// disconnected. Idempotent; a later handshake reconnects.
func (m *Manager) Disconnect(_ context.Context, entityID string, p credential.Provider) error {
	return m.store.MarkDisconnected(entityID, p)
}

// ListConnections returns the entity's credentials for dashboard
// display. Token fields are ciphertext; the HTTP layer never exposes
// them.
func (m *Manager) ListConnections(_ context.Context, entityID string) ([]*credential.Credential, error) {
	return m.store.ListByEntity(entityID)
}

// PurgeExpiredAuthStates removes stale handshake states; called by the
// janitor loop.
func (m *Manager) PurgeExpiredAuthStates(_ context.Context) (int, error) {
	return m.store.PurgeExpiredAuthStates(m.now())
}
