// Package errors defines the error taxonomy shared by the credential
// manager and its HTTP surface.
package errors

import "errors"

// Credential lifecycle errors.
var (
	// ErrNotConnected means no credential exists for the entity and
	// provider. The caller must start a new handshake.
	ErrNotConnected = errors.New("no credential for entity and provider")

	// ErrReauthRequired means the provider rejected the stored refresh
	// token; only a fresh handshake can recover.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrInvalidState means the OAuth state token on a callback was
	// missing, expired, or already consumed.
	ErrInvalidState = errors.New("invalid or replayed oauth state")

	// ErrUnknownProvider means the provider name is not one of the
	// configured adapters.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnknownAccount means a selected account ID is not among the
	// candidates discovered during the handshake.
	ErrUnknownAccount = errors.New("account not offered by provider")
)

// ErrDecryptionIntegrity means stored ciphertext failed AEAD
// authentication. This indicates key rotation without re-encryption or
// tampered storage, and is never masked as a missing credential.
var ErrDecryptionIntegrity = errors.New("ciphertext failed authentication")

// TransientError wraps an error that is likely temporary and safe to
// retry on the next natural call (network failure, 5xx, rate limiting).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
