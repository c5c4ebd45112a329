// Package secret seals token material before it reaches durable
// storage and opens it again at the point of use.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/unicode/norm"

	"github.com/storeops/adconnect/internal/credential"
	apperrors "github.com/storeops/adconnect/internal/errors"
)

const (
	// keyLen is the AES-256 key length in bytes. Configured secrets of
	// any length are stretched to exactly this size; short secrets are
	// never truncated or zero-padded into weak keys.
	keyLen = 32

	// hkdfInfo domain-separates token-sealing keys from any other use
	// of the same configured secret.
	hkdfInfo = "adconnect token sealing v1"
)

// Codec encrypts and decrypts token strings with AES-256-GCM. A fresh
// random nonce is generated per call and prepended to the ciphertext,
// so sealing the same plaintext twice yields different outputs.
type Codec struct {
	gcm cipher.AEAD
}

// NewCodec derives the sealing key from the configured secret via
// HKDF-SHA256 and builds the AEAD. The secret is NFKC-normalised first
// so visually identical configuration values derive the same key.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty sealing secret")
	}

	key, err := stretchKey(secret)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Codec{gcm: gcm}, nil
}

// stretchKey derives a 32-byte key from the configured secret.
func stretchKey(secret string) ([]byte, error) {
	normalised := norm.NFKC.String(secret)

	salt := sha256.Sum256([]byte(hkdfInfo))
	r := hkdf.New(sha256.New, []byte(normalised), salt[:], []byte(hkdfInfo))

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("stretching sealing key: %w", err)
	}

	return key, nil
}

// Encrypt seals a plaintext token. Output is base64([nonce][ciphertext+tag]).
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.gcm.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, len(nonce)+len(sealed))
	copy(out, nonce)
	copy(out[len(nonce):], sealed)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a sealed token. Tampered or wrong-key ciphertext fails
// with ErrDecryptionIntegrity; callers must surface that loudly, never
// treat it as a missing credential.
func (c *Codec) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", apperrors.ErrDecryptionIntegrity)
	}

	nonceSize := c.gcm.NonceSize()
	if len(data) <= nonceSize {
		return "", fmt.Errorf("ciphertext too short (%d bytes): %w", len(data), apperrors.ErrDecryptionIntegrity)
	}

	plaintext, err := c.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("opening ciphertext: %w", apperrors.ErrDecryptionIntegrity)
	}

	return string(plaintext), nil
}

// Keyring maps providers to their sealing codec. Meta tokens are sealed
// under their own key; the remaining providers share one. Which key
// serves which provider is configuration, not codec behaviour.
type Keyring struct {
	shared *Codec
	meta   *Codec
}

// NewKeyring builds the two codecs. metaSecret may equal sharedSecret
// when a deployment has not split the keys yet.
func NewKeyring(sharedSecret, metaSecret string) (*Keyring, error) {
	shared, err := NewCodec(sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("building shared codec: %w", err)
	}

	meta, err := NewCodec(metaSecret)
	if err != nil {
		return nil, fmt.Errorf("building meta codec: %w", err)
	}

	return &Keyring{shared: shared, meta: meta}, nil
}

// For returns the codec that seals tokens for the given provider.
func (k *Keyring) For(p credential.Provider) *Codec {
	if p == credential.ProviderMeta {
		return k.meta
	}
	return k.shared
}
