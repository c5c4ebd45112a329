package credential

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// storeDirPerm is the permission mode for the database directory.
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the database file. It
	// holds token ciphertext, so group/world access is never allowed.
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout is the maximum time to wait for the bolt
	// database lock.
	storeOpenTimeout = 5 * time.Second
)

var (
	credentialsBucket = []byte("credentials")
	authStatesBucket  = []byte("oauth_states")
)

// credentialKey builds the bbolt key for an (entity, provider) pair.
// The pipe separator cannot appear in provider names, so prefix scans
// on "entity|" never leak across entities.
func credentialKey(entityID string, p Provider) []byte {
	return []byte(entityID + "|" + string(p))
}

// Store persists credentials and handshake state tokens in bbolt.
// The (entity, provider) key is the bucket key, which enforces the
// at-most-one-credential invariant structurally.
type Store struct {
	db *bolt.DB

	// now is replaceable in tests.
	now func() time.Time
}

// Open opens the store at path, creating the file and its parent
// directory if needed. Buckets are created on open.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening credential db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(credentialsBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(authStatesBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing credential db: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the credential for (entityID, p), or nil if none exists.
func (s *Store) Get(entityID string, p Provider) (*Credential, error) {
	var c *Credential

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(credentialsBucket).Get(credentialKey(entityID, p))
		if v == nil {
			return nil
		}

		c = &Credential{}

		return json.Unmarshal(v, c)
	})
	if err != nil {
		return nil, fmt.Errorf("reading credential: %w", err)
	}

	return c, nil
}

// Upsert writes the credential whole, stamping UpdatedAt. Callers
// always read-modify-write complete records; there are no partial
// field patches.
func (s *Store) Upsert(c *Credential) error {
	c.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Put(credentialKey(c.EntityID, c.Provider), data)
	})
	if err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}

	return nil
}

// ListByEntity returns every credential owned by an entity, in
// provider-key order.
func (s *Store) ListByEntity(entityID string) ([]*Credential, error) {
	var out []*Credential
	prefix := []byte(entityID + "|")

	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(credentialsBucket).Cursor()
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			c := &Credential{}
			if err := json.Unmarshal(v, c); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	return out, nil
}

// MarkDisconnected clears token material and sets status disconnected.
// The row is kept (not deleted) to preserve connection history. It is
// idempotent and a no-op when no credential exists.
func (s *Store) MarkDisconnected(entityID string, p Provider) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		key := credentialKey(entityID, p)

		v := b.Get(key)
		if v == nil {
			return nil
		}

		c := &Credential{}
		if err := json.Unmarshal(v, c); err != nil {
			return err
		}

		c.AccessTokenCiphertext = ""
		c.RefreshTokenCiphertext = ""
		c.ExpiresAt = nil
		c.Status = StatusDisconnected
		c.LastError = ""
		c.UpdatedAt = s.now().UTC()

		data, err := json.Marshal(c)
		if err != nil {
			return err
		}

		return b.Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("disconnecting credential: %w", err)
	}

	return nil
}

// SaveAuthState persists a handshake state token.
func (s *Store) SaveAuthState(st *AuthState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding auth state: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authStatesBucket).Put([]byte(st.State), data)
	})
	if err != nil {
		return fmt.Errorf("writing auth state: %w", err)
	}

	return nil
}

// ConsumeAuthState retrieves and deletes a state token in one
// transaction, so a replayed callback can never observe it twice.
// Returns nil when the token is unknown or expired.
func (s *Store) ConsumeAuthState(state string) (*AuthState, error) {
	var st *AuthState

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(authStatesBucket)

		v := b.Get([]byte(state))
		if v == nil {
			return nil
		}

		if err := b.Delete([]byte(state)); err != nil {
			return err
		}

		parsed := &AuthState{}
		if err := json.Unmarshal(v, parsed); err != nil {
			return err
		}

		if s.now().After(parsed.ExpiresAt) {
			return nil
		}

		st = parsed

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("consuming auth state: %w", err)
	}

	return st, nil
}

// PurgeExpiredAuthStates removes state tokens past their expiry and
// returns how many were deleted. Called periodically by the janitor.
func (s *Store) PurgeExpiredAuthStates(now time.Time) (int, error) {
	purged := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(authStatesBucket)

		var stale [][]byte
		cur := b.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			st := &AuthState{}
			if err := json.Unmarshal(v, st); err != nil {
				// Unreadable entries are dropped rather than kept forever.
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			if now.After(st.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		purged = len(stale)

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purging auth states: %w", err)
	}

	return purged, nil
}
