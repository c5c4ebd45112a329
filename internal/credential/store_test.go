package credential

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "credentials.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func testCredential(entityID string, p Provider) *Credential {
	exp := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	return &Credential{
		EntityID:               entityID,
		Provider:               p,
		AccessTokenCiphertext:  "ct-access",
		RefreshTokenCiphertext: "ct-refresh",
		ExpiresAt:              &exp,
		Status:                 StatusConnected,
	}
}

// --- Get / Upsert ---

func TestGet_Absent(t *testing.T) {
	s := testStore(t)

	c, err := s.Get("store-1", ProviderSnapchat)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestUpsert_RoundTrip(t *testing.T) {
	s := testStore(t)

	in := testCredential("store-1", ProviderSnapchat)
	require.NoError(t, s.Upsert(in))

	out, err := s.Get("store-1", ProviderSnapchat)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "store-1", out.EntityID)
	assert.Equal(t, ProviderSnapchat, out.Provider)
	assert.Equal(t, "ct-access", out.AccessTokenCiphertext)
	assert.Equal(t, "ct-refresh", out.RefreshTokenCiphertext)
	assert.Equal(t, StatusConnected, out.Status)
	require.NotNil(t, out.ExpiresAt)
	assert.Equal(t, in.ExpiresAt.Unix(), out.ExpiresAt.Unix())
	assert.False(t, out.UpdatedAt.IsZero(), "Upsert must stamp UpdatedAt")
}

func TestUpsert_OverwritesSameKey(t *testing.T) {
	s := testStore(t)

	first := testCredential("store-1", ProviderSnapchat)
	require.NoError(t, s.Upsert(first))

	second := testCredential("store-1", ProviderSnapchat)
	second.AccessTokenCiphertext = "ct-access-2"
	require.NoError(t, s.Upsert(second))

	out, err := s.Get("store-1", ProviderSnapchat)
	require.NoError(t, err)
	assert.Equal(t, "ct-access-2", out.AccessTokenCiphertext)

	// Still exactly one row for the pair.
	all, err := s.ListByEntity("store-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGet_ProviderIsolation(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Upsert(testCredential("store-1", ProviderSnapchat)))

	c, err := s.Get("store-1", ProviderTikTok)
	require.NoError(t, err)
	assert.Nil(t, c)
}

// --- ListByEntity ---

func TestListByEntity(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Upsert(testCredential("store-1", ProviderSnapchat)))
	require.NoError(t, s.Upsert(testCredential("store-1", ProviderMeta)))
	require.NoError(t, s.Upsert(testCredential("store-2", ProviderSnapchat)))

	out, err := s.ListByEntity("store-1")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	for _, c := range out {
		assert.Equal(t, "store-1", c.EntityID)
	}
}

func TestListByEntity_PrefixDoesNotLeak(t *testing.T) {
	s := testStore(t)

	// "store-1" must not match credentials of "store-10".
	require.NoError(t, s.Upsert(testCredential("store-1", ProviderSnapchat)))
	require.NoError(t, s.Upsert(testCredential("store-10", ProviderSnapchat)))

	out, err := s.ListByEntity("store-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "store-1", out[0].EntityID)
}

// --- MarkDisconnected ---

func TestMarkDisconnected_ClearsTokens(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Upsert(testCredential("store-1", ProviderSnapchat)))
	require.NoError(t, s.MarkDisconnected("store-1", ProviderSnapchat))

	out, err := s.Get("store-1", ProviderSnapchat)
	require.NoError(t, err)
	require.NotNil(t, out, "row is kept for history")
	assert.Equal(t, StatusDisconnected, out.Status)
	assert.Empty(t, out.AccessTokenCiphertext)
	assert.Empty(t, out.RefreshTokenCiphertext)
	assert.Nil(t, out.ExpiresAt)
}

func TestMarkDisconnected_Idempotent(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Upsert(testCredential("store-1", ProviderSnapchat)))
	require.NoError(t, s.MarkDisconnected("store-1", ProviderSnapchat))
	require.NoError(t, s.MarkDisconnected("store-1", ProviderSnapchat))

	out, err := s.Get("store-1", ProviderSnapchat)
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, out.Status)
}

func TestMarkDisconnected_AbsentIsNoop(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.MarkDisconnected("nobody", ProviderMeta))

	c, err := s.Get("nobody", ProviderMeta)
	require.NoError(t, err)
	assert.Nil(t, c)
}

// --- Auth states ---

func testAuthState(state string, ttl time.Duration) *AuthState {
	now := time.Now().UTC()
	return &AuthState{
		State:       state,
		EntityID:    "store-1",
		Provider:    ProviderSnapchat,
		RedirectURI: "https://ops.example.com/oauth/callback/snapchat",
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func TestConsumeAuthState_SingleUse(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.SaveAuthState(testAuthState("abc123", 10*time.Minute)))

	st, err := s.ConsumeAuthState("abc123")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "store-1", st.EntityID)
	assert.Equal(t, ProviderSnapchat, st.Provider)

	// Second consume must fail: delete-on-read.
	st, err = s.ConsumeAuthState("abc123")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestConsumeAuthState_Unknown(t *testing.T) {
	s := testStore(t)

	st, err := s.ConsumeAuthState("never-issued")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestConsumeAuthState_Expired(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.SaveAuthState(testAuthState("stale", -time.Minute)))

	st, err := s.ConsumeAuthState("stale")
	require.NoError(t, err)
	assert.Nil(t, st)

	// Expired consume still deletes the record.
	st, err = s.ConsumeAuthState("stale")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestConsumeAuthState_ExpiryBoundary(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		at       time.Time
		wantLive bool
	}{
		{"before expiry", base.Add(10*time.Minute - time.Second), true},
		{"at expiry", base.Add(10 * time.Minute), true},
		{"past expiry", base.Add(10*time.Minute + time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testStore(t)
			s.now = func() time.Time { return base }

			require.NoError(t, s.SaveAuthState(&AuthState{
				State:     "boundary",
				EntityID:  "store-1",
				Provider:  ProviderSnapchat,
				CreatedAt: base,
				ExpiresAt: base.Add(10 * time.Minute),
			}))

			s.now = func() time.Time { return tt.at }
			st, err := s.ConsumeAuthState("boundary")
			require.NoError(t, err)
			if tt.wantLive {
				assert.NotNil(t, st)
			} else {
				assert.Nil(t, st)
			}
		})
	}
}

func TestUpsert_StampsInjectedClock(t *testing.T) {
	s := testStore(t)
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return stamp }

	require.NoError(t, s.Upsert(&Credential{
		EntityID: "store-1",
		Provider: ProviderSnapchat,
		Status:   StatusConnected,
	}))

	c, err := s.Get("store-1", ProviderSnapchat)
	require.NoError(t, err)
	assert.Equal(t, stamp, c.UpdatedAt)
}

func TestPurgeExpiredAuthStates(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.SaveAuthState(testAuthState("live", 10*time.Minute)))
	require.NoError(t, s.SaveAuthState(testAuthState("dead-1", -time.Minute)))
	require.NoError(t, s.SaveAuthState(testAuthState("dead-2", -time.Hour)))

	n, err := s.PurgeExpiredAuthStates(time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := s.ConsumeAuthState("live")
	require.NoError(t, err)
	assert.NotNil(t, st, "unexpired state must survive the purge")
}

// --- HasCandidate ---

func TestHasCandidate(t *testing.T) {
	c := &Credential{
		AccountCandidates: []Account{{ID: "adv-1"}, {ID: "adv-2", Name: "Main"}},
	}
	assert.True(t, c.HasCandidate("adv-1"))
	assert.True(t, c.HasCandidate("adv-2"))
	assert.False(t, c.HasCandidate("adv-3"))

	// No candidate list recorded: any id is accepted.
	open := &Credential{}
	assert.True(t, open.HasCandidate("anything"))
}

func TestParseProvider(t *testing.T) {
	for _, p := range Providers() {
		got, err := ParseProvider(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParseProvider("twitter")
	assert.Error(t, err)
}
