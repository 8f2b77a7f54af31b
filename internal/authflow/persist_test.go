package authflow

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jbombled/genpwd-sync/internal/credstore"
	"github.com/jbombled/genpwd-sync/internal/vault"
)

// nopCipher passes plaintext through. Keeper behavior under test is
// persistence plumbing, not cryptography.
type nopCipher struct{}

func (nopCipher) Encrypt(_ string, plaintext []byte) ([]byte, []byte, error) {
	return plaintext, []byte("iv"), nil
}

func (nopCipher) Decrypt(_ string, ciphertext, _ []byte) ([]byte, error) {
	return ciphertext, nil
}

// mapBackend is an in-memory credstore.Backend.
type mapBackend struct {
	entries map[string][]byte
}

func newMapBackend() *mapBackend {
	return &mapBackend{entries: map[string][]byte{}}
}

func (b *mapBackend) Set(key string, data []byte) error {
	b.entries[key] = data
	return nil
}

func (b *mapBackend) Get(key string) ([]byte, error) {
	data, ok := b.entries[key]
	if !ok {
		return nil, credstore.ErrEntryNotFound
	}

	return data, nil
}

func (b *mapBackend) Delete(key string) error {
	delete(b.entries, key)
	return nil
}

func newTestKeeper(t *testing.T, backend *mapBackend) *Keeper {
	t.Helper()

	m := newTestManager(t, nil)
	creds := credstore.New("pkcerest", nopCipher{}, backend, nil, slog.Default())

	return NewKeeper(m, creds, "oauth", slog.Default())
}

func TestKeeperHasSessionEmpty(t *testing.T) {
	k := newTestKeeper(t, newMapBackend())

	assert.False(t, k.HasSession())
}

func TestKeeperRestoresPersistedToken(t *testing.T) {
	backend := newMapBackend()

	first := newTestKeeper(t, backend)
	first.Persist(&oauth2.Token{AccessToken: "persisted", TokenType: "Bearer"})

	// A fresh Keeper over the same store restores without re-running
	// the browser flow.
	second := newTestKeeper(t, backend)
	require.True(t, second.HasSession())

	bearer, err := second.Bearer()
	require.NoError(t, err)
	assert.Equal(t, "persisted", bearer)
}

func TestKeeperBearerWithoutSession(t *testing.T) {
	k := newTestKeeper(t, newMapBackend())

	_, err := k.Bearer()
	require.Error(t, err)
	assert.True(t, errors.Is(err, vault.ErrAuthExpired))

	var verr *vault.Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "pkcerest", verr.Provider)
}

func TestKeeperPersistNilTokenIsNoop(t *testing.T) {
	backend := newMapBackend()
	k := newTestKeeper(t, backend)

	k.Persist(nil)

	assert.Empty(t, backend.entries)
}

func TestKeeperRefreshReseals(t *testing.T) {
	backend := newMapBackend()
	k := newTestKeeper(t, backend)

	// Expired access token with a refresh token forces the source to
	// hit the token endpoint on first use.
	k.Persist(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-me",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	})
	require.True(t, k.HasSession())

	bearer, err := k.Bearer()
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", bearer)

	// The refreshed token replaced the stale one in the store.
	restored := newTestKeeper(t, backend)
	require.True(t, restored.HasSession())

	bearer, err = restored.Bearer()
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", bearer)
}

func TestKeeperResetKeepsPersistedCredential(t *testing.T) {
	backend := newMapBackend()
	k := newTestKeeper(t, backend)

	k.Persist(&oauth2.Token{AccessToken: "persisted", TokenType: "Bearer"})
	require.True(t, k.HasSession())

	k.Reset()

	// The encrypted record survives Reset; only the live session drops.
	// HasSession restores it on demand.
	assert.True(t, k.HasSession())
	assert.NotEmpty(t, backend.entries)
}
