// Package credstore persists cloud sync credentials in encrypted form.
// Plaintext secrets never touch a persistent store: each secret is
// sealed by a platform-provided hardware cipher into an
// EncryptedCredential, the only shape ever written. The cipher key is
// dedicated to sync credentials and distinct from the key protecting
// vault contents.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrEntryNotFound is returned by Backend implementations for a missing
// entry.
var ErrEntryNotFound = errors.New("credstore: entry not found")

// Cipher is the platform secure-storage primitive: hardware-backed
// sealing of a byte blob under a named key alias. Consumed here, never
// implemented — Android Keystore, DPAPI, and the test fake all satisfy
// it.
type Cipher interface {
	Encrypt(keyAlias string, plaintext []byte) (ciphertext, iv []byte, err error)
	Decrypt(keyAlias string, ciphertext, iv []byte) ([]byte, error)
}

// Backend stores opaque encrypted records keyed by entry name. Get
// returns ErrEntryNotFound for missing entries; Delete of a missing
// entry is a no-op.
type Backend interface {
	Set(key string, data []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
}

// EncryptedCredential is the persisted record. It is unreadable without
// the hardware key referenced by KeyAlias.
type EncryptedCredential struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	KeyAlias   string `json:"key_alias"`
}

// Store manages credentials for one provider namespace. One vault has at
// most one credential per provider; entries are keyed
// "<provider>_<vaultID>".
type Store struct {
	provider string
	keyAlias string
	cipher   Cipher
	backend  Backend
	unlocked func() bool
	logger   *slog.Logger
}

// New creates a Store. unlocked gates all secret reads: until it reports
// true no secret is readable, independent of device lock state. A nil
// unlocked means always unlocked.
func New(provider string, cipher Cipher, backend Backend, unlocked func() bool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		provider: provider,
		// Dedicated key alias — sync credentials and vault contents
		// must not share a key.
		keyAlias: "genpwd.sync." + provider,
		cipher:   cipher,
		backend:  backend,
		unlocked: unlocked,
		logger:   logger,
	}
}

func (s *Store) entryKey(vaultID string) string {
	return s.provider + "_" + vaultID
}

// PersistSecret seals and stores a secret for one vault. Returns false
// on any failure; it never panics and never retries — encryption failure
// here means missing or broken key material, not a transient condition.
func (s *Store) PersistSecret(vaultID, secret string) bool {
	ciphertext, iv, err := s.cipher.Encrypt(s.keyAlias, []byte(secret))
	if err != nil {
		s.logger.Error("failed to encrypt sync credential",
			slog.String("provider", s.provider),
			slog.String("error", err.Error()),
		)

		return false
	}

	rec := EncryptedCredential{Ciphertext: ciphertext, IV: iv, KeyAlias: s.keyAlias}

	data, err := json.Marshal(rec)
	if err != nil {
		return false
	}

	if err := s.backend.Set(s.entryKey(vaultID), data); err != nil {
		s.logger.Error("failed to persist sync credential",
			slog.String("provider", s.provider),
			slog.String("error", err.Error()),
		)

		return false
	}

	return true
}

// Secret decrypts and returns the stored secret for a vault. Returns
// ok=false when the store is locked, the entry is absent, or the payload
// cannot be decrypted. A structurally corrupt entry is deleted before
// returning — fail closed, never surface a partial secret.
func (s *Store) Secret(vaultID string) (string, bool) {
	if s.unlocked != nil && !s.unlocked() {
		return "", false
	}

	key := s.entryKey(vaultID)

	data, err := s.backend.Get(key)
	if errors.Is(err, ErrEntryNotFound) {
		return "", false
	}

	if err != nil {
		s.logger.Warn("failed to read sync credential",
			slog.String("provider", s.provider),
			slog.String("error", err.Error()),
		)

		return "", false
	}

	var rec EncryptedCredential
	if err := json.Unmarshal(data, &rec); err != nil || len(rec.Ciphertext) == 0 || rec.KeyAlias == "" {
		s.logger.Warn("deleting corrupt sync credential",
			slog.String("provider", s.provider),
		)

		_ = s.backend.Delete(key)

		return "", false
	}

	plaintext, err := s.cipher.Decrypt(rec.KeyAlias, rec.Ciphertext, rec.IV)
	if err != nil {
		s.logger.Warn("failed to decrypt sync credential",
			slog.String("provider", s.provider),
			slog.String("error", err.Error()),
		)

		return "", false
	}

	return string(plaintext), true
}

// ClearSecret removes the stored credential for a vault. Clearing an
// absent entry is not an error.
func (s *Store) ClearSecret(vaultID string) {
	if err := s.backend.Delete(s.entryKey(vaultID)); err != nil && !errors.Is(err, ErrEntryNotFound) {
		s.logger.Warn("failed to clear sync credential",
			slog.String("provider", s.provider),
			slog.String("error", err.Error()),
		)
	}
}

// PersistJSON seals an arbitrary value (an OAuth token, a WebDAV
// credential pair) as its JSON encoding.
func (s *Store) PersistJSON(vaultID string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}

	return s.PersistSecret(vaultID, string(data))
}

// LoadJSON decrypts a stored secret and unmarshals it into out.
func (s *Store) LoadJSON(vaultID string, out any) bool {
	secret, ok := s.Secret(vaultID)
	if !ok {
		return false
	}

	if err := json.Unmarshal([]byte(secret), out); err != nil {
		s.logger.Warn("stored sync credential has unexpected shape",
			slog.String("provider", s.provider),
			slog.String("error", fmt.Sprintf("%v", err)),
		)

		return false
	}

	return true
}
