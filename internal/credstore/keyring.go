package credstore

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// keyringService is the OS keyring service name for all sync credentials.
const keyringService = "genpwd-sync"

// KeyringBackend stores encrypted credential records in the operating
// system keyring (Secret Service, Keychain, Credential Manager).
type KeyringBackend struct {
	service string
}

// NewKeyringBackend returns a Backend over the OS keyring.
func NewKeyringBackend() *KeyringBackend {
	return &KeyringBackend{service: keyringService}
}

func (b *KeyringBackend) Set(key string, data []byte) error {
	// Keyring values are strings; some keyrings mangle raw bytes.
	if err := keyring.Set(b.service, key, base64.StdEncoding.EncodeToString(data)); err != nil {
		return fmt.Errorf("credstore: keyring set: %w", err)
	}

	return nil
}

func (b *KeyringBackend) Get(key string) ([]byte, error) {
	val, err := keyring.Get(b.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrEntryNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("credstore: keyring get: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(val)
	if err != nil {
		// Treat undecodable keyring content as a corrupt entry.
		return []byte(val), nil
	}

	return data, nil
}

func (b *KeyringBackend) Delete(key string) error {
	err := keyring.Delete(b.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("credstore: keyring delete: %w", err)
	}

	return nil
}
