package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// aesKeySize selects AES-256.
const aesKeySize = 32

// KeyFunc resolves a key alias to 32 key bytes. The CLI backs this with
// the OS keychain; platforms with a real hardware keystore never reach
// this cipher at all.
type KeyFunc func(keyAlias string) ([]byte, error)

// AESCipher implements Cipher with AES-256-GCM over keys resolved per
// alias. The key material itself stays behind the KeyFunc, so the
// sealed records remain unreadable without it.
type AESCipher struct {
	key KeyFunc
}

// NewAESCipher wraps a key resolver into a Cipher.
func NewAESCipher(key KeyFunc) *AESCipher {
	return &AESCipher{key: key}
}

func (c *AESCipher) gcm(keyAlias string) (cipher.AEAD, error) {
	key, err := c.key(keyAlias)
	if err != nil {
		return nil, fmt.Errorf("resolving key %s: %w", keyAlias, err)
	}

	if len(key) != aesKeySize {
		return nil, fmt.Errorf("key %s: got %d bytes, want %d", keyAlias, len(key), aesKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

func (c *AESCipher) Encrypt(keyAlias string, plaintext []byte) ([]byte, []byte, error) {
	aead, err := c.gcm(keyAlias)
	if err != nil {
		return nil, nil, err
	}

	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aead.Seal(nil, iv, plaintext, nil), iv, nil
}

func (c *AESCipher) Decrypt(keyAlias string, ciphertext, iv []byte) ([]byte, error) {
	aead, err := c.gcm(keyAlias)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("unsealing credential: %w", err)
	}

	return plaintext, nil
}

// GenerateKey returns fresh AES-256 key material for a new alias.
func GenerateKey() ([]byte, error) {
	key := make([]byte, aesKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	return key, nil
}
