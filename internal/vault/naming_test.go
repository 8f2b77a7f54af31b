package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectNameRoundTrip(t *testing.T) {
	name := ObjectName("a1b2c3")
	assert.Equal(t, "vault_a1b2c3.enc", name)
	assert.True(t, IsVaultObject(name))
	assert.Equal(t, "a1b2c3", VaultIDFromObject(name))
}

func TestObjectNameNormalizesUnicode(t *testing.T) {
	// "café" in NFD (e + combining acute) and NFC (precomposed é) must
	// name the same remote object.
	nfd := "café"
	nfc := "café"

	assert.Equal(t, ObjectName(nfc), ObjectName(nfd))
	assert.Equal(t, nfc, VaultIDFromObject(ObjectName(nfd)))
}

func TestIsVaultObjectRejectsForeignNames(t *testing.T) {
	for _, name := range []string{
		"vault_.enc",    // empty ID
		"vault_abc",     // missing suffix
		"abc.enc",       // missing prefix
		"notes.txt",     // unrelated
		"",              // empty
		"vault_abc.ENC", // case matters
	} {
		assert.False(t, IsVaultObject(name), name)
		assert.Empty(t, VaultIDFromObject(name), name)
	}
}

func TestNewerComparisons(t *testing.T) {
	meta := &FileMetadata{ModifiedTime: 2000}

	assert.True(t, Newer(meta, 1000))
	assert.False(t, Newer(meta, 2000), "equal timestamps are not newer")
	assert.False(t, Newer(meta, 3000))
	assert.False(t, Newer(nil, 0), "no remote object is never newer")
}

func TestFingerprintStable(t *testing.T) {
	d := &SyncData{EncryptedData: []byte("ciphertext")}
	first := d.Fingerprint()
	assert.Len(t, first, 64)
	assert.Equal(t, first, d.Fingerprint())

	other := &SyncData{EncryptedData: []byte("different")}
	assert.NotEqual(t, first, other.Fingerprint())
}
