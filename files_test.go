package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbombled/genpwd-sync/internal/vault"
)

func TestVaultIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"personal.vault", "personal"},
		{"/home/user/vaults/work.enc", "work"},
		{"plain", "plain"},
		{"dotted.name.vault", "dotted.name"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, vaultIDFromPath(tt.path), "vaultIDFromPath(%q)", tt.path)
	}
}

func TestNextVersion(t *testing.T) {
	assert.Equal(t, 1, nextVersion(nil))
	assert.Equal(t, 4, nextVersion(&vault.FileMetadata{Version: "3"}))
	// Opaque version strings (Graph etags) restart the local counter.
	assert.Equal(t, 1, nextVersion(&vault.FileMetadata{Version: "\"{E2A6}\""}))
	assert.Equal(t, 1, nextVersion(&vault.FileMetadata{}))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "personal.vault")

	require.NoError(t, writeFileAtomic(path, []byte("ciphertext")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Overwrite goes through the same path.
	require.NoError(t, writeFileAtomic(path, []byte("v2")))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
