package credstore

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackendRoundTrip(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "creds"))

	require.NoError(t, b.Set("webdav_v1", []byte("payload")))

	got, err := b.Get("webdav_v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestFileBackendOverwrite(t *testing.T) {
	b := NewFileBackend(t.TempDir())

	require.NoError(t, b.Set("k", []byte("one")))
	require.NoError(t, b.Set("k", []byte("two")))

	got, err := b.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestFileBackendMissing(t *testing.T) {
	b := NewFileBackend(t.TempDir())

	_, err := b.Get("absent")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	assert.NoError(t, b.Delete("absent"))
}

func TestFileBackendDelete(t *testing.T) {
	b := NewFileBackend(t.TempDir())

	require.NoError(t, b.Set("k", []byte("x")))
	require.NoError(t, b.Delete("k"))

	_, err := b.Get("k")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestFileBackendPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}

	dir := filepath.Join(t.TempDir(), "creds")
	b := NewFileBackend(dir)

	require.NoError(t, b.Set("k", []byte("x")))

	info, err := os.Stat(filepath.Join(dir, "k.cred"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePerms), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(dirPerms), dirInfo.Mode().Perm())
}

func TestFileBackendNoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(dir)

	require.NoError(t, b.Set("k", []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k.cred", entries[0].Name())
}
