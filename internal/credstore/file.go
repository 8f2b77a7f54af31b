package credstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Permissions for credential files and their directory.
const (
	filePerms = 0o600
	dirPerms  = 0o700
)

// FileBackend stores encrypted credential records as files under one
// directory, for platforms without a usable OS keyring. Records are
// already sealed by the hardware cipher; the file layer adds atomic
// writes and owner-only permissions.
type FileBackend struct {
	dir string
}

// NewFileBackend returns a Backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, key+".cred")
}

// Set writes atomically: temp file in the same directory, fsync, rename.
// Same directory guarantees same filesystem for rename(2).
func (b *FileBackend) Set(key string, data []byte) error {
	if err := os.MkdirAll(b.dir, dirPerms); err != nil {
		return fmt.Errorf("credstore: creating directory %s: %w", b.dir, err)
	}

	tmp, err := os.CreateTemp(b.dir, ".cred-*.tmp")
	if err != nil {
		return fmt.Errorf("credstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, b.path(key)); err != nil {
		return fmt.Errorf("credstore: renaming: %w", err)
	}

	success = true

	return nil
}

func (b *FileBackend) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrEntryNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("credstore: reading %s: %w", key, err)
	}

	return data, nil
}

func (b *FileBackend) Delete(key string) error {
	err := os.Remove(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("credstore: removing %s: %w", key, err)
	}

	return nil
}
