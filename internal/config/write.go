package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// configFilePermissions keeps the file owner-only: it carries account
// identifiers even though secrets live elsewhere.
const configFilePermissions = 0o600

// configDirPermissions is the permission mode for config directories.
const configDirPermissions = 0o700

// Save marshals the config and writes it atomically.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer

	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return atomicWriteFile(path, buf.Bytes())
}

// EnsureDeviceID fills in a stable device identifier on first run and
// persists it, so uploads from this machine are attributable. Returns
// the identifier either way.
func EnsureDeviceID(cfg *Config, path string) (string, error) {
	if cfg.DeviceID != "" {
		return cfg.DeviceID, nil
	}

	cfg.DeviceID = uuid.NewString()

	if err := Save(cfg, path); err != nil {
		return "", fmt.Errorf("persisting device id: %w", err)
	}

	return cfg.DeviceID, nil
}

// atomicWriteFile writes data to a temporary file in the same directory
// as path, then renames it into place. This prevents partial writes
// from corrupting the config file on crash. Parent directories are
// created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
