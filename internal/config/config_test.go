package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Empty(t, cfg.Provider)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
provider = "webdav"
device_id = "d-1"

[logging]
level = "debug"
format = "json"

[webdav]
url = "https://dav.example.com/remote.php/dav"
username = "alice"
folder = "vaults"
insecure_tls = true

[s3vault]
bucket = "backups"
region = "eu-central-1"
access_key_id = "AKIATEST"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "webdav", cfg.Provider)
	assert.Equal(t, "d-1", cfg.DeviceID)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "alice", cfg.WebDAV.Username)
	assert.True(t, cfg.WebDAV.InsecureTLS)
	assert.Equal(t, "backups", cfg.S3.Bucket)
}

func TestLoadRejectsUnknownKeyWithSuggestion(t *testing.T) {
	path := writeConfig(t, `
[webdav]
url = "https://dav.example.com"
usrename = "alice"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"usrename"`)
	assert.Contains(t, err.Error(), `"username"`)
}

func TestLoadRejectsUnknownSectionWithSuggestion(t *testing.T) {
	path := writeConfig(t, `
[webdva]
url = "https://dav.example.com"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"webdva"`)
	assert.Contains(t, err.Error(), `"webdav"`)
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	path := writeConfig(t, `providre = "webdav"`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"provider"`)
}

func TestValidateLoggingLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verbose")
}

func TestValidateUnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = "dropbox"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dropbox")
}

func TestValidateProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		mutate   func(*Config)
		wantErr  string
	}{
		{"webdav missing url", "webdav", func(c *Config) { c.WebDAV.Username = "alice" }, "url is required"},
		{"webdav bad scheme", "webdav", func(c *Config) {
			c.WebDAV.URL = "ftp://example.com"
			c.WebDAV.Username = "alice"
		}, "not a valid http(s) URL"},
		{"webdav missing username", "webdav", func(c *Config) { c.WebDAV.URL = "https://example.com" }, "username is required"},
		{"webdav ok", "webdav", func(c *Config) {
			c.WebDAV.URL = "https://example.com/dav"
			c.WebDAV.Username = "alice"
		}, ""},
		{"graphdrive missing client", "graphdrive", func(c *Config) {}, "client_id is required"},
		{"gdrive ok", "gdrive", func(c *Config) { c.GDrive.ClientID = "cid" }, ""},
		{"pkcerest missing client", "pkcerest", func(c *Config) {}, "client_id is required"},
		{"s3 missing bucket", "s3vault", func(c *Config) { c.S3.AccessKeyID = "k" }, "bucket is required"},
		{"s3 missing region and endpoint", "s3vault", func(c *Config) {
			c.S3.Bucket = "b"
			c.S3.AccessKeyID = "k"
		}, "either region or endpoint"},
		{"s3 endpoint only ok", "s3vault", func(c *Config) {
			c.S3.Bucket = "b"
			c.S3.AccessKeyID = "k"
			c.S3.Endpoint = "https://minio.local:9000"
		}, ""},
		{"unknown provider", "dropbox", func(c *Config) {}, "unknown provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := ValidateProvider(cfg, tt.provider)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolvePrecedence(t *testing.T) {
	path := writeConfig(t, `provider = "webdav"`)

	// File value wins when nothing overrides it.
	resolved, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "webdav", resolved.Provider)
	assert.Equal(t, path, resolved.Path)

	// Environment beats the file.
	resolved, err = Resolve(EnvOverrides{ConfigPath: path, Provider: "gdrive"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "gdrive", resolved.Provider)

	// CLI beats both.
	resolved, err = Resolve(
		EnvOverrides{ConfigPath: path, Provider: "gdrive"},
		CLIOverrides{Provider: "s3vault"},
	)
	require.NoError(t, err)
	assert.Equal(t, "s3vault", resolved.Provider)
}

func TestResolveRejectsUnknownProviderOverride(t *testing.T) {
	path := writeConfig(t, "")

	_, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{Provider: "dropbox"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dropbox")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.Provider = "s3vault"
	cfg.S3 = S3Config{Bucket: "backups", Region: "eu-central-1", AccessKeyID: "AKIATEST"}

	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Provider, got.Provider)
	assert.Equal(t, cfg.S3, got.S3)
}

func TestEnsureDeviceID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := DefaultConfig()

	id, err := EnsureDeviceID(cfg, path)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Persisted: a fresh load sees the same identifier.
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, id, got.DeviceID)

	// Idempotent: a second call never regenerates.
	again, err := EnsureDeviceID(got, path)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("bucket", "bucket"))
	assert.Equal(t, 1, levenshtein("buckt", "bucket"))
	assert.Equal(t, 6, levenshtein("", "bucket"))
	assert.Equal(t, "", closestMatch("zzzzzzzz", []string{"bucket", "region"}))
}
