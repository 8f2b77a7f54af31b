// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for genpwd-sync. It supports a
// three-layer override chain (defaults -> config file -> environment ->
// CLI flags) and strict unknown-key detection with "did you mean?"
// suggestions. Secrets never live here: passwords, tokens and secret
// keys are held by the encrypted credential store, and the config file
// carries only the non-secret halves of each provider's settings.
package config

// Config is the top-level structure parsed from a TOML file. Each
// provider gets its own section; only the active one is validated.
type Config struct {
	Provider string `toml:"provider"`
	DeviceID string `toml:"device_id"`

	Logging LoggingConfig `toml:"logging"`

	WebDAV WebDAVConfig `toml:"webdav"`
	Graph  GraphConfig  `toml:"graphdrive"`
	GDrive GDriveConfig `toml:"gdrive"`
	REST   RESTConfig   `toml:"pkcerest"`
	S3     S3Config     `toml:"s3vault"`
}

// LoggingConfig controls log verbosity and destination.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// WebDAVConfig selects a WebDAV endpoint. The password is stored
// encrypted by the credential store, never here.
type WebDAVConfig struct {
	URL         string `toml:"url"`
	Username    string `toml:"username"`
	Folder      string `toml:"folder"`
	InsecureTLS bool   `toml:"insecure_tls"`
}

// GraphConfig holds the registered Microsoft identity client.
type GraphConfig struct {
	ClientID string `toml:"client_id"`
}

// GDriveConfig holds the registered Google API client. The client
// secret of an installed app is not a user secret; Google documents it
// as embeddable.
type GDriveConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// RESTConfig selects the PKCE-REST backend endpoint and client.
type RESTConfig struct {
	BaseURL  string `toml:"base_url"`
	ClientID string `toml:"client_id"`
	Folder   string `toml:"folder"`
}

// S3Config selects a bucket. The secret access key is stored encrypted
// by the credential store, never here.
type S3Config struct {
	Bucket       string `toml:"bucket"`
	Prefix       string `toml:"prefix"`
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	AccessKeyID  string `toml:"access_key_id"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
