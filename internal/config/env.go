package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "GENPWD_SYNC_CONFIG"
	EnvProvider = "GENPWD_SYNC_PROVIDER"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // GENPWD_SYNC_CONFIG: override config file path
	Provider   string // GENPWD_SYNC_PROVIDER: active provider name
}

// ReadEnvOverrides reads environment variables and returns any
// overrides found. This does not modify the Config; Resolve applies the
// relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Provider:   os.Getenv(EnvProvider),
	}
}
