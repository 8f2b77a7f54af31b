package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns
// the resulting Config. Unknown keys are fatal errors with "did you
// mean?" suggestions — silently ignoring a typo in a config file leads
// to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise
// returns a Config populated with all default values. This supports the
// zero-config first run: login can write the file afterwards.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// CLIOverrides holds values from command-line flags. Empty fields mean
// "not specified".
type CLIOverrides struct {
	ConfigPath string
	Provider   string
}

// Resolved is a fully loaded configuration plus the path it came from,
// so write-backs land on the file that was read.
type Resolved struct {
	*Config

	Path string
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// CLI flags always win, matching user expectations for one-off
// overrides without editing the config file.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	path := DefaultConfigPath()
	if env.ConfigPath != "" {
		path = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		path = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	if env.Provider != "" {
		cfg.Provider = env.Provider
	}

	if cli.Provider != "" {
		cfg.Provider = cli.Provider
	}

	if cfg.Provider != "" && !KnownProvider(cfg.Provider) {
		return nil, fmt.Errorf("unknown provider %q (known: %s)", cfg.Provider, knownProviderList())
	}

	return &Resolved{Config: cfg, Path: path}, nil
}
