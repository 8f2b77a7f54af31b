package config

import (
	"fmt"
	"net/url"
	"strings"
)

// providerNames lists every backend the sync core speaks, in display
// order.
var providerNames = []string{"webdav", "graphdrive", "gdrive", "pkcerest", "s3vault"}

// KnownProvider reports whether name is a recognized backend.
func KnownProvider(name string) bool {
	for _, p := range providerNames {
		if p == name {
			return true
		}
	}

	return false
}

func knownProviderList() string {
	return strings.Join(providerNames, ", ")
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var logFormats = map[string]bool{"text": true, "json": true}

// Validate checks the global sections. Provider sections are validated
// lazily by ValidateProvider, so an unused half-filled section never
// blocks startup.
func Validate(cfg *Config) error {
	if !logLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level %q (valid: debug, info, warn, error)", cfg.Logging.Level)
	}

	if !logFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format %q (valid: text, json)", cfg.Logging.Format)
	}

	if cfg.Provider != "" && !KnownProvider(cfg.Provider) {
		return fmt.Errorf("unknown provider %q (known: %s)", cfg.Provider, knownProviderList())
	}

	return nil
}

// ValidateProvider checks that the section for the named provider
// carries everything its adapter needs to start.
func ValidateProvider(cfg *Config, name string) error {
	switch name {
	case "webdav":
		return validateWebDAV(&cfg.WebDAV)
	case "graphdrive":
		if cfg.Graph.ClientID == "" {
			return fmt.Errorf("graphdrive: client_id is required")
		}
	case "gdrive":
		if cfg.GDrive.ClientID == "" {
			return fmt.Errorf("gdrive: client_id is required")
		}
	case "pkcerest":
		if cfg.REST.ClientID == "" {
			return fmt.Errorf("pkcerest: client_id is required")
		}
	case "s3vault":
		return validateS3(&cfg.S3)
	default:
		return fmt.Errorf("unknown provider %q (known: %s)", name, knownProviderList())
	}

	return nil
}

func validateWebDAV(cfg *WebDAVConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("webdav: url is required")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webdav: url %q is not a valid http(s) URL", cfg.URL)
	}

	if cfg.Username == "" {
		return fmt.Errorf("webdav: username is required")
	}

	return nil
}

func validateS3(cfg *S3Config) error {
	if cfg.Bucket == "" {
		return fmt.Errorf("s3vault: bucket is required")
	}

	if cfg.AccessKeyID == "" {
		return fmt.Errorf("s3vault: access_key_id is required")
	}

	if cfg.Region == "" && cfg.Endpoint == "" {
		return fmt.Errorf("s3vault: either region or endpoint is required")
	}

	return nil
}
