package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbombled/genpwd-sync/internal/config"
	"github.com/jbombled/genpwd-sync/internal/vault"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagProvider   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Resolved

// httpClientTimeout is the default timeout for HTTP requests.
// Prevents hung connections from blocking CLI commands indefinitely.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "genpwd-sync",
		Short:   "Sync encrypted password vaults to cloud storage",
		Long:    "Synchronize encrypted password vaults with WebDAV, OneDrive, Google Drive, pCloud, or S3-compatible storage.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		// PersistentPreRunE loads configuration before every command so
		// subcommands can rely on resolvedCfg being set.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "cloud provider (webdav, graphdrive, gdrive, pkcerest, s3vault)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newQuotaCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override
// chain and stores the result in resolvedCfg for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	// Only pass --provider to the resolver if the user explicitly set it.
	if cmd.Flags().Changed("provider") {
		cli.Provider = flagProvider
	}

	env := config.ReadEnvOverrides()

	resolved, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "text"

	// Config-based log level and format (lower priority than CLI flags).
	if resolvedCfg != nil {
		switch resolvedCfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		if resolvedCfg.Logging.Format != "" {
			format = resolvedCfg.Logging.Format
		}
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	out := os.Stderr

	if resolvedCfg != nil && resolvedCfg.Logging.File != "" {
		f, err := os.OpenFile(resolvedCfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err == nil {
			out = f
		}
		// On open failure logging falls back to stderr silently; losing
		// the file target must not break the command itself.
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}

	return slog.New(slog.NewTextHandler(out, opts))
}

// statusf prints a status message to stderr unless quiet mode is set.
// Status output goes to stderr so stdout stays clean for data (--json).
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
// Classified sync errors get a hint about the likely fix.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(os.Stderr, "%s\n", hint)
	}

	os.Exit(1)
}

// errorHint maps classified provider errors to a one-line suggestion.
func errorHint(err error) string {
	switch {
	case errors.Is(err, vault.ErrAuthExpired):
		return "Run 'genpwd-sync login' to re-authenticate."
	case errors.Is(err, vault.ErrNetwork):
		return "Check your network connection and try again."
	case errors.Is(err, vault.ErrQuotaExceeded):
		return "Free up storage space on the provider and try again."
	case errors.Is(err, vault.ErrRateLimited):
		return "The provider is throttling requests; wait a moment and retry."
	default:
		return ""
	}
}
