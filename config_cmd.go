package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbombled/genpwd-sync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
}

// configShowOutput is the JSON schema for `config show --json`.
// Secrets never appear here; the config file holds none.
type configShowOutput struct {
	Path     string         `json:"path"`
	Provider string         `json:"provider"`
	DeviceID string         `json:"device_id,omitempty"`
	Logging  map[string]any `json:"logging"`
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	out := configShowOutput{
		Path:     resolvedCfg.Path,
		Provider: resolvedCfg.Provider,
		DeviceID: resolvedCfg.DeviceID,
		Logging: map[string]any{
			"level":  resolvedCfg.Logging.Level,
			"format": resolvedCfg.Logging.Format,
		},
	}

	if flagJSON {
		return printJSON(out)
	}

	fmt.Printf("Config:    %s\n", out.Path)

	provider := out.Provider
	if provider == "" {
		provider = "(not set)"
	}

	fmt.Printf("Provider:  %s\n", provider)

	if out.DeviceID != "" {
		fmt.Printf("Device ID: %s\n", out.DeviceID)
	}

	fmt.Printf("Logging:   level=%s format=%s\n", resolvedCfg.Logging.Level, resolvedCfg.Logging.Format)

	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path := resolvedCfg.Path

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	cfg := config.DefaultConfig()

	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	statusf("Wrote %s.\n", path)

	return nil
}
