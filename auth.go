package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the configured cloud provider",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Disconnect and remove saved credentials",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// promptSecret reads a secret from the terminal without echo. When stdin
// is not a terminal (scripts, CI) it falls back to reading one line.
func promptSecret(label string) (string, error) {
	// Prompts must always be visible — not suppressed by --quiet.
	fmt.Fprintf(os.Stderr, "%s: ", label)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)

		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}

		return string(raw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading secret: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func runLogin(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	name := resolvedCfg.Provider

	logger.Info("login started", "provider", name)

	// Password-style backends need their secret captured before the
	// adapter can be built.
	switch name {
	case "webdav":
		if err := storeSecret(name, "WebDAV password", logger); err != nil {
			return err
		}
	case "s3vault":
		if err := storeSecret(name, "Secret access key", logger); err != nil {
			return err
		}
	}

	p, err := newProvider(ctx, logger)
	if err != nil {
		return err
	}

	if err := p.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticating with %s: %w", name, err)
	}

	logger.Info("login successful", "provider", name)
	statusf("Logged in to %s.\n", name)

	return nil
}

// storeSecret prompts for and persists the password-style secret for a
// provider.
func storeSecret(providerName, label string, logger *slog.Logger) error {
	secret, err := promptSecret(label)
	if err != nil {
		return err
	}

	if secret == "" {
		return fmt.Errorf("empty %s", strings.ToLower(label))
	}

	creds := newCredStore(providerName, logger)
	if !creds.PersistSecret(secretEntryKey, secret) {
		return fmt.Errorf("storing %s in credential store", strings.ToLower(label))
	}

	logger.Info("secret stored", "provider", providerName)

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	name := resolvedCfg.Provider
	if name == "" {
		return fmt.Errorf("no provider configured; set 'provider' in the config file or pass --provider")
	}

	logger.Info("logout started", "provider", name)

	// Drop any live session, then remove persisted credentials. Building
	// the provider can fail when credentials are already gone; clearing
	// the store is still worthwhile then.
	if p, err := newProvider(context.Background(), logger); err == nil {
		p.Disconnect()
	}

	creds := newCredStore(name, logger)
	creds.ClearSecret(secretEntryKey)
	creds.ClearSecret(oauthAccountKey)

	logger.Info("logout successful", "provider", name)
	statusf("Logged out of %s.\n", name)

	return nil
}
