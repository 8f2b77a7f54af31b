package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/jbombled/genpwd-sync/internal/authflow"
	"github.com/jbombled/genpwd-sync/internal/config"
	"github.com/jbombled/genpwd-sync/internal/credstore"
	"github.com/jbombled/genpwd-sync/internal/provider/gdrive"
	"github.com/jbombled/genpwd-sync/internal/provider/graphdrive"
	"github.com/jbombled/genpwd-sync/internal/provider/pkcerest"
	"github.com/jbombled/genpwd-sync/internal/provider/s3vault"
	"github.com/jbombled/genpwd-sync/internal/provider/webdav"
	"github.com/jbombled/genpwd-sync/internal/vault"
)

// Credential store entry names used by the CLI. OAuth adapters persist
// their token under oauthAccountKey; password-style backends keep their
// single secret under secretEntryKey.
const (
	oauthAccountKey = "oauth"
	secretEntryKey  = "secret"
)

// masterKeyEntry is the OS keyring entry holding the AES key that seals
// the file-backed credential records.
const masterKeyEntry = "master_key"

// newCredStore builds the credential store for one provider namespace.
// Sealed records live in files under the data directory; the AES key
// that seals them lives in the OS keyring. Records go to disk rather
// than the keyring because OAuth token JSON can exceed keyring entry
// size limits on some platforms.
func newCredStore(providerName string, logger *slog.Logger) *credstore.Store {
	backend := credstore.NewFileBackend(filepath.Join(config.DefaultDataDir(), "credentials"))
	cipher := credstore.NewAESCipher(keyringMasterKey)

	return credstore.New(providerName, cipher, backend, nil, logger)
}

// keyringMasterKey fetches the sealing key from the OS keyring, creating
// it on first use. The keyAlias argument is part of the Cipher contract
// but a single CLI key seals every provider's records.
func keyringMasterKey(string) ([]byte, error) {
	kr := credstore.NewKeyringBackend()

	key, err := kr.Get(masterKeyEntry)
	if err == nil {
		if raw, decErr := base64.StdEncoding.DecodeString(string(key)); decErr == nil {
			return raw, nil
		}

		return nil, fmt.Errorf("keyring master key is corrupt; delete the %q entry and log in again", masterKeyEntry)
	}

	if !errors.Is(err, credstore.ErrEntryNotFound) {
		return nil, fmt.Errorf("reading master key from keyring: %w", err)
	}

	raw, err := credstore.GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := kr.Set(masterKeyEntry, []byte(base64.StdEncoding.EncodeToString(raw))); err != nil {
		return nil, fmt.Errorf("storing master key in keyring: %w", err)
	}

	return raw, nil
}

// newProvider builds the configured vault.Provider from the resolved
// config. It validates the active provider's section first so wiring
// errors surface as config errors, not opaque network failures.
func newProvider(ctx context.Context, logger *slog.Logger) (vault.Provider, error) {
	name := resolvedCfg.Provider
	if name == "" {
		return nil, errors.New("no provider configured; set 'provider' in the config file or pass --provider")
	}

	if err := config.ValidateProvider(resolvedCfg.Config, name); err != nil {
		return nil, err
	}

	switch name {
	case "webdav":
		return newWebDAVProvider(logger), nil
	case "graphdrive":
		return newGraphProvider(logger), nil
	case "gdrive":
		return newGDriveProvider(logger), nil
	case "pkcerest":
		return newRESTProvider(logger), nil
	case "s3vault":
		return newS3Provider(ctx, logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func newWebDAVProvider(logger *slog.Logger) vault.Provider {
	creds := newCredStore("webdav", logger)

	password, ok := creds.Secret(secretEntryKey)
	if !ok {
		logger.Debug("no stored WebDAV password; server will reject requests until login")
	}

	return webdav.New(webdav.Config{
		URL:         resolvedCfg.WebDAV.URL,
		Username:    resolvedCfg.WebDAV.Username,
		Password:    password,
		Folder:      resolvedCfg.WebDAV.Folder,
		InsecureTLS: resolvedCfg.WebDAV.InsecureTLS,
	}, defaultHTTPClient(), logger)
}

func newGraphProvider(logger *slog.Logger) vault.Provider {
	creds := newCredStore("graphdrive", logger)
	auth := authflow.New("graphdrive", graphdrive.OAuthConfig(resolvedCfg.Graph.ClientID), logger,
		authflow.WithOpenURL(openBrowser))

	return graphdrive.New(graphdrive.DefaultBaseURL, auth, creds, oauthAccountKey, defaultHTTPClient(), logger)
}

func newGDriveProvider(logger *slog.Logger) vault.Provider {
	creds := newCredStore("gdrive", logger)
	auth := authflow.New("gdrive", gdrive.OAuthConfig(resolvedCfg.GDrive.ClientID, resolvedCfg.GDrive.ClientSecret), logger,
		authflow.WithOpenURL(openBrowser))

	return gdrive.New(auth, creds, oauthAccountKey, logger)
}

func newRESTProvider(logger *slog.Logger) vault.Provider {
	creds := newCredStore("pkcerest", logger)
	auth := authflow.New("pkcerest", pkcerest.OAuthConfig(resolvedCfg.REST.ClientID), logger,
		authflow.WithOpenURL(openBrowser))

	return pkcerest.New(resolvedCfg.REST.BaseURL, resolvedCfg.REST.Folder, auth, creds, oauthAccountKey, defaultHTTPClient(), logger)
}

func newS3Provider(ctx context.Context, logger *slog.Logger) (vault.Provider, error) {
	creds := newCredStore("s3vault", logger)

	secretKey, ok := creds.Secret(secretEntryKey)
	if !ok {
		return nil, &vault.Error{
			Provider: "s3vault",
			Message:  "no stored secret access key",
			Err:      vault.ErrAuthExpired,
		}
	}

	return s3vault.New(ctx, s3vault.Config{
		Bucket:          resolvedCfg.S3.Bucket,
		Prefix:          resolvedCfg.S3.Prefix,
		Region:          resolvedCfg.S3.Region,
		Endpoint:        resolvedCfg.S3.Endpoint,
		AccessKeyID:     resolvedCfg.S3.AccessKeyID,
		SecretAccessKey: secretKey,
		UsePathStyle:    resolvedCfg.S3.UsePathStyle,
	}, logger)
}

// openBrowser launches the system browser for OAuth consent. The URL is
// always printed as well, for headless boxes and remote shells.
func openBrowser(url string) error {
	// Browser prompts must always be visible — not suppressed by --quiet.
	fmt.Fprintf(os.Stderr, "Open this URL in your browser to continue:\n  %s\n", url)

	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	return cmd.Start()
}
