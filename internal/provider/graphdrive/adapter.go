// Package graphdrive implements the vault sync contract against a
// Microsoft Graph drive. Vault objects live in the application's app
// root ("approot" special folder), an app-private container invisible
// to the user's normal file browser. Authentication is OAuth2
// authorization code + PKCE through internal/authflow; tokens are
// persisted only in encrypted form through internal/credstore.
package graphdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jbombled/genpwd-sync/internal/authflow"
	"github.com/jbombled/genpwd-sync/internal/container"
	"github.com/jbombled/genpwd-sync/internal/credstore"
	"github.com/jbombled/genpwd-sync/internal/httpx"
	"github.com/jbombled/genpwd-sync/internal/vault"
)

const providerName = "graphdrive"

// DefaultBaseURL is the Graph API endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// childPageSize is the $top value for children listings. Vault
// containers hold few objects; one page is the common case.
const childPageSize = 200

// Adapter implements vault.Provider against Microsoft Graph.
type Adapter struct {
	client *httpx.Client
	keeper *authflow.Keeper
	cache  container.Cache
	logger *slog.Logger
}

// New creates a Graph adapter. accountKey names the credential entry
// (one per provider and vault) under which the encrypted token is
// persisted. baseURL is overridable for tests; pass "" for the real
// endpoint.
func New(baseURL string, auth *authflow.Manager, creds *credstore.Store, accountKey string, httpClient *http.Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	a := &Adapter{
		keeper: authflow.NewKeeper(auth, creds, accountKey, logger),
		logger: logger,
	}

	a.client = httpx.New(providerName, baseURL, httpClient, httpx.BearerFunc(a.keeper.Bearer), logger)

	return a
}

func (a *Adapter) Name() string {
	return providerName
}

// verify makes one live call to prove the session works.
func (a *Adapter) verify(ctx context.Context) error {
	resp, err := a.client.Do(ctx, http.MethodGet, "/me/drive", nil, nil)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

// IsAuthenticated is true only when a token is present and one live
// backend call succeeds with it.
func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	return a.keeper.HasSession() && a.verify(ctx) == nil
}

// Authenticate restores a persisted session when possible, otherwise
// runs the browser flow and persists the resulting token encrypted.
func (a *Adapter) Authenticate(ctx context.Context) error {
	if a.keeper.HasSession() {
		if err := a.verify(ctx); err == nil {
			return nil
		}

		// Stale session: drop it and run the flow from scratch.
		a.Disconnect()
	}

	if err := a.keeper.Login(ctx); err != nil {
		return err
	}

	return a.verify(ctx)
}

// Disconnect clears the in-memory session; the persisted encrypted
// credential survives until ClearSecret.
func (a *Adapter) Disconnect() {
	a.keeper.Reset()
	a.cache.Reset()
}

// resolveContainer fetches (implicitly creating) the app root folder.
func (a *Adapter) resolveContainer(ctx context.Context) (string, error) {
	return a.cache.Resolve(ctx, func(ctx context.Context) (string, error) {
		resp, err := a.client.Do(ctx, http.MethodGet, "/me/drive/special/approot", nil, nil)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		var item driveItem
		if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
			return "", vault.Classify(providerName, fmt.Errorf("decoding approot response: %w", err))
		}

		a.logger.Debug("resolved app root container", slog.String("item_id", item.ID))

		return item.ID, nil
	})
}

// itemPath addresses a vault object by name below the container.
func itemPath(containerID, vaultID string) string {
	return fmt.Sprintf("/me/drive/items/%s:/%s:", containerID, url.PathEscape(vault.ObjectName(vaultID)))
}

// Upload PUTs the blob to the conventional name. Graph's content upload
// is create-or-replace by nature, which keeps the operation idempotent.
func (a *Adapter) Upload(ctx context.Context, data *vault.SyncData) (string, error) {
	containerID, err := a.resolveContainer(ctx)
	if err != nil {
		return "", err
	}

	h := http.Header{}
	h.Set("Content-Type", vault.ContentType)

	path := itemPath(containerID, data.VaultID) + "/content"

	resp, err := a.client.Do(ctx, http.MethodPut, path, h, bytes.NewReader(data.EncryptedData))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var item driveItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return "", vault.Classify(providerName, fmt.Errorf("decoding upload response: %w", err))
	}

	a.logger.Info("uploaded vault",
		slog.String("provider", providerName),
		slog.String("vault_id", data.VaultID),
		slog.Int("size", len(data.EncryptedData)),
	)

	return item.ID, nil
}

func (a *Adapter) Download(ctx context.Context, vaultID string) (*vault.SyncData, error) {
	containerID, err := a.resolveContainer(ctx)
	if err != nil {
		return nil, err
	}

	meta, err := a.metadataIn(ctx, containerID, vaultID)
	if err != nil {
		return nil, err
	}

	if meta == nil {
		return nil, &vault.Error{
			Provider: providerName,
			Message:  "no vault object for " + vaultID,
			Err:      vault.ErrNotFound,
		}
	}

	resp, err := a.client.Do(ctx, http.MethodGet, itemPath(containerID, vaultID)+"/content", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vault.Classify(providerName, err)
	}

	data := &vault.SyncData{
		VaultID:       vaultID,
		VaultName:     meta.FileName,
		EncryptedData: blob,
		Timestamp:     meta.ModifiedTime,
		// Version and DeviceID do not survive the Graph representation.
	}
	data.Checksum = data.Fingerprint()

	return data, nil
}

func (a *Adapter) List(ctx context.Context) ([]vault.FileMetadata, error) {
	containerID, err := a.resolveContainer(ctx)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/me/drive/items/%s/children?$top=%d", containerID, childPageSize)

	var out []vault.FileMetadata

	for path != "" {
		resp, err := a.client.Do(ctx, http.MethodGet, path, nil, nil)
		if err != nil {
			return nil, err
		}

		var page childrenResponse
		decErr := json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()

		if decErr != nil {
			return nil, vault.Classify(providerName, fmt.Errorf("decoding children response: %w", decErr))
		}

		for i := range page.Value {
			item := &page.Value[i]
			if item.Folder != nil || !vault.IsVaultObject(item.Name) {
				continue
			}

			meta, err := item.toMetadata()
			if err != nil {
				return nil, err
			}

			out = append(out, *meta)
		}

		path = ""

		if page.NextLink != "" {
			stripped, ok := strings.CutPrefix(page.NextLink, a.client.BaseURL())
			if !ok {
				return nil, &vault.Error{Provider: providerName, Message: "nextLink does not match base URL"}
			}

			path = stripped
		}
	}

	return out, nil
}

func (a *Adapter) Delete(ctx context.Context, fileID string) error {
	resp, err := a.client.Do(ctx, http.MethodDelete, "/me/drive/items/"+url.PathEscape(fileID), nil, nil)
	if err != nil {
		if errorsIsNotFound(err) {
			return nil
		}

		return err
	}

	resp.Body.Close()

	return nil
}

func (a *Adapter) Metadata(ctx context.Context, vaultID string) (*vault.FileMetadata, error) {
	containerID, err := a.resolveContainer(ctx)
	if err != nil {
		return nil, err
	}

	return a.metadataIn(ctx, containerID, vaultID)
}

func (a *Adapter) metadataIn(ctx context.Context, containerID, vaultID string) (*vault.FileMetadata, error) {
	resp, err := a.client.Do(ctx, http.MethodGet, itemPath(containerID, vaultID), nil, nil)
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}

		return nil, err
	}
	defer resp.Body.Close()

	var item driveItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, vault.Classify(providerName, fmt.Errorf("decoding item response: %w", err))
	}

	return item.toMetadata()
}

func (a *Adapter) HasNewerVersion(ctx context.Context, vaultID string, localTimestampMS int64) (bool, error) {
	meta, err := a.Metadata(ctx, vaultID)
	if err != nil {
		return false, err
	}

	return vault.Newer(meta, localTimestampMS), nil
}

func (a *Adapter) Quota(ctx context.Context) (vault.Quota, error) {
	resp, err := a.client.Do(ctx, http.MethodGet, "/me/drive", nil, nil)
	if err != nil {
		return vault.UnknownQuota(), err
	}
	defer resp.Body.Close()

	var drive driveResponse
	if err := json.NewDecoder(resp.Body).Decode(&drive); err != nil {
		return vault.UnknownQuota(), vault.Classify(providerName, fmt.Errorf("decoding drive response: %w", err))
	}

	if drive.Quota == nil {
		return vault.UnknownQuota(), nil
	}

	return vault.Quota{
		TotalBytes: drive.Quota.Total,
		UsedBytes:  drive.Quota.Used,
		FreeBytes:  drive.Quota.Remaining,
	}, nil
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, vault.ErrNotFound)
}
