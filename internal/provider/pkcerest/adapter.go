// Package pkcerest implements the vault sync contract against a
// pCloud-style JSON REST backend. The API is folder/file oriented with
// numeric IDs, reports errors as result codes inside HTTP 200
// envelopes, and authenticates with OAuth2 authorization code + PKCE
// through internal/authflow.
package pkcerest

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
	"strconv"

	"github.com/jbombled/genpwd-sync/internal/authflow"
	"github.com/jbombled/genpwd-sync/internal/container"
	"github.com/jbombled/genpwd-sync/internal/credstore"
	"github.com/jbombled/genpwd-sync/internal/httpx"
	"github.com/jbombled/genpwd-sync/internal/vault"
)

const providerName = "pkcerest"

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.pcloud.com"

// defaultFolder is the dedicated vault container at the drive root.
const defaultFolder = "genpwd-vaults"

// Adapter implements vault.Provider against the REST backend.
type Adapter struct {
	client *httpx.Client
	keeper *authflow.Keeper
	folder string
	cache  container.Cache
	logger *slog.Logger
}

// New creates an adapter. folder overrides the container name; pass ""
// for the default. baseURL is overridable for tests.
func New(baseURL, folder string, auth *authflow.Manager, creds *credstore.Store, accountKey string, httpClient *http.Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if folder == "" {
		folder = defaultFolder
	}

	a := &Adapter{
		keeper: authflow.NewKeeper(auth, creds, accountKey, logger),
		folder: folder,
		logger: logger,
	}

	a.client = httpx.New(providerName, baseURL, httpClient, httpx.BearerFunc(a.keeper.Bearer), logger)

	return a
}

func (a *Adapter) Name() string {
	return providerName
}

// call performs one API request and decodes the JSON envelope. out must
// embed apiEnvelope; a non-zero result code becomes a classified error.
func (a *Adapter) call(ctx context.Context, method, path string, query url.Values, body io.ReadSeeker, out interface{ err() error }) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	resp, err := a.client.Do(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return vault.Classify(providerName, fmt.Errorf("decoding %s response: %w", path, err))
	}

	return out.err()
}

func (a *Adapter) verify(ctx context.Context) error {
	var resp userinfoResponse

	return a.call(ctx, http.MethodGet, "/userinfo", nil, nil, &resp)
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

// resolveContainer creates-or-fetches the vault folder and memoizes its
// numeric ID as a string.
func (a *Adapter) resolveContainer(ctx context.Context) (string, error) {
	return a.cache.Resolve(ctx, func(ctx context.Context) (string, error) {
		query := url.Values{"path": {"/" + a.folder}}

		var resp folderResponse
		if err := a.call(ctx, http.MethodPost, "/createfolderifnotexists", query, nil, &resp); err != nil {
			return "", err
		}

		a.logger.Debug("resolved vault folder",
			slog.String("provider", providerName),
			slog.Int64("folder_id", resp.Metadata.FolderID),
		)

		return strconv.FormatInt(resp.Metadata.FolderID, 10), nil
	})
}

// Upload sends the blob under the conventional name. The nopartial flag
// makes the write all-or-nothing, which keeps the overwrite idempotent.
func (a *Adapter) Upload(ctx context.Context, data *vault.SyncData) (string, error) {
	folderID, err := a.resolveContainer(ctx)
	if err != nil {
		return "", err
	}

	query := url.Values{
		"folderid":  {folderID},
		"filename":  {vault.ObjectName(data.VaultID)},
		"nopartial": {"1"},
	}

	var resp uploadResponse
	if err := a.call(ctx, http.MethodPut, "/uploadfile", query, bytes.NewReader(data.EncryptedData), &resp); err != nil {
		return "", err
	}

	if len(resp.Metadata) != 1 {
		return "", &vault.Error{
			Provider: providerName,
			Message:  fmt.Sprintf("upload returned %d entries, want 1", len(resp.Metadata)),
		}
	}

	a.logger.Info("uploaded vault",
		slog.String("provider", providerName),
		slog.String("vault_id", data.VaultID),
		slog.Int("size", len(data.EncryptedData)),
	)

	return strconv.FormatInt(resp.Metadata[0].FileID, 10), nil
}

func (a *Adapter) Download(ctx context.Context, vaultID string) (*vault.SyncData, error) {
	meta, err := a.Metadata(ctx, vaultID)
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

	query := url.Values{"fileid": {meta.FileID}}

	resp, err := a.client.Do(ctx, http.MethodGet, "/downloadfile?"+query.Encode(), nil, nil)
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
		// Version and DeviceID do not survive the backend representation.
	}
	data.Checksum = data.Fingerprint()

	return data, nil
}

func (a *Adapter) List(ctx context.Context) ([]vault.FileMetadata, error) {
	entries, err := a.listContainer(ctx)
	if err != nil {
		return nil, err
	}

	var out []vault.FileMetadata

	for i := range entries {
		entry := &entries[i]
		if entry.IsFolder || !vault.IsVaultObject(entry.Name) {
			continue
		}

		meta, err := entry.toMetadata()
		if err != nil {
			return nil, err
		}

		out = append(out, *meta)
	}

	return out, nil
}

func (a *Adapter) listContainer(ctx context.Context) ([]fileEntry, error) {
	folderID, err := a.resolveContainer(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{"folderid": {folderID}}

	var resp folderResponse
	if err := a.call(ctx, http.MethodGet, "/listfolder", query, nil, &resp); err != nil {
		return nil, err
	}

	return resp.Metadata.Contents, nil
}

func (a *Adapter) Delete(ctx context.Context, fileID string) error {
	query := url.Values{"fileid": {fileID}}

	var resp deleteResponse

	err := a.call(ctx, http.MethodPost, "/deletefile", query, nil, &resp)
	if err != nil && errors.Is(err, vault.ErrNotFound) {
		return nil
	}

	return err
}

// Metadata resolves the object by listing the container: the backend
// addresses files by numeric ID, so the conventional name has to be
// re-resolved on every call.
func (a *Adapter) Metadata(ctx context.Context, vaultID string) (*vault.FileMetadata, error) {
	entries, err := a.listContainer(ctx)
	if err != nil {
		return nil, err
	}

	name := vault.ObjectName(vaultID)

	for i := range entries {
		entry := &entries[i]
		if entry.IsFolder || entry.Name != name {
			continue
		}

		return entry.toMetadata()
	}

	return nil, nil
}

func (a *Adapter) HasNewerVersion(ctx context.Context, vaultID string, localTimestampMS int64) (bool, error) {
	meta, err := a.Metadata(ctx, vaultID)
	if err != nil {
		return false, err
	}

	return vault.Newer(meta, localTimestampMS), nil
}

func (a *Adapter) Quota(ctx context.Context) (vault.Quota, error) {
	var resp userinfoResponse
	if err := a.call(ctx, http.MethodGet, "/userinfo", nil, nil, &resp); err != nil {
		return vault.UnknownQuota(), err
	}

	if resp.Quota == 0 {
		return vault.UnknownQuota(), nil
	}

	return vault.Quota{
		TotalBytes: resp.Quota,
		UsedBytes:  resp.UsedQuota,
		FreeBytes:  resp.Quota - resp.UsedQuota,
	}, nil
}
