// Package gdrive implements the vault sync contract against Google
// Drive. Vault objects live in the appDataFolder space, an app-private
// container hidden from the user's normal Drive view. Unlike the other
// backends, Drive carries per-file appProperties, so vault name, device
// and version survive the remote representation.
package gdrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jbombled/genpwd-sync/internal/authflow"
	"github.com/jbombled/genpwd-sync/internal/credstore"
	"github.com/jbombled/genpwd-sync/internal/vault"
)

const providerName = "gdrive"

// appDataSpace is the app-private Drive space holding vault objects.
const appDataSpace = "appDataFolder"

// listPageSize bounds one listing page. Vault containers hold few
// objects; one page is the common case.
const listPageSize = 100

// appProperties keys attached to every uploaded vault object.
const (
	propVaultName = "vaultName"
	propDeviceID  = "deviceId"
	propVersion   = "version"
	propTimestamp = "timestamp"
)

// fileFields is the partial-response selector for vault object queries.
var fileFields = googleapi.Field("files(id,name,size,modifiedTime,md5Checksum,version,appProperties)")

// Adapter implements vault.Provider against Google Drive.
type Adapter struct {
	keeper *authflow.Keeper
	logger *slog.Logger
	opts   []option.ClientOption

	mu  sync.Mutex
	svc *drive.Service
}

// New creates a Drive adapter. accountKey names the credential entry
// under which the encrypted token is persisted. extra options are for
// tests (endpoint and client overrides).
func New(auth *authflow.Manager, creds *credstore.Store, accountKey string, logger *slog.Logger, opts ...option.ClientOption) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{
		keeper: authflow.NewKeeper(auth, creds, accountKey, logger),
		logger: logger,
		opts:   opts,
	}
}

func (a *Adapter) Name() string {
	return providerName
}

// service builds the Drive client lazily, once a token is available.
func (a *Adapter) service(ctx context.Context) (*drive.Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.svc != nil {
		return a.svc, nil
	}

	// Refreshes keep flowing through the encrypted credential store.
	opts := append([]option.ClientOption{option.WithTokenSource(a.keeper.TokenSource())}, a.opts...)

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, classify(err)
	}

	a.svc = svc

	return svc, nil
}

func (a *Adapter) verify(ctx context.Context) error {
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}

	_, err = svc.About.Get().Fields("storageQuota").Context(ctx).Do()

	return classify(err)
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

	a.mu.Lock()
	a.svc = nil
	a.mu.Unlock()
}

// findFile resolves the vault object by conventional name within the
// app data space. Returns nil when absent.
func (a *Adapter) findFile(ctx context.Context, vaultID string) (*drive.File, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return nil, err
	}

	name := vault.ObjectName(vaultID)
	query := fmt.Sprintf("name = '%s' and trashed = false", escapeQuery(name))

	list, err := svc.Files.List().
		Spaces(appDataSpace).
		Q(query).
		Fields(fileFields).
		PageSize(listPageSize).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err)
	}

	if len(list.Files) == 0 {
		return nil, nil
	}

	return list.Files[0], nil
}

// escapeQuery escapes single quotes and backslashes for a Drive query
// string literal.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)

	return strings.ReplaceAll(s, `'`, `\'`)
}

// Upload creates or replaces the vault object. Sync fields that Drive
// has no native slot for ride along as appProperties.
func (a *Adapter) Upload(ctx context.Context, data *vault.SyncData) (string, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return "", err
	}

	existing, err := a.findFile(ctx, data.VaultID)
	if err != nil {
		return "", err
	}

	props := map[string]string{
		propVaultName: data.VaultName,
		propDeviceID:  data.DeviceID,
		propVersion:   strconv.Itoa(data.Version),
		propTimestamp: strconv.FormatInt(data.Timestamp, 10),
	}

	media := bytes.NewReader(data.EncryptedData)

	var file *drive.File

	if existing != nil {
		file, err = svc.Files.Update(existing.Id, &drive.File{AppProperties: props}).
			Media(media, googleapi.ContentType(vault.ContentType)).
			Context(ctx).
			Do()
	} else {
		meta := &drive.File{
			Name:          vault.ObjectName(data.VaultID),
			Parents:       []string{appDataSpace},
			AppProperties: props,
			MimeType:      vault.ContentType,
		}

		file, err = svc.Files.Create(meta).
			Media(media, googleapi.ContentType(vault.ContentType)).
			Context(ctx).
			Do()
	}

	if err != nil {
		return "", classify(err)
	}

	a.logger.Info("uploaded vault",
		slog.String("provider", providerName),
		slog.String("vault_id", data.VaultID),
		slog.Int("size", len(data.EncryptedData)),
	)

	return file.Id, nil
}

func (a *Adapter) Download(ctx context.Context, vaultID string) (*vault.SyncData, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return nil, err
	}

	file, err := a.findFile(ctx, vaultID)
	if err != nil {
		return nil, err
	}

	if file == nil {
		return nil, &vault.Error{
			Provider: providerName,
			Message:  "no vault object for " + vaultID,
			Err:      vault.ErrNotFound,
		}
	}

	resp, err := svc.Files.Get(file.Id).Context(ctx).Download()
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vault.Classify(providerName, err)
	}

	meta, err := toMetadata(file)
	if err != nil {
		return nil, err
	}

	data := &vault.SyncData{
		VaultID:       vaultID,
		VaultName:     file.AppProperties[propVaultName],
		EncryptedData: blob,
		Timestamp:     meta.ModifiedTime,
		DeviceID:      file.AppProperties[propDeviceID],
	}

	if data.VaultName == "" {
		data.VaultName = file.Name
	}

	if v, err := strconv.Atoi(file.AppProperties[propVersion]); err == nil {
		data.Version = v
	}

	// The sealed timestamp beats Drive's server clock when present.
	if ts, err := strconv.ParseInt(file.AppProperties[propTimestamp], 10, 64); err == nil {
		data.Timestamp = ts
	}

	data.Checksum = data.Fingerprint()

	return data, nil
}

func (a *Adapter) List(ctx context.Context) ([]vault.FileMetadata, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return nil, err
	}

	var out []vault.FileMetadata

	pageToken := ""

	for {
		call := svc.Files.List().
			Spaces(appDataSpace).
			Q("trashed = false").
			Fields(fileFields, "nextPageToken").
			PageSize(listPageSize).
			Context(ctx)

		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		list, err := call.Do()
		if err != nil {
			return nil, classify(err)
		}

		for _, file := range list.Files {
			if !vault.IsVaultObject(file.Name) {
				continue
			}

			meta, err := toMetadata(file)
			if err != nil {
				return nil, err
			}

			out = append(out, *meta)
		}

		if list.NextPageToken == "" {
			return out, nil
		}

		pageToken = list.NextPageToken
	}
}

func (a *Adapter) Delete(ctx context.Context, fileID string) error {
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}

	err = classify(svc.Files.Delete(fileID).Context(ctx).Do())
	if errors.Is(err, vault.ErrNotFound) {
		return nil
	}

	return err
}

func (a *Adapter) Metadata(ctx context.Context, vaultID string) (*vault.FileMetadata, error) {
	file, err := a.findFile(ctx, vaultID)
	if err != nil {
		return nil, err
	}

	if file == nil {
		return nil, nil
	}

	return toMetadata(file)
}

func (a *Adapter) HasNewerVersion(ctx context.Context, vaultID string, localTimestampMS int64) (bool, error) {
	meta, err := a.Metadata(ctx, vaultID)
	if err != nil {
		return false, err
	}

	return vault.Newer(meta, localTimestampMS), nil
}

func (a *Adapter) Quota(ctx context.Context) (vault.Quota, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return vault.UnknownQuota(), err
	}

	about, err := svc.About.Get().Fields("storageQuota").Context(ctx).Do()
	if err != nil {
		return vault.UnknownQuota(), classify(err)
	}

	// Unlimited plans report no limit.
	if about.StorageQuota == nil || about.StorageQuota.Limit == 0 {
		return vault.UnknownQuota(), nil
	}

	q := vault.Quota{
		TotalBytes: about.StorageQuota.Limit,
		UsedBytes:  about.StorageQuota.Usage,
	}
	q.FreeBytes = q.TotalBytes - q.UsedBytes

	return q, nil
}

// toMetadata normalizes a Drive file. The timestamp is parsed strictly:
// Drive always emits RFC 3339, and a fabricated fallback would corrupt
// newness comparisons.
func toMetadata(file *drive.File) (*vault.FileMetadata, error) {
	modified, err := time.Parse(time.RFC3339, file.ModifiedTime)
	if err != nil {
		return nil, &vault.Error{
			Provider: providerName,
			Message:  fmt.Sprintf("unparseable modifiedTime %q for file %s", file.ModifiedTime, file.Id),
		}
	}

	meta := &vault.FileMetadata{
		FileID:       file.Id,
		FileName:     file.Name,
		Size:         file.Size,
		ModifiedTime: modified.UnixMilli(),
		Checksum:     file.Md5Checksum,
	}

	if file.Version != 0 {
		meta.Version = strconv.FormatInt(file.Version, 10)
	}

	return meta, nil
}

// classify maps Google API errors onto the shared taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return vault.FromStatus(providerName, gerr.Code, gerr.Message)
	}

	return vault.Classify(providerName, err)
}
