// Package webdav implements the vault sync contract over plain WebDAV:
// PROPFIND for existence, listing and metadata, MKCOL for the container,
// PUT/GET/DELETE for object I/O. Credentials are static Basic auth sent
// on every request, so nothing about the session is cached — every
// IsAuthenticated call re-probes the server.
package webdav

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/jbombled/genpwd-sync/internal/container"
	"github.com/jbombled/genpwd-sync/internal/httpx"
	"github.com/jbombled/genpwd-sync/internal/vault"
)

const providerName = "webdav"

// defaultFolder is the dedicated vault container created under the
// WebDAV root.
const defaultFolder = "genpwd-vaults"

// Config describes one WebDAV endpoint.
type Config struct {
	// URL is the DAV root, e.g. https://host/remote.php/dav/files/user.
	URL      string
	Username string
	Password string

	// Folder overrides the vault container name.
	Folder string

	// InsecureTLS disables certificate verification. Explicitly insecure;
	// opt-in only, for self-hosted servers with self-signed certificates.
	InsecureTLS bool
}

// Adapter implements vault.Provider against a WebDAV server.
type Adapter struct {
	client *httpx.Client
	folder string
	// basePrefix is the path component of the DAV root URL, stripped
	// from hrefs so file IDs stay relative to the client base.
	basePrefix string
	cache      container.Cache
	logger     *slog.Logger
}

// New creates a WebDAV adapter. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if cfg.InsecureTLS {
		logger.Warn("TLS certificate verification disabled for WebDAV endpoint")

		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // explicit user opt-in
		}
	}

	folder := cfg.Folder
	if folder == "" {
		folder = defaultFolder
	}

	base := strings.TrimRight(cfg.URL, "/")
	auth := httpx.BasicAuth{Username: cfg.Username, Password: cfg.Password}

	var basePrefix string
	if u, err := url.Parse(base); err == nil {
		basePrefix = strings.TrimRight(u.EscapedPath(), "/")
	}

	return &Adapter{
		client:     httpx.New(providerName, base, httpClient, auth, logger),
		folder:     folder,
		basePrefix: basePrefix,
		logger:     logger,
	}
}

func (a *Adapter) Name() string {
	return providerName
}

// folderPath is the URL path of the vault container.
func (a *Adapter) folderPath() string {
	return "/" + url.PathEscape(a.folder)
}

// objectPath is the URL path of one vault object.
func (a *Adapter) objectPath(vaultID string) string {
	return a.folderPath() + "/" + url.PathEscape(vault.ObjectName(vaultID))
}

// probe issues a Depth 0 PROPFIND against the DAV root.
func (a *Adapter) probe(ctx context.Context) error {
	h := http.Header{}
	h.Set("Depth", "0")
	h.Set("Content-Type", "application/xml")

	resp, err := a.client.Do(ctx, "PROPFIND", "/", h, strings.NewReader(propfindStat))
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

// IsAuthenticated re-probes on every call. Credentials are static, so a
// cached result would only mask revocation.
func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	return a.probe(ctx) == nil
}

// Authenticate degenerates to a connectivity probe — there is no
// handshake to run for Basic auth.
func (a *Adapter) Authenticate(ctx context.Context) error {
	return a.probe(ctx)
}

// Disconnect drops the memoized container. Nothing else is held.
func (a *Adapter) Disconnect() {
	a.cache.Reset()
}

// ensureContainer creates the vault folder if absent. Memoized;
// concurrent first calls collapse into one MKCOL.
func (a *Adapter) ensureContainer(ctx context.Context) (string, error) {
	return a.cache.Resolve(ctx, func(ctx context.Context) (string, error) {
		h := http.Header{}
		h.Set("Depth", "0")
		h.Set("Content-Type", "application/xml")

		resp, err := a.client.Do(ctx, "PROPFIND", a.folderPath(), h, strings.NewReader(propfindStat))
		if err == nil {
			resp.Body.Close()
			return a.folderPath(), nil
		}

		if !isNotFound(err) {
			return "", err
		}

		mkResp, err := a.client.Do(ctx, "MKCOL", a.folderPath(), nil, nil)
		if err != nil {
			// 405 from MKCOL means the collection appeared between the
			// probe and the create — treat as existing.
			var ve *vault.Error
			if errors.As(err, &ve) && ve.Status == http.StatusMethodNotAllowed {
				return a.folderPath(), nil
			}

			return "", err
		}

		mkResp.Body.Close()
		a.logger.Info("created vault container", slog.String("path", a.folderPath()))

		return a.folderPath(), nil
	})
}

func (a *Adapter) Upload(ctx context.Context, data *vault.SyncData) (string, error) {
	if _, err := a.ensureContainer(ctx); err != nil {
		return "", err
	}

	objPath := a.objectPath(data.VaultID)

	h := http.Header{}
	h.Set("Content-Type", vault.ContentType)

	// PUT overwrites in place — repeated uploads leave one object.
	resp, err := a.client.Do(ctx, http.MethodPut, objPath, h, bytes.NewReader(data.EncryptedData))
	if err != nil {
		return "", err
	}

	resp.Body.Close()

	a.logger.Info("uploaded vault",
		slog.String("provider", providerName),
		slog.String("vault_id", data.VaultID),
		slog.Int("size", len(data.EncryptedData)),
	)

	return objPath, nil
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

	resp, err := a.client.Do(ctx, http.MethodGet, a.objectPath(vaultID), nil, nil)
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
		// Version and DeviceID are not recoverable from WebDAV.
	}
	data.Checksum = data.Fingerprint()

	return data, nil
}

func (a *Adapter) List(ctx context.Context) ([]vault.FileMetadata, error) {
	if _, err := a.ensureContainer(ctx); err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("Depth", "1")
	h.Set("Content-Type", "application/xml")

	resp, err := a.client.Do(ctx, "PROPFIND", a.folderPath(), h, strings.NewReader(propfindStat))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vault.Classify(providerName, err)
	}

	ms, err := parseMultistatus(body)
	if err != nil {
		return nil, vault.Classify(providerName, err)
	}

	var out []vault.FileMetadata

	for i := range ms.Responses {
		r := &ms.Responses[i]
		if r.isCollection() {
			continue
		}

		name := basename(r.Href)
		if !vault.IsVaultObject(name) {
			continue
		}

		meta, err := a.toMetadata(r, name)
		if err != nil {
			return nil, err
		}

		out = append(out, *meta)
	}

	return out, nil
}

func (a *Adapter) Delete(ctx context.Context, fileID string) error {
	resp, err := a.client.Do(ctx, http.MethodDelete, fileID, nil, nil)
	if err != nil {
		// Already absent counts as success — delete is idempotent.
		if isNotFound(err) {
			return nil
		}

		return err
	}

	resp.Body.Close()

	return nil
}

func (a *Adapter) Metadata(ctx context.Context, vaultID string) (*vault.FileMetadata, error) {
	h := http.Header{}
	h.Set("Depth", "0")
	h.Set("Content-Type", "application/xml")

	resp, err := a.client.Do(ctx, "PROPFIND", a.objectPath(vaultID), h, strings.NewReader(propfindStat))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}

		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vault.Classify(providerName, err)
	}

	ms, err := parseMultistatus(body)
	if err != nil {
		return nil, vault.Classify(providerName, err)
	}

	if len(ms.Responses) == 0 {
		return nil, nil
	}

	r := &ms.Responses[0]

	return a.toMetadata(r, vault.ObjectName(vaultID))
}

func (a *Adapter) HasNewerVersion(ctx context.Context, vaultID string, localTimestampMS int64) (bool, error) {
	meta, err := a.Metadata(ctx, vaultID)
	if err != nil {
		return false, err
	}

	return vault.Newer(meta, localTimestampMS), nil
}

// Quota asks the container for RFC 4331 quota properties. Servers that
// refuse or omit them yield the unknown sentinel, never a guess.
func (a *Adapter) Quota(ctx context.Context) (vault.Quota, error) {
	if _, err := a.ensureContainer(ctx); err != nil {
		return vault.UnknownQuota(), err
	}

	h := http.Header{}
	h.Set("Depth", "0")
	h.Set("Content-Type", "application/xml")

	resp, err := a.client.Do(ctx, "PROPFIND", a.folderPath(), h, strings.NewReader(propfindQuota))
	if err != nil {
		return vault.UnknownQuota(), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return vault.UnknownQuota(), vault.Classify(providerName, err)
	}

	ms, err := parseMultistatus(body)
	if err != nil || len(ms.Responses) == 0 {
		return vault.UnknownQuota(), nil
	}

	p := ms.Responses[0].okProp()
	if p == nil {
		return vault.UnknownQuota(), nil
	}

	used := parseQuotaBytes(p.QuotaUsed)
	free := parseQuotaBytes(p.QuotaAvailable)

	q := vault.Quota{TotalBytes: vault.QuotaUnknown, UsedBytes: used, FreeBytes: free}
	if used != vault.QuotaUnknown && free != vault.QuotaUnknown {
		q.TotalBytes = used + free
	}

	return q, nil
}

// toMetadata converts one multistatus response into contract metadata.
func (a *Adapter) toMetadata(r *davResponse, name string) (*vault.FileMetadata, error) {
	p := r.okProp()
	if p == nil {
		return nil, &vault.Error{Provider: providerName, Message: "propfind response without 200 propstat"}
	}

	modified, err := parseLastModified(p.LastModified)
	if err != nil {
		return nil, err
	}

	return &vault.FileMetadata{
		FileID:       a.hrefPath(r.Href),
		FileName:     name,
		Size:         parseSize(p.ContentLength),
		ModifiedTime: modified.UnixMilli(),
		Checksum:     trimETag(p.ETag),
	}, nil
}

// basename extracts the decoded final path segment of an href.
func basename(href string) string {
	href = strings.TrimRight(href, "/")

	seg := path.Base(href)
	if decoded, err := url.PathUnescape(seg); err == nil {
		return decoded
	}

	return seg
}

// hrefPath reduces an href (which may be absolute, and includes the DAV
// root) to a path relative to the client base, usable as an opaque file
// ID for GET/DELETE.
func (a *Adapter) hrefPath(href string) string {
	p := href
	if u, err := url.Parse(href); err == nil && u.EscapedPath() != "" {
		p = u.EscapedPath()
	}

	if a.basePrefix != "" && strings.HasPrefix(p, a.basePrefix) {
		p = p[len(a.basePrefix):]
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return p
}

// isNotFound reports whether a classified error is ErrNotFound.
func isNotFound(err error) bool {
	return errors.Is(err, vault.ErrNotFound)
}
