package pkcerest

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jbombled/genpwd-sync/internal/authflow"
	"github.com/jbombled/genpwd-sync/internal/credstore"
	"github.com/jbombled/genpwd-sync/internal/vault"
)

const (
	testAccessToken = "rest-test-token"
	testFolderID    = int64(9001)
)

// fakeREST is an in-memory stand-in for the backend: one vault folder
// of files addressed by numeric ID, JSON envelopes with result codes.
type fakeREST struct {
	mu          sync.Mutex
	files       map[string]*restFile
	nextID      int64
	createCalls int
	quota       int64
	usedQuota   int64
	modOverride string
	failCode    int // non-zero: every envelope endpoint reports it
}

type restFile struct {
	id   int64
	name string
	data []byte
	mod  time.Time
}

func newFakeREST() *fakeREST {
	return &fakeREST{files: map[string]*restFile{}, nextID: 100}
}

func (f *fakeREST) put(name string, data []byte, mod time.Time) *restFile {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.putLocked(name, data, mod)
}

func (f *fakeREST) putLocked(name string, data []byte, mod time.Time) *restFile {
	file, ok := f.files[name]
	if !ok {
		f.nextID++
		file = &restFile{id: f.nextID, name: name}
		f.files[name] = file
	}

	file.data = data
	file.mod = mod

	return file
}

func (f *fakeREST) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.files)
}

func (f *fakeREST) entryJSON(file *restFile) map[string]any {
	mod := file.mod.UTC().Format(time.RFC1123Z)
	if f.modOverride != "" {
		mod = f.modOverride
	}

	h := fnv.New64a()
	h.Write(file.data)

	return map[string]any{
		"fileid":   file.id,
		"name":     file.name,
		"size":     len(file.data),
		"modified": mod,
		"hash":     h.Sum64(),
		"isfolder": false,
	}
}

func (f *fakeREST) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testAccessToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		if f.failCode != 0 && r.URL.Path != "/downloadfile" {
			writeEnvelope(w, map[string]any{"result": f.failCode, "error": "injected failure"})
			return
		}

		switch r.URL.Path {
		case "/userinfo":
			writeEnvelope(w, map[string]any{"result": 0, "quota": f.quota, "usedquota": f.usedQuota})
		case "/createfolderifnotexists":
			f.createCalls++
			writeEnvelope(w, map[string]any{"result": 0, "metadata": map[string]any{"folderid": testFolderID}})
		case "/uploadfile":
			f.serveUpload(w, r)
		case "/listfolder":
			f.serveList(w, r)
		case "/downloadfile":
			f.serveDownload(w, r)
		case "/deletefile":
			f.serveDelete(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeREST) serveUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("folderid") != strconv.FormatInt(testFolderID, 10) {
		writeEnvelope(w, map[string]any{"result": codeFolderMissing, "error": "folder not found"})
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeEnvelope(w, map[string]any{"result": codeInternalUpload, "error": "read failed"})
		return
	}

	file := f.putLocked(q.Get("filename"), data, time.Now())
	writeEnvelope(w, map[string]any{"result": 0, "metadata": []any{f.entryJSON(file)}})
}

func (f *fakeREST) serveList(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("folderid") != strconv.FormatInt(testFolderID, 10) {
		writeEnvelope(w, map[string]any{"result": codeFolderMissing, "error": "folder not found"})
		return
	}

	names := make([]string, 0, len(f.files))
	for name := range f.files {
		names = append(names, name)
	}

	sort.Strings(names)

	contents := make([]any, 0, len(names)+1)
	for _, name := range names {
		contents = append(contents, f.entryJSON(f.files[name]))
	}

	// A nested folder always interleaves with the files.
	contents = append(contents, map[string]any{
		"folderid": testFolderID + 1,
		"name":     "attachments",
		"modified": time.Now().UTC().Format(time.RFC1123Z),
		"isfolder": true,
	})

	writeEnvelope(w, map[string]any{
		"result":   0,
		"metadata": map[string]any{"folderid": testFolderID, "contents": contents},
	})
}

func (f *fakeREST) serveDownload(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.URL.Query().Get("fileid"), 10, 64)

	for _, file := range f.files {
		if file.id == id {
			w.Write(file.data)
			return
		}
	}

	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeREST) serveDelete(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.URL.Query().Get("fileid"), 10, 64)

	for name, file := range f.files {
		if file.id == id {
			delete(f.files, name)
			writeEnvelope(w, map[string]any{"result": 0})

			return
		}
	}

	writeEnvelope(w, map[string]any{"result": codeFileMissing, "error": "file not found"})
}

func writeEnvelope(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// nopCipher stands in for the hardware-backed cipher in tests.
type nopCipher struct{}

func (nopCipher) Encrypt(_ string, plaintext []byte) ([]byte, []byte, error) {
	return append([]byte(nil), plaintext...), []byte{0x01}, nil
}

func (nopCipher) Decrypt(_ string, ciphertext, _ []byte) ([]byte, error) {
	return append([]byte(nil), ciphertext...), nil
}

type mapBackend struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMapBackend() *mapBackend {
	return &mapBackend{entries: map[string][]byte{}}
}

func (b *mapBackend) Set(key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[key] = append([]byte(nil), data...)

	return nil
}

func (b *mapBackend) Get(key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.entries[key]
	if !ok {
		return nil, credstore.ErrEntryNotFound
	}

	return append([]byte(nil), data...), nil
}

func (b *mapBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, key)

	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAdapter(t *testing.T, f *fakeREST) *Adapter {
	t.Helper()

	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	m := authflow.New(providerName, &oauth2.Config{ClientID: "client-1"}, discardLogger())
	m.Restore(&oauth2.Token{AccessToken: testAccessToken, Expiry: time.Now().Add(time.Hour)})

	store := credstore.New(providerName, nopCipher{}, newMapBackend(), func() bool { return true }, discardLogger())

	a := New(srv.URL, "", m, store, "account-1", srv.Client(), discardLogger())
	a.client.SetSleepFunc(func(context.Context, time.Duration) error { return nil })

	return a
}

func testSyncData(vaultID string, blob []byte) *vault.SyncData {
	data := &vault.SyncData{
		VaultID:       vaultID,
		VaultName:     "Personal",
		EncryptedData: blob,
		Timestamp:     time.Now().UnixMilli(),
		Version:       2,
		DeviceID:      "device-1",
	}
	data.Checksum = data.Fingerprint()

	return data
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	a := newTestAdapter(t, newFakeREST())
	ctx := context.Background()

	blob := []byte("sealed vault bytes")

	fileID, err := a.Upload(ctx, testSyncData("v1", blob))
	require.NoError(t, err)
	assert.NotEmpty(t, fileID)

	got, err := a.Download(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, blob, got.EncryptedData)
	assert.Equal(t, "v1", got.VaultID)
	assert.Equal(t, got.Fingerprint(), got.Checksum)
	assert.Positive(t, got.Timestamp)
}

func TestUploadIdempotent(t *testing.T) {
	f := newFakeREST()
	a := newTestAdapter(t, f)
	ctx := context.Background()

	id1, err := a.Upload(ctx, testSyncData("v1", []byte("first")))
	require.NoError(t, err)

	id2, err := a.Upload(ctx, testSyncData("v1", []byte("second")))
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, f.count())

	got, err := a.Download(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got.EncryptedData)
}

func TestDownloadMissing(t *testing.T) {
	a := newTestAdapter(t, newFakeREST())

	_, err := a.Download(context.Background(), "absent")
	require.Error(t, err)
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestListFiltersForeignObjects(t *testing.T) {
	f := newFakeREST()
	f.put("vault_v1.enc", []byte("one"), time.Now())
	f.put("vault_v2.enc", []byte("two"), time.Now())
	f.put("notes.txt", []byte("not a vault"), time.Now())

	a := newTestAdapter(t, f)

	metas, err := a.List(context.Background())
	require.NoError(t, err)
	require.Len(t, metas, 2)

	names := []string{metas[0].FileName, metas[1].FileName}
	assert.ElementsMatch(t, []string{"vault_v1.enc", "vault_v2.enc"}, names)
}

func TestDeleteIdempotent(t *testing.T) {
	f := newFakeREST()
	a := newTestAdapter(t, f)
	ctx := context.Background()

	fileID, err := a.Upload(ctx, testSyncData("v1", []byte("blob")))
	require.NoError(t, err)

	require.NoError(t, a.Delete(ctx, fileID))
	assert.Equal(t, 0, f.count())

	// Deleting an already-deleted object is not an error.
	require.NoError(t, a.Delete(ctx, fileID))
}

func TestMetadataAbsentVault(t *testing.T) {
	a := newTestAdapter(t, newFakeREST())

	meta, err := a.Metadata(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestMetadataCarriesContentHash(t *testing.T) {
	f := newFakeREST()
	f.put("vault_v1.enc", []byte("payload"), time.Now())

	a := newTestAdapter(t, f)

	meta, err := a.Metadata(context.Background(), "v1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.NotEmpty(t, meta.Checksum)
	assert.Equal(t, int64(len("payload")), meta.Size)
}

func TestMetadataRejectsUnparseableTimestamp(t *testing.T) {
	f := newFakeREST()
	f.put("vault_v1.enc", []byte("blob"), time.Now())
	f.modOverride = "yesterday around noon"

	a := newTestAdapter(t, f)

	_, err := a.Metadata(context.Background(), "v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable")
}

func TestHasNewerVersion(t *testing.T) {
	f := newFakeREST()
	mod := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.put("vault_v1.enc", []byte("blob"), mod)

	a := newTestAdapter(t, f)
	ctx := context.Background()

	newer, err := a.HasNewerVersion(ctx, "v1", mod.UnixMilli()-1)
	require.NoError(t, err)
	assert.True(t, newer)

	// Equal timestamps are not newer.
	newer, err = a.HasNewerVersion(ctx, "v1", mod.UnixMilli())
	require.NoError(t, err)
	assert.False(t, newer)

	newer, err = a.HasNewerVersion(ctx, "absent", 0)
	require.NoError(t, err)
	assert.False(t, newer)
}

func TestQuotaFromUserinfo(t *testing.T) {
	f := newFakeREST()
	f.quota = 1000
	f.usedQuota = 400

	a := newTestAdapter(t, f)

	q, err := a.Quota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), q.TotalBytes)
	assert.Equal(t, int64(400), q.UsedBytes)
	assert.Equal(t, int64(600), q.FreeBytes)
}

func TestQuotaUnknownWhenUnreported(t *testing.T) {
	a := newTestAdapter(t, newFakeREST())

	q, err := a.Quota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, vault.UnknownQuota(), q)
}

func TestContainerResolvedOnce(t *testing.T) {
	f := newFakeREST()
	a := newTestAdapter(t, f)
	ctx := context.Background()

	_, err := a.Upload(ctx, testSyncData("v1", []byte("one")))
	require.NoError(t, err)

	_, err = a.List(ctx)
	require.NoError(t, err)

	_, err = a.Metadata(ctx, "v1")
	require.NoError(t, err)

	f.mu.Lock()
	calls := f.createCalls
	f.mu.Unlock()

	assert.Equal(t, 1, calls)
}

func TestResultCodeClassification(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"token invalid", codeTokenInvalid, vault.ErrAuthExpired},
		{"login required", codeLoginRequired, vault.ErrAuthExpired},
		{"access denied", codeAccessDenied, vault.ErrPermissionDenied},
		{"folder missing", codeFolderMissing, vault.ErrNotFound},
		{"over quota", codeQuotaExceeded, vault.ErrQuotaExceeded},
		{"too many logins", codeTooManyLogins, vault.ErrRateLimited},
		{"internal error", codeInternalError, vault.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeREST()
			f.failCode = tt.code

			a := newTestAdapter(t, f)

			_, err := a.List(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), fmt.Sprintf("result %d", tt.code))
		})
	}
}

func TestUnknownResultCodeIsGeneric(t *testing.T) {
	f := newFakeREST()
	f.failCode = 1234

	a := newTestAdapter(t, f)

	_, err := a.List(context.Background())
	require.Error(t, err)

	var verr *vault.Error
	require.ErrorAs(t, err, &verr)
	assert.Nil(t, verr.Err)
}

func TestRejectedTokenClassifiedAuthExpired(t *testing.T) {
	f := newFakeREST()

	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	m := authflow.New(providerName, &oauth2.Config{ClientID: "client-1"}, discardLogger())
	m.Restore(&oauth2.Token{AccessToken: "revoked", Expiry: time.Now().Add(time.Hour)})

	store := credstore.New(providerName, nopCipher{}, newMapBackend(), func() bool { return true }, discardLogger())

	a := New(srv.URL, "", m, store, "account-1", srv.Client(), discardLogger())
	a.client.SetSleepFunc(func(context.Context, time.Duration) error { return nil })

	_, err := a.List(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, vault.ErrAuthExpired)
}
