package pkcerest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jbombled/genpwd-sync/internal/vault"
)

// apiEnvelope is the response envelope every JSON endpoint carries.
// The backend reports failures as a non-zero result code inside an
// HTTP 200, so status-based classification never sees them.
type apiEnvelope struct {
	Result  int    `json:"result"`
	Message string `json:"error"`
}

// Backend result codes that map onto the shared error taxonomy.
const (
	codeLoginRequired  = 1000
	codeLoginFailed    = 2000
	codeParentMissing  = 2002
	codeAccessDenied   = 2003
	codeFolderMissing  = 2005
	codeQuotaExceeded  = 2008
	codeFileMissing    = 2009
	codeTokenInvalid   = 2094
	codeTooManyLogins  = 4000
	codeInternalError  = 5000
	codeInternalUpload = 5001
)

// err translates a non-zero result code into a classified error.
func (e *apiEnvelope) err() error {
	if e.Result == 0 {
		return nil
	}

	wrapped := &vault.Error{
		Provider: providerName,
		Message:  fmt.Sprintf("result %d: %s", e.Result, e.Message),
	}

	switch e.Result {
	case codeLoginRequired, codeLoginFailed, codeTokenInvalid:
		wrapped.Err = vault.ErrAuthExpired
	case codeAccessDenied:
		wrapped.Err = vault.ErrPermissionDenied
	case codeParentMissing, codeFolderMissing, codeFileMissing:
		wrapped.Err = vault.ErrNotFound
	case codeQuotaExceeded:
		wrapped.Err = vault.ErrQuotaExceeded
	case codeTooManyLogins:
		wrapped.Err = vault.ErrRateLimited
	case codeInternalError, codeInternalUpload:
		wrapped.Err = vault.ErrNetwork
	}

	return wrapped
}

// fileEntry is one listing entry. Folders interleave with files in
// folder contents; IsFolder separates them.
type fileEntry struct {
	FileID   int64  `json:"fileid"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
	Hash     uint64 `json:"hash"`
	IsFolder bool   `json:"isfolder"`
}

// modifiedFormats covers the timestamp shapes the backend emits.
var modifiedFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
}

// toMetadata normalizes a listing entry. Timestamps parse strictly: a
// fabricated fallback would corrupt newness comparisons.
func (f *fileEntry) toMetadata() (*vault.FileMetadata, error) {
	var (
		modified time.Time
		err      error
	)

	for _, format := range modifiedFormats {
		modified, err = time.Parse(format, f.Modified)
		if err == nil {
			break
		}
	}

	if err != nil {
		return nil, &vault.Error{
			Provider: providerName,
			Message:  fmt.Sprintf("unparseable modified time %q for file %d", f.Modified, f.FileID),
		}
	}

	meta := &vault.FileMetadata{
		FileID:       strconv.FormatInt(f.FileID, 10),
		FileName:     f.Name,
		Size:         f.Size,
		ModifiedTime: modified.UnixMilli(),
	}

	if f.Hash != 0 {
		meta.Checksum = strconv.FormatUint(f.Hash, 10)
	}

	return meta, nil
}

type folderResponse struct {
	apiEnvelope

	Metadata struct {
		FolderID int64       `json:"folderid"`
		Contents []fileEntry `json:"contents"`
	} `json:"metadata"`
}

type uploadResponse struct {
	apiEnvelope

	Metadata []fileEntry `json:"metadata"`
}

type deleteResponse struct {
	apiEnvelope
}

type userinfoResponse struct {
	apiEnvelope

	Quota     int64 `json:"quota"`
	UsedQuota int64 `json:"usedquota"`
}
