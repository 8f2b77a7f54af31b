package graphdrive

import (
	"fmt"
	"time"

	"github.com/jbombled/genpwd-sync/internal/vault"
)

// driveItem mirrors the Graph API driveItem JSON. Unexported — callers
// only ever see vault.FileMetadata via toMetadata.
type driveItem struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	ETag                 string       `json:"eTag"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA1Hash     string `json:"sha1Hash"`
	SHA256Hash   string `json:"sha256Hash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type childrenResponse struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

// driveResponse carries the quota facet from GET /me/drive.
type driveResponse struct {
	ID    string      `json:"id"`
	Quota *quotaFacet `json:"quota"`
}

type quotaFacet struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// toMetadata normalizes a driveItem into contract metadata. The
// timestamp is parsed strictly: Graph always emits RFC 3339, and a
// fabricated fallback would corrupt newness comparisons.
func (d *driveItem) toMetadata() (*vault.FileMetadata, error) {
	modified, err := time.Parse(time.RFC3339, d.LastModifiedDateTime)
	if err != nil {
		return nil, &vault.Error{
			Provider: providerName,
			Message:  fmt.Sprintf("unparseable lastModifiedDateTime %q for item %s", d.LastModifiedDateTime, d.ID),
		}
	}

	meta := &vault.FileMetadata{
		FileID:       d.ID,
		FileName:     d.Name,
		Size:         d.Size,
		ModifiedTime: modified.UnixMilli(),
		Version:      d.ETag,
	}

	// SHA-256 when present, else quickXorHash; never fabricated.
	if d.File != nil && d.File.Hashes != nil {
		if d.File.Hashes.SHA256Hash != "" {
			meta.Checksum = d.File.Hashes.SHA256Hash
		} else {
			meta.Checksum = d.File.Hashes.QuickXorHash
		}
	}

	return meta, nil
}
