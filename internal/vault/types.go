// Package vault defines the provider-agnostic cloud sync contract:
// the Provider interface every backend adapter implements, the value
// types that cross it, and the shared error taxonomy. Callers program
// against this package only — no backend type leaks through.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
)

// QuotaUnknown is the sentinel for backends without a quota API.
const QuotaUnknown = -1

// SyncData is one vault snapshot in transit. EncryptedData is opaque
// ciphertext — the sync layer never inspects or re-encrypts it.
type SyncData struct {
	VaultID       string
	VaultName     string
	EncryptedData []byte
	Timestamp     int64 // milliseconds since epoch
	Version       int
	DeviceID      string
	Checksum      string // hex SHA-256 of EncryptedData
}

// Fingerprint returns the hex SHA-256 of EncryptedData. Adapters use it
// to fill Checksum when the caller left it empty.
func (d *SyncData) Fingerprint() string {
	sum := sha256.Sum256(d.EncryptedData)
	return hex.EncodeToString(sum[:])
}

// FileMetadata describes one remote vault object, normalized from the
// backend's native listing/stat shape. FileID is backend-opaque; callers
// must never parse it.
type FileMetadata struct {
	FileID       string
	FileName     string
	Size         int64
	ModifiedTime int64  // milliseconds since epoch
	Checksum     string // empty when the backend exposes no native checksum
	Version      string // empty when the backend has no versioning
}

// Quota reports backend storage usage. All fields are QuotaUnknown for
// backends that expose no usage endpoint.
type Quota struct {
	TotalBytes int64
	UsedBytes  int64
	FreeBytes  int64
}

// UnknownQuota returns the all-unknown sentinel value.
func UnknownQuota() Quota {
	return Quota{TotalBytes: QuotaUnknown, UsedBytes: QuotaUnknown, FreeBytes: QuotaUnknown}
}

// Newer reports whether the remote object described by meta is strictly
// newer than the local timestamp. A nil meta (no remote object) is never
// newer. Shared by every adapter's HasNewerVersion.
func Newer(meta *FileMetadata, localTimestampMS int64) bool {
	if meta == nil {
		return false
	}

	return meta.ModifiedTime > localTimestampMS
}
