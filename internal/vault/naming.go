package vault

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ContentType is the media type for uploaded vault objects on every backend.
const ContentType = "application/octet-stream"

const (
	objectPrefix = "vault_"
	objectSuffix = ".enc"
)

// ObjectName returns the remote object name for a vault ID. The name is
// recomputed by convention, never stored, so adapters re-resolve the
// backend file ID on every metadata call unless they cache it.
//
// Vault IDs are NFC-normalized first: macOS file APIs hand out NFD, and
// an accented vault name must map to the same remote object from every
// device.
func ObjectName(vaultID string) string {
	return objectPrefix + norm.NFC.String(vaultID) + objectSuffix
}

// IsVaultObject reports whether a remote name follows the vault naming
// convention. Listing results are filtered through this so foreign files
// in a shared container never surface as vaults.
func IsVaultObject(name string) bool {
	return strings.HasPrefix(name, objectPrefix) &&
		strings.HasSuffix(name, objectSuffix) &&
		len(name) > len(objectPrefix)+len(objectSuffix)
}

// VaultIDFromObject extracts the vault ID from a conventional object
// name. Returns "" when the name does not match the convention.
func VaultIDFromObject(name string) string {
	if !IsVaultObject(name) {
		return ""
	}

	return strings.TrimSuffix(strings.TrimPrefix(name, objectPrefix), objectSuffix)
}
