package vault

import "context"

// Provider is the sync orchestration contract. One instance serves one
// configured backend; independent instances share no state and may run
// in parallel. Every method may block for network I/O — callers impose
// timeouts through ctx.
//
// Errors returned by any method are classified into this package's
// taxonomy (ErrNetwork, ErrAuthExpired, ...); no backend-native error
// type crosses this boundary.
type Provider interface {
	// Name returns the stable provider identifier ("gdrive", "webdav", ...)
	// used as the credential namespace.
	Name() string

	// IsAuthenticated reports whether a session is present and verified
	// with one live backend call. A merely-non-nil cached token is not
	// enough.
	IsAuthenticated(ctx context.Context) bool

	// Authenticate establishes a session. For static-credential backends
	// this is a connectivity probe; for OAuth backends it opens an
	// external browser flow and blocks until the callback arrives, the
	// flow times out, or ctx is canceled.
	Authenticate(ctx context.Context) error

	// Disconnect clears the in-memory session. Safe to call when already
	// disconnected.
	Disconnect()

	// Upload creates or replaces the remote object for data.VaultID and
	// returns its backend file ID. Repeated uploads for the same vault
	// overwrite in place — exactly one remote object per vault.
	Upload(ctx context.Context, data *SyncData) (string, error)

	// Download fetches the vault object by naming convention. Fails with
	// ErrNotFound when no object matches.
	Download(ctx context.Context, vaultID string) (*SyncData, error)

	// List returns metadata for every vault object in the provider's
	// container. Ordering is not defined.
	List(ctx context.Context) ([]FileMetadata, error)

	// Delete removes a remote object by file ID. An already-absent
	// object is success, not ErrNotFound.
	Delete(ctx context.Context, fileID string) error

	// Metadata returns the remote metadata for one vault, or (nil, nil)
	// when no remote object exists.
	Metadata(ctx context.Context, vaultID string) (*FileMetadata, error)

	// HasNewerVersion reports whether the remote object's modification
	// time is strictly after localTimestampMS. Returns false, not an
	// error, when no remote object exists.
	HasNewerVersion(ctx context.Context, vaultID string, localTimestampMS int64) (bool, error)

	// Quota returns backend storage usage, or the QuotaUnknown sentinel
	// values for backends without a usage endpoint.
	Quota(ctx context.Context) (Quota, error)
}
