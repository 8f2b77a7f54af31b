// Package journal persists per-vault sync watermarks in a local SQLite
// database: when each vault was last pushed to and pulled from each
// provider, and the checksum observed remotely at that moment. The
// journal is advisory bookkeeping for the caller's sync decisions; it
// holds no vault content and no secrets.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one journal row.
type Entry struct {
	Provider       string
	VaultID        string
	LastPushMS     int64
	LastPullMS     int64
	RemoteChecksum string
	UpdatedAtMS    int64
}

// Store is an open journal database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating as needed) the journal at path and applies any
// pending migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids busy errors.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()

		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("applying journal migrations: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordPush updates the push watermark for one vault, creating the row
// on first contact. Pull state on the same row is preserved.
func (s *Store) RecordPush(ctx context.Context, provider, vaultID string, timestampMS int64, checksum string) error {
	return s.upsert(ctx, provider, vaultID, "last_push_ms", timestampMS, checksum)
}

// RecordPull updates the pull watermark for one vault.
func (s *Store) RecordPull(ctx context.Context, provider, vaultID string, timestampMS int64, checksum string) error {
	return s.upsert(ctx, provider, vaultID, "last_pull_ms", timestampMS, checksum)
}

func (s *Store) upsert(ctx context.Context, provider, vaultID, column string, timestampMS int64, checksum string) error {
	// column is one of two compile-time constants, never user input.
	query := fmt.Sprintf(`
		INSERT INTO sync_journal (provider, vault_id, %[1]s, remote_checksum, updated_at_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, vault_id) DO UPDATE SET
			%[1]s = excluded.%[1]s,
			remote_checksum = excluded.remote_checksum,
			updated_at_ms = excluded.updated_at_ms`, column)

	_, err := s.db.ExecContext(ctx, query, provider, vaultID, timestampMS, checksum, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("recording %s for %s/%s: %w", column, provider, vaultID, err)
	}

	return nil
}

// Get returns the journal row for one vault, or nil when the vault has
// never been synced against this provider.
func (s *Store) Get(ctx context.Context, provider, vaultID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider, vault_id, last_push_ms, last_pull_ms, remote_checksum, updated_at_ms
		FROM sync_journal
		WHERE provider = ? AND vault_id = ?`, provider, vaultID)

	var e Entry

	err := row.Scan(&e.Provider, &e.VaultID, &e.LastPushMS, &e.LastPullMS, &e.RemoteChecksum, &e.UpdatedAtMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading journal for %s/%s: %w", provider, vaultID, err)
	}

	return &e, nil
}

// List returns every journal row for one provider, ordered by vault ID.
func (s *Store) List(ctx context.Context, provider string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, vault_id, last_push_ms, last_pull_ms, remote_checksum, updated_at_ms
		FROM sync_journal
		WHERE provider = ?
		ORDER BY vault_id`, provider)
	if err != nil {
		return nil, fmt.Errorf("listing journal for %s: %w", provider, err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Provider, &e.VaultID, &e.LastPushMS, &e.LastPullMS, &e.RemoteChecksum, &e.UpdatedAtMS); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

// Forget removes the row for one vault. Removing an absent row is not
// an error.
func (s *Store) Forget(ctx context.Context, provider, vaultID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_journal WHERE provider = ? AND vault_id = ?`, provider, vaultID)
	if err != nil {
		return fmt.Errorf("forgetting journal for %s/%s: %w", provider, vaultID, err)
	}

	return nil
}
