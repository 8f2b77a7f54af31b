package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestGetAbsent(t *testing.T) {
	s := openStore(t)

	e, err := s.Get(context.Background(), "webdav", "v1")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestRecordPushThenPullSameRow(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPush(ctx, "webdav", "v1", 1000, "abc"))

	e, err := s.Get(ctx, "webdav", "v1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(1000), e.LastPushMS)
	assert.Equal(t, int64(0), e.LastPullMS)
	assert.Equal(t, "abc", e.RemoteChecksum)
	assert.Positive(t, e.UpdatedAtMS)

	// A later pull updates its own watermark without erasing the push.
	require.NoError(t, s.RecordPull(ctx, "webdav", "v1", 2000, "def"))

	e, err = s.Get(ctx, "webdav", "v1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(1000), e.LastPushMS)
	assert.Equal(t, int64(2000), e.LastPullMS)
	assert.Equal(t, "def", e.RemoteChecksum)
}

func TestRecordPushOverwrites(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPush(ctx, "webdav", "v1", 1000, "abc"))
	require.NoError(t, s.RecordPush(ctx, "webdav", "v1", 3000, "ghi"))

	e, err := s.Get(ctx, "webdav", "v1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(3000), e.LastPushMS)
	assert.Equal(t, "ghi", e.RemoteChecksum)
}

func TestListFiltersByProvider(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPush(ctx, "webdav", "v2", 1, ""))
	require.NoError(t, s.RecordPush(ctx, "webdav", "v1", 2, ""))
	require.NoError(t, s.RecordPush(ctx, "s3vault", "v1", 3, ""))

	entries, err := s.List(ctx, "webdav")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Ordered by vault ID.
	assert.Equal(t, "v1", entries[0].VaultID)
	assert.Equal(t, "v2", entries[1].VaultID)
}

func TestForget(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPush(ctx, "webdav", "v1", 1, ""))
	require.NoError(t, s.Forget(ctx, "webdav", "v1"))

	e, err := s.Get(ctx, "webdav", "v1")
	require.NoError(t, err)
	assert.Nil(t, e)

	// Forgetting an absent row is not an error.
	require.NoError(t, s.Forget(ctx, "webdav", "v1"))
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordPush(ctx, "webdav", "v1", 1000, "abc"))
	require.NoError(t, s.Close())

	// Reopening re-runs migrations; they must be idempotent.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	e, err := s.Get(ctx, "webdav", "v1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(1000), e.LastPushMS)
}

func TestUpdatedAtAdvances(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	require.NoError(t, s.RecordPush(ctx, "webdav", "v1", 1, ""))

	s.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, s.RecordPull(ctx, "webdav", "v1", 2, ""))

	e, err := s.Get(ctx, "webdav", "v1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, base.Add(time.Hour).UnixMilli(), e.UpdatedAtMS)
}
