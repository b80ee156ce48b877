//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xwander/tablewright/internal/config"
)

func TestOpenMemoryStore(t *testing.T) {
	store, err := Open(context.Background(), config.StoreConfig{Path: ":memory:"})
	require.NoError(t, err)
	require.Equal(t, "libsql", store.Driver())
	require.Equal(t, ":memory:", store.Location())
	require.Equal(t, 1, store.DB.Stats().MaxOpenConnections)
	require.NoError(t, store.Close())
}

func TestOpenLocalFileUsesWAL(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{Path: filepath.Join(t.TempDir(), "journal", "runs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.Equal(t, 1, store.DB.Stats().MaxOpenConnections)

	var mode string
	require.NoError(t, store.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	require.Contains(t, mode, "wal")

	var busy int
	require.NoError(t, store.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
	require.Equal(t, busyTimeoutMs, busy)
}

func TestMigrateRecordsSchemaVersion(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Zero(t, version)

	require.NoError(t, store.Migrate(ctx))
	version, err = store.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, len(migrations), version)

	var column string
	require.NoError(t, store.DB.QueryRowContext(ctx,
		"SELECT name FROM pragma_table_info('batch_runs') WHERE name = 'record_ids'").Scan(&column))
	require.Equal(t, "record_ids", column)
}
