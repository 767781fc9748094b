package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/storage/migrations"
	"utxo-cohort-lab/internal/storage/sqlite"
)

func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "cohorts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.RunSqliteMigrations(ctx, db, zaptest.NewLogger(t)))
	return db
}

func rows(values ...string) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out
}

func TestColumnStore_AppendAndRead(t *testing.T) {
	store := sqlite.NewColumnStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Reset(ctx, "all.supply", 7, 2))
	require.NoError(t, store.AppendBatch(ctx, []storage.ColumnAppend{
		{Name: "all.supply", Start: 0, Rows: rows("aa", "bb", "cc")},
	}))

	h, err := store.Header(ctx, "all.supply")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), h.Version)
	assert.Equal(t, 2, h.Width)
	assert.Equal(t, uint64(3), h.Len)

	got, err := store.ReadRange(ctx, "all.supply", 1, 100)
	require.NoError(t, err)
	assert.Equal(t, rows("bb", "cc"), got)

	got, err = store.ReadRange(ctx, "all.supply", 3, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestColumnStore_AppendBatchAtomic(t *testing.T) {
	store := sqlite.NewColumnStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Reset(ctx, "a", 1, 1))
	require.NoError(t, store.Reset(ctx, "b", 1, 1))
	require.NoError(t, store.AppendBatch(ctx, []storage.ColumnAppend{{Name: "b", Start: 0, Rows: rows("x")}}))

	err := store.AppendBatch(ctx, []storage.ColumnAppend{
		{Name: "a", Start: 0, Rows: rows("1")},
		{Name: "b", Start: 0, Rows: rows("2")},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	h, err := store.Header(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h.Len, "no rows may be written on a failed batch")

	err = store.AppendBatch(ctx, []storage.ColumnAppend{{Name: "a", Start: 3, Rows: rows("1")}})
	assert.ErrorIs(t, err, storage.ErrGap)

	err = store.AppendBatch(ctx, []storage.ColumnAppend{{Name: "a", Start: 0, Rows: rows("12")}})
	assert.ErrorIs(t, err, storage.ErrWidthMismatch)

	err = store.AppendBatch(ctx, []storage.ColumnAppend{{Name: "nope", Start: 0, Rows: rows("1")}})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestColumnStore_ResetAndTruncate(t *testing.T) {
	store := sqlite.NewColumnStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Reset(ctx, "c", 1, 1))
	require.NoError(t, store.AppendBatch(ctx, []storage.ColumnAppend{{Name: "c", Start: 0, Rows: rows("a", "b", "c")}}))

	require.NoError(t, store.Truncate(ctx, "c", 1))
	require.NoError(t, store.Truncate(ctx, "c", 10))
	got, err := store.ReadRange(ctx, "c", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, rows("a"), got)

	require.NoError(t, store.Reset(ctx, "c", 2, 1))
	h, err := store.Header(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.Version)
	assert.Equal(t, uint64(0), h.Len)

	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, names)
}

func TestCheckpointStore(t *testing.T) {
	store := sqlite.NewCheckpointStore(setupTestDB(t))
	ctx := context.Background()

	for _, h := range []uint64{10, 20, 30, 40} {
		require.NoError(t, store.Save(ctx, &storage.Checkpoint{Height: h, Version: 1, Payload: []byte("p")}))
	}
	require.NoError(t, store.Save(ctx, &storage.Checkpoint{Height: 25, Version: 2, Payload: []byte("q")}))

	cp, err := store.Latest(ctx, 29, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cp.Height)
	assert.Equal(t, []byte("p"), cp.Payload)

	_, err = store.Latest(ctx, 9, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.DeleteAbove(ctx, 30))
	require.NoError(t, store.Prune(ctx, 2))

	heights, err := store.Heights(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{25, 30}, heights)

	assert.ErrorIs(t, store.Save(ctx, &storage.Checkpoint{Height: 1}), storage.ErrInvalidInput)
}
