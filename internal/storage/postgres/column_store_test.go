package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utxo-cohort-lab/internal/storage"
)

func TestColumnStore_AppendAndRead(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewColumnStore(pool)
	ctx := context.Background()

	_, err := store.Header(ctx, "all.supply")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Reset(ctx, "all.supply", 5, 2))
	require.NoError(t, store.AppendBatch(ctx, []storage.ColumnAppend{
		{Name: "all.supply", Start: 0, Rows: rows("aa", "bb", "cc")},
	}))
	require.NoError(t, store.AppendBatch(ctx, []storage.ColumnAppend{
		{Name: "all.supply", Start: 3, Rows: rows("dd")},
	}))

	h, err := store.Header(ctx, "all.supply")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), h.Version)
	assert.Equal(t, 2, h.Width)
	assert.Equal(t, uint64(4), h.Len)

	got, err := store.ReadRange(ctx, "all.supply", 2, ^uint64(0))
	require.NoError(t, err)
	assert.Equal(t, rows("cc", "dd"), got)
}

func TestColumnStore_AppendBatchAtomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewColumnStore(pool)
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
	assert.Equal(t, uint64(0), h.Len)

	err = store.AppendBatch(ctx, []storage.ColumnAppend{{Name: "a", Start: 2, Rows: rows("1")}})
	assert.ErrorIs(t, err, storage.ErrGap)

	err = store.AppendBatch(ctx, []storage.ColumnAppend{{Name: "missing", Start: 0, Rows: rows("1")}})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestColumnStore_TruncateAndReset(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewColumnStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Reset(ctx, "c", 1, 1))
	require.NoError(t, store.AppendBatch(ctx, []storage.ColumnAppend{{Name: "c", Start: 0, Rows: rows("a", "b", "c")}}))

	require.NoError(t, store.Truncate(ctx, "c", 2))
	require.NoError(t, store.Truncate(ctx, "c", 5))
	h, err := store.Header(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.Len)

	assert.ErrorIs(t, store.Truncate(ctx, "missing", 0), storage.ErrNotFound)

	require.NoError(t, store.Reset(ctx, "c", 2, 1))
	got, err := store.ReadRange(ctx, "c", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, names)
}
