package storage

import (
	"context"
	"time"
)

// ColumnHeader describes one stored column.
type ColumnHeader struct {
	Name    string // stable series name, e.g. "age_range[_1y_to_2y].supply"
	Version uint64 // computation version the rows were produced with
	Width   int    // bytes per row
	Len     uint64 // number of stored rows
}

// ColumnAppend is a run of rows appended to one column starting at index Start.
type ColumnAppend struct {
	Name  string
	Start uint64
	Rows  [][]byte
}

// ColumnStore provides access to versioned, append-only, fixed-width columns
// indexed from zero.
type ColumnStore interface {
	// Header returns the header of a column. Returns ErrNotFound if not exists.
	Header(ctx context.Context, name string) (*ColumnHeader, error)

	// Reset drops every row of a column and (re)creates it with the given version and width.
	Reset(ctx context.Context, name string, version uint64, width int) error

	// AppendBatch appends rows to several columns atomically. Fails the entire batch
	// with ErrDuplicateKey if any Start is below the column length, ErrGap if above,
	// ErrNotFound if a column does not exist.
	AppendBatch(ctx context.Context, batch []ColumnAppend) error

	// ReadRange returns rows [from, to) of a column. to is clamped to the column length.
	ReadRange(ctx context.Context, name string, from, to uint64) ([][]byte, error)

	// Truncate drops rows at index >= n. No-op if the column is already shorter.
	Truncate(ctx context.Context, name string, n uint64) error

	// Names returns every column name in lexical order.
	Names(ctx context.Context) ([]string, error)
}

// Checkpoint is a serialized engine snapshot taken after a height was fully flushed.
type Checkpoint struct {
	Height    uint64    // last height applied to the snapshot
	Version   uint64    // engine computation version
	Payload   []byte    // encoded snapshot
	CreatedAt time.Time // when the checkpoint was written
}

// CheckpointStore provides access to engine snapshots.
type CheckpointStore interface {
	// Save stores a checkpoint, replacing any checkpoint at the same height.
	Save(ctx context.Context, cp *Checkpoint) error

	// Latest returns the checkpoint with the highest height <= maxHeight and the
	// given version. Returns ErrNotFound if none exists.
	Latest(ctx context.Context, maxHeight, version uint64) (*Checkpoint, error)

	// DeleteAbove removes every checkpoint with height > h.
	DeleteAbove(ctx context.Context, h uint64) error

	// Prune keeps the newest keep checkpoints and removes the rest.
	Prune(ctx context.Context, keep int) error

	// Heights returns stored checkpoint heights in ascending order.
	Heights(ctx context.Context) ([]uint64, error)
}
