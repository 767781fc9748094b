// Package vec implements versioned, append-only, height-indexed columns over a
// storage.ColumnStore.
//
// A Vec buffers pushed values in memory until FlushAll writes every pending row
// of a set of vecs in one atomic batch. Rows are never rewritten: a stored
// version that differs from the expected version resets the column, and a column
// longer than the engine's resume point is truncated.
package vec

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"utxo-cohort-lab/internal/storage"
)

// ErrVersionMismatch describes a stored column whose version or width differs
// from the expected one. It is reported through Options.OnReset, never returned.
var ErrVersionMismatch = errors.New("column version mismatch")

// Options configures Open.
type Options struct {
	Logger *zap.Logger
	// OnReset is called when a stored column is discarded because its version
	// or width does not match.
	OnReset func(name string, stored, expected uint64)
}

// AnyVec is the type-erased view of a Vec used by FlushAll and Catalog.
type AnyVec interface {
	Name() string
	Version() uint64
	Len() uint64
	StoredLen() uint64
	Truncate(ctx context.Context, n uint64) error

	pending() (storage.ColumnAppend, int)
	commit(n int)
}

// Vec is one named, versioned column of T.
type Vec[T any] struct {
	name    string
	version uint64
	codec   Codec[T]
	store   storage.ColumnStore
	stored  uint64
	buf     []T
	reset   bool
}

// Open returns the column name, creating it if absent and resetting it when the
// stored version or width differs from version.
func Open[T any](ctx context.Context, store storage.ColumnStore, name string, version uint64, codec Codec[T], opts Options) (*Vec[T], error) {
	v := &Vec[T]{name: name, version: version, codec: codec, store: store}
	if err := v.ValidateComputedVersionOrReset(ctx, version, opts); err != nil {
		return nil, err
	}
	return v, nil
}

// ValidateComputedVersionOrReset compares the stored header with expected and
// resets the column on mismatch. Pending rows are dropped either way.
func (v *Vec[T]) ValidateComputedVersionOrReset(ctx context.Context, expected uint64, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	v.version = expected
	v.buf = v.buf[:0]
	v.reset = false

	h, err := v.store.Header(ctx, v.name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := v.store.Reset(ctx, v.name, expected, v.codec.Width()); err != nil {
			return fmt.Errorf("create column %s: %w", v.name, err)
		}
		v.stored = 0
		return nil
	case err != nil:
		return fmt.Errorf("read column %s: %w", v.name, err)
	}

	if h.Version == expected && h.Width == v.codec.Width() {
		v.stored = h.Len
		return nil
	}

	logger.Warn("resetting column",
		zap.String("series", v.name),
		zap.Uint64("stored_version", h.Version),
		zap.Uint64("expected_version", expected),
		zap.Int("stored_width", h.Width),
		zap.Uint64("discarded_rows", h.Len),
		zap.Error(ErrVersionMismatch))

	if err := v.store.Reset(ctx, v.name, expected, v.codec.Width()); err != nil {
		return fmt.Errorf("reset column %s: %w", v.name, err)
	}
	if opts.OnReset != nil {
		opts.OnReset(v.name, h.Version, expected)
	}
	v.stored = 0
	v.reset = true
	return nil
}

// Name returns the series name.
func (v *Vec[T]) Name() string { return v.name }

// Version returns the computation version.
func (v *Vec[T]) Version() uint64 { return v.version }

// Len returns the number of rows including unflushed ones.
func (v *Vec[T]) Len() uint64 { return v.stored + uint64(len(v.buf)) }

// StoredLen returns the number of flushed rows.
func (v *Vec[T]) StoredLen() uint64 { return v.stored }

// WasReset reports whether the last validation discarded stored rows.
func (v *Vec[T]) WasReset() bool { return v.reset }

// PushAt appends value at index i. i must equal Len().
func (v *Vec[T]) PushAt(i uint64, value T) error {
	n := v.Len()
	switch {
	case i < n:
		return fmt.Errorf("%w: %s[%d], length %d", storage.ErrDuplicateKey, v.name, i, n)
	case i > n:
		return fmt.Errorf("%w: %s[%d], length %d", storage.ErrGap, v.name, i, n)
	}
	v.buf = append(v.buf, value)
	return nil
}

// PushIfNeeded appends value at i unless i is already present.
func (v *Vec[T]) PushIfNeeded(i uint64, value T) error {
	if i < v.Len() {
		return nil
	}
	return v.PushAt(i, value)
}

// Get returns the value at index i.
func (v *Vec[T]) Get(ctx context.Context, i uint64) (T, error) {
	var zero T
	if i >= v.Len() {
		return zero, fmt.Errorf("%s[%d]: %w", v.name, i, storage.ErrNotFound)
	}
	if i >= v.stored {
		return v.buf[i-v.stored], nil
	}
	rows, err := v.store.ReadRange(ctx, v.name, i, i+1)
	if err != nil {
		return zero, err
	}
	if len(rows) != 1 {
		return zero, fmt.Errorf("%s[%d]: %w", v.name, i, storage.ErrNotFound)
	}
	return v.codec.Decode(rows[0]), nil
}

// Range returns values [from, to), clamped to Len().
func (v *Vec[T]) Range(ctx context.Context, from, to uint64) ([]T, error) {
	if n := v.Len(); to > n {
		to = n
	}
	if from >= to {
		return nil, nil
	}

	out := make([]T, 0, to-from)
	if from < v.stored {
		end := min(to, v.stored)
		rows, err := v.store.ReadRange(ctx, v.name, from, end)
		if err != nil {
			return nil, err
		}
		if uint64(len(rows)) != end-from {
			return nil, fmt.Errorf("%s: read %d rows, expected %d", v.name, len(rows), end-from)
		}
		for _, r := range rows {
			out = append(out, v.codec.Decode(r))
		}
		from = end
	}
	if from < to {
		out = append(out, v.buf[from-v.stored:to-v.stored]...)
	}
	return out, nil
}

// Truncate drops rows at index >= n, flushed or not.
func (v *Vec[T]) Truncate(ctx context.Context, n uint64) error {
	if n >= v.stored {
		if keep := n - v.stored; keep < uint64(len(v.buf)) {
			v.buf = v.buf[:keep]
		}
		return nil
	}
	if err := v.store.Truncate(ctx, v.name, n); err != nil {
		return fmt.Errorf("truncate %s: %w", v.name, err)
	}
	v.stored = n
	v.buf = v.buf[:0]
	return nil
}

func (v *Vec[T]) pending() (storage.ColumnAppend, int) {
	a := storage.ColumnAppend{Name: v.name, Start: v.stored}
	if len(v.buf) == 0 {
		return a, 0
	}
	w := v.codec.Width()
	block := make([]byte, w*len(v.buf))
	a.Rows = make([][]byte, len(v.buf))
	for i, value := range v.buf {
		row := block[i*w : (i+1)*w : (i+1)*w]
		v.codec.Encode(row, value)
		a.Rows[i] = row
	}
	return a, len(v.buf)
}

func (v *Vec[T]) commit(n int) {
	v.stored += uint64(n)
	v.buf = append(v.buf[:0], v.buf[n:]...)
}

// FlushAll writes every pending row of vecs in one AppendBatch. On error no
// vec is advanced and the pending rows stay buffered.
func FlushAll(ctx context.Context, store storage.ColumnStore, vecs []AnyVec) (int, error) {
	batch := make([]storage.ColumnAppend, 0, len(vecs))
	counts := make([]int, 0, len(vecs))
	flushed := make([]AnyVec, 0, len(vecs))
	rows := 0

	for _, v := range vecs {
		a, n := v.pending()
		if n == 0 {
			continue
		}
		batch = append(batch, a)
		counts = append(counts, n)
		flushed = append(flushed, v)
		rows += n
	}
	if len(batch) == 0 {
		return 0, nil
	}

	if err := store.AppendBatch(ctx, batch); err != nil {
		return 0, fmt.Errorf("flush %d columns: %w", len(batch), err)
	}
	for i, v := range flushed {
		v.commit(counts[i])
	}
	return rows, nil
}

// MinLen returns the smallest Len over vecs, or 0 when vecs is empty.
func MinLen(vecs []AnyVec) uint64 {
	if len(vecs) == 0 {
		return 0
	}
	m := vecs[0].Len()
	for _, v := range vecs[1:] {
		m = min(m, v.Len())
	}
	return m
}
