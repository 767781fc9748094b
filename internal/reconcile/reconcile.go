// Package reconcile produces the series of derived cohorts by summing the
// series of the partition buckets each derived cohort is an exact union of.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"utxo-cohort-lab/internal/cohort"
	"utxo-cohort-lab/internal/cohortstate"
	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/vec"
)

// Version is the reconciler's own computation version. A derived series is
// tagged with Version plus the versions of its leaves.
const Version uint64 = 1

// DefaultChunk bounds the rows read from each leaf at once.
const DefaultChunk = 4096

// Derivation is one derived cohort and the partition buckets it sums.
type Derivation struct {
	Def     cohort.Def
	Columns *cohortstate.Columns
	Leaves  []*cohortstate.Columns
}

// leafLen returns the number of heights every leaf holds.
func (d *Derivation) leafLen() uint64 {
	n := ^uint64(0)
	for _, l := range d.Leaves {
		if m := l.Len(); m < n {
			n = m
		}
	}
	return n
}

// Options configures a Reconciler.
type Options struct {
	Workers    int // defaults to runtime.NumCPU()
	Chunk      int // defaults to DefaultChunk
	Logger     *zap.Logger
	VecOptions vec.Options
}

// Reconciler owns the series of every derived cohort.
type Reconciler struct {
	store       storage.ColumnStore
	derivations []*Derivation
	pool        pond.Pool
	chunk       uint64
	logger      *zap.Logger
}

// New opens the derived series of every family in cohort.DerivedFamilies.
// leaves must hold every partition bucket with columns attached; layout is
// the derived cohorts' layout and must be a subset of the leaves' layout.
func New(ctx context.Context, store storage.ColumnStore, tax *cohort.Taxonomy, leaves *cohortstate.Registry, layout cohortstate.Layout, opts Options) (*Reconciler, error) {
	if layout.Percentiles {
		return nil, fmt.Errorf("derived cohorts cannot carry percentiles: histograms are not summable")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	chunk := opts.Chunk
	if chunk <= 0 {
		chunk = DefaultChunk
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Reconciler{
		store:  store,
		pool:   pond.NewPool(workers),
		chunk:  uint64(chunk),
		logger: logger,
	}

	for _, fam := range cohort.DerivedFamilies {
		part, _ := cohort.PartitionFor(fam)
		for _, def := range tax.Family(fam) {
			d, err := r.derive(ctx, tax, def, part, leaves, layout, opts.VecOptions)
			if err != nil {
				r.pool.StopAndWait()
				return nil, err
			}
			r.derivations = append(r.derivations, d)
		}
	}
	return r, nil
}

func (r *Reconciler) derive(ctx context.Context, tax *cohort.Taxonomy, def cohort.Def, part cohort.Family, leaves *cohortstate.Registry, layout cohortstate.Layout, vopts vec.Options) (*Derivation, error) {
	defs, err := tax.Leaves(def, part)
	if err != nil {
		return nil, err
	}

	d := &Derivation{Def: def}
	version := Version
	for _, ld := range defs {
		leaf, ok := leaves.Get(ld.ID())
		if !ok || leaf.Columns == nil {
			return nil, fmt.Errorf("%s: leaf %s has no series", def.ID(), ld.ID())
		}
		if !covers(leaf.Columns.Layout, layout) {
			return nil, fmt.Errorf("%s: leaf %s does not carry the derived layout", def.ID(), ld.ID())
		}
		d.Leaves = append(d.Leaves, leaf.Columns)
		version += leaf.Columns.Supply.Version()
	}

	cols, err := cohortstate.OpenColumns(ctx, r.store, def.ID(), layout, version, vopts)
	if err != nil {
		return nil, err
	}
	d.Columns = cols
	return d, nil
}

func covers(have, want cohortstate.Layout) bool {
	return (have.Basic || !want.Basic) && (have.Realized || !want.Realized)
}

// Derivations returns every derived cohort in taxonomy order.
func (r *Reconciler) Derivations() []*Derivation {
	return r.derivations
}

// Vecs returns every derived series.
func (r *Reconciler) Vecs() []vec.AnyVec {
	var out []vec.AnyVec
	for _, d := range r.derivations {
		out = append(out, d.Columns.Vecs()...)
	}
	return out
}

// Run computes and flushes rows [len, to) of every derived cohort, clamped to
// the heights every leaf holds. Derived rows above the leaves are dropped
// first. Returns the number of rows written.
func (r *Reconciler) Run(ctx context.Context, to uint64) (int, error) {
	var written atomic.Int64
	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, d := range r.derivations {
		group.SubmitErr(func() error {
			n, err := r.runOne(groupCtx, d, to)
			written.Add(int64(n))
			return err
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, pond.ErrGroupStopped) {
		return int(written.Load()), err
	}
	return int(written.Load()), ctx.Err()
}

func (r *Reconciler) runOne(ctx context.Context, d *Derivation, to uint64) (int, error) {
	leafLen := d.leafLen()
	if to > leafLen {
		to = leafLen
	}
	if d.Columns.Len() > leafLen {
		r.logger.Warn("derived series ahead of leaves, truncating",
			zap.String("cohort", d.Def.ID()),
			zap.Uint64("len", d.Columns.Len()),
			zap.Uint64("leaves", leafLen))
		if err := d.Columns.Truncate(ctx, leafLen); err != nil {
			return 0, err
		}
	}

	written := 0
	for from := d.Columns.Len(); from < to; {
		end := min(from+r.chunk, to)
		sums := make([]cohortstate.Row, end-from)
		for _, leaf := range d.Leaves {
			rows, err := leaf.Rows(ctx, from, end)
			if err != nil {
				return written, fmt.Errorf("reconcile %s: %w", d.Def.ID(), err)
			}
			for i := range rows {
				sums[i].AddScalars(rows[i])
			}
		}
		for i := range sums {
			sums[i].RecomputeRealizedPrice()
			if err := d.Columns.Push(domain.Height(from+uint64(i)), sums[i]); err != nil {
				return written, err
			}
		}
		if _, err := vec.FlushAll(ctx, r.store, d.Columns.Vecs()); err != nil {
			return written, fmt.Errorf("flush %s: %w", d.Def.ID(), err)
		}
		written += len(sums)
		from = end
	}
	return written, nil
}

// Truncate drops every derived row at index >= n.
func (r *Reconciler) Truncate(ctx context.Context, n uint64) error {
	for _, d := range r.derivations {
		if err := d.Columns.Truncate(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the worker pool.
func (r *Reconciler) Close() {
	r.pool.StopAndWait()
}
