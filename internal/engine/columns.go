package engine

import (
	"context"
	"fmt"

	"utxo-cohort-lab/internal/cohortstate"
	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/vec"
)

// Layout returns the series layout of an engine-tracked cohort.
func (e *Engine) Layout(c *cohortstate.Cohort) cohortstate.Layout {
	if c == e.all {
		return cohortstate.Layout{Percentiles: true}
	}
	return cohortstate.Layout{
		Basic:       true,
		Realized:    e.priceTracking,
		Percentiles: c.Percentiles,
	}
}

// AttachColumns opens the series of every engine-tracked cohort.
func (e *Engine) AttachColumns(ctx context.Context, store storage.ColumnStore, opts vec.Options) error {
	for _, c := range e.registry.All() {
		cols, err := cohortstate.OpenColumns(ctx, store, c.ID(), e.Layout(c), Version, opts)
		if err != nil {
			return err
		}
		c.Columns = cols
	}
	return nil
}

// Vecs returns every engine-produced series. Empty before AttachColumns.
func (e *Engine) Vecs() []vec.AnyVec {
	var out []vec.AnyVec
	for _, c := range e.registry.All() {
		if c.Columns != nil {
			out = append(out, c.Columns.Vecs()...)
		}
	}
	return out
}

// PushRows appends the values at height h of every engine-tracked cohort.
// h must be the last applied height.
func (e *Engine) PushRows(h domain.Height) error {
	if uint64(h)+1 != uint64(len(e.chain)) {
		return fmt.Errorf("push rows at %d: last applied height is %d", h, len(e.chain)-1)
	}
	price := e.chain[h].Price
	for _, c := range e.registry.All() {
		if c.Columns == nil {
			return fmt.Errorf("push rows at %d: %s has no columns attached", h, c.ID())
		}
		withPercentiles := c.Percentiles || c == e.all
		if err := c.Columns.Push(h, c.State.Row(price, withPercentiles)); err != nil {
			return err
		}
	}
	return nil
}

// Truncate drops every engine-produced row at index >= n.
func (e *Engine) Truncate(ctx context.Context, n uint64) error {
	for _, c := range e.registry.All() {
		if c.Columns == nil {
			continue
		}
		if err := c.Columns.Truncate(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
