package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"utxo-cohort-lab/internal/cohort"
	"utxo-cohort-lab/internal/cohortstate"
	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/timeindex"
	"utxo-cohort-lab/internal/vec"
)

// ErrHeightNotStored is returned when no cohort holds a row at the requested height.
var ErrHeightNotStored = errors.New("height not stored")

// Generator produces cohort tables from stored series. It reads rows
// directly and never opens or resets a series.
type Generator struct {
	store   storage.ColumnStore
	tax     *cohort.Taxonomy
	metrics []string
	now     func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator. A nil taxonomy uses
// cohort.DefaultTaxonomy().
func NewGenerator(store storage.ColumnStore, tax *cohort.Taxonomy) *Generator {
	if tax == nil {
		tax = cohort.DefaultTaxonomy()
	}
	return &Generator{
		store:   store,
		tax:     tax,
		metrics: cohortstate.Layout{Basic: true, Realized: true, Percentiles: true}.Metrics(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithMetrics restricts the table columns to metrics, in order.
func (g *Generator) WithMetrics(metrics []string) *Generator {
	g.metrics = metrics
	return g
}

// Generate produces the cohort table at height. Cohorts without any stored
// row at height are left out.
func (g *Generator) Generate(ctx context.Context, height uint64) (*Table, error) {
	t := &Table{
		GeneratedAt: g.now(),
		Height:      height,
		Metrics:     g.metrics,
	}

	for _, def := range g.tax.Defs() {
		row := CohortRow{Cohort: def.ID(), Family: string(def.Family), Values: make(map[string]string)}
		for _, m := range g.metrics {
			vals, err := g.read(ctx, cohortstate.SeriesName(def.ID(), m), height, height+1)
			if err != nil {
				return nil, err
			}
			if len(vals) == 1 {
				row.Values[m] = vals[0]
			}
		}
		if len(row.Values) > 0 {
			t.Rows = append(t.Rows, row)
		}
	}
	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrHeightNotStored, height)
	}

	ts, err := g.store.ReadRange(ctx, timeindex.TimestampSeries, height, height+1)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	case len(ts) == 1:
		t.Timestamp = vec.Int64Codec{}.Decode(ts[0])
	}
	return t, nil
}

// GenerateSeries produces the history of one cohort over heights [from, to).
// to is clamped to the longest stored metric.
func (g *Generator) GenerateSeries(ctx context.Context, cohortID string, from, to uint64) (*SeriesTable, error) {
	st := &SeriesTable{GeneratedAt: g.now(), Cohort: cohortID, From: from}

	var cols [][]string
	for _, m := range g.metrics {
		vals, err := g.read(ctx, cohortstate.SeriesName(cohortID, m), from, to)
		if err != nil {
			return nil, err
		}
		if vals == nil {
			continue
		}
		st.Metrics = append(st.Metrics, m)
		cols = append(cols, vals)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: no series for %s", storage.ErrNotFound, cohortID)
	}

	n := 0
	for _, c := range cols {
		n = max(n, len(c))
	}
	st.Rows = make([][]string, n)
	for i := range st.Rows {
		st.Rows[i] = make([]string, len(cols))
		for j, c := range cols {
			if i < len(c) {
				st.Rows[i][j] = c[i]
			}
		}
	}
	return st, nil
}

// read returns formatted rows [from, to) of a series, or nil when the series
// does not exist.
func (g *Generator) read(ctx context.Context, name string, from, to uint64) ([]string, error) {
	rows, err := g.store.ReadRange(ctx, name, from, to)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	out := make([]string, len(rows))
	for i, row := range rows {
		v, err := format(row)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", name, from+uint64(i), err)
		}
		out[i] = v
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// format decodes a row by its width. Cohort series use three encodings:
// 8-byte counts and amounts, 9-byte optional prices and 16-byte decimals.
func format(row []byte) (string, error) {
	switch len(row) {
	case vec.Uint64Codec{}.Width():
		return fmt.Sprintf("%d", vec.Uint64Codec{}.Decode(row)), nil
	case vec.OptionalCentsCodec{}.Width():
		p := vec.OptionalCentsCodec{}.Decode(row)
		if !p.Valid {
			return "", nil
		}
		return p.String(), nil
	case vec.DecimalCodec{}.Width():
		return vec.DecimalCodec{}.Decode(row).String(), nil
	}
	return "", storage.ErrWidthMismatch
}
