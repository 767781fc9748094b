package reconcile

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"utxo-cohort-lab/internal/cohort"
	"utxo-cohort-lab/internal/cohortstate"
	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/engine"
	"utxo-cohort-lab/internal/storage/memory"
	"utxo-cohort-lab/internal/vec"
)

const (
	genesisTime int64 = 1_600_000_000
	day         int64 = 86_400
)

type fixture struct {
	store *memory.ColumnStore
	eng   *engine.Engine
	rec   *Reconciler
}

func newFixture(t *testing.T, chunk int) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewColumnStore()
	eng, err := engine.New(engine.Options{PriceTracking: true})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := eng.AttachColumns(ctx, store, vec.Options{}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	rec, err := New(ctx, store, eng.Taxonomy(), eng.Registry(),
		cohortstate.Layout{Basic: true, Realized: true},
		Options{Workers: 4, Chunk: chunk, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	t.Cleanup(rec.Close)
	return &fixture{store: store, eng: eng, rec: rec}
}

func (f *fixture) apply(t *testing.T, blocks ...*domain.Block) {
	t.Helper()
	for _, b := range blocks {
		if err := f.eng.ApplyBlock(b); err != nil {
			t.Fatalf("apply %d: %v", b.Height, err)
		}
		if err := f.eng.PushRows(b.Height); err != nil {
			t.Fatalf("push %d: %v", b.Height, err)
		}
	}
	if _, err := vec.FlushAll(context.Background(), f.store, f.eng.Vecs()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func history() []*domain.Block {
	return []*domain.Block{
		{Height: 0, Timestamp: genesisTime, Price: domain.SomeCents(1_000_000), Created: []domain.CreatedOutput{
			{Amount: 5, Type: domain.OutputP2PKH},
			{Amount: 50_000, Type: domain.OutputP2WPKH},
			{Amount: 3 * domain.SatsPerBTC, Type: domain.OutputP2TR},
		}},
		{Height: 1, Timestamp: genesisTime + 2*day, Price: domain.SomeCents(2_000_000), Created: []domain.CreatedOutput{
			{Amount: 700, Type: domain.OutputP2SH},
		}},
		{Height: 2, Timestamp: genesisTime + 40*day, Price: domain.SomeCents(3_000_000),
			Spent: []domain.SpentOutput{{CreatedHeight: 0, Amount: 50_000, Type: domain.OutputP2WPKH}},
			Created: []domain.CreatedOutput{
				{Amount: 12 * domain.SatsPerBTC, Type: domain.OutputP2WSH},
			}},
		{Height: 3, Timestamp: genesisTime + 400*day, Price: domain.SomeCents(2_500_000)},
	}
}

func TestRun_DerivedEqualsSumOfLeaves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	f.apply(t, history()...)

	n, err := f.rec.Run(ctx, 4)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 4*len(f.rec.Derivations()) {
		t.Errorf("written = %d, want %d", n, 4*len(f.rec.Derivations()))
	}

	for _, d := range f.rec.Derivations() {
		got, err := d.Columns.Rows(ctx, 0, 4)
		if err != nil {
			t.Fatalf("%s rows: %v", d.Def.ID(), err)
		}
		part, _ := cohort.PartitionFor(d.Def.Family)
		for h := range got {
			var want cohortstate.Row
			for _, c := range f.eng.Registry().Matching(func(c *cohortstate.Cohort) bool {
				return c.Def.Family == part && d.Def.Filter.Includes(c.Def.Filter)
			}) {
				rows, err := c.Columns.Rows(ctx, uint64(h), uint64(h)+1)
				if err != nil {
					t.Fatalf("leaf rows: %v", err)
				}
				want.AddScalars(rows[0])
			}
			if got[h].Supply != want.Supply || got[h].UTXOCount != want.UTXOCount ||
				!got[h].RealizedCap.Equal(want.RealizedCap) || !got[h].CoindaysDestroyed.Equal(want.CoindaysDestroyed) {
				t.Errorf("%s at %d: got supply=%d count=%d cap=%s, want %d/%d/%s", d.Def.ID(), h,
					got[h].Supply, got[h].UTXOCount, got[h].RealizedCap, want.Supply, want.UTXOCount, want.RealizedCap)
			}
		}
	}
}

func TestRun_AllCohortMatchesTotalSupply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.apply(t, history()...)
	if _, err := f.rec.Run(ctx, 4); err != nil {
		t.Fatalf("run: %v", err)
	}

	var all *Derivation
	for _, d := range f.rec.Derivations() {
		if d.Def.Family == cohort.FamilyAll {
			all = d
		}
	}
	if all == nil {
		t.Fatal("no all derivation")
	}
	rows, err := all.Columns.Rows(ctx, 3, 4)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if rows[0].Supply != f.eng.TotalSupply() {
		t.Errorf("all supply = %d, want %d", rows[0].Supply, f.eng.TotalSupply())
	}
	if rows[0].PricedSupply != rows[0].Supply {
		t.Errorf("priced supply = %d, want %d on a fully priced chain", rows[0].PricedSupply, rows[0].Supply)
	}
	// Realized price is recomputed from the summed cap, never summed.
	want := domain.PricePerBTC(rows[0].RealizedCap, rows[0].PricedSupply)
	if rows[0].RealizedPrice != want {
		t.Errorf("realized price = %v, want %v", rows[0].RealizedPrice, want)
	}
	if !rows[0].RealizedCap.GreaterThan(decimal.Zero) {
		t.Errorf("realized cap = %s", rows[0].RealizedCap)
	}
}

func TestRun_IncrementalAndClamped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	blocks := history()
	f.apply(t, blocks[:2]...)

	// Asking beyond the leaves is clamped to what the leaves hold.
	if _, err := f.rec.Run(ctx, 10); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, d := range f.rec.Derivations() {
		if d.Columns.Len() != 2 {
			t.Fatalf("%s len = %d, want 2", d.Def.ID(), d.Columns.Len())
		}
	}

	f.apply(t, blocks[2:]...)
	n, err := f.rec.Run(ctx, 4)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n != 2*len(f.rec.Derivations()) {
		t.Errorf("second run wrote %d rows, want %d", n, 2*len(f.rec.Derivations()))
	}
}

func TestRun_TruncatesAheadOfLeaves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.apply(t, history()...)
	if _, err := f.rec.Run(ctx, 4); err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := f.eng.Truncate(ctx, 2); err != nil {
		t.Fatalf("truncate leaves: %v", err)
	}
	if _, err := f.rec.Run(ctx, 4); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, d := range f.rec.Derivations() {
		if d.Columns.Len() != 2 {
			t.Errorf("%s len = %d, want 2", d.Def.ID(), d.Columns.Len())
		}
	}
}

func TestNew_RejectsPercentileLayout(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(engine.Options{PriceTracking: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(ctx, memory.NewColumnStore(), eng.Taxonomy(), eng.Registry(),
		cohortstate.Layout{Basic: true, Percentiles: true}, Options{}); err == nil {
		t.Error("percentile layout accepted")
	}
}

func TestNew_LeavesWithoutColumns(t *testing.T) {
	eng, err := engine.New(engine.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(context.Background(), memory.NewColumnStore(), eng.Taxonomy(), eng.Registry(),
		cohortstate.Layout{Basic: true}, Options{}); err == nil {
		t.Error("leaves without columns accepted")
	}
}
