package reporting

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/storage/memory"
	"utxo-cohort-lab/internal/timeindex"
	"utxo-cohort-lab/internal/vec"
)

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func put[T any](t *testing.T, store storage.ColumnStore, name string, codec vec.Codec[T], values ...T) {
	t.Helper()
	ctx := context.Background()
	if err := store.Reset(ctx, name, 1, codec.Width()); err != nil {
		t.Fatalf("reset %s: %v", name, err)
	}
	rows := make([][]byte, len(values))
	for i, v := range values {
		rows[i] = make([]byte, codec.Width())
		codec.Encode(rows[i], v)
	}
	if err := store.AppendBatch(ctx, []storage.ColumnAppend{{Name: name, Rows: rows}}); err != nil {
		t.Fatalf("append %s: %v", name, err)
	}
}

func setupStore(t *testing.T) storage.ColumnStore {
	store := memory.NewColumnStore()
	put[domain.Sats](t, store, "all.supply", vec.SatsCodec{}, 100, 150, 120)
	put[uint64](t, store, "all.utxo_count", vec.Uint64Codec{}, 1, 2, 2)
	put[decimal.Decimal](t, store, "all.realized_cap", vec.DecimalCodec{},
		decimal.RequireFromString("1.5"), decimal.RequireFromString("2.25"), decimal.RequireFromString("2"))
	put[domain.OptionalCents](t, store, "all.cost_basis_median", vec.OptionalCentsCodec{},
		domain.NoCents, domain.SomeCents(1000), domain.SomeCents(1200))
	put[domain.Sats](t, store, "term[short].supply", vec.SatsCodec{}, 100, 150)
	put[int64](t, store, timeindex.TimestampSeries, vec.Int64Codec{}, 1_231_006_505, 1_231_469_665, 1_231_470_000)
	return store
}

func TestGenerator_Generate(t *testing.T) {
	store := setupStore(t)
	g := NewGenerator(store, nil).WithClock(func() time.Time { return fixedTime })

	table, err := g.Generate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !table.GeneratedAt.Equal(fixedTime) {
		t.Errorf("GeneratedAt = %v", table.GeneratedAt)
	}
	if table.Timestamp != 1_231_469_665 {
		t.Errorf("Timestamp = %d", table.Timestamp)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(table.Rows))
	}

	all := table.Rows[0]
	if all.Cohort != "all" || all.Family != "all" {
		t.Errorf("first row = %s/%s, want all/all", all.Cohort, all.Family)
	}
	want := map[string]string{
		"supply":            "150",
		"utxo_count":        "2",
		"realized_cap":      "2.25",
		"cost_basis_median": "1000",
	}
	for m, v := range want {
		if all.Values[m] != v {
			t.Errorf("all.%s = %q, want %q", m, all.Values[m], v)
		}
	}
	if _, ok := all.Values["sent"]; ok {
		t.Error("unstored metric should be absent")
	}
	if table.Rows[1].Cohort != "term[short]" || table.Rows[1].Values["supply"] != "150" {
		t.Errorf("second row = %+v", table.Rows[1])
	}
}

func TestGenerator_AbsentPercentile(t *testing.T) {
	table, err := NewGenerator(setupStore(t), nil).Generate(context.Background(), 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if v, ok := table.Rows[0].Values["cost_basis_median"]; !ok || v != "" {
		t.Errorf("absent median = %q, %v; want empty value", v, ok)
	}
}

func TestGenerator_HeightNotStored(t *testing.T) {
	_, err := NewGenerator(setupStore(t), nil).Generate(context.Background(), 10)
	if !errors.Is(err, ErrHeightNotStored) {
		t.Errorf("err = %v, want ErrHeightNotStored", err)
	}
}

func TestGenerator_GenerateSeries(t *testing.T) {
	g := NewGenerator(setupStore(t), nil).WithMetrics([]string{"supply", "utxo_count", "sent"})

	st, err := g.GenerateSeries(context.Background(), "all", 1, 10)
	if err != nil {
		t.Fatalf("GenerateSeries: %v", err)
	}
	if strings.Join(st.Metrics, ",") != "supply,utxo_count" {
		t.Errorf("metrics = %v", st.Metrics)
	}
	if len(st.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(st.Rows))
	}
	if st.Rows[1][0] != "120" {
		t.Errorf("supply at 2 = %q", st.Rows[1][0])
	}

	if _, err := g.GenerateSeries(context.Background(), "epoch[_9]", 0, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown cohort err = %v", err)
	}
}

func TestWriteCSV(t *testing.T) {
	g := NewGenerator(setupStore(t), nil).WithMetrics([]string{"supply", "cost_basis_median"})
	table, err := g.Generate(context.Background(), 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, table); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "cohort,family,supply,cost_basis_median\n" +
		"all,all,100,\n" +
		"term[short],term,100,\n"
	if buf.String() != want {
		t.Errorf("csv =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWriteSeriesCSV(t *testing.T) {
	g := NewGenerator(setupStore(t), nil).WithMetrics([]string{"supply"})
	st, err := g.GenerateSeries(context.Background(), "term[short]", 0, 5)
	if err != nil {
		t.Fatalf("GenerateSeries: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteSeriesCSV(&buf, st); err != nil {
		t.Fatalf("WriteSeriesCSV: %v", err)
	}
	if buf.String() != "height,supply\n0,100\n1,150\n" {
		t.Errorf("csv = %q", buf.String())
	}
}

func TestRenderMarkdown(t *testing.T) {
	g := NewGenerator(setupStore(t), nil).
		WithClock(func() time.Time { return fixedTime }).
		WithMetrics([]string{"supply", "cost_basis_median"})
	table, err := g.Generate(context.Background(), 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	md := RenderMarkdown(table)

	for _, want := range []string{
		"# Cohorts at height 0",
		"Generated: 2026-01-02T03:04:05Z",
		"Block time: 2009-01-03T18:15:05Z",
		"## all",
		"## term",
		"| Cohort | supply | cost_basis_median |",
		"|---|---|---|",
		"| all | 100 | - |",
		"| term[short] | 100 | - |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestRenderSeriesMarkdown(t *testing.T) {
	g := NewGenerator(setupStore(t), nil).WithMetrics([]string{"supply", "cost_basis_median"})
	st, err := g.GenerateSeries(context.Background(), "all", 0, 2)
	if err != nil {
		t.Fatalf("GenerateSeries: %v", err)
	}
	md := RenderSeriesMarkdown(st)
	if !strings.Contains(md, "| 0 | 100 | - |") || !strings.Contains(md, "| 1 | 150 | 1000 |") {
		t.Errorf("unexpected markdown:\n%s", md)
	}
}
