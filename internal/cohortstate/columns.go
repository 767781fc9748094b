package cohortstate

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"utxo-cohort-lab/internal/costbasis"
	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/vec"
)

// Metric names, appended to the cohort ID: "<cohort>.<metric>".
const (
	MetricSupply              = "supply"
	MetricUTXOCount           = "utxo_count"
	MetricSent                = "sent"
	MetricCoinblocksDestroyed = "coinblocks_destroyed"
	MetricCoindaysDestroyed   = "coindays_destroyed"
	MetricRealizedCap         = "realized_cap"
	MetricRealizedProfit      = "realized_profit"
	MetricRealizedLoss        = "realized_loss"
	MetricValueCreated        = "value_created"
	MetricValueDestroyed      = "value_destroyed"
	MetricPeakRegret          = "peak_regret"
	MetricRealizedPrice       = "realized_price"
	MetricPricedSupply        = "priced_supply"
	MetricUnrealizedProfit    = "unrealized_profit"
	MetricUnrealizedLoss      = "unrealized_loss"
	MetricSupplyInProfit      = "supply_in_profit"
	MetricSupplyInLoss        = "supply_in_loss"
)

// SeriesName joins a cohort ID and a metric.
func SeriesName(cohortID, metric string) string {
	return cohortID + "." + metric
}

// Layout selects the metric groups a Columns set holds.
type Layout struct {
	Basic       bool // supply, utxo_count, sent, coinblocks/coindays destroyed
	Realized    bool // realized_* , value_*, peak_regret, realized_price, priced_supply
	Percentiles bool // cost_basis_*, unrealized_*, supply_in_*
}

// Metrics returns the metric names of the layout in column order.
func (l Layout) Metrics() []string {
	var out []string
	if l.Basic {
		out = append(out, MetricSupply, MetricUTXOCount, MetricSent, MetricCoinblocksDestroyed, MetricCoindaysDestroyed)
	}
	if l.Realized {
		out = append(out, MetricRealizedCap, MetricRealizedProfit, MetricRealizedLoss,
			MetricValueCreated, MetricValueDestroyed, MetricPeakRegret, MetricRealizedPrice, MetricPricedSupply)
	}
	if l.Percentiles {
		for _, p := range costbasis.Percentiles {
			out = append(out, p.Name)
		}
		out = append(out, MetricUnrealizedProfit, MetricUnrealizedLoss, MetricSupplyInProfit, MetricSupplyInLoss)
	}
	return out
}

// Columns is the set of per-height series of one cohort for one layout.
type Columns struct {
	ID     string
	Layout Layout

	Supply              *vec.Vec[domain.Sats]
	UTXOCount           *vec.Vec[uint64]
	Sent                *vec.Vec[domain.Sats]
	CoinblocksDestroyed *vec.Vec[decimal.Decimal]
	CoindaysDestroyed   *vec.Vec[decimal.Decimal]

	RealizedCap    *vec.Vec[decimal.Decimal]
	RealizedProfit *vec.Vec[decimal.Decimal]
	RealizedLoss   *vec.Vec[decimal.Decimal]
	ValueCreated   *vec.Vec[decimal.Decimal]
	ValueDestroyed *vec.Vec[decimal.Decimal]
	PeakRegret     *vec.Vec[decimal.Decimal]
	RealizedPrice  *vec.Vec[domain.OptionalCents]
	PricedSupply   *vec.Vec[domain.Sats]

	Percentiles      [costbasis.PercentileCount]*vec.Vec[domain.OptionalCents]
	UnrealizedProfit *vec.Vec[decimal.Decimal]
	UnrealizedLoss   *vec.Vec[decimal.Decimal]
	SupplyInProfit   *vec.Vec[domain.Sats]
	SupplyInLoss     *vec.Vec[domain.Sats]

	all []vec.AnyVec
}

// OpenColumns opens every series of layout for cohortID at version.
func OpenColumns(ctx context.Context, store storage.ColumnStore, cohortID string, layout Layout, version uint64, opts vec.Options) (*Columns, error) {
	c := &Columns{ID: cohortID, Layout: layout}

	var err error
	sats := func(metric string) *vec.Vec[domain.Sats] {
		if err != nil {
			return nil
		}
		var v *vec.Vec[domain.Sats]
		v, err = vec.Open[domain.Sats](ctx, store, SeriesName(cohortID, metric), version, vec.SatsCodec{}, opts)
		c.track(v)
		return v
	}
	count := func(metric string) *vec.Vec[uint64] {
		if err != nil {
			return nil
		}
		var v *vec.Vec[uint64]
		v, err = vec.Open[uint64](ctx, store, SeriesName(cohortID, metric), version, vec.Uint64Codec{}, opts)
		c.track(v)
		return v
	}
	dec := func(metric string) *vec.Vec[decimal.Decimal] {
		if err != nil {
			return nil
		}
		var v *vec.Vec[decimal.Decimal]
		v, err = vec.Open[decimal.Decimal](ctx, store, SeriesName(cohortID, metric), version, vec.DecimalCodec{}, opts)
		c.track(v)
		return v
	}
	price := func(metric string) *vec.Vec[domain.OptionalCents] {
		if err != nil {
			return nil
		}
		var v *vec.Vec[domain.OptionalCents]
		v, err = vec.Open[domain.OptionalCents](ctx, store, SeriesName(cohortID, metric), version, vec.OptionalCentsCodec{}, opts)
		c.track(v)
		return v
	}

	if layout.Basic {
		c.Supply = sats(MetricSupply)
		c.UTXOCount = count(MetricUTXOCount)
		c.Sent = sats(MetricSent)
		c.CoinblocksDestroyed = dec(MetricCoinblocksDestroyed)
		c.CoindaysDestroyed = dec(MetricCoindaysDestroyed)
	}
	if layout.Realized {
		c.RealizedCap = dec(MetricRealizedCap)
		c.RealizedProfit = dec(MetricRealizedProfit)
		c.RealizedLoss = dec(MetricRealizedLoss)
		c.ValueCreated = dec(MetricValueCreated)
		c.ValueDestroyed = dec(MetricValueDestroyed)
		c.PeakRegret = dec(MetricPeakRegret)
		c.RealizedPrice = price(MetricRealizedPrice)
		c.PricedSupply = sats(MetricPricedSupply)
	}
	if layout.Percentiles {
		for i, p := range costbasis.Percentiles {
			c.Percentiles[i] = price(p.Name)
		}
		c.UnrealizedProfit = dec(MetricUnrealizedProfit)
		c.UnrealizedLoss = dec(MetricUnrealizedLoss)
		c.SupplyInProfit = sats(MetricSupplyInProfit)
		c.SupplyInLoss = sats(MetricSupplyInLoss)
	}
	if err != nil {
		return nil, fmt.Errorf("open columns of %s: %w", cohortID, err)
	}
	return c, nil
}

func (c *Columns) track(v vec.AnyVec) {
	if v != nil {
		c.all = append(c.all, v)
	}
}

// Vecs returns every series of the set.
func (c *Columns) Vecs() []vec.AnyVec {
	return c.all
}

// Len returns the length of the shortest series.
func (c *Columns) Len() uint64 {
	return vec.MinLen(c.all)
}

// Push appends row at height h to every series of the layout.
func (c *Columns) Push(h domain.Height, row Row) error {
	i := uint64(h)
	for _, v := range c.all {
		if v.Len() != i {
			return fmt.Errorf("push %s at %d: %s has length %d", c.ID, h, v.Name(), v.Len())
		}
	}

	var err error
	push := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	if c.Layout.Basic {
		push(c.Supply.PushAt(i, row.Supply))
		push(c.UTXOCount.PushAt(i, row.UTXOCount))
		push(c.Sent.PushAt(i, row.Sent))
		push(c.CoinblocksDestroyed.PushAt(i, row.CoinblocksDestroyed))
		push(c.CoindaysDestroyed.PushAt(i, row.CoindaysDestroyed))
	}
	if c.Layout.Realized {
		push(c.RealizedCap.PushAt(i, row.RealizedCap))
		push(c.RealizedProfit.PushAt(i, row.RealizedProfit))
		push(c.RealizedLoss.PushAt(i, row.RealizedLoss))
		push(c.ValueCreated.PushAt(i, row.ValueCreated))
		push(c.ValueDestroyed.PushAt(i, row.ValueDestroyed))
		push(c.PeakRegret.PushAt(i, row.PeakRegret))
		push(c.RealizedPrice.PushAt(i, row.RealizedPrice))
		push(c.PricedSupply.PushAt(i, row.PricedSupply))
	}
	if c.Layout.Percentiles {
		for k, v := range c.Percentiles {
			push(v.PushAt(i, row.Percentiles[k]))
		}
		push(c.UnrealizedProfit.PushAt(i, row.UnrealizedProfit))
		push(c.UnrealizedLoss.PushAt(i, row.UnrealizedLoss))
		push(c.SupplyInProfit.PushAt(i, row.SupplyInProfit))
		push(c.SupplyInLoss.PushAt(i, row.SupplyInLoss))
	}
	if err != nil {
		return fmt.Errorf("push %s at %d: %w", c.ID, h, err)
	}
	return nil
}

// Rows reads rows [from, to) of every series of the layout. Fields outside the
// layout stay zero.
func (c *Columns) Rows(ctx context.Context, from, to uint64) ([]Row, error) {
	if n := c.Len(); to > n {
		to = n
	}
	if from >= to {
		return nil, nil
	}
	rows := make([]Row, to-from)

	var err error
	fill := func(read func() error) {
		if err == nil {
			err = read()
		}
	}

	if c.Layout.Basic {
		fill(readInto(ctx, c.Supply, from, to, rows, func(r *Row, v domain.Sats) { r.Supply = v }))
		fill(readInto(ctx, c.UTXOCount, from, to, rows, func(r *Row, v uint64) { r.UTXOCount = v }))
		fill(readInto(ctx, c.Sent, from, to, rows, func(r *Row, v domain.Sats) { r.Sent = v }))
		fill(readInto(ctx, c.CoinblocksDestroyed, from, to, rows, func(r *Row, v decimal.Decimal) { r.CoinblocksDestroyed = v }))
		fill(readInto(ctx, c.CoindaysDestroyed, from, to, rows, func(r *Row, v decimal.Decimal) { r.CoindaysDestroyed = v }))
	}
	if c.Layout.Realized {
		fill(readInto(ctx, c.RealizedCap, from, to, rows, func(r *Row, v decimal.Decimal) { r.RealizedCap = v }))
		fill(readInto(ctx, c.RealizedProfit, from, to, rows, func(r *Row, v decimal.Decimal) { r.RealizedProfit = v }))
		fill(readInto(ctx, c.RealizedLoss, from, to, rows, func(r *Row, v decimal.Decimal) { r.RealizedLoss = v }))
		fill(readInto(ctx, c.ValueCreated, from, to, rows, func(r *Row, v decimal.Decimal) { r.ValueCreated = v }))
		fill(readInto(ctx, c.ValueDestroyed, from, to, rows, func(r *Row, v decimal.Decimal) { r.ValueDestroyed = v }))
		fill(readInto(ctx, c.PeakRegret, from, to, rows, func(r *Row, v decimal.Decimal) { r.PeakRegret = v }))
		fill(readInto(ctx, c.RealizedPrice, from, to, rows, func(r *Row, v domain.OptionalCents) { r.RealizedPrice = v }))
		fill(readInto(ctx, c.PricedSupply, from, to, rows, func(r *Row, v domain.Sats) { r.PricedSupply = v }))
	}
	if c.Layout.Percentiles {
		for k := range c.Percentiles {
			k := k
			fill(readInto(ctx, c.Percentiles[k], from, to, rows, func(r *Row, v domain.OptionalCents) { r.Percentiles[k] = v }))
		}
		fill(readInto(ctx, c.UnrealizedProfit, from, to, rows, func(r *Row, v decimal.Decimal) { r.UnrealizedProfit = v }))
		fill(readInto(ctx, c.UnrealizedLoss, from, to, rows, func(r *Row, v decimal.Decimal) { r.UnrealizedLoss = v }))
		fill(readInto(ctx, c.SupplyInProfit, from, to, rows, func(r *Row, v domain.Sats) { r.SupplyInProfit = v }))
		fill(readInto(ctx, c.SupplyInLoss, from, to, rows, func(r *Row, v domain.Sats) { r.SupplyInLoss = v }))
	}
	if err != nil {
		return nil, fmt.Errorf("read rows of %s: %w", c.ID, err)
	}
	return rows, nil
}

func readInto[T any](ctx context.Context, v *vec.Vec[T], from, to uint64, rows []Row, set func(*Row, T)) func() error {
	return func() error {
		values, err := v.Range(ctx, from, to)
		if err != nil {
			return err
		}
		if len(values) != len(rows) {
			return fmt.Errorf("%s: read %d rows, expected %d", v.Name(), len(values), len(rows))
		}
		for i, x := range values {
			set(&rows[i], x)
		}
		return nil
	}
}

// Truncate drops rows at index >= n from every series.
func (c *Columns) Truncate(ctx context.Context, n uint64) error {
	for _, v := range c.all {
		if err := v.Truncate(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
