package pipeline

import (
	"context"

	"github.com/shopspring/decimal"

	"utxo-cohort-lab/internal/cohortstate"
	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/timeindex"
	"utxo-cohort-lab/internal/vec"
)

// RollUpJobs returns the time roll-ups of every cohort in cols at every
// resolution. Levels take the bucket's last value, flows its sum.
func RollUpJobs(ctx context.Context, store storage.ColumnStore, cols []*cohortstate.Columns, resolutions []timeindex.Resolution, opts vec.Options) ([]timeindex.Job, error) {
	var jobs []timeindex.Job
	var err error
	add := func(j timeindex.Job, e error) {
		if err == nil {
			err = e
			if e == nil {
				jobs = append(jobs, j)
			}
		}
	}

	for _, c := range cols {
		for _, r := range resolutions {
			if c.Layout.Basic {
				add(timeindex.NewJob(ctx, store, r, c.Supply, vec.SatsCodec{}, timeindex.Last[domain.Sats](), 0, opts))
				add(timeindex.NewJob(ctx, store, r, c.UTXOCount, vec.Uint64Codec{}, timeindex.Last[uint64](), 0, opts))
				add(timeindex.NewJob(ctx, store, r, c.Sent, vec.SatsCodec{}, timeindex.Sum(timeindex.SatsArith), 0, opts))
			}
			if c.Layout.Realized {
				add(timeindex.NewJob(ctx, store, r, c.RealizedCap, vec.DecimalCodec{}, timeindex.Last[decimal.Decimal](), decimal.Zero, opts))
				for _, flow := range []*vec.Vec[decimal.Decimal]{
					c.RealizedProfit, c.RealizedLoss, c.ValueCreated, c.ValueDestroyed, c.PeakRegret,
				} {
					add(timeindex.NewJob(ctx, store, r, flow, vec.DecimalCodec{}, timeindex.Sum(timeindex.DecimalArith), decimal.Zero, opts))
				}
			}
			if c.Layout.Percentiles {
				for _, p := range c.Percentiles {
					add(timeindex.NewJob(ctx, store, r, p, vec.OptionalCentsCodec{}, timeindex.Last[domain.OptionalCents](), domain.OptionalCents{}, opts))
				}
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
