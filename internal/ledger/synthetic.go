package ledger

import (
	"math/rand/v2"

	"utxo-cohort-lab/internal/domain"
)

// SyntheticConfig shapes a generated chain.
type SyntheticConfig struct {
	Seed       uint64
	Blocks     int
	Genesis    int64 // timestamp of height 0
	PriceFrom  int   // first priced height; negative disables prices
	MaxCreated int   // outputs created per block, at most
	MaxSpent   int   // outputs spent per block, at most
}

// DefaultSyntheticConfig returns a small chain with every edge the engine cares about:
// backwards timestamps, multi-day gaps, unpriced heights and spends of every age.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Seed:       1,
		Blocks:     500,
		Genesis:    1_231_006_505,
		PriceFrom:  50,
		MaxCreated: 6,
		MaxSpent:   4,
	}
}

type liveOutput struct {
	height domain.Height
	amount domain.Sats
	typ    domain.OutputType
}

var syntheticAmounts = []domain.Sats{
	0, 1, 7, 546, 9_999, 50_000, 250_000, 3_000_000,
	50_000_000, 5 * domain.SatsPerBTC, 50 * domain.SatsPerBTC, 1_500 * domain.SatsPerBTC,
}

// Synthetic generates a deterministic chain.
func Synthetic(cfg SyntheticConfig) []*domain.Block {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	types := domain.AllOutputTypes()
	if cfg.MaxCreated <= 0 {
		cfg.MaxCreated = 1
	}
	if cfg.MaxSpent < 0 {
		cfg.MaxSpent = 0
	}

	var live []liveOutput
	blocks := make([]*domain.Block, 0, cfg.Blocks)
	ts := cfg.Genesis
	price := domain.Cents(1_000_000)

	for i := 0; i < cfg.Blocks; i++ {
		h := domain.Height(i)
		b := &domain.Block{Height: h}

		switch r := rng.IntN(100); {
		case i == 0:
		case r < 3:
			ts += int64(rng.IntN(400)+1) * 86_400
		case r < 10:
			ts -= int64(rng.IntN(3_600))
		default:
			ts += int64(rng.IntN(1_200))
		}
		b.Timestamp = ts

		if cfg.PriceFrom >= 0 && i >= cfg.PriceFrom && rng.IntN(20) != 0 {
			price += domain.Cents(rng.IntN(200_001)) - 100_000
			if price < 100 {
				price = 100
			}
			b.Price = domain.SomeCents(price)
		}

		if n := rng.IntN(cfg.MaxSpent + 1); n > 0 && len(live) > 0 {
			for j := 0; j < n && len(live) > 0; j++ {
				k := rng.IntN(len(live))
				o := live[k]
				live[k] = live[len(live)-1]
				live = live[:len(live)-1]
				b.Spent = append(b.Spent, domain.SpentOutput{CreatedHeight: o.height, Amount: o.amount, Type: o.typ})
			}
		}

		for j := rng.IntN(cfg.MaxCreated) + 1; j > 0; j-- {
			base := syntheticAmounts[rng.IntN(len(syntheticAmounts))]
			amount := base + domain.Sats(rng.Uint64N(uint64(base)/2+1))
			typ := types[rng.IntN(len(types))]
			b.Created = append(b.Created, domain.CreatedOutput{Amount: amount, Type: typ})
			live = append(live, liveOutput{height: h, amount: amount, typ: typ})
		}

		blocks = append(blocks, b)
	}
	return blocks
}
