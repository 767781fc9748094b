package costbasis

import "utxo-cohort-lab/internal/domain"

// Percentile positions reported per height, in percent of total mass.
// Min and max are the lowest and highest live prices.
var Percentiles = []struct {
	Name    string
	Percent uint64
}{
	{"cost_basis_min", 0},
	{"cost_basis_p05", 5},
	{"cost_basis_p10", 10},
	{"cost_basis_p25", 25},
	{"cost_basis_median", 50},
	{"cost_basis_p75", 75},
	{"cost_basis_p90", 90},
	{"cost_basis_p95", 95},
	{"cost_basis_max", 100},
}

// PercentileCount is len(Percentiles).
const PercentileCount = 9

// PercentilePrices walks the histogram in price order and returns, for each
// entry of Percentiles, the first price at which cumulative mass reaches
// percent/100 of total. All values are absent when total is zero.
func (h *Histogram) PercentilePrices(total domain.Sats) [PercentileCount]domain.OptionalCents {
	var out [PercentileCount]domain.OptionalCents
	if total == 0 || h.tree.Len() == 0 {
		return out
	}

	if minEntry, ok := h.tree.Min(); ok {
		out[0] = domain.SomeCents(minEntry.Price)
	}
	if maxEntry, ok := h.tree.Max(); ok {
		out[PercentileCount-1] = domain.SomeCents(maxEntry.Price)
	}

	next := 1
	var cum uint64
	h.tree.Ascend(func(e Entry) bool {
		cum += uint64(e.Amount)
		// cum/total >= percent/100, in integers
		for next < PercentileCount-1 && cum*100 >= Percentiles[next].Percent*uint64(total) {
			out[next] = domain.SomeCents(e.Price)
			next++
		}
		return next < PercentileCount-1
	})

	// total larger than the stored mass leaves upper percentiles at the max price
	for ; next < PercentileCount-1; next++ {
		out[next] = out[PercentileCount-1]
	}
	return out
}
