package engine

import (
	"sort"

	"utxo-cohort-lab/internal/domain"
)

// PricePoint is a priced height.
type PricePoint struct {
	Height domain.Height `json:"h"`
	Price  domain.Cents  `json:"p"`
}

// peakTracker answers "highest price over [h, tip]" in O(log n). It keeps a
// stack of priced heights with strictly decreasing prices: a height whose price
// is matched or beaten by a later one can never be the answer.
type peakTracker struct {
	stack []PricePoint
}

func (p *peakTracker) push(h domain.Height, price domain.Cents) {
	for len(p.stack) > 0 && p.stack[len(p.stack)-1].Price <= price {
		p.stack = p.stack[:len(p.stack)-1]
	}
	p.stack = append(p.stack, PricePoint{Height: h, Price: price})
}

// since returns the highest price observed at or after h.
func (p *peakTracker) since(h domain.Height) domain.OptionalCents {
	i := sort.Search(len(p.stack), func(i int) bool { return p.stack[i].Height >= h })
	if i == len(p.stack) {
		return domain.NoCents
	}
	return domain.SomeCents(p.stack[i].Price)
}

func (p *peakTracker) points() []PricePoint {
	return append([]PricePoint(nil), p.stack...)
}
