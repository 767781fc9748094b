// Package costbasis keeps a price-ordered histogram of live amounts and extracts
// weighted percentile prices and unrealized profit and loss from it.
package costbasis

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"utxo-cohort-lab/internal/domain"
)

// ErrUnderflow is returned when a decrement exceeds the mass stored at a price.
var ErrUnderflow = errors.New("histogram underflow")

// ErrOverflow is returned when an increment would overflow the total mass.
var ErrOverflow = errors.New("histogram overflow")

// Entry is the live amount created at one price.
type Entry struct {
	Price  domain.Cents `json:"price"`
	Amount domain.Sats  `json:"amount"`
}

const degree = 32

func less(a, b Entry) bool { return a.Price < b.Price }

// Histogram maps creation price to live amount, ordered by price.
// It is not safe for concurrent mutation.
type Histogram struct {
	tree  *btree.BTreeG[Entry]
	total domain.Sats
}

// New creates an empty histogram.
func New() *Histogram {
	return &Histogram{tree: btree.NewG(degree, less)}
}

// Increment adds amount at price.
func (h *Histogram) Increment(price domain.Cents, amount domain.Sats) error {
	if amount == 0 {
		return nil
	}
	if h.total > math.MaxUint64-amount {
		return fmt.Errorf("%w: total %d + %d", ErrOverflow, h.total, amount)
	}
	e := Entry{Price: price, Amount: amount}
	if cur, ok := h.tree.Get(e); ok {
		e.Amount += cur.Amount
	}
	h.tree.ReplaceOrInsert(e)
	h.total += amount
	return nil
}

// Decrement removes amount at price. The price must hold at least amount.
func (h *Histogram) Decrement(price domain.Cents, amount domain.Sats) error {
	if amount == 0 {
		return nil
	}
	cur, ok := h.tree.Get(Entry{Price: price})
	if !ok || cur.Amount < amount {
		have := domain.Sats(0)
		if ok {
			have = cur.Amount
		}
		return fmt.Errorf("%w: price %d holds %d, removing %d", ErrUnderflow, price, have, amount)
	}
	if cur.Amount == amount {
		h.tree.Delete(cur)
	} else {
		cur.Amount -= amount
		h.tree.ReplaceOrInsert(cur)
	}
	h.total -= amount
	return nil
}

// Total returns the sum of all amounts.
func (h *Histogram) Total() domain.Sats {
	return h.total
}

// Len returns the number of distinct prices.
func (h *Histogram) Len() int {
	return h.tree.Len()
}

// Ascend calls fn for each price in increasing order until fn returns false.
func (h *Histogram) Ascend(fn func(price domain.Cents, amount domain.Sats) bool) {
	h.tree.Ascend(func(e Entry) bool {
		return fn(e.Price, e.Amount)
	})
}

// Entries returns the histogram contents in price order.
func (h *Histogram) Entries() []Entry {
	out := make([]Entry, 0, h.tree.Len())
	h.tree.Ascend(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// FromEntries rebuilds a histogram from Entries output.
func FromEntries(entries []Entry) (*Histogram, error) {
	h := New()
	for _, e := range entries {
		if err := h.Increment(e.Price, e.Amount); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Clone returns an independent copy.
func (h *Histogram) Clone() *Histogram {
	return &Histogram{tree: h.tree.Clone(), total: h.total}
}

// Unrealized is the paper gain or loss of a histogram at a price.
type Unrealized struct {
	Profit         decimal.Decimal
	Loss           decimal.Decimal
	SupplyInProfit domain.Sats
	SupplyInLoss   domain.Sats
}

// UnrealizedAt values every entry against price. Entries created exactly at
// price are neither in profit nor in loss.
func (h *Histogram) UnrealizedAt(price domain.Cents) Unrealized {
	u := Unrealized{Profit: decimal.Zero, Loss: decimal.Zero}
	h.tree.Ascend(func(e Entry) bool {
		switch {
		case e.Price < price:
			u.Profit = u.Profit.Add(domain.Fiat(e.Amount, price-e.Price))
			u.SupplyInProfit += e.Amount
		case e.Price > price:
			u.Loss = u.Loss.Add(domain.Fiat(e.Amount, e.Price-price))
			u.SupplyInLoss += e.Amount
		}
		return true
	})
	return u
}
