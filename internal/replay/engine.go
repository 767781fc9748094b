// Package replay feeds a height range of ledger blocks through a block applier.
// It rebuilds engine state between a snapshot and the resume height.
package replay

import (
	"utxo-cohort-lab/internal/domain"
)

// Applier consumes blocks strictly in height order.
type Applier interface {
	ApplyBlock(b *domain.Block) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(b *domain.Block) error

// ApplyBlock calls f(b).
func (f ApplierFunc) ApplyBlock(b *domain.Block) error { return f(b) }
