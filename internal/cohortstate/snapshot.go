package cohortstate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"utxo-cohort-lab/internal/costbasis"
	"utxo-cohort-lab/internal/domain"
)

// StateSnapshot is the serialized form of a State. Flows are not included:
// snapshots are taken after a height was flushed.
type StateSnapshot struct {
	Level       Level             `json:"level"`
	Supply      domain.Sats       `json:"supply"`
	UTXOCount   uint64            `json:"utxo_count"`
	Histogram   []costbasis.Entry `json:"histogram,omitempty"`
	Unpriced    domain.Sats       `json:"unpriced,omitempty"`
	RealizedCap *decimal.Decimal  `json:"realized_cap,omitempty"`
}

// Snapshot captures s.
func (s *State) Snapshot() StateSnapshot {
	snap := StateSnapshot{Level: s.Level(), Supply: s.Supply, UTXOCount: s.UTXOCount}
	if pa := s.PriceAware(); pa != nil {
		snap.Histogram = pa.Histogram.Entries()
		snap.Unpriced = pa.Unpriced
		if pa.Realized != nil {
			c := pa.Realized.Cap
			snap.RealizedCap = &c
		}
	}
	return snap
}

// Restore rebuilds a State from a snapshot and checks histogram mass.
func Restore(snap StateSnapshot) (*State, error) {
	s := New(snap.Level)
	s.Supply = snap.Supply
	s.UTXOCount = snap.UTXOCount

	if pa := s.PriceAware(); pa != nil {
		h, err := costbasis.FromEntries(snap.Histogram)
		if err != nil {
			return nil, err
		}
		pa.Histogram = h
		pa.Unpriced = snap.Unpriced
		if pa.Realized != nil && snap.RealizedCap != nil {
			pa.Realized.Cap = *snap.RealizedCap
		}
	}
	if err := s.CheckMass(); err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	return s, nil
}
