package engine

import (
	"fmt"

	"utxo-cohort-lab/internal/cohortstate"
	"utxo-cohort-lab/internal/domain"
)

// CheckInvariants verifies that every partition of the direct cohorts holds
// exactly the supply and count of the chain state, and that histogram mass
// matches supply in every price-aware cohort.
func (e *Engine) CheckInvariants() error {
	var supply domain.Sats
	var count uint64
	for _, bs := range e.chain {
		supply += bs.Supply
		count += bs.UTXOCount
	}

	partitions := []struct {
		name    string
		cohorts []*cohortstate.Cohort
	}{
		{"age_range", e.ageRange},
		{"amount_range", e.amountRange},
		{"epoch", e.epochs[:]},
		{"type", e.types[:]},
		{"term", e.terms[:]},
	}
	for _, p := range partitions {
		var s domain.Sats
		var n uint64
		for _, c := range p.cohorts {
			s += c.State.Supply
			n += c.State.UTXOCount
		}
		if s != supply || n != count {
			return &InvariantError{
				Cohort: p.name,
				Op:     "conservation",
				Detail: fmt.Sprintf("partition holds %d sats in %d outputs, chain state %d sats in %d outputs", s, n, supply, count),
			}
		}
	}

	for _, c := range e.registry.All() {
		if err := c.State.CheckMass(); err != nil {
			return violation(c.ID(), "mass", err)
		}
	}
	if e.all != nil && e.all.State.Supply != supply {
		return &InvariantError{
			Cohort: e.all.ID(),
			Op:     "conservation",
			Detail: fmt.Sprintf("holds %d sats, chain state %d", e.all.State.Supply, supply),
		}
	}
	return nil
}
