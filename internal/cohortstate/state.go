// Package cohortstate holds the mutable aggregate of one cohort and the
// per-height series it is flushed into.
package cohortstate

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"utxo-cohort-lab/internal/costbasis"
	"utxo-cohort-lab/internal/domain"
)

// ErrNegative is returned when a removal exceeds the cohort's supply or count.
var ErrNegative = errors.New("cohort underflow")

// ErrMassMismatch is returned when histogram mass does not equal supply.
var ErrMassMismatch = errors.New("histogram mass differs from supply")

// Level is how much state a cohort keeps.
type Level uint8

const (
	// LevelBasic keeps supply and count only.
	LevelBasic Level = iota
	// LevelPriceOnly adds the cost-basis histogram.
	LevelPriceOnly
	// LevelFull adds realized state.
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelBasic:
		return "basic"
	case LevelPriceOnly:
		return "price_only"
	case LevelFull:
		return "full"
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// Tracking is either Basic or *PriceAware.
type Tracking interface {
	isTracking()
}

// Basic tracks no price information.
type Basic struct{}

// PriceAware tracks creation prices. Realized is nil at LevelPriceOnly.
// Unpriced holds supply received at heights without a price.
type PriceAware struct {
	Histogram *costbasis.Histogram
	Realized  *RealizedState
	Unpriced  domain.Sats
}

func (Basic) isTracking()       {}
func (*PriceAware) isTracking() {}

// RealizedState is the cost-basis total plus the realization flows of the
// current height.
type RealizedState struct {
	Cap            decimal.Decimal
	Profit         decimal.Decimal
	Loss           decimal.Decimal
	ValueCreated   decimal.Decimal
	ValueDestroyed decimal.Decimal
	PeakRegret     decimal.Decimal
}

// Flows are per-height quantities reset after every flush.
type Flows struct {
	Sent                domain.Sats
	CoinblocksDestroyed decimal.Decimal
	CoindaysDestroyed   decimal.Decimal
}

// Realization is the fiat outcome of spending one output.
type Realization struct {
	Profit         decimal.Decimal
	Loss           decimal.Decimal
	ValueCreated   decimal.Decimal
	ValueDestroyed decimal.Decimal
	PeakRegret     decimal.Decimal
}

// State is the aggregate of the outputs currently classified into a cohort.
type State struct {
	Supply    domain.Sats
	UTXOCount uint64
	Tracking  Tracking
	Flows     Flows
}

// New creates an empty state at level.
func New(level Level) *State {
	s := &State{Tracking: Basic{}}
	switch level {
	case LevelPriceOnly:
		s.Tracking = &PriceAware{Histogram: costbasis.New()}
	case LevelFull:
		s.Tracking = &PriceAware{Histogram: costbasis.New(), Realized: &RealizedState{}}
	}
	return s
}

// Level reports the tracking level.
func (s *State) Level() Level {
	pa, ok := s.Tracking.(*PriceAware)
	switch {
	case !ok:
		return LevelBasic
	case pa.Realized == nil:
		return LevelPriceOnly
	}
	return LevelFull
}

// PriceAware returns the price tracking of s, or nil at LevelBasic.
func (s *State) PriceAware() *PriceAware {
	pa, _ := s.Tracking.(*PriceAware)
	return pa
}

// Add adds count outputs totalling amount, all created at price.
func (s *State) Add(amount domain.Sats, count uint64, price domain.OptionalCents) error {
	if s.Supply+amount < s.Supply {
		return fmt.Errorf("supply overflow: %d + %d", s.Supply, amount)
	}
	s.Supply += amount
	s.UTXOCount += count

	pa, ok := s.Tracking.(*PriceAware)
	if !ok {
		return nil
	}
	if !price.Valid {
		pa.Unpriced += amount
		return nil
	}
	if err := pa.Histogram.Increment(price.Value, amount); err != nil {
		return err
	}
	if pa.Realized != nil {
		pa.Realized.Cap = pa.Realized.Cap.Add(domain.Fiat(amount, price.Value))
	}
	return nil
}

// Remove removes count outputs totalling amount, all created at price.
func (s *State) Remove(amount domain.Sats, count uint64, price domain.OptionalCents) error {
	if amount > s.Supply {
		return fmt.Errorf("%w: supply %d - %d", ErrNegative, s.Supply, amount)
	}
	if count > s.UTXOCount {
		return fmt.Errorf("%w: utxo count %d - %d", ErrNegative, s.UTXOCount, count)
	}

	if pa, ok := s.Tracking.(*PriceAware); ok {
		if !price.Valid {
			if amount > pa.Unpriced {
				return fmt.Errorf("%w: unpriced %d - %d", ErrNegative, pa.Unpriced, amount)
			}
			pa.Unpriced -= amount
		} else {
			if err := pa.Histogram.Decrement(price.Value, amount); err != nil {
				return err
			}
			if pa.Realized != nil {
				pa.Realized.Cap = pa.Realized.Cap.Sub(domain.Fiat(amount, price.Value))
			}
		}
	}

	s.Supply -= amount
	s.UTXOCount -= count
	return nil
}

// RecordSpend adds a spent output to the height's flows.
func (s *State) RecordSpend(amount domain.Sats, blocksOld, daysOld uint64) {
	s.Flows.Sent += amount
	btc := domain.BTC(amount)
	s.Flows.CoinblocksDestroyed = s.Flows.CoinblocksDestroyed.Add(btc.Mul(decimal.NewFromInt(int64(blocksOld))))
	s.Flows.CoindaysDestroyed = s.Flows.CoindaysDestroyed.Add(btc.Mul(decimal.NewFromInt(int64(daysOld))))
}

// Realize accumulates a realization. No-op below LevelFull.
func (s *State) Realize(r Realization) {
	pa, ok := s.Tracking.(*PriceAware)
	if !ok || pa.Realized == nil {
		return
	}
	rs := pa.Realized
	rs.Profit = rs.Profit.Add(r.Profit)
	rs.Loss = rs.Loss.Add(r.Loss)
	rs.ValueCreated = rs.ValueCreated.Add(r.ValueCreated)
	rs.ValueDestroyed = rs.ValueDestroyed.Add(r.ValueDestroyed)
	rs.PeakRegret = rs.PeakRegret.Add(r.PeakRegret)
}

// ResetFlows zeroes the per-height flows after they were pushed.
func (s *State) ResetFlows() {
	s.Flows = Flows{}
	if pa, ok := s.Tracking.(*PriceAware); ok && pa.Realized != nil {
		cp := pa.Realized.Cap
		*pa.Realized = RealizedState{Cap: cp}
	}
}

// CheckMass verifies histogram mass plus unpriced supply equals supply.
func (s *State) CheckMass() error {
	pa, ok := s.Tracking.(*PriceAware)
	if !ok {
		return nil
	}
	if got := pa.Histogram.Total() + pa.Unpriced; got != s.Supply {
		return fmt.Errorf("%w: histogram %d + unpriced %d != supply %d",
			ErrMassMismatch, pa.Histogram.Total(), pa.Unpriced, s.Supply)
	}
	return nil
}

// Row captures the state's metric values at a height with block price price.
// Percentile and unrealized fields are filled only when withPercentiles is set.
func (s *State) Row(price domain.OptionalCents, withPercentiles bool) Row {
	r := Row{
		Supply:              s.Supply,
		UTXOCount:           s.UTXOCount,
		Sent:                s.Flows.Sent,
		CoinblocksDestroyed: s.Flows.CoinblocksDestroyed,
		CoindaysDestroyed:   s.Flows.CoindaysDestroyed,
	}

	pa, ok := s.Tracking.(*PriceAware)
	if !ok {
		return r
	}
	if rs := pa.Realized; rs != nil {
		r.RealizedCap = rs.Cap
		r.RealizedProfit = rs.Profit
		r.RealizedLoss = rs.Loss
		r.ValueCreated = rs.ValueCreated
		r.ValueDestroyed = rs.ValueDestroyed
		r.PeakRegret = rs.PeakRegret
		r.PricedSupply = s.Supply - pa.Unpriced
		r.RecomputeRealizedPrice()
	}
	if withPercentiles {
		r.Percentiles = pa.Histogram.PercentilePrices(pa.Histogram.Total())
		if price.Valid {
			u := pa.Histogram.UnrealizedAt(price.Value)
			r.UnrealizedProfit = u.Profit
			r.UnrealizedLoss = u.Loss
			r.SupplyInProfit = u.SupplyInProfit
			r.SupplyInLoss = u.SupplyInLoss
		}
	}
	return r
}
