// Package engine applies blocks to the directly tracked cohorts.
//
// The engine keeps no per-output state. It keeps one BlockState per height
// (the live supply and output count created at that height, its clamped
// timestamp and its price) and one cohortstate.State per direct cohort. A block
// is applied as tick_tock, then send, then receive, and only through ApplyBlock.
package engine

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"utxo-cohort-lab/internal/cohort"
	"utxo-cohort-lab/internal/cohortstate"
	"utxo-cohort-lab/internal/domain"
)

// computeVersion is bumped whenever the engine's arithmetic changes.
const computeVersion = 2

// Version tags every engine-produced series and snapshot.
const Version uint64 = cohort.TaxonomyVersion<<16 | computeVersion

// BlockState is the live remainder of the outputs created at one height.
type BlockState struct {
	Timestamp int64                `json:"t"`
	Price     domain.OptionalCents `json:"p"`
	Supply    domain.Sats          `json:"s"`
	UTXOCount uint64               `json:"n"`
}

// Options configures an Engine.
type Options struct {
	// PriceTracking enables histograms and realized state.
	PriceTracking bool
	// Taxonomy defaults to cohort.DefaultTaxonomy().
	Taxonomy *cohort.Taxonomy
	Logger   *zap.Logger
}

// Engine is the cohort event state machine. Not safe for concurrent use:
// a single writer applies blocks in height order.
type Engine struct {
	tax           *cohort.Taxonomy
	priceTracking bool
	logger        *zap.Logger

	chain      []BlockState
	tip        int64
	boundaries []int64 // age boundaries in seconds
	peaks      peakTracker

	registry    *cohortstate.Registry
	ageRange    []*cohortstate.Cohort
	amountRange []*cohortstate.Cohort
	epochs      [cohort.MaxEpoch + 1]*cohortstate.Cohort
	types       [domain.OutputTypeCount]*cohortstate.Cohort
	terms       [2]*cohortstate.Cohort
	all         *cohortstate.Cohort // histogram only, nil without price tracking
	direct      []*cohortstate.Cohort
}

// New creates an engine at genesis.
func New(opts Options) (*Engine, error) {
	tax := opts.Taxonomy
	if tax == nil {
		tax = cohort.DefaultTaxonomy()
	}
	if err := tax.Validate(); err != nil {
		return nil, fmt.Errorf("invalid taxonomy: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		tax:           tax,
		priceTracking: opts.PriceTracking,
		logger:        logger,
		registry:      cohortstate.NewRegistry(),
	}
	for _, d := range cohort.AgeBoundaries(tax) {
		e.boundaries = append(e.boundaries, int64(d)*secondsPerDay)
	}

	directLevel := cohortstate.LevelBasic
	if e.priceTracking {
		directLevel = cohortstate.LevelFull
	}
	add := func(d cohort.Def, level cohortstate.Level) (*cohortstate.Cohort, error) {
		c := &cohortstate.Cohort{
			Def:         d,
			State:       cohortstate.New(level),
			Percentiles: e.priceTracking && isPercentileCohort(d.ID()),
		}
		if err := e.registry.Add(c); err != nil {
			return nil, err
		}
		return c, nil
	}

	var err error
	for _, d := range tax.Family(cohort.FamilyAgeRange) {
		c, err := add(d, directLevel)
		if err != nil {
			return nil, err
		}
		e.ageRange = append(e.ageRange, c)
	}
	for _, d := range tax.Family(cohort.FamilyAmountRange) {
		c, err := add(d, directLevel)
		if err != nil {
			return nil, err
		}
		e.amountRange = append(e.amountRange, c)
	}
	for _, d := range tax.Family(cohort.FamilyEpoch) {
		if e.epochs[d.Filter.Epoch], err = add(d, directLevel); err != nil {
			return nil, err
		}
	}
	for _, d := range tax.Family(cohort.FamilyType) {
		if e.types[d.Filter.Type], err = add(d, directLevel); err != nil {
			return nil, err
		}
	}
	for _, d := range tax.Family(cohort.FamilyTerm) {
		if e.terms[d.Filter.Term], err = add(d, directLevel); err != nil {
			return nil, err
		}
	}
	e.direct = append([]*cohortstate.Cohort(nil), e.registry.All()...)

	if e.priceTracking {
		for _, d := range tax.Family(cohort.FamilyAll) {
			if e.all, err = add(d, cohortstate.LevelPriceOnly); err != nil {
				return nil, err
			}
		}
	}

	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) checkWiring() error {
	if len(e.ageRange) == 0 || len(e.amountRange) == 0 {
		return fmt.Errorf("taxonomy has no partitions")
	}
	for i, c := range e.epochs {
		if c == nil {
			return fmt.Errorf("taxonomy is missing epoch %d", i)
		}
	}
	for i, c := range e.types {
		if c == nil {
			return fmt.Errorf("taxonomy is missing type %s", domain.OutputType(i))
		}
	}
	for i, c := range e.terms {
		if c == nil {
			return fmt.Errorf("taxonomy is missing term %s", cohort.Term(i))
		}
	}
	if e.priceTracking && e.all == nil {
		return fmt.Errorf("taxonomy is missing the all cohort")
	}
	return nil
}

func isPercentileCohort(id string) bool {
	for _, p := range cohort.PercentileCohorts {
		if p == id {
			return true
		}
	}
	return false
}

const secondsPerDay = 86_400

// PriceTracking reports whether price-aware state is kept.
func (e *Engine) PriceTracking() bool { return e.priceTracking }

// Taxonomy returns the cohort definitions the engine was built with.
func (e *Engine) Taxonomy() *cohort.Taxonomy { return e.tax }

// NextHeight is the height ApplyBlock expects next.
func (e *Engine) NextHeight() domain.Height { return domain.Height(len(e.chain)) }

// Tip returns the clamped timestamp of the last applied block.
func (e *Engine) Tip() int64 { return e.tip }

// Registry returns every engine-tracked cohort.
func (e *Engine) Registry() *cohortstate.Registry { return e.registry }

// Direct returns the directly tracked cohorts, excluding the all histogram.
func (e *Engine) Direct() []*cohortstate.Cohort { return e.direct }

// All returns the all-cohort histogram holder, or nil without price tracking.
func (e *Engine) All() *cohortstate.Cohort { return e.all }

// BlockState returns the chain state at height h.
func (e *Engine) BlockState(h domain.Height) (BlockState, bool) {
	if uint64(h) >= uint64(len(e.chain)) {
		return BlockState{}, false
	}
	return e.chain[h], true
}

// TotalSupply returns the supply of all live outputs.
func (e *Engine) TotalSupply() domain.Sats {
	var total domain.Sats
	for _, c := range e.ageRange {
		total += c.State.Supply
	}
	return total
}

// ApplyBlock applies one block: tick_tock, send, receive. Validation errors and
// unknown spends are detected before any state is mutated.
func (e *Engine) ApplyBlock(b *domain.Block) error {
	if b == nil {
		return fmt.Errorf("%w: nil block", ErrInvalidBlock)
	}
	if b.Height != e.NextHeight() {
		return fmt.Errorf("%w: got height %d, expected %d", ErrOutOfOrder, b.Height, e.NextHeight())
	}
	if err := b.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	if err := e.checkSpends(b); err != nil {
		return err
	}

	for _, c := range e.registry.All() {
		c.State.ResetFlows()
	}

	tip := e.tip
	if len(e.chain) == 0 || b.Timestamp > tip {
		tip = b.Timestamp
	}

	if len(e.chain) > 0 {
		if err := e.tickTock(e.tip, tip); err != nil {
			return err
		}
	}
	e.tip = tip

	if b.Price.Valid {
		e.peaks.push(b.Height, b.Price.Value)
	}

	if err := e.send(b); err != nil {
		return err
	}
	return e.receive(b)
}

// checkSpends verifies every referenced height holds enough live outputs.
func (e *Engine) checkSpends(b *domain.Block) error {
	type need struct {
		amount domain.Sats
		count  uint64
	}
	needs := make(map[domain.Height]need)
	for _, s := range b.Spent {
		n := needs[s.CreatedHeight]
		n.amount += s.Amount
		n.count++
		needs[s.CreatedHeight] = n
	}
	for h, n := range needs {
		bs := e.chain[h]
		if n.amount > bs.Supply || n.count > bs.UTXOCount {
			return fmt.Errorf("%w: height %d holds %d sats in %d outputs, block %d spends %d sats in %d outputs",
				ErrUnknownOutput, h, bs.Supply, bs.UTXOCount, b.Height, n.amount, n.count)
		}
	}
	return nil
}

// tickTock moves the outputs of every block whose age category changes as the
// tip advances from prev to next.
func (e *Engine) tickTock(prev, next int64) error {
	if next <= prev {
		return nil
	}

	// A block created at t crosses boundary d when prev-t < d <= next-t,
	// i.e. t in (prev-d, next-d]. Chain timestamps are non-decreasing.
	affected := make(map[int]struct{})
	for _, d := range e.boundaries {
		lo := sort.Search(len(e.chain), func(i int) bool { return e.chain[i].Timestamp > prev-d })
		hi := sort.Search(len(e.chain), func(i int) bool { return e.chain[i].Timestamp > next-d })
		for i := lo; i < hi; i++ {
			if e.chain[i].UTXOCount > 0 {
				affected[i] = struct{}{}
			}
		}
	}
	if len(affected) == 0 {
		return nil
	}

	heights := make([]int, 0, len(affected))
	for h := range affected {
		heights = append(heights, h)
	}
	sort.Ints(heights)
	e.logger.Debug("age migration",
		zap.Int("blocks", len(heights)),
		zap.Int64("from", prev),
		zap.Int64("to", next))

	for _, h := range heights {
		bs := e.chain[h]
		oldDays := cohort.DaysOld(bs.Timestamp, prev)
		newDays := cohort.DaysOld(bs.Timestamp, next)

		if from, to := e.tax.AgeBucket(oldDays), e.tax.AgeBucket(newDays); from != to {
			if err := move(e.ageRange[from], e.ageRange[to], bs); err != nil {
				return err
			}
		}
		if from, to := cohort.TermOf(oldDays), cohort.TermOf(newDays); from != to {
			if err := move(e.terms[from], e.terms[to], bs); err != nil {
				return err
			}
		}
	}
	return nil
}

func move(from, to *cohortstate.Cohort, bs BlockState) error {
	if err := from.State.Remove(bs.Supply, bs.UTXOCount, bs.Price); err != nil {
		return violation(from.ID(), "tick_tock", err)
	}
	if err := to.State.Add(bs.Supply, bs.UTXOCount, bs.Price); err != nil {
		return violation(to.ID(), "tick_tock", err)
	}
	return nil
}

// send removes spent outputs from the cohorts they occupy and records the realization.
func (e *Engine) send(b *domain.Block) error {
	for _, s := range b.Spent {
		bs := &e.chain[s.CreatedHeight]
		bs.Supply -= s.Amount
		bs.UTXOCount--

		days := cohort.DaysOld(bs.Timestamp, e.tip)
		blocksOld := uint64(b.Height - s.CreatedHeight)
		p := e.tax.Place(s.Amount, s.Type, s.CreatedHeight, days)
		r := e.realize(s, bs.Price, b.Price)

		for _, c := range e.placed(p) {
			if err := c.State.Remove(s.Amount, 1, bs.Price); err != nil {
				return violation(c.ID(), "send", err)
			}
			c.State.Realize(r)
			c.State.RecordSpend(s.Amount, blocksOld, days)
		}
		if e.all != nil {
			if err := e.all.State.Remove(s.Amount, 1, bs.Price); err != nil {
				return violation(e.all.ID(), "send", err)
			}
		}
	}
	return nil
}

// realize computes the fiat outcome of spending s, created at createPrice,
// at spendPrice. Value created and destroyed, profit and loss are recorded
// together and only when both prices are known; peak regret needs a spend
// price and price history since creation.
func (e *Engine) realize(s domain.SpentOutput, createPrice, spendPrice domain.OptionalCents) cohortstate.Realization {
	var r cohortstate.Realization
	if !e.priceTracking || !spendPrice.Valid {
		return r
	}
	if createPrice.Valid {
		r.ValueCreated = domain.Fiat(s.Amount, spendPrice.Value)
		r.ValueDestroyed = domain.Fiat(s.Amount, createPrice.Value)
		switch diff := spendPrice.Value - createPrice.Value; {
		case diff > 0:
			r.Profit = domain.Fiat(s.Amount, diff)
		case diff < 0:
			r.Loss = domain.Fiat(s.Amount, -diff)
		}
	}
	if peak := e.peaks.since(s.CreatedHeight); peak.Valid && peak.Value > spendPrice.Value {
		r.PeakRegret = domain.Fiat(s.Amount, peak.Value-spendPrice.Value)
	}
	return r
}

// receive adds the block's outputs to age bucket zero, their amount bucket,
// epoch, type, the short term and the all histogram.
func (e *Engine) receive(b *domain.Block) error {
	bs := BlockState{Timestamp: e.tip, Price: b.Price}
	for _, o := range b.Created {
		p := e.tax.Place(o.Amount, o.Type, b.Height, 0)
		for _, c := range e.placed(p) {
			if err := c.State.Add(o.Amount, 1, b.Price); err != nil {
				return violation(c.ID(), "receive", err)
			}
		}
		if e.all != nil {
			if err := e.all.State.Add(o.Amount, 1, b.Price); err != nil {
				return violation(e.all.ID(), "receive", err)
			}
		}
		bs.Supply += o.Amount
		bs.UTXOCount++
	}
	e.chain = append(e.chain, bs)
	return nil
}

// placed returns the direct cohorts of a placement.
func (e *Engine) placed(p cohort.Placement) [5]*cohortstate.Cohort {
	return [5]*cohortstate.Cohort{
		e.ageRange[p.AgeBucket],
		e.amountRange[p.AmountBucket],
		e.epochs[p.Epoch],
		e.types[p.Type],
		e.terms[p.Term],
	}
}
