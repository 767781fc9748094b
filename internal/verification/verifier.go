// Package verification checks stored cohort series against the engine's
// invariants: conservation across partitions, derived cohorts equal to the
// sum of their leaves, histogram mass equal to supply and version tags.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"utxo-cohort-lab/internal/checkpoint"
	"utxo-cohort-lab/internal/cohort"
	"utxo-cohort-lab/internal/cohortstate"
	"utxo-cohort-lab/internal/engine"
	"utxo-cohort-lab/internal/reconcile"
	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/vec"
)

// Check names.
const (
	CheckVersion       = "version"
	CheckConservation  = "conservation"
	CheckDerived       = "derived_equals_sum"
	CheckHistogramMass = "histogram_mass"
	CheckDigest        = "digest"
)

const chunk = 4096

// Divergence represents a mismatch between expected and stored values.
type Divergence struct {
	Check    string
	Series   string
	Height   uint64
	Expected any
	Actual   any
}

func (d Divergence) String() string {
	return fmt.Sprintf("%s %s@%d: expected %v, got %v", d.Check, d.Series, d.Height, d.Expected, d.Actual)
}

// Report contains the result of a verification run.
type Report struct {
	Heights          uint64         // heights verified
	Checks           map[string]int // comparisons made per check
	Divergences      []Divergence
	Truncated        bool  // divergences beyond the limit were dropped
	CheckpointHeight int64 // snapshot verified, -1 when none
}

// OK reports whether no check diverged.
func (r *Report) OK() bool {
	return len(r.Divergences) == 0 && !r.Truncated
}

func (r *Report) count(check string, n int) {
	r.Checks[check] += n
}

// Options configures a Verifier.
type Options struct {
	Columns     storage.ColumnStore
	Checkpoints storage.CheckpointStore // optional; enables the histogram mass check
	Taxonomy    *cohort.Taxonomy        // defaults to cohort.DefaultTaxonomy()

	// MaxDivergences caps the divergences kept in the report. Defaults to 100.
	MaxDivergences int
	Logger         *zap.Logger
}

// Verifier checks the series of one column store.
type Verifier struct {
	store  storage.ColumnStore
	ckpts  storage.CheckpointStore
	tax    *cohort.Taxonomy
	limit  int
	logger *zap.Logger
}

// New creates a Verifier.
func New(opts Options) *Verifier {
	tax := opts.Taxonomy
	if tax == nil {
		tax = cohort.DefaultTaxonomy()
	}
	limit := opts.MaxDivergences
	if limit <= 0 {
		limit = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{store: opts.Columns, ckpts: opts.Checkpoints, tax: tax, limit: limit, logger: logger}
}

// VerifyAll runs every check over every stored height.
func (v *Verifier) VerifyAll(ctx context.Context) (*Report, error) {
	r := &Report{Checks: make(map[string]int), CheckpointHeight: -1}

	steps := []struct {
		name string
		fn   func(context.Context, *Report) error
	}{
		{CheckVersion, v.checkVersions},
		{CheckConservation, v.checkConservation},
		{CheckDerived, v.checkDerived},
		{CheckHistogramMass, v.checkHistogramMass},
	}
	for _, s := range steps {
		if err := s.fn(ctx, r); err != nil {
			return r, fmt.Errorf("%s: %w", s.name, err)
		}
		v.logger.Debug("check done",
			zap.String("check", s.name),
			zap.Int("comparisons", r.Checks[s.name]),
			zap.Int("divergences", len(r.Divergences)))
	}
	return r, nil
}

func (v *Verifier) diverge(r *Report, d Divergence) {
	if len(r.Divergences) >= v.limit {
		r.Truncated = true
		return
	}
	r.Divergences = append(r.Divergences, d)
}

// checkVersions compares the version tag of every supply series with the
// version the current code would write.
func (v *Verifier) checkVersions(ctx context.Context, r *Report) error {
	for _, fam := range cohort.DirectFamilies {
		for _, d := range v.tax.Family(fam) {
			if err := v.checkVersion(ctx, r, d.ID(), engine.Version); err != nil {
				return err
			}
		}
	}
	for _, fam := range cohort.DerivedFamilies {
		part, _ := cohort.PartitionFor(fam)
		for _, d := range v.tax.Family(fam) {
			leaves, err := v.tax.Leaves(d, part)
			if err != nil {
				return err
			}
			want := reconcile.Version + uint64(len(leaves))*engine.Version
			if err := v.checkVersion(ctx, r, d.ID(), want); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Verifier) checkVersion(ctx context.Context, r *Report, id string, want uint64) error {
	name := cohortstate.SeriesName(id, cohortstate.MetricSupply)
	r.count(CheckVersion, 1)
	h, err := v.store.Header(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		v.diverge(r, Divergence{Check: CheckVersion, Series: name, Expected: want, Actual: "missing"})
		return nil
	}
	if err != nil {
		return err
	}
	if h.Version != want {
		v.diverge(r, Divergence{Check: CheckVersion, Series: name, Expected: want, Actual: h.Version})
	}
	return nil
}

// familySupply returns the supply series of every member of a family.
func (v *Verifier) familySupply(f cohort.Family) []string {
	var out []string
	for _, d := range v.tax.Family(f) {
		out = append(out, cohortstate.SeriesName(d.ID(), cohortstate.MetricSupply))
	}
	return out
}

// checkConservation verifies that every partition of the direct cohorts sums
// to the same supply at every height.
func (v *Verifier) checkConservation(ctx context.Context, r *Report) error {
	reference := v.familySupply(cohort.FamilyAgeRange)
	n, err := v.minLen(ctx, reference)
	if err != nil {
		return err
	}
	r.Heights = n

	others := []cohort.Family{cohort.FamilyAmountRange, cohort.FamilyEpoch, cohort.FamilyType, cohort.FamilyTerm}
	for from := uint64(0); from < n; from += chunk {
		to := min(from+chunk, n)
		want, err := v.sumSats(ctx, reference, from, to)
		if err != nil {
			return err
		}
		for _, f := range others {
			got, err := v.sumSats(ctx, v.familySupply(f), from, to)
			if err != nil {
				return err
			}
			for i := range want {
				r.count(CheckConservation, 1)
				if i >= len(got) {
					v.diverge(r, Divergence{Check: CheckConservation, Series: string(f) + ".supply", Height: from + uint64(i), Expected: want[i], Actual: "missing"})
					break
				}
				if got[i] != want[i] {
					v.diverge(r, Divergence{Check: CheckConservation, Series: string(f) + ".supply", Height: from + uint64(i), Expected: want[i], Actual: got[i]})
				}
			}
		}
	}
	return nil
}

// checkDerived verifies supply and utxo_count of every derived cohort against
// the sum of its leaves over the heights both hold.
func (v *Verifier) checkDerived(ctx context.Context, r *Report) error {
	for _, fam := range cohort.DerivedFamilies {
		part, _ := cohort.PartitionFor(fam)
		for _, d := range v.tax.Family(fam) {
			defs, err := v.tax.Leaves(d, part)
			if err != nil {
				return err
			}
			for _, metric := range []string{cohortstate.MetricSupply, cohortstate.MetricUTXOCount} {
				derived := cohortstate.SeriesName(d.ID(), metric)
				leaves := make([]string, len(defs))
				for i, ld := range defs {
					leaves[i] = cohortstate.SeriesName(ld.ID(), metric)
				}
				if err := v.compareSum(ctx, r, derived, leaves); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (v *Verifier) compareSum(ctx context.Context, r *Report, derived string, leaves []string) error {
	n, err := v.minLen(ctx, append([]string{derived}, leaves...))
	if err != nil {
		return err
	}
	for from := uint64(0); from < n; from += chunk {
		to := min(from+chunk, n)
		want, err := v.sumSats(ctx, leaves, from, to)
		if err != nil {
			return err
		}
		got, err := v.sumSats(ctx, []string{derived}, from, to)
		if err != nil {
			return err
		}
		for i := range want {
			r.count(CheckDerived, 1)
			if got[i] != want[i] {
				v.diverge(r, Divergence{Check: CheckDerived, Series: derived, Height: from + uint64(i), Expected: want[i], Actual: got[i]})
			}
		}
	}
	return nil
}

// checkHistogramMass restores the latest checkpoint, which runs the engine's
// invariant checks, and compares its cohort supplies with the stored rows.
func (v *Verifier) checkHistogramMass(ctx context.Context, r *Report) error {
	if v.ckpts == nil {
		return nil
	}
	cp, err := v.ckpts.Latest(ctx, math.MaxUint64, engine.Version)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r.CheckpointHeight = int64(cp.Height)

	snap, err := checkpoint.Decode(cp.Payload)
	if err != nil {
		v.diverge(r, Divergence{Check: CheckHistogramMass, Series: "checkpoint", Height: cp.Height, Expected: "decodable snapshot", Actual: err.Error()})
		return nil
	}
	eng, err := engine.New(engine.Options{PriceTracking: snap.PriceTracking, Taxonomy: v.tax})
	if err != nil {
		return err
	}
	r.count(CheckHistogramMass, 1)
	if err := eng.Restore(snap); err != nil {
		v.diverge(r, Divergence{Check: CheckHistogramMass, Series: "checkpoint", Height: cp.Height, Expected: "consistent snapshot", Actual: err.Error()})
		return nil
	}

	for _, c := range eng.Direct() {
		name := cohortstate.SeriesName(c.ID(), cohortstate.MetricSupply)
		rows, err := v.readSats(ctx, name, cp.Height, cp.Height+1)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		r.count(CheckHistogramMass, 1)
		if want := uint64(c.State.Supply); rows[0] != want {
			v.diverge(r, Divergence{Check: CheckHistogramMass, Series: name, Height: cp.Height, Expected: want, Actual: rows[0]})
		}
	}
	return nil
}

func (v *Verifier) minLen(ctx context.Context, names []string) (uint64, error) {
	n := uint64(math.MaxUint64)
	for _, name := range names {
		h, err := v.store.Header(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		n = min(n, h.Len)
	}
	if n == math.MaxUint64 {
		return 0, nil
	}
	return n, nil
}

// readSats decodes rows [from, to) of an 8-byte unsigned series. Supply and
// utxo_count share the encoding.
func (v *Verifier) readSats(ctx context.Context, name string, from, to uint64) ([]uint64, error) {
	rows, err := v.store.ReadRange(ctx, name, from, to)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	codec := vec.Uint64Codec{}
	out := make([]uint64, len(rows))
	for i, row := range rows {
		if len(row) != codec.Width() {
			return nil, fmt.Errorf("%s[%d]: %w", name, from+uint64(i), storage.ErrWidthMismatch)
		}
		out[i] = codec.Decode(row)
	}
	return out, nil
}

func (v *Verifier) sumSats(ctx context.Context, names []string, from, to uint64) ([]uint64, error) {
	sums := make([]uint64, to-from)
	for _, name := range names {
		rows, err := v.readSats(ctx, name, from, to)
		if err != nil {
			return nil, err
		}
		if uint64(len(rows)) != to-from {
			return nil, fmt.Errorf("%s: read %d rows, expected %d", name, len(rows), to-from)
		}
		for i, x := range rows {
			sums[i] += x
		}
	}
	return sums, nil
}
