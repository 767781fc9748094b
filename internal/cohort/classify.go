package cohort

import (
	"sort"

	"utxo-cohort-lab/internal/domain"
)

const secondsPerDay = 86_400

// DaysOld returns whole days elapsed between creation and tip timestamps.
// A tip earlier than creation counts as zero days.
func DaysOld(created, tip int64) uint64 {
	if tip <= created {
		return 0
	}
	return uint64((tip - created) / secondsPerDay)
}

// EpochOf returns the halving epoch of a height, capped at MaxEpoch.
func EpochOf(h domain.Height) uint8 {
	e := uint64(h) / HalvingInterval
	if e > MaxEpoch {
		return MaxEpoch
	}
	return uint8(e)
}

// TermOf returns the holding term of an output aged days.
func TermOf(days uint64) Term {
	if days < ThresholdDays {
		return TermShort
	}
	return TermLong
}

// edge is a partition bucket's lower bound and its position in the family.
type edge struct {
	lo  uint64
	idx int
}

// partitionEdges returns the lower bounds of a partition family, ascending.
func partitionEdges(defs []Def) []edge {
	out := make([]edge, len(defs))
	for i, d := range defs {
		_, lo, _ := d.Filter.interval()
		out[i] = edge{lo: lo, idx: i}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].lo < out[j].lo })
	return out
}

func bucket(edges []edge, v uint64) int {
	i := sort.Search(len(edges), func(i int) bool { return edges[i].lo > v }) - 1
	if i < 0 {
		return -1
	}
	return edges[i].idx
}

// AgeBucket returns the index within Family(FamilyAgeRange) of the bucket
// containing days, or -1 when no bucket starts at or below days.
func (t *Taxonomy) AgeBucket(days uint64) int {
	return bucket(t.ageEdges, days)
}

// AmountBucket returns the index within Family(FamilyAmountRange) of the
// bucket containing amount, or -1 when no bucket starts at or below amount.
func (t *Taxonomy) AmountBucket(amount domain.Sats) int {
	return bucket(t.amountEdges, uint64(amount))
}

// AgeBoundaries returns every day count at which some age-axis cohort changes
// membership: partition edges, derived thresholds and the term threshold.
func AgeBoundaries(t *Taxonomy) []uint64 {
	seen := make(map[uint64]struct{})
	for _, d := range t.Defs() {
		ax, lo, hi := d.Filter.interval()
		if ax != axisAge {
			continue
		}
		if lo > 0 {
			seen[lo] = struct{}{}
		}
		if hi != Unbounded {
			seen[hi] = struct{}{}
		}
	}
	out := make([]uint64, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Placement is the set of directly tracked cohorts an output belongs to.
type Placement struct {
	AgeBucket    int
	AmountBucket int
	Epoch        uint8
	Type         domain.OutputType
	Term         Term
}

// Place classifies an output created at height, aged days. Bucket indices
// refer to the taxonomy's own partition families.
func (t *Taxonomy) Place(amount domain.Sats, typ domain.OutputType, created domain.Height, days uint64) Placement {
	return Placement{
		AgeBucket:    t.AgeBucket(days),
		AmountBucket: t.AmountBucket(amount),
		Epoch:        EpochOf(created),
		Type:         typ,
		Term:         TermOf(days),
	}
}
