// Package cohort defines the closed set of classification filters over unspent
// outputs and the bucket tables that group them into named cohort families.
package cohort

import (
	"fmt"
	"math"

	"utxo-cohort-lab/internal/domain"
)

// Kind identifies the axis a Filter classifies on.
type Kind uint8

const (
	KindAll Kind = iota
	KindTerm
	KindEpoch
	KindType
	KindAge
	KindAmount
)

// Term splits outputs by holding time.
type Term uint8

const (
	TermShort Term = iota
	TermLong
)

func (t Term) String() string {
	if t == TermLong {
		return "long"
	}
	return "short"
}

// Bound is the shape of an age or amount interval.
type Bound uint8

const (
	BoundLowerThan Bound = iota
	BoundGreaterOrEqual
	BoundRange
)

// Unbounded is the open upper edge of an interval.
const Unbounded = math.MaxUint64

// Filter is a classification predicate. Only the fields relevant to Kind are set.
// Age bounds are in days, amount bounds in satoshis; intervals are half-open [Lo, Hi).
type Filter struct {
	Kind  Kind
	Term  Term
	Epoch uint8
	Type  domain.OutputType
	Bound Bound
	Lo    uint64
	Hi    uint64
}

// All matches every output.
func All() Filter { return Filter{Kind: KindAll} }

// ByTerm matches outputs younger (short) or at least as old (long) as ThresholdDays.
func ByTerm(t Term) Filter { return Filter{Kind: KindTerm, Term: t} }

// ByEpoch matches outputs created in halving epoch n.
func ByEpoch(n uint8) Filter { return Filter{Kind: KindEpoch, Epoch: n} }

// ByType matches outputs of one script type.
func ByType(t domain.OutputType) Filter { return Filter{Kind: KindType, Type: t} }

// AgeLowerThan matches outputs younger than d days.
func AgeLowerThan(d uint64) Filter {
	return Filter{Kind: KindAge, Bound: BoundLowerThan, Lo: 0, Hi: d}
}

// AgeAtLeast matches outputs at least d days old.
func AgeAtLeast(d uint64) Filter {
	return Filter{Kind: KindAge, Bound: BoundGreaterOrEqual, Lo: d, Hi: Unbounded}
}

// AgeRange matches outputs aged [lo, hi) days.
func AgeRange(lo, hi uint64) Filter {
	return Filter{Kind: KindAge, Bound: BoundRange, Lo: lo, Hi: hi}
}

// AmountLowerThan matches outputs holding less than a sats.
func AmountLowerThan(a domain.Sats) Filter {
	return Filter{Kind: KindAmount, Bound: BoundLowerThan, Lo: 0, Hi: uint64(a)}
}

// AmountAtLeast matches outputs holding at least a sats.
func AmountAtLeast(a domain.Sats) Filter {
	return Filter{Kind: KindAmount, Bound: BoundGreaterOrEqual, Lo: uint64(a), Hi: Unbounded}
}

// AmountRange matches outputs holding [lo, hi) sats.
func AmountRange(lo, hi domain.Sats) Filter {
	return Filter{Kind: KindAmount, Bound: BoundRange, Lo: uint64(lo), Hi: uint64(hi)}
}

// axis groups kinds that can be compared by interval containment.
type axis uint8

const (
	axisNone axis = iota
	axisAge
	axisAmount
)

// interval returns the filter's half-open interval on its axis.
// Term is an age interval split at ThresholdDays.
func (f Filter) interval() (axis, uint64, uint64) {
	switch f.Kind {
	case KindAge:
		return axisAge, f.Lo, f.Hi
	case KindTerm:
		if f.Term == TermShort {
			return axisAge, 0, ThresholdDays
		}
		return axisAge, ThresholdDays, Unbounded
	case KindAmount:
		return axisAmount, f.Lo, f.Hi
	}
	return axisNone, 0, 0
}

func (f Filter) contains(v uint64) bool {
	_, lo, hi := f.interval()
	return v >= lo && (hi == Unbounded || v < hi)
}

// MatchesAge reports whether an output aged days belongs to an age-axis filter.
func (f Filter) MatchesAge(days uint64) bool {
	if ax, _, _ := f.interval(); ax != axisAge {
		return false
	}
	return f.contains(days)
}

// MatchesAmount reports whether an output holding amount belongs to an amount filter.
func (f Filter) MatchesAmount(amount domain.Sats) bool {
	if f.Kind != KindAmount {
		return false
	}
	return f.contains(uint64(amount))
}

// Includes reports whether every output matching other also matches f.
// Interval filters on the same axis compare by containment; epoch and type by equality.
func (f Filter) Includes(other Filter) bool {
	if f.Kind == KindAll {
		return true
	}
	switch f.Kind {
	case KindEpoch:
		return other.Kind == KindEpoch && other.Epoch == f.Epoch
	case KindType:
		return other.Kind == KindType && other.Type == f.Type
	}

	ax, lo, hi := f.interval()
	oax, olo, ohi := other.interval()
	if ax == axisNone || ax != oax {
		return false
	}
	return lo <= olo && ohi <= hi
}

func (f Filter) String() string {
	switch f.Kind {
	case KindAll:
		return "All"
	case KindTerm:
		return fmt.Sprintf("Term(%s)", f.Term)
	case KindEpoch:
		return fmt.Sprintf("Epoch(%d)", f.Epoch)
	case KindType:
		return fmt.Sprintf("Type(%s)", f.Type)
	}
	name := "Age"
	if f.Kind == KindAmount {
		name = "Amount"
	}
	switch f.Bound {
	case BoundLowerThan:
		return fmt.Sprintf("%s(<%d)", name, f.Hi)
	case BoundGreaterOrEqual:
		return fmt.Sprintf("%s(>=%d)", name, f.Lo)
	}
	return fmt.Sprintf("%s(%d..%d)", name, f.Lo, f.Hi)
}
