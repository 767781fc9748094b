package cohort

import (
	"fmt"
	"sort"

	"utxo-cohort-lab/internal/domain"
)

// TaxonomyVersion must be bumped whenever a bucket edge, threshold or family
// membership changes; it is folded into the version of every cohort series.
const TaxonomyVersion = 1

// ThresholdDays separates short-term from long-term holdings.
const ThresholdDays = 155

// HalvingInterval is the number of blocks per issuance epoch.
const HalvingInterval = 210_000

// MaxEpoch is the last tracked epoch; later heights are classified into it.
const MaxEpoch = 4

// Family names a group of cohorts.
type Family string

const (
	FamilyAll         Family = "all"
	FamilyTerm        Family = "term"
	FamilyEpoch       Family = "epoch"
	FamilyType        Family = "type_"
	FamilyAgeRange    Family = "age_range"
	FamilyAmountRange Family = "amount_range"
	FamilyMaxAge      Family = "max_age"
	FamilyMinAge      Family = "min_age"
	FamilyLtAmount    Family = "lt_amount"
	FamilyGeAmount    Family = "ge_amount"
)

// Def is one named cohort.
type Def struct {
	Family Family
	Name   string
	Filter Filter
}

// ID is the stable series prefix of the cohort, e.g. "age_range[_1y_to_2y]".
func (d Def) ID() string {
	if d.Family == FamilyAll {
		return string(FamilyAll)
	}
	return fmt.Sprintf("%s[%s]", d.Family, d.Name)
}

const (
	day   = 1
	week  = 7
	month = 30
	year  = 365
)

// ageRangeTable lists the age_range buckets by lower edge, in days.
var ageRangeTable = []struct {
	name string
	lo   uint64
}{
	{"up_to_1d", 0},
	{"_1d_to_1w", day},
	{"_1w_to_1m", week},
	{"_1m_to_2m", month},
	{"_2m_to_3m", 2 * month},
	{"_3m_to_4m", 3 * month},
	{"_4m_to_5m", 4 * month},
	{"_5m_to_6m", 5 * month},
	{"_6m_to_9m", 6 * month},
	{"_9m_to_1y", 9 * month},
	{"_1y_to_2y", year},
	{"_2y_to_3y", 2 * year},
	{"_3y_to_4y", 3 * year},
	{"_4y_to_5y", 4 * year},
	{"_5y_to_6y", 5 * year},
	{"_6y_to_7y", 6 * year},
	{"_7y_to_8y", 7 * year},
	{"_8y_to_9y", 8 * year},
	{"_9y_to_10y", 9 * year},
	{"_10y_to_11y", 10 * year},
	{"_11y_to_12y", 11 * year},
	{"_12y_to_15y", 12 * year},
	{"from_15y", 15 * year},
}

const (
	sat  domain.Sats = 1
	ksat             = 1_000 * sat
	msat             = 1_000_000 * sat
	btc              = domain.SatsPerBTC
)

var amountRangeTable = []struct {
	name string
	lo   domain.Sats
}{
	{"_0sats", 0},
	{"_1sat_to_10sats", sat},
	{"_10sats_to_100sats", 10 * sat},
	{"_100sats_to_1k_sats", 100 * sat},
	{"_1k_sats_to_10k_sats", ksat},
	{"_10k_sats_to_100k_sats", 10 * ksat},
	{"_100k_sats_to_1m_sats", 100 * ksat},
	{"_1m_sats_to_10m_sats", msat},
	{"_10m_sats_to_1btc", 10 * msat},
	{"_1btc_to_10btc", btc},
	{"_10btc_to_100btc", 10 * btc},
	{"_100btc_to_1k_btc", 100 * btc},
	{"_1k_btc_to_10k_btc", 1_000 * btc},
	{"_10k_btc_to_100k_btc", 10_000 * btc},
	{"_100k_btc_or_more", 100_000 * btc},
}

var maxAgeTable = []struct {
	name string
	days uint64
}{
	{"up_to_1w", week}, {"up_to_1m", month}, {"up_to_2m", 2 * month}, {"up_to_3m", 3 * month},
	{"up_to_4m", 4 * month}, {"up_to_5m", 5 * month}, {"up_to_6m", 6 * month},
	{"up_to_1y", year}, {"up_to_2y", 2 * year}, {"up_to_3y", 3 * year}, {"up_to_4y", 4 * year},
	{"up_to_5y", 5 * year}, {"up_to_6y", 6 * year}, {"up_to_7y", 7 * year}, {"up_to_8y", 8 * year},
	{"up_to_10y", 10 * year}, {"up_to_12y", 12 * year}, {"up_to_15y", 15 * year},
}

var minAgeTable = []struct {
	name string
	days uint64
}{
	{"at_least_1d", day}, {"at_least_1w", week}, {"at_least_1m", month}, {"at_least_2m", 2 * month},
	{"at_least_3m", 3 * month}, {"at_least_4m", 4 * month}, {"at_least_5m", 5 * month},
	{"at_least_6m", 6 * month}, {"at_least_1y", year}, {"at_least_2y", 2 * year},
	{"at_least_3y", 3 * year}, {"at_least_4y", 4 * year}, {"at_least_5y", 5 * year},
	{"at_least_6y", 6 * year}, {"at_least_7y", 7 * year}, {"at_least_8y", 8 * year},
	{"at_least_10y", 10 * year}, {"at_least_12y", 12 * year}, {"at_least_15y", 15 * year},
}

var ltAmountTable = []struct {
	name   string
	amount domain.Sats
}{
	{"under_10sats", 10 * sat}, {"under_100sats", 100 * sat}, {"under_1k_sats", ksat},
	{"under_10k_sats", 10 * ksat}, {"under_100k_sats", 100 * ksat}, {"under_1m_sats", msat},
	{"under_10m_sats", 10 * msat}, {"under_1btc", btc}, {"under_10btc", 10 * btc},
	{"under_100btc", 100 * btc}, {"under_1k_btc", 1_000 * btc}, {"under_10k_btc", 10_000 * btc},
	{"under_100k_btc", 100_000 * btc},
}

var geAmountTable = []struct {
	name   string
	amount domain.Sats
}{
	{"above_1sat", sat}, {"above_10sats", 10 * sat}, {"above_100sats", 100 * sat},
	{"above_1k_sats", ksat}, {"above_10k_sats", 10 * ksat}, {"above_100k_sats", 100 * ksat},
	{"above_1m_sats", msat}, {"above_10m_sats", 10 * msat}, {"above_1btc", btc},
	{"above_10btc", 10 * btc}, {"above_100btc", 100 * btc}, {"above_1k_btc", 1_000 * btc},
	{"above_10k_btc", 10_000 * btc},
}

// Taxonomy is the full, ordered set of cohort definitions.
type Taxonomy struct {
	defs        []Def
	byFamily    map[Family][]Def
	ageEdges    []edge
	amountEdges []edge
}

// DefaultTaxonomy builds the cohort tables.
func DefaultTaxonomy() *Taxonomy {
	var defs []Def

	defs = append(defs, Def{Family: FamilyAll, Name: "all", Filter: All()})
	defs = append(defs,
		Def{Family: FamilyTerm, Name: TermShort.String(), Filter: ByTerm(TermShort)},
		Def{Family: FamilyTerm, Name: TermLong.String(), Filter: ByTerm(TermLong)},
	)
	for e := uint8(0); e <= MaxEpoch; e++ {
		defs = append(defs, Def{Family: FamilyEpoch, Name: fmt.Sprintf("_%d", e), Filter: ByEpoch(e)})
	}
	for _, t := range domain.AllOutputTypes() {
		defs = append(defs, Def{Family: FamilyType, Name: t.String(), Filter: ByType(t)})
	}
	for i, b := range ageRangeTable {
		var f Filter
		switch {
		case i == 0:
			f = AgeLowerThan(ageRangeTable[1].lo)
		case i == len(ageRangeTable)-1:
			f = AgeAtLeast(b.lo)
		default:
			f = AgeRange(b.lo, ageRangeTable[i+1].lo)
		}
		defs = append(defs, Def{Family: FamilyAgeRange, Name: b.name, Filter: f})
	}
	for i, b := range amountRangeTable {
		var f Filter
		switch {
		case i == 0:
			f = AmountLowerThan(amountRangeTable[1].lo)
		case i == len(amountRangeTable)-1:
			f = AmountAtLeast(b.lo)
		default:
			f = AmountRange(b.lo, amountRangeTable[i+1].lo)
		}
		defs = append(defs, Def{Family: FamilyAmountRange, Name: b.name, Filter: f})
	}
	for _, b := range maxAgeTable {
		defs = append(defs, Def{Family: FamilyMaxAge, Name: b.name, Filter: AgeLowerThan(b.days)})
	}
	for _, b := range minAgeTable {
		defs = append(defs, Def{Family: FamilyMinAge, Name: b.name, Filter: AgeAtLeast(b.days)})
	}
	for _, b := range ltAmountTable {
		defs = append(defs, Def{Family: FamilyLtAmount, Name: b.name, Filter: AmountLowerThan(b.amount)})
	}
	for _, b := range geAmountTable {
		defs = append(defs, Def{Family: FamilyGeAmount, Name: b.name, Filter: AmountAtLeast(b.amount)})
	}

	return NewTaxonomy(defs)
}

// NewTaxonomy indexes a list of definitions by family, preserving order.
func NewTaxonomy(defs []Def) *Taxonomy {
	t := &Taxonomy{
		defs:     defs,
		byFamily: make(map[Family][]Def),
	}
	for _, d := range defs {
		t.byFamily[d.Family] = append(t.byFamily[d.Family], d)
	}
	t.ageEdges = partitionEdges(t.byFamily[FamilyAgeRange])
	t.amountEdges = partitionEdges(t.byFamily[FamilyAmountRange])
	return t
}

// Defs returns every definition in table order.
func (t *Taxonomy) Defs() []Def {
	return t.defs
}

// Family returns the definitions of one family in table order.
func (t *Taxonomy) Family(f Family) []Def {
	return t.byFamily[f]
}

// Partitions are the disjoint families every derived age or amount cohort is summed from.
var Partitions = []Family{FamilyAgeRange, FamilyAmountRange}

// DirectFamilies are tracked by the event engine. Epoch, type and term classify on
// axes that are not unions of the partitions.
var DirectFamilies = []Family{FamilyAgeRange, FamilyAmountRange, FamilyEpoch, FamilyType, FamilyTerm}

// DerivedFamilies are produced by summing a partition.
var DerivedFamilies = []Family{FamilyAll, FamilyMaxAge, FamilyMinAge, FamilyLtAmount, FamilyGeAmount}

// PercentileCohorts request cost-basis percentiles every height.
var PercentileCohorts = []string{"all", "term[short]", "term[long]"}

// PartitionFor returns the partition a derived family is summed from.
func PartitionFor(f Family) (Family, bool) {
	switch f {
	case FamilyAll, FamilyMaxAge, FamilyMinAge:
		return FamilyAgeRange, true
	case FamilyLtAmount, FamilyGeAmount:
		return FamilyAmountRange, true
	}
	return "", false
}

// IsDirect reports whether the family is tracked by the event engine.
func IsDirect(f Family) bool {
	for _, d := range DirectFamilies {
		if d == f {
			return true
		}
	}
	return false
}

// Leaves returns the members of partition that target includes, and fails unless
// they cover exactly the target's interval. All must cover the whole partition.
func (t *Taxonomy) Leaves(target Def, partition Family) ([]Def, error) {
	var leaves []Def
	for _, d := range t.byFamily[partition] {
		if target.Filter.Includes(d.Filter) {
			leaves = append(leaves, d)
		}
	}
	if len(leaves) == 0 {
		return nil, fmt.Errorf("%s: no %s bucket is included", target.ID(), partition)
	}

	sort.Slice(leaves, func(i, j int) bool {
		_, a, _ := leaves[i].Filter.interval()
		_, b, _ := leaves[j].Filter.interval()
		return a < b
	})

	var wantLo, wantHi uint64 = 0, Unbounded
	if target.Filter.Kind != KindAll {
		_, wantLo, wantHi = target.Filter.interval()
	}

	_, lo, next := leaves[0].Filter.interval()
	if lo != wantLo {
		return nil, fmt.Errorf("%s: not an exact union of %s: coverage starts at %d, want %d",
			target.ID(), partition, lo, wantLo)
	}
	for _, l := range leaves[1:] {
		_, llo, lhi := l.Filter.interval()
		if llo != next {
			return nil, fmt.Errorf("%s: not an exact union of %s: gap at %d", target.ID(), partition, next)
		}
		next = lhi
	}
	if next != wantHi {
		return nil, fmt.Errorf("%s: not an exact union of %s: coverage ends at %d, want %d",
			target.ID(), partition, next, wantHi)
	}
	return leaves, nil
}

// Validate checks that both partitions cover [0, ∞) without gap or overlap and
// that every derived cohort is an exact union of its partition.
func (t *Taxonomy) Validate() error {
	for _, p := range Partitions {
		if _, err := t.Leaves(Def{Family: FamilyAll, Name: "all", Filter: All()}, p); err != nil {
			return fmt.Errorf("partition %s: %w", p, err)
		}
	}
	for _, fam := range DerivedFamilies {
		part, _ := PartitionFor(fam)
		for _, d := range t.byFamily[fam] {
			if _, err := t.Leaves(d, part); err != nil {
				return err
			}
		}
	}
	return nil
}
