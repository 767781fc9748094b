package timeindex

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/vec"
)

// maxRowsPerRead bounds the source rows read at once by RollUp.
const maxRowsPerRead = 1 << 16

// Arith is the arithmetic the operators need over T.
type Arith[T any] struct {
	Zero T
	Add  func(a, b T) T
	Less func(a, b T) bool
	Mean func(sum T, n int) T
}

// SatsArith operates on amounts. Mean rounds down.
var SatsArith = Arith[domain.Sats]{
	Add:  func(a, b domain.Sats) domain.Sats { return a + b },
	Less: func(a, b domain.Sats) bool { return a < b },
	Mean: func(s domain.Sats, n int) domain.Sats { return s / domain.Sats(n) },
}

// Uint64Arith operates on counts. Mean rounds down.
var Uint64Arith = Arith[uint64]{
	Add:  func(a, b uint64) uint64 { return a + b },
	Less: func(a, b uint64) bool { return a < b },
	Mean: func(s uint64, n int) uint64 { return s / uint64(n) },
}

// DecimalArith operates on fiat and coin-age values.
var DecimalArith = Arith[decimal.Decimal]{
	Zero: decimal.Zero,
	Add:  func(a, b decimal.Decimal) decimal.Decimal { return a.Add(b) },
	Less: func(a, b decimal.Decimal) bool { return a.LessThan(b) },
	Mean: func(s decimal.Decimal, n int) decimal.Decimal {
		return s.DivRound(decimal.NewFromInt(int64(n)), vec.DecimalScale)
	},
}

// CentsArith operates on optional prices. Absent prices sort first and are
// ignored by Add.
var CentsArith = Arith[domain.OptionalCents]{
	Add: func(a, b domain.OptionalCents) domain.OptionalCents {
		switch {
		case !a.Valid:
			return b
		case !b.Valid:
			return a
		}
		return domain.SomeCents(a.Value + b.Value)
	},
	Less: func(a, b domain.OptionalCents) bool {
		if a.Valid != b.Valid {
			return !a.Valid
		}
		return a.Value < b.Value
	},
	Mean: func(s domain.OptionalCents, n int) domain.OptionalCents {
		if !s.Valid {
			return s
		}
		return domain.SomeCents(s.Value / domain.Cents(n))
	},
}

// Op reduces the heights of one bucket to one value. prev is the value of the
// previous bucket, Arith.Zero before the first one.
type Op[T any] struct {
	Name   string
	reduce func(prev T, values []T) T
}

// Apply reduces values given the previous bucket's value.
func (o Op[T]) Apply(prev T, values []T) T {
	return o.reduce(prev, values)
}

// carry wraps a reducer so that empty buckets repeat the previous value.
func carry[T any](fn func(values []T) T) func(T, []T) T {
	return func(prev T, values []T) T {
		if len(values) == 0 {
			return prev
		}
		return fn(values)
	}
}

// First takes the bucket's first value.
func First[T any]() Op[T] {
	return Op[T]{Name: "first", reduce: carry(func(v []T) T { return v[0] })}
}

// Last takes the bucket's last value.
func Last[T any]() Op[T] {
	return Op[T]{Name: "last", reduce: carry(func(v []T) T { return v[len(v)-1] })}
}

// Min takes the bucket's smallest value.
func Min[T any](a Arith[T]) Op[T] {
	return Op[T]{Name: "min", reduce: carry(func(v []T) T {
		m := v[0]
		for _, x := range v[1:] {
			if a.Less(x, m) {
				m = x
			}
		}
		return m
	})}
}

// Max takes the bucket's largest value.
func Max[T any](a Arith[T]) Op[T] {
	return Op[T]{Name: "max", reduce: carry(func(v []T) T {
		m := v[0]
		for _, x := range v[1:] {
			if a.Less(m, x) {
				m = x
			}
		}
		return m
	})}
}

func sum[T any](a Arith[T], v []T) T {
	s := a.Zero
	for _, x := range v {
		s = a.Add(s, x)
	}
	return s
}

// Sum adds the bucket's values. Empty buckets sum to zero.
func Sum[T any](a Arith[T]) Op[T] {
	return Op[T]{Name: "sum", reduce: func(_ T, v []T) T { return sum(a, v) }}
}

// Average takes the mean of the bucket's values.
func Average[T any](a Arith[T]) Op[T] {
	return Op[T]{Name: "average", reduce: carry(func(v []T) T { return a.Mean(sum(a, v), len(v)) })}
}

// Percentile takes the nearest-rank p-quantile of the bucket's values,
// p in [0, 1].
func Percentile[T any](a Arith[T], p float64) Op[T] {
	p = min(max(p, 0), 1)
	return Op[T]{Name: fmt.Sprintf("p%g", p*100), reduce: carry(func(v []T) T {
		sorted := slices.Clone(v)
		slices.SortStableFunc(sorted, func(x, y T) int {
			switch {
			case a.Less(x, y):
				return -1
			case a.Less(y, x):
				return 1
			}
			return 0
		})
		return sorted[int(p*float64(len(sorted)-1)+0.5)]
	})}
}

// Cumulative adds the bucket's values to the previous bucket's total.
func Cumulative[T any](a Arith[T]) Op[T] {
	return Op[T]{Name: "cumulative", reduce: func(prev T, v []T) T { return a.Add(prev, sum(a, v)) }}
}

// RollUp appends to dst one value per closed bucket of r not yet in dst,
// stopping at the first bucket whose heights are not all present in src.
func RollUp[T any](ctx context.Context, a *Aligner, r Resolution, src, dst *vec.Vec[T], op Op[T], zero T) (int, error) {
	closed, err := a.Buckets(r)
	if err != nil {
		return 0, err
	}
	from := dst.Len()
	if from >= closed {
		return 0, nil
	}

	prev := zero
	if from > 0 {
		if prev, err = dst.Get(ctx, from-1); err != nil {
			return 0, err
		}
	}

	ranges, err := a.bucketRanges(ctx, r, from, closed)
	if err != nil {
		return 0, err
	}

	written := 0
	for len(ranges) > 0 {
		// Batch consecutive buckets into one read.
		n := 1
		for n < len(ranges) && ranges[n][1]-ranges[0][0] <= maxRowsPerRead {
			n++
		}
		lo, hi := ranges[0][0], ranges[n-1][1]
		if hi > src.Len() {
			// Trim the batch to the buckets src fully covers.
			for n > 0 && ranges[n-1][1] > src.Len() {
				n--
			}
			if n == 0 {
				break
			}
			hi = ranges[n-1][1]
		}

		values, err := src.Range(ctx, lo, hi)
		if err != nil {
			return written, err
		}
		if uint64(len(values)) != hi-lo {
			return written, fmt.Errorf("%s: read %d rows, expected %d", src.Name(), len(values), hi-lo)
		}

		for _, rg := range ranges[:n] {
			v := op.Apply(prev, values[rg[0]-lo:rg[1]-lo])
			if err := dst.PushAt(from, v); err != nil {
				return written, err
			}
			prev = v
			from++
			written++
		}
		ranges = ranges[n:]
	}
	return written, nil
}

// Job is one series rolled up at one resolution.
type Job interface {
	Name() string
	Vec() vec.AnyVec
	Run(ctx context.Context, a *Aligner) (int, error)
	Truncate(ctx context.Context, a *Aligner) error
}

type rollUpJob[T any] struct {
	res  Resolution
	src  *vec.Vec[T]
	dst  *vec.Vec[T]
	op   Op[T]
	zero T
}

// NewJob opens "<src>@<res>" and returns the job that fills it from src.
// The roll-up's version follows src's version.
func NewJob[T any](ctx context.Context, store storage.ColumnStore, r Resolution, src *vec.Vec[T], codec vec.Codec[T], op Op[T], zero T, opts vec.Options) (Job, error) {
	dst, err := vec.Open[T](ctx, store, r.Series(src.Name()), src.Version()<<4|Version, codec, opts)
	if err != nil {
		return nil, err
	}
	return &rollUpJob[T]{res: r, src: src, dst: dst, op: op, zero: zero}, nil
}

func (j *rollUpJob[T]) Name() string    { return j.dst.Name() }
func (j *rollUpJob[T]) Vec() vec.AnyVec { return j.dst }

func (j *rollUpJob[T]) Run(ctx context.Context, a *Aligner) (int, error) {
	n, err := RollUp(ctx, a, j.res, j.src, j.dst, j.op, j.zero)
	if err != nil {
		return n, fmt.Errorf("roll up %s: %w", j.dst.Name(), err)
	}
	return n, nil
}

// Truncate drops buckets the aligner no longer holds as closed.
func (j *rollUpJob[T]) Truncate(ctx context.Context, a *Aligner) error {
	closed, err := a.Buckets(j.res)
	if err != nil {
		return err
	}
	return j.dst.Truncate(ctx, closed)
}
