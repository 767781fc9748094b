package timeindex

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/vec"
)

// Version tags the aligner's series.
const Version uint64 = 1

// ErrNoHeights is returned by lookups on an empty aligner.
var ErrNoHeights = errors.New("no heights indexed")

// Series names.
const (
	TimestampSeries = "height.timestamp"
	firstSuffix     = ".first_height"
	countSuffix     = ".height_count"
)

type bucketIndex struct {
	res   Resolution
	first *vec.Vec[uint64]
	count *vec.Vec[uint64]

	// open bucket: index, first height, count of heights
	cur      uint64
	curFirst uint64
	curCount uint64
}

// Aligner maps heights to buckets. Only closed buckets are persisted: a
// bucket closes when a height of a later bucket is pushed, and empty buckets
// in between are persisted with a zero count.
type Aligner struct {
	timestamps *vec.Vec[int64]
	last       int64
	indexes    []*bucketIndex
}

// New opens the aligner's series for resolutions.
func New(ctx context.Context, store storage.ColumnStore, resolutions []Resolution, opts vec.Options) (*Aligner, error) {
	ts, err := vec.Open[int64](ctx, store, TimestampSeries, Version, vec.Int64Codec{}, opts)
	if err != nil {
		return nil, err
	}
	a := &Aligner{timestamps: ts}

	seen := make(map[Resolution]bool)
	for _, r := range resolutions {
		if seen[r] {
			continue
		}
		seen[r] = true
		first, err := vec.Open[uint64](ctx, store, string(r)+firstSuffix, Version, vec.Uint64Codec{}, opts)
		if err != nil {
			return nil, err
		}
		count, err := vec.Open[uint64](ctx, store, string(r)+countSuffix, Version, vec.Uint64Codec{}, opts)
		if err != nil {
			return nil, err
		}
		a.indexes = append(a.indexes, &bucketIndex{res: r, first: first, count: count})
	}

	if err := a.Truncate(ctx, ts.Len()); err != nil {
		return nil, err
	}
	return a, nil
}

// Resolutions returns the resolutions indexed.
func (a *Aligner) Resolutions() []Resolution {
	out := make([]Resolution, len(a.indexes))
	for i, bi := range a.indexes {
		out[i] = bi.res
	}
	return out
}

// Len returns the number of heights indexed.
func (a *Aligner) Len() uint64 {
	return a.timestamps.Len()
}

// Vecs returns every aligner series.
func (a *Aligner) Vecs() []vec.AnyVec {
	out := []vec.AnyVec{a.timestamps}
	for _, bi := range a.indexes {
		out = append(out, bi.first, bi.count)
	}
	return out
}

func (a *Aligner) index(r Resolution) (*bucketIndex, error) {
	for _, bi := range a.indexes {
		if bi.res == r {
			return bi, nil
		}
	}
	return nil, fmt.Errorf("resolution %s not indexed", r)
}

// Push indexes height h at timestamp ts. Heights must be pushed in order; a
// timestamp before the previous height's is clamped to it.
func (a *Aligner) Push(h domain.Height, ts int64) error {
	n := a.timestamps.Len()
	if uint64(h) != n {
		return fmt.Errorf("align height %d: expected %d", h, n)
	}
	if n > 0 && ts < a.last {
		ts = a.last
	}
	if err := a.timestamps.PushAt(n, ts); err != nil {
		return err
	}
	a.last = ts

	for _, bi := range a.indexes {
		if err := bi.advance(n, ts); err != nil {
			return err
		}
	}
	return nil
}

// advance places height h at ts in the open bucket, closing the buckets
// before it.
func (bi *bucketIndex) advance(h uint64, ts int64) error {
	k := bi.res.Index(ts)
	if h == 0 {
		// Buckets before the first height are empty.
		for j := uint64(0); j < k; j++ {
			if err := bi.close(j, 0, 0); err != nil {
				return err
			}
		}
		bi.cur, bi.curFirst, bi.curCount = k, 0, 1
		return nil
	}
	if k == bi.cur {
		bi.curCount++
		return nil
	}
	if err := bi.close(bi.cur, bi.curFirst, bi.curCount); err != nil {
		return err
	}
	for j := bi.cur + 1; j < k; j++ {
		if err := bi.close(j, h, 0); err != nil {
			return err
		}
	}
	bi.cur, bi.curFirst, bi.curCount = k, h, 1
	return nil
}

func (bi *bucketIndex) close(k, first, count uint64) error {
	if err := bi.first.PushAt(k, first); err != nil {
		return err
	}
	return bi.count.PushAt(k, count)
}

// Buckets returns the number of closed buckets at r.
func (a *Aligner) Buckets(r Resolution) (uint64, error) {
	bi, err := a.index(r)
	if err != nil {
		return 0, err
	}
	return min(bi.first.Len(), bi.count.Len()), nil
}

// FirstIndexOfBucket returns the first height of closed bucket k. Empty
// buckets report the first height after them.
func (a *Aligner) FirstIndexOfBucket(ctx context.Context, r Resolution, k uint64) (domain.Height, error) {
	bi, err := a.index(r)
	if err != nil {
		return 0, err
	}
	v, err := bi.first.Get(ctx, k)
	return domain.Height(v), err
}

// CountInBucket returns the number of heights in closed bucket k.
func (a *Aligner) CountInBucket(ctx context.Context, r Resolution, k uint64) (uint64, error) {
	bi, err := a.index(r)
	if err != nil {
		return 0, err
	}
	return bi.count.Get(ctx, k)
}

// bucketRanges returns [first, first+count) for closed buckets [from, to).
func (a *Aligner) bucketRanges(ctx context.Context, r Resolution, from, to uint64) ([][2]uint64, error) {
	bi, err := a.index(r)
	if err != nil {
		return nil, err
	}
	firsts, err := bi.first.Range(ctx, from, to)
	if err != nil {
		return nil, err
	}
	counts, err := bi.count.Range(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(firsts) != len(counts) {
		return nil, fmt.Errorf("%s index: %d first heights, %d counts", r, len(firsts), len(counts))
	}
	out := make([][2]uint64, len(firsts))
	for i := range firsts {
		out[i] = [2]uint64{firsts[i], firsts[i] + counts[i]}
	}
	return out, nil
}

// HeightAt returns the last height whose timestamp is at or before ts. When
// every height is later than ts, the first height is returned.
func (a *Aligner) HeightAt(ctx context.Context, ts int64) (domain.Height, error) {
	n := a.timestamps.Len()
	if n == 0 {
		return 0, ErrNoHeights
	}
	var readErr error
	i := sort.Search(int(n), func(i int) bool {
		if readErr != nil {
			return true
		}
		v, err := a.timestamps.Get(ctx, uint64(i))
		if err != nil {
			readErr = err
			return true
		}
		return v > ts
	})
	if readErr != nil {
		return 0, readErr
	}
	if i == 0 {
		return 0, nil
	}
	return domain.Height(i - 1), nil
}

// Truncate drops every height at or above n and every bucket not closed by a
// height below n, and rebuilds the open bucket.
func (a *Aligner) Truncate(ctx context.Context, n uint64) error {
	if err := a.timestamps.Truncate(ctx, n); err != nil {
		return err
	}
	n = a.timestamps.Len()

	var lastTS int64
	if n > 0 {
		v, err := a.timestamps.Get(ctx, n-1)
		if err != nil {
			return err
		}
		lastTS = v
	}
	a.last = lastTS

	for _, bi := range a.indexes {
		if n == 0 {
			if err := bi.first.Truncate(ctx, 0); err != nil {
				return err
			}
			if err := bi.count.Truncate(ctx, 0); err != nil {
				return err
			}
			bi.cur, bi.curFirst, bi.curCount = 0, 0, 0
			continue
		}

		open := bi.res.Index(lastTS)
		if err := bi.first.Truncate(ctx, open); err != nil {
			return err
		}
		if err := bi.count.Truncate(ctx, open); err != nil {
			return err
		}
		closed := min(bi.first.Len(), bi.count.Len())
		if closed != open {
			// Index added or reset after the timestamps were stored.
			if err := a.rebuild(ctx, bi, n); err != nil {
				return err
			}
			continue
		}

		var start uint64
		if closed > 0 {
			f, err := bi.first.Get(ctx, closed-1)
			if err != nil {
				return err
			}
			c, err := bi.count.Get(ctx, closed-1)
			if err != nil {
				return err
			}
			start = f + c
		}
		bi.cur, bi.curFirst, bi.curCount = open, start, n-start
	}
	return nil
}

// rebuild recomputes bi from the first n timestamps.
func (a *Aligner) rebuild(ctx context.Context, bi *bucketIndex, n uint64) error {
	if err := bi.first.Truncate(ctx, 0); err != nil {
		return err
	}
	if err := bi.count.Truncate(ctx, 0); err != nil {
		return err
	}
	for from := uint64(0); from < n; from += maxRowsPerRead {
		ts, err := a.timestamps.Range(ctx, from, min(from+maxRowsPerRead, n))
		if err != nil {
			return err
		}
		for i, t := range ts {
			if err := bi.advance(from+uint64(i), t); err != nil {
				return err
			}
		}
	}
	return nil
}
