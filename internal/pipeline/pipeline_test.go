package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/ledger"
	"utxo-cohort-lab/internal/publish"
	"utxo-cohort-lab/internal/storage/memory"
	"utxo-cohort-lab/internal/timeindex"
	"utxo-cohort-lab/internal/vec"
)

type recorder struct {
	got []publish.Notification
}

func (r *recorder) Publish(_ context.Context, n publish.Notification) { r.got = append(r.got, n) }
func (r *recorder) Close() error                                       { return nil }

type stores struct {
	columns     *memory.ColumnStore
	checkpoints *memory.CheckpointStore
}

func newStores() stores {
	return stores{columns: memory.NewColumnStore(), checkpoints: memory.NewCheckpointStore()}
}

func chain(n int) []*domain.Block {
	cfg := ledger.DefaultSyntheticConfig()
	cfg.Seed = 7
	cfg.Blocks = n
	cfg.PriceFrom = 10
	return ledger.Synthetic(cfg)
}

func open(t *testing.T, s stores, source ledger.Source, stop domain.Height, pub publish.Publisher) *Pipeline {
	t.Helper()
	p, err := New(context.Background(), Options{
		Columns:            s.columns,
		Checkpoints:        s.checkpoints,
		Source:             source,
		PriceTracking:      true,
		FlushInterval:      7,
		CheckpointInterval: 50,
		CheckpointKeep:     3,
		Workers:            2,
		Resolutions:        []timeindex.Resolution{timeindex.Date, timeindex.Week},
		StopHeight:         stop,
		Publisher:          pub,
		Logger:             zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPipeline_RunToEnd(t *testing.T) {
	ctx := context.Background()
	blocks := chain(120)
	s := newStores()
	pub := &recorder{}
	p := open(t, s, ledger.NewMemorySource(blocks), 0, pub)

	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopEndOfFeed, res.Stopped)
	assert.Equal(t, 120, res.Applied)
	assert.Equal(t, domain.Height(120), res.Next)
	assert.Equal(t, 3, res.Checkpoints)

	heights, err := s.checkpoints.Heights(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{55, 104, 119}, heights)

	assert.Equal(t, uint64(120), vec.MinLen(p.Engine().Vecs()))

	supply, err := vec.Lookup[domain.Sats](p.Catalog(), "all.supply")
	require.NoError(t, err)
	assert.Equal(t, uint64(120), supply.StoredLen())
	last, err := supply.Get(ctx, 119)
	require.NoError(t, err)
	assert.Equal(t, p.Engine().TotalSupply(), last)

	require.NotEmpty(t, pub.got)
	n := pub.got[len(pub.got)-1]
	assert.Equal(t, domain.Height(119), n.Height)
	assert.Equal(t, p.Engine().TotalSupply(), n.Supply)
	assert.Equal(t, n.Supply, n.ShortSupply+n.LongSupply)
	assert.NotNil(t, n.MedianCostBasis)

	closed, err := p.Aligner().Buckets(timeindex.Date)
	require.NoError(t, err)
	daily, err := vec.Lookup[domain.Sats](p.Catalog(), "all.supply@date")
	require.NoError(t, err)
	assert.Equal(t, closed, daily.StoredLen())
}

// readAll returns the raw rows of every series in the store.
func readAll(t *testing.T, store *memory.ColumnStore) map[string][][]byte {
	t.Helper()
	ctx := context.Background()
	names, err := store.Names(ctx)
	require.NoError(t, err)
	out := make(map[string][][]byte, len(names))
	for _, name := range names {
		h, err := store.Header(ctx, name)
		require.NoError(t, err)
		rows, err := store.ReadRange(ctx, name, 0, h.Len)
		require.NoError(t, err)
		out[name] = rows
	}
	return out
}

func TestPipeline_ResumeMatchesFullRun(t *testing.T) {
	ctx := context.Background()
	blocks := chain(160)

	full := newStores()
	_, err := open(t, full, ledger.NewMemorySource(blocks), 0, nil).Run(ctx)
	require.NoError(t, err)

	split := newStores()
	res, err := open(t, split, ledger.NewMemorySource(blocks), 75, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopHeight, res.Stopped)
	assert.Equal(t, domain.Height(75), res.Next)

	res, err = open(t, split, ledger.NewMemorySource(blocks), 0, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Height(75), res.Resume.Start)
	assert.Equal(t, int64(74), res.Resume.Checkpoint)
	assert.Equal(t, 85, res.Applied)

	want := readAll(t, full.columns)
	got := readAll(t, split.columns)
	require.Equal(t, len(want), len(got))
	for name, rows := range want {
		assert.Equal(t, rows, got[name], name)
	}
}

type cancelAt struct {
	ledger.Source
	at     domain.Height
	cancel context.CancelFunc
}

func (s *cancelAt) Block(ctx context.Context, h domain.Height) (*domain.Block, error) {
	b, err := s.Source.Block(ctx, h)
	if h == s.at {
		s.cancel()
	}
	return b, err
}

func TestPipeline_CancelFinishesBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newStores()
	source := &cancelAt{Source: ledger.NewMemorySource(chain(100)), at: 30, cancel: cancel}
	p := open(t, s, source, 0, nil)

	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopCanceled, res.Stopped)
	assert.Equal(t, domain.Height(31), res.Next)
	assert.Equal(t, uint64(31), vec.MinLen(p.Engine().Vecs()))
	for _, v := range p.Engine().Vecs() {
		assert.Equal(t, uint64(31), v.StoredLen(), v.Name())
	}

	heights, err := s.checkpoints.Heights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{30}, heights)
}

func TestPipeline_RejectsBadBlock(t *testing.T) {
	blocks := chain(20)
	bad := *blocks[10]
	bad.Spent = append([]domain.SpentOutput{}, domain.SpentOutput{CreatedHeight: 9, Amount: 1 << 62, Type: domain.OutputP2PKH})
	blocks[10] = &bad

	p := open(t, newStores(), ledger.NewMemorySource(blocks), 0, nil)
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply block 10")
	assert.Equal(t, domain.Height(10), p.Engine().NextHeight())
}

func TestNew_RequiresStores(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}
