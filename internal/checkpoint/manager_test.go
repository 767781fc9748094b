package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/engine"
	"utxo-cohort-lab/internal/ledger"
	"utxo-cohort-lab/internal/replay"
	"utxo-cohort-lab/internal/storage/memory"
	"utxo-cohort-lab/internal/vec"
)

type harness struct {
	columns     *memory.ColumnStore
	checkpoints *memory.CheckpointStore
}

func newHarness() *harness {
	return &harness{columns: memory.NewColumnStore(), checkpoints: memory.NewCheckpointStore()}
}

func chain(seed uint64, n int) []*domain.Block {
	cfg := ledger.DefaultSyntheticConfig()
	cfg.Seed = seed
	cfg.Blocks = n
	cfg.PriceFrom = 10
	return ledger.Synthetic(cfg)
}

// open builds an engine over the harness stores and resumes it.
func (h *harness) open(t *testing.T, blocks []*domain.Block) (*engine.Engine, *Manager, Result) {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	eng, err := engine.New(engine.Options{PriceTracking: true, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, eng.AttachColumns(ctx, h.columns, vec.Options{Logger: logger}))

	runner := replay.NewRunner(ledger.NewMemorySource(blocks), logger)
	m := NewManager(h.checkpoints, eng, runner, Options{Interval: 50, Keep: 2, Logger: logger})
	res, err := m.Resume(ctx)
	require.NoError(t, err)
	return eng, m, res
}

// advance applies, pushes and flushes blocks up to height to, saving snapshots when due.
func (h *harness) advance(t *testing.T, eng *engine.Engine, m *Manager, blocks []*domain.Block, to int) {
	t.Helper()
	ctx := context.Background()
	for hgt := eng.NextHeight(); hgt < domain.Height(to); hgt++ {
		require.NoError(t, eng.ApplyBlock(blocks[hgt]))
		require.NoError(t, eng.PushRows(hgt))
		_, err := vec.FlushAll(ctx, h.columns, eng.Vecs())
		require.NoError(t, err)
		if m.Due(hgt) {
			require.NoError(t, m.Save(ctx))
		}
	}
}

func assertSameState(t *testing.T, want, got *engine.Engine) {
	t.Helper()
	require.Equal(t, want.NextHeight(), got.NextHeight())
	assert.Equal(t, want.Tip(), got.Tip())
	for _, c := range want.Registry().All() {
		o := got.Registry().MustGet(c.ID())
		assert.Equal(t, c.State.Supply, o.State.Supply, c.ID())
		assert.Equal(t, c.State.UTXOCount, o.State.UTXOCount, c.ID())
		if pa := c.State.PriceAware(); pa != nil {
			opa := o.State.PriceAware()
			assert.Equal(t, pa.Histogram.Entries(), opa.Histogram.Entries(), c.ID())
			assert.Equal(t, pa.Unpriced, opa.Unpriced, c.ID())
			if pa.Realized != nil {
				assert.True(t, pa.Realized.Cap.Equal(opa.Realized.Cap), "%s realized cap %s vs %s", c.ID(), pa.Realized.Cap, opa.Realized.Cap)
			}
		}
	}
}

func TestResume_Genesis(t *testing.T) {
	h := newHarness()
	eng, _, res := h.open(t, chain(1, 10))
	assert.Equal(t, domain.Height(0), res.Start)
	assert.Equal(t, int64(-1), res.Checkpoint)
	assert.Equal(t, domain.Height(0), eng.NextHeight())
}

func TestResume_FromCheckpoint(t *testing.T) {
	blocks := chain(1, 160)
	h := newHarness()
	eng, m, _ := h.open(t, blocks)
	h.advance(t, eng, m, blocks, 120)

	heights, err := h.checkpoints.Heights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{49, 99}, heights)

	resumed, m2, res := h.open(t, blocks)
	assert.Equal(t, domain.Height(120), res.Start)
	assert.Equal(t, int64(99), res.Checkpoint)
	assert.Equal(t, 20, res.Replayed)
	assert.False(t, res.Reset)
	assertSameState(t, eng, resumed)
	require.NoError(t, resumed.CheckInvariants())

	// Continuing after resume matches an uninterrupted run.
	fresh := newHarness()
	ref, refM, _ := fresh.open(t, blocks)
	fresh.advance(t, ref, refM, blocks, 160)
	h.advance(t, resumed, m2, blocks, 160)
	assertSameState(t, ref, resumed)
}

func TestResume_TruncatesPartialFlush(t *testing.T) {
	ctx := context.Background()
	blocks := chain(3, 120)
	h := newHarness()
	eng, m, _ := h.open(t, blocks)
	h.advance(t, eng, m, blocks, 120)

	// A crash mid-flush leaves one cohort shorter than the rest.
	short := eng.Registry().MustGet("age_range[up_to_1d]")
	require.NoError(t, short.Columns.Truncate(ctx, 110))

	resumed, _, res := h.open(t, blocks)
	assert.Equal(t, domain.Height(110), res.Start)
	assert.Equal(t, int64(99), res.Checkpoint)
	assert.Equal(t, uint64(110), vec.MinLen(resumed.Vecs()))
	for _, v := range resumed.Vecs() {
		assert.Equal(t, uint64(110), v.Len(), v.Name())
	}
}

func TestResume_ForeignCheckpointFallsBackToGenesis(t *testing.T) {
	ctx := context.Background()
	blocks := chain(1, 120)
	h := newHarness()
	eng, m, _ := h.open(t, blocks)
	h.advance(t, eng, m, blocks, 120)

	// Overwrite the newest snapshot with one from a different history.
	other := newHarness()
	otherBlocks := chain(2, 100)
	oe, om, _ := other.open(t, otherBlocks)
	other.advance(t, oe, om, otherBlocks, 100)
	cp, err := other.checkpoints.Latest(ctx, 99, engine.Version)
	require.NoError(t, err)
	require.NoError(t, h.checkpoints.Save(ctx, cp))

	resumed, _, res := h.open(t, blocks)
	assert.Equal(t, domain.Height(120), res.Start)
	assert.Equal(t, int64(-1), res.Checkpoint)
	assert.Equal(t, 120, res.Replayed)
	assert.False(t, res.Reset)
	assertSameState(t, eng, resumed)
}

func TestResume_ForeignFeedResets(t *testing.T) {
	blocks := chain(1, 80)
	h := newHarness()
	eng, m, _ := h.open(t, blocks)
	h.advance(t, eng, m, blocks, 80)

	resumed, _, res := h.open(t, chain(7, 80))
	assert.True(t, res.Reset)
	assert.Equal(t, domain.Height(0), res.Start)
	assert.Equal(t, domain.Height(0), resumed.NextHeight())
	assert.Equal(t, uint64(0), vec.MinLen(resumed.Vecs()))
}

func TestManager_DueAndPrune(t *testing.T) {
	blocks := chain(5, 260)
	h := newHarness()
	eng, m, _ := h.open(t, blocks)
	assert.False(t, m.Due(48))
	assert.True(t, m.Due(49))

	h.advance(t, eng, m, blocks, 260)
	heights, err := h.checkpoints.Heights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{199, 249}, heights)
}

func TestCodec_RoundTrip(t *testing.T) {
	blocks := chain(4, 60)
	h := newHarness()
	eng, m, _ := h.open(t, blocks)
	h.advance(t, eng, m, blocks, 60)

	data, err := Encode(eng.Snapshot())
	require.NoError(t, err)
	snap, err := Decode(data)
	require.NoError(t, err)

	restored, err := engine.New(engine.Options{PriceTracking: true})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(snap))
	assertSameState(t, eng, restored)

	_, err = Decode([]byte(`{"version":1,"chain":[]}`))
	assert.Error(t, err)
}
