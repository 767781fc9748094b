// Package pipeline drives the cohort engine over a ledger feed. Each batch of
// heights is applied, flushed atomically, reconciled into derived cohorts,
// rolled up into time buckets, checkpointed when due and announced downstream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"utxo-cohort-lab/internal/checkpoint"
	"utxo-cohort-lab/internal/cohort"
	"utxo-cohort-lab/internal/cohortstate"
	"utxo-cohort-lab/internal/costbasis"
	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/engine"
	"utxo-cohort-lab/internal/ledger"
	"utxo-cohort-lab/internal/observability"
	"utxo-cohort-lab/internal/publish"
	"utxo-cohort-lab/internal/reconcile"
	"utxo-cohort-lab/internal/replay"
	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/timeindex"
	"utxo-cohort-lab/internal/vec"
)

// Options for creating a Pipeline.
type Options struct {
	// Required
	Columns     storage.ColumnStore
	Checkpoints storage.CheckpointStore
	Source      ledger.Source

	PriceTracking      bool
	Taxonomy           *cohort.Taxonomy // defaults to cohort.DefaultTaxonomy()
	FlushInterval      uint64           // heights per flush, default 1
	CheckpointInterval uint64
	CheckpointKeep     int
	Workers            int // reconcile and roll-up workers, default NumCPU
	Resolutions        []timeindex.Resolution
	StopHeight         domain.Height // exclusive; 0 runs until the feed ends
	ProgressEvery      uint64

	// Optional
	Metrics   *observability.Metrics
	Publisher publish.Publisher
	Logger    *zap.Logger
}

// Pipeline owns the engine and every series derived from it.
type Pipeline struct {
	store     storage.ColumnStore
	source    ledger.Source
	eng       *engine.Engine
	aligner   *timeindex.Aligner
	rec       *reconcile.Reconciler
	ckpt      *checkpoint.Manager
	rollups   []timeindex.Job
	pool      pond.Pool
	catalog   *vec.Catalog
	publisher publish.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger

	flushInterval uint64
	stopHeight    domain.Height
	progressEvery uint64

	flushed      domain.Height // heights below are flushed, reconciled and rolled up
	checkpointed domain.Height // heights below are covered by a checkpoint
}

// New opens every series and builds the pipeline at genesis. Run resumes it.
func New(ctx context.Context, opts Options) (*Pipeline, error) {
	if opts.Columns == nil || opts.Checkpoints == nil || opts.Source == nil {
		return nil, errors.New("pipeline requires a column store, a checkpoint store and a source")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 1
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = publish.Nop{}
	}

	vopts := vec.Options{Logger: logger}
	if opts.Metrics != nil {
		vopts.OnReset = opts.Metrics.OnSeriesReset
	}

	eng, err := engine.New(engine.Options{
		PriceTracking: opts.PriceTracking,
		Taxonomy:      opts.Taxonomy,
		Logger:        logger.Named("engine"),
	})
	if err != nil {
		return nil, err
	}
	if err := eng.AttachColumns(ctx, opts.Columns, vopts); err != nil {
		return nil, err
	}

	aligner, err := timeindex.New(ctx, opts.Columns, opts.Resolutions, vopts)
	if err != nil {
		return nil, err
	}

	rec, err := reconcile.New(ctx, opts.Columns, eng.Taxonomy(), eng.Registry(),
		cohortstate.Layout{Basic: true, Realized: opts.PriceTracking},
		reconcile.Options{Workers: workers, Logger: logger.Named("reconcile"), VecOptions: vopts})
	if err != nil {
		return nil, err
	}

	runner := replay.NewRunner(opts.Source, logger.Named("replay"))
	ckpt := checkpoint.NewManager(opts.Checkpoints, eng, runner, checkpoint.Options{
		Interval: opts.CheckpointInterval,
		Keep:     opts.CheckpointKeep,
		Logger:   logger.Named("checkpoint"),
	})

	var cols []*cohortstate.Columns
	for _, c := range eng.Registry().All() {
		cols = append(cols, c.Columns)
	}
	for _, d := range rec.Derivations() {
		cols = append(cols, d.Columns)
	}
	rollups, err := RollUpJobs(ctx, opts.Columns, cols, aligner.Resolutions(), vopts)
	if err != nil {
		rec.Close()
		return nil, err
	}

	catalog := vec.NewCatalog()
	all := append(append(eng.Vecs(), aligner.Vecs()...), rec.Vecs()...)
	for _, j := range rollups {
		all = append(all, j.Vec())
	}
	for _, v := range all {
		if err := catalog.Register(v); err != nil {
			rec.Close()
			return nil, err
		}
	}

	logger.Info("pipeline ready",
		zap.Bool("price_tracking", opts.PriceTracking),
		zap.Int("cohorts", len(cols)),
		zap.Int("series", catalog.Len()),
		zap.Int("rollups", len(rollups)))

	return &Pipeline{
		store:         opts.Columns,
		source:        opts.Source,
		eng:           eng,
		aligner:       aligner,
		rec:           rec,
		ckpt:          ckpt,
		rollups:       rollups,
		pool:          pond.NewPool(workers),
		catalog:       catalog,
		publisher:     publisher,
		metrics:       opts.Metrics,
		logger:        logger,
		flushInterval: flushInterval,
		stopHeight:    opts.StopHeight,
		progressEvery: opts.ProgressEvery,
	}, nil
}

// Engine returns the pipeline's engine.
func (p *Pipeline) Engine() *engine.Engine { return p.eng }

// Aligner returns the pipeline's time index.
func (p *Pipeline) Aligner() *timeindex.Aligner { return p.aligner }

// Catalog returns every series the pipeline writes.
func (p *Pipeline) Catalog() *vec.Catalog { return p.catalog }

// RunResult contains results from pipeline execution.
type RunResult struct {
	Resume      checkpoint.Result
	Applied     int
	Flushes     int
	Checkpoints int
	Next        domain.Height // first height not applied
	Stopped     string        // end_of_feed, stop_height or canceled
}

// Stop reasons.
const (
	StopEndOfFeed = "end_of_feed"
	StopHeight    = "stop_height"
	StopCanceled  = "canceled"
)

// Run resumes from the stored series and applies blocks until the feed ends,
// StopHeight is reached or ctx is canceled. Cancellation is observed only
// after a batch is flushed; the batch in progress is completed first.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{}

	resumed, err := p.resume(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	result.Resume = resumed
	if p.metrics != nil {
		p.metrics.ResumeHeight.Set(float64(resumed.Start))
		if resumed.Reset {
			p.metrics.ResumeResets.Inc()
		}
	}

	pending := uint64(0)
	for {
		h := p.eng.NextHeight()
		if p.stopHeight > 0 && h >= p.stopHeight {
			result.Stopped = StopHeight
			break
		}

		b, err := p.source.Block(ctx, h)
		if errors.Is(err, ledger.ErrEndOfFeed) {
			result.Stopped = StopEndOfFeed
			break
		}
		if err != nil && ctx.Err() != nil {
			result.Stopped = StopCanceled
			break
		}
		if err != nil {
			return result, fmt.Errorf("read block %d: %w", h, err)
		}

		if err := p.eng.ApplyBlock(b); err != nil {
			p.recordApplyError(err)
			return result, fmt.Errorf("apply block %d: %w", h, err)
		}
		if err := p.eng.PushRows(h); err != nil {
			return result, err
		}
		bs, _ := p.eng.BlockState(h)
		if err := p.aligner.Push(h, bs.Timestamp); err != nil {
			return result, err
		}
		result.Applied++
		pending++
		if p.metrics != nil {
			p.metrics.HeightsApplied.Inc()
		}
		if p.progressEvery > 0 && (uint64(h)+1)%p.progressEvery == 0 {
			p.logger.Info("progress",
				zap.Uint64("height", uint64(h)),
				zap.Uint64("supply", uint64(p.eng.TotalSupply())),
				zap.Int64("tip", p.eng.Tip()))
		}

		if pending >= p.flushInterval {
			saved, err := p.flush(ctx, false)
			if err != nil {
				return result, err
			}
			result.Flushes++
			if saved {
				result.Checkpoints++
			}
			pending = 0
			if ctx.Err() != nil {
				result.Stopped = StopCanceled
				break
			}
		}
	}

	// Pending heights are complete; finish them even when canceled and
	// checkpoint the final state.
	saved, err := p.flush(context.WithoutCancel(ctx), true)
	if err != nil {
		return result, err
	}
	if pending > 0 {
		result.Flushes++
	}
	if saved {
		result.Checkpoints++
	}

	result.Next = p.eng.NextHeight()
	p.logger.Info("pipeline stopped",
		zap.String("reason", result.Stopped),
		zap.Uint64("next", uint64(result.Next)),
		zap.Int("applied", result.Applied),
		zap.Int("flushes", result.Flushes),
		zap.Int("checkpoints", result.Checkpoints))
	return result, nil
}

// resume restores the engine, aligns every other series on its resume point
// and catches derived series up.
func (p *Pipeline) resume(ctx context.Context) (checkpoint.Result, error) {
	res, err := p.ckpt.Resume(ctx)
	if err != nil {
		return res, err
	}
	start := uint64(res.Start)

	if err := p.rec.Truncate(ctx, start); err != nil {
		return res, err
	}
	if err := p.aligner.Truncate(ctx, start); err != nil {
		return res, err
	}
	for h := p.aligner.Len(); h < start; h++ {
		bs, _ := p.eng.BlockState(domain.Height(h))
		if err := p.aligner.Push(domain.Height(h), bs.Timestamp); err != nil {
			return res, err
		}
	}
	for _, j := range p.rollups {
		if err := j.Truncate(ctx, p.aligner); err != nil {
			return res, err
		}
	}
	if _, err := vec.FlushAll(ctx, p.store, p.aligner.Vecs()); err != nil {
		return res, err
	}
	if err := p.derive(ctx); err != nil {
		return res, err
	}
	p.flushed = res.Start
	p.checkpointed = res.Start
	return res, nil
}

// flush writes every pending engine and aligner row in one batch, then
// derives, checkpoints and publishes. force saves a checkpoint of any height
// not yet covered by one. Reports whether a checkpoint was saved.
func (p *Pipeline) flush(ctx context.Context, force bool) (bool, error) {
	next := p.eng.NextHeight()
	start := time.Now()
	rows, err := vec.FlushAll(ctx, p.store, append(p.eng.Vecs(), p.aligner.Vecs()...))
	if err != nil {
		return false, err
	}
	if p.metrics != nil {
		p.metrics.FlushDuration.Observe(time.Since(start).Seconds())
		p.metrics.RowsFlushed.Add(float64(rows))
		p.metrics.LastFlush.SetToCurrentTime()
	}

	if err := p.derive(ctx); err != nil {
		return false, err
	}

	saved := false
	if next > p.checkpointed && (force || p.checkpointDue(p.flushed, next)) {
		if err := p.ckpt.Save(ctx); err != nil {
			return false, err
		}
		p.checkpointed = next
		saved = true
		if p.metrics != nil {
			p.metrics.CheckpointsWritten.Inc()
		}
	}

	if next > p.flushed {
		p.publisher.Publish(ctx, p.notification(ctx, next-1))
	}
	p.flushed = next

	if p.metrics != nil {
		p.metrics.Tip.Set(float64(next) - 1)
		p.metrics.TotalSupply.Set(float64(p.eng.TotalSupply()))
	}
	return saved, nil
}

func (p *Pipeline) checkpointDue(from, to domain.Height) bool {
	for h := from; h < to; h++ {
		if p.ckpt.Due(h) {
			return true
		}
	}
	return false
}

// derive reconciles derived cohorts and rolls every series up.
func (p *Pipeline) derive(ctx context.Context) error {
	start := time.Now()
	n, err := p.rec.Run(ctx, uint64(p.eng.NextHeight()))
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if p.metrics != nil {
		p.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
		p.metrics.ReconciledRows.Add(float64(n))
	}

	var buckets atomic.Int64
	group := p.pool.NewGroupContext(ctx)
	for _, j := range p.rollups {
		group.SubmitErr(func() error {
			n, err := j.Run(group.Context(), p.aligner)
			buckets.Add(int64(n))
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	vecs := make([]vec.AnyVec, len(p.rollups))
	for i, j := range p.rollups {
		vecs[i] = j.Vec()
	}
	if _, err := vec.FlushAll(ctx, p.store, vecs); err != nil {
		return fmt.Errorf("flush roll-ups: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RollupBuckets.Add(float64(buckets.Load()))
	}
	return nil
}

// notification summarizes height h from the engine state and the flushed
// all-cohort percentiles.
func (p *Pipeline) notification(ctx context.Context, h domain.Height) publish.Notification {
	bs, _ := p.eng.BlockState(h)
	n := publish.Notification{
		Height:    h,
		Timestamp: bs.Timestamp,
		Supply:    p.eng.TotalSupply(),
	}
	if c, ok := p.eng.Registry().Get("term[short]"); ok {
		n.ShortSupply = c.State.Supply
	}
	if c, ok := p.eng.Registry().Get("term[long]"); ok {
		n.LongSupply = c.State.Supply
	}
	if all := p.eng.All(); all != nil && all.Columns != nil {
		if v, err := all.Columns.Percentiles[medianIndex].Get(ctx, uint64(h)); err == nil && v.Valid {
			median := v.Value
			n.MedianCostBasis = &median
		}
	}
	return n
}

var medianIndex = func() int {
	for i, p := range costbasis.Percentiles {
		if p.Percent == 50 {
			return i
		}
	}
	panic("no median percentile")
}()

func (p *Pipeline) recordApplyError(err error) {
	if p.metrics == nil {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, engine.ErrInvalidBlock):
		reason = "invalid_block"
	case errors.Is(err, engine.ErrOutOfOrder):
		reason = "out_of_order"
	case errors.Is(err, engine.ErrUnknownOutput):
		reason = "unknown_output"
	case errors.Is(err, engine.ErrInvariantViolation):
		reason = "invariant_violation"
	}
	p.metrics.ApplyErrors.WithLabelValues(reason).Inc()
}

// Close stops the worker pools. The source and stores are owned by the caller.
func (p *Pipeline) Close() {
	p.pool.StopAndWait()
	p.rec.Close()
}
