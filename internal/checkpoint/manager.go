// Package checkpoint saves engine snapshots and resumes a run from the
// persisted series and the newest compatible snapshot.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"utxo-cohort-lab/internal/cohortstate"
	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/engine"
	"utxo-cohort-lab/internal/replay"
	"utxo-cohort-lab/internal/storage"
	"utxo-cohort-lab/internal/vec"
)

var (
	// ErrResumeInconsistent is returned when replayed state disagrees with the
	// persisted row at the resume point.
	ErrResumeInconsistent = errors.New("resume state inconsistent with persisted series")

	// ErrNoCheckpoint is returned when no compatible snapshot exists.
	ErrNoCheckpoint = storage.ErrNotFound
)

// Options configures a Manager.
type Options struct {
	// Interval is the number of heights between snapshots.
	Interval uint64
	// Keep is the number of snapshots retained.
	Keep   int
	Logger *zap.Logger
}

// Manager owns the snapshots of one engine.
type Manager struct {
	store    storage.CheckpointStore
	eng      *engine.Engine
	runner   *replay.Runner
	interval uint64
	keep     int
	logger   *zap.Logger
}

// NewManager creates a checkpoint manager. runner replays blocks between a
// snapshot and the resume point.
func NewManager(store storage.CheckpointStore, eng *engine.Engine, runner *replay.Runner, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.Interval
	if interval == 0 {
		interval = 10_000
	}
	keep := opts.Keep
	if keep <= 0 {
		keep = 3
	}
	return &Manager{
		store:    store,
		eng:      eng,
		runner:   runner,
		interval: interval,
		keep:     keep,
		logger:   logger,
	}
}

// Due reports whether a snapshot is scheduled after height h was flushed.
func (m *Manager) Due(h domain.Height) bool {
	return (uint64(h)+1)%m.interval == 0
}

// Save stores a snapshot of the engine at its last applied height and prunes
// old snapshots. Must only be called after that height was flushed.
func (m *Manager) Save(ctx context.Context) error {
	if m.eng.NextHeight() == 0 {
		return nil
	}
	snap := m.eng.Snapshot()
	payload, err := Encode(snap)
	if err != nil {
		return err
	}
	cp := &storage.Checkpoint{
		Height:    snap.Height(),
		Version:   engine.Version,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint at %d: %w", cp.Height, err)
	}
	if err := m.store.Prune(ctx, m.keep); err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	m.logger.Info("checkpoint saved",
		zap.Uint64("height", cp.Height),
		zap.Int("bytes", len(payload)))
	return nil
}

// Result describes a resume.
type Result struct {
	// Start is the first height the run must apply.
	Start domain.Height
	// Checkpoint is the snapshot height used, or -1 when resumed from genesis.
	Checkpoint int64
	// Replayed is the number of blocks replayed between snapshot and Start.
	Replayed int
	// Reset is set when persisted state could not be trusted and the run
	// restarts at height zero.
	Reset bool
}

// Resume brings the engine to the state after height start-1, where start is
// the shortest engine-produced series. The engine must be at genesis with its
// columns attached. Rows at or above start are dropped.
func (m *Manager) Resume(ctx context.Context) (Result, error) {
	start := vec.MinLen(m.eng.Vecs())
	res := Result{Start: domain.Height(start), Checkpoint: -1}

	if start > 0 {
		err := m.rebuild(ctx, start, &res, true)
		if errors.Is(err, ErrResumeInconsistent) && res.Checkpoint >= 0 {
			m.logger.Warn("snapshot disagrees with persisted series, replaying from genesis",
				zap.Int64("checkpoint", res.Checkpoint),
				zap.Error(err))
			res.Checkpoint = -1
			err = m.rebuild(ctx, start, &res, false)
		}
		if errors.Is(err, ErrResumeInconsistent) {
			m.logger.Warn("persisted series inconsistent with feed, restarting from genesis", zap.Error(err))
			m.eng.Reset()
			start = 0
			res = Result{Start: 0, Checkpoint: -1, Reset: true}
		} else if err != nil {
			return res, err
		}
	}

	if err := m.eng.Truncate(ctx, start); err != nil {
		return res, fmt.Errorf("truncate series to %d: %w", start, err)
	}
	if start > 0 {
		if err := m.store.DeleteAbove(ctx, start-1); err != nil {
			return res, fmt.Errorf("drop checkpoints above %d: %w", start-1, err)
		}
	}

	m.logger.Info("resume point",
		zap.Uint64("start", uint64(res.Start)),
		zap.Int64("checkpoint", res.Checkpoint),
		zap.Int("replayed", res.Replayed),
		zap.Bool("reset", res.Reset))
	return res, nil
}

// rebuild restores the newest usable snapshot below start (when useSnapshot is
// set), replays up to start and cross-checks against the persisted rows.
func (m *Manager) rebuild(ctx context.Context, start uint64, res *Result, useSnapshot bool) error {
	m.eng.Reset()
	from := domain.Height(0)

	if useSnapshot {
		snap, err := m.latest(ctx, start-1)
		switch {
		case errors.Is(err, ErrNoCheckpoint):
		case err != nil:
			m.logger.Warn("snapshot unreadable, replaying from genesis", zap.Error(err))
		default:
			if err := m.eng.Restore(snap); err != nil {
				m.logger.Warn("snapshot unusable, replaying from genesis",
					zap.Uint64("height", snap.Height()),
					zap.Error(err))
				m.eng.Reset()
			} else {
				res.Checkpoint = int64(snap.Height())
				from = domain.Height(snap.Height() + 1)
			}
		}
	}

	n, err := m.runner.Run(ctx, from, domain.Height(start), m.eng)
	res.Replayed = n
	if err != nil {
		if res.Checkpoint >= 0 && rejectedByEngine(err) {
			return fmt.Errorf("%w: replay from snapshot %d: %v", ErrResumeInconsistent, res.Checkpoint, err)
		}
		return err
	}
	return m.ImportState(ctx, domain.Height(start))
}

func rejectedByEngine(err error) bool {
	return errors.Is(err, engine.ErrUnknownOutput) ||
		errors.Is(err, engine.ErrInvariantViolation) ||
		errors.Is(err, engine.ErrInvalidBlock) ||
		errors.Is(err, engine.ErrOutOfOrder)
}

func (m *Manager) latest(ctx context.Context, maxHeight uint64) (*engine.Snapshot, error) {
	cp, err := m.store.Latest(ctx, maxHeight, engine.Version)
	if err != nil {
		return nil, err
	}
	snap, err := Decode(cp.Payload)
	if err != nil {
		return nil, err
	}
	if snap.Height() != cp.Height {
		return nil, fmt.Errorf("checkpoint %d holds a snapshot at %d", cp.Height, snap.Height())
	}
	return snap, nil
}

// ImportState checks that the engine state matches the persisted rows at
// start-1: supply and utxo_count of every direct cohort and realized_cap of
// those that track it.
func (m *Manager) ImportState(ctx context.Context, start domain.Height) error {
	if start == 0 {
		return nil
	}
	if m.eng.NextHeight() != start {
		return fmt.Errorf("%w: engine at %d, resuming at %d", ErrResumeInconsistent, m.eng.NextHeight(), start)
	}
	h := uint64(start) - 1
	for _, c := range m.eng.Direct() {
		rows, err := c.Columns.Rows(ctx, h, h+1)
		if err != nil {
			return err
		}
		if len(rows) != 1 {
			return fmt.Errorf("%w: %s has no row at %d", ErrResumeInconsistent, c.ID(), h)
		}
		if err := compare(c, rows[0]); err != nil {
			return fmt.Errorf("%w: %s at %d: %v", ErrResumeInconsistent, c.ID(), h, err)
		}
	}
	return nil
}

func compare(c *cohortstate.Cohort, row cohortstate.Row) error {
	s := c.State
	if s.Supply != row.Supply {
		return fmt.Errorf("supply %d, persisted %d", s.Supply, row.Supply)
	}
	if s.UTXOCount != row.UTXOCount {
		return fmt.Errorf("utxo_count %d, persisted %d", s.UTXOCount, row.UTXOCount)
	}
	if c.Columns.Layout.Realized {
		if pa := s.PriceAware(); pa != nil && pa.Realized != nil && !pa.Realized.Cap.Equal(row.RealizedCap) {
			return fmt.Errorf("realized_cap %s, persisted %s", pa.Realized.Cap, row.RealizedCap)
		}
	}
	return nil
}
