package engine

import (
	"errors"
	"fmt"

	"utxo-cohort-lab/internal/cohortstate"
)

// ErrSnapshotMismatch is returned when a snapshot was taken by an engine with
// a different version or price tracking mode.
var ErrSnapshotMismatch = errors.New("snapshot does not match engine")

// Snapshot is the complete engine state after a height was applied.
type Snapshot struct {
	Version       uint64                               `json:"version"`
	PriceTracking bool                                 `json:"price_tracking"`
	Tip           int64                                `json:"tip"`
	Chain         []BlockState                         `json:"chain"`
	Peaks         []PricePoint                         `json:"peaks,omitempty"`
	Cohorts       map[string]cohortstate.StateSnapshot `json:"cohorts"`
}

// Height returns the last height the snapshot covers. Snapshots of an empty
// engine are never taken.
func (s *Snapshot) Height() uint64 {
	return uint64(len(s.Chain)) - 1
}

// Snapshot captures the engine state. Flows are not captured.
func (e *Engine) Snapshot() *Snapshot {
	s := &Snapshot{
		Version:       Version,
		PriceTracking: e.priceTracking,
		Tip:           e.tip,
		Chain:         append([]BlockState(nil), e.chain...),
		Peaks:         e.peaks.points(),
		Cohorts:       make(map[string]cohortstate.StateSnapshot, e.registry.Len()),
	}
	for _, c := range e.registry.All() {
		s.Cohorts[c.ID()] = c.State.Snapshot()
	}
	return s
}

// Restore replaces the engine's state with snap. Attached columns are kept.
func (e *Engine) Restore(snap *Snapshot) error {
	if snap.Version != Version {
		return fmt.Errorf("%w: version %d, engine %d", ErrSnapshotMismatch, snap.Version, Version)
	}
	if snap.PriceTracking != e.priceTracking {
		return fmt.Errorf("%w: price tracking %t, engine %t", ErrSnapshotMismatch, snap.PriceTracking, e.priceTracking)
	}
	if len(snap.Cohorts) != e.registry.Len() {
		return fmt.Errorf("%w: %d cohorts, engine tracks %d", ErrSnapshotMismatch, len(snap.Cohorts), e.registry.Len())
	}

	states := make(map[string]*cohortstate.State, len(snap.Cohorts))
	for _, c := range e.registry.All() {
		cs, ok := snap.Cohorts[c.ID()]
		if !ok {
			return fmt.Errorf("%w: cohort %s missing", ErrSnapshotMismatch, c.ID())
		}
		if cs.Level != c.State.Level() {
			return fmt.Errorf("%w: cohort %s at level %s, engine keeps %s",
				ErrSnapshotMismatch, c.ID(), cs.Level, c.State.Level())
		}
		st, err := cohortstate.Restore(cs)
		if err != nil {
			return fmt.Errorf("cohort %s: %w", c.ID(), err)
		}
		states[c.ID()] = st
	}

	for _, c := range e.registry.All() {
		c.State = states[c.ID()]
	}
	e.chain = append([]BlockState(nil), snap.Chain...)
	e.tip = snap.Tip
	e.peaks = peakTracker{stack: append([]PricePoint(nil), snap.Peaks...)}

	if err := e.CheckInvariants(); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	return nil
}

// Reset returns the engine to genesis. Attached columns are kept.
func (e *Engine) Reset() {
	for _, c := range e.registry.All() {
		c.State = cohortstate.New(c.State.Level())
	}
	e.chain = nil
	e.tip = 0
	e.peaks = peakTracker{}
}
