package memory

import (
	"context"
	"sort"
	"sync"

	"utxo-cohort-lab/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu   sync.RWMutex
	data map[uint64]*storage.Checkpoint // keyed by height
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		data: make(map[uint64]*storage.Checkpoint),
	}
}

// Save stores a checkpoint, replacing any checkpoint at the same height.
func (s *CheckpointStore) Save(_ context.Context, cp *storage.Checkpoint) error {
	if cp == nil || len(cp.Payload) == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cpCopy := *cp
	cpCopy.Payload = append([]byte(nil), cp.Payload...)
	s.data[cp.Height] = &cpCopy
	return nil
}

// Latest returns the newest checkpoint at or below maxHeight with the given version.
func (s *CheckpointStore) Latest(_ context.Context, maxHeight, version uint64) (*storage.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *storage.Checkpoint
	for h, cp := range s.data {
		if h > maxHeight || cp.Version != version {
			continue
		}
		if best == nil || h > best.Height {
			best = cp
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}

	cpCopy := *best
	cpCopy.Payload = append([]byte(nil), best.Payload...)
	return &cpCopy, nil
}

// DeleteAbove removes every checkpoint above h.
func (s *CheckpointStore) DeleteAbove(_ context.Context, h uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for height := range s.data {
		if height > h {
			delete(s.data, height)
		}
	}
	return nil
}

// Prune keeps the newest keep checkpoints.
func (s *CheckpointStore) Prune(_ context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	heights := s.sortedHeights()
	if len(heights) <= keep {
		return nil
	}
	for _, h := range heights[:len(heights)-keep] {
		delete(s.data, h)
	}
	return nil
}

// Heights returns stored checkpoint heights in ascending order.
func (s *CheckpointStore) Heights(_ context.Context) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedHeights(), nil
}

func (s *CheckpointStore) sortedHeights() []uint64 {
	heights := make([]uint64, 0, len(s.data))
	for h := range s.data {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
