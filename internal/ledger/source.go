// Package ledger provides the block feed the engine consumes: an in-memory
// source for tests, a JSON-lines file and a live websocket feed.
package ledger

import (
	"context"
	"errors"

	"utxo-cohort-lab/internal/domain"
)

var (
	// ErrEndOfFeed is returned by finite sources when no block exists at the requested height.
	ErrEndOfFeed = errors.New("end of feed")

	// ErrInvalidFeed is returned when the feed yields a block at an unexpected height
	// or one that cannot be decoded.
	ErrInvalidFeed = errors.New("invalid feed")
)

// Source provides ledger blocks by height.
type Source interface {
	// Block returns the block at height h. Live sources block until it is
	// available; finite sources return ErrEndOfFeed past their last block.
	Block(ctx context.Context, h domain.Height) (*domain.Block, error)

	// Close releases the source.
	Close() error
}

// MemorySource serves blocks from a slice indexed by height.
type MemorySource struct {
	blocks []*domain.Block
}

// NewMemorySource creates a source over blocks; blocks[i] must have height i.
func NewMemorySource(blocks []*domain.Block) *MemorySource {
	return &MemorySource{blocks: blocks}
}

// Block returns the block at h.
func (s *MemorySource) Block(ctx context.Context, h domain.Height) (*domain.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if uint64(h) >= uint64(len(s.blocks)) {
		return nil, ErrEndOfFeed
	}
	b := s.blocks[h]
	if b.Height != h {
		return nil, ErrInvalidFeed
	}
	return b, nil
}

// Append adds the next block.
func (s *MemorySource) Append(b *domain.Block) {
	s.blocks = append(s.blocks, b)
}

// Len returns the number of blocks held.
func (s *MemorySource) Len() int {
	return len(s.blocks)
}

// Close is a no-op.
func (s *MemorySource) Close() error {
	return nil
}
