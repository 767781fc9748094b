package replay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"utxo-cohort-lab/internal/domain"
	"utxo-cohort-lab/internal/ledger"
)

// Runner loads blocks from a ledger source and replays them through an applier.
type Runner struct {
	source ledger.Source
	logger *zap.Logger
}

// NewRunner creates a new replay runner.
func NewRunner(source ledger.Source, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{source: source, logger: logger}
}

// Run applies blocks [from, to). Cancellation is checked between blocks, never
// within one. Returns the number of blocks applied.
func (r *Runner) Run(ctx context.Context, from, to domain.Height, a Applier) (int, error) {
	if from >= to {
		return 0, nil
	}
	r.logger.Info("replaying blocks",
		zap.Uint64("from", uint64(from)),
		zap.Uint64("to", uint64(to)))

	applied := 0
	for h := from; h < to; h++ {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		b, err := r.source.Block(ctx, h)
		if err != nil {
			return applied, fmt.Errorf("replay block %d: %w", h, err)
		}
		if b.Height != h {
			return applied, fmt.Errorf("%w: requested %d, got %d", ErrInvalidOrdering, h, b.Height)
		}
		if err := a.ApplyBlock(b); err != nil {
			return applied, fmt.Errorf("replay block %d: %w", h, err)
		}
		applied++
	}
	return applied, nil
}
