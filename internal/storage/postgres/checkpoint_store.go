package postgres

import (
	"context"
	"fmt"

	"utxo-cohort-lab/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Save stores a checkpoint. Uses upsert so a re-run at the same height replaces it.
func (s *CheckpointStore) Save(ctx context.Context, cp *storage.Checkpoint) error {
	if cp == nil || len(cp.Payload) == 0 {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (height, version, payload, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (height) DO UPDATE
		SET version = EXCLUDED.version,
		    payload = EXCLUDED.payload,
		    created_at = NOW()
	`, int64(cp.Height), int64(cp.Version), cp.Payload)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Latest returns the newest checkpoint at or below maxHeight with the given version.
func (s *CheckpointStore) Latest(ctx context.Context, maxHeight, version uint64) (*storage.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT height, version, payload, created_at
		FROM checkpoints
		WHERE height <= $1 AND version = $2
		ORDER BY height DESC
		LIMIT 1
	`, clampInt64(maxHeight), int64(version))

	var cp storage.Checkpoint
	var height, ver int64
	if err := row.Scan(&height, &ver, &cp.Payload, &cp.CreatedAt); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest checkpoint: %w", err)
	}
	cp.Height = uint64(height)
	cp.Version = uint64(ver)
	return &cp, nil
}

// DeleteAbove removes every checkpoint above h.
func (s *CheckpointStore) DeleteAbove(ctx context.Context, h uint64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE height > $1`, clampInt64(h))
	if err != nil {
		return fmt.Errorf("delete checkpoints above %d: %w", h, err)
	}
	return nil
}

// Prune keeps the newest keep checkpoints.
func (s *CheckpointStore) Prune(ctx context.Context, keep int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM checkpoints
		WHERE height NOT IN (
			SELECT height FROM checkpoints ORDER BY height DESC LIMIT $1
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return nil
}

// Heights returns stored checkpoint heights in ascending order.
func (s *CheckpointStore) Heights(ctx context.Context) ([]uint64, error) {
	rows, err := s.pool.Query(ctx, `SELECT height FROM checkpoints ORDER BY height ASC`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoint heights: %w", err)
	}
	defer rows.Close()

	var heights []uint64
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		heights = append(heights, uint64(h))
	}
	return heights, rows.Err()
}
