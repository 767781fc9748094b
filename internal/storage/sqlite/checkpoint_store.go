package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"utxo-cohort-lab/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore using SQLite.
type CheckpointStore struct {
	db *DB
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Save stores a checkpoint, replacing any checkpoint at the same height.
func (s *CheckpointStore) Save(ctx context.Context, cp *storage.Checkpoint) error {
	if cp == nil || len(cp.Payload) == 0 {
		return storage.ErrInvalidInput
	}
	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (height, version, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (height) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			created_at = excluded.created_at
	`, int64(cp.Height), int64(cp.Version), cp.Payload, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Latest returns the newest checkpoint at or below maxHeight with the given version.
func (s *CheckpointStore) Latest(ctx context.Context, maxHeight, version uint64) (*storage.Checkpoint, error) {
	var height, v, createdAt int64
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT height, version, payload, created_at
		FROM checkpoints
		WHERE height <= ? AND version = ?
		ORDER BY height DESC
		LIMIT 1
	`, int64(maxHeight), int64(version)).Scan(&height, &v, &payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest checkpoint: %w", err)
	}

	return &storage.Checkpoint{
		Height:    uint64(height),
		Version:   uint64(v),
		Payload:   payload,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
	}, nil
}

// DeleteAbove removes every checkpoint with height > h.
func (s *CheckpointStore) DeleteAbove(ctx context.Context, h uint64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE height > ?`, int64(h)); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

// Prune keeps the newest keep checkpoints.
func (s *CheckpointStore) Prune(ctx context.Context, keep int) error {
	if keep < 0 {
		return storage.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE height NOT IN (
			SELECT height FROM checkpoints ORDER BY height DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return nil
}

// Heights returns stored checkpoint heights in ascending order.
func (s *CheckpointStore) Heights(ctx context.Context) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT height FROM checkpoints ORDER BY height ASC`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var heights []uint64
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan checkpoint height: %w", err)
		}
		heights = append(heights, uint64(h))
	}
	return heights, rows.Err()
}
