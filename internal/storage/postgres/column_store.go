package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"utxo-cohort-lab/internal/storage"
)

// ColumnStore implements storage.ColumnStore using PostgreSQL.
// Uses two tables:
//   - columns: one header row per column (version, width, length)
//   - column_rows: (name, idx) -> value
type ColumnStore struct {
	pool *Pool
}

// NewColumnStore creates a new ColumnStore.
func NewColumnStore(pool *Pool) *ColumnStore {
	return &ColumnStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ColumnStore = (*ColumnStore)(nil)

// Header returns the header of a column. Returns ErrNotFound if not exists.
func (s *ColumnStore) Header(ctx context.Context, name string) (*storage.ColumnHeader, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT name, version, width, length
		FROM columns
		WHERE name = $1
	`, name)

	h, err := scanHeader(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get column header: %w", err)
	}
	return h, nil
}

// Reset drops every row of a column and recreates its header.
func (s *ColumnStore) Reset(ctx context.Context, name string, version uint64, width int) error {
	if name == "" || width <= 0 {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM column_rows WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete column rows: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO columns (name, version, width, length, updated_at)
		VALUES ($1, $2, $3, 0, NOW())
		ON CONFLICT (name) DO UPDATE
		SET version = EXCLUDED.version,
		    width = EXCLUDED.width,
		    length = 0,
		    updated_at = NOW()
	`, name, int64(version), width)
	if err != nil {
		return fmt.Errorf("upsert column header: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// AppendBatch appends rows to several columns in one transaction.
func (s *ColumnStore) AppendBatch(ctx context.Context, batch []storage.ColumnAppend) error {
	if len(batch) == 0 {
		return nil
	}
	if err := storage.ValidateBatch(batch); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var copyRows [][]any
	for _, a := range batch {
		row := tx.QueryRow(ctx, `
			SELECT name, version, width, length
			FROM columns
			WHERE name = $1
			FOR UPDATE
		`, a.Name)
		h, err := scanHeader(row)
		if err != nil {
			if isNotFoundError(err) {
				return fmt.Errorf("column %s: %w", a.Name, storage.ErrNotFound)
			}
			return fmt.Errorf("lock column header: %w", err)
		}
		if err := storage.CheckAppend(h, a); err != nil {
			return err
		}
		if len(a.Rows) == 0 {
			continue
		}

		for i, r := range a.Rows {
			copyRows = append(copyRows, []any{a.Name, int64(a.Start) + int64(i), r})
		}
		if _, err := tx.Exec(ctx, `
			UPDATE columns SET length = length + $2, updated_at = NOW() WHERE name = $1
		`, a.Name, int64(len(a.Rows))); err != nil {
			return fmt.Errorf("update column length: %w", err)
		}
	}

	if len(copyRows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"column_rows"},
			[]string{"name", "idx", "value"},
			pgx.CopyFromRows(copyRows),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("copy column rows: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ReadRange returns rows [from, to) of a column.
func (s *ColumnStore) ReadRange(ctx context.Context, name string, from, to uint64) ([][]byte, error) {
	if _, err := s.Header(ctx, name); err != nil {
		return nil, err
	}
	if from >= to {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT value
		FROM column_rows
		WHERE name = $1 AND idx >= $2 AND idx < $3
		ORDER BY idx ASC
	`, name, int64(from), clampInt64(to))
	if err != nil {
		return nil, fmt.Errorf("read column range: %w", err)
	}
	defer rows.Close()

	var result [][]byte
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		result = append(result, value)
	}
	return result, rows.Err()
}

// Truncate drops rows at index >= n.
func (s *ColumnStore) Truncate(ctx context.Context, name string, n uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var length int64
	err = tx.QueryRow(ctx, `
		UPDATE columns
		SET length = LEAST(length, $2), updated_at = NOW()
		WHERE name = $1
		RETURNING length
	`, name, clampInt64(n)).Scan(&length)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("truncate column header: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM column_rows WHERE name = $1 AND idx >= $2`, name, length); err != nil {
		return fmt.Errorf("truncate column rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Names returns every column name in lexical order.
func (s *ColumnStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM columns ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func scanHeader(row pgx.Row) (*storage.ColumnHeader, error) {
	var h storage.ColumnHeader
	var version, length int64
	if err := row.Scan(&h.Name, &version, &h.Width, &length); err != nil {
		return nil, err
	}
	h.Version = uint64(version)
	h.Len = uint64(length)
	return &h, nil
}

// clampInt64 maps an unbounded uint64 index onto BIGINT.
func clampInt64(v uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if v > maxInt64 {
		return maxInt64
	}
	return int64(v)
}
