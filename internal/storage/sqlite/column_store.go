package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"utxo-cohort-lab/internal/storage"
)

// ColumnStore implements storage.ColumnStore using SQLite.
type ColumnStore struct {
	db *DB
}

// NewColumnStore creates a new ColumnStore.
func NewColumnStore(db *DB) *ColumnStore {
	return &ColumnStore{db: db}
}

// Compile-time interface check.
var _ storage.ColumnStore = (*ColumnStore)(nil)

// Header returns the header of a column. Returns ErrNotFound if not exists.
func (s *ColumnStore) Header(ctx context.Context, name string) (*storage.ColumnHeader, error) {
	return header(ctx, s.db, name)
}

// Reset drops every row of a column and (re)creates it.
func (s *ColumnStore) Reset(ctx context.Context, name string, version uint64, width int) error {
	if name == "" || width <= 0 {
		return storage.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM column_rows WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete column rows: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO columns (name, version, width, length)
		VALUES (?, ?, ?, 0)
		ON CONFLICT (name) DO UPDATE SET
			version = excluded.version,
			width = excluded.width,
			length = 0,
			updated_at = strftime('%s', 'now')
	`, name, int64(version), width)
	if err != nil {
		return fmt.Errorf("upsert column: %w", err)
	}

	return tx.Commit()
}

// AppendBatch appends rows to several columns in one transaction.
func (s *ColumnStore) AppendBatch(ctx context.Context, batch []storage.ColumnAppend) error {
	if len(batch) == 0 {
		return nil
	}
	if err := storage.ValidateBatch(batch); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO column_rows (name, idx, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range batch {
		h, err := header(ctx, tx, a.Name)
		if err != nil {
			return fmt.Errorf("column %s: %w", a.Name, err)
		}
		if err := storage.CheckAppend(h, a); err != nil {
			return err
		}
		if len(a.Rows) == 0 {
			continue
		}

		for i, r := range a.Rows {
			if _, err := stmt.ExecContext(ctx, a.Name, int64(a.Start)+int64(i), r); err != nil {
				return fmt.Errorf("insert row %s[%d]: %w", a.Name, a.Start+uint64(i), err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE columns SET length = ?, updated_at = strftime('%s', 'now') WHERE name = ?
		`, int64(a.Start)+int64(len(a.Rows)), a.Name)
		if err != nil {
			return fmt.Errorf("update column length: %w", err)
		}
	}

	return tx.Commit()
}

// ReadRange returns rows [from, to) of a column.
func (s *ColumnStore) ReadRange(ctx context.Context, name string, from, to uint64) ([][]byte, error) {
	h, err := header(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if to > h.Len {
		to = h.Len
	}
	if from >= to {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT value FROM column_rows
		WHERE name = ? AND idx >= ? AND idx < ?
		ORDER BY idx ASC
	`, name, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("read column range: %w", err)
	}
	defer rows.Close()

	result := make([][]byte, 0, to-from)
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		result = append(result, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return result, nil
}

// Truncate drops rows at index >= n.
func (s *ColumnStore) Truncate(ctx context.Context, name string, n uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	h, err := header(ctx, tx, name)
	if err != nil {
		return err
	}
	if n >= h.Len {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM column_rows WHERE name = ? AND idx >= ?`, name, int64(n)); err != nil {
		return fmt.Errorf("delete column rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE columns SET length = ? WHERE name = ?`, int64(n), name); err != nil {
		return fmt.Errorf("update column length: %w", err)
	}

	return tx.Commit()
}

// Names returns every column name in lexical order.
func (s *ColumnStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM columns ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func header(ctx context.Context, q querier, name string) (*storage.ColumnHeader, error) {
	var h storage.ColumnHeader
	var version, length int64
	err := q.QueryRowContext(ctx, `
		SELECT name, version, width, length FROM columns WHERE name = ?
	`, name).Scan(&h.Name, &version, &h.Width, &length)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get column header: %w", err)
	}
	h.Version = uint64(version)
	h.Len = uint64(length)
	return &h, nil
}
