package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"

	"utxo-cohort-lab/internal/storage"
)

// ColumnStore implements storage.ColumnStore using ClickHouse.
//
// Headers live in column_headers (ReplacingMergeTree keyed by generation); rows in
// column_rows tagged with the generation they were written under. Reset bumps the
// generation, so rows of older generations are invisible without a mutation.
// Batches are sent as a single insert block; ClickHouse has no multi-statement
// transactions, so a crash can leave columns at different lengths. Callers
// resume from the shortest column and Truncate the rest.
type ColumnStore struct {
	conn *Conn
}

// NewColumnStore creates a new ColumnStore.
func NewColumnStore(conn *Conn) *ColumnStore {
	return &ColumnStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ColumnStore = (*ColumnStore)(nil)

type chHeader struct {
	storage.ColumnHeader
	generation uint64
}

// Header returns the header of a column. Returns ErrNotFound if not exists.
func (s *ColumnStore) Header(ctx context.Context, name string) (*storage.ColumnHeader, error) {
	headers, err := s.headers(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	h, ok := headers[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &h.ColumnHeader, nil
}

// Reset bumps the generation of a column, hiding its rows.
func (s *ColumnStore) Reset(ctx context.Context, name string, version uint64, width int) error {
	if name == "" || width <= 0 {
		return storage.ErrInvalidInput
	}

	var generation uint64
	err := s.conn.QueryRow(ctx, `
		SELECT max(generation) FROM column_headers WHERE name = ?
	`, name).Scan(&generation)
	if err != nil {
		return fmt.Errorf("read column generation: %w", err)
	}

	err = s.conn.Exec(ctx, `
		INSERT INTO column_headers (name, version, width, generation)
		VALUES (?, ?, ?, ?)
	`, name, version, uint32(width), generation+1)
	if err != nil {
		return fmt.Errorf("insert column header: %w", err)
	}

	// Old generations are unreachable; drop them in the background.
	err = s.conn.Exec(ctx, `
		ALTER TABLE column_rows DELETE WHERE name = ? AND generation <= ?
	`, name, generation)
	if err != nil {
		return fmt.Errorf("schedule column row cleanup: %w", err)
	}
	return nil
}

// AppendBatch appends rows to several columns as one insert block.
func (s *ColumnStore) AppendBatch(ctx context.Context, batch []storage.ColumnAppend) error {
	if len(batch) == 0 {
		return nil
	}
	if err := storage.ValidateBatch(batch); err != nil {
		return err
	}

	names := make([]string, len(batch))
	for i, a := range batch {
		names[i] = a.Name
	}
	headers, err := s.headers(ctx, names)
	if err != nil {
		return err
	}

	rowCount := 0
	for _, a := range batch {
		h, ok := headers[a.Name]
		if !ok {
			return fmt.Errorf("column %s: %w", a.Name, storage.ErrNotFound)
		}
		if err := storage.CheckAppend(&h.ColumnHeader, a); err != nil {
			return err
		}
		rowCount += len(a.Rows)
	}
	if rowCount == 0 {
		return nil
	}

	chBatch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO column_rows (name, generation, idx, value)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, a := range batch {
		gen := headers[a.Name].generation
		for i, r := range a.Rows {
			if err := chBatch.Append(a.Name, gen, a.Start+uint64(i), string(r)); err != nil {
				return fmt.Errorf("append to batch: %w", err)
			}
		}
	}

	if err := chBatch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ReadRange returns rows [from, to) of a column.
func (s *ColumnStore) ReadRange(ctx context.Context, name string, from, to uint64) ([][]byte, error) {
	headers, err := s.headers(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	h, ok := headers[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if to > h.Len {
		to = h.Len
	}
	if from >= to {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, `
		SELECT value
		FROM column_rows FINAL
		WHERE name = ? AND generation = ? AND idx >= ? AND idx < ?
		ORDER BY idx ASC
	`, name, h.generation, from, to)
	if err != nil {
		return nil, fmt.Errorf("read column range: %w", err)
	}
	defer rows.Close()

	return scanValues(rows)
}

// Truncate drops rows at index >= n with a synchronous lightweight delete.
func (s *ColumnStore) Truncate(ctx context.Context, name string, n uint64) error {
	headers, err := s.headers(ctx, []string{name})
	if err != nil {
		return err
	}
	h, ok := headers[name]
	if !ok {
		return storage.ErrNotFound
	}
	if n >= h.Len {
		return nil
	}

	syncCtx := clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"mutations_sync": 2,
	}))
	err = s.conn.Exec(syncCtx, `
		DELETE FROM column_rows
		WHERE name = ? AND generation = ? AND idx >= ?
	`, name, h.generation, n)
	if err != nil {
		return fmt.Errorf("truncate column rows: %w", err)
	}
	return nil
}

// Names returns every column name in lexical order.
func (s *ColumnStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT name FROM column_headers ORDER BY name ASC
	`)
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

// headers loads the current header and row count of each named column.
func (s *ColumnStore) headers(ctx context.Context, names []string) (map[string]chHeader, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT
			name,
			argMax(version, generation) AS version,
			argMax(width, generation) AS width,
			max(generation) AS generation
		FROM column_headers
		WHERE name IN ?
		GROUP BY name
	`, names)
	if err != nil {
		return nil, fmt.Errorf("query column headers: %w", err)
	}
	defer rows.Close()

	result := make(map[string]chHeader, len(names))
	if err := scanHeaders(rows, result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return result, nil
	}

	countRows, err := s.conn.Query(ctx, `
		SELECT name, generation, count() AS length
		FROM column_rows FINAL
		WHERE name IN ?
		GROUP BY name, generation
	`, names)
	if err != nil {
		return nil, fmt.Errorf("query column lengths: %w", err)
	}
	defer countRows.Close()

	for countRows.Next() {
		var name string
		var generation, length uint64
		if err := countRows.Scan(&name, &generation, &length); err != nil {
			return nil, fmt.Errorf("scan column length: %w", err)
		}
		if h, ok := result[name]; ok && h.generation == generation {
			h.Len = length
			result[name] = h
		}
	}
	if err := countRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column lengths: %w", err)
	}

	return result, nil
}

func scanHeaders(rows chRows, into map[string]chHeader) error {
	for rows.Next() {
		var h chHeader
		var width uint32
		if err := rows.Scan(&h.Name, &h.Version, &width, &h.generation); err != nil {
			return fmt.Errorf("scan column header: %w", err)
		}
		h.Width = int(width)
		into[h.Name] = h
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate column headers: %w", err)
	}
	return nil
}

func scanValues(rows chRows) ([][]byte, error) {
	var result [][]byte
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		result = append(result, []byte(value))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return result, nil
}
