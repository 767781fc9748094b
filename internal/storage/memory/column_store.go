package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"utxo-cohort-lab/internal/storage"
)

type column struct {
	header storage.ColumnHeader
	rows   [][]byte
}

// ColumnStore is an in-memory implementation of storage.ColumnStore.
type ColumnStore struct {
	mu      sync.RWMutex
	columns map[string]*column // keyed by column name
}

// NewColumnStore creates a new in-memory column store.
func NewColumnStore() *ColumnStore {
	return &ColumnStore{
		columns: make(map[string]*column),
	}
}

// Header returns the header of a column.
func (s *ColumnStore) Header(_ context.Context, name string) (*storage.ColumnHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.columns[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	h := c.header
	h.Len = uint64(len(c.rows))
	return &h, nil
}

// Reset drops every row and recreates the column.
func (s *ColumnStore) Reset(_ context.Context, name string, version uint64, width int) error {
	if name == "" || width <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.columns[name] = &column{
		header: storage.ColumnHeader{Name: name, Version: version, Width: width},
	}
	return nil
}

// AppendBatch appends rows to several columns. Fails entire batch on any conflict.
func (s *ColumnStore) AppendBatch(_ context.Context, batch []storage.ColumnAppend) error {
	if len(batch) == 0 {
		return nil
	}
	if err := storage.ValidateBatch(batch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: check every append against the stored length
	for _, a := range batch {
		c, ok := s.columns[a.Name]
		if !ok {
			return fmt.Errorf("column %s: %w", a.Name, storage.ErrNotFound)
		}
		h := c.header
		h.Len = uint64(len(c.rows))
		if err := storage.CheckAppend(&h, a); err != nil {
			return err
		}
	}

	// Second pass: append copies
	for _, a := range batch {
		c := s.columns[a.Name]
		for _, r := range a.Rows {
			rowCopy := make([]byte, len(r))
			copy(rowCopy, r)
			c.rows = append(c.rows, rowCopy)
		}
	}

	return nil
}

// ReadRange returns rows [from, to) of a column.
func (s *ColumnStore) ReadRange(_ context.Context, name string, from, to uint64) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.columns[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if to > uint64(len(c.rows)) {
		to = uint64(len(c.rows))
	}
	if from >= to {
		return nil, nil
	}

	result := make([][]byte, 0, to-from)
	for _, r := range c.rows[from:to] {
		rowCopy := make([]byte, len(r))
		copy(rowCopy, r)
		result = append(result, rowCopy)
	}
	return result, nil
}

// Truncate drops rows at index >= n.
func (s *ColumnStore) Truncate(_ context.Context, name string, n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.columns[name]
	if !ok {
		return storage.ErrNotFound
	}
	if n < uint64(len(c.rows)) {
		c.rows = c.rows[:n]
	}
	return nil
}

// Names returns every column name in lexical order.
func (s *ColumnStore) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.columns))
	for name := range s.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

var _ storage.ColumnStore = (*ColumnStore)(nil)
