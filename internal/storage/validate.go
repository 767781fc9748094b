package storage

import "fmt"

// ValidateBatch checks a batch before it touches any store: non-empty names,
// one run per column, consistent row widths.
func ValidateBatch(batch []ColumnAppend) error {
	seen := make(map[string]struct{}, len(batch))
	for _, a := range batch {
		if a.Name == "" {
			return fmt.Errorf("%w: empty column name", ErrInvalidInput)
		}
		if _, ok := seen[a.Name]; ok {
			return fmt.Errorf("%w: column %s appears twice in batch", ErrDuplicateKey, a.Name)
		}
		seen[a.Name] = struct{}{}
		for i := 1; i < len(a.Rows); i++ {
			if len(a.Rows[i]) != len(a.Rows[0]) {
				return fmt.Errorf("%w: column %s", ErrWidthMismatch, a.Name)
			}
		}
	}
	return nil
}

// CheckAppend compares an append against the stored header.
func CheckAppend(h *ColumnHeader, a ColumnAppend) error {
	switch {
	case a.Start < h.Len:
		return fmt.Errorf("%w: column %s has %d rows, append starts at %d", ErrDuplicateKey, a.Name, h.Len, a.Start)
	case a.Start > h.Len:
		return fmt.Errorf("%w: column %s has %d rows, append starts at %d", ErrGap, a.Name, h.Len, a.Start)
	}
	for _, r := range a.Rows {
		if len(r) != h.Width {
			return fmt.Errorf("%w: column %s width %d, row %d bytes", ErrWidthMismatch, a.Name, h.Width, len(r))
		}
	}
	return nil
}
