package storage

import "errors"

// Storage errors for append-only column stores.
var (
	// ErrNotFound is returned when a requested column or checkpoint does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when appending at an index that is already stored.
	// Append-only stores do not allow updates.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrGap is returned when appending beyond the current length of a column.
	ErrGap = errors.New("gap: append must start at the current column length")

	// ErrWidthMismatch is returned when a row does not match the column width.
	ErrWidthMismatch = errors.New("row width does not match column width")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
