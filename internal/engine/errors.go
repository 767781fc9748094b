package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariantViolation marks a broken conservation or classification
	// invariant. Fatal: the run must stop without flushing the block.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrUnknownOutput is returned for a spend of an output the chain state does not hold.
	ErrUnknownOutput = errors.New("spend of unknown output")

	// ErrOutOfOrder is returned when a block height is not the next height.
	ErrOutOfOrder = errors.New("block out of order")

	// ErrInvalidBlock is returned for blocks that fail validation.
	ErrInvalidBlock = errors.New("invalid block")
)

// InvariantError describes an invariant violation in one cohort.
type InvariantError struct {
	Cohort string
	Op     string
	Detail string
	Err    error
}

func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("invariant violation in %s during %s", e.Cohort, e.Op)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrInvariantViolation and the cause.
func (e *InvariantError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvariantViolation}
	}
	return []error{ErrInvariantViolation, e.Err}
}

func violation(cohortID, op string, err error) error {
	return &InvariantError{Cohort: cohortID, Op: op, Err: err}
}
