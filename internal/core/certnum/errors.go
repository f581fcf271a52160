package certnum

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for a request for fewer than one number.
	// It is raised before any storage access.
	ErrInvalidRequest = errors.New("certnum: invalid allocation request")

	// ErrAllocationFailed means the sequence stayed contended for the whole
	// retry budget. Nothing was consumed and nothing was stamped.
	ErrAllocationFailed = errors.New("certnum: allocation failed")

	// ErrSequenceExhausted means the next value does not fit in Width digits.
	ErrSequenceExhausted = errors.New("certnum: sequence exhausted")

	// ErrOutOfRange is returned when formatting a non-positive value.
	ErrOutOfRange = errors.New("certnum: value out of range")

	// ErrMalformed is returned when parsing a string that is not a number.
	ErrMalformed = errors.New("certnum: malformed certificate number")
)

// AllocationFailedError carries the attempt count and the last storage error.
// It matches both ErrAllocationFailed and the wrapped cause in errors.Is.
type AllocationFailedError struct {
	Attempts int
	Err      error
}

func (e *AllocationFailedError) Error() string {
	return fmt.Sprintf("certnum: allocation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AllocationFailedError) Unwrap() []error {
	return []error{ErrAllocationFailed, e.Err}
}
