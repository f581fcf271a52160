package certnum

import (
	"context"
)

// Allocator hands out certificate numbers.
// This is the domain contract - implementations live in infrastructure layer.
// It is the only component allowed to advance the certificate counter.
type Allocator interface {
	// Allocate reserves n (>= 1) consecutive numbers and returns them ascending.
	// Concurrent calls never receive overlapping blocks.
	Allocate(ctx context.Context, n int) ([]Number, error)

	// Issue assigns one number per subject, in order. Reserving a number and
	// stamping it through stamp form one atomic unit per subject: a failing
	// unit consumes no number and leaves sibling assignments intact.
	Issue(ctx context.Context, subjects []int64, stamp StampFunc) (BatchResult, error)

	// Current returns the last allocated value (0 if none).
	Current(ctx context.Context) (int64, error)
}

// StampFunc persists num onto the subject record. It runs inside the
// subject's atomic unit; returning an error undoes the reservation.
type StampFunc func(ctx context.Context, subjectID int64, num Number) error

// Sequence is the storage contract behind an allocator: a durable named
// counter whose value is the last number handed out.
type Sequence interface {
	// Reserve advances the counter by n and returns the new value, i.e. the
	// last number of the reserved block. n == 0 only locks the counter for
	// the rest of the surrounding transaction.
	Reserve(ctx context.Context, key string, n int64) (int64, error)

	// Current returns the counter value without changing it.
	Current(ctx context.Context, key string) (int64, error)

	// Seed raises the counter to at least floor and returns the result.
	// The counter never decreases.
	Seed(ctx context.Context, key string, floor int64) (int64, error)
}

// Issued is one successful assignment.
type Issued struct {
	SubjectID int64  `json:"subjectId"`
	Number    Number `json:"certificateNumber"`
}

// Failure is one subject whose atomic unit was rolled back.
type Failure struct {
	SubjectID int64 `json:"subjectId"`
	Err       error `json:"-"`
}

// BatchResult reports the outcome of Issue.
type BatchResult struct {
	Issued []Issued
	Failed []Failure
}

// SuccessCount returns the number of subjects that received a number.
func (r BatchResult) SuccessCount() int {
	return len(r.Issued)
}

// Numbers returns the issued numbers in issue order.
func (r BatchResult) Numbers() []Number {
	out := make([]Number, len(r.Issued))
	for i, is := range r.Issued {
		out[i] = is.Number
	}
	return out
}
