package certnum

import (
	"context"
	"sync"
)

// MockAllocator is a test implementation of Allocator.
// Without overrides it counts up from Start in memory.
type MockAllocator struct {
	AllocateFunc func(ctx context.Context, n int) ([]Number, error)
	IssueFunc    func(ctx context.Context, subjects []int64, stamp StampFunc) (BatchResult, error)

	mu    sync.Mutex
	Start int64
}

// Allocate implements Allocator.
func (m *MockAllocator) Allocate(ctx context.Context, n int) ([]Number, error) {
	if m.AllocateFunc != nil {
		return m.AllocateFunc(ctx, n)
	}
	if n < 1 {
		return nil, ErrInvalidRequest
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if int64(n) > MaxValue-m.Start {
		return nil, ErrSequenceExhausted
	}
	nums, err := Block(m.Start+int64(n), n)
	if err != nil {
		return nil, err
	}
	m.Start += int64(n)
	return nums, nil
}

// Issue implements Allocator. Stamp failures do not consume numbers.
func (m *MockAllocator) Issue(ctx context.Context, subjects []int64, stamp StampFunc) (BatchResult, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, subjects, stamp)
	}
	if len(subjects) == 0 {
		return BatchResult{}, ErrInvalidRequest
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var res BatchResult
	for _, id := range subjects {
		num, err := Format(m.Start + 1)
		if err == nil {
			err = stamp(ctx, id, num)
		}
		if err != nil {
			res.Failed = append(res.Failed, Failure{SubjectID: id, Err: err})
			continue
		}
		m.Start++
		res.Issued = append(res.Issued, Issued{SubjectID: id, Number: num})
	}
	return res, nil
}

// Current implements Allocator.
func (m *MockAllocator) Current(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Start, nil
}

// Ensure compile-time interface compliance.
var _ Allocator = (*MockAllocator)(nil)
