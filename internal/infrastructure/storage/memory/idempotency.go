package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"odds/internal/core/apperror"
	"odds/internal/core/idempotency"
)

type idempotencyEntry struct {
	userID      string
	operation   string
	requestHash string
	status      idempotency.Status
	replay      idempotency.Replay
	expiresAt   time.Time
}

// IdempotencyStore is an in-memory idempotency.Store.
type IdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*idempotencyEntry
}

// Compile-time check.
var _ idempotency.Store = (*IdempotencyStore)(nil)

// NewIdempotencyStore creates an empty store whose keys live for ttl.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		ttl:     ttl,
		entries: make(map[string]*idempotencyEntry),
	}
}

// AcquireKey implements idempotency.Store.
func (s *IdempotencyStore) AcquireKey(ctx context.Context, key, userID, operation, requestHash string) (*idempotency.Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok || now.After(e.expiresAt) {
		s.entries[key] = &idempotencyEntry{
			userID:      userID,
			operation:   operation,
			requestHash: requestHash,
			status:      idempotency.StatusPending,
			expiresAt:   now.Add(s.ttl),
		}
		return nil, nil
	}

	if e.userID != userID || e.operation != operation || e.requestHash != requestHash {
		return nil, apperror.NewIdempotencyMismatch(key)
	}
	if e.status == idempotency.StatusPending {
		return nil, apperror.NewIdempotencyConflict(key)
	}
	replay := e.replay
	return &replay, nil
}

// CompleteKey implements idempotency.Store.
func (s *IdempotencyStore) CompleteKey(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	return s.finish(key, idempotency.StatusSuccess, statusCode, contentType, response)
}

// FailKey implements idempotency.Store.
func (s *IdempotencyStore) FailKey(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	return s.finish(key, idempotency.StatusFailed, statusCode, contentType, response)
}

// ReleaseKey implements idempotency.Store.
func (s *IdempotencyStore) ReleaseKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.status == idempotency.StatusPending {
		delete(s.entries, key)
	}
	return nil
}

func (s *IdempotencyStore) finish(key string, status idempotency.Status, statusCode int, contentType string, response any) error {
	var body []byte
	if response != nil {
		b, err := json.Marshal(response)
		if err != nil {
			return err
		}
		body = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	e.status = status
	e.replay = idempotency.Replay{
		StatusCode:  idempotency.NormalizeStatus(statusCode),
		ContentType: idempotency.NormalizeContentType(contentType),
		Body:        body,
	}
	return nil
}
