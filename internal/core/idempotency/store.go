// Package idempotency defines the contract for replaying the response of a
// repeated mutating request carrying the same X-Idempotency-Key.
package idempotency

import "context"

// Status represents the state of an idempotent operation.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Replay is the cached HTTP response for replay.
type Replay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Store manages idempotency keys.
type Store interface {
	// AcquireKey claims key for a request. It returns:
	//   - (nil, nil) when the caller owns the key and must run the request
	//   - (replay, nil) when the operation already finished
	//   - (nil, err) when the key is in flight or belongs to another request
	AcquireKey(ctx context.Context, key, userID, operation, requestHash string) (*Replay, error)

	// CompleteKey stores a successful response for replay.
	CompleteKey(ctx context.Context, key string, statusCode int, contentType string, response any) error

	// FailKey stores an error response for replay.
	FailKey(ctx context.Context, key string, statusCode int, contentType string, response any) error

	// ReleaseKey drops a pending key so the request can be run again.
	ReleaseKey(ctx context.Context, key string) error
}

// NormalizeStatus defaults records stored without a status to 200.
func NormalizeStatus(status int) int {
	if status == 0 {
		return 200
	}
	return status
}

// NormalizeContentType defaults records stored without a content type to JSON.
func NormalizeContentType(ct string) string {
	if ct == "" {
		return "application/json"
	}
	return ct
}
