// Package tx provides transaction management abstractions.
// This package defines interfaces that decouple domain logic from specific
// database implementations.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
// Implementations handle BEGIN, COMMIT, ROLLBACK, and nested transaction support.
//
// Domain services depend on this interface, not concrete implementations.
// The actual implementations live in infrastructure/storage.
type Manager interface {
	// RunInTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// SavepointManager extends Manager with partial rollback inside a running
// transaction.
type SavepointManager interface {
	Manager

	// RunInSavepoint executes fn as an atomic unit nested in the transaction
	// found in ctx. An error from fn undoes only the work fn did; the outer
	// transaction stays usable. Without an outer transaction it behaves like
	// RunInTransaction.
	RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error
}
