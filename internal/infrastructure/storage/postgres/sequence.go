package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"odds/internal/core/certnum"
)

// SequenceRepo stores named counters in sys_sequences.
//
// Reserve is a single UPSERT ... RETURNING: the row lock it takes is held
// until the surrounding transaction ends, which serializes every allocator
// touching the same key.
type SequenceRepo struct {
	db QuerierProvider
}

// Compile-time check.
var _ certnum.Sequence = (*SequenceRepo)(nil)

// NewSequenceRepo creates a sequence repository.
func NewSequenceRepo(db QuerierProvider) *SequenceRepo {
	return &SequenceRepo{db: db}
}

// Reserve implements certnum.Sequence.
func (r *SequenceRepo) Reserve(ctx context.Context, key string, n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative increment %d", certnum.ErrInvalidRequest, n)
	}

	var last int64
	err := r.db.GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET
			current_val = sys_sequences.current_val + EXCLUDED.current_val,
			updated_at = now()
		RETURNING current_val
	`, key, n).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("reserve sequence %q: %w", key, err)
	}
	return last, nil
}

// Current implements certnum.Sequence.
func (r *SequenceRepo) Current(ctx context.Context, key string) (int64, error) {
	var current int64
	err := r.db.GetQuerier(ctx).QueryRow(ctx,
		`SELECT current_val FROM sys_sequences WHERE key = $1`, key,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence %q: %w", key, err)
	}
	return current, nil
}

// Seed implements certnum.Sequence.
func (r *SequenceRepo) Seed(ctx context.Context, key string, floor int64) (int64, error) {
	var current int64
	err := r.db.GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val, updated_at)
		VALUES ($1, GREATEST($2::bigint, 0), now())
		ON CONFLICT (key) DO UPDATE SET
			current_val = GREATEST(sys_sequences.current_val, EXCLUDED.current_val),
			updated_at = now()
		RETURNING current_val
	`, key, floor).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("seed sequence %q: %w", key, err)
	}
	return current, nil
}
