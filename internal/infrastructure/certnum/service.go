// Package certnum provides the transactional certificate number allocator.
// It implements core/certnum.Allocator on top of any certnum.Sequence and
// tx.SavepointManager (PostgreSQL in production, memory in tests).
package certnum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	corecertnum "odds/internal/core/certnum"
	"odds/internal/core/tx"
	"odds/pkg/logger"
)

var tracer = otel.Tracer("odds/certnum")

// Service allocates certificate numbers from a single global counter.
//
// Every public operation runs in its own transaction. The counter row is
// locked by the first Reserve of that transaction and stays locked until
// commit, so concurrent operations are totally ordered and their blocks
// never overlap.
type Service struct {
	seq  corecertnum.Sequence
	txm  tx.SavepointManager
	opts corecertnum.Options
}

// Ensure compile-time interface compliance.
var _ corecertnum.Allocator = (*Service)(nil)

// New creates an allocator over seq. Transactions are opened through txm.
func New(seq corecertnum.Sequence, txm tx.SavepointManager, opts corecertnum.Options) *Service {
	return &Service{
		seq:  seq,
		txm:  txm,
		opts: opts.WithDefaults(),
	}
}

// Allocate reserves n consecutive numbers as one block.
func (s *Service) Allocate(ctx context.Context, n int) ([]corecertnum.Number, error) {
	if s == nil {
		return nil, fmt.Errorf("certnum service is not initialized")
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: n must be at least 1, got %d", corecertnum.ErrInvalidRequest, n)
	}
	if int64(n) > corecertnum.MaxValue {
		return nil, fmt.Errorf("%w: %d numbers requested", corecertnum.ErrSequenceExhausted, n)
	}

	ctx, span := tracer.Start(ctx, "certnum.allocate", trace.WithAttributes(attribute.Int("certnum.count", n)))
	defer span.End()

	var nums []corecertnum.Number
	err := s.withRetry(ctx, "allocate", func(ctx context.Context) error {
		return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			var err error
			nums, err = s.reserve(ctx, n)
			return err
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return nums, nil
}

// Issue stamps one number onto each subject, in order.
//
// The whole batch shares one transaction that pins the counter; each subject
// runs in its own savepoint holding both the increment and the stamp. A
// failing subject rolls back to its savepoint, so its number is never
// consumed and the numbers that were handed out stay contiguous.
// Contention aborts and re-runs the whole batch; nothing is committed twice.
func (s *Service) Issue(ctx context.Context, subjects []int64, stamp corecertnum.StampFunc) (corecertnum.BatchResult, error) {
	if s == nil {
		return corecertnum.BatchResult{}, fmt.Errorf("certnum service is not initialized")
	}
	if len(subjects) == 0 {
		return corecertnum.BatchResult{}, fmt.Errorf("%w: no subjects", corecertnum.ErrInvalidRequest)
	}

	ctx, span := tracer.Start(ctx, "certnum.issue", trace.WithAttributes(attribute.Int("certnum.subjects", len(subjects))))
	defer span.End()

	var result corecertnum.BatchResult
	err := s.withRetry(ctx, "issue", func(ctx context.Context) error {
		return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			result = corecertnum.BatchResult{}

			if _, err := s.seq.Reserve(ctx, s.opts.SequenceKey, 0); err != nil {
				return fmt.Errorf("lock sequence: %w", err)
			}

			for _, subjectID := range subjects {
				var issued corecertnum.Number
				unitErr := s.txm.RunInSavepoint(ctx, func(ctx context.Context) error {
					nums, err := s.reserve(ctx, 1)
					if err != nil {
						return err
					}
					if err := stamp(ctx, subjectID, nums[0]); err != nil {
						return err
					}
					issued = nums[0]
					return nil
				})

				if unitErr == nil {
					result.Issued = append(result.Issued, corecertnum.Issued{SubjectID: subjectID, Number: issued})
					continue
				}
				if s.retryable(unitErr) {
					return unitErr
				}
				result.Failed = append(result.Failed, corecertnum.Failure{SubjectID: subjectID, Err: unitErr})
				logger.Warn(ctx, "certificate stamp failed", "subject_id", subjectID, "error", unitErr)
			}
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return corecertnum.BatchResult{}, err
	}

	span.SetAttributes(
		attribute.Int("certnum.issued", len(result.Issued)),
		attribute.Int("certnum.failed", len(result.Failed)),
	)
	return result, nil
}

// Current returns the last allocated value.
func (s *Service) Current(ctx context.Context) (int64, error) {
	return s.seq.Current(ctx, s.opts.SequenceKey)
}

// Bootstrap re-derives the counter after a restart: it raises the counter to
// the highest number already stored on subject records, as reported by
// highest. The scan and the raise share one transaction with the counter
// locked, so no allocation can slip in between.
func (s *Service) Bootstrap(ctx context.Context, highest func(ctx context.Context) (int64, error)) (int64, error) {
	var current int64
	err := s.withRetry(ctx, "bootstrap", func(ctx context.Context) error {
		return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			if _, err := s.seq.Reserve(ctx, s.opts.SequenceKey, 0); err != nil {
				return fmt.Errorf("lock sequence: %w", err)
			}
			floor, err := highest(ctx)
			if err != nil {
				return fmt.Errorf("scan highest number: %w", err)
			}
			current, err = s.seq.Seed(ctx, s.opts.SequenceKey, floor)
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	logger.Info(ctx, "certificate sequence ready", "key", s.opts.SequenceKey, "current", current)
	return current, nil
}

// reserve advances the counter by n and renders the block. It must run
// inside a transaction so that an overflow rolls the increment back.
func (s *Service) reserve(ctx context.Context, n int) ([]corecertnum.Number, error) {
	last, err := s.seq.Reserve(ctx, s.opts.SequenceKey, int64(n))
	if err != nil {
		return nil, fmt.Errorf("reserve %d: %w", n, err)
	}
	// A sum that wrapped past int64 comes back smaller than n.
	if last > corecertnum.MaxValue || last < int64(n) {
		return nil, fmt.Errorf("%w: next value %d", corecertnum.ErrSequenceExhausted, last)
	}
	return corecertnum.Block(last, n)
}

// withRetry re-runs fn while it fails with contention, up to MaxAttempts,
// doubling the pause between attempts.
func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := s.opts.Backoff
	var lastErr error

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !s.retryable(err) {
			return err
		}
		lastErr = err

		if attempt == s.opts.MaxAttempts {
			break
		}
		logger.Warn(ctx, "certificate sequence contended, retrying",
			"operation", op,
			"attempt", attempt,
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
		backoff *= 2
	}

	return &corecertnum.AllocationFailedError{Attempts: s.opts.MaxAttempts, Err: lastErr}
}

func (s *Service) retryable(err error) bool {
	return s.opts.IsRetryable != nil && s.opts.IsRetryable(err)
}
