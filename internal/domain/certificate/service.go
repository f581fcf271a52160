package certificate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"odds/internal/core/apperror"
	"odds/internal/core/certnum"
	appctx "odds/internal/core/context"
	"odds/pkg/logger"
)

// Service provides certificate issuance.
// Number allocation is delegated to certnum.Allocator; nothing here reads
// or advances the counter.
type Service struct {
	repo      Repository
	allocator certnum.Allocator
	fee       decimal.Decimal
	now       func() time.Time
}

// Config configures the certificate service.
type Config struct {
	// FeePerPaidStudent is owed by the instructor for each paid student.
	FeePerPaidStudent decimal.Decimal

	// Now overrides the clock (tests).
	Now func() time.Time
}

// DefaultConfig returns the fee used by the original deployment ($10).
func DefaultConfig() Config {
	return Config{FeePerPaidStudent: decimal.NewFromInt(10)}
}

// NewService creates a new certificate service.
func NewService(repo Repository, allocator certnum.Allocator, cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:      repo,
		allocator: allocator,
		fee:       cfg.FeePerPaidStudent,
		now:       now,
	}
}

// ProcessStudent issues a certificate number to one student.
// A student that already has one gets it back unchanged, so a retried
// request never consumes a second number.
func (s *Service) ProcessStudent(ctx context.Context, studentID int64) (*StudentResult, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}

	student, err := s.repo.GetStudent(ctx, scope, studentID)
	if err != nil {
		return nil, err
	}
	if student.IsProcessed() {
		return &StudentResult{Student: student, Number: student.Certificate(), AlreadyIssued: true}, nil
	}

	res, err := s.allocator.Issue(ctx, []int64{studentID}, s.stamp)
	if err != nil {
		return nil, mapAllocationError(err)
	}

	if len(res.Failed) > 0 {
		failure := res.Failed[0]
		if !errors.Is(failure.Err, ErrAlreadyProcessed) {
			return nil, mapAllocationError(failure.Err)
		}
		// Lost a race with a concurrent request for the same student:
		// report the number the winner stored.
		student, err = s.repo.GetStudent(ctx, scope, studentID)
		if err != nil {
			return nil, err
		}
		if !student.IsProcessed() {
			return nil, apperror.NewBusinessRule(apperror.CodeAlreadyProcessed, "student can no longer be processed").
				WithDetail("studentId", studentID)
		}
		return &StudentResult{Student: student, Number: student.Certificate(), AlreadyIssued: true}, nil
	}

	issued := res.Issued[0]
	student, err = s.repo.GetStudent(ctx, scope, studentID)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "certificate issued",
		"student_id", studentID,
		"certificate_number", issued.Number,
	)
	return &StudentResult{Student: student, Number: issued.Number}, nil
}

// ProcessClass issues numbers to every unprocessed student of a class.
// Students that fail are reported individually; the rest keep their numbers.
func (s *Service) ProcessClass(ctx context.Context, classID int64) (*ClassResult, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetClass(ctx, scope, classID); err != nil {
		return nil, err
	}

	pending, err := s.repo.ListUnprocessed(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed students: %w", err)
	}

	result := &ClassResult{ClassID: classID}
	if len(pending) == 0 {
		return result, nil
	}

	res, err := s.allocator.Issue(ctx, pending, s.stamp)
	if err != nil {
		return nil, mapAllocationError(err)
	}

	result.Processed = res.Issued
	for _, f := range res.Failed {
		result.Failed = append(result.Failed, StudentFailure{StudentID: f.SubjectID, Err: f.Err})
	}

	// Nothing went through because the number space ran out: that is a
	// system failure, not a per-student one.
	if len(result.Processed) == 0 && len(result.Failed) > 0 && errors.Is(result.Failed[0].Err, certnum.ErrSequenceExhausted) {
		return nil, apperror.NewSequenceExhausted(result.Failed[0].Err)
	}

	logger.Info(ctx, "class processed",
		"class_id", classID,
		"processed", result.ProcessedCount(),
		"failed", len(result.Failed),
	)
	return result, nil
}

// GetByNumber looks up the student holding a certificate number.
// Short forms ("42") are accepted and padded.
func (s *Service) GetByNumber(ctx context.Context, raw string) (*Student, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}

	num, err := certnum.Normalize(raw)
	if err != nil {
		return nil, apperror.NewInvalidInput("number", "invalid certificate number").
			WithDetail("value", raw).
			WithCause(err)
	}
	return s.repo.FindByCertificate(ctx, scope, num)
}

// ClassSummary returns the student counts of a class and the fee expected
// from its instructor.
func (s *Service) ClassSummary(ctx context.Context, classID int64) (*ClassSummary, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}

	class, err := s.repo.GetClass(ctx, scope, classID)
	if err != nil {
		return nil, err
	}

	counts, err := s.repo.ClassCounts(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}

	return &ClassSummary{
		Class:       class,
		Counts:      counts,
		FeePerPaid:  s.fee,
		ExpectedFee: s.fee.Mul(decimal.NewFromInt(int64(counts.Paid))),
	}, nil
}

// ListIssued returns the certificates issued in scope during the filter
// window, ordered by number.
func (s *Service) ListIssued(ctx context.Context, filter IssuedFilter) ([]IssuedCertificate, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, apperror.NewInvalidInput("endDate", "end date must not precede start date")
	}

	issued, err := s.repo.ListIssued(ctx, scope, filter)
	if err != nil {
		return nil, fmt.Errorf("list issued certificates: %w", err)
	}
	return issued, nil
}

// HighestIssued returns the highest number stored on any student.
// It is the floor the certificate counter is re-derived from on boot.
func (s *Service) HighestIssued(ctx context.Context) (int64, error) {
	return s.repo.MaxCertificateNumber(ctx)
}

func (s *Service) stamp(ctx context.Context, studentID int64, num certnum.Number) error {
	return s.repo.Stamp(ctx, studentID, num, s.now())
}

func requireScope(ctx context.Context) (appctx.SchoolScope, error) {
	scope, ok := appctx.GetScope(ctx)
	if !ok {
		return appctx.SchoolScope{}, apperror.NewUnauthorized("authentication required")
	}
	return scope, nil
}

// mapAllocationError translates allocator errors into API errors.
func mapAllocationError(err error) error {
	var failed *certnum.AllocationFailedError
	switch {
	case errors.As(err, &failed):
		return apperror.NewAllocationFailed(failed.Attempts, err)
	case errors.Is(err, certnum.ErrInvalidRequest):
		return apperror.NewValidation("nothing to allocate").WithCause(err)
	case errors.Is(err, certnum.ErrSequenceExhausted):
		return apperror.NewSequenceExhausted(err)
	case errors.Is(err, ErrAlreadyProcessed):
		return apperror.NewBusinessRule(apperror.CodeAlreadyProcessed, "student already processed").WithCause(err)
	}
	if _, ok := apperror.AsAppError(err); ok {
		return err
	}
	return apperror.NewInternal(err)
}

// FailureReason is the client-facing text for a per-student failure.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		return "already processed"
	case errors.Is(err, certnum.ErrSequenceExhausted):
		return "certificate numbers exhausted"
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Code == apperror.CodeConflict {
		return "certificate number conflict"
	}
	return "could not issue certificate"
}
