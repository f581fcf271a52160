package certificate

import (
	"context"
	"time"

	"odds/internal/core/certnum"
	appctx "odds/internal/core/context"
)

// Repository defines the persistence needed by certificate issuance.
// Lookups honour the school scope; rows outside it behave as missing.
type Repository interface {
	// GetStudent returns a non-deleted student visible in scope.
	GetStudent(ctx context.Context, scope appctx.SchoolScope, studentID int64) (*Student, error)

	// GetClass returns a non-deleted class visible in scope.
	GetClass(ctx context.Context, scope appctx.SchoolScope, classID int64) (*Class, error)

	// ListUnprocessed returns ids of non-deleted students of the class that
	// have no certificate number, ascending.
	ListUnprocessed(ctx context.Context, classID int64) ([]int64, error)

	// FindByCertificate returns the student holding num, if visible in scope.
	FindByCertificate(ctx context.Context, scope appctx.SchoolScope, num certnum.Number) (*Student, error)

	// Stamp writes num and the processing time onto the student. It fails
	// with ErrAlreadyProcessed unless the student is non-deleted and has no
	// number yet.
	Stamp(ctx context.Context, studentID int64, num certnum.Number, at time.Time) error

	// ClassCounts aggregates the non-deleted students of the class.
	ClassCounts(ctx context.Context, classID int64) (ClassCounts, error)

	// ListIssued returns the non-deleted students in scope that hold a
	// number processed inside the filter, ordered by number.
	ListIssued(ctx context.Context, scope appctx.SchoolScope, filter IssuedFilter) ([]IssuedCertificate, error)

	// MaxCertificateNumber returns the highest number stored on any student,
	// across all schools, or 0 when none was issued.
	MaxCertificateNumber(ctx context.Context) (int64, error)
}
