// Package certificate_repo provides the PostgreSQL implementation of
// certificate.Repository.
package certificate_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"odds/internal/core/apperror"
	"odds/internal/core/certnum"
	appctx "odds/internal/core/context"
	"odds/internal/domain/certificate"
	"odds/internal/infrastructure/storage/postgres"
)

const (
	studentsTable = "students"
	classesTable  = "classes"

	certificateConstraint = "students_certificate_number_key"
)

var (
	studentColumns = postgres.ExtractDBColumns[certificate.Student]()
	classColumns   = postgres.ExtractDBColumns[certificate.Class]()
)

// StudentRepo reads and stamps students.
type StudentRepo struct {
	db postgres.QuerierProvider
}

// Compile-time check.
var _ certificate.Repository = (*StudentRepo)(nil)

// NewStudentRepo creates a new student repository.
func NewStudentRepo(db postgres.QuerierProvider) *StudentRepo {
	return &StudentRepo{db: db}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *StudentRepo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// scoped restricts q to rows of the scope's school.
func scoped(q squirrel.SelectBuilder, scope appctx.SchoolScope) squirrel.SelectBuilder {
	if scope.Global {
		return q
	}
	return q.Where(squirrel.Eq{"school_id": scope.SchoolID})
}

// GetStudent implements certificate.Repository.
func (r *StudentRepo) GetStudent(ctx context.Context, scope appctx.SchoolScope, studentID int64) (*certificate.Student, error) {
	q := scoped(r.Builder().
		Select(studentColumns...).
		From(studentsTable).
		Where(squirrel.Eq{"student_id": studentID, "deleted_at": nil}), scope)

	var st certificate.Student
	if err := r.getOne(ctx, &st, q); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("student", studentID)
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &st, nil
}

// GetClass implements certificate.Repository.
func (r *StudentRepo) GetClass(ctx context.Context, scope appctx.SchoolScope, classID int64) (*certificate.Class, error) {
	q := scoped(r.Builder().
		Select(classColumns...).
		From(classesTable).
		Where(squirrel.Eq{"class_id": classID, "deleted_at": nil}), scope)

	var c certificate.Class
	if err := r.getOne(ctx, &c, q); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("class", classID)
		}
		return nil, fmt.Errorf("get class: %w", err)
	}
	return &c, nil
}

// ListUnprocessed implements certificate.Repository.
func (r *StudentRepo) ListUnprocessed(ctx context.Context, classID int64) ([]int64, error) {
	sql, args, err := r.Builder().
		Select("student_id").
		From(studentsTable).
		Where(squirrel.Eq{
			"class_id":           classID,
			"deleted_at":         nil,
			"certificate_number": nil,
		}).
		OrderBy("student_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var ids []int64
	if err := pgxscan.Select(ctx, r.db.GetQuerier(ctx), &ids, sql, args...); err != nil {
		return nil, fmt.Errorf("list unprocessed: %w", err)
	}
	return ids, nil
}

// FindByCertificate implements certificate.Repository.
func (r *StudentRepo) FindByCertificate(ctx context.Context, scope appctx.SchoolScope, num certnum.Number) (*certificate.Student, error) {
	q := scoped(r.Builder().
		Select(studentColumns...).
		From(studentsTable).
		Where(squirrel.Eq{"certificate_number": num.String(), "deleted_at": nil}), scope)

	var st certificate.Student
	if err := r.getOne(ctx, &st, q); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("certificate", num.String())
		}
		return nil, fmt.Errorf("find by certificate: %w", err)
	}
	return &st, nil
}

// Stamp implements certificate.Repository.
// The guard on certificate_number makes a concurrent second stamp a no-op
// that surfaces as ErrAlreadyProcessed.
func (r *StudentRepo) Stamp(ctx context.Context, studentID int64, num certnum.Number, at time.Time) error {
	sql, args, err := r.Builder().
		Update(studentsTable).
		Set("certificate_number", num.String()).
		Set("date_processed", at).
		Set("updated_at", at).
		Where(squirrel.Eq{
			"student_id":         studentID,
			"deleted_at":         nil,
			"certificate_number": nil,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build stamp: %w", err)
	}

	tag, err := r.db.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		if postgres.IsUniqueViolation(err, certificateConstraint) {
			return apperror.NewConflict("certificate number already stored").
				WithDetail("certificateNumber", num.String()).
				WithCause(err)
		}
		return fmt.Errorf("stamp student %d: %w", studentID, err)
	}
	if tag.RowsAffected() == 0 {
		return certificate.ErrAlreadyProcessed
	}
	return nil
}

// ClassCounts implements certificate.Repository.
func (r *StudentRepo) ClassCounts(ctx context.Context, classID int64) (certificate.ClassCounts, error) {
	sql, args, err := r.Builder().
		Select(
			"COUNT(*) AS students",
			"COUNT(*) FILTER (WHERE is_paid) AS paid",
			"COUNT(certificate_number) AS processed",
		).
		From(studentsTable).
		Where(squirrel.Eq{"class_id": classID, "deleted_at": nil}).
		ToSql()
	if err != nil {
		return certificate.ClassCounts{}, fmt.Errorf("build query: %w", err)
	}

	var counts certificate.ClassCounts
	if err := pgxscan.Get(ctx, r.db.GetQuerier(ctx), &counts, sql, args...); err != nil {
		return certificate.ClassCounts{}, fmt.Errorf("class counts: %w", err)
	}
	return counts, nil
}

// ListIssued implements certificate.Repository.
func (r *StudentRepo) ListIssued(ctx context.Context, scope appctx.SchoolScope, filter certificate.IssuedFilter) ([]certificate.IssuedCertificate, error) {
	q := r.Builder().
		Select(
			"s.certificate_number",
			"s.student_id",
			"s.school_id",
			"s.first_name",
			"s.last_name",
			"s.license_number",
			"s.date_processed",
			"c.course_name",
			"c.completion_date",
		).
		From(studentsTable + " s").
		LeftJoin(classesTable + " c ON c.class_id = s.class_id").
		Where(squirrel.NotEq{"s.certificate_number": nil}).
		Where(squirrel.Eq{"s.deleted_at": nil})

	if !scope.Global {
		q = q.Where(squirrel.Eq{"s.school_id": scope.SchoolID})
	}
	if filter.From != nil {
		q = q.Where(squirrel.GtOrEq{"s.date_processed": *filter.From})
	}
	if filter.To != nil {
		q = q.Where(squirrel.Lt{"s.date_processed": *filter.To})
	}

	sql, args, err := q.OrderBy("s.certificate_number").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var issued []certificate.IssuedCertificate
	if err := pgxscan.Select(ctx, r.db.GetQuerier(ctx), &issued, sql, args...); err != nil {
		return nil, fmt.Errorf("list issued: %w", err)
	}
	return issued, nil
}

// MaxCertificateNumber implements certificate.Repository.
// Soft-deleted students keep their numbers and are included.
func (r *StudentRepo) MaxCertificateNumber(ctx context.Context) (int64, error) {
	var highest int64
	err := r.db.GetQuerier(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(certificate_number::bigint), 0) FROM students`,
	).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("max certificate number: %w", err)
	}
	return highest, nil
}

func (r *StudentRepo) getOne(ctx context.Context, dst any, q squirrel.SelectBuilder) error {
	sql, args, err := q.Limit(1).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return pgxscan.Get(ctx, r.db.GetQuerier(ctx), dst, sql, args...)
}
