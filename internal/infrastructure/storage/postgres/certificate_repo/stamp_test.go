package certificate_repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odds/internal/core/apperror"
	"odds/internal/core/certnum"
	appctx "odds/internal/core/context"
	"odds/internal/domain/certificate"
	"odds/internal/infrastructure/storage/postgres"
)

var errQueryRefused = errors.New("query refused")

type mockRow struct {
	val int64
	err error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	if ptr, ok := dest[0].(*int64); ok {
		*ptr = m.val
	}
	return nil
}

// mockQuerier records the last statement and answers with canned results.
type mockQuerier struct {
	tag     pgconn.CommandTag
	execErr error
	row     *mockRow

	sql  string
	args []any
}

func (m *mockQuerier) GetQuerier(context.Context) postgres.Querier { return m }

func (m *mockQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.sql, m.args = sql, args
	return m.tag, m.execErr
}

func (m *mockQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.sql, m.args = sql, args
	return nil, errQueryRefused
}

func (m *mockQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	m.sql, m.args = sql, args
	return m.row
}

func TestStamp_WritesGuardedUpdate(t *testing.T) {
	db := &mockQuerier{tag: pgconn.NewCommandTag("UPDATE 1")}
	repo := NewStudentRepo(db)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	err := repo.Stamp(context.Background(), 7, certnum.MustFormat(42), at)
	require.NoError(t, err)

	assert.Contains(t, db.sql, "UPDATE students SET certificate_number = $1, date_processed = $2, updated_at = $3")
	assert.Contains(t, db.sql, "certificate_number IS NULL")
	assert.Contains(t, db.sql, "deleted_at IS NULL")
	assert.Contains(t, db.args, "0000000042")
	assert.Contains(t, db.args, int64(7))
}

func TestStamp_NoRowsIsAlreadyProcessed(t *testing.T) {
	db := &mockQuerier{tag: pgconn.NewCommandTag("UPDATE 0")}
	repo := NewStudentRepo(db)

	err := repo.Stamp(context.Background(), 7, certnum.MustFormat(42), time.Now())
	assert.ErrorIs(t, err, certificate.ErrAlreadyProcessed)
}

func TestStamp_DuplicateNumberIsConflict(t *testing.T) {
	db := &mockQuerier{execErr: &pgconn.PgError{
		Code:           postgres.CodeUniqueViolation,
		ConstraintName: certificateConstraint,
	}}
	repo := NewStudentRepo(db)

	err := repo.Stamp(context.Background(), 7, certnum.MustFormat(42), time.Now())
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.CodeConflict, appErr.Code)
	assert.Equal(t, "0000000042", appErr.Details["certificateNumber"])
}

func TestStamp_OtherErrorsKeepCause(t *testing.T) {
	cause := &pgconn.PgError{Code: postgres.CodeLockNotAvailable}
	db := &mockQuerier{execErr: cause}
	repo := NewStudentRepo(db)

	err := repo.Stamp(context.Background(), 7, certnum.MustFormat(42), time.Now())
	assert.ErrorIs(t, err, cause)
	assert.True(t, postgres.IsRetryable(err))
}

func TestMaxCertificateNumber(t *testing.T) {
	db := &mockQuerier{row: &mockRow{val: 317}}
	repo := NewStudentRepo(db)

	highest, err := repo.MaxCertificateNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(317), highest)
	assert.Contains(t, db.sql, "COALESCE(MAX(certificate_number::bigint), 0)")
	assert.NotContains(t, db.sql, "deleted_at", "soft-deleted students keep their numbers")

	db.row = &mockRow{err: errors.New("connection reset")}
	_, err = repo.MaxCertificateNumber(context.Background())
	assert.ErrorContains(t, err, "max certificate number")
}

func TestListIssued_BuildsScopedWindowQuery(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	tests := []struct {
		name     string
		scope    appctx.SchoolScope
		filter   certificate.IssuedFilter
		contains []string
		absent   []string
		args     []any
	}{
		{
			name:     "school with window",
			scope:    appctx.SchoolScope{SchoolID: 3},
			filter:   certificate.IssuedFilter{From: &from, To: &to},
			contains: []string{"s.school_id = $", "s.date_processed >= $", "s.date_processed < $"},
			args:     []any{int64(3), from, to},
		},
		{
			name:   "global without bounds",
			scope:  appctx.SchoolScope{Global: true},
			absent: []string{"school_id =", "date_processed >=", "date_processed <"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &mockQuerier{}
			repo := NewStudentRepo(db)

			_, err := repo.ListIssued(context.Background(), tt.scope, tt.filter)
			assert.ErrorIs(t, err, errQueryRefused)

			assert.Contains(t, db.sql, "LEFT JOIN classes c ON c.class_id = s.class_id")
			assert.Contains(t, db.sql, "s.certificate_number IS NOT NULL")
			assert.Contains(t, db.sql, "s.deleted_at IS NULL")
			assert.True(t, strings.HasSuffix(db.sql, "ORDER BY s.certificate_number"), db.sql)
			for _, want := range tt.contains {
				assert.Contains(t, db.sql, want)
			}
			for _, unwanted := range tt.absent {
				assert.NotContains(t, db.sql, unwanted)
			}
			assert.ElementsMatch(t, tt.args, db.args)
		})
	}
}
