package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization", &pgconn.PgError{Code: CodeSerializationFailure}, true},
		{"deadlock", &pgconn.PgError{Code: CodeDeadlockDetected}, true},
		{"lock timeout wrapped", fmt.Errorf("reserve 1: %w", &pgconn.PgError{Code: CodeLockNotAvailable}), true},
		{"unique", &pgconn.PgError{Code: CodeUniqueViolation}, false},
		{"statement timeout", &pgconn.PgError{Code: CodeQueryCanceled}, false},
		{"plain", errors.New("connection reset"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("stamp: %w", &pgconn.PgError{
		Code:           CodeUniqueViolation,
		ConstraintName: "students_certificate_number_key",
	})

	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "students_certificate_number_key"))
	assert.False(t, IsUniqueViolation(err, "students_email_key"))
	assert.False(t, IsUniqueViolation(errors.New("x"), ""))
}
