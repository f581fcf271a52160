// Package certificate provides certificate issuance for students who
// completed a class: single-student processing, whole-class processing,
// lookup by number and the per-class fee summary.
package certificate

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"odds/internal/core/certnum"
)

// ErrAlreadyProcessed is returned by Repository.Stamp when the student
// already carries a certificate number (or was deleted) by the time the
// stamp runs.
var ErrAlreadyProcessed = errors.New("student already processed")

// Student is the subject record that receives a certificate number.
type Student struct {
	ID                int64      `db:"student_id" json:"studentId"`
	SchoolID          int64      `db:"school_id" json:"schoolId"`
	ClassID           *int64     `db:"class_id" json:"classId,omitempty"`
	FirstName         string     `db:"first_name" json:"firstName"`
	LastName          string     `db:"last_name" json:"lastName"`
	Email             *string    `db:"email" json:"email,omitempty"`
	LicenseNumber     *string    `db:"license_number" json:"licenseNumber,omitempty"`
	IsPaid            bool       `db:"is_paid" json:"isPaid"`
	CertificateNumber *string    `db:"certificate_number" json:"certificateNumber,omitempty"`
	DateProcessed     *time.Time `db:"date_processed" json:"dateProcessed,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt         *time.Time `db:"deleted_at" json:"-"`
}

// IsProcessed reports whether a certificate number was already issued.
func (s *Student) IsProcessed() bool {
	return s.CertificateNumber != nil && *s.CertificateNumber != ""
}

// Certificate returns the issued number, or "" when unprocessed.
func (s *Student) Certificate() certnum.Number {
	if !s.IsProcessed() {
		return ""
	}
	return certnum.Number(*s.CertificateNumber)
}

// FullName returns "First Last".
func (s *Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

// Class is a scheduled course session whose students get certificates.
type Class struct {
	ID             int64      `db:"class_id" json:"classId"`
	SchoolID       int64      `db:"school_id" json:"schoolId"`
	CourseName     string     `db:"course_name" json:"courseName"`
	CompletionDate *time.Time `db:"completion_date" json:"completionDate,omitempty"`
	DeletedAt      *time.Time `db:"deleted_at" json:"-"`
}

// ClassCounts aggregates the non-deleted students of a class.
type ClassCounts struct {
	Students  int `db:"students"`
	Paid      int `db:"paid"`
	Processed int `db:"processed"`
}

// StudentResult is the outcome of ProcessStudent.
type StudentResult struct {
	Student *Student
	Number  certnum.Number
	// AlreadyIssued is set when the student had a number before this call.
	AlreadyIssued bool
}

// StudentFailure describes one student the batch could not stamp.
type StudentFailure struct {
	StudentID int64
	Err       error
}

// ClassResult is the outcome of ProcessClass.
type ClassResult struct {
	ClassID   int64
	Processed []certnum.Issued
	Failed    []StudentFailure
}

// ProcessedCount returns how many students received a number in this call.
func (r *ClassResult) ProcessedCount() int {
	return len(r.Processed)
}

// ClassSummary reports certificate progress and the fee owed for a class.
type ClassSummary struct {
	Class       *Class
	Counts      ClassCounts
	FeePerPaid  decimal.Decimal
	ExpectedFee decimal.Decimal
}

// IssuedFilter bounds the certificate export by processing time.
// A nil bound is open; From is inclusive and To exclusive.
type IssuedFilter struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t falls inside the filter.
func (f IssuedFilter) Contains(t time.Time) bool {
	if f.From != nil && t.Before(*f.From) {
		return false
	}
	if f.To != nil && !t.Before(*f.To) {
		return false
	}
	return true
}

// IssuedCertificate is one row of the certificate export: the student who
// holds the number and the class they completed.
type IssuedCertificate struct {
	CertificateNumber string     `db:"certificate_number"`
	StudentID         int64      `db:"student_id"`
	SchoolID          int64      `db:"school_id"`
	FirstName         string     `db:"first_name"`
	LastName          string     `db:"last_name"`
	LicenseNumber     *string    `db:"license_number"`
	DateProcessed     time.Time  `db:"date_processed"`
	CourseName        *string    `db:"course_name"`
	CompletionDate    *time.Time `db:"completion_date"`
}
