// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"odds/internal/domain/certificate"
)

// StudentResponse is a student as returned by certificate endpoints.
type StudentResponse struct {
	StudentID         int64      `json:"studentId"`
	SchoolID          int64      `json:"schoolId"`
	ClassID           *int64     `json:"classId,omitempty"`
	FirstName         string     `json:"firstName"`
	LastName          string     `json:"lastName"`
	Email             *string    `json:"email,omitempty"`
	LicenseNumber     *string    `json:"licenseNumber,omitempty"`
	IsPaid            bool       `json:"isPaid"`
	CertificateNumber *string    `json:"certificateNumber"`
	DateProcessed     *time.Time `json:"dateProcessed"`
}

// FromStudent creates StudentResponse from certificate.Student.
func FromStudent(s *certificate.Student) StudentResponse {
	return StudentResponse{
		StudentID:         s.ID,
		SchoolID:          s.SchoolID,
		ClassID:           s.ClassID,
		FirstName:         s.FirstName,
		LastName:          s.LastName,
		Email:             s.Email,
		LicenseNumber:     s.LicenseNumber,
		IsPaid:            s.IsPaid,
		CertificateNumber: s.CertificateNumber,
		DateProcessed:     s.DateProcessed,
	}
}

// ProcessStudentResponse for POST /students/:id/process-certificate.
type ProcessStudentResponse struct {
	Message           string          `json:"message"`
	CertificateNumber string          `json:"certificateNumber"`
	AlreadyProcessed  bool            `json:"alreadyProcessed"`
	Student           StudentResponse `json:"student"`
}

// FromStudentResult creates ProcessStudentResponse.
func FromStudentResult(r *certificate.StudentResult) ProcessStudentResponse {
	msg := "Certificate issued"
	if r.AlreadyIssued {
		msg = "Student already processed"
	}
	return ProcessStudentResponse{
		Message:           msg,
		CertificateNumber: r.Number.String(),
		AlreadyProcessed:  r.AlreadyIssued,
		Student:           FromStudent(r.Student),
	}
}

// ProcessedStudent is one successful assignment of a class run.
type ProcessedStudent struct {
	StudentID         int64  `json:"studentId"`
	CertificateNumber string `json:"certificateNumber"`
}

// FailedStudent is one student a class run could not process.
type FailedStudent struct {
	StudentID int64  `json:"studentId"`
	Reason    string `json:"reason"`
}

// ProcessClassResponse for POST /classes/:id/process-all.
type ProcessClassResponse struct {
	Message        string             `json:"message"`
	ClassID        int64              `json:"classId"`
	ProcessedCount int                `json:"processedCount"`
	Processed      []ProcessedStudent `json:"processed"`
	Failed         []FailedStudent    `json:"failed"`
}

// FromClassResult creates ProcessClassResponse.
// Failure reasons are fixed strings; causes stay in the server log.
func FromClassResult(r *certificate.ClassResult) ProcessClassResponse {
	resp := ProcessClassResponse{
		ClassID:        r.ClassID,
		ProcessedCount: r.ProcessedCount(),
		Processed:      make([]ProcessedStudent, 0, len(r.Processed)),
		Failed:         make([]FailedStudent, 0, len(r.Failed)),
	}
	for _, is := range r.Processed {
		resp.Processed = append(resp.Processed, ProcessedStudent{
			StudentID:         is.SubjectID,
			CertificateNumber: is.Number.String(),
		})
	}
	for _, f := range r.Failed {
		resp.Failed = append(resp.Failed, FailedStudent{
			StudentID: f.StudentID,
			Reason:    certificate.FailureReason(f.Err),
		})
	}
	resp.Message = processedMessage(resp.ProcessedCount, len(resp.Failed))
	return resp
}

func processedMessage(processed, failed int) string {
	msg := "Processed " + strconv.Itoa(processed) + " students"
	if failed > 0 {
		msg += ", " + strconv.Itoa(failed) + " failed"
	}
	return msg
}

// ClassSummaryResponse for GET /classes/:id/certificate-summary.
type ClassSummaryResponse struct {
	ClassID          int64           `json:"classId"`
	CourseName       string          `json:"courseName"`
	StudentCount     int             `json:"studentCount"`
	PaidCount        int             `json:"paidCount"`
	ProcessedCount   int             `json:"processedCount"`
	UnprocessedCount int             `json:"unprocessedCount"`
	FeePerStudent    decimal.Decimal `json:"feePerStudent"`
	ExpectedAmount   decimal.Decimal `json:"expectedAmount"`
}

// FromClassSummary creates ClassSummaryResponse.
func FromClassSummary(s *certificate.ClassSummary) ClassSummaryResponse {
	return ClassSummaryResponse{
		ClassID:          s.Class.ID,
		CourseName:       s.Class.CourseName,
		StudentCount:     s.Counts.Students,
		PaidCount:        s.Counts.Paid,
		ProcessedCount:   s.Counts.Processed,
		UnprocessedCount: s.Counts.Students - s.Counts.Processed,
		FeePerStudent:    s.FeePerPaid,
		ExpectedAmount:   s.ExpectedFee,
	}
}

// IssuedCertificateResponse is one row of the certificate export.
type IssuedCertificateResponse struct {
	CertificateNumber string     `json:"certificateNumber"`
	StudentID         int64      `json:"studentId"`
	SchoolID          int64      `json:"schoolId"`
	FirstName         string     `json:"firstName"`
	LastName          string     `json:"lastName"`
	LicenseNumber     *string    `json:"licenseNumber"`
	DateProcessed     time.Time  `json:"dateProcessed"`
	CourseName        *string    `json:"courseName"`
	CompletionDate    *time.Time `json:"completionDate"`
}

// CertificateExportResponse is the body of GET /certificates.
type CertificateExportResponse struct {
	Count        int                         `json:"count"`
	Certificates []IssuedCertificateResponse `json:"certificates"`
}

// FromIssuedCertificates creates CertificateExportResponse from export rows.
func FromIssuedCertificates(rows []certificate.IssuedCertificate) CertificateExportResponse {
	out := make([]IssuedCertificateResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, IssuedCertificateResponse{
			CertificateNumber: r.CertificateNumber,
			StudentID:         r.StudentID,
			SchoolID:          r.SchoolID,
			FirstName:         r.FirstName,
			LastName:          r.LastName,
			LicenseNumber:     r.LicenseNumber,
			DateProcessed:     r.DateProcessed,
			CourseName:        r.CourseName,
			CompletionDate:    r.CompletionDate,
		})
	}
	return CertificateExportResponse{Count: len(out), Certificates: out}
}
