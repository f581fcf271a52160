package handlers

import (
	"github.com/gin-gonic/gin"

	"odds/internal/domain/certificate"
	"odds/internal/infrastructure/http/v1/dto"
)

// CertificateHandler handles certificate issuance and lookup.
type CertificateHandler struct {
	*BaseHandler
	service *certificate.Service
}

// NewCertificateHandler creates a new certificate handler.
func NewCertificateHandler(service *certificate.Service) *CertificateHandler {
	return &CertificateHandler{
		BaseHandler: NewBaseHandler(),
		service:     service,
	}
}

// ProcessStudent issues a certificate number to one student.
// POST /students/:id/process-certificate
func (h *CertificateHandler) ProcessStudent(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	result, err := h.service.ProcessStudent(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.OK(c, dto.FromStudentResult(result))
}

// ProcessClass issues certificate numbers to every unprocessed student of a class.
// POST /classes/:id/process-all
func (h *CertificateHandler) ProcessClass(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	result, err := h.service.ProcessClass(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.OK(c, dto.FromClassResult(result))
}

// ClassSummary returns certificate progress and fee for a class.
// GET /classes/:id/certificate-summary
func (h *CertificateHandler) ClassSummary(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	summary, err := h.service.ClassSummary(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.OK(c, dto.FromClassSummary(summary))
}

// GetByNumber looks up the student holding a certificate number.
// GET /certificates/:number
func (h *CertificateHandler) GetByNumber(c *gin.Context) {
	student, err := h.service.GetByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.OK(c, dto.FromStudent(student))
}

// ListIssued exports the certificates issued between two dates.
// Both dates are optional and inclusive; endDate covers its whole day.
// GET /certificates?startDate=YYYY-MM-DD&endDate=YYYY-MM-DD
func (h *CertificateHandler) ListIssued(c *gin.Context) {
	from, ok := h.ParseDateQuery(c, "startDate")
	if !ok {
		return
	}
	end, ok := h.ParseDateQuery(c, "endDate")
	if !ok {
		return
	}

	filter := certificate.IssuedFilter{From: from}
	if end != nil {
		to := end.AddDate(0, 0, 1)
		filter.To = &to
	}

	rows, err := h.service.ListIssued(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.OK(c, dto.FromIssuedCertificates(rows))
}
