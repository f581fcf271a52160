package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"odds/internal/core/apperror"
	"odds/internal/infrastructure/http/v1/middleware"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// HandleError registers error on Gin context and aborts request.
// Actual JSON response is produced by middleware.ErrorHandler.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ParseID reads a positive integer path parameter.
func (h *BaseHandler) ParseID(c *gin.Context, param string) (int64, bool) {
	raw := c.Param(param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		h.HandleError(c, apperror.NewInvalidInput(param, "must be a positive integer").WithDetail("value", raw))
		return 0, false
	}
	return id, true
}

// DateLayout is the format of date query parameters.
const DateLayout = "2006-01-02"

// ParseDateQuery reads an optional YYYY-MM-DD query parameter as a UTC midnight.
func (h *BaseHandler) ParseDateQuery(c *gin.Context, param string) (*time.Time, bool) {
	raw := c.Query(param)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		h.HandleError(c, apperror.NewInvalidInput(param, "must be a date in YYYY-MM-DD form").WithDetail("value", raw))
		return nil, false
	}
	return &t, true
}

// OK sends 200 response with data and records it for idempotent replay.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	middleware.CompleteIdempotency(c, http.StatusOK, data)
	c.JSON(http.StatusOK, data)
}
