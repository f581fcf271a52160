package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"odds/internal/core/apperror"
	"odds/pkg/logger"
)

// RetryAfterSeconds is advertised on retryable failures.
const RetryAfterSeconds = 1

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
// It is the only place that renders error bodies.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := apperror.AsAppError(err)
		if !ok {
			logger.Error(c.Request.Context(), "unhandled error", "error", err)
			appErr = apperror.NewInternal(err)
		} else if appErr.Err != nil {
			logger.Error(c.Request.Context(), "request error",
				"code", appErr.Code,
				"cause", appErr.Err,
			)
		}

		details := appErr.Details
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			details = map[string]any{"request_id": c.GetString("request_id")}
			if appErr.Code == apperror.CodeAllocationFailed {
				details["attempts"] = appErr.Details["attempts"]
			}
		}

		body := gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
			"details": details,
		}

		if appErr.Retryable {
			c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
			releaseIdempotency(c)
		} else {
			failIdempotency(c, appErr.HTTPStatus, body)
		}

		c.JSON(appErr.HTTPStatus, body)
	}
}
