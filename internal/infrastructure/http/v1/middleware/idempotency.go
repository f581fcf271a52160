package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"odds/internal/core/apperror"
	appctx "odds/internal/core/context"
	"odds/internal/core/idempotency"
	"odds/pkg/logger"
)

const HeaderIdempotencyKey = "X-Idempotency-Key"
const maxIdempotencyBodyBytes = 1 << 20 // 1 MiB

const (
	ctxIdempotencyKey   = "idempotency_key"
	ctxIdempotencyStore = "idempotency_store"
)

// Idempotency middleware replays the stored response of a POST repeated
// with the same X-Idempotency-Key. Requests without the header pass through.
func Idempotency(store idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		userID := appctx.GetUserID(c.Request.Context())

		limited := io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1)
		body, err := io.ReadAll(limited)
		if err != nil {
			_ = c.Error(apperror.NewValidation("could not read request body").WithCause(err))
			c.Abort()
			return
		}
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewValidation("request body too large for idempotency")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		hash := sha256.Sum256(body)
		requestHash := hex.EncodeToString(hash[:])

		// The concrete path is part of the operation: the same key must not
		// be replayed for another student or class.
		operation := c.Request.Method + " " + c.Request.URL.Path

		replay, err := store.AcquireKey(c.Request.Context(), key, userID, operation, requestHash)
		if err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				_ = c.Error(appErr)
			} else {
				_ = c.Error(apperror.NewInternal(err).WithDetail("component", "idempotency"))
			}
			c.Abort()
			return
		}

		if replay != nil {
			c.Header("Idempotent-Replayed", "true")
			c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			c.Abort()
			return
		}

		c.Set(ctxIdempotencyKey, key)
		c.Set(ctxIdempotencyStore, store)

		c.Next()
	}
}

func idempotencyFrom(c *gin.Context) (string, idempotency.Store, bool) {
	key, ok := c.Get(ctxIdempotencyKey)
	if !ok {
		return "", nil, false
	}
	store, ok := c.Get(ctxIdempotencyStore)
	if !ok {
		return "", nil, false
	}
	s, ok := store.(idempotency.Store)
	return key.(string), s, ok
}

// CompleteIdempotency stores a successful response for replay (best-effort).
func CompleteIdempotency(c *gin.Context, statusCode int, response any) {
	key, store, ok := idempotencyFrom(c)
	if !ok {
		return
	}
	if err := store.CompleteKey(c.Request.Context(), key, statusCode, "application/json", response); err != nil {
		logger.Warn(c.Request.Context(), "complete idempotency key failed", "key", key, "error", err)
	}
}

// failIdempotency stores an error response for replay (best-effort).
func failIdempotency(c *gin.Context, statusCode int, body any) {
	key, store, ok := idempotencyFrom(c)
	if !ok {
		return
	}
	if err := store.FailKey(c.Request.Context(), key, statusCode, "application/json", body); err != nil {
		logger.Warn(c.Request.Context(), "fail idempotency key failed", "key", key, "error", err)
	}
}

// releaseIdempotency forgets the key so a retry runs the request again.
func releaseIdempotency(c *gin.Context) {
	key, store, ok := idempotencyFrom(c)
	if !ok {
		return
	}
	if err := store.ReleaseKey(c.Request.Context(), key); err != nil {
		logger.Warn(c.Request.Context(), "release idempotency key failed", "key", key, "error", err)
	}
}
