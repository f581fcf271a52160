package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"odds/internal/infrastructure/storage/memory"
)

func newIdempotentEngine(calls *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(Idempotency(memory.NewIdempotencyStore(time.Hour)))
	r.POST("/run", func(c *gin.Context) {
		*calls++
		CompleteIdempotency(c, http.StatusOK, gin.H{"call": *calls})
		c.JSON(http.StatusOK, gin.H{"call": *calls})
	})
	return r
}

func TestIdempotency_UnreadableBody(t *testing.T) {
	var calls int
	r := newIdempotentEngine(&calls)

	req := httptest.NewRequest(http.MethodPost, "/run", iotest.ErrReader(errors.New("connection reset")))
	req.Header.Set(HeaderIdempotencyKey, "k-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, calls)

	// Nothing was stored under the key, so a clean retry runs.
	req = httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{}`))
	req.Header.Set(HeaderIdempotencyKey, "k-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, calls)
}

func TestIdempotency_ReplaysSameBody(t *testing.T) {
	var calls int
	r := newIdempotentEngine(&calls)

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"a":1}`))
		req.Header.Set(HeaderIdempotencyKey, "k-2")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"call":1}`, w.Body.String())
	}
	assert.Equal(t, 1, calls)
}

func TestIdempotency_BodyMismatch(t *testing.T) {
	var calls int
	r := newIdempotentEngine(&calls)

	for i, body := range []string{`{"a":1}`, `{"a":2}`} {
		req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(body))
		req.Header.Set(HeaderIdempotencyKey, "k-3")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if i == 0 {
			assert.Equal(t, http.StatusOK, w.Code)
		} else {
			assert.Equal(t, http.StatusConflict, w.Code)
		}
	}
	assert.Equal(t, 1, calls)
}
