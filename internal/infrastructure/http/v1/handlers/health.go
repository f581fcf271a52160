// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"odds/internal/infrastructure/storage/postgres"
)

// CounterReader exposes the current certificate counter value.
type CounterReader interface {
	Current(ctx context.Context) (int64, error)
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	pool    *pgxpool.Pool // nil when running on the in-memory store
	counter CounterReader
	version string
}

// NewHealthHandler creates a new health handler. pool may be nil.
func NewHealthHandler(pool *pgxpool.Pool, counter CounterReader, version string) *HealthHandler {
	return &HealthHandler{pool: pool, counter: counter, version: version}
}

// Live reports that the process is up.
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready reports whether the service can accept traffic.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.pool == nil {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"checks": map[string]string{"storage": "memory"},
		})
		return
	}

	if err := h.pool.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "error",
			"checks": map[string]string{
				"database": "unhealthy: " + err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"checks": map[string]string{
			"database": "healthy",
		},
	})
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	info := gin.H{
		"app":     "odds",
		"version": h.version,
		"storage": "memory",
	}

	if h.pool != nil {
		stats := postgres.GetPoolStats(h.pool)
		info["storage"] = "postgres"
		info["database"] = map[string]any{
			"total_conns":    stats.TotalConns,
			"acquired_conns": stats.AcquiredConns,
			"idle_conns":     stats.IdleConns,
			"max_conns":      stats.MaxConns,
		}
	}

	if h.counter != nil {
		if last, err := h.counter.Current(c.Request.Context()); err == nil {
			info["last_certificate_number"] = last
		} else {
			info["last_certificate_number"] = nil
		}
	}

	c.JSON(http.StatusOK, info)
}
