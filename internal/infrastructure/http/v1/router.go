// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"odds/internal/core/idempotency"
	"odds/internal/domain/auth"
	"odds/internal/domain/certificate"
	"odds/internal/infrastructure/http/v1/handlers"
	"odds/internal/infrastructure/http/v1/middleware"
	"odds/pkg/logger"
)

// Version is reported by /health/info.
const Version = "0.3.0"

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// Certificates serves the certificate endpoints
	Certificates *certificate.Service

	// Pool is used by health checks; nil on the in-memory store
	Pool *pgxpool.Pool

	// Counter reports the last issued number on /health/info
	Counter handlers.CounterReader

	// IdempotencyStore backs X-Idempotency-Key replay; nil disables it
	IdempotencyStore idempotency.Store

	// FrontendURL is the allowed CORS origin
	FrontendURL string

	// Debug runs gin in debug mode
	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.CORS(cfg.FrontendURL))

	healthHandler := handlers.NewHealthHandler(cfg.Pool, cfg.Counter, Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTValidator))
	if cfg.IdempotencyStore != nil {
		v1.Use(middleware.Idempotency(cfg.IdempotencyStore))
	}

	registerCertificateRoutes(v1, handlers.NewCertificateHandler(cfg.Certificates))

	return router
}

func registerCertificateRoutes(rg *gin.RouterGroup, h *handlers.CertificateHandler) {
	process := middleware.RequirePermission(auth.PermCertificatesProcess)
	read := middleware.RequirePermission(auth.PermCertificatesRead)

	rg.POST("/students/:id/process-certificate", process, h.ProcessStudent)
	rg.POST("/classes/:id/process-all", process, h.ProcessClass)
	rg.GET("/classes/:id/certificate-summary", read, h.ClassSummary)
	rg.GET("/certificates", read, h.ListIssued)
	rg.GET("/certificates/:number", read, h.GetByNumber)
}
