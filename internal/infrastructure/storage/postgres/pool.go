// Package postgres provides PostgreSQL infrastructure components.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"odds/pkg/logger"
)

const (
	defaultMaxConns int32 = 10
	defaultMinConns int32 = 2
)

// PoolConfig holds connection pool configuration.
type PoolConfig struct {
	DSN string

	// AppName is reported as application_name, so pg_stat_activity shows
	// which command holds the counter row lock.
	AppName string

	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewPoolConfig sizes a pool for one odds command.
// Non-positive sizes fall back to the defaults and MinConns never exceeds
// MaxConns.
func NewPoolConfig(dsn, appName string, maxConns, minConns int32) PoolConfig {
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	if minConns < 0 {
		minConns = defaultMinConns
	}
	minConns = min(minConns, maxConns)

	return PoolConfig{
		DSN:               dsn,
		AppName:           appName,
		MaxConns:          maxConns,
		MinConns:          minConns,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// Pool wraps pgxpool.Pool.
type Pool struct {
	*pgxpool.Pool
}

// Close closes all connections in the pool.
func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}

// Unwrap returns the underlying pgxpool.Pool.
func (p *Pool) Unwrap() *pgxpool.Pool {
	return p.Pool
}

// parsePoolConfig turns cfg into a pgxpool config without dialing.
func parsePoolConfig(cfg PoolConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod

	if cfg.AppName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.AppName
	}
	return poolConfig, nil
}

// NewPool connects and pings. The pool is closed again if the ping fails.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	poolConfig, err := parsePoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info(ctx, "database pool ready",
		"app_name", cfg.AppName,
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
	)
	return &Pool{Pool: pool}, nil
}

// PoolStats is a snapshot of pool usage for /health/info.
type PoolStats struct {
	TotalConns      int32
	AcquiredConns   int32
	IdleConns       int32
	MaxConns        int32
	AcquireCount    int64
	AcquireDuration time.Duration
}

// GetPoolStats extracts statistics from pool.
func GetPoolStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:      stat.TotalConns(),
		AcquiredConns:   stat.AcquiredConns(),
		IdleConns:       stat.IdleConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration(),
	}
}

// LogPoolStats logs pool statistics on shutdown.
func LogPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	stats := GetPoolStats(pool)
	logger.Info(ctx, "database pool stats",
		"total", stats.TotalConns,
		"acquired", stats.AcquiredConns,
		"idle", stats.IdleConns,
		"max", stats.MaxConns,
		"acquire_count", stats.AcquireCount,
		"acquire_duration", stats.AcquireDuration,
	)
}
