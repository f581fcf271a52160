// Package main is the entry point for the odds certificate API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"odds/db/migrations"
	corecertnum "odds/internal/core/certnum"
	"odds/internal/core/idempotency"
	"odds/internal/core/tx"
	"odds/internal/config"
	"odds/internal/domain/auth"
	"odds/internal/domain/certificate"
	"odds/internal/infrastructure/certnum"
	v1 "odds/internal/infrastructure/http/v1"
	"odds/internal/infrastructure/storage/memory"
	"odds/internal/infrastructure/storage/postgres"
	"odds/internal/infrastructure/storage/postgres/certificate_repo"
	"odds/pkg/logger"
)

// storage bundles what the server needs from a backend.
type storage struct {
	txm         tx.SavepointManager
	seq         corecertnum.Sequence
	repo        certificate.Repository
	idem        idempotency.Store
	isRetryable func(error) bool
	pool        *pgxpool.Pool
	close       func()
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := logger.WithLogger(context.Background(), log)
	log.Infow("starting odds server", "env", cfg.AppEnv)

	var st *storage
	if cfg.UsesMemoryStore() {
		st = openMemory(cfg)
		log.Warn("running on the in-memory store; data is lost on exit")
	} else {
		st, err = openPostgres(ctx, cfg)
		if err != nil {
			log.Fatalw("failed to open database", "error", err)
		}
	}
	defer st.close()

	// --- Certificate numbers ---
	allocator := certnum.New(st.seq, st.txm, corecertnum.Options{
		MaxAttempts: cfg.CertMaxRetries,
		Backoff:     cfg.CertRetryBackoff,
		IsRetryable: st.isRetryable,
	})

	certCfg := certificate.DefaultConfig()
	certCfg.FeePerPaidStudent = cfg.CertFeePerStudent
	certService := certificate.NewService(st.repo, allocator, certCfg)

	last, err := allocator.Bootstrap(ctx, certService.HighestIssued)
	if err != nil {
		log.Fatalw("failed to bootstrap certificate counter", "error", err)
	}
	log.Infow("certificate counter ready", "last_issued", last)

	// --- JWT Service ---
	jwtConfig := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtConfig.Issuer = cfg.JWTIssuer
	jwtService := auth.NewJWTService(jwtConfig)

	var idem idempotency.Store
	if cfg.IdempotencyEnabled {
		idem = st.idem
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Logger:           log,
		JWTValidator:     jwtService,
		Certificates:     certService,
		Pool:             st.pool,
		Counter:          allocator,
		IdempotencyStore: idem,
		FrontendURL:      cfg.FrontendURL,
		Debug:            cfg.AppEnv == config.EnvDevelopment,
	})

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.AppPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	if st.pool != nil {
		postgres.LogPoolStats(ctx, st.pool)
	}

	log.Info("server stopped")
}

func openPostgres(ctx context.Context, cfg *config.Config) (*storage, error) {
	pool, err := postgres.NewPool(ctx, postgres.NewPoolConfig(cfg.DatabaseURL, "odds-api", cfg.DBMaxConns, cfg.DBMinConns))
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "database connection established")

	txm := postgres.NewTxManager(pool)
	if err := postgres.MigratePool(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &storage{
		txm:         txm,
		seq:         postgres.NewSequenceRepo(txm),
		repo:        certificate_repo.NewStudentRepo(txm),
		idem:        postgres.NewIdempotencyStore(txm, cfg.IdempotencyTTL),
		isRetryable: postgres.IsRetryable,
		pool:        pool.Unwrap(),
		close:       pool.Close,
	}, nil
}

func openMemory(cfg *config.Config) *storage {
	store := memory.NewStore()
	seedDemo(store)
	return &storage{
		txm:         store,
		seq:         store,
		repo:        store,
		idem:        memory.NewIdempotencyStore(cfg.IdempotencyTTL),
		isRetryable: memory.IsRetryable,
		close:       func() {},
	}
}

// seedDemo gives the in-memory server one class to work with.
func seedDemo(store *memory.Store) {
	classID := store.AddClass(certificate.Class{SchoolID: 1, CourseName: "Driver Education"})
	names := [][2]string{{"Maria", "Lopez"}, {"James", "Carter"}, {"Aiko", "Tanaka"}}
	for i, n := range names {
		store.AddStudent(certificate.Student{
			SchoolID:  1,
			ClassID:   &classID,
			FirstName: n[0],
			LastName:  n[1],
			IsPaid:    i != 1,
		})
	}
}
