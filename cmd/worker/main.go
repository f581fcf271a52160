// Package main is the entry point for the odds background worker.
// It prunes expired idempotency keys and reports the certificate counter.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	corecertnum "odds/internal/core/certnum"
	"odds/internal/config"
	"odds/internal/infrastructure/storage/postgres"
	"odds/pkg/logger"
)

func main() {
	interval := flag.Duration("interval", time.Hour, "cleanup interval")
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Parse()

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

	if cfg.UsesMemoryStore() {
		log.Fatal("worker needs DATABASE_URL")
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Info("starting odds worker")

	pool, err := postgres.NewPool(ctx, postgres.NewPoolConfig(cfg.DatabaseURL, "odds-worker", min(cfg.DBMaxConns, 2), 1))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txm := postgres.NewTxManager(pool)
	worker := NewWorker(
		postgres.NewIdempotencyStore(txm, cfg.IdempotencyTTL),
		postgres.NewSequenceRepo(txm),
		log,
	)

	if *once {
		worker.RunOnce(ctx)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx, *interval)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	postgres.LogPoolStats(context.Background(), pool.Unwrap())
	log.Info("worker stopped")
}

// KeyCleaner removes expired idempotency keys.
type KeyCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CounterReader reads a named counter.
type CounterReader interface {
	Current(ctx context.Context, key string) (int64, error)
}

// Worker runs periodic maintenance.
type Worker struct {
	keys    KeyCleaner
	counter CounterReader
	log     *logger.Logger
}

// NewWorker creates a worker.
func NewWorker(keys KeyCleaner, counter CounterReader, log *logger.Logger) *Worker {
	return &Worker{
		keys:    keys,
		counter: counter,
		log:     log.WithComponent("worker"),
	}
}

// Run performs a pass immediately and then every interval until ctx ends.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one maintenance pass. Failures are logged, not fatal.
func (w *Worker) RunOnce(ctx context.Context) {
	removed, err := w.keys.CleanupExpired(ctx)
	if err != nil {
		w.log.Errorw("idempotency cleanup failed", "error", err)
	} else if removed > 0 {
		w.log.Infow("expired idempotency keys removed", "count", removed)
	}

	last, err := w.counter.Current(ctx, corecertnum.DefaultSequenceKey)
	if err != nil {
		w.log.Warnw("read certificate counter failed", "error", err)
		return
	}
	w.log.Infow("certificate counter", "last_issued", last, "remaining", corecertnum.MaxValue-last)
}
