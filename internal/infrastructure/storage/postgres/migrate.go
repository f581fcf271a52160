package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"odds/pkg/logger"
)

// gooseUp is swapped in tests.
var gooseUp = goose.UpContext

// ApplyMigrations brings the schema up to the newest goose migration in
// fsys. Applied versions are tracked in goose_db_version, so files that
// already ran are skipped.
func ApplyMigrations(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{log: logger.FromContext(ctx).WithComponent("goose")})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	logger.Info(ctx, "database schema up to date")
	return nil
}

// gooseLogger routes goose output into the service log.
type gooseLogger struct {
	log *logger.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Infof(strings.TrimSpace(format), v...)
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Fatalf(strings.TrimSpace(format), v...)
}

// MigratePool runs ApplyMigrations over a database/sql handle borrowed
// from pool. Closing the handle leaves the pool open.
func MigratePool(ctx context.Context, pool *Pool, fsys fs.FS) error {
	db := stdlib.OpenDBFromPool(pool.Unwrap())
	defer func() { _ = db.Close() }()
	return ApplyMigrations(ctx, db, fsys)
}
