package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odds/db/migrations"
)

func stubGooseUp(t *testing.T, fn func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error) {
	t.Helper()
	orig := gooseUp
	gooseUp = fn
	t.Cleanup(func() { gooseUp = orig })
}

func TestApplyMigrations_RunsGooseUp(t *testing.T) {
	var gotDir string
	var collected goose.Migrations
	stubGooseUp(t, func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		var err error
		collected, err = goose.CollectMigrations(dir, 0, goose.MaxVersion)
		return err
	})

	require.NoError(t, ApplyMigrations(context.Background(), nil, migrations.FS))

	assert.Equal(t, ".", gotDir)
	require.NotEmpty(t, collected)
	assert.Equal(t, int64(1), collected[0].Version)
}

func TestApplyMigrations_WrapsError(t *testing.T) {
	stubGooseUp(t, func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("dirty version")
	})

	err := ApplyMigrations(context.Background(), nil, migrations.FS)
	assert.ErrorContains(t, err, "migrating database")
	assert.ErrorContains(t, err, "dirty version")
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	for _, name := range names {
		_, err := goose.NumericComponent(name)
		assert.NoError(t, err, name)
	}

	raw, err := fs.ReadFile(migrations.FS, names[0])
	require.NoError(t, err)
	for _, table := range []string{"students", "classes", "sys_sequences", "sys_idempotency"} {
		assert.Contains(t, string(raw), "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, string(raw), "-- +goose Up")
	assert.Contains(t, string(raw), "-- +goose Down")
	assert.Contains(t, string(raw), "students_certificate_number_key")
}
