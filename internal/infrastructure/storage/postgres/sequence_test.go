package postgres

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odds/internal/core/certnum"
)

type mockRow struct {
	val int64
	err error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	if len(dest) > 0 {
		if ptr, ok := dest[0].(*int64); ok {
			*ptr = m.val
		}
	}
	return nil
}

// mockCounters plays sys_sequences: the UPSERT adds, GREATEST raises,
// SELECT reads.
type mockCounters struct {
	mu      sync.Mutex
	values  map[string]int64
	queries []string
	err     error
}

func newMockCounters() *mockCounters {
	return &mockCounters{values: make(map[string]int64)}
}

func (m *mockCounters) GetQuerier(context.Context) Querier { return m }

func (m *mockCounters) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockCounters) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (m *mockCounters) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, sql)

	if m.err != nil {
		return &mockRow{err: m.err}
	}

	key := args[0].(string)
	current, exists := m.values[key]
	switch {
	case strings.HasPrefix(strings.TrimSpace(sql), "SELECT"):
		if !exists {
			return &mockRow{err: pgx.ErrNoRows}
		}
	case strings.Contains(sql, "GREATEST"):
		current = max(current, args[1].(int64), 0)
	default:
		current += args[1].(int64)
	}
	m.values[key] = current
	return &mockRow{val: current}
}

func TestSequenceRepo_Reserve(t *testing.T) {
	db := newMockCounters()
	repo := NewSequenceRepo(db)
	ctx := context.Background()

	last, err := repo.Reserve(ctx, certnum.DefaultSequenceKey, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)

	last, err = repo.Reserve(ctx, certnum.DefaultSequenceKey, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last, "a zero reserve only locks")

	last, err = repo.Reserve(ctx, certnum.DefaultSequenceKey, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)

	sql := db.queries[0]
	assert.Contains(t, sql, "ON CONFLICT (key) DO UPDATE")
	assert.Contains(t, sql, "sys_sequences.current_val + EXCLUDED.current_val")
	assert.Contains(t, sql, "RETURNING current_val")
}

func TestSequenceRepo_ReserveRejectsNegative(t *testing.T) {
	db := newMockCounters()
	repo := NewSequenceRepo(db)

	_, err := repo.Reserve(context.Background(), "k", -1)
	assert.ErrorIs(t, err, certnum.ErrInvalidRequest)
	assert.Empty(t, db.queries, "no statement for a negative increment")
}

func TestSequenceRepo_SeedNeverLowers(t *testing.T) {
	db := newMockCounters()
	repo := NewSequenceRepo(db)
	ctx := context.Background()

	current, err := repo.Seed(ctx, "k", 317)
	require.NoError(t, err)
	assert.Equal(t, int64(317), current)

	current, err = repo.Seed(ctx, "k", 12)
	require.NoError(t, err)
	assert.Equal(t, int64(317), current)

	assert.Contains(t, db.queries[0], "GREATEST(sys_sequences.current_val, EXCLUDED.current_val)")
}

func TestSequenceRepo_Current(t *testing.T) {
	db := newMockCounters()
	repo := NewSequenceRepo(db)
	ctx := context.Background()

	current, err := repo.Current(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, current, "a missing row reads as zero")

	_, err = repo.Reserve(ctx, "k", 4)
	require.NoError(t, err)
	current, err = repo.Current(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(4), current)
}

func TestSequenceRepo_ReserveKeepsSQLState(t *testing.T) {
	db := newMockCounters()
	db.err = &pgconn.PgError{Code: CodeLockNotAvailable}
	repo := NewSequenceRepo(db)

	_, err := repo.Reserve(context.Background(), "k", 1)
	require.Error(t, err)
	assert.True(t, IsRetryable(err), "lock timeouts must stay retryable after wrapping")
}
