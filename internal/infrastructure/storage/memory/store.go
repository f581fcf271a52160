// Package memory provides an in-process implementation of the certificate
// storage contracts. It backs unit tests and the server when APP_ENV=memory.
//
// Transactions are serialized by a store-wide lock that is held from BEGIN
// to COMMIT, mirroring the row lock PostgreSQL takes on the counter.
// Rollback restores a snapshot of the data taken when the transaction (or
// savepoint) started.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"odds/internal/core/apperror"
	"odds/internal/core/certnum"
	appctx "odds/internal/core/context"
	"odds/internal/core/tx"
	"odds/internal/domain/certificate"
)

// ErrConflict simulates a serialization failure. IsRetryable reports it.
var ErrConflict = errors.New("memory: serialization conflict")

// ErrDuplicateNumber simulates the unique constraint on certificate numbers.
var ErrDuplicateNumber = errors.New("memory: certificate number already stored")

// IsRetryable classifies ErrConflict as contention.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

type state struct {
	counters map[string]int64
	students map[int64]certificate.Student
	classes  map[int64]certificate.Class
}

func (s *state) clone() *state {
	return &state{
		counters: maps.Clone(s.counters),
		students: maps.Clone(s.students),
		classes:  maps.Clone(s.classes),
	}
}

// Store keeps counters, classes and students in memory.
type Store struct {
	txMu sync.Mutex

	mu     sync.RWMutex
	data   *state
	nextID int64

	reserveHook func(key string, n int64) error
	stampHook   func(studentID int64, num certnum.Number) error
}

// Compile-time interface checks.
var (
	_ tx.SavepointManager    = (*Store)(nil)
	_ certnum.Sequence       = (*Store)(nil)
	_ certificate.Repository = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		data: &state{
			counters: make(map[string]int64),
			students: make(map[int64]certificate.Student),
			classes:  make(map[int64]certificate.Class),
		},
	}
}

// OnReserve installs a hook that runs before every counter increment.
// A non-nil error aborts the increment.
func (s *Store) OnReserve(hook func(key string, n int64) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserveHook = hook
}

// OnStamp installs a hook that runs before every stamp.
// A non-nil error aborts the stamp.
func (s *Store) OnStamp(hook func(studentID int64, num certnum.Number) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stampHook = hook
}

// --- Transactions ---

type txKey struct{}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bool)
	return ok
}

// RunInTransaction executes fn with exclusive access to the store.
// Nested calls reuse the running transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	return s.atomically(context.WithValue(ctx, txKey{}, true), fn)
}

// RunInSavepoint executes fn so that an error undoes only fn's changes.
func (s *Store) RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	if !inTx(ctx) {
		return s.RunInTransaction(ctx, fn)
	}
	return s.atomically(ctx, fn)
}

func (s *Store) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// write runs fn under the data lock, inside a transaction.
func (s *Store) write(ctx context.Context, fn func() error) error {
	if !inTx(ctx) {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.write(ctx, fn)
		})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// --- certnum.Sequence ---

// Reserve implements certnum.Sequence.
func (s *Store) Reserve(ctx context.Context, key string, n int64) (int64, error) {
	var last int64
	err := s.write(ctx, func() error {
		if s.reserveHook != nil {
			if err := s.reserveHook(key, n); err != nil {
				return err
			}
		}
		s.data.counters[key] += n
		last = s.data.counters[key]
		return nil
	})
	return last, err
}

// Current implements certnum.Sequence.
func (s *Store) Current(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.counters[key], nil
}

// Seed implements certnum.Sequence.
func (s *Store) Seed(ctx context.Context, key string, floor int64) (int64, error) {
	var current int64
	err := s.write(ctx, func() error {
		current = max(s.data.counters[key], floor)
		s.data.counters[key] = current
		return nil
	})
	return current, err
}

// --- Fixtures ---

// AddClass stores a class and returns its id. A zero ID is assigned.
func (s *Store) AddClass(c certificate.Class) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		s.nextID++
		c.ID = s.nextID
	}
	s.data.classes[c.ID] = c
	return c.ID
}

// AddStudent stores a student and returns its id. A zero ID is assigned.
func (s *Store) AddStudent(st certificate.Student) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == 0 {
		s.nextID++
		st.ID = s.nextID
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
		st.UpdatedAt = st.CreatedAt
	}
	s.data.students[st.ID] = st
	return st.ID
}

// --- certificate.Repository ---

// GetStudent implements certificate.Repository.
func (s *Store) GetStudent(ctx context.Context, scope appctx.SchoolScope, studentID int64) (*certificate.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.data.students[studentID]
	if !ok || st.DeletedAt != nil || !scope.Allows(st.SchoolID) {
		return nil, apperror.NewNotFound("student", studentID)
	}
	return &st, nil
}

// GetClass implements certificate.Repository.
func (s *Store) GetClass(ctx context.Context, scope appctx.SchoolScope, classID int64) (*certificate.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data.classes[classID]
	if !ok || c.DeletedAt != nil || !scope.Allows(c.SchoolID) {
		return nil, apperror.NewNotFound("class", classID)
	}
	return &c, nil
}

// ListUnprocessed implements certificate.Repository.
func (s *Store) ListUnprocessed(ctx context.Context, classID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for _, st := range s.data.students {
		if st.ClassID != nil && *st.ClassID == classID && st.DeletedAt == nil && !st.IsProcessed() {
			ids = append(ids, st.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// FindByCertificate implements certificate.Repository.
func (s *Store) FindByCertificate(ctx context.Context, scope appctx.SchoolScope, num certnum.Number) (*certificate.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.data.students {
		if st.Certificate() == num && st.DeletedAt == nil && scope.Allows(st.SchoolID) {
			return &st, nil
		}
	}
	return nil, apperror.NewNotFound("certificate", num.String())
}

// Stamp implements certificate.Repository.
func (s *Store) Stamp(ctx context.Context, studentID int64, num certnum.Number, at time.Time) error {
	return s.write(ctx, func() error {
		if s.stampHook != nil {
			if err := s.stampHook(studentID, num); err != nil {
				return err
			}
		}

		st, ok := s.data.students[studentID]
		if !ok || st.DeletedAt != nil || st.IsProcessed() {
			return certificate.ErrAlreadyProcessed
		}
		for _, other := range s.data.students {
			if other.Certificate() == num {
				return ErrDuplicateNumber
			}
		}

		value := num.String()
		st.CertificateNumber = &value
		st.DateProcessed = &at
		st.UpdatedAt = at
		s.data.students[studentID] = st
		return nil
	})
}

// ClassCounts implements certificate.Repository.
func (s *Store) ClassCounts(ctx context.Context, classID int64) (certificate.ClassCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c certificate.ClassCounts
	for _, st := range s.data.students {
		if st.ClassID == nil || *st.ClassID != classID || st.DeletedAt != nil {
			continue
		}
		c.Students++
		if st.IsPaid {
			c.Paid++
		}
		if st.IsProcessed() {
			c.Processed++
		}
	}
	return c, nil
}

// ListIssued implements certificate.Repository.
func (s *Store) ListIssued(ctx context.Context, scope appctx.SchoolScope, filter certificate.IssuedFilter) ([]certificate.IssuedCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []certificate.IssuedCertificate
	for _, st := range s.data.students {
		if !st.IsProcessed() || st.DeletedAt != nil || !scope.Allows(st.SchoolID) {
			continue
		}
		if st.DateProcessed == nil || !filter.Contains(*st.DateProcessed) {
			continue
		}

		row := certificate.IssuedCertificate{
			CertificateNumber: *st.CertificateNumber,
			StudentID:         st.ID,
			SchoolID:          st.SchoolID,
			FirstName:         st.FirstName,
			LastName:          st.LastName,
			LicenseNumber:     st.LicenseNumber,
			DateProcessed:     *st.DateProcessed,
		}
		if st.ClassID != nil {
			if c, ok := s.data.classes[*st.ClassID]; ok {
				row.CourseName = &c.CourseName
				row.CompletionDate = c.CompletionDate
			}
		}
		out = append(out, row)
	}

	slices.SortFunc(out, func(a, b certificate.IssuedCertificate) int {
		return strings.Compare(a.CertificateNumber, b.CertificateNumber)
	})
	return out, nil
}

// MaxCertificateNumber implements certificate.Repository.
// Deleted students still hold their numbers and count.
func (s *Store) MaxCertificateNumber(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var highest int64
	for _, st := range s.data.students {
		highest = max(highest, st.Certificate().Value())
	}
	return highest, nil
}

// Students returns a copy of every stored student ordered by id.
func (s *Store) Students() []certificate.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Values(s.data.students))
	slices.SortFunc(out, func(a, b certificate.Student) int {
		return int(a.ID - b.ID)
	})
	return out
}
