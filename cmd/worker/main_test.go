package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	corecertnum "odds/internal/core/certnum"
	"odds/pkg/logger"
)

type fakeCleaner struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCleaner) CleanupExpired(context.Context) (int64, error) {
	f.calls.Add(1)
	return 3, f.err
}

type fakeCounter struct{ keys []string }

func (f *fakeCounter) Current(_ context.Context, key string) (int64, error) {
	f.keys = append(f.keys, key)
	return 42, nil
}

type zeroCounter struct{}

func (zeroCounter) Current(context.Context, string) (int64, error) { return 0, nil }

func TestWorker_RunOnce(t *testing.T) {
	keys := &fakeCleaner{}
	counter := &fakeCounter{}
	w := NewWorker(keys, counter, logger.Nop())

	w.RunOnce(context.Background())

	assert.EqualValues(t, 1, keys.calls.Load())
	assert.Equal(t, []string{corecertnum.DefaultSequenceKey}, counter.keys)
}

func TestWorker_RunOnceSurvivesCleanupError(t *testing.T) {
	keys := &fakeCleaner{err: errors.New("db down")}
	counter := &fakeCounter{}
	w := NewWorker(keys, counter, logger.Nop())

	w.RunOnce(context.Background())

	assert.Len(t, counter.keys, 1)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	keys := &fakeCleaner{}
	w := NewWorker(keys, zeroCounter{}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, time.Hour)
		close(done)
	}()

	assert.Eventually(t, func() bool { return keys.calls.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
