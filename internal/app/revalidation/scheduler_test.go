package revalidation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/hub-revalidator/pkg/common/logger"
)

type countingRunner struct {
	calls atomic.Int32
}

func (r *countingRunner) Run(context.Context) (RunResult, error) {
	r.calls.Add(1)
	return RunResult{RunID: "run"}, nil
}

// parkedRunner blocks every run until release is closed.
type parkedRunner struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	ctxErr  atomic.Value
}

func newParkedRunner() *parkedRunner {
	return &parkedRunner{started: make(chan struct{}), release: make(chan struct{})}
}

func (r *parkedRunner) Run(ctx context.Context) (RunResult, error) {
	r.once.Do(func() { close(r.started) })
	<-r.release
	r.ctxErr.Store(ctx.Err() != nil)
	return RunResult{}, nil
}

func TestScheduler_StartRejectsInvalidSchedule(t *testing.T) {
	s := NewScheduler(context.Background(), new(countingRunner), logger.Noop())

	err := s.Start("every tuesday-ish")
	require.Error(t, err)
	assert.Equal(t, StatusStopped, s.Status())
	assert.True(t, s.NextRun().IsZero())
}

func TestScheduler_DefaultScheduleRunsDailyAtTwoUTC(t *testing.T) {
	s := NewScheduler(context.Background(), new(countingRunner), logger.Noop())
	require.NoError(t, s.Start(""))
	defer s.Stop()

	assert.Equal(t, StatusStarted, s.Status())

	next := s.NextRun()
	require.False(t, next.IsZero())
	assert.Equal(t, time.UTC, next.Location())
	assert.Equal(t, 2, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))
	assert.LessOrEqual(t, time.Until(next), 24*time.Hour)
}

func TestScheduler_StatusTransitions(t *testing.T) {
	s := NewScheduler(context.Background(), new(countingRunner), logger.Noop())
	assert.Equal(t, StatusStopped, s.Status())

	require.NoError(t, s.Start("*/5 * * * *"))
	assert.Equal(t, StatusStarted, s.Status())

	// Restarting replaces the trigger.
	require.NoError(t, s.Start(DefaultSchedule))
	assert.Equal(t, StatusStarted, s.Status())
	assert.Equal(t, 2, s.NextRun().Hour())

	<-s.Stop().Done()
	assert.Equal(t, StatusStopped, s.Status())

	// Stopping twice is harmless.
	<-s.Stop().Done()
	assert.Equal(t, StatusStopped, s.Status())
}

func TestScheduler_FiresRunner(t *testing.T) {
	runner := new(countingRunner)
	s := NewScheduler(context.Background(), runner, logger.Noop())
	require.NoError(t, s.Start("@every 1s"))
	defer s.Stop()

	assert.Eventually(t, func() bool { return runner.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
}

func TestScheduler_TriggerNow(t *testing.T) {
	runner := new(countingRunner)
	s := NewScheduler(context.Background(), runner, logger.Noop())

	result, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run", result.RunID)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestScheduler_StopWaitsForInFlightRun(t *testing.T) {
	runner := newParkedRunner()
	s := NewScheduler(context.Background(), runner, logger.Noop())
	require.NoError(t, s.Start("@every 1s"))

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run never started")
	}

	done := s.Stop()
	assert.Equal(t, StatusStopped, s.Status())

	select {
	case <-done.Done():
		t.Fatal("stop completed while a run was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(runner.release)
	select {
	case <-done.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stop never completed")
	}
	assert.Equal(t, false, runner.ctxErr.Load())
}

// ctxRunner blocks until release is closed or its context ends.
type ctxRunner struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	ctxErr  atomic.Value
}

func newCtxRunner() *ctxRunner {
	return &ctxRunner{started: make(chan struct{}), release: make(chan struct{})}
}

func (r *ctxRunner) Run(ctx context.Context) (RunResult, error) {
	r.once.Do(func() { close(r.started) })
	select {
	case <-r.release:
		r.ctxErr.Store(false)
		return RunResult{RunID: "run"}, nil
	case <-ctx.Done():
		r.ctxErr.Store(true)
		return RunResult{}, ctx.Err()
	}
}

func TestScheduler_ParentCancelDoesNotInterruptRun(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	runner := newCtxRunner()
	s := NewScheduler(parent, runner, logger.Noop())
	require.NoError(t, s.Start("@every 1s"))

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run never started")
	}

	// A shutdown signal cancels the parent before the grace period starts.
	cancelParent()
	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, runner.ctxErr.Load(), "run ended when the parent context was cancelled")

	close(runner.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, false, runner.ctxErr.Load())
}

func TestScheduler_ShutdownCancelsRunAfterGrace(t *testing.T) {
	runner := newCtxRunner()
	s := NewScheduler(context.Background(), runner, logger.Noop())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.TriggerNow(context.Background())
		errCh <- err
	}()
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, true, runner.ctxErr.Load())
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, StatusStopped, s.Status())

	_, err = s.TriggerNow(context.Background())
	assert.ErrorIs(t, err, ErrShuttingDown)
}
