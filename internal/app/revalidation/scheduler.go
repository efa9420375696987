package revalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ahrav/hub-revalidator/pkg/common/logger"
)

// DefaultSchedule fires once a day at 02:00 UTC.
const DefaultSchedule = "0 2 * * *"

// Status reports whether the scheduler has a trigger registered.
type Status string

const (
	StatusStarted Status = "started"
	StatusStopped Status = "stopped"
)

// ErrShuttingDown is returned by TriggerNow once Shutdown has begun.
var ErrShuttingDown = errors.New("scheduler is shutting down")

// Scheduler fires a Runner on a cron schedule. Firings that land while a run
// is active are dropped by the Runner's own guard.
type Scheduler struct {
	baseCtx    context.Context
	runCtx     context.Context
	cancelRuns context.CancelFunc
	runner     Runner

	mu           sync.Mutex
	cron         *cron.Cron
	entryID      cron.EntryID
	schedule     string
	shuttingDown bool
	inflight     sync.WaitGroup

	logger *logger.Logger
}

// NewScheduler creates a stopped Scheduler. Runs inherit ctx's values but
// not its cancellation: cancelling ctx does not interrupt a run in flight.
// Use Shutdown to bound how long a run may continue.
func NewScheduler(ctx context.Context, runner Runner, logger *logger.Logger) *Scheduler {
	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	return &Scheduler{
		baseCtx:    ctx,
		runCtx:     runCtx,
		cancelRuns: cancelRuns,
		runner:     runner,
		logger:     logger.With("component", "scheduler"),
	}
}

// Start registers the recurring trigger. An empty schedule uses
// DefaultSchedule. Calling Start on a started scheduler replaces the trigger.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)
	id, err := c.AddFunc(schedule, s.fire)
	if err != nil {
		return fmt.Errorf("failed to register schedule %q: %w", schedule, err)
	}
	c.Start()

	s.cron, s.entryID, s.schedule = c, id, schedule
	s.logger.Info(s.baseCtx, "revalidation scheduler started",
		"schedule", schedule,
		"next_run", c.Entry(id).Next,
	)
	return nil
}

// Stop removes the trigger. A run already in flight is not interrupted; the
// returned context is done once it finishes.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	done := s.cron.Stop()
	s.cron = nil
	s.logger.Info(s.baseCtx, "revalidation scheduler stopped", "schedule", s.schedule)
	return done
}

// Shutdown stops the trigger and waits for in-flight runs, including those
// started by TriggerNow. If ctx ends first the runs are cancelled and
// Shutdown returns ctx's error once they have exited.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelRuns()
		return nil
	case <-ctx.Done():
		s.logger.Warn(s.runCtx, "grace period expired, cancelling in-flight revalidation run")
		s.cancelRuns()
		<-done
		return ctx.Err()
	}
}

// track registers a run with the in-flight group. It reports false once
// Shutdown has begun.
func (s *Scheduler) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Status reports whether a trigger is registered.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return StatusStopped
	}
	return StatusStarted
}

// NextRun returns the next firing time, or the zero time when stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// TriggerNow runs the job immediately through the same guard as scheduled
// firings. The run ends early if either ctx or Shutdown cancels it.
func (s *Scheduler) TriggerNow(ctx context.Context) (RunResult, error) {
	if !s.track() {
		return RunResult{}, ErrShuttingDown
	}
	defer s.inflight.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.runCtx, cancel)
	defer stop()

	return s.runner.Run(ctx)
}

func (s *Scheduler) fire() {
	if !s.track() {
		return
	}
	defer s.inflight.Done()

	result, err := s.runner.Run(s.runCtx)
	if err != nil {
		s.logger.Error(s.baseCtx, "scheduled revalidation run failed",
			"run_id", result.RunID,
			"error", err,
		)
		return
	}
	if result.AlreadyRunning {
		return
	}
	s.logger.Info(s.baseCtx, "scheduled revalidation run finished",
		"run_id", result.RunID,
		"duration", result.Duration,
		"records_checked", result.RecordsChecked,
		"revoked", result.Revoked,
	)
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct{ log *logger.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(context.Background(), msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(context.Background(), msg, append(keysAndValues, "error", err)...)
}
