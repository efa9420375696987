package revalidation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/hub-revalidator/internal/domain/revalidation"
	"github.com/ahrav/hub-revalidator/pkg/common/logger"
	"github.com/ahrav/hub-revalidator/pkg/common/timeutil"
)

// DefaultCheckpointEvery is how many processed FIDs pass between progress
// checkpoints.
const DefaultCheckpointEvery = 5000

// JobState is the lifecycle state of the job runner.
type JobState int32

const (
	JobStateIdle JobState = iota
	JobStateRunning
	// JobStateAborted means the last run stopped on an error. A new run may
	// start from this state.
	JobStateAborted
)

func (s JobState) String() string {
	switch s {
	case JobStateIdle:
		return "idle"
	case JobStateRunning:
		return "running"
	case JobStateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// RunResult summarizes one invocation of Runner.Run.
type RunResult struct {
	RunID             string        `json:"run_id,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	EntitiesProcessed int           `json:"entities_processed"`
	EntitiesSkipped   int           `json:"entities_skipped"`
	RecordsChecked    int           `json:"records_checked"`
	Revoked           int           `json:"revoked"`
	Errored           int           `json:"errored"`
	Skipped           int           `json:"records_skipped"`
	TimedOutEntities  int           `json:"timed_out_entities"`
	// AlreadyRunning is set when the trigger was ignored because another run
	// held the guard. No other field is populated in that case.
	AlreadyRunning bool `json:"already_running,omitempty"`
}

// Runner executes a revalidation run.
type Runner interface {
	Run(ctx context.Context) (RunResult, error)
}

// RunnerConfig tunes a JobRunner.
type RunnerConfig struct {
	PageSize        int
	CheckpointEvery int
}

var _ Runner = (*JobRunner)(nil)

// JobRunner performs one full, resumable pass over every FID. At most one run
// is active per JobRunner; overlapping triggers are dropped.
type JobRunner struct {
	cfg RunnerConfig

	checkpoints domain.CheckpointRepository
	pager       *EntityPager
	scanner     Scanner
	metrics     JobMetrics
	clock       timeutil.Provider

	state atomic.Int32

	logger *logger.Logger
	tracer trace.Tracer
}

// NewJobRunner creates a JobRunner. Zero config values fall back to
// DefaultEntityPageSize and DefaultCheckpointEvery.
func NewJobRunner(
	cfg RunnerConfig,
	checkpoints domain.CheckpointRepository,
	entities domain.EntitySource,
	scanner Scanner,
	metrics JobMetrics,
	clock timeutil.Provider,
	logger *logger.Logger,
	tracer trace.Tracer,
) *JobRunner {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if clock == nil {
		clock = timeutil.Default()
	}
	return &JobRunner{
		cfg:         cfg,
		checkpoints: checkpoints,
		pager:       NewEntityPager(entities, cfg.PageSize, logger, tracer),
		scanner:     scanner,
		metrics:     metrics,
		clock:       clock,
		logger:      logger.With("component", "job_runner"),
		tracer:      tracer,
	}
}

// State returns the current lifecycle state.
func (r *JobRunner) State() JobState { return JobState(r.state.Load()) }

// acquire moves the runner into JobStateRunning unless a run is already active.
func (r *JobRunner) acquire() bool {
	for {
		cur := r.state.Load()
		if JobState(cur) == JobStateRunning {
			return false
		}
		if r.state.CompareAndSwap(cur, int32(JobStateRunning)) {
			return true
		}
	}
}

// Run performs a full pass. If a run is already active it returns
// immediately with AlreadyRunning set and a nil error.
func (r *JobRunner) Run(ctx context.Context) (RunResult, error) {
	if !r.acquire() {
		r.logger.Info(ctx, "revalidation run already in progress, ignoring trigger")
		r.metrics.IncRunsSkipped(ctx)
		return RunResult{AlreadyRunning: true}, nil
	}

	result := RunResult{RunID: uuid.NewString(), StartedAt: r.clock.Now()}
	ctx = domain.WithRunID(ctx, result.RunID)

	err := r.runRecovered(ctx, &result)
	result.Duration = r.clock.Since(result.StartedAt)

	if err != nil {
		r.state.Store(int32(JobStateAborted))
		r.metrics.IncRunsFailed(ctx)
		r.logger.Error(ctx, "revalidation run aborted",
			"run_id", result.RunID,
			"entities_processed", result.EntitiesProcessed,
			"error", err,
		)
		return result, err
	}
	r.state.Store(int32(JobStateIdle))
	return result, nil
}

// runRecovered converts a panic inside the run into an abort so the guard is
// always released.
func (r *JobRunner) runRecovered(ctx context.Context, result *RunResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error(ctx, "revalidation run panicked",
				"run_id", result.RunID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			err = domain.NewAbortError(domain.StageRun, 0, fmt.Errorf("revalidation run panicked: %v", p))
		}
	}()
	return r.run(ctx, result)
}

func (r *JobRunner) run(ctx context.Context, result *RunResult) error {
	logger := r.logger.With("operation", "run", "run_id", result.RunID)
	ctx, span := r.tracer.Start(ctx, "job_runner.run",
		trace.WithAttributes(
			attribute.String("run_id", result.RunID),
			attribute.String("job_type", domain.JobTypeValidateOrRevoke.String()),
		))
	defer span.End()

	r.metrics.IncRunsStarted(ctx)

	runStart, err := domain.ToFarcasterTime(result.StartedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid run start time")
		return fmt.Errorf("invalid run start time: %w", err)
	}

	cp, err := r.checkpoints.Load(ctx, domain.JobTypeValidateOrRevoke)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load checkpoint")
		return domain.NewAbortError(domain.StageCheckpointLoad, 0, fmt.Errorf("failed to load checkpoint: %w", err))
	}
	span.SetAttributes(
		attribute.Int64("checkpoint.last_job_timestamp", int64(cp.LastJobTimestamp)),
		attribute.Int64("checkpoint.last_fid", int64(cp.LastFID)),
	)
	if cp.HasResumePoint() {
		logger.Info(ctx, "resuming revalidation run",
			"last_fid", cp.LastFID,
			"last_job_timestamp", cp.LastJobTimestamp,
		)
	} else {
		logger.Info(ctx, "starting revalidation run", "last_job_timestamp", cp.LastJobTimestamp)
	}

	err = r.pager.ForEach(ctx, func(ctx context.Context, fid uint64) error {
		if cp.ShouldSkip(fid) {
			result.EntitiesSkipped++
			return nil
		}

		changed, err := r.scanner.ScanChangedRecords(ctx, fid, cp.LastJobTimestamp)
		if err != nil {
			return err
		}
		identity, err := r.scanner.ScanIdentityRecords(ctx, fid)
		if err != nil {
			return err
		}

		var stats domain.ScanStats
		stats.Add(changed)
		stats.Add(identity)
		result.RecordsChecked += stats.RecordsChecked
		result.Revoked += stats.Revoked
		result.Errored += stats.Errored
		result.Skipped += stats.Skipped
		if stats.TimedOut {
			result.TimedOutEntities++
			r.metrics.IncEntityTimeouts(ctx)
		}
		result.EntitiesProcessed++

		if result.EntitiesProcessed%r.cfg.CheckpointEvery == 0 {
			if err := r.checkpoints.Save(ctx, domain.JobTypeValidateOrRevoke, cp.WithProgress(fid)); err != nil {
				return domain.NewAbortError(domain.StageCheckpointSave, fid,
					fmt.Errorf("failed to save progress checkpoint: %w", err))
			}
			span.AddEvent("progress_checkpoint_saved", trace.WithAttributes(attribute.Int64("fid", int64(fid))))
			logger.Info(ctx, "revalidation progress",
				"fid", fid,
				"entities_processed", result.EntitiesProcessed,
				"records_checked", result.RecordsChecked,
				"revoked", result.Revoked,
			)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "revalidation run aborted")
		return err
	}

	terminal := domain.NewTerminalCheckpoint(runStart)
	if err := r.checkpoints.Save(ctx, domain.JobTypeValidateOrRevoke, terminal); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save terminal checkpoint")
		return domain.NewAbortError(domain.StageCheckpointSave, 0, fmt.Errorf("failed to save terminal checkpoint: %w", err))
	}

	duration := r.clock.Since(result.StartedAt)
	r.metrics.ObserveRunDuration(ctx, duration)
	r.metrics.RecordRecordsChecked(ctx, result.RecordsChecked)
	r.metrics.IncEntitiesProcessed(ctx, result.EntitiesProcessed)
	r.metrics.IncRevoked(ctx, result.Revoked)

	span.SetAttributes(
		attribute.Int("entities_processed", result.EntitiesProcessed),
		attribute.Int("records_checked", result.RecordsChecked),
		attribute.Int("records_revoked", result.Revoked),
	)
	span.SetStatus(codes.Ok, "revalidation run completed")
	logger.Info(ctx, "revalidation run completed",
		"duration", duration,
		"entities_processed", result.EntitiesProcessed,
		"entities_skipped", result.EntitiesSkipped,
		"records_checked", result.RecordsChecked,
		"revoked", result.Revoked,
		"errored", result.Errored,
		"timed_out_entities", result.TimedOutEntities,
	)
	return nil
}
