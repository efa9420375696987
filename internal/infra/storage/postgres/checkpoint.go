// Package postgres implements the revalidation storage ports on PostgreSQL
// using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
	"github.com/ahrav/hub-revalidator/internal/infra/storage"
	"github.com/ahrav/hub-revalidator/pkg/common/logger"
)

var _ revalidation.CheckpointRepository = (*checkpointStore)(nil)

// checkpointStore provides a PostgreSQL implementation of the checkpoint
// repository. One row is kept per job type, enabling resumable sweeps across
// process restarts.
type checkpointStore struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
	tracer trace.Tracer
}

// NewCheckpointStore creates a new PostgreSQL-backed checkpoint storage using
// the provided database connection.
func NewCheckpointStore(pool *pgxpool.Pool, logger *logger.Logger, tracer trace.Tracer) *checkpointStore {
	return &checkpointStore{
		pool:   pool,
		logger: logger.With("component", "postgres_checkpoint_store"),
		tracer: tracer,
	}
}

const upsertCheckpointSQL = `
INSERT INTO job_checkpoints (job_type, data, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (job_type) DO UPDATE
SET data = EXCLUDED.data, updated_at = NOW()`

// Save persists a checkpoint to PostgreSQL. The checkpoint is serialized to
// JSON before storage to allow for schema evolution.
func (p *checkpointStore) Save(ctx context.Context, jobType revalidation.JobType, cp revalidation.Checkpoint) error {
	dbAttrs := append(
		storage.DefaultDBAttributes,
		attribute.String("job_type", jobType.String()),
		attribute.Int64("last_fid", int64(cp.LastFID)),
		attribute.Int64("last_job_timestamp", int64(cp.LastJobTimestamp)),
	)
	return storage.ExecuteAndTrace(ctx, p.tracer, "postgres.save_checkpoint", dbAttrs, func(ctx context.Context) error {
		data, err := revalidation.MarshalCheckpoint(cp)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}

		if _, err := p.pool.Exec(ctx, upsertCheckpointSQL, jobType.String(), data); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	})
}

const getCheckpointSQL = `SELECT data FROM job_checkpoints WHERE job_type = $1`

// Load retrieves the checkpoint for jobType. A missing row or a payload that
// no longer decodes yields the zero checkpoint so the sweep restarts from the
// beginning instead of failing.
func (p *checkpointStore) Load(ctx context.Context, jobType revalidation.JobType) (revalidation.Checkpoint, error) {
	var checkpoint revalidation.Checkpoint
	dbAttrs := append(
		storage.DefaultDBAttributes,
		attribute.String("job_type", jobType.String()),
	)
	err := storage.ExecuteAndTrace(ctx, p.tracer, "postgres.load_checkpoint", dbAttrs, func(ctx context.Context) error {
		var data []byte
		if err := p.pool.QueryRow(ctx, getCheckpointSQL, jobType.String()).Scan(&data); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}

		cp, err := revalidation.UnmarshalCheckpoint(data)
		if err != nil {
			trace.SpanFromContext(ctx).AddEvent("corrupt_checkpoint_ignored")
			p.logger.Warn(ctx, "Ignoring undecodable checkpoint", "job_type", jobType, "error", err)
			return nil
		}
		checkpoint = cp
		return nil
	})
	return checkpoint, err
}
