package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
	"github.com/ahrav/hub-revalidator/internal/infra/storage"
)

var _ revalidation.RecordStore = (*recordStore)(nil)

// iterateBatchSize is the number of rows fetched per keyset page while
// iterating a prefix.
const iterateBatchSize = 500

// recordStore keeps message records in a single bytea keyed table. Byte
// ordering of bytea matches the lexicographic key order of the original
// key-value layout, so prefix scans are plain range scans on the primary key.
type recordStore struct {
	pool      *pgxpool.Pool
	batchSize int
	tracer    trace.Tracer
}

// NewRecordStore creates a PostgreSQL-backed record store.
func NewRecordStore(pool *pgxpool.Pool, tracer trace.Tracer) *recordStore {
	return &recordStore{pool: pool, batchSize: iterateBatchSize, tracer: tracer}
}

const (
	iterateRangeSQL = `SELECT key, value FROM records WHERE key >= $1 AND key < $2 ORDER BY key LIMIT $3`
	iterateOpenSQL  = `SELECT key, value FROM records WHERE key >= $1 ORDER BY key LIMIT $2`
	putRecordSQL    = `
INSERT INTO records (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	deleteRecordSQL = `DELETE FROM records WHERE key = $1`
)

type storedRecord struct {
	Key   []byte
	Value []byte
}

// IterateByPrefix visits every record under prefix in key order. Rows are
// fetched in keyset batches and each batch's connection is released before
// the visitor runs, so the visitor may write through the same pool. The walk
// runs under a context bounded by timeout; hitting it ends the iteration with
// revalidation.ErrIterationTimeout.
func (s *recordStore) IterateByPrefix(
	ctx context.Context,
	prefix []byte,
	fn revalidation.RecordVisitor,
	timeout time.Duration,
) error {
	dbAttrs := append(
		storage.DefaultDBAttributes,
		attribute.Int("prefix_length", len(prefix)),
		attribute.String("timeout", timeout.String()),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.iterate_by_prefix", dbAttrs, func(ctx context.Context) error {
		iterCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			iterCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		timedOut := func() bool { return ctx.Err() == nil && iterCtx.Err() != nil }

		upper := prefixUpperBound(prefix)
		lower := prefix
		visited, batches := 0, 0
		defer func() {
			trace.SpanFromContext(ctx).SetAttributes(
				attribute.Int("records_visited", visited),
				attribute.Int("batches", batches),
			)
		}()

		for {
			batch, err := s.fetchBatch(iterCtx, lower, upper)
			if err != nil {
				if timedOut() {
					return revalidation.ErrIterationTimeout
				}
				return err
			}
			batches++

			for _, rec := range batch {
				if timedOut() {
					return revalidation.ErrIterationTimeout
				}
				visited++
				if err := fn(rec.Key, rec.Value); err != nil {
					if errors.Is(err, revalidation.ErrStopIteration) {
						return nil
					}
					return err
				}
			}

			if len(batch) < s.batchSize {
				return nil
			}
			// The smallest key strictly after the last one visited.
			lower = append(bytes.Clone(batch[len(batch)-1].Key), 0x00)
		}
	})
}

// fetchBatch reads up to batchSize records in [lower, upper). A nil upper
// leaves the range open. Rows are fully collected and closed before return.
func (s *recordStore) fetchBatch(ctx context.Context, lower, upper []byte) ([]storedRecord, error) {
	sql, args := iterateOpenSQL, []any{lower, s.batchSize}
	if upper != nil {
		sql, args = iterateRangeSQL, []any{lower, upper, s.batchSize}
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	batch, err := pgx.CollectRows(rows, pgx.RowToStructByPos[storedRecord])
	if err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return batch, nil
}

// Put stores a record, replacing any existing value.
func (s *recordStore) Put(ctx context.Context, key, value []byte) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.put_record", storage.DefaultDBAttributes, func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx, putRecordSQL, key, value); err != nil {
			return fmt.Errorf("failed to put record: %w", err)
		}
		return nil
	})
}

// Delete removes a record. Missing keys are ignored.
func (s *recordStore) Delete(ctx context.Context, key []byte) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_record", storage.DefaultDBAttributes, func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx, deleteRecordSQL, key); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		return nil
	})
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists (prefix is all 0xff).
func prefixUpperBound(prefix []byte) []byte {
	upper := bytes.Clone(prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
