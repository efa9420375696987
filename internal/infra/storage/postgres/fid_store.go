package postgres

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
	"github.com/ahrav/hub-revalidator/internal/infra/storage"
)

var _ revalidation.EntitySource = (*fidStore)(nil)

// fidStore enumerates registered FIDs with keyset pagination. The page token
// is the big-endian encoding of the last FID on the previous page.
type fidStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewFIDStore creates a PostgreSQL-backed entity source.
func NewFIDStore(pool *pgxpool.Pool, tracer trace.Tracer) *fidStore {
	return &fidStore{pool: pool, tracer: tracer}
}

const (
	listFIDsSQL    = `SELECT fid FROM fid_registrations WHERE fid > $1 ORDER BY fid LIMIT $2`
	registerFIDSQL = `INSERT INTO fid_registrations (fid) VALUES ($1) ON CONFLICT (fid) DO NOTHING`
)

// FIDsPage returns up to pageSize FIDs in ascending order. One extra row is
// read to decide whether another page follows.
func (s *fidStore) FIDsPage(ctx context.Context, pageToken []byte, pageSize int) (revalidation.EntityPage, error) {
	var page revalidation.EntityPage
	dbAttrs := append(
		storage.DefaultDBAttributes,
		attribute.Int("page_size", pageSize),
		attribute.Bool("has_token", len(pageToken) > 0),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_fids", dbAttrs, func(ctx context.Context) error {
		if pageSize <= 0 {
			return fmt.Errorf("page size must be positive, got %d", pageSize)
		}

		var after int64
		if len(pageToken) > 0 {
			if len(pageToken) != 8 {
				return fmt.Errorf("malformed page token of %d bytes", len(pageToken))
			}
			after = int64(binary.BigEndian.Uint64(pageToken))
		}

		rows, err := s.pool.Query(ctx, listFIDsSQL, after, pageSize+1)
		if err != nil {
			return fmt.Errorf("failed to list fids: %w", err)
		}
		defer rows.Close()

		fids := make([]uint64, 0, pageSize+1)
		for rows.Next() {
			var fid int64
			if err := rows.Scan(&fid); err != nil {
				return fmt.Errorf("failed to scan fid: %w", err)
			}
			fids = append(fids, uint64(fid))
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate fids: %w", err)
		}

		if len(fids) > pageSize {
			fids = fids[:pageSize]
			page.NextPageToken = binary.BigEndian.AppendUint64(nil, fids[pageSize-1])
		}
		page.FIDs = fids
		return nil
	})
	return page, err
}

// Register adds fid to the registry. Registering an existing FID is a no-op.
func (s *fidStore) Register(ctx context.Context, fid uint64) error {
	dbAttrs := append(storage.DefaultDBAttributes, attribute.Int64("fid", int64(fid)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.register_fid", dbAttrs, func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx, registerFIDSQL, int64(fid)); err != nil {
			return fmt.Errorf("failed to register fid %d: %w", fid, err)
		}
		return nil
	})
}
