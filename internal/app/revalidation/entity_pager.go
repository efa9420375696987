package revalidation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/hub-revalidator/internal/domain/revalidation"
	"github.com/ahrav/hub-revalidator/pkg/common/logger"
)

// DefaultEntityPageSize is the number of FIDs requested per page.
const DefaultEntityPageSize = 100

// EntityPager walks an EntitySource page by page from the start of the
// keyspace. Pages are always requested from the beginning; resuming is done
// by the caller comparing FIDs against the checkpoint.
type EntityPager struct {
	source   domain.EntitySource
	pageSize int

	logger *logger.Logger
	tracer trace.Tracer
}

// NewEntityPager creates an EntityPager. A non-positive pageSize falls back
// to DefaultEntityPageSize.
func NewEntityPager(
	source domain.EntitySource,
	pageSize int,
	logger *logger.Logger,
	tracer trace.Tracer,
) *EntityPager {
	if pageSize <= 0 {
		pageSize = DefaultEntityPageSize
	}
	return &EntityPager{
		source:   source,
		pageSize: pageSize,
		logger:   logger.With("component", "entity_pager"),
		tracer:   tracer,
	}
}

// ForEach invokes fn for every FID in ascending order. It stops at the first
// error returned by fn or by the source. FIDs that do not fit the record key
// layout are logged and skipped.
func (p *EntityPager) ForEach(ctx context.Context, fn func(ctx context.Context, fid uint64) error) error {
	var (
		token []byte
		pages int
	)
	for {
		if err := ctx.Err(); err != nil {
			return domain.NewAbortError(domain.StageEntityPage, 0, err)
		}

		page, err := p.fetchPage(ctx, token, pages)
		if err != nil {
			return domain.NewAbortError(domain.StageEntityPage, 0, err)
		}
		pages++

		for _, fid := range page.FIDs {
			if !domain.FIDInKeyRange(fid) {
				p.logger.Warn(ctx, "skipping fid outside record key range",
					"fid", fid,
					"max_fid", domain.MaxFID,
				)
				continue
			}
			if err := fn(ctx, fid); err != nil {
				return err
			}
		}

		if page.IsLast() {
			return nil
		}
		token = page.NextPageToken
	}
}

func (p *EntityPager) fetchPage(ctx context.Context, token []byte, pageNum int) (domain.EntityPage, error) {
	ctx, span := p.tracer.Start(ctx, "entity_pager.fetch_page",
		trace.WithAttributes(
			attribute.Int("page_num", pageNum),
			attribute.Int("page_size", p.pageSize),
		))
	defer span.End()

	page, err := p.source.FIDsPage(ctx, token, p.pageSize)
	if err != nil {
		span.RecordError(err)
		return domain.EntityPage{}, fmt.Errorf("failed to fetch fid page %d: %w", pageNum, err)
	}
	span.SetAttributes(
		attribute.Int("fid_count", len(page.FIDs)),
		attribute.Bool("last_page", page.IsLast()),
	)
	return page, nil
}
