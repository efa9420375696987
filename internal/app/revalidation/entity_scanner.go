package revalidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/hub-revalidator/internal/domain/revalidation"
	"github.com/ahrav/hub-revalidator/pkg/common/logger"
)

// DefaultEntityTimeout bounds the time spent iterating the records of a
// single FID.
const DefaultEntityTimeout = 15 * time.Minute

// Scanner runs the per-FID record scans of a revalidation run.
type Scanner interface {
	// ScanChangedRecords re-validates every record of fid if its signer set
	// changed at or after lastJobTimestamp.
	ScanChangedRecords(ctx context.Context, fid uint64, lastJobTimestamp uint32) (domain.ScanStats, error)
	// ScanIdentityRecords re-validates the username proof and user data
	// records of fid regardless of signer activity.
	ScanIdentityRecords(ctx context.Context, fid uint64) (domain.ScanStats, error)
}

var _ Scanner = (*EntityScanner)(nil)

// EntityScanner walks the records of one FID, decodes them and hands them to
// a Validator. Record level failures are tallied and never stop the scan;
// failures of the signer event source or the record store abort the run.
type EntityScanner struct {
	signers   domain.SignerEventSource
	store     domain.RecordStore
	decoder   domain.RecordDecoder
	validator domain.Validator
	timeout   time.Duration

	logger *logger.Logger
	tracer trace.Tracer
}

// NewEntityScanner creates an EntityScanner. A non-positive timeout falls
// back to DefaultEntityTimeout.
func NewEntityScanner(
	signers domain.SignerEventSource,
	store domain.RecordStore,
	decoder domain.RecordDecoder,
	validator domain.Validator,
	timeout time.Duration,
	logger *logger.Logger,
	tracer trace.Tracer,
) *EntityScanner {
	if timeout <= 0 {
		timeout = DefaultEntityTimeout
	}
	return &EntityScanner{
		signers:   signers,
		store:     store,
		decoder:   decoder,
		validator: validator,
		timeout:   timeout,
		logger:    logger.With("component", "entity_scanner"),
		tracer:    tracer,
	}
}

// ScanChangedRecords implements Scanner.
func (s *EntityScanner) ScanChangedRecords(
	ctx context.Context,
	fid uint64,
	lastJobTimestamp uint32,
) (domain.ScanStats, error) {
	ctx, span := s.tracer.Start(ctx, "entity_scanner.scan_changed_records",
		trace.WithAttributes(
			attribute.Int64("fid", int64(fid)),
			attribute.Int64("last_job_timestamp", int64(lastJobTimestamp)),
		))
	defer span.End()

	events, err := domain.CollectSignerEvents(ctx, s.signers, fid)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch signer events")
		return domain.ScanStats{}, domain.NewAbortError(
			domain.StageSignerEvents, fid, fmt.Errorf("failed to fetch signer events: %w", err))
	}

	latest := domain.LatestSignerChange(events)
	span.SetAttributes(
		attribute.Int("signer_event_count", len(events)),
		attribute.Int64("latest_signer_change", int64(latest)),
	)
	if latest < lastJobTimestamp {
		span.AddEvent("signers_unchanged_since_last_run")
		return domain.ScanStats{}, nil
	}

	stats, err := s.scan(ctx, fid, [][]byte{domain.EntityPrefix(fid)}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "changed record scan failed")
		return stats, err
	}
	setStatsAttributes(span, stats)
	return stats, nil
}

// ScanIdentityRecords implements Scanner.
func (s *EntityScanner) ScanIdentityRecords(ctx context.Context, fid uint64) (domain.ScanStats, error) {
	ctx, span := s.tracer.Start(ctx, "entity_scanner.scan_identity_records",
		trace.WithAttributes(attribute.Int64("fid", int64(fid))))
	defer span.End()

	prefixes := make([][]byte, 0, len(domain.IdentityPostfixes))
	for _, p := range domain.IdentityPostfixes {
		prefixes = append(prefixes, domain.PostfixPrefix(fid, p))
	}

	stats, err := s.scan(ctx, fid, prefixes, domain.IdentityPostfixes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity record scan failed")
		return stats, err
	}
	setStatsAttributes(span, stats)
	return stats, nil
}

// scan iterates prefixes in order under a single time box. When allowed is
// non-empty only records with one of those postfixes are validated.
func (s *EntityScanner) scan(
	ctx context.Context,
	fid uint64,
	prefixes [][]byte,
	allowed []domain.Postfix,
) (domain.ScanStats, error) {
	var stats domain.ScanStats
	logger := s.logger.With("fid", fid)

	visit := func(key, value []byte) error {
		rk, err := domain.ParseRecordKey(key)
		if err != nil {
			stats.Skipped++
			return nil
		}
		if rk.FID != fid || !postfixAllowed(rk.Postfix, allowed) {
			return nil
		}

		msg, err := s.decoder.Decode(value)
		if err != nil {
			stats.Skipped++
			return nil
		}
		msg.Key = key

		outcome, err := s.validator.ValidateOrRevoke(ctx, msg)
		if err != nil {
			logger.Warn(ctx, "record validation failed",
				"hash", msg.HashHex(),
				"postfix", rk.Postfix.String(),
				"error", err,
			)
			stats.Record(domain.OutcomeError)
			return nil
		}
		stats.Record(outcome)
		return nil
	}

	deadline := time.Now().Add(s.timeout)
	for _, prefix := range prefixes {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			stats.TimedOut = true
			break
		}

		err := s.store.IterateByPrefix(ctx, prefix, visit, remaining)
		if errors.Is(err, domain.ErrIterationTimeout) {
			stats.TimedOut = true
			break
		}
		if err != nil {
			return stats, domain.NewAbortError(
				domain.StageStoreIterate, fid, fmt.Errorf("failed to iterate records: %w", err))
		}
	}

	if stats.TimedOut {
		logger.Warn(ctx, "fid scan hit time box, continuing with partial results",
			"timeout", s.timeout,
			"records_checked", stats.RecordsChecked,
		)
	}
	return stats, nil
}

func postfixAllowed(p domain.Postfix, allowed []domain.Postfix) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if p == a {
			return true
		}
	}
	return false
}

func setStatsAttributes(span trace.Span, stats domain.ScanStats) {
	span.SetAttributes(
		attribute.Int("records_checked", stats.RecordsChecked),
		attribute.Int("records_revoked", stats.Revoked),
		attribute.Int("records_errored", stats.Errored),
		attribute.Int("records_skipped", stats.Skipped),
		attribute.Bool("timed_out", stats.TimedOut),
	)
}
