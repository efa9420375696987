package revalidation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// JobMetrics defines the metrics emitted by the job runner.
type JobMetrics interface {
	IncRunsStarted(ctx context.Context)
	IncRunsSkipped(ctx context.Context) // Trigger fired while a run was active.
	IncRunsFailed(ctx context.Context)
	IncEntitiesProcessed(ctx context.Context, n int)
	IncRevoked(ctx context.Context, n int)
	IncEntityTimeouts(ctx context.Context)
	ObserveRunDuration(ctx context.Context, d time.Duration)
	RecordRecordsChecked(ctx context.Context, n int)
}

type jobMetrics struct {
	runsStarted       metric.Int64Counter
	runsSkipped       metric.Int64Counter
	runsFailed        metric.Int64Counter
	entitiesProcessed metric.Int64Counter
	revoked           metric.Int64Counter
	entityTimeouts    metric.Int64Counter
	runDuration       metric.Float64Histogram
	recordsChecked    metric.Int64Gauge
}

const namespace = "revalidator"

var jobTypeAttr = attribute.String("job_type", "validate_or_revoke_messages")

// NewJobMetrics creates the otel instruments for the job runner.
func NewJobMetrics(mp metric.MeterProvider) (*jobMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(jobMetrics)
	var err error

	if m.runsStarted, err = meter.Int64Counter(
		"runs_started_total",
		metric.WithDescription("Total number of revalidation runs started"),
	); err != nil {
		return nil, err
	}

	if m.runsSkipped, err = meter.Int64Counter(
		"runs_skipped_total",
		metric.WithDescription("Total number of triggers ignored because a run was in progress"),
	); err != nil {
		return nil, err
	}

	if m.runsFailed, err = meter.Int64Counter(
		"runs_failed_total",
		metric.WithDescription("Total number of revalidation runs that aborted"),
	); err != nil {
		return nil, err
	}

	if m.entitiesProcessed, err = meter.Int64Counter(
		"entities_processed_total",
		metric.WithDescription("Total number of FIDs scanned"),
	); err != nil {
		return nil, err
	}

	if m.revoked, err = meter.Int64Counter(
		"records_revoked_total",
		metric.WithDescription("Total number of records revoked"),
	); err != nil {
		return nil, err
	}

	if m.entityTimeouts, err = meter.Int64Counter(
		"entity_timeouts_total",
		metric.WithDescription("Total number of FID scans cut short by the time box"),
	); err != nil {
		return nil, err
	}

	if m.runDuration, err = meter.Float64Histogram(
		"run_duration_seconds",
		metric.WithDescription("Duration of completed revalidation runs"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.recordsChecked, err = meter.Int64Gauge(
		"records_checked",
		metric.WithDescription("Records checked by the most recent completed run"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *jobMetrics) IncRunsStarted(ctx context.Context) {
	m.runsStarted.Add(ctx, 1, metric.WithAttributes(jobTypeAttr))
}

func (m *jobMetrics) IncRunsSkipped(ctx context.Context) {
	m.runsSkipped.Add(ctx, 1, metric.WithAttributes(jobTypeAttr))
}

func (m *jobMetrics) IncRunsFailed(ctx context.Context) {
	m.runsFailed.Add(ctx, 1, metric.WithAttributes(jobTypeAttr))
}

func (m *jobMetrics) IncEntitiesProcessed(ctx context.Context, n int) {
	m.entitiesProcessed.Add(ctx, int64(n), metric.WithAttributes(jobTypeAttr))
}

func (m *jobMetrics) IncRevoked(ctx context.Context, n int) {
	m.revoked.Add(ctx, int64(n), metric.WithAttributes(jobTypeAttr))
}

func (m *jobMetrics) IncEntityTimeouts(ctx context.Context) {
	m.entityTimeouts.Add(ctx, 1, metric.WithAttributes(jobTypeAttr))
}

func (m *jobMetrics) ObserveRunDuration(ctx context.Context, d time.Duration) {
	m.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(jobTypeAttr))
}

func (m *jobMetrics) RecordRecordsChecked(ctx context.Context, n int) {
	m.recordsChecked.Record(ctx, int64(n), metric.WithAttributes(jobTypeAttr))
}
