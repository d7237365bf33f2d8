package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the audit and archival counters onto the global OTel meter
// so they reach the OTLP collector alongside traces.
type OTelMetrics struct {
	commits         metric.Int64Counter
	recordsWritten  metric.Int64Counter
	commitDuration  metric.Float64Histogram
	archiveRuns     metric.Int64Counter
	archiveMoved    metric.Int64Counter
	archiveDuration metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return newOTelMetrics(otel.Meter("audittrail"))
}

func newOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	if m.commits, err = meter.Int64Counter("audittrail.commits",
		metric.WithDescription("Audited commits by result"),
		metric.WithUnit("{commit}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create commits counter: %w", err)
	}
	if m.recordsWritten, err = meter.Int64Counter("audittrail.audit.records",
		metric.WithDescription("Audit records written by action"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create records counter: %w", err)
	}
	if m.commitDuration, err = meter.Float64Histogram("audittrail.commit.duration",
		metric.WithDescription("Audited commit duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create commit duration histogram: %w", err)
	}
	if m.archiveRuns, err = meter.Int64Counter("audittrail.archive.runs",
		metric.WithDescription("Archival runs by result"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create archive runs counter: %w", err)
	}
	if m.archiveMoved, err = meter.Int64Counter("audittrail.archive.moved",
		metric.WithDescription("Audit records moved to the archive"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create archive moved counter: %w", err)
	}
	if m.archiveDuration, err = meter.Float64Histogram("audittrail.archive.duration",
		metric.WithDescription("Archival run duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create archive duration histogram: %w", err)
	}
	return m, nil
}

func (m *OTelMetrics) recordCommit(ctx context.Context, result string, duration time.Duration, recordsByAction map[string]int) {
	if m == nil {
		return
	}
	m.commits.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.commitDuration.Record(ctx, duration.Seconds())
	for action, n := range recordsByAction {
		m.recordsWritten.Add(ctx, int64(n), metric.WithAttributes(attribute.String("action", action)))
	}
}

func (m *OTelMetrics) recordArchiveRun(ctx context.Context, result string, moved int, duration time.Duration) {
	if m == nil {
		return
	}
	m.archiveRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.archiveMoved.Add(ctx, int64(moved))
	m.archiveDuration.Record(ctx, duration.Seconds())
}
