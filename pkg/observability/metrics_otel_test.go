package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	return sums
}

func TestOTelMetrics_MirrorsPrometheus(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	otelMetrics, err := newOTelMetrics(provider.Meter("test"))
	require.NoError(t, err)

	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.MirrorToOTel(otelMetrics)

	metrics.RecordCommit("success", time.Millisecond, map[string]int{"Created": 2, "Deleted": 1})
	metrics.RecordArchiveRun("success", 4, time.Second)
	metrics.RecordArchiveRun("empty", 0, time.Second)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(1), sums["audittrail.commits"])
	assert.Equal(t, int64(3), sums["audittrail.audit.records"])
	assert.Equal(t, int64(2), sums["audittrail.archive.runs"])
	assert.Equal(t, int64(4), sums["audittrail.archive.moved"])
}

func TestNewOTelMetrics_GlobalMeter(t *testing.T) {
	m, err := NewOTelMetrics()
	require.NoError(t, err)

	// The default global provider is a no-op; recording must not panic.
	m.recordCommit(context.Background(), "success", time.Millisecond, map[string]int{"Created": 1})
	m.recordArchiveRun(context.Background(), "success", 1, time.Millisecond)

	var nilMetrics *OTelMetrics
	nilMetrics.recordCommit(context.Background(), "success", time.Millisecond, nil)
}
