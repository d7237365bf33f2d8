package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Audit capture metrics
	CommitsTotal        *prometheus.CounterVec
	AuditRecordsWritten *prometheus.CounterVec
	CommitDuration      prometheus.Histogram

	// Archival metrics
	ArchiveRunsTotal  *prometheus.CounterVec
	ArchiveMovedTotal prometheus.Counter
	ArchiveDuration   prometheus.Histogram

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audittrail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Audit capture metrics
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_commits_total",
				Help: "Total number of audited commits",
			},
			[]string{"result"},
		),
		AuditRecordsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_audit_records_written_total",
				Help: "Total number of audit records written",
			},
			[]string{"action"},
		),
		CommitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "audittrail_commit_duration_seconds",
				Help:    "Audited commit duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		// Archival metrics
		ArchiveRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_archive_runs_total",
				Help: "Total number of archival runs",
			},
			[]string{"result"},
		),
		ArchiveMovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audittrail_archive_moved_total",
				Help: "Total number of audit records moved to the archive",
			},
		),
		ArchiveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "audittrail_archive_duration_seconds",
				Help:    "Archival run duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audittrail_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audittrail_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audittrail_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CommitsTotal,
		m.AuditRecordsWritten,
		m.CommitDuration,
		m.ArchiveRunsTotal,
		m.ArchiveMovedTotal,
		m.ArchiveDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
	)

	return m
}

// MirrorToOTel also reports commit and archive outcomes through otelMetrics
func (m *Metrics) MirrorToOTel(otelMetrics *OTelMetrics) {
	m.otel = otelMetrics
}

// RecordCommit records the outcome of one audited commit. Safe on a nil receiver.
func (m *Metrics) RecordCommit(result string, duration time.Duration, recordsByAction map[string]int) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(result).Inc()
	m.CommitDuration.Observe(duration.Seconds())
	for action, n := range recordsByAction {
		m.AuditRecordsWritten.WithLabelValues(action).Add(float64(n))
	}
	m.otel.recordCommit(context.Background(), result, duration, recordsByAction)
}

// RecordArchiveRun records the outcome of one archival run. Safe on a nil receiver.
func (m *Metrics) RecordArchiveRun(result string, moved int, duration time.Duration) {
	if m == nil {
		return
	}
	m.ArchiveRunsTotal.WithLabelValues(result).Inc()
	m.ArchiveMovedTotal.Add(float64(moved))
	m.ArchiveDuration.Observe(duration.Seconds())
	m.otel.recordArchiveRun(context.Background(), result, moved, duration)
}

// UpdateDBStats copies connection pool statistics into the database gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			path := routePath(r)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		})
	}
}

// routePath labels requests by route template so record ids do not explode cardinality
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// MetricsHandler returns the /metrics endpoint handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
