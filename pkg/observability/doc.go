// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry export, health checks and graceful shutdown for the audit
// trail services.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, nil)
//	logger.WithField("table", "users").Info("audit entry written")
//
// Request-scoped loggers carry the request id, acting user id and active
// trace ids:
//
//	observability.FromContext(ctx).Warn("slow commit")
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// When OTLP export is enabled, MirrorToOTel also sends commit and archive
// outcomes through the global meter.
//
// # Health
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
package observability
