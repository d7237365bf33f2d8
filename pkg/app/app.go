package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/audittrail/pkg/archival"
	"github.com/platinummonkey/audittrail/pkg/audit"
	"github.com/platinummonkey/audittrail/pkg/config"
	"github.com/platinummonkey/audittrail/pkg/httputil"
	"github.com/platinummonkey/audittrail/pkg/identity"
	"github.com/platinummonkey/audittrail/pkg/lock"
	"github.com/platinummonkey/audittrail/pkg/observability"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

// App holds the wired components shared by the server and the archiver
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Conn     *storage.ConnectionManager
	Redis    *redis.Client
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	OTel     *observability.OTelProviders

	Snapshotter *audit.Snapshotter
	// Coordinator commits change sets for services embedding the audit trail
	Coordinator *audit.Coordinator
	Store       *audit.CachedStore
	Archiver    *archival.Archiver

	version string
}

// New connects to every backing service named by cfg and builds the audit and
// archival components. The caller owns the result and must Close it.
func New(ctx context.Context, cfg *config.Config, version string) (_ *App, err error) {
	logger := observability.NewLogger(cfg.Observability.LogLevel, nil).
		WithField("service", cfg.Observability.OTelServiceName)

	a := &App{Config: cfg, Logger: logger, version: version}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.Background()); cerr != nil {
				logger.WithError(cerr).Warn("Cleanup after failed startup")
			}
		}
	}()

	a.OTel, err = observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}

	var warnings []error
	a.Conn, warnings, err = storage.NewConnectionManager(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.WithError(w).Warn("Read replica unavailable, reads fall back to the primary")
	}

	if err := a.ensureSchema(ctx); err != nil {
		return nil, err
	}

	if cfg.Observability.MetricsEnabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.Metrics = observability.NewMetrics(a.Registry)
		if a.OTel != nil {
			otelMetrics, err := observability.NewOTelMetrics()
			if err != nil {
				return nil, err
			}
			a.Metrics.MirrorToOTel(otelMetrics)
		}
	}

	if cfg.Archive.Lock == config.LockRedis {
		a.Redis, err = lock.NewRedisClient(ctx, cfg.Archive.RedisURL)
		if err != nil {
			return nil, err
		}
	}

	dialect := a.Conn.Dialect()
	a.Snapshotter = audit.NewSnapshotter(cfg.Audit.MonitoredTables, audit.ContextActor)
	a.Coordinator = audit.NewCoordinator(
		storage.NewUnitOfWork(a.Conn.Primary(), dialect),
		a.Snapshotter,
		audit.WithLogger(logger),
		audit.WithMetrics(a.Metrics),
	)

	reader, err := audit.NewDBStore(a.Conn.Replica(), dialect)
	if err != nil {
		return nil, err
	}
	a.Store = audit.NewCachedStore(reader, audit.DefaultCacheSize, audit.DefaultCacheTTL)

	a.Archiver, err = archival.NewArchiver(a.Conn.Primary(), dialect, a.locker(), archival.Config{
		Retention: cfg.Archive.Retention,
		LockKey:   cfg.Archive.LockKey,
		LockTTL:   cfg.Archive.LockTTL,
	}, archival.WithLogger(logger), archival.WithMetrics(a.Metrics))
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *App) ensureSchema(ctx context.Context) error {
	db, dialect := a.Conn.Primary(), a.Conn.Dialect()
	if err := identity.EnsureSchema(ctx, db, dialect); err != nil {
		return err
	}
	store, err := audit.NewDBStore(db, dialect)
	if err != nil {
		return err
	}
	return store.EnsureSchema(ctx)
}

// locker serializes runs inside this process first, then across the fleet
func (a *App) locker() lock.Locker {
	local := lock.NewLocalLocker()
	switch a.Config.Archive.Lock {
	case config.LockRedis:
		return lock.Chain{local, lock.NewRedisLocker(a.Redis, "lock")}
	case config.LockPostgres:
		return lock.Chain{local, lock.NewPostgresLocker(a.Conn.Primary())}
	default:
		return local
	}
}

// Router builds the HTTP API
func (a *App) Router() http.Handler {
	router := mux.NewRouter()

	if a.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(a.Metrics))
		router.Handle("/metrics", observability.MetricsHandler(a.Registry)).Methods(http.MethodGet)
	}
	router.Use(audit.NewActorMiddleware(a.Logger).Handler, httputil.Recovery, httputil.AccessLog)

	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(a.Conn.Primary(), a.Redis, a.version))
	audit.NewHandlers(a.Store).RegisterRoutes(router)
	archival.NewHandlers(a.Archiver).RegisterRoutes(router)

	if a.OTel == nil {
		return router
	}
	return otelhttp.NewHandler(router, "audittrail")
}

// CollectDBStats publishes pool statistics every interval until ctx is done
func (a *App) CollectDBStats(ctx context.Context, interval time.Duration) {
	if a.Metrics == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.Metrics.UpdateDBStats(a.Conn.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ShutdownManager stops server, then any steps registered later, and finally closes a.
// server may be nil.
func (a *App) ShutdownManager(server *http.Server, timeout time.Duration) *observability.ShutdownManager {
	sm := observability.NewShutdownManager(a.Logger, server, timeout)
	sm.Register("app", a.Close)
	return sm
}

// Close releases connections and flushes telemetry. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.Conn != nil {
		if err := a.Conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.OTel != nil {
		if err := observability.ShutdownOTel(ctx, a.OTel, a.Logger); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
