package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/audittrail/pkg/app"
	"github.com/platinummonkey/audittrail/pkg/archival"
	"github.com/platinummonkey/audittrail/pkg/config"
)

var version = "dev"

var (
	envFile       = flag.String("env-file", ".env", "Optional dotenv file read before the environment")
	statsInterval = flag.Duration("db-stats-interval", 15*time.Second, "How often connection pool metrics are published")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("audit-server: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(ctx, cfg, version)
	if err != nil {
		return err
	}
	logger := a.Logger

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	scheduler, err := archival.NewScheduler(a.Archiver, cfg.Archive.Schedule, cfg.Archive.RunTimeout, logger)
	if err != nil {
		a.Close(context.Background())
		return err
	}

	// Steps run in reverse: the scheduler drains before connections close.
	shutdown := a.ShutdownManager(server, cfg.Server.ShutdownTimeout)
	shutdown.Register("archival scheduler", scheduler.Stop)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", cfg.Server.Addr).Info("Starting audit server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := scheduler.Start(gctx); err != nil {
			return err
		}
		logger.WithField("next_run", scheduler.Next()).Info("Archival scheduled")
		return nil
	})

	if cfg.File != "" {
		g.Go(func() error {
			return config.WatchMonitoredTables(gctx, cfg.File, logger, a.Snapshotter.SetMonitoredTables)
		})
	}

	g.Go(func() error {
		a.CollectDBStats(gctx, *statsInterval)
		return nil
	})

	g.Go(func() error {
		return shutdown.Wait(gctx)
	})

	return g.Wait()
}
