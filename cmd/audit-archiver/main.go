package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/audittrail/pkg/app"
	"github.com/platinummonkey/audittrail/pkg/archival"
	"github.com/platinummonkey/audittrail/pkg/config"
)

var version = "dev"

var (
	envFile   = flag.String("env-file", ".env", "Optional dotenv file read before the environment")
	runOnce   = flag.Bool("run-once", false, "Archive once and exit instead of following the schedule")
	olderThan = flag.String("older-than", "", "RFC 3339 cutoff for --run-once. Defaults to now minus the retention")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cutoff, err := parseCutoff(*olderThan)
	if err != nil {
		log.Fatalf("Invalid --older-than: %v", err)
	}
	if cutoff != nil && !*runOnce {
		log.Fatalf("--older-than requires --run-once")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cutoff); err != nil {
		log.Fatalf("audit-archiver: %v", err)
	}
}

func parseCutoff(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func run(ctx context.Context, cfg *config.Config, cutoff *time.Time) error {
	a, err := app.New(ctx, cfg, version)
	if err != nil {
		return err
	}
	shutdown := a.ShutdownManager(nil, cfg.Server.ShutdownTimeout)

	// Run once mode (for cron jobs and backfills)
	if *runOnce {
		res, err := a.Archiver.Archive(ctx, cutoff)
		if errors.Is(err, archival.ErrArchiveInProgress) {
			a.Logger.Warn("Another archival run holds the lock, nothing to do")
			return shutdown.Shutdown()
		}
		if err != nil {
			return errors.Join(err, shutdown.Shutdown())
		}
		a.Logger.Info(res.String())
		return shutdown.Shutdown()
	}

	// Scheduled mode
	scheduler, err := archival.NewScheduler(a.Archiver, cfg.Archive.Schedule, cfg.Archive.RunTimeout, a.Logger)
	if err != nil {
		return errors.Join(err, shutdown.Shutdown())
	}
	if err := scheduler.Start(ctx); err != nil {
		return errors.Join(err, shutdown.Shutdown())
	}
	shutdown.Register("archival scheduler", scheduler.Stop)

	a.Logger.WithField("next_run", scheduler.Next()).Info("Audit archiver started")
	return shutdown.Wait(ctx)
}
