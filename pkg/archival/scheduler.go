package archival

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/audittrail/pkg/observability"
)

// DefaultSchedule runs archival once a day at 03:00 UTC
const DefaultSchedule = "0 3 * * *"

// Scheduler runs the archiver on a cron schedule
type Scheduler struct {
	archiver *Archiver
	schedule string
	logger   *observability.Logger
	timeout  time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewScheduler creates a scheduler for archiver. An empty schedule uses DefaultSchedule.
// timeout bounds a single scheduled run; zero means no bound.
func NewScheduler(archiver *Archiver, schedule string, timeout time.Duration, logger *observability.Logger) (*Scheduler, error) {
	if archiver == nil {
		return nil, fmt.Errorf("archiver is required")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid archive schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Scheduler{
		archiver: archiver,
		schedule: schedule,
		logger:   logger,
		timeout:  timeout,
	}, nil
}

// Start schedules archival runs. Runs that would overlap a still-running one are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	id, err := c.AddFunc(s.schedule, func() { s.run(ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule archival: %w", err)
	}

	c.Start()
	s.cron = c
	s.entryID = id

	s.logger.WithField("schedule", s.schedule).Info("archival scheduler started")
	return nil
}

// Stop stops scheduling and waits for a running archival to finish or ctx to expire
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	done := c.Stop()
	select {
	case <-done.Done():
		s.logger.Info("archival scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled run time, or the zero time if not started
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// TriggerNow runs archival immediately outside the schedule
func (s *Scheduler) TriggerNow(ctx context.Context, cutoff *time.Time) (Result, error) {
	return s.archiver.Archive(ctx, cutoff)
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.archiver.Archive(ctx, nil)
	if errors.Is(err, ErrArchiveInProgress) {
		return
	}
	if err != nil {
		// Already logged by the archiver
		return
	}
	s.logger.Info(res.String())
}

// cronLogger adapts observability.Logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
