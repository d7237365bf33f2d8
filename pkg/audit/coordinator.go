package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/audittrail/pkg/changeset"
	"github.com/platinummonkey/audittrail/pkg/observability"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

var coordinatorTracer = otel.Tracer("audittrail/audit/coordinator")

// Coordinator persists a change set together with its audit records in one transaction
type Coordinator struct {
	uow         *storage.UnitOfWork
	snapshotter *Snapshotter
	clock       clockwork.Clock
	logger      *observability.Logger
	metrics     *observability.Metrics

	mu   sync.Mutex
	last time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock sets the clock used to stamp audit records
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithLogger sets the coordinator logger
func WithLogger(logger *observability.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics enables Prometheus metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

// NewCoordinator creates a coordinator writing through uow
func NewCoordinator(uow *storage.UnitOfWork, snapshotter *Snapshotter, opts ...Option) *Coordinator {
	c := &Coordinator{
		uow:         uow,
		snapshotter: snapshotter,
		clock:       clockwork.NewRealClock(),
		logger:      observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshotter returns the snapshotter deciding which entries are audited
func (c *Coordinator) Snapshotter() *Snapshotter {
	return c.snapshotter
}

// Commit writes every pending entry of set and the matching audit records
// atomically. It returns the number of audit records written.
//
// Audit records whose key is known up front are inserted in the first flush,
// right after the business rows. Records for rows whose key is assigned by the
// database are finalized once that flush has returned the generated values and
// are inserted in a second flush on the same transaction.
func (c *Coordinator) Commit(ctx context.Context, set *changeset.Set) (written int, err error) {
	ctx, span := coordinatorTracer.Start(ctx, "Commit")
	defer span.End()

	start := c.clock.Now()
	byAction := make(map[string]int)
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "commit failed")
		} else {
			span.SetStatus(codes.Ok, fmt.Sprintf("wrote %d audit records", written))
		}
		c.metrics.RecordCommit(result, c.clock.Since(start), byAction)
	}()

	pending := set.Pending()
	if len(pending) == 0 {
		return 0, nil
	}

	snap := c.snapshotter.Snapshot(ctx, pending)
	span.SetAttributes(
		attribute.Int("entries", len(pending)),
		attribute.Int("audit.ready", len(snap.Ready)),
		attribute.Int("audit.deferred", len(snap.Deferred)),
	)

	// One stamp per batch, taken before I/O so ready records encode up front.
	ts := c.now()

	// Encoding failures surface before any I/O.
	ready, err := finalize(snap.Ready, ts)
	if err != nil {
		return 0, err
	}

	tx, err := c.uow.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			observability.FromContext(ctx).WithError(rbErr).Error("failed to roll back audited commit")
		}
	}()

	first := append(append([]*changeset.Entry{}, pending...), ready...)
	if _, err = tx.Flush(ctx, first); err != nil {
		return 0, err
	}

	var deferred []*changeset.Entry
	if len(snap.Deferred) > 0 {
		for _, d := range snap.Deferred {
			if err = d.Resolve(); err != nil {
				return 0, err
			}
		}
		if deferred, err = finalize(snap.Deferred, ts); err != nil {
			return 0, err
		}
		if _, err = tx.Flush(ctx, deferred); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	set.AcceptChanges()
	for _, e := range append(ready, deferred...) {
		assignID(e)
		if rec, ok := e.Entity.(*Record); ok {
			byAction[string(rec.Action)]++
		}
	}

	written = snap.Len()
	c.logger.WithFields(map[string]interface{}{
		"entries":       len(pending),
		"audit_records": written,
	}).Debug("committed audited change set")

	return written, nil
}

// now returns the commit timestamp: UTC, microsecond precision, never earlier
// than the previous timestamp handed out by this coordinator.
func (c *Coordinator) now() time.Time {
	t := c.clock.Now().UTC().Truncate(time.Microsecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

func finalize(drafts []*Draft, ts time.Time) ([]*changeset.Entry, error) {
	entries := make([]*changeset.Entry, 0, len(drafts))
	for _, d := range drafts {
		rec, err := d.Finalize(ts)
		if err != nil {
			return nil, err
		}
		e, err := recordEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to queue audit record: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
