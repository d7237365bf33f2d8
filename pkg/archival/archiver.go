package archival

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/audittrail/pkg/audit"
	"github.com/platinummonkey/audittrail/pkg/lock"
	"github.com/platinummonkey/audittrail/pkg/observability"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

var tracer = otel.Tracer("audittrail/archival")

// ErrArchiveInProgress is returned when another archival run holds the lock.
// Errors carrying it also match lock.ErrNotAcquired.
var ErrArchiveInProgress = errors.New("archival already in progress")

const (
	// DefaultRetention is how long records stay hot when no cutoff is given
	DefaultRetention = 24 * time.Hour
	// DefaultLockKey names the single-flight lock
	DefaultLockKey = "audittrail:archive"
	// DefaultLockTTL bounds how long a crashed run can block the next one
	DefaultLockTTL = 10 * time.Minute

	deleteChunkSize = 500
)

// Config configures an Archiver
type Config struct {
	// Retention is subtracted from now when Archive is called without a cutoff
	Retention time.Duration
	LockKey   string
	LockTTL   time.Duration
}

// Result describes one archival run
type Result struct {
	RunID uuid.UUID `json:"run_id"`
	// Moved is the number of records removed from the hot table
	Moved int `json:"archived_count"`
	// AlreadyArchived counts moved records whose id was already in the archive
	AlreadyArchived int           `json:"already_archived"`
	Cutoff          time.Time     `json:"cutoff"`
	Duration        time.Duration `json:"duration"`
}

// Archiver moves aged audit records from audit_logs to audit_log_archives
type Archiver struct {
	db      *sql.DB
	dialect storage.Dialect
	locker  lock.Locker
	config  Config

	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Option configures an Archiver
type Option func(*Archiver)

// WithClock sets the clock used for the default cutoff and durations
func WithClock(clock clockwork.Clock) Option {
	return func(a *Archiver) {
		a.clock = clock
	}
}

// WithLogger sets the archiver logger
func WithLogger(logger *observability.Logger) Option {
	return func(a *Archiver) {
		a.logger = logger
	}
}

// WithMetrics enables Prometheus metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(a *Archiver) {
		a.metrics = metrics
	}
}

// NewArchiver creates an archiver. A nil locker falls back to a process-local lock.
func NewArchiver(db *sql.DB, dialect storage.Dialect, locker lock.Locker, cfg Config, opts ...Option) (*Archiver, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if dialect == nil {
		return nil, fmt.Errorf("sql dialect is required")
	}
	if cfg.Retention < 0 {
		return nil, fmt.Errorf("retention must not be negative: %s", cfg.Retention)
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}

	a := &Archiver{
		db:      db,
		dialect: dialect,
		locker:  locker,
		config:  cfg,
		clock:   clockwork.NewRealClock(),
		logger:  observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Retention returns the configured retention window
func (a *Archiver) Retention() time.Duration {
	return a.config.Retention
}

// DefaultCutoff returns the cutoff used when Archive is called without one
func (a *Archiver) DefaultCutoff() time.Time {
	return a.clock.Now().UTC().Add(-a.config.Retention)
}

// Archive moves every hot record with a timestamp strictly before cutoff into
// the archive. A nil or zero cutoff means now minus the retention window.
//
// The copy and the delete share one transaction. Copying an id that is already
// archived is skipped, so a rerun never duplicates archive rows. Finding no
// candidates is not an error and yields a zero Moved count.
func (a *Archiver) Archive(ctx context.Context, cutoff *time.Time) (res Result, err error) {
	res.RunID = uuid.New()
	if cutoff == nil || cutoff.IsZero() {
		res.Cutoff = a.DefaultCutoff()
	} else {
		res.Cutoff = cutoff.UTC()
	}

	ctx, span := tracer.Start(ctx, "Archive", trace.WithAttributes(
		attribute.String("run_id", res.RunID.String()),
		attribute.String("cutoff", res.Cutoff.Format(time.RFC3339Nano)),
	))
	defer span.End()

	logger := a.logger.WithFields(map[string]interface{}{
		"run_id": res.RunID.String(),
		"cutoff": res.Cutoff.Format(time.RFC3339Nano),
	})

	start := a.clock.Now()
	defer func() {
		res.Duration = a.clock.Since(start)
		result := "success"
		switch {
		case errors.Is(err, ErrArchiveInProgress):
			result = "contended"
		case err != nil:
			result = "error"
		case res.Moved == 0:
			result = "empty"
		}
		a.metrics.RecordArchiveRun(result, res.Moved, res.Duration)

		if err != nil && result != "contended" {
			span.RecordError(err)
			span.SetStatus(codes.Error, "archive failed")
			logger.WithError(err).Error("archival run failed")
			return
		}
		span.SetAttributes(attribute.Int("moved", res.Moved))
		span.SetStatus(codes.Ok, fmt.Sprintf("archived %d records", res.Moved))
	}()

	lease, err := a.locker.TryLock(ctx, a.config.LockKey, a.config.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		logger.Info("archival run skipped: another run is in progress")
		return res, fmt.Errorf("%w: %w", ErrArchiveInProgress, err)
	}
	if err != nil {
		return res, fmt.Errorf("failed to acquire archive lock: %w", err)
	}
	defer func() {
		// The lease outlives ctx cancellation so the lock is not left behind.
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			logger.WithError(relErr).Warn("failed to release archive lock")
		}
	}()

	moved, already, err := a.move(ctx, res.Cutoff)
	if err != nil {
		return res, err
	}
	res.Moved = moved
	res.AlreadyArchived = already

	if moved > 0 {
		logger.WithFields(map[string]interface{}{
			"moved":            moved,
			"already_archived": already,
		}).Info("archived audit records")
	} else {
		logger.Debug("no audit records to archive")
	}
	return res, nil
}

func (a *Archiver) move(ctx context.Context, cutoff time.Time) (moved, already int, err error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				a.logger.WithError(rbErr).Error("failed to roll back archive transaction")
			}
		}
	}()

	records, err := a.selectCandidates(ctx, tx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		return 0, 0, tx.Commit()
	}

	if already, err = a.copyToArchive(ctx, tx, records); err != nil {
		return 0, 0, err
	}
	if err = a.deleteFromHot(ctx, tx, records); err != nil {
		return 0, 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return len(records), already, nil
}

func (a *Archiver) selectCandidates(ctx context.Context, tx *sql.Tx, cutoff time.Time) ([]*audit.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE timestamp < %s ORDER BY id%s",
		audit.RecordColumns(), audit.LogTableName, a.dialect.Placeholder(1), a.dialect.LockClause())

	rows, err := tx.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select records to archive: %w", err)
	}
	defer rows.Close()

	var records []*audit.Record
	for rows.Next() {
		rec, err := audit.ScanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records to archive: %w", err)
	}
	return records, nil
}

func (a *Archiver) copyToArchive(ctx context.Context, tx *sql.Tx, records []*audit.Record) (int, error) {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING",
		audit.ArchiveTableName, audit.RecordColumns(), storage.Placeholders(a.dialect, 1, 8))

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare archive insert: %w", err)
	}
	defer stmt.Close()

	already := 0
	for _, rec := range records {
		res, err := stmt.ExecContext(ctx,
			rec.ID, rec.TableName, rec.KeyValues, rec.OldValues, rec.NewValues,
			string(rec.Action), rec.UserID, rec.Timestamp,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to archive record %d: %w", rec.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to archive record %d: %w", rec.ID, err)
		}
		if n == 0 {
			already++
		}
	}
	return already, nil
}

func (a *Archiver) deleteFromHot(ctx context.Context, tx *sql.Tx, records []*audit.Record) error {
	var deleted int64
	for start := 0; start < len(records); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		args := make([]any, len(chunk))
		for i, rec := range chunk {
			args[i] = rec.ID
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)",
			audit.LogTableName, storage.Placeholders(a.dialect, 1, len(chunk)))

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to delete archived records: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to delete archived records: %w", err)
		}
		deleted += n
	}

	if deleted != int64(len(records)) {
		return fmt.Errorf("%w: deleted %d of %d archived records", storage.ErrConcurrencyConflict, deleted, len(records))
	}
	return nil
}

// String renders a result for operator-facing logs
func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: moved %d records older than %s", r.RunID, r.Moved, r.Cutoff.Format(time.RFC3339))
	if r.AlreadyArchived > 0 {
		fmt.Fprintf(&b, " (%d already archived)", r.AlreadyArchived)
	}
	return b.String()
}
