package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/platinummonkey/audittrail/pkg/storage"
)

// Store provides methods for querying audit logs
type Store interface {
	// Search searches audit logs based on filters
	Search(ctx context.Context, filter SearchFilter) ([]*Record, error)

	// Get retrieves a specific audit record by ID from hot or cold storage
	Get(ctx context.Context, id int64) (*Record, error)

	// Count counts the records matching filter, ignoring pagination
	Count(ctx context.Context, filter SearchFilter) (int64, error)

	// GetStats retrieves audit log statistics
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*AuditStats, error)

	// Export exports audit logs in the specified format
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)
}

// RowScanner is satisfied by *sql.Row and *sql.Rows
type RowScanner interface {
	Scan(dest ...any) error
}

// DBStore implements Store over the audit_logs and audit_log_archives tables.
// Reads use the transaction carried by the context when there is one.
type DBStore struct {
	db      *sql.DB
	dialect storage.Dialect
}

// NewDBStore creates a new database-backed audit store
func NewDBStore(db *sql.DB, dialect storage.Dialect) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if dialect == nil {
		return nil, fmt.Errorf("sql dialect is required")
	}
	return &DBStore{db: db, dialect: dialect}, nil
}

// EnsureSchema creates the audit tables if they don't exist
func (s *DBStore) EnsureSchema(ctx context.Context) error {
	exec := storage.ExecutorFrom(ctx, s.db)
	for _, stmt := range SchemaStatements(s.dialect) {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure audit tables: %w", err)
		}
	}
	return nil
}

// Search searches audit logs based on filters
func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*Record, error) {
	where, args := s.buildWhere(filter)

	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY timestamp %s, id %s",
		recordColumns, tableFor(filter.Scope), where, order, order)

	limit := filter.Limit
	if limit <= 0 && filter.Offset > 0 {
		limit = math.MaxInt32
	}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT " + s.dialect.Placeholder(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET " + s.dialect.Placeholder(len(args))
	}

	rows, err := storage.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		rec, err := ScanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return records, nil
}

// Get retrieves a specific audit record by ID. The hot table is consulted first.
func (s *DBStore) Get(ctx context.Context, id int64) (*Record, error) {
	rec, err := s.GetHot(ctx, id)
	if !errors.Is(err, ErrNotFound) {
		return rec, err
	}
	return s.GetArchived(ctx, id)
}

// GetHot reads a record from audit_logs only
func (s *DBStore) GetHot(ctx context.Context, id int64) (*Record, error) {
	return s.getFrom(ctx, LogTableName, id)
}

// GetArchived reads a record from audit_log_archives only
func (s *DBStore) GetArchived(ctx context.Context, id int64) (*Record, error) {
	return s.getFrom(ctx, ArchiveTableName, id)
}

func (s *DBStore) getFrom(ctx context.Context, table string, id int64) (*Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = %s", recordColumns, table, s.dialect.Placeholder(1))
	rec, err := ScanRecord(storage.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Count counts the records matching filter, ignoring pagination
func (s *DBStore) Count(ctx context.Context, filter SearchFilter) (int64, error) {
	where, args := s.buildWhere(filter)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", tableFor(filter.Scope), where)

	var n int64
	if err := storage.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return n, nil
}

// GetStats retrieves audit log statistics. The time range applies to the hot table breakdowns.
func (s *DBStore) GetStats(ctx context.Context, startTime, endTime *time.Time) (*AuditStats, error) {
	stats := &AuditStats{
		RecordsByAction: make(map[Action]int64),
		RecordsByTable:  make(map[string]int64),
	}

	filter := SearchFilter{StartTime: startTime, EndTime: endTime}
	where, args := s.buildWhere(filter)
	exec := storage.ExecutorFrom(ctx, s.db)

	var err error
	if stats.HotRecords, err = s.Count(ctx, filter); err != nil {
		return nil, err
	}
	filter.Scope = ScopeArchive
	if stats.ArchivedRecords, err = s.Count(ctx, filter); err != nil {
		return nil, err
	}

	rows, err := exec.QueryContext(ctx, fmt.Sprintf("SELECT action, COUNT(*) FROM audit_logs%s GROUP BY action", where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get records by action: %w", err)
	}
	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan records by action: %w", err)
		}
		stats.RecordsByAction[Action(action)] = count
	}
	rows.Close()

	rows, err = exec.QueryContext(ctx, fmt.Sprintf("SELECT table_name, COUNT(*) FROM audit_logs%s GROUP BY table_name", where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get records by table: %w", err)
	}
	for rows.Next() {
		var table string
		var count int64
		if err := rows.Scan(&table, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan records by table: %w", err)
		}
		stats.RecordsByTable[table] = count
	}
	rows.Close()

	if stats.OldestHot, err = s.edgeTimestamp(ctx, LogTableName, "ASC"); err != nil {
		return nil, err
	}
	if stats.LastArchivedAt, err = s.LastArchivedAt(ctx); err != nil {
		return nil, err
	}

	return stats, nil
}

// LastArchivedAt returns the newest timestamp present in the archive, or nil
// when nothing has been archived yet.
func (s *DBStore) LastArchivedAt(ctx context.Context) (*time.Time, error) {
	return s.edgeTimestamp(ctx, ArchiveTableName, "DESC")
}

// Export exports audit logs in the specified format
func (s *DBStore) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	records, err := s.Search(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatCSV:
		return exportCSV(records)
	case ExportFormatNDJSON:
		return exportNDJSON(records)
	default:
		return exportJSON(records)
	}
}

// edgeTimestamp reads the first timestamp of table in the given order. Selecting
// the column instead of MIN/MAX keeps its declared type for drivers that rely on it.
func (s *DBStore) edgeTimestamp(ctx context.Context, table, order string) (*time.Time, error) {
	query := fmt.Sprintf("SELECT timestamp FROM %s ORDER BY timestamp %s LIMIT 1", table, order)

	var ts time.Time
	err := storage.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s timestamp: %w", table, err)
	}
	ts = ts.UTC()
	return &ts, nil
}

func (s *DBStore) buildWhere(filter SearchFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, s.dialect.Placeholder(len(args))))
	}

	if filter.StartTime != nil {
		add("timestamp >= %s", filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		add("timestamp <= %s", filter.EndTime.UTC())
	}
	if filter.TableName != "" {
		add("table_name = %s", filter.TableName)
	}
	if filter.UserID != "" {
		add("user_id = %s", filter.UserID)
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			args = append(args, string(a))
			placeholders[i] = s.dialect.Placeholder(len(args))
		}
		conds = append(conds, fmt.Sprintf("action IN (%s)", strings.Join(placeholders, ", ")))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func tableFor(scope Scope) string {
	if scope == ScopeArchive {
		return ArchiveTableName
	}
	return LogTableName
}

// ScanRecord reads one row selected with the standard record column list
func ScanRecord(row RowScanner) (*Record, error) {
	var (
		rec    Record
		action string
	)
	err := row.Scan(
		&rec.ID, &rec.TableName, &rec.KeyValues, &rec.OldValues, &rec.NewValues,
		&action, &rec.UserID, &rec.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}
	rec.Action = Action(action)
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}

// RecordColumns is the column list ScanRecord expects, in order
func RecordColumns() string {
	return recordColumns
}
