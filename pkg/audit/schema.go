package audit

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/audittrail/pkg/changeset"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

const (
	// LogTableName is the hot, append-only audit table
	LogTableName = "audit_logs"
	// ArchiveTableName is the cold audit table
	ArchiveTableName = "audit_log_archives"
)

var (
	// ErrNotFound is returned when an audit record does not exist
	ErrNotFound = errors.New("audit record not found")
	// ErrUnresolvedKey is returned when a deferred field never received its storage-assigned value
	ErrUnresolvedKey = errors.New("storage-generated value was not resolved")
	// ErrMissingKeyValues is returned when a draft has no primary key values to identify its row
	ErrMissingKeyValues = errors.New("audit record has no key values")
)

// LogTable describes audit_logs for the unit of work. The id is assigned by the database.
var LogTable = changeset.NewTable(LogTableName,
	changeset.Column{Name: "id", PrimaryKey: true, Generated: true},
	changeset.Column{Name: "table_name"},
	changeset.Column{Name: "key_values"},
	changeset.Column{Name: "old_values"},
	changeset.Column{Name: "new_values"},
	changeset.Column{Name: "action"},
	changeset.Column{Name: "user_id"},
	changeset.Column{Name: "timestamp"},
)

// recordColumns is the column order used by every query that reads records
const recordColumns = `id, table_name, key_values, old_values, new_values, action, user_id, timestamp`

// SchemaStatements returns the DDL creating both audit tables for dialect d
func SchemaStatements(d storage.Dialect) []string {
	ts := d.TimestampType()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_logs (
		id %s,
		table_name VARCHAR(255) NOT NULL,
		key_values TEXT NOT NULL,
		old_values TEXT,
		new_values TEXT,
		action VARCHAR(20) NOT NULL,
		user_id VARCHAR(255),
		timestamp %s NOT NULL
	)`, d.AutoIncrementKey(), ts),
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_table_name ON audit_logs(table_name)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_log_archives (
		id BIGINT PRIMARY KEY,
		table_name VARCHAR(255) NOT NULL,
		key_values TEXT NOT NULL,
		old_values TEXT,
		new_values TEXT,
		action VARCHAR(20) NOT NULL,
		user_id VARCHAR(255),
		timestamp %s NOT NULL
	)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_audit_log_archives_timestamp ON audit_log_archives(timestamp)`,
	}
}

// recordEntry queues rec as an insert into audit_logs
func recordEntry(rec *Record) (*changeset.Entry, error) {
	return changeset.NewAddedEntry(LogTable, rec, map[string]any{
		"table_name": rec.TableName,
		"key_values": rec.KeyValues,
		"old_values": rec.OldValues,
		"new_values": rec.NewValues,
		"action":     string(rec.Action),
		"user_id":    rec.UserID,
		"timestamp":  rec.Timestamp,
	})
}

// assignID copies the database-assigned id from a flushed entry back into its record
func assignID(e *changeset.Entry) {
	rec, ok := e.Entity.(*Record)
	if !ok {
		return
	}
	v, ok := e.Value("id")
	if !ok {
		return
	}
	switch id := v.(type) {
	case int64:
		rec.ID = id
	case int32:
		rec.ID = int64(id)
	case int:
		rec.ID = int64(id)
	}
}
