package audit

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Action classifies the mutation an audit record describes
type Action string

const (
	ActionCreated  Action = "Created"
	ActionModified Action = "Modified"
	ActionDeleted  Action = "Deleted"
)

// Record is one finalized entry of the hot audit log (audit_logs)
type Record struct {
	ID        int64
	TableName string
	// KeyValues is never empty once the record is finalized
	KeyValues string
	OldValues sql.NullString
	NewValues sql.NullString
	Action    Action
	UserID    sql.NullString
	Timestamp time.Time
}

// ArchiveRecord is a record moved to cold storage (audit_log_archives).
// ID is copied verbatim from the hot record.
type ArchiveRecord Record

// recordJSON is the wire shape shared by records and archive records
type recordJSON struct {
	ID        int64           `json:"id"`
	TableName string          `json:"table_name"`
	KeyValues json.RawMessage `json:"key_values"`
	OldValues json.RawMessage `json:"old_values,omitempty"`
	NewValues json.RawMessage `json:"new_values,omitempty"`
	Action    Action          `json:"action"`
	UserID    *string         `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON renders encoded value maps as nested JSON objects
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		ID:        r.ID,
		TableName: r.TableName,
		KeyValues: rawOrNull(sql.NullString{String: r.KeyValues, Valid: r.KeyValues != ""}),
		OldValues: rawOrNil(r.OldValues),
		NewValues: rawOrNil(r.NewValues),
		Action:    r.Action,
		Timestamp: r.Timestamp,
	}
	if r.UserID.Valid {
		out.UserID = &r.UserID.String
	}
	return json.Marshal(out)
}

// MarshalJSON renders an archive record in the same shape as a hot record
func (r ArchiveRecord) MarshalJSON() ([]byte, error) {
	return Record(r).MarshalJSON()
}

func rawOrNull(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return json.RawMessage("null")
	}
	return json.RawMessage(s.String)
}

func rawOrNil(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}

// Scope selects which audit table a query reads
type Scope string

const (
	ScopeHot     Scope = "hot"
	ScopeArchive Scope = "archive"
)

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	Scope Scope

	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	TableName string
	Actions   []Action
	UserID    string

	// Pagination
	Limit  int
	Offset int

	// SortOrder is "asc" or "desc" on (timestamp, id)
	SortOrder string
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// AuditStats represents statistics about audit logs
type AuditStats struct {
	HotRecords      int64            `json:"hot_records"`
	ArchivedRecords int64            `json:"archived_records"`
	RecordsByAction map[Action]int64 `json:"records_by_action"`
	RecordsByTable  map[string]int64 `json:"records_by_table"`
	OldestHot       *time.Time       `json:"oldest_hot,omitempty"`
	LastArchivedAt  *time.Time       `json:"last_archived_at,omitempty"`
}
