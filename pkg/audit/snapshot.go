package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/audittrail/pkg/changeset"
	"github.com/platinummonkey/audittrail/pkg/observability"
)

// DefaultMonitoredTables lists the identity tables audited when no configuration is given
var DefaultMonitoredTables = []string{"users", "roles", "user_roles", "user_claims"}

// ActorFunc returns the identifier of the user causing the current mutation.
// ok is false for system-initiated mutations.
type ActorFunc func(ctx context.Context) (userID string, ok bool)

// ContextActor reads the acting user from observability.WithUserID
func ContextActor(ctx context.Context) (string, bool) {
	id := observability.GetUserID(ctx)
	return id, id != ""
}

// Draft is an audit record under construction. Drafts with temporary fields
// cannot be finalized until the storage engine has assigned their values.
type Draft struct {
	entry *changeset.Entry

	TableName string
	Action    Action
	UserID    sql.NullString
	KeyValues Values
	OldValues Values
	NewValues Values

	// Temporary holds fields whose value is only known after the INSERT
	Temporary []*changeset.Field
}

// HasTemporary reports whether the draft still waits for storage-generated values
func (d *Draft) HasTemporary() bool {
	return len(d.Temporary) > 0
}

// Resolve copies the now-known values of temporary fields into the draft:
// key fields go to KeyValues, every other field to NewValues.
func (d *Draft) Resolve() error {
	for _, f := range d.Temporary {
		if f.Temporary {
			return fmt.Errorf("%w: %s.%s", ErrUnresolvedKey, d.TableName, f.Name)
		}
		if f.PrimaryKey {
			d.KeyValues[f.Name] = f.Current
		} else {
			d.NewValues[f.Name] = f.Current
		}
	}
	d.Temporary = nil
	return nil
}

// Finalize encodes the draft into a Record stamped with ts
func (d *Draft) Finalize(ts time.Time) (*Record, error) {
	if d.HasTemporary() {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedKey, d.TableName)
	}
	if len(d.KeyValues) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingKeyValues, d.TableName)
	}

	keys, err := Encode(d.KeyValues)
	if err != nil {
		return nil, err
	}
	oldValues, err := EncodeNullable(d.OldValues)
	if err != nil {
		return nil, err
	}
	newValues, err := EncodeNullable(d.NewValues)
	if err != nil {
		return nil, err
	}

	return &Record{
		TableName: d.TableName,
		KeyValues: keys,
		OldValues: oldValues,
		NewValues: newValues,
		Action:    d.Action,
		UserID:    d.UserID,
		Timestamp: ts,
	}, nil
}

// Snapshot is the result of snapshotting a change set
type Snapshot struct {
	// Ready drafts can be finalized before the business rows are written
	Ready []*Draft
	// Deferred drafts wait for storage-generated values
	Deferred []*Draft
}

// Len returns the total number of drafts
func (s Snapshot) Len() int {
	return len(s.Ready) + len(s.Deferred)
}

// Snapshotter turns pending entity mutations into audit drafts
type Snapshotter struct {
	monitored atomic.Pointer[map[string]struct{}]
	actor     ActorFunc
}

// NewSnapshotter creates a snapshotter for the given monitored tables.
// A nil actor defaults to ContextActor.
func NewSnapshotter(tables []string, actor ActorFunc) *Snapshotter {
	if actor == nil {
		actor = ContextActor
	}
	s := &Snapshotter{actor: actor}
	s.SetMonitoredTables(tables)
	return s
}

// SetMonitoredTables replaces the monitored table set. Safe for concurrent use.
func (s *Snapshotter) SetMonitoredTables(tables []string) {
	set := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		set[t] = struct{}{}
	}
	s.monitored.Store(&set)
}

// MonitoredTables returns the current monitored tables, sorted
func (s *Snapshotter) MonitoredTables() []string {
	set := *s.monitored.Load()
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// IsMonitored reports whether mutations on table are audited
func (s *Snapshotter) IsMonitored(table string) bool {
	_, ok := (*s.monitored.Load())[table]
	return ok
}

// Snapshot builds one draft per audited entry
func (s *Snapshotter) Snapshot(ctx context.Context, entries []*changeset.Entry) Snapshot {
	var (
		snap     Snapshot
		userID   sql.NullString
		resolved bool
	)

	for _, e := range entries {
		if e.State == changeset.Unchanged || e.State == changeset.Detached {
			continue
		}
		if isAuditEntity(e.Entity) {
			continue
		}
		if !s.IsMonitored(e.Table.Name) {
			continue
		}

		if !resolved {
			if id, ok := s.actor(ctx); ok {
				userID = sql.NullString{String: id, Valid: true}
			}
			resolved = true
		}

		d := buildDraft(e, userID)
		if d.HasTemporary() {
			snap.Deferred = append(snap.Deferred, d)
		} else {
			snap.Ready = append(snap.Ready, d)
		}
	}
	return snap
}

func buildDraft(e *changeset.Entry, userID sql.NullString) *Draft {
	d := &Draft{
		entry:     e,
		TableName: e.Table.Name,
		Action:    actionFor(e.State),
		UserID:    userID,
		KeyValues: Values{},
		OldValues: Values{},
		NewValues: Values{},
	}

	for _, f := range e.Fields {
		if f.Temporary {
			d.Temporary = append(d.Temporary, f)
			continue
		}

		switch e.State {
		case changeset.Added:
			d.NewValues[f.Name] = f.Current
		case changeset.Deleted:
			d.OldValues[f.Name] = f.Original
		case changeset.Modified:
			if f.Modified {
				d.OldValues[f.Name] = f.Original
				d.NewValues[f.Name] = f.Current
			}
		}

		if f.PrimaryKey {
			if e.State == changeset.Deleted {
				d.KeyValues[f.Name] = f.Original
			} else {
				d.KeyValues[f.Name] = f.Current
			}
		}
	}
	return d
}

func actionFor(state changeset.State) Action {
	switch state {
	case changeset.Added:
		return ActionCreated
	case changeset.Deleted:
		return ActionDeleted
	default:
		return ActionModified
	}
}

// isAuditEntity keeps the audit log from auditing its own rows
func isAuditEntity(entity any) bool {
	switch entity.(type) {
	case *Record, Record, *ArchiveRecord, ArchiveRecord:
		return true
	}
	return false
}
