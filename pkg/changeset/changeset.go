package changeset

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"time"
)

var (
	// ErrUnknownTable is returned when a table is not registered in the schema
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownColumn is returned when a value names a column the table does not have
	ErrUnknownColumn = errors.New("unknown column")
	// ErrMissingKey is returned when an attached entity lacks a primary key value
	ErrMissingKey = errors.New("missing primary key value")
	// ErrFieldNotLoaded is returned when setting a field that was not part of the attached snapshot
	ErrFieldNotLoaded = errors.New("field not loaded")
	// ErrInvalidState is returned when an operation does not apply to the entry's state
	ErrInvalidState = errors.New("invalid entry state")
)

// State is the lifecycle state of a tracked entity
type State int

const (
	Detached State = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Detached:
		return "Detached"
	case Unchanged:
		return "Unchanged"
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Field holds the original and current value of one column
type Field struct {
	Name       string
	Original   any
	Current    any
	PrimaryKey bool
	// Temporary is set while the value is still to be assigned by the storage engine
	Temporary bool
	Modified  bool
}

// Entry is a single tracked entity
type Entry struct {
	Table  *Table
	State  State
	Entity any
	Fields []*Field
}

// NewAddedEntry builds an entry for a new row. Generated columns without a value
// are tracked as temporary fields.
func NewAddedEntry(table *Table, entity any, values map[string]any) (*Entry, error) {
	for name := range values {
		if _, ok := table.Column(name); !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table.Name, name)
		}
	}

	e := &Entry{Table: table, State: Added, Entity: entity}
	for _, col := range table.Columns {
		v, ok := values[col.Name]
		switch {
		case col.Generated && (!ok || isZero(v)):
			e.Fields = append(e.Fields, &Field{Name: col.Name, PrimaryKey: col.PrimaryKey, Temporary: true})
		case ok:
			e.Fields = append(e.Fields, &Field{Name: col.Name, Current: v, PrimaryKey: col.PrimaryKey})
		}
	}
	return e, nil
}

// Field returns the named field, or nil
func (e *Entry) Field(name string) *Field {
	for _, f := range e.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Value returns the current value of the named field
func (e *Entry) Value(name string) (any, bool) {
	f := e.Field(name)
	if f == nil || f.Temporary {
		return nil, false
	}
	return f.Current, true
}

// Values returns the current values of all known fields
func (e *Entry) Values() map[string]any {
	out := make(map[string]any, len(e.Fields))
	for _, f := range e.Fields {
		if !f.Temporary {
			out[f.Name] = f.Current
		}
	}
	return out
}

// HasTemporary reports whether any field is awaiting a storage-assigned value
func (e *Entry) HasTemporary() bool {
	for _, f := range e.Fields {
		if f.Temporary {
			return true
		}
	}
	return false
}

// SetValue changes the current value of a field and updates the entry state
func (e *Entry) SetValue(name string, value any) error {
	f := e.Field(name)
	if f == nil {
		return fmt.Errorf("%w: %s.%s", ErrFieldNotLoaded, e.Table.Name, name)
	}

	switch e.State {
	case Added:
		f.Current = value
		f.Temporary = false
		return nil
	case Unchanged, Modified:
		f.Current = value
		f.Modified = !valuesEqual(f.Original, value)
		e.refreshState()
		return nil
	default:
		return fmt.Errorf("%w: cannot modify %s entry", ErrInvalidState, e.State)
	}
}

// Detach stops tracking the entry
func (e *Entry) Detach() {
	e.State = Detached
}

func (e *Entry) refreshState() {
	for _, f := range e.Fields {
		if f.Modified {
			e.State = Modified
			return
		}
	}
	e.State = Unchanged
}

// acceptChanges promotes current values to original ones after a successful commit
func (e *Entry) acceptChanges() {
	switch e.State {
	case Added, Modified:
		for _, f := range e.Fields {
			f.Original = f.Current
			f.Modified = false
		}
		e.State = Unchanged
	case Deleted:
		e.State = Detached
	}
}

// Set is the collection of entries tracked by one unit of work
type Set struct {
	schema  *Schema
	entries []*Entry
}

// NewSet creates an empty change set over the given schema
func NewSet(schema *Schema) *Set {
	return &Set{schema: schema}
}

// Schema returns the schema the set was created with
func (s *Set) Schema() *Schema {
	return s.schema
}

// Add tracks a new row
func (s *Set) Add(table string, entity any, values map[string]any) (*Entry, error) {
	t, err := s.schema.Table(table)
	if err != nil {
		return nil, err
	}
	e, err := NewAddedEntry(t, entity, values)
	if err != nil {
		return nil, err
	}
	s.entries = append(s.entries, e)
	return e, nil
}

// Attach tracks an existing row in the Unchanged state
func (s *Set) Attach(table string, entity any, values map[string]any) (*Entry, error) {
	t, err := s.schema.Table(table)
	if err != nil {
		return nil, err
	}
	for _, pk := range t.PrimaryKey() {
		if v, ok := values[pk.Name]; !ok || v == nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingKey, table, pk.Name)
		}
	}

	for name := range values {
		if _, ok := t.Column(name); !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, name)
		}
	}

	e := &Entry{Table: t, State: Unchanged, Entity: entity}
	for _, col := range t.Columns {
		v, ok := values[col.Name]
		if !ok {
			continue
		}
		e.Fields = append(e.Fields, &Field{Name: col.Name, Original: v, Current: v, PrimaryKey: col.PrimaryKey})
	}
	s.entries = append(s.entries, e)
	return e, nil
}

// Remove marks an entry for deletion. Removing a row that was never stored
// simply stops tracking it.
func (s *Set) Remove(e *Entry) error {
	switch e.State {
	case Added:
		e.State = Detached
	case Unchanged, Modified:
		for _, f := range e.Fields {
			f.Current = f.Original
			f.Modified = false
		}
		e.State = Deleted
	default:
		return fmt.Errorf("%w: cannot remove %s entry", ErrInvalidState, e.State)
	}
	return nil
}

// Entries returns every tracked entry, including unchanged and detached ones
func (s *Set) Entries() []*Entry {
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Pending returns the entries that require a write
func (s *Set) Pending() []*Entry {
	var out []*Entry
	for _, e := range s.entries {
		switch e.State {
		case Added, Modified, Deleted:
			out = append(out, e)
		}
	}
	return out
}

// AcceptChanges marks every pending entry as persisted and drops detached ones
func (s *Set) AcceptChanges() {
	kept := s.entries[:0]
	for _, e := range s.entries {
		e.acceptChanges()
		if e.State != Detached {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.IsZero()
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	}
	return reflect.DeepEqual(a, b)
}
