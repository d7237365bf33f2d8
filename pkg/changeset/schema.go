package changeset

import (
	"fmt"
	"sort"
)

// Column describes a single table column
type Column struct {
	Name       string
	PrimaryKey bool
	// Generated marks columns assigned by the storage engine on insert
	Generated bool
}

// Table describes the columns of a tracked table
type Table struct {
	Name    string
	Columns []Column
}

// NewTable creates a table definition
func NewTable(name string, columns ...Column) *Table {
	return &Table{Name: name, Columns: columns}
}

// Column returns the named column definition
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// PrimaryKey returns the primary key columns in declaration order
func (t *Table) PrimaryKey() []Column {
	var pk []Column
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk = append(pk, c)
		}
	}
	return pk
}

// Schema is a registry of table definitions
type Schema struct {
	tables map[string]*Table
}

// NewSchema creates a schema from the given tables
func NewSchema(tables ...*Table) *Schema {
	s := &Schema{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		s.tables[t.Name] = t
	}
	return s
}

// Table looks up a table definition by name
func (s *Schema) Table(name string) (*Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}

// With returns a copy of the schema extended with additional tables
func (s *Schema) With(tables ...*Table) *Schema {
	out := &Schema{tables: make(map[string]*Table, len(s.tables)+len(tables))}
	for name, t := range s.tables {
		out.tables[name] = t
	}
	for _, t := range tables {
		out.tables[t.Name] = t
	}
	return out
}

// TableNames returns all registered table names, sorted
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
