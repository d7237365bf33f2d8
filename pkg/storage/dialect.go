package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between supported databases
type Dialect interface {
	// Name returns the database/sql driver name
	Name() string

	// Placeholder returns the bind parameter for the n-th (1-based) argument
	Placeholder(n int) string

	// AutoIncrementKey returns the column definition of a storage-generated integer primary key
	AutoIncrementKey() string

	// TimestampType returns the column type used for timestamps
	TimestampType() string

	// LockClause is appended to SELECTs that must hold row locks until commit
	LockClause() string
}

// Postgres is the PostgreSQL dialect (lib/pq)
var Postgres Dialect = postgresDialect{}

// SQLite is the SQLite dialect (mattn/go-sqlite3)
var SQLite Dialect = sqliteDialect{}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgresDialect) AutoIncrementKey() string { return "BIGSERIAL PRIMARY KEY" }
func (postgresDialect) TimestampType() string { return "TIMESTAMP WITH TIME ZONE" }
func (postgresDialect) LockClause() string { return " FOR UPDATE" }

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite3" }
func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) AutoIncrementKey() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (sqliteDialect) TimestampType() string { return "TIMESTAMP" }
func (sqliteDialect) LockClause() string { return "" }

// DialectFor returns the dialect registered for a driver name
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// Placeholders renders count bind parameters starting at position start
func Placeholders(d Dialect, start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

// QuoteIdent quotes an identifier for use in generated SQL
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
