package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/audittrail/pkg/changeset"
)

// pqUniqueViolation is the postgres SQLSTATE for unique_violation
const pqUniqueViolation = "23505"

var (
	// ErrConcurrencyConflict is returned when an UPDATE or DELETE matched no row
	ErrConcurrencyConflict = errors.New("row was changed or removed concurrently")
	// ErrNoPrimaryKey is returned when a row without key fields has to be located
	ErrNoPrimaryKey = errors.New("table has no primary key")
	// ErrDuplicateKey is returned when a write violates a primary key or unique constraint
	ErrDuplicateKey = errors.New("duplicate key")
)

// UnitOfWork writes change sets to a database inside a single transaction
type UnitOfWork struct {
	db      *sql.DB
	dialect Dialect
}

// NewUnitOfWork creates a unit of work over db
func NewUnitOfWork(db *sql.DB, dialect Dialect) *UnitOfWork {
	return &UnitOfWork{db: db, dialect: dialect}
}

// DB returns the underlying connection pool
func (u *UnitOfWork) DB() *sql.DB {
	return u.db
}

// Dialect returns the SQL dialect in use
func (u *UnitOfWork) Dialect() Dialect {
	return u.dialect
}

// Begin starts a transaction
func (u *UnitOfWork) Begin(ctx context.Context) (*Tx, error) {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, dialect: u.dialect}, nil
}

// Tx is an open unit-of-work transaction. Flush may be called several times;
// nothing is visible to other connections until Commit.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
	// writeBacks lists generated values copied into entries, undone on Rollback
	writeBacks []writeBack
}

type writeBack struct {
	field   *changeset.Field
	current any
}

// Context returns ctx carrying the transaction, for stores that use ExecutorFrom
func (t *Tx) Context(ctx context.Context) context.Context {
	return WithTx(ctx, t.tx)
}

// Flush executes the writes for every pending entry in order. Values generated
// by the database on INSERT are written back into the entry and the field's
// Temporary flag is cleared.
func (t *Tx) Flush(ctx context.Context, entries []*changeset.Entry) (int64, error) {
	var affected int64
	for _, e := range entries {
		var (
			n   int64
			err error
		)
		switch e.State {
		case changeset.Added:
			n, err = t.insert(ctx, e)
		case changeset.Modified:
			n, err = t.update(ctx, e)
		case changeset.Deleted:
			n, err = t.delete(ctx, e)
		default:
			continue
		}
		if err != nil {
			return affected, err
		}
		affected += n
	}
	return affected, nil
}

// Commit commits the transaction. Generated values written back by Flush are
// kept only once the commit succeeds.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.writeBacks = nil
	return nil
}

// Rollback aborts the transaction and returns every field Flush filled with a
// generated value to its temporary state, so the entries can be flushed again.
// Rolling back a finished transaction only reverts the entries.
func (t *Tx) Rollback() error {
	for i := len(t.writeBacks) - 1; i >= 0; i-- {
		wb := t.writeBacks[i]
		wb.field.Current = wb.current
		wb.field.Temporary = true
	}
	t.writeBacks = nil

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

func (t *Tx) insert(ctx context.Context, e *changeset.Entry) (int64, error) {
	var (
		cols      []string
		args      []any
		returning []string
	)
	for _, f := range e.Fields {
		if f.Temporary {
			returning = append(returning, f.Name)
			continue
		}
		cols = append(cols, QuoteIdent(f.Name))
		args = append(args, f.Current)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s", QuoteIdent(e.Table.Name))
	if len(cols) == 0 {
		b.WriteString(" DEFAULT VALUES")
	} else {
		fmt.Fprintf(&b, " (%s) VALUES (%s)", strings.Join(cols, ", "), Placeholders(t.dialect, 1, len(args)))
	}

	if len(returning) == 0 {
		if _, err := t.tx.ExecContext(ctx, b.String(), args...); err != nil {
			return 0, writeError("insert into", e.Table.Name, err)
		}
		return 1, nil
	}

	quoted := make([]string, len(returning))
	for i, name := range returning {
		quoted[i] = QuoteIdent(name)
	}
	fmt.Fprintf(&b, " RETURNING %s", strings.Join(quoted, ", "))

	dest := make([]any, len(returning))
	ptrs := make([]any, len(returning))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := t.tx.QueryRowContext(ctx, b.String(), args...).Scan(ptrs...); err != nil {
		return 0, writeError("insert into", e.Table.Name, err)
	}

	for i, name := range returning {
		f := e.Field(name)
		t.writeBacks = append(t.writeBacks, writeBack{field: f, current: f.Current})
		f.Current = normalize(dest[i])
		f.Temporary = false
	}
	return 1, nil
}

func (t *Tx) update(ctx context.Context, e *changeset.Entry) (int64, error) {
	var (
		sets []string
		args []any
	)
	for _, f := range e.Fields {
		if !f.Modified || f.Temporary {
			continue
		}
		args = append(args, f.Current)
		sets = append(sets, fmt.Sprintf("%s = %s", QuoteIdent(f.Name), t.dialect.Placeholder(len(args))))
	}
	if len(sets) == 0 {
		return 0, nil
	}

	where, args, err := t.keyPredicate(e, args)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", QuoteIdent(e.Table.Name), strings.Join(sets, ", "), where)
	return t.execOne(ctx, e, "update", query, args)
}

func (t *Tx) delete(ctx context.Context, e *changeset.Entry) (int64, error) {
	where, args, err := t.keyPredicate(e, nil)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", QuoteIdent(e.Table.Name), where)
	return t.execOne(ctx, e, "delete from", query, args)
}

func (t *Tx) execOne(ctx context.Context, e *changeset.Entry, verb, query string, args []any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, writeError(verb, e.Table.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to %s %s: %w", verb, e.Table.Name, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s %s", ErrConcurrencyConflict, verb, e.Table.Name)
	}
	return n, nil
}

// keyPredicate locates the stored row by its original key values
func (t *Tx) keyPredicate(e *changeset.Entry, args []any) (string, []any, error) {
	var conds []string
	for _, f := range e.Fields {
		if !f.PrimaryKey {
			continue
		}
		v := f.Original
		if v == nil {
			v = f.Current
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = %s", QuoteIdent(f.Name), t.dialect.Placeholder(len(args))))
	}
	if len(conds) == 0 {
		return "", nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, e.Table.Name)
	}
	return strings.Join(conds, " AND "), args, nil
}

// writeError wraps a driver error, marking key and unique constraint violations
// with ErrDuplicateKey. The driver error stays reachable through errors.As.
func writeError(verb, table string, err error) error {
	if isDuplicateKey(err) {
		return fmt.Errorf("failed to %s %s: %w: %w", verb, table, ErrDuplicateKey, err)
	}
	return fmt.Errorf("failed to %s %s: %w", verb, table, err)
}

func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
