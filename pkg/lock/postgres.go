package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// PostgresLocker is a fleet-wide Locker backed by session-level advisory locks.
// Each lease pins one pooled connection until it is released; the lock is also
// dropped by the server when that connection dies.
type PostgresLocker struct {
	db *sql.DB
}

// NewPostgresLocker creates an advisory-lock locker on db
func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

// AdvisoryKey maps a lock name to the bigint key used by pg_try_advisory_lock
func AdvisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// TryLock implements Locker. ttl is ignored.
func (l *PostgresLocker) TryLock(ctx context.Context, key string, _ time.Duration) (Lease, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection for advisory lock: %w", err)
	}

	id := AdvisoryKey(key)
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&ok); err != nil {
		conn.Close()
		return nil, fmt.Errorf("advisory lock failed: %w", err)
	}
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}
	return &postgresLease{conn: conn, id: id}, nil
}

type postgresLease struct {
	conn *sql.Conn
	id   int64

	once sync.Once
	err  error
}

func (l *postgresLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		defer l.conn.Close()
		var released bool
		if err := l.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.id).Scan(&released); err != nil {
			l.err = fmt.Errorf("advisory unlock failed: %w", err)
			return
		}
		if !released {
			l.err = fmt.Errorf("advisory lock %d was not held", l.id)
		}
	})
	return l.err
}
