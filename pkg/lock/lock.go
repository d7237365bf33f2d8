// Package lock provides non-blocking mutual exclusion for single-flight jobs.
//
// A Locker either grants a Lease immediately or returns ErrNotAcquired; it
// never waits for the current holder. LocalLocker covers one process,
// RedisLocker and PostgresLocker cover a fleet, and Chain combines them.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotAcquired is returned when the lock is held by someone else
var ErrNotAcquired = errors.New("lock is held by another owner")

// Lease is a granted lock. Release is idempotent.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker grants exclusive leases on named keys
type Locker interface {
	// TryLock acquires key without waiting. ttl bounds how long a crashed holder
	// can keep the lock for implementations that support expiry.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Chain acquires every locker in order and releases them in reverse order.
// When any locker fails, the leases already granted are released.
type Chain []Locker

// TryLock implements Locker
func (c Chain) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	leases := make(chainLease, 0, len(c))
	for _, l := range c {
		lease, err := l.TryLock(ctx, key, ttl)
		if err != nil {
			if relErr := leases.Release(ctx); relErr != nil {
				return nil, errors.Join(err, relErr)
			}
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

type chainLease []Lease

func (c chainLease) Release(ctx context.Context) error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to release lock: %w", errors.Join(errs...))
	}
	return nil
}
