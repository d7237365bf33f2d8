package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// Config holds database connection settings
type Config struct {
	Driver string
	URL    string
	// ReplicaURLs are read-only replicas used by the audit read API (postgres only)
	ReplicaURLs     []string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// ConnectTimeout bounds the initial ping of each pool
	ConnectTimeout time.Duration
}

// DefaultConfig returns pool settings suitable for a single service instance
func DefaultConfig() Config {
	return Config{
		Driver:          "postgres",
		MaxOpenConns:    20,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// ConnectionManager owns the primary pool and any read replicas
type ConnectionManager struct {
	dialect  Dialect
	primary  *sql.DB
	replicas []*sql.DB
	next     atomic.Uint32
}

// NewConnectionManager opens and pings the primary and every replica.
// A replica that cannot be reached is skipped and reported through the returned warnings.
func NewConnectionManager(ctx context.Context, cfg Config) (*ConnectionManager, []error, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("database URL is required")
	}
	if len(cfg.ReplicaURLs) > 0 && dialect != Postgres {
		return nil, nil, fmt.Errorf("read replicas require the postgres driver")
	}

	cfg.Driver = dialect.Name()

	primary, err := open(ctx, cfg, cfg.URL, cfg.MaxOpenConns)
	if err != nil {
		return nil, nil, fmt.Errorf("primary: %w", err)
	}

	cm := &ConnectionManager{dialect: dialect, primary: primary}

	var warnings []error
	for i, url := range cfg.ReplicaURLs {
		maxConns := cfg.MaxOpenConns / 2
		if maxConns < 2 {
			maxConns = 2
		}
		replica, err := open(ctx, cfg, url, maxConns)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("replica %d: %w", i, err))
			continue
		}
		cm.replicas = append(cm.replicas, replica)
	}
	return cm, warnings, nil
}

func open(ctx context.Context, cfg Config, url string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	if isSQLiteMemory(cfg.Driver, url) {
		// Every connection to :memory: is a separate database.
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func isSQLiteMemory(driver, url string) bool {
	return driver == "sqlite3" && (url == ":memory:" || url == "file::memory:")
}

// Dialect returns the SQL dialect of the managed pools
func (cm *ConnectionManager) Dialect() Dialect {
	return cm.dialect
}

// Primary returns the read-write pool
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read replica in round-robin order, or the primary when none is configured
func (cm *ConnectionManager) Replica() *sql.DB {
	if len(cm.replicas) == 0 {
		return cm.primary
	}
	i := cm.next.Add(1)
	return cm.replicas[int(i%uint32(len(cm.replicas)))]
}

// ReplicaCount returns the number of reachable replicas
func (cm *ConnectionManager) ReplicaCount() int {
	return len(cm.replicas)
}

// Stats returns the primary pool statistics
func (cm *ConnectionManager) Stats() sql.DBStats {
	return cm.primary.Stats()
}

// HealthCheck pings the primary and every replica
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}
	var errs []error
	for i, replica := range cm.replicas {
		if err := replica.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("replica %d unhealthy: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every pool
func (cm *ConnectionManager) Close() error {
	errs := []error{cm.primary.Close()}
	for _, replica := range cm.replicas {
		errs = append(errs, replica.Close())
	}
	return errors.Join(errs...)
}
