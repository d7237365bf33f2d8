package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/audittrail/pkg/audit"
	"github.com/platinummonkey/audittrail/pkg/observability"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

// Archive lock backends
const (
	LockLocal    = "local"
	LockRedis    = "redis"
	LockPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      storage.Config
	Audit         AuditConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig

	// File is the optional YAML overlay (AUDIT_CONFIG_FILE)
	File string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// AuditConfig holds audit capture settings
type AuditConfig struct {
	MonitoredTables []string
}

// ArchiveConfig holds archival settings
type ArchiveConfig struct {
	Retention time.Duration
	Schedule  string
	// RunTimeout bounds one scheduled run; zero means unbounded
	RunTimeout time.Duration
	Lock       string
	LockKey    string
	LockTTL    time.Duration
	RedisURL   string
}

// ObservabilityConfig holds logging, metrics and tracing settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// Load reads configuration from the environment. Variables already set win over
// the given .env files, which are skipped when missing. When AUDIT_CONFIG_FILE
// names a YAML file, its values are applied on top.
func Load(envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	env := &envReader{}
	cfg := &Config{
		Server:        loadServerConfig(env),
		Database:      loadDatabaseConfig(env),
		Audit:         loadAuditConfig(env),
		Archive:       loadArchiveConfig(env),
		Observability: loadObservabilityConfig(env),
		File:          env.str("AUDIT_CONFIG_FILE", ""),
	}
	if err := errors.Join(env.errs...); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if cfg.File != "" {
		fc, err := LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		if err := fc.apply(cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", cfg.File, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

func loadServerConfig(env *envReader) ServerConfig {
	return ServerConfig{
		Addr:            env.str("AUDIT_HTTP_ADDR", ":8080"),
		ReadTimeout:     env.duration("AUDIT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    env.duration("AUDIT_HTTP_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     env.duration("AUDIT_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: env.duration("AUDIT_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig(env *envReader) storage.Config {
	cfg := storage.DefaultConfig()
	cfg.Driver = env.str("AUDIT_DATABASE_DRIVER", cfg.Driver)
	cfg.URL = env.str("AUDIT_DATABASE_URL", "")
	cfg.ReplicaURLs = env.list("AUDIT_DATABASE_REPLICA_URLS", nil)
	cfg.MaxOpenConns = env.int("AUDIT_DATABASE_MAX_CONNS", cfg.MaxOpenConns)
	cfg.MaxIdleConns = env.int("AUDIT_DATABASE_MAX_IDLE_CONNS", cfg.MaxIdleConns)
	cfg.ConnectTimeout = env.duration("AUDIT_DATABASE_TIMEOUT", cfg.ConnectTimeout)
	return cfg
}

func loadAuditConfig(env *envReader) AuditConfig {
	return AuditConfig{
		MonitoredTables: env.list("AUDIT_MONITORED_TABLES", audit.DefaultMonitoredTables),
	}
}

func loadArchiveConfig(env *envReader) ArchiveConfig {
	return ArchiveConfig{
		Retention:  env.duration("AUDIT_ARCHIVE_RETENTION", 24*time.Hour),
		Schedule:   env.str("AUDIT_ARCHIVE_SCHEDULE", "0 3 * * *"),
		RunTimeout: env.duration("AUDIT_ARCHIVE_RUN_TIMEOUT", 30*time.Minute),
		Lock:       strings.ToLower(env.str("AUDIT_ARCHIVE_LOCK", LockLocal)),
		LockKey:    env.str("AUDIT_ARCHIVE_LOCK_KEY", "audittrail:archive"),
		LockTTL:    env.duration("AUDIT_ARCHIVE_LOCK_TTL", 10*time.Minute),
		RedisURL:   env.str("AUDIT_REDIS_URL", ""),
	}
}

func loadObservabilityConfig(env *envReader) ObservabilityConfig {
	level, err := observability.ParseLogLevel(env.str("AUDIT_LOG_LEVEL", "info"))
	if err != nil {
		env.errs = append(env.errs, fmt.Errorf("AUDIT_LOG_LEVEL: %w", err))
	}
	return ObservabilityConfig{
		LogLevel:           level,
		MetricsEnabled:     env.bool("AUDIT_METRICS_ENABLED", true),
		OTelEnabled:        env.bool("AUDIT_OTEL_ENABLED", false),
		OTelEndpoint:       env.str("AUDIT_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    env.str("AUDIT_OTEL_SERVICE_NAME", "audittrail"),
		OTelServiceVersion: env.str("AUDIT_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       env.bool("AUDIT_OTEL_INSECURE", true),
		OTelSampleRatio:    env.float("AUDIT_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("http address is required")
	}

	dialect, err := storage.DialectFor(c.Database.Driver)
	if err != nil {
		return err
	}
	if c.Database.URL == "" {
		return fmt.Errorf("AUDIT_DATABASE_URL is required")
	}

	for _, table := range c.Audit.MonitoredTables {
		if table == "" {
			return fmt.Errorf("monitored table names must not be empty")
		}
	}

	if c.Archive.Retention <= 0 {
		return fmt.Errorf("archive retention must be positive, got %s", c.Archive.Retention)
	}
	if _, err := cron.ParseStandard(c.Archive.Schedule); err != nil {
		return fmt.Errorf("invalid archive schedule %q: %w", c.Archive.Schedule, err)
	}
	if c.Archive.LockTTL <= 0 {
		return fmt.Errorf("archive lock TTL must be positive, got %s", c.Archive.LockTTL)
	}
	switch c.Archive.Lock {
	case LockLocal:
	case LockRedis:
		if c.Archive.RedisURL == "" {
			return fmt.Errorf("AUDIT_REDIS_URL is required for the redis archive lock")
		}
	case LockPostgres:
		if dialect != storage.Postgres {
			return fmt.Errorf("the postgres archive lock requires the postgres database driver")
		}
	default:
		return fmt.Errorf("invalid archive lock: %s (must be local, redis, or postgres)", c.Archive.Lock)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
	}
	return nil
}

// envReader reads typed environment variables and collects parse errors
// instead of silently falling back to defaults.
type envReader struct {
	errs []error
}

func (r *envReader) str(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) bool(key string, defaultValue bool) bool {
	value := r.str(key, "")
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}

func (r *envReader) int(key string, defaultValue int) int {
	value := r.str(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func (r *envReader) float(key string, defaultValue float64) float64 {
	value := r.str(key, "")
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return f
}

func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := r.str(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

// list splits a comma separated variable, dropping blanks
func (r *envReader) list(key string, defaultValue []string) []string {
	value := r.str(key, "")
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	return splitList(value)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
