// Package config loads audittrail settings from the environment.
//
// Values come from AUDIT_* variables. An optional .env file is read first
// (variables that are already set win), and an optional YAML file named by
// AUDIT_CONFIG_FILE overrides the monitored table list and archive settings.
//
// Database:
//
//	AUDIT_DATABASE_DRIVER="postgres"   # postgres or sqlite3
//	AUDIT_DATABASE_URL="postgres://localhost/identity?sslmode=disable"
//	AUDIT_DATABASE_REPLICA_URLS="postgres://replica-1/identity,postgres://replica-2/identity"
//	AUDIT_DATABASE_MAX_CONNS="20"
//
// Auditing and archival:
//
//	AUDIT_MONITORED_TABLES="users,roles,user_roles,user_claims"
//	AUDIT_ARCHIVE_RETENTION="24h"
//	AUDIT_ARCHIVE_SCHEDULE="0 3 * * *"
//	AUDIT_ARCHIVE_LOCK="local"         # local, redis or postgres
//	AUDIT_REDIS_URL="redis://localhost:6379/0"
//
// Server and observability:
//
//	AUDIT_HTTP_ADDR=":8080"
//	AUDIT_LOG_LEVEL="info"
//	AUDIT_METRICS_ENABLED="true"
//	AUDIT_OTEL_ENABLED="false"
//	AUDIT_OTEL_ENDPOINT="otel-collector:4317"
//
// WatchMonitoredTables follows the YAML file with fsnotify so the monitored set
// can change without a restart.
package config
