// Package archival moves aged audit records from the hot audit_logs table to
// audit_log_archives.
//
// An Archiver run selects every hot record older than a cutoff, copies it into
// the archive keeping its id, and deletes it from the hot table, all in one
// transaction. Runs are single-flight through a lock.Locker, so overlapping
// triggers from the scheduler, the CLI and the HTTP endpoint never interleave.
//
//	archiver, err := archival.NewArchiver(db, storage.Postgres, lock.NewPostgresLocker(db),
//		archival.Config{Retention: 24 * time.Hour})
//	res, err := archiver.Archive(ctx, nil)
//
// Scheduler runs the archiver on a cron expression; Handlers exposes
// POST /api/auditlogs/archive.
package archival
