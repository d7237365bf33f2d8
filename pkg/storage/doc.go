// Package storage writes tracked change sets to a SQL database.
//
// A UnitOfWork opens one transaction per commit. Tx.Flush turns every pending
// changeset.Entry into an INSERT, UPDATE or DELETE, and may be called more than
// once before Commit, so rows written by a later flush can reference keys the
// database generated during an earlier one:
//
//	tx, err := uow.Begin(ctx)
//	if err != nil {
//		return err
//	}
//	defer tx.Rollback()
//
//	if _, err := tx.Flush(ctx, set.Pending()); err != nil {
//		return err
//	}
//	return tx.Commit()
//
// Generated values come back through RETURNING, which both supported dialects
// (Postgres via lib/pq and SQLite via mattn/go-sqlite3) understand. UPDATE and
// DELETE locate rows by their original key values and fail with
// ErrConcurrencyConflict when nothing matched.
//
// Stores that must share the commit transaction read it from the context with
// ExecutorFrom. ConnectionManager opens the primary pool and optional read
// replicas.
package storage
