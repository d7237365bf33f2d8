// Package audit captures an audit trail for mutations made through a change set.
//
// # Overview
//
// Every pending entry of a changeset.Set whose table is monitored produces one
// Record in audit_logs, written in the same transaction as the mutation:
//
//   - Created: KeyValues and NewValues hold every field, OldValues is absent
//   - Modified: OldValues and NewValues hold exactly the changed fields
//   - Deleted: KeyValues and OldValues hold every field, NewValues is absent
//
// Rows whose primary key is assigned by the database are audited once the
// insert has returned the key, so KeyValues is never empty.
//
// # Usage Example
//
//	uow := storage.NewUnitOfWork(db, storage.Postgres)
//	coord := audit.NewCoordinator(uow, audit.NewSnapshotter(audit.DefaultMonitoredTables, nil))
//
//	set := changeset.NewSet(identity.Schema())
//	set.Add(identity.UsersTable, nil, map[string]any{"user_name": "alice"})
//
//	ctx = observability.WithUserID(ctx, "admin-1")
//	n, err := coord.Commit(ctx, set)
//
// # Value Encoding
//
// Field maps are stored as JSON objects with sorted keys. Integers, floats,
// timestamps and byte slices keep their Go type across Encode and Decode.
//
// # Reading
//
// DBStore searches, counts and exports records from either the hot table or the
// archive (Scope), and Handlers exposes the same operations under /api/auditlogs.
package audit
