// Package changeset tracks pending entity mutations for a single unit of work.
//
// # Overview
//
// A Set holds one Entry per tracked entity. Each Entry carries a lifecycle State
// (Added, Modified, Deleted, Unchanged, Detached) and one Field per column with its
// original and current value. Columns that the storage engine assigns on insert
// (auto-increment keys, server defaults) are flagged Temporary until the unit of
// work writes them back after the INSERT.
//
// # Usage Example
//
//	set := changeset.NewSet(identity.Schema())
//
//	user, err := set.Add("users", nil, map[string]any{
//		"user_name": "alice",
//		"email":     "alice@example.com",
//	})
//
//	role, err := set.Attach("roles", nil, map[string]any{"id": int64(4), "name": "Support"})
//	err = role.SetValue("name", "Tier2Support") // role is now Modified
//
//	n, err := coordinator.Commit(ctx, set)
//
// # Related Packages
//
//   - pkg/storage: executes a Set against a database/sql transaction
//   - pkg/audit: snapshots a Set into audit drafts
package changeset
