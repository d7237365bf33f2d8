// Package identity describes the identity tables whose mutations are audited.
//
// The tables mirror a typical identity store: users and user_claims carry
// database-assigned integer keys, roles use caller-chosen string keys, and
// user_roles is keyed by the (user_id, role_id) pair.
package identity

import (
	"context"
	"fmt"

	"github.com/platinummonkey/audittrail/pkg/changeset"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

const (
	UsersTable      = "users"
	RolesTable      = "roles"
	UserRolesTable  = "user_roles"
	UserClaimsTable = "user_claims"
)

var (
	// Users holds one row per account. is_deleted is a soft-delete flag.
	Users = changeset.NewTable(UsersTable,
		changeset.Column{Name: "id", PrimaryKey: true, Generated: true},
		changeset.Column{Name: "user_name"},
		changeset.Column{Name: "email"},
		changeset.Column{Name: "email_confirmed"},
		changeset.Column{Name: "phone_number"},
		changeset.Column{Name: "lockout_end"},
		changeset.Column{Name: "access_failed_count"},
		changeset.Column{Name: "is_deleted"},
	)

	Roles = changeset.NewTable(RolesTable,
		changeset.Column{Name: "id", PrimaryKey: true},
		changeset.Column{Name: "name"},
		changeset.Column{Name: "normalized_name"},
	)

	UserRoles = changeset.NewTable(UserRolesTable,
		changeset.Column{Name: "user_id", PrimaryKey: true},
		changeset.Column{Name: "role_id", PrimaryKey: true},
	)

	UserClaims = changeset.NewTable(UserClaimsTable,
		changeset.Column{Name: "id", PrimaryKey: true, Generated: true},
		changeset.Column{Name: "user_id"},
		changeset.Column{Name: "claim_type"},
		changeset.Column{Name: "claim_value"},
	)
)

// Schema returns the identity tables
func Schema() *changeset.Schema {
	return changeset.NewSchema(Users, Roles, UserRoles, UserClaims)
}

// TableNames returns the names of all identity tables
func TableNames() []string {
	return []string{UsersTable, RolesTable, UserRolesTable, UserClaimsTable}
}

// SchemaStatements returns the DDL creating the identity tables for dialect d
func SchemaStatements(d storage.Dialect) []string {
	ts := d.TimestampType()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
		id %s,
		user_name VARCHAR(256) NOT NULL,
		email VARCHAR(256),
		email_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		phone_number VARCHAR(32),
		lockout_end %s,
		access_failed_count INTEGER NOT NULL DEFAULT 0,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	)`, d.AutoIncrementKey(), ts),
		`CREATE TABLE IF NOT EXISTS roles (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(256) NOT NULL,
		normalized_name VARCHAR(256)
	)`,
		`CREATE TABLE IF NOT EXISTS user_roles (
		user_id BIGINT NOT NULL,
		role_id VARCHAR(64) NOT NULL,
		PRIMARY KEY (user_id, role_id)
	)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_claims (
		id %s,
		user_id BIGINT NOT NULL,
		claim_type VARCHAR(256) NOT NULL,
		claim_value TEXT
	)`, d.AutoIncrementKey()),
	}
}

// EnsureSchema creates the identity tables if they don't exist
func EnsureSchema(ctx context.Context, exec storage.Executor, d storage.Dialect) error {
	for _, stmt := range SchemaStatements(d) {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure identity tables: %w", err)
		}
	}
	return nil
}
