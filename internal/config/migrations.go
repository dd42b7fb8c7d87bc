package config

import (
	"fmt"
	"strings"
)

// schema returns the idempotent DDL statements for d, in dependency order.
func (d *dialect) schema() []string {
	t := func(table, body string) string {
		r := strings.NewReplacer(
			"{bool}", d.boolType,
			"{time}", d.timeType,
			"{true}", d.trueValue,
		)
		return d.createTable(table, r.Replace(body))
	}

	return []string{
		t("role_assignments", `
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			resource_id VARCHAR(255) NOT NULL,
			kind VARCHAR(16) NOT NULL,
			access_type VARCHAR(16) NOT NULL DEFAULT 'by_role',
			enabled {bool} NOT NULL DEFAULT {true},
			description VARCHAR(1024) NOT NULL DEFAULT '',
			created_at {time} NOT NULL,
			updated_at {time} NOT NULL,
			CONSTRAINT uq_role_assignments_resource UNIQUE (resource_id, kind)`),

		t("assignment_roles", `
			assignment_id VARCHAR(36) NOT NULL REFERENCES role_assignments(id) ON DELETE CASCADE,
			role_name VARCHAR(150) NOT NULL,
			PRIMARY KEY (assignment_id, role_name)`),

		t("memberships", `
			subject VARCHAR(255) NOT NULL,
			role_name VARCHAR(150) NOT NULL,
			created_at {time} NOT NULL,
			PRIMARY KEY (subject, role_name)`),

		t("admins", `
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			is_active {bool} NOT NULL DEFAULT {true},
			last_login_at {time} NULL,
			created_at {time} NOT NULL,
			updated_at {time} NOT NULL`),

		t("api_keys", `
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			key_hash VARCHAR(64) NOT NULL UNIQUE,
			key_prefix VARCHAR(32) NOT NULL,
			label VARCHAR(255) NOT NULL DEFAULT '',
			is_active {bool} NOT NULL DEFAULT {true},
			expires_at {time} NULL,
			created_at {time} NOT NULL,
			last_used {time} NULL`),
	}
}

func (s *Store) migrate() error {
	for _, m := range s.dialect.schema() {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
