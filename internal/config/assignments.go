package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/roleguard/internal/model"
)

const assignmentColumns = "id, resource_id, kind, access_type, enabled, description, created_at, updated_at"

// AssignmentFilter narrows ListAssignments. Zero values match everything.
type AssignmentFilter struct {
	Kind        model.ResourceKind
	Role        string
	EnabledOnly bool
}

// ---------------------------------------------------------------------------
// Role assignments
// ---------------------------------------------------------------------------

// FindAssignment returns the assignment for a resource of the given kind,
// or ErrNotFound when none exists. Disabled assignments are returned too;
// callers decide whether enforcement applies.
func (s *Store) FindAssignment(ctx context.Context, resource string, kind model.ResourceKind) (*model.RoleAssignment, error) {
	a, err := s.readAssignment(ctx, "resource_id = ? AND kind = ?", resource, string(kind))
	if err != nil {
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	return a, nil
}

// LookupAssignment is FindAssignment with a missing assignment reported as
// (nil, nil). It satisfies access.Source.
func (s *Store) LookupAssignment(ctx context.Context, resource string, kind model.ResourceKind) (*model.RoleAssignment, error) {
	a, err := s.FindAssignment(ctx, resource, kind)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// GetAssignment returns an assignment by ID.
func (s *Store) GetAssignment(ctx context.Context, id string) (*model.RoleAssignment, error) {
	a, err := s.readAssignment(ctx, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

// readAssignment loads one assignment row and its roles in a single
// transaction, so a concurrent role update or delete is seen entirely or
// not at all.
func (s *Store) readAssignment(ctx context.Context, where string, args ...interface{}) (*model.RoleAssignment, error) {
	tx, err := s.db.BeginTxx(ctx, s.dialect.readTx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var a model.RoleAssignment
	err = tx.GetContext(ctx, &a,
		s.q("SELECT "+assignmentColumns+" FROM role_assignments WHERE "+where), args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if a.Roles, err = s.assignmentRoles(ctx, tx, a.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &a, nil
}

// ListAssignments returns assignments ordered by kind and resource.
func (s *Store) ListAssignments(ctx context.Context, f AssignmentFilter) ([]model.RoleAssignment, error) {
	var list []model.RoleAssignment
	if err := s.db.SelectContext(ctx, &list,
		"SELECT "+assignmentColumns+" FROM role_assignments ORDER BY kind DESC, resource_id"); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}

	var links []struct {
		AssignmentID string `db:"assignment_id"`
		Role         string `db:"role_name"`
	}
	if err := s.db.SelectContext(ctx, &links,
		"SELECT assignment_id, role_name FROM assignment_roles ORDER BY role_name"); err != nil {
		return nil, fmt.Errorf("list assignment roles: %w", err)
	}
	byID := make(map[string][]string, len(list))
	for _, l := range links {
		byID[l.AssignmentID] = append(byID[l.AssignmentID], l.Role)
	}

	out := make([]model.RoleAssignment, 0, len(list))
	for _, a := range list {
		a.Roles = byID[a.ID]
		if a.Roles == nil {
			a.Roles = []string{}
		}
		if f.Kind != "" && a.Kind != f.Kind {
			continue
		}
		if f.EnabledOnly && !a.Enabled {
			continue
		}
		if f.Role != "" && !a.HasRole(f.Role) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// CreateAssignment inserts a new assignment together with its roles. A
// second assignment for the same resource and kind yields ErrConflict.
func (s *Store) CreateAssignment(ctx context.Context, a *model.RoleAssignment) error {
	now := time.Now().UTC()
	a.ID = newID()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Roles = normalizeRoles(a.Roles)
	a.Access = a.AccessType()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `INSERT INTO role_assignments
		(id, resource_id, kind, access_type, enabled, description, created_at, updated_at)
		VALUES
		(:id, :resource_id, :kind, :access_type, :enabled, :description, :created_at, :updated_at)`

	if _, err := tx.NamedExecContext(ctx, q, a); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("assignment for %s %q: %w", a.Kind, a.Resource, ErrConflict)
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	if err := s.insertRoles(ctx, tx, a.ID, a.Roles); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateAssignment replaces the mutable fields and the role set of an
// existing assignment.
func (s *Store) UpdateAssignment(ctx context.Context, a *model.RoleAssignment) error {
	a.UpdatedAt = time.Now().UTC()
	a.Roles = normalizeRoles(a.Roles)
	a.Access = a.AccessType()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `UPDATE role_assignments SET
		resource_id = :resource_id, kind = :kind, access_type = :access_type, enabled = :enabled,
		description = :description, updated_at = :updated_at
		WHERE id = :id`

	result, err := tx.NamedExecContext(ctx, q, a)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("assignment for %s %q: %w", a.Kind, a.Resource, ErrConflict)
		}
		return fmt.Errorf("update assignment: %w", err)
	}
	if err := checkAffected(result, "update assignment"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM assignment_roles WHERE assignment_id = ?"), a.ID); err != nil {
		return fmt.Errorf("delete assignment roles: %w", err)
	}
	if err := s.insertRoles(ctx, tx, a.ID, a.Roles); err != nil {
		return err
	}
	return tx.Commit()
}

// SetAssignmentRoles replaces the allowed roles of an assignment within a
// transaction.
func (s *Store) SetAssignmentRoles(ctx context.Context, id string, roles []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx,
		tx.Rebind("UPDATE role_assignments SET updated_at = ? WHERE id = ?"), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch assignment: %w", err)
	}
	if err := checkAffected(result, "touch assignment"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM assignment_roles WHERE assignment_id = ?"), id); err != nil {
		return fmt.Errorf("delete assignment roles: %w", err)
	}
	if err := s.insertRoles(ctx, tx, id, normalizeRoles(roles)); err != nil {
		return err
	}
	return tx.Commit()
}

// SetAssignmentEnabled toggles enforcement of an assignment.
func (s *Store) SetAssignmentEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE role_assignments SET enabled = ?, updated_at = ? WHERE id = ?"),
		enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set assignment enabled: %w", err)
	}
	return checkAffected(result, "set assignment enabled")
}

// DeleteAssignment removes an assignment and its roles.
func (s *Store) DeleteAssignment(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Explicit delete: SQLite only cascades with foreign_keys enabled.
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM assignment_roles WHERE assignment_id = ?"), id); err != nil {
		return fmt.Errorf("delete assignment roles: %w", err)
	}
	result, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM role_assignments WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	if err := checkAffected(result, "delete assignment"); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) assignmentRoles(ctx context.Context, db sqlx.QueryerContext, id string) ([]string, error) {
	roles := []string{}
	if err := sqlx.SelectContext(ctx, db, &roles,
		s.q("SELECT role_name FROM assignment_roles WHERE assignment_id = ? ORDER BY role_name"), id); err != nil {
		return nil, fmt.Errorf("get assignment roles: %w", err)
	}
	return roles, nil
}

func (s *Store) insertRoles(ctx context.Context, tx *sqlx.Tx, id string, roles []string) error {
	q := tx.Rebind("INSERT INTO assignment_roles (assignment_id, role_name) VALUES (?, ?)")
	for _, r := range roles {
		if _, err := tx.ExecContext(ctx, q, id, r); err != nil {
			return fmt.Errorf("insert assignment role %q: %w", r, err)
		}
	}
	return nil
}

// normalizeRoles drops empty names and duplicates and sorts the result.
func normalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Memberships
// ---------------------------------------------------------------------------

// GrantRole makes subject a member of role. Granting an existing membership
// is a no-op.
func (s *Store) GrantRole(ctx context.Context, subject, role string) error {
	_, err := s.db.ExecContext(ctx,
		s.q("INSERT INTO memberships (subject, role_name, created_at) VALUES (?, ?, ?)"),
		subject, role, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

// RevokeRole removes subject from role.
func (s *Store) RevokeRole(ctx context.Context, subject, role string) error {
	result, err := s.db.ExecContext(ctx,
		s.q("DELETE FROM memberships WHERE subject = ? AND role_name = ?"), subject, role)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return checkAffected(result, "revoke role")
}

// MemberRoles returns the roles subject belongs to.
func (s *Store) MemberRoles(ctx context.Context, subject string) ([]string, error) {
	roles := []string{}
	if err := s.db.SelectContext(ctx, &roles,
		s.q("SELECT role_name FROM memberships WHERE subject = ? ORDER BY role_name"), subject); err != nil {
		return nil, fmt.Errorf("member roles: %w", err)
	}
	return roles, nil
}

// ListMemberships returns memberships, optionally restricted to one role.
func (s *Store) ListMemberships(ctx context.Context, role string) ([]model.Membership, error) {
	var list []model.Membership
	var err error
	if role == "" {
		err = s.db.SelectContext(ctx, &list,
			"SELECT subject, role_name, created_at FROM memberships ORDER BY subject, role_name")
	} else {
		err = s.db.SelectContext(ctx, &list,
			s.q("SELECT subject, role_name, created_at FROM memberships WHERE role_name = ? ORDER BY subject"), role)
	}
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return list, nil
}

// ListRoleNames returns every role name referenced by an assignment or a
// membership.
func (s *Store) ListRoleNames(ctx context.Context) ([]string, error) {
	names := []string{}
	const q = `SELECT role_name FROM assignment_roles
		UNION
		SELECT role_name FROM memberships`
	if err := s.db.SelectContext(ctx, &names, q); err != nil {
		return nil, fmt.Errorf("list role names: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
