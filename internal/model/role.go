package model

import (
	"strings"
	"time"
)

// ResourceKind distinguishes the two kinds of protected resources.
type ResourceKind string

const (
	// KindView protects a named view (a route handler), e.g. "blog:post-edit".
	KindView ResourceKind = "view"
	// KindTemplate protects a section of template content identified by a flag.
	KindTemplate ResourceKind = "template"
)

// Valid reports whether k is one of the known resource kinds.
func (k ResourceKind) Valid() bool {
	return k == KindView || k == KindTemplate
}

// ParseResourceKind parses a kind name. An empty string defaults to KindView.
func ParseResourceKind(s string) (ResourceKind, bool) {
	switch ResourceKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindView:
		return KindView, true
	case KindTemplate:
		return KindTemplate, true
	default:
		return "", false
	}
}

// AccessType selects how an enabled assignment admits principals.
type AccessType string

const (
	// AccessByRole admits principals holding one of the assignment's roles.
	AccessByRole AccessType = "by_role"
	// AccessPublic admits everyone, including anonymous principals.
	AccessPublic AccessType = "public"
	// AccessAuthenticated admits any authenticated principal.
	AccessAuthenticated AccessType = "authenticated"
)

// Valid reports whether t is one of the known access types.
func (t AccessType) Valid() bool {
	return t == AccessByRole || t == AccessPublic || t == AccessAuthenticated
}

// ParseAccessType parses an access type name. An empty string defaults to
// AccessByRole.
func ParseAccessType(s string) (AccessType, bool) {
	switch t := AccessType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return AccessByRole, true
	case AccessByRole, AccessPublic, AccessAuthenticated:
		return t, true
	default:
		return "", false
	}
}

// RoleAssignment binds a protected resource to the set of roles allowed to
// reach it. Only enabled assignments are enforced; a resource without an
// enabled assignment is unrestricted.
type RoleAssignment struct {
	ID          string       `json:"id" db:"id" yaml:"-"`
	Resource    string       `json:"resource" db:"resource_id" yaml:"resource" validate:"required,max=255"`
	Kind        ResourceKind `json:"kind" db:"kind" yaml:"kind" validate:"required,oneof=view template"`
	Access      AccessType   `json:"access" db:"access_type" yaml:"access,omitempty" validate:"omitempty,oneof=by_role public authenticated"`
	Roles       []string     `json:"roles" yaml:"roles" validate:"dive,required,max=150"`
	Enabled     bool         `json:"enabled" db:"enabled" yaml:"enabled"`
	Description string       `json:"description" db:"description" yaml:"description,omitempty" validate:"max=1024"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at" yaml:"-"`
}

// AccessType returns the assignment's access type, AccessByRole when unset.
func (a *RoleAssignment) AccessType() AccessType {
	if a.Access == "" {
		return AccessByRole
	}
	return a.Access
}

// HasRole reports whether role is in the assignment's allowed set.
func (a *RoleAssignment) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Membership records that a subject belongs to a role. It is the
// group-membership relation normally owned by the host identity system.
type Membership struct {
	Subject   string    `json:"subject" db:"subject"`
	Role      string    `json:"role" db:"role_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
