// Package access decides whether a principal may reach a protected view or
// template section.
//
// A resource is unrestricted until an administrator creates an enabled role
// assignment for it. Once enforced, access requires the principal to hold at
// least one of the assignment's roles, unless the assignment opens the
// resource to everyone or to any authenticated principal.
package access

import (
	"context"

	"go.uber.org/zap"

	"github.com/faucetdb/roleguard/internal/model"
)

// Source looks up the role assignment for a resource. It returns (nil, nil)
// when no assignment exists and a non-nil error only when the backing store
// could not be consulted.
type Source interface {
	LookupAssignment(ctx context.Context, resource string, kind model.ResourceKind) (*model.RoleAssignment, error)
}

// Reason explains a Decision.
type Reason string

const (
	ReasonNoAssignment        Reason = "no_assignment"
	ReasonEnforcementDisabled Reason = "enforcement_disabled"
	ReasonRoleMatched         Reason = "role_matched"
	ReasonNoMatchingRole      Reason = "no_matching_role"
	ReasonAccessPublic        Reason = "access_public"
	ReasonAccessAuthenticated Reason = "access_authenticated"
	ReasonAccessAnonymous     Reason = "access_anonymous"

	// Site policy and template reasons; see Checker.
	ReasonAppNotSecured    Reason = "app_not_secured"
	ReasonAppDisabled      Reason = "app_disabled"
	ReasonAppPublic        Reason = "app_public"
	ReasonAppSecured       Reason = "app_secured"
	ReasonNotAuthenticated Reason = "not_authenticated"
	ReasonSuperuser        Reason = "superuser"
)

// Enforced reports whether the reason comes from an enabled assignment.
func (r Reason) Enforced() bool {
	switch r {
	case ReasonRoleMatched, ReasonNoMatchingRole,
		ReasonAccessPublic, ReasonAccessAuthenticated, ReasonAccessAnonymous:
		return true
	}
	return false
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed    bool                  `json:"allowed"`
	Reason     Reason                `json:"reason"`
	Resource   string                `json:"resource"`
	Kind       model.ResourceKind    `json:"kind"`
	Assignment *model.RoleAssignment `json:"assignment,omitempty"`
}

// Engine evaluates principals against role assignments.
type Engine struct {
	source Source
	logger *zap.Logger
}

// NewEngine returns an Engine reading assignments from source. A nil logger
// disables decision logging.
func NewEngine(source Source, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{source: source, logger: logger}
}

// Decide looks up the assignment for (resource, kind) and evaluates the
// principal against it. A lookup failure returns a *LookupError and a zero
// Decision; it is never turned into allow or deny.
func (e *Engine) Decide(ctx context.Context, p *model.Principal, resource string, kind model.ResourceKind) (Decision, error) {
	a, err := e.source.LookupAssignment(ctx, resource, kind)
	if err != nil {
		return Decision{}, &LookupError{Resource: resource, Kind: kind, Err: err}
	}

	d := Evaluate(p, a)
	d.Resource = resource
	d.Kind = kind

	if ce := e.logger.Check(zap.DebugLevel, "access decision"); ce != nil {
		subject := ""
		if p != nil {
			subject = p.Subject
		}
		ce.Write(
			zap.String("subject", subject),
			zap.String("resource", resource),
			zap.String("kind", string(kind)),
			zap.Bool("allowed", d.Allowed),
			zap.String("reason", string(d.Reason)),
		)
	}
	return d, nil
}

// IsAllowed reports whether p may access the resource.
func (e *Engine) IsAllowed(ctx context.Context, p *model.Principal, resource string, kind model.ResourceKind) (bool, error) {
	d, err := e.Decide(ctx, p, resource, kind)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Require returns nil when p may access the resource, a *DeniedError
// (matching ErrForbidden) when it may not, and a *LookupError when the
// assignment could not be read.
func (e *Engine) Require(ctx context.Context, p *model.Principal, resource string, kind model.ResourceKind) error {
	d, err := e.Decide(ctx, p, resource, kind)
	if err != nil {
		return err
	}
	return d.Err(p)
}

// Evaluate applies the decision rule to an already loaded assignment. A nil
// assignment means none exists.
func Evaluate(p *model.Principal, a *model.RoleAssignment) Decision {
	switch {
	case a == nil:
		return Decision{Allowed: true, Reason: ReasonNoAssignment}
	case !a.Enabled:
		return Decision{Allowed: true, Reason: ReasonEnforcementDisabled, Assignment: a}
	}

	switch a.AccessType() {
	case model.AccessPublic:
		return Decision{Allowed: true, Reason: ReasonAccessPublic, Assignment: a}
	case model.AccessAuthenticated:
		if p != nil && p.Authenticated {
			return Decision{Allowed: true, Reason: ReasonAccessAuthenticated, Assignment: a}
		}
		return Decision{Allowed: false, Reason: ReasonAccessAnonymous, Assignment: a}
	}

	switch {
	case p.HasAnyRole(a.Roles):
		return Decision{Allowed: true, Reason: ReasonRoleMatched, Assignment: a}
	default:
		return Decision{Allowed: false, Reason: ReasonNoMatchingRole, Assignment: a}
	}
}

// Err converts a deny into a *DeniedError for p. It returns nil when the
// decision allows access.
func (d Decision) Err(p *model.Principal) error {
	if d.Allowed {
		return nil
	}
	subject := ""
	if p != nil {
		subject = p.Subject
	}
	return &DeniedError{Subject: subject, Resource: d.Resource, Kind: d.Kind, Reason: d.Reason}
}
