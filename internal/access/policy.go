package access

import (
	"context"
	"sort"

	"github.com/faucetdb/roleguard/internal/model"
)

// Classification is the site-wide protection level of an application.
type Classification string

const (
	ClassNone       Classification = ""
	ClassNotSecured Classification = "NOT_SECURED"
	ClassPublic     Classification = "PUBLIC"
	ClassSecured    Classification = "SECURED"
	ClassDisabled   Classification = "DISABLED"
)

// SitePolicy classifies applications by name.
type SitePolicy struct {
	classes map[string]Classification
}

// NewSitePolicy builds a policy from the four classification lists. When an
// app appears in several lists the first match in the order not secured,
// disabled, public, secured wins, mirroring the order checks are made in.
func NewSitePolicy(notSecured, public, secured, disabled []string) *SitePolicy {
	p := &SitePolicy{classes: make(map[string]Classification)}
	add := func(apps []string, c Classification) {
		for _, app := range apps {
			if _, ok := p.classes[app]; !ok {
				p.classes[app] = c
			}
		}
	}
	add(notSecured, ClassNotSecured)
	add(disabled, ClassDisabled)
	add(public, ClassPublic)
	add(secured, ClassSecured)
	return p
}

// Classify returns the classification of app, or ClassNone.
func (p *SitePolicy) Classify(app string) Classification {
	if p == nil {
		return ClassNone
	}
	return p.classes[app]
}

// Apps returns every classified app, sorted.
func (p *SitePolicy) Apps() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.classes))
	for app := range p.classes {
		out = append(out, app)
	}
	sort.Strings(out)
	return out
}

// Checker layers the site policy over the engine for views, and the
// superuser bypass for template sections.
type Checker struct {
	engine *Engine
	policy *SitePolicy
}

// NewChecker returns a Checker. A nil policy leaves every app unclassified.
func NewChecker(engine *Engine, policy *SitePolicy) *Checker {
	return &Checker{engine: engine, policy: policy}
}

// Engine returns the underlying decision engine.
func (c *Checker) Engine() *Engine {
	return c.engine
}

// Policy returns the site policy.
func (c *Checker) Policy() *SitePolicy {
	return c.policy
}

// CheckView decides access to a named view of app:
//
//  1. NOT_SECURED apps are always allowed, without a lookup.
//  2. DISABLED apps are always denied.
//  3. An enforced assignment for the view decides, by its access type:
//     public allows everyone, authenticated requires an authenticated
//     principal, by_role requires a shared role.
//  4. PUBLIC apps are allowed.
//  5. SECURED apps require an authenticated principal.
//  6. Anything else is allowed.
func (c *Checker) CheckView(ctx context.Context, p *model.Principal, app, view string) (Decision, error) {
	class := c.policy.Classify(app)
	switch class {
	case ClassNotSecured:
		return Decision{Allowed: true, Reason: ReasonAppNotSecured, Resource: view, Kind: model.KindView}, nil
	case ClassDisabled:
		return Decision{Allowed: false, Reason: ReasonAppDisabled, Resource: view, Kind: model.KindView}, nil
	}

	d, err := c.engine.Decide(ctx, p, view, model.KindView)
	if err != nil {
		return Decision{}, err
	}
	if d.Reason.Enforced() {
		return d, nil
	}

	switch class {
	case ClassPublic:
		d.Allowed, d.Reason = true, ReasonAppPublic
	case ClassSecured:
		if p != nil && p.Authenticated {
			d.Allowed, d.Reason = true, ReasonAppSecured
		} else {
			d.Allowed, d.Reason = false, ReasonNotAuthenticated
		}
	}
	return d, nil
}

// CheckTemplate decides access to a template section identified by flag.
// Superusers pass every template check.
func (c *Checker) CheckTemplate(ctx context.Context, p *model.Principal, flag string) (Decision, error) {
	if p != nil && p.Superuser {
		return Decision{Allowed: true, Reason: ReasonSuperuser, Resource: flag, Kind: model.KindTemplate}, nil
	}
	return c.engine.Decide(ctx, p, flag, model.KindTemplate)
}

// Check dispatches on kind. app is only used for views.
func (c *Checker) Check(ctx context.Context, p *model.Principal, app, resource string, kind model.ResourceKind) (Decision, error) {
	if kind == model.KindTemplate {
		return c.CheckTemplate(ctx, p, resource)
	}
	return c.CheckView(ctx, p, app, resource)
}
