package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/faucetdb/roleguard/internal/access"
	"github.com/faucetdb/roleguard/internal/model"
)

// Analysis texts. Warnings and errors carry their prefix so console output
// reads the same as the CSV status column.
const (
	NotSecuredText = `WARNING: View belongs to an application of type "NOT_SECURED". No access is checked at all.`
	DisabledText   = `WARNING: Application is DISABLED. All access is forbidden.`
	SecuredText    = `No role assignment for the view and application type is "SECURED". User is required to be authenticated to access the view.`
	PublicText     = `No role assignment for the view and application type is "PUBLIC". Anonymous user can access the view.`
	NoTypeText     = `ERROR: The view is guarded, but has no application or the application has no type, and there is no role assignment for it. Access to the view is determined by the view implementation.`
	UnguardedText  = `No roleguard tool used. Access to the view depends on its implementation.`
	NoGuardText    = `ERROR: Role assignment exists for the view, but no guard is used: neither Protect nor the guard middleware.`
	NoRolesText    = `ERROR: No roles configured to access the view.`
	rolesPrefix    = `Roles with access: `

	PublicAccessText        = `View access is of type "public". Anonymous user can access the view.`
	AuthenticatedAccessText = `View access is of type "authenticated". User is required to be authenticated to access the view.`
)

// Options describe how the site uses the guard.
type Options struct {
	// MiddlewareActive is true when every routed request passes the guard
	// middleware.
	MiddlewareActive bool
	// Decorated reports views wrapped with Protect, in addition to rules
	// marked decorated. May be nil.
	Decorated func(view string) bool
}

// Build analyzes every rule. Rules are grouped by app; apps classified by
// the policy but without routes are listed with no views.
func Build(ctx context.Context, src access.Source, policy *access.SitePolicy, rules []model.RouteRule, opts Options) (*Report, error) {
	rep := &Report{
		GeneratedAt:      time.Now().UTC(),
		MiddlewareActive: opts.MiddlewareActive,
	}

	byApp := make(map[string]*AppReport)
	appFor := func(name string) *AppReport {
		if a, ok := byApp[name]; ok {
			return a
		}
		a := &AppReport{Name: name, Classification: policy.Classify(name), Views: []ViewReport{}}
		byApp[name] = a
		return a
	}
	for _, name := range policy.Apps() {
		appFor(name)
	}

	for _, rule := range rules {
		appName := rule.App
		if appName == "" {
			appName = UndefinedApp
		}
		app := appFor(appName)

		decorated := rule.Decorated || (opts.Decorated != nil && opts.Decorated(rule.View))
		var a *model.RoleAssignment
		if app.Classification != access.ClassNotSecured && app.Classification != access.ClassDisabled {
			var err error
			a, err = src.LookupAssignment(ctx, rule.View, model.KindView)
			if err != nil {
				return nil, &access.LookupError{Resource: rule.View, Kind: model.KindView, Err: err}
			}
		}

		status, text := Analyze(app.Classification, a, opts.MiddlewareActive, decorated)
		switch status {
		case StatusError:
			rep.Errors++
		case StatusWarning:
			rep.Warnings++
		}
		app.Views = append(app.Views, ViewReport{
			View:        rule.View,
			URL:         rule.Pattern,
			Decorated:   decorated,
			Enforced:    a != nil && a.Enabled,
			Status:      status,
			Description: text,
		})
	}

	names := make([]string, 0, len(byApp))
	for name := range byApp {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rep.Apps = append(rep.Apps, *byApp[name])
	}
	return rep, nil
}

// Analyze explains the effective protection of one view. a is the stored
// assignment or nil; a disabled assignment counts as none.
func Analyze(class access.Classification, a *model.RoleAssignment, middleware, decorated bool) (Status, string) {
	switch class {
	case access.ClassNotSecured:
		return statusOf(NotSecuredText)
	case access.ClassDisabled:
		return statusOf(DisabledText)
	}

	enforced := a != nil && a.Enabled
	if middleware || decorated {
		if enforced {
			return statusOf(rolesText(a))
		}
		return statusOf(defaultText(class))
	}
	if enforced {
		return statusOf(NoGuardText)
	}
	return StatusNormal, UnguardedText
}

func rolesText(a *model.RoleAssignment) string {
	switch a.AccessType() {
	case model.AccessPublic:
		return PublicAccessText
	case model.AccessAuthenticated:
		return AuthenticatedAccessText
	}
	if len(a.Roles) == 0 {
		return NoRolesText
	}
	return rolesPrefix + strings.Join(a.Roles, ", ")
}

func defaultText(class access.Classification) string {
	switch class {
	case access.ClassSecured:
		return SecuredText
	case access.ClassPublic:
		return PublicText
	default:
		return NoTypeText
	}
}

func statusOf(text string) (Status, string) {
	switch {
	case strings.HasPrefix(text, "ERROR: "):
		return StatusError, text
	case strings.HasPrefix(text, "WARNING: "):
		return StatusWarning, text
	default:
		return StatusNormal, text
	}
}

// stripPrefix drops the ERROR:/WARNING: marker for the CSV description.
func stripPrefix(text string) string {
	for _, p := range []string{"ERROR: ", "WARNING: "} {
		if strings.HasPrefix(text, p) {
			return strings.TrimPrefix(text, p)
		}
	}
	return text
}

// Summary is a one-line count of the findings.
func (r *Report) Summary() string {
	views := 0
	for _, a := range r.Apps {
		views += len(a.Views)
	}
	return fmt.Sprintf("%d apps, %d views, %d errors, %d warnings", len(r.Apps), views, r.Errors, r.Warnings)
}
