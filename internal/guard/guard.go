// Package guard enforces access decisions on HTTP requests, either as
// middleware in front of a whole router or as a per-handler decorator.
package guard

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/faucetdb/roleguard/internal/access"
	"github.com/faucetdb/roleguard/internal/model"
	"github.com/faucetdb/roleguard/internal/service"
)

// DefaultForbiddenMessage is the body of a 403 response when none is
// configured.
const DefaultForbiddenMessage = "403 Forbidden"

// PrincipalFunc returns the principal making a request.
type PrincipalFunc func(r *http.Request) (*model.Principal, error)

// Resolver maps a request to the app and view protecting it. ok is false
// for requests outside any known route; those pass through unchecked.
type Resolver func(r *http.Request) (app, view string, ok bool)

// Options shapes deny responses.
type Options struct {
	// RedirectURL, when set, turns denials into a 302 to this URL.
	RedirectURL string
	// Message is the 403 body. Defaults to DefaultForbiddenMessage.
	Message string
	Logger  *zap.Logger
}

type ctxKey int

const (
	principalKey ctxKey = iota
	decisionKey
)

// Guard checks requests against an access.Checker.
type Guard struct {
	checker   *access.Checker
	principal PrincipalFunc
	opts      Options
	logger    *zap.Logger

	mu        sync.RWMutex
	decorated map[string]struct{}
}

// New returns a Guard.
func New(checker *access.Checker, principal PrincipalFunc, opts Options) *Guard {
	if opts.Message == "" {
		opts.Message = DefaultForbiddenMessage
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		checker:   checker,
		principal: principal,
		opts:      opts,
		logger:    logger,
		decorated: make(map[string]struct{}),
	}
}

// Middleware checks every request that resolve maps to a view.
func (g *Guard) Middleware(resolve Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			app, view, ok := resolve(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if r, ok = g.Authorize(w, r, app, view); ok {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// Protect wraps a single handler with the access check for view of app and
// records the view as decorated.
func (g *Guard) Protect(app, view string, h http.Handler) http.Handler {
	g.mu.Lock()
	g.decorated[view] = struct{}{}
	g.mu.Unlock()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r, ok := g.Authorize(w, r, app, view); ok {
			h.ServeHTTP(w, r)
		}
	})
}

// Decorated reports whether view was wrapped with Protect.
func (g *Guard) Decorated(view string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.decorated[view]
	return ok
}

// DecoratedViews lists views wrapped with Protect.
func (g *Guard) DecoratedViews() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.decorated))
	for v := range g.decorated {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Authorize checks access to view and, on deny or failure, writes the
// response itself. On success it returns the request carrying the principal
// and decision in its context.
func (g *Guard) Authorize(w http.ResponseWriter, r *http.Request, app, view string) (*http.Request, bool) {
	p, err := g.principal(r)
	if err != nil {
		g.writeIdentityError(w, r, err)
		return r, false
	}
	if p == nil {
		p = model.Anonymous()
	}

	d, err := g.checker.CheckView(r.Context(), p, app, view)
	if err != nil {
		g.logger.Error("access lookup failed",
			zap.String("app", app),
			zap.String("view", view),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return r, false
	}
	if !d.Allowed {
		g.logger.Info("access denied",
			zap.String("subject", p.Subject),
			zap.String("app", app),
			zap.String("view", view),
			zap.String("reason", string(d.Reason)))
		g.Deny(w, r)
		return r, false
	}

	ctx := context.WithValue(r.Context(), principalKey, p)
	ctx = context.WithValue(ctx, decisionKey, d)
	return r.WithContext(ctx), true
}

// CheckView is the predicate form of the view check for the request's
// principal.
func (g *Guard) CheckView(r *http.Request, app, view string) (bool, error) {
	p, err := g.principal(r)
	if err != nil {
		return false, err
	}
	d, err := g.checker.CheckView(r.Context(), p, app, view)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// CheckTemplate reports whether the request's principal may see the
// template section identified by flag.
func (g *Guard) CheckTemplate(r *http.Request, flag string) (bool, error) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		var err error
		if p, err = g.principal(r); err != nil {
			return false, err
		}
	}
	d, err := g.checker.CheckTemplate(r.Context(), p, flag)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// TemplateFuncs returns template functions bound to r. checkRole takes a
// template flag; a lookup failure aborts template execution.
func (g *Guard) TemplateFuncs(r *http.Request) map[string]any {
	return map[string]any{
		"checkRole": func(flag string) (bool, error) {
			return g.CheckTemplate(r, flag)
		},
	}
}

// Deny writes the configured deny response.
func (g *Guard) Deny(w http.ResponseWriter, r *http.Request) {
	if g.opts.RedirectURL != "" {
		http.Redirect(w, r, g.opts.RedirectURL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(g.opts.Message))
}

func (g *Guard) writeIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrInvalidCredentials) || errors.Is(err, service.ErrTokenExpired) {
		if g.opts.RedirectURL != "" {
			http.Redirect(w, r, g.opts.RedirectURL, http.StatusFound)
			return
		}
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	g.logger.Error("principal lookup failed", zap.String("path", r.URL.Path), zap.Error(err))
	http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
}

// PrincipalFromContext returns the principal attached by a successful check.
func PrincipalFromContext(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalKey).(*model.Principal)
	return p
}

// DecisionFromContext returns the decision attached by a successful check.
func DecisionFromContext(ctx context.Context) (access.Decision, bool) {
	d, ok := ctx.Value(decisionKey).(access.Decision)
	return d, ok
}
