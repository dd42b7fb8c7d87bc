package guard

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/roleguard/internal/model"
)

// RouteTable resolves request paths to the (app, view) names used for
// access decisions. Patterns use chi syntax.
//
// Patterns and request paths are cleaned before matching, so "/admin/",
// "/admin" and "//admin" are the same route. Methods only narrow the rules
// sharing a pattern: a path that matches a pattern is always resolved to
// one of its rules, whatever the method.
type RouteTable struct {
	mux    *chi.Mux
	groups [][]model.RouteRule // rules per registered pattern
	rules  []model.RouteRule
}

type matchKey struct{}

// NewRouteTable compiles rules into a route table. It fails on a malformed
// pattern or a rule missing its view name.
func NewRouteTable(rules []model.RouteRule) (rt *RouteTable, err error) {
	rt = &RouteTable{mux: chi.NewRouter()}

	// chi panics on malformed patterns.
	defer func() {
		if r := recover(); r != nil {
			rt, err = nil, fmt.Errorf("invalid route pattern: %v", r)
		}
	}()

	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	rt.mux.NotFound(noop)
	rt.mux.MethodNotAllowed(noop)

	index := make(map[string]int)
	for _, rule := range rules {
		if rule.View == "" {
			return nil, fmt.Errorf("route %q: view name is required", rule.Pattern)
		}
		if !strings.HasPrefix(rule.Pattern, "/") {
			return nil, fmt.Errorf("route %q: pattern must start with /", rule.Pattern)
		}
		pattern := cleanPath(rule.Pattern)
		i, seen := index[pattern]
		if !seen {
			i = len(rt.groups)
			index[pattern] = i
			rt.groups = append(rt.groups, nil)
			rt.mux.Handle(pattern, recordMatch(i))
		}
		rt.groups[i] = append(rt.groups[i], rule)
		rt.rules = append(rt.rules, rule)
	}
	return rt, nil
}

// recordMatch returns the handler of the i-th pattern. It stores i in the
// slot carried by the request context.
func recordMatch(i int) http.Handler {
	return http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if slot, ok := r.Context().Value(matchKey{}).(*int); ok {
			*slot = i
		}
	})
}

// Match returns the rule for method and path. Among the rules of the
// matched pattern, the first one listing method (or listing no methods)
// wins; when none does, the first rule of the pattern is returned so the
// request is still checked.
func (rt *RouteTable) Match(method, p string) (model.RouteRule, bool) {
	if rt == nil || len(rt.groups) == 0 {
		return model.RouteRule{}, false
	}
	i, ok := rt.find(cleanPath(p))
	if !ok {
		return model.RouteRule{}, false
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	group := rt.groups[i]
	for _, rule := range group {
		if allowsMethod(rule.Methods, method) {
			return rule, true
		}
	}
	return group[0], true
}

// find routes the cleaned path through the mux. Catch-all patterns such as
// "/static/*" need the trailing slash that cleaning removed.
func (rt *RouteTable) find(p string) (int, bool) {
	if i, ok := rt.route(p); ok {
		return i, true
	}
	if p != "/" {
		return rt.route(p + "/")
	}
	return 0, false
}

func (rt *RouteTable) route(p string) (int, bool) {
	slot := -1
	ctx := context.WithValue(context.Background(), matchKey{}, &slot)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return 0, false
	}
	req.URL.Path = p
	req.URL.RawPath = ""
	rt.mux.ServeHTTP(nopResponseWriter{}, req)
	return slot, slot >= 0
}

// Resolve adapts the table to Middleware.
func (rt *RouteTable) Resolve(r *http.Request) (app, view string, ok bool) {
	rule, ok := rt.Match(r.Method, r.URL.Path)
	if !ok {
		return "", "", false
	}
	return rule.App, rule.View, true
}

// Rules returns every rule ordered by app, keeping configuration order
// within an app.
func (rt *RouteTable) Rules() []model.RouteRule {
	if rt == nil {
		return nil
	}
	out := append([]model.RouteRule(nil), rt.rules...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].App < out[j].App })
	return out
}

// cleanPath collapses repeated slashes and dot segments and drops the
// trailing slash, keeping a catch-all "/*" intact.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func allowsMethod(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

type nopResponseWriter struct{}

func (nopResponseWriter) Header() http.Header         { return http.Header{} }
func (nopResponseWriter) Write(b []byte) (int, error) { return len(b), nil }
func (nopResponseWriter) WriteHeader(int)             {}
