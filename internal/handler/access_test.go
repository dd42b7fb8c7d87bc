package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faucetdb/roleguard/internal/access"
	"github.com/faucetdb/roleguard/internal/model"
	"github.com/faucetdb/roleguard/internal/openapi"
	"github.com/faucetdb/roleguard/internal/service"
)

type checkResult struct {
	Principal model.Principal `json:"principal"`
	Decision  access.Decision `json:"decision"`
}

func (e *testEnv) check(t *testing.T, body map[string]interface{}) checkResult {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/access/check", toJSON(t, body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res checkResult
	decodeJSON(t, rr, &res)
	return res
}

// ---------------------------------------------------------------------------
// POST /api/v1/access/check
// ---------------------------------------------------------------------------

func TestCheck_DashboardScenario(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment(t, "dashboard", "staff")

	staff := env.check(t, map[string]interface{}{
		"principal": map[string]interface{}{"subject": "s", "roles": []string{"staff"}},
		"resource":  "dashboard",
	})
	assert.True(t, staff.Decision.Allowed)
	assert.Equal(t, access.ReasonRoleMatched, staff.Decision.Reason)
	assert.True(t, staff.Principal.Authenticated, "a subject makes the principal authenticated")

	guest := env.check(t, map[string]interface{}{
		"principal": map[string]interface{}{"subject": "g", "roles": []string{"guest"}},
		"resource":  "dashboard",
	})
	assert.False(t, guest.Decision.Allowed)
	assert.Equal(t, access.ReasonNoMatchingRole, guest.Decision.Reason)

	open := env.check(t, map[string]interface{}{
		"principal": map[string]interface{}{"subject": "g", "roles": []string{"guest"}},
		"resource":  "public_page",
	})
	assert.True(t, open.Decision.Allowed)
	assert.Equal(t, access.ReasonNoAssignment, open.Decision.Reason)
}

func TestCheck_MembershipEnrichment(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment(t, "dashboard", "staff")
	require.NoError(t, env.store.GrantRole(t.Context(), "alice", "staff"))

	res := env.check(t, map[string]interface{}{
		"principal": map[string]interface{}{"subject": "alice"},
		"resource":  "dashboard",
	})
	assert.True(t, res.Decision.Allowed)
	assert.Equal(t, []string{"staff"}, res.Principal.Roles)
}

func TestCheck_SitePolicy(t *testing.T) {
	env := newTestEnv(t)

	disabled := env.check(t, map[string]interface{}{
		"principal": map[string]interface{}{"subject": "s", "roles": []string{"staff"}},
		"app":       "legacy",
		"resource":  "legacy:index",
	})
	assert.False(t, disabled.Decision.Allowed)
	assert.Equal(t, access.ReasonAppDisabled, disabled.Decision.Reason)

	anon := env.check(t, map[string]interface{}{
		"app":      "members",
		"resource": "members:home",
	})
	assert.False(t, anon.Decision.Allowed)
	assert.Equal(t, access.ReasonNotAuthenticated, anon.Decision.Reason)
}

func TestCheck_TemplateSuperuser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.ImportAssignments(t.Context(), strings.NewReader(`assignments:
  - resource: admin-links
    kind: template
    roles: [ops]
    enabled: true
`))
	require.NoError(t, err)

	plain := env.check(t, map[string]interface{}{
		"principal": map[string]interface{}{"subject": "u"},
		"resource":  "admin-links",
		"kind":      "template",
	})
	assert.False(t, plain.Decision.Allowed)

	root := env.check(t, map[string]interface{}{
		"principal": map[string]interface{}{"subject": "root", "superuser": true},
		"resource":  "admin-links",
		"kind":      "template",
	})
	assert.True(t, root.Decision.Allowed)
	assert.Equal(t, access.ReasonSuperuser, root.Decision.Reason)
}

func TestCheck_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing resource", map[string]interface{}{"principal": map[string]interface{}{"subject": "u"}}},
		{"unknown kind", map[string]interface{}{"resource": "x", "kind": "page"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/access/check", toJSON(t, tt.body))
			assertStatus(t, rr, http.StatusBadRequest)
		})
	}

	rr := env.do(t, "POST", "/api/v1/access/check", strings.NewReader("{not json"))
	assertStatus(t, rr, http.StatusBadRequest)
}

// ---------------------------------------------------------------------------
// GET /api/v1/access/me
// ---------------------------------------------------------------------------

func TestMe_PrincipalToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment(t, "dashboard", "staff")

	token, err := env.authSvc.IssuePrincipalToken(&model.Principal{
		Subject: "carol", Roles: []string{"staff"}, Authenticated: true,
	}, time.Hour)
	require.NoError(t, err)

	rr := env.do(t, "GET", "/api/v1/access/me?resource=dashboard", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res checkResult
	decodeJSON(t, rr, &res)
	assert.Equal(t, "carol", res.Principal.Subject)
	assert.True(t, res.Decision.Allowed)
}

func TestMe_TrustedHeaders(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment(t, "dashboard", "staff")

	rr := env.do(t, "GET", "/api/v1/access/me?resource=dashboard", nil,
		service.HeaderPrincipalSubject, "dave",
		service.HeaderPrincipalRoles, "guest, viewer")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res checkResult
	decodeJSON(t, rr, &res)
	assert.Equal(t, []string{"guest", "viewer"}, res.Principal.Roles)
	assert.False(t, res.Decision.Allowed)
}

func TestMe_PrincipalOnly(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/access/me", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]json.RawMessage
	decodeJSON(t, rr, &body)
	assert.Contains(t, body, "principal")
	assert.NotContains(t, body, "decision")
}

func TestMe_InvalidToken(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/access/me?resource=dashboard", nil, "Authorization", "Bearer not-a-token")
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// GET /api/v1/access/forward-auth
// ---------------------------------------------------------------------------

func TestForwardAuth(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment(t, "dashboard", "staff")

	tests := []struct {
		name    string
		uri     string
		headers []string
		want    int
	}{
		{"unmapped path", "/about", nil, http.StatusOK},
		{"guest denied", "/dashboard", []string{service.HeaderPrincipalSubject, "g", service.HeaderPrincipalRoles, "guest"}, http.StatusForbidden},
		{"anonymous denied", "/dashboard?tab=1", nil, http.StatusForbidden},
		{"unlisted method denied", "/dashboard", []string{HeaderForwardedMethod, "PROPFIND", service.HeaderPrincipalSubject, "g", service.HeaderPrincipalRoles, "guest"}, http.StatusForbidden},
		{"lowercase method denied", "/dashboard", []string{HeaderForwardedMethod, "get"}, http.StatusForbidden},
		{"trailing slash denied", "/dashboard/", nil, http.StatusForbidden},
		{"double slash denied", "//dashboard", nil, http.StatusForbidden},
		{"public app", "/pages/welcome", nil, http.StatusOK},
		{"disabled app", "/legacy/index.php", []string{service.HeaderPrincipalSubject, "s", service.HeaderPrincipalRoles, "staff"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := append([]string{HeaderForwardedURI, tt.uri}, tt.headers...)
			rr := env.do(t, "GET", "/api/v1/access/forward-auth", nil, headers...)
			assertStatus(t, rr, tt.want)
		})
	}
}

func TestForwardAuth_AllowedEchoesPrincipal(t *testing.T) {
	env := newTestEnv(t)
	env.seedAssignment(t, "dashboard", "staff")
	require.NoError(t, env.store.GrantRole(t.Context(), "erin", "ops"))

	rr := env.do(t, "GET", "/api/v1/access/forward-auth", nil,
		HeaderForwardedMethod, "GET",
		HeaderForwardedURI, "/dashboard",
		service.HeaderPrincipalSubject, "erin",
		service.HeaderPrincipalRoles, "staff")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "erin", rr.Header().Get(service.HeaderPrincipalSubject))
	assert.Equal(t, "staff,ops", rr.Header().Get(service.HeaderPrincipalRoles))
}

func TestForwardAuth_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/access/forward-auth", nil)
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "GET", "/api/v1/access/forward-auth", nil, HeaderForwardedURI, "relative/path")
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestForwardAuth_NoRouteTable(t *testing.T) {
	env := newTestEnv(t)
	h := NewAccessHandler(env.checker, env.authSvc, nil, nil, nil)

	req := httptest.NewRequest("GET", "/api/v1/access/forward-auth", nil)
	req.Header.Set(HeaderForwardedURI, "/dashboard")
	rr := httptest.NewRecorder()
	h.ForwardAuth(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

// ---------------------------------------------------------------------------
// GET /openapi.json
// ---------------------------------------------------------------------------

func TestOpenAPIHandler(t *testing.T) {
	h := NewOpenAPIHandler(openapi.Options{Version: "test"})

	req := httptest.NewRequest("GET", "http://roleguard.local/openapi.json", nil)
	rr := httptest.NewRecorder()
	h.ServeSpec(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var doc struct {
		OpenAPI string `json:"openapi"`
		Info    struct {
			Version string `json:"version"`
		} `json:"info"`
		Servers []struct {
			URL string `json:"url"`
		} `json:"servers"`
		Paths map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&doc))
	assert.Equal(t, "3.1.0", doc.OpenAPI)
	assert.Equal(t, "test", doc.Info.Version)
	require.Len(t, doc.Servers, 1)
	assert.Equal(t, "http://roleguard.local", doc.Servers[0].URL)
	assert.Contains(t, doc.Paths, "/api/v1/access/check")
}
