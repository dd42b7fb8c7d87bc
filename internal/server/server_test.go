package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/roleguard/internal/access"
	"github.com/faucetdb/roleguard/internal/config"
	"github.com/faucetdb/roleguard/internal/guard"
	"github.com/faucetdb/roleguard/internal/mcp"
	"github.com/faucetdb/roleguard/internal/model"
	"github.com/faucetdb/roleguard/internal/service"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret = "test-secret-for-jwt-integration-tests"
	testPassword  = "supersecretpassword"
	testAdminName = "Test Admin"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server  *Server
	store   *config.Store
	authSvc *service.AuthService
	cache   *access.CachedSource
}

// newTestEnv creates a fresh test environment with an in-memory config store
// and a fully wired Server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, DefaultConfig())
}

func newTestEnvWithConfig(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	authSvc := service.NewAuthService(store, testJWTSecret, service.AuthOptions{
		TrustHeaders: true,
		Memberships:  true,
	})
	cache := access.NewCachedSource(store, 100, time.Minute)
	policy := access.NewSitePolicy([]string{"static"}, []string{"pages"}, []string{"members"}, []string{"legacy"})
	checker := access.NewChecker(access.NewEngine(cache, nil), policy)

	routes, err := guard.NewRouteTable([]model.RouteRule{
		{App: "main", View: "dashboard", Pattern: "/dashboard"},
		{App: "pages", View: "public_page", Pattern: "/pages/{slug}"},
		{App: "legacy", View: "legacy:index", Pattern: "/legacy/*"},
	})
	if err != nil {
		t.Fatalf("NewRouteTable: %v", err)
	}
	g := guard.New(checker, authSvc.PrincipalFromRequest, guard.Options{})

	srv := New(cfg, Deps{
		Store:   store,
		AuthSvc: authSvc,
		Checker: checker,
		Cache:   cache,
		Guard:   g,
		Routes:  routes,
		MCP:     mcp.NewMCPServer(store, checker, authSvc, nil),
	}, nil)

	return &testEnv{
		server:  srv,
		store:   store,
		authSvc: authSvc,
		cache:   cache,
	}
}

// seedAdmin creates a default admin account and returns it.
func (e *testEnv) seedAdmin(t *testing.T) *model.Admin {
	t.Helper()
	hash, err := service.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: hash,
		Name:         testAdminName,
		IsActive:     true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// seedAPIKey stores a new API key and returns the raw key.
func (e *testEnv) seedAPIKey(t *testing.T) string {
	t.Helper()
	raw, _, err := e.authSvc.GenerateAPIKey(context.Background(), "gateway", 0)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	return raw
}

// seedAssignment creates an enabled view assignment.
func (e *testEnv) seedAssignment(t *testing.T, resource string, roles ...string) *model.RoleAssignment {
	t.Helper()
	a := &model.RoleAssignment{
		Resource: resource,
		Kind:     model.KindView,
		Roles:    roles,
		Enabled:  true,
	}
	if err := e.store.CreateAssignment(context.Background(), a); err != nil {
		t.Fatalf("seedAssignment: %v", err)
	}
	return a
}

// adminToken logs in as the default admin and returns the JWT token string.
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := e.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token string `json:"session_token"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("adminToken: got empty token from login")
	}
	return resp.Token
}

// do executes an HTTP request against the test server and returns the recorder.
// headers is an optional map of header key-value pairs.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doAuth executes an authenticated HTTP request using the admin JWT.
func (e *testEnv) doAuth(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// doAPIKey executes an HTTP request authenticated with an API key.
func (e *testEnv) doAPIKey(t *testing.T, method, path string, body io.Reader, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"X-API-Key": apiKey,
	})
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertContentType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	got := rr.Header().Get("Content-Type")
	if got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func initializeBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	return jsonBody(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]interface{}{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]interface{}{},
			"clientInfo": map[string]interface{}{
				"name":    "test",
				"version": "1.0",
			},
		},
	})
}

// ---------------------------------------------------------------------------
// Health check tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
	checks, ok := resp["checks"].(map[string]interface{})
	if !ok {
		t.Fatal("expected checks to be a map")
	}
	if checks["store"] != "ok" {
		t.Errorf("checks.store = %v, want ok", checks["store"])
	}
}

func TestReadyz_StoreClosed(t *testing.T) {
	env := newTestEnv(t)
	env.store.Close()

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["status"] != "degraded" {
		t.Errorf("status = %q, want degraded", resp["status"])
	}
}

// ---------------------------------------------------------------------------
// Admin login/logout tests
// ---------------------------------------------------------------------------

func TestAdminLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["session_token"] == nil || resp["session_token"] == "" {
		t.Error("expected non-empty session_token")
	}
	if resp["token_type"] != "bearer" {
		t.Errorf("token_type = %v, want bearer", resp["token_type"])
	}
	if resp["expires_in"] != float64(24*60*60) {
		t.Errorf("expires_in = %v, want %d", resp["expires_in"], 24*60*60)
	}
	if resp["name"] != testAdminName {
		t.Errorf("name = %v, want %s", resp["name"], testAdminName)
	}
}

func TestAdminLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": "wrong",
	})
	rr := env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminLogin_RateLimited(t *testing.T) {
	env := newTestEnv(t)

	var last int
	for i := 0; i <= loginRateLimit; i++ {
		body := jsonBody(t, map[string]string{
			"email":    "admin@example.com",
			"password": "wrong",
		})
		last = env.do(t, "POST", "/api/v1/system/admin/session", body, nil).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status after %d attempts = %d, want %d", loginRateLimit+1, last, http.StatusTooManyRequests)
	}
}

func TestAdminLogout(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "DELETE", "/api/v1/system/admin/session", nil, nil)
	assertStatus(t, rr, http.StatusOK)
}

// ---------------------------------------------------------------------------
// Authentication boundary tests
// ---------------------------------------------------------------------------

func TestSystemEndpoints_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	// All system admin endpoints (other than login/logout) should reject
	// unauthenticated requests with 401.
	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/system/assignments"},
		{"POST", "/api/v1/system/assignments"},
		{"GET", "/api/v1/system/assignments/export"},
		{"POST", "/api/v1/system/assignments/import"},
		{"GET", "/api/v1/system/roles"},
		{"GET", "/api/v1/system/members"},
		{"GET", "/api/v1/system/admin"},
		{"POST", "/api/v1/system/admin"},
		{"GET", "/api/v1/system/api-key"},
		{"POST", "/api/v1/system/api-key"},
		{"GET", "/api/v1/system/cache"},
		{"GET", "/api/v1/system/mcp"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			var body io.Reader
			if ep.method == "POST" {
				body = jsonBody(t, map[string]string{})
			}
			rr := env.do(t, ep.method, ep.path, body, nil)
			assertStatus(t, rr, http.StatusUnauthorized)
		})
	}
}

func TestSystemEndpoints_InvalidJWT(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doAuth(t, "GET", "/api/v1/system/assignments", nil, "invalid.jwt.token")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestSystemEndpoints_ExpiredJWT(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t)

	// Issue a token that already expired.
	token, err := env.authSvc.IssueJWT(context.Background(), admin.ID, admin.Email, -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	rr := env.doAuth(t, "GET", "/api/v1/system/assignments", nil, token)
	assertStatus(t, rr, http.StatusUnauthorized)

	var resp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Error.Message != "Token expired" {
		t.Errorf("message = %q, want Token expired", resp.Error.Message)
	}
}

func TestSystemEndpoints_APIKeyNotAdmin(t *testing.T) {
	env := newTestEnv(t)
	rawKey := env.seedAPIKey(t)

	// API keys are not admin, so system endpoints should return 403.
	rr := env.doAPIKey(t, "GET", "/api/v1/system/assignments", nil, rawKey)
	assertStatus(t, rr, http.StatusForbidden)
}

func TestAccessEndpoints_RequireCredentials(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/access/check", jsonBody(t, map[string]string{"resource": "x"}), nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = env.doAPIKey(t, "GET", "/api/v1/access/me", nil, "rg_not_a_real_key")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAccessEndpoints_RevokedAPIKey(t *testing.T) {
	env := newTestEnv(t)
	raw, key, err := env.authSvc.GenerateAPIKey(context.Background(), "gateway", 0)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if err := env.store.RevokeAPIKey(context.Background(), key.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	rr := env.doAPIKey(t, "GET", "/api/v1/access/me", nil, raw)
	assertStatus(t, rr, http.StatusUnauthorized)
	if !strings.Contains(rr.Body.String(), "revoked") {
		t.Errorf("body = %s, want revoked message", rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Decision API tests
// ---------------------------------------------------------------------------

func TestAccessCheck_WithAPIKey(t *testing.T) {
	env := newTestEnv(t)
	rawKey := env.seedAPIKey(t)
	env.seedAssignment(t, "dashboard", "staff")

	tests := []struct {
		name      string
		principal map[string]interface{}
		app       string
		want      bool
		reason    string
	}{
		{"staff", map[string]interface{}{"subject": "s", "roles": []string{"staff"}}, "main", true, "role_matched"},
		{"guest", map[string]interface{}{"subject": "g", "roles": []string{"guest"}}, "main", false, "no_matching_role"},
		{"anonymous", map[string]interface{}{}, "main", false, "no_matching_role"},
		{"not secured app", map[string]interface{}{}, "static", true, "app_not_secured"},
		{"disabled app", map[string]interface{}{"roles": []string{"staff"}}, "legacy", false, "app_disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := jsonBody(t, map[string]interface{}{
				"principal": tt.principal,
				"resource":  "dashboard",
				"app":       tt.app,
			})
			rr := env.doAPIKey(t, "POST", "/api/v1/access/check", body, rawKey)
			assertStatus(t, rr, http.StatusOK)

			var resp struct {
				Decision struct {
					Allowed bool   `json:"allowed"`
					Reason  string `json:"reason"`
				} `json:"decision"`
			}
			decodeJSON(t, rr, &resp)
			if resp.Decision.Allowed != tt.want {
				t.Errorf("allowed = %v, want %v", resp.Decision.Allowed, tt.want)
			}
			if resp.Decision.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", resp.Decision.Reason, tt.reason)
			}
		})
	}
}

func TestAccessMe_PrincipalTokenBehindAPIKey(t *testing.T) {
	env := newTestEnv(t)
	rawKey := env.seedAPIKey(t)
	env.seedAssignment(t, "dashboard", "staff")

	token, err := env.authSvc.IssuePrincipalToken(&model.Principal{
		Subject: "alice",
		Roles:   []string{"staff"},
	}, time.Hour)
	if err != nil {
		t.Fatalf("IssuePrincipalToken: %v", err)
	}

	rr := env.do(t, "GET", "/api/v1/access/me?resource=dashboard&app=main", nil, map[string]string{
		"X-API-Key":     rawKey,
		"Authorization": "Bearer " + token,
	})
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Principal model.Principal `json:"principal"`
		Decision  struct {
			Allowed bool `json:"allowed"`
		} `json:"decision"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Principal.Subject != "alice" {
		t.Errorf("subject = %q, want alice", resp.Principal.Subject)
	}
	if !resp.Decision.Allowed {
		t.Error("expected alice to be allowed")
	}
}

func TestForwardAuth_ThroughServer(t *testing.T) {
	env := newTestEnv(t)
	rawKey := env.seedAPIKey(t)
	env.seedAssignment(t, "dashboard", "staff")

	allowed := env.do(t, "GET", "/api/v1/access/forward-auth", nil, map[string]string{
		"X-API-Key":           rawKey,
		"X-Forwarded-Uri":     "/dashboard",
		"X-Principal-Subject": "bob",
		"X-Principal-Roles":   "staff",
	})
	assertStatus(t, allowed, http.StatusOK)
	if got := allowed.Header().Get("X-Principal-Subject"); got != "bob" {
		t.Errorf("X-Principal-Subject = %q, want bob", got)
	}

	denied := env.do(t, "GET", "/api/v1/access/forward-auth", nil, map[string]string{
		"X-API-Key":       rawKey,
		"X-Forwarded-Uri": "/dashboard",
	})
	assertStatus(t, denied, http.StatusForbidden)
}

func TestAccessRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 2
	env := newTestEnvWithConfig(t, cfg)
	rawKey := env.seedAPIKey(t)

	for i := 0; i < 2; i++ {
		rr := env.doAPIKey(t, "GET", "/api/v1/access/me", nil, rawKey)
		assertStatus(t, rr, http.StatusOK)
	}
	rr := env.doAPIKey(t, "GET", "/api/v1/access/me", nil, rawKey)
	assertStatus(t, rr, http.StatusTooManyRequests)
}

func TestMaxBodySize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodySize = 64
	env := newTestEnvWithConfig(t, cfg)
	env.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": strings.Repeat("x", 200),
	})
	rr := env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

// ---------------------------------------------------------------------------
// System API tests
// ---------------------------------------------------------------------------

func TestAssignmentWrites_PurgeCache(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	rawKey := env.seedAPIKey(t)

	check := func() bool {
		body := jsonBody(t, map[string]interface{}{
			"principal": map[string]interface{}{"subject": "g", "roles": []string{"guest"}},
			"resource":  "reports",
		})
		rr := env.doAPIKey(t, "POST", "/api/v1/access/check", body, rawKey)
		assertStatus(t, rr, http.StatusOK)
		var resp struct {
			Decision struct {
				Allowed bool `json:"allowed"`
			} `json:"decision"`
		}
		decodeJSON(t, rr, &resp)
		return resp.Decision.Allowed
	}

	if !check() {
		t.Fatal("unassigned resource should be allowed")
	}

	rr := env.doAuth(t, "POST", "/api/v1/system/assignments", jsonBody(t, map[string]interface{}{
		"resource": "reports",
		"kind":     "view",
		"roles":    []string{"ops"},
	}), token)
	assertStatus(t, rr, http.StatusCreated)

	if check() {
		t.Error("guest should be denied once reports is assigned to ops")
	}
}

func TestCacheEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	if _, err := env.cache.LookupAssignment(context.Background(), "dashboard", model.KindView); err != nil {
		t.Fatalf("LookupAssignment: %v", err)
	}

	rr := env.doAuth(t, "GET", "/api/v1/system/cache", nil, token)
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		Enabled bool              `json:"enabled"`
		Stats   access.CacheStats `json:"stats"`
	}
	decodeJSON(t, rr, &resp)
	if !resp.Enabled || resp.Stats.Size != 1 {
		t.Errorf("cache = %+v, want enabled with 1 entry", resp)
	}

	rr = env.doAuth(t, "DELETE", "/api/v1/system/cache", nil, token)
	assertStatus(t, rr, http.StatusNoContent)
	if got := env.cache.Stats().Size; got != 0 {
		t.Errorf("cache size after purge = %d, want 0", got)
	}
}

func TestFullWorkflow(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	// Admin creates a gateway API key.
	rr := env.doAuth(t, "POST", "/api/v1/system/api-key", jsonBody(t, map[string]string{"label": "edge"}), token)
	assertStatus(t, rr, http.StatusCreated)
	var key struct {
		APIKey string `json:"api_key"`
	}
	decodeJSON(t, rr, &key)
	if key.APIKey == "" {
		t.Fatal("expected raw api_key in create response")
	}

	// Admin restricts the dashboard and grants carol the staff role.
	rr = env.doAuth(t, "POST", "/api/v1/system/assignments", jsonBody(t, map[string]interface{}{
		"resource": "dashboard",
		"kind":     "view",
		"roles":    []string{"staff"},
	}), token)
	assertStatus(t, rr, http.StatusCreated)

	rr = env.doAuth(t, "POST", "/api/v1/system/members/carol/roles", jsonBody(t, map[string]string{"role": "staff"}), token)
	assertStatus(t, rr, http.StatusCreated)

	// The gateway asks about carol with no roles of her own.
	body := jsonBody(t, map[string]interface{}{
		"principal": map[string]interface{}{"subject": "carol"},
		"resource":  "dashboard",
	})
	rr = env.doAPIKey(t, "POST", "/api/v1/access/check", body, key.APIKey)
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		Decision struct {
			Allowed bool `json:"allowed"`
		} `json:"decision"`
	}
	decodeJSON(t, rr, &resp)
	if !resp.Decision.Allowed {
		t.Error("carol should be allowed through her stored membership")
	}
}

// ---------------------------------------------------------------------------
// OpenAPI, CORS and routing tests
// ---------------------------------------------------------------------------

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var spec map[string]interface{}
	decodeJSON(t, rr, &spec)
	if spec["openapi"] != "3.1.0" {
		t.Errorf("openapi = %v, want 3.1.0", spec["openapi"])
	}
	paths, ok := spec["paths"].(map[string]interface{})
	if !ok {
		t.Fatal("expected paths to be an object")
	}
	for _, p := range []string{"/api/v1/access/check", "/api/v1/system/assignments"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("missing path %s", p)
		}
	}
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "OPTIONS", "/api/v1/access/check", nil, map[string]string{
		"Origin":                         "http://example.com",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "X-Principal-Roles",
	})
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(strings.ToLower(got), "x-principal-roles") {
		t.Errorf("Access-Control-Allow-Headers = %q, want X-Principal-Roles", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "PUT", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusMethodNotAllowed)
}

func TestErrorResponseFormat(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	rr := env.doAuth(t, "GET", "/api/v1/system/assignments/nonexistent", nil, token)
	assertStatus(t, rr, http.StatusNotFound)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	errObj, ok := resp["error"].(map[string]interface{})
	if !ok {
		t.Fatal("expected error object")
	}
	if errObj["code"] != float64(http.StatusNotFound) {
		t.Errorf("error.code = %v, want 404", errObj["code"])
	}
	if msg, _ := errObj["message"].(string); msg == "" {
		t.Error("expected non-empty error.message")
	}
}

// ---------------------------------------------------------------------------
// Guarded proxy tests
// ---------------------------------------------------------------------------

func TestGuardedProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "upstream %s", r.URL.Path)
	}))
	defer upstream.Close()

	u, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	cfg := DefaultConfig()
	cfg.ProxyUpstream = u
	env := newTestEnvWithConfig(t, cfg)
	env.seedAssignment(t, "dashboard", "staff")

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    int
	}{
		{"staff reaches dashboard", "/dashboard", map[string]string{"X-Principal-Subject": "s", "X-Principal-Roles": "staff"}, http.StatusOK},
		{"guest is forbidden", "/dashboard", map[string]string{"X-Principal-Subject": "g", "X-Principal-Roles": "guest"}, http.StatusForbidden},
		{"public page", "/pages/about", nil, http.StatusOK},
		{"disabled app", "/legacy/home", map[string]string{"X-Principal-Roles": "staff"}, http.StatusForbidden},
		{"unmapped path passes", "/static/app.css", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "GET", tt.path, nil, tt.headers)
			assertStatus(t, rr, tt.want)
			if tt.want == http.StatusOK && rr.Body.String() != "upstream "+tt.path {
				t.Errorf("body = %q, want proxied response", rr.Body.String())
			}
		})
	}

	// API routes are never proxied.
	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestGuardedProxy_ReplacesPrincipalHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "subject=%s roles=%s superuser=%s",
			r.Header.Get(service.HeaderPrincipalSubject),
			r.Header.Get(service.HeaderPrincipalRoles),
			r.Header.Get(service.HeaderPrincipalSuperuser))
	}))
	defer upstream.Close()

	u, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	cfg := DefaultConfig()
	cfg.ProxyUpstream = u
	env := newTestEnvWithConfig(t, cfg)
	env.seedAssignment(t, "dashboard", "staff")

	token, err := env.authSvc.IssuePrincipalToken(&model.Principal{Subject: "alice", Roles: []string{"staff"}}, time.Hour)
	if err != nil {
		t.Fatalf("IssuePrincipalToken: %v", err)
	}
	forged := map[string]string{
		service.HeaderPrincipalSubject:   "root",
		service.HeaderPrincipalRoles:     "admin",
		service.HeaderPrincipalSuperuser: "true",
	}

	tests := []struct {
		name  string
		path  string
		token string
		want  string
	}{
		{"token principal wins over forged headers", "/dashboard", token, "subject=alice roles=staff superuser="},
		{"unmapped path drops forged headers", "/static/app.css", "", "subject= roles= superuser="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := make(map[string]string, len(forged)+1)
			for k, v := range forged {
				headers[k] = v
			}
			if tt.token != "" {
				headers["Authorization"] = "Bearer " + tt.token
			}
			rr := env.do(t, "GET", tt.path, nil, headers)
			assertStatus(t, rr, http.StatusOK)
			if got := rr.Body.String(); got != tt.want {
				t.Errorf("upstream saw %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNoProxy_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/dashboard", nil, nil)
	assertStatus(t, rr, http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// MCP info endpoint tests
// ---------------------------------------------------------------------------

func TestMCPInfo(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	rr := env.doAuth(t, "GET", "/api/v1/system/mcp", nil, token)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)

	if resp["server_name"] != mcp.ServerName {
		t.Errorf("server_name = %v, want %s", resp["server_name"], mcp.ServerName)
	}
	if resp["server_version"] != mcp.ServerVersion {
		t.Errorf("server_version = %v, want %s", resp["server_version"], mcp.ServerVersion)
	}

	transports, ok := resp["transports"].([]interface{})
	if !ok || len(transports) != 2 {
		t.Fatalf("transports = %v, want 2 entries", resp["transports"])
	}
	first := transports[0].(map[string]interface{})
	if first["type"] != "http" {
		t.Errorf("first transport type = %v, want http", first["type"])
	}
	if first["endpoint"] != "http://example.com/mcp" {
		t.Errorf("http endpoint = %v, want http://example.com/mcp", first["endpoint"])
	}
	if second := transports[1].(map[string]interface{}); second["type"] != "stdio" {
		t.Errorf("second transport type = %v, want stdio", second["type"])
	}

	if endpoint, _ := resp["mcp_endpoint"].(string); endpoint == "" {
		t.Error("expected non-empty mcp_endpoint field")
	}

	resources, ok := resp["resources"].([]interface{})
	if !ok || len(resources) != 2 {
		t.Errorf("resources = %v, want 2 entries", resp["resources"])
	}
}

func TestMCPInfo_ToolStructure(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	rr := env.doAuth(t, "GET", "/api/v1/system/mcp", nil, token)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)

	tools, ok := resp["tools"].([]interface{})
	if !ok {
		t.Fatal("expected tools to be an array")
	}

	toolNames := make(map[string]bool)
	for i, raw := range tools {
		tool, ok := raw.(map[string]interface{})
		if !ok {
			t.Fatalf("tool[%d] is not an object", i)
		}
		name, ok := tool["name"].(string)
		if !ok {
			t.Errorf("tool[%d].name is not a string", i)
		}
		if _, ok := tool["description"].(string); !ok {
			t.Errorf("tool[%d].description is not a string", i)
		}
		if ro, ok := tool["read_only"].(bool); !ok || !ro {
			t.Errorf("tool[%d].read_only = %v, want true", i, tool["read_only"])
		}
		toolNames[name] = true
	}

	for _, name := range []string{
		"roleguard_check_access",
		"roleguard_list_assignments",
		"roleguard_get_assignment",
		"roleguard_member_roles",
	} {
		if !toolNames[name] {
			t.Errorf("missing expected tool: %s", name)
		}
	}
}

func TestMCPInfo_APIKeyForbidden(t *testing.T) {
	env := newTestEnv(t)
	rawKey := env.seedAPIKey(t)

	rr := env.doAPIKey(t, "GET", "/api/v1/system/mcp", nil, rawKey)
	assertStatus(t, rr, http.StatusForbidden)
}

// ---------------------------------------------------------------------------
// MCP HTTP endpoint tests
// ---------------------------------------------------------------------------

func TestMCPEndpoint_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/mcp", initializeBody(t), nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestMCPEndpoint_WithAPIKey(t *testing.T) {
	env := newTestEnv(t)
	rawKey := env.seedAPIKey(t)

	rr := env.doAPIKey(t, "POST", "/mcp", initializeBody(t), rawKey)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %v", resp)
	}
	serverInfo, ok := result["serverInfo"].(map[string]interface{})
	if !ok {
		t.Fatal("expected serverInfo in initialize result")
	}
	if serverInfo["name"] != mcp.ServerName {
		t.Errorf("serverInfo.name = %v, want %s", serverInfo["name"], mcp.ServerName)
	}
}

func TestMCPEndpoint_WithJWT(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	rr := env.doAuth(t, "POST", "/mcp", initializeBody(t), token)
	if rr.Code == http.StatusUnauthorized || rr.Code == http.StatusForbidden {
		t.Errorf("MCP endpoint returned %d with valid JWT, expected 200", rr.Code)
	}

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v, want 2.0", resp["jsonrpc"])
	}
	if resp["result"] == nil {
		t.Error("expected result in JSON-RPC response")
	}
}

func TestMCPEndpoint_InvalidMethod(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	// PATCH /mcp should not be handled
	rr := env.doAuth(t, "PATCH", "/mcp", nil, token)
	if rr.Code == http.StatusOK {
		t.Errorf("PATCH /mcp should not return 200, got %d", rr.Code)
	}
}
