package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/roleguard/internal/access"
	"github.com/faucetdb/roleguard/internal/config"
	"github.com/faucetdb/roleguard/internal/guard"
	"github.com/faucetdb/roleguard/internal/model"
	"github.com/faucetdb/roleguard/internal/service"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *config.Store
	authSvc *service.AuthService
	cache   *access.CachedSource
	checker *access.Checker
	handler *SystemHandler
	access  *AccessHandler
	router  chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory config store,
// the system and access handlers, and a Chi router with routes mounted (no
// auth middleware).
func newTestEnv(t *testing.T) *testEnv {
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
	policy := access.NewSitePolicy(nil, []string{"pages"}, []string{"members"}, []string{"legacy"})
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

	sysHandler := NewSystemHandler(store, authSvc, SystemOptions{Cache: cache, SessionTTL: time.Hour})
	accessHandler := NewAccessHandler(checker, authSvc, g, routes, nil)

	// Mount routes without auth middleware for direct handler testing.
	r := chi.NewRouter()
	r.Route("/api/v1/access", func(r chi.Router) {
		r.Post("/check", accessHandler.Check)
		r.Get("/me", accessHandler.Me)
		r.Get("/forward-auth", accessHandler.ForwardAuth)
	})
	r.Route("/api/v1/system", func(r chi.Router) {
		r.Post("/admin/session", sysHandler.Login)
		r.Delete("/admin/session", sysHandler.Logout)

		r.Get("/assignments", sysHandler.ListAssignments)
		r.Post("/assignments", sysHandler.CreateAssignment)
		r.Get("/assignments/export", sysHandler.ExportAssignments)
		r.Post("/assignments/import", sysHandler.ImportAssignments)
		r.Get("/assignments/{id}", sysHandler.GetAssignment)
		r.Put("/assignments/{id}", sysHandler.UpdateAssignment)
		r.Delete("/assignments/{id}", sysHandler.DeleteAssignment)
		r.Put("/assignments/{id}/roles", sysHandler.SetAssignmentRoles)
		r.Post("/assignments/{id}/enable", sysHandler.EnableAssignment)
		r.Post("/assignments/{id}/disable", sysHandler.DisableAssignment)

		r.Get("/roles", sysHandler.ListRoles)
		r.Get("/members", sysHandler.ListMemberships)
		r.Get("/members/{subject}", sysHandler.MemberRoles)
		r.Post("/members/{subject}/roles", sysHandler.GrantRole)
		r.Delete("/members/{subject}/roles/{role}", sysHandler.RevokeRole)

		r.Get("/admin", sysHandler.ListAdmins)
		r.Post("/admin", sysHandler.CreateAdmin)

		r.Get("/api-key", sysHandler.ListAPIKeys)
		r.Post("/api-key", sysHandler.CreateAPIKey)
		r.Delete("/api-key/{keyId}", sysHandler.RevokeAPIKey)
	})

	return &testEnv{
		store:   store,
		authSvc: authSvc,
		cache:   cache,
		checker: checker,
		handler: sysHandler,
		access:  accessHandler,
		router:  r,
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
		Name:         "Test Admin",
		IsActive:     true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// seedAssignment creates an enabled view assignment and returns it.
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

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
