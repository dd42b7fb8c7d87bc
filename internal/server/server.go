package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/faucetdb/roleguard/internal/access"
	"github.com/faucetdb/roleguard/internal/config"
	"github.com/faucetdb/roleguard/internal/guard"
	"github.com/faucetdb/roleguard/internal/handler"
	"github.com/faucetdb/roleguard/internal/mcp"
	"github.com/faucetdb/roleguard/internal/openapi"
	"github.com/faucetdb/roleguard/internal/server/middleware"
	"github.com/faucetdb/roleguard/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// RateLimit is the per-client request budget per minute on the decision
	// API. Zero disables limiting.
	RateLimit    int
	APIKeyHeader string
	SessionTTL   time.Duration
	TLSCertFile  string
	TLSKeyFile   string
	// ProxyUpstream, when set, makes roleguard a guarding reverse proxy:
	// every request outside the API is checked against the route table and
	// forwarded here when allowed.
	ProxyUpstream *url.URL
	MaxBodySize   int64 // bytes
	Version       string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		RateLimit:       600,
		APIKeyHeader:    middleware.DefaultAPIKeyHeader,
		SessionTTL:      24 * time.Hour,
		MaxBodySize:     10 * 1024 * 1024, // 10MB
		Version:         "dev",
	}
}

// Deps are the components the server routes requests to.
type Deps struct {
	Store   *config.Store
	AuthSvc *service.AuthService
	Checker *access.Checker
	// Cache is purged after assignment writes. May be nil.
	Cache *access.CachedSource
	// Guard and Routes back forward-auth and the reverse proxy. Routes may
	// be nil, in which case forward-auth allows every request.
	Guard  *guard.Guard
	Routes *guard.RouteTable
	// MCP, when set, is mounted at /mcp.
	MCP *mcp.MCPServer
}

// Server is the top-level HTTP server for roleguard. It owns the Chi router
// and dispatches to the decision API, the system API, the MCP endpoint and
// the optional guarded proxy.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *zap.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = middleware.DefaultAPIKeyHeader
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

// loginRateLimit caps admin login attempts per client IP per minute.
const loginRateLimit = 30

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", s.cfg.APIKeyHeader, "X-Requested-With",
			service.HeaderPrincipalSubject, service.HeaderPrincipalRoles, service.HeaderPrincipalSuperuser,
		},
		ExposedHeaders:   []string{"X-Total-Count", "X-Request-ID", "Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", handler.NewOpenAPIHandler(openapi.Options{
		APIKeyHeader: s.cfg.APIKeyHeader,
		Version:      s.cfg.Version,
	}).ServeSpec)

	authenticate := middleware.Authenticate(s.deps.AuthSvc, s.cfg.APIKeyHeader)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limitBody)

		// Decision API for gateways and relying applications
		r.Route("/access", func(r chi.Router) {
			r.Use(authenticate)
			r.Use(middleware.RateLimitByHeader(s.cfg.APIKeyHeader, s.cfg.RateLimit))

			accessHandler := handler.NewAccessHandler(s.deps.Checker, s.deps.AuthSvc, s.deps.Guard, s.deps.Routes, s.logger)
			r.Post("/check", accessHandler.Check)
			r.Get("/me", accessHandler.Me)
			r.Get("/forward-auth", accessHandler.ForwardAuth)
		})

		// System APIs (assignment, membership and credential management)
		r.Route("/system", func(r chi.Router) {
			opts := handler.SystemOptions{SessionTTL: s.cfg.SessionTTL, Logger: s.logger}
			if s.deps.Cache != nil {
				opts.Cache = s.deps.Cache
			}
			sysHandler := handler.NewSystemHandler(s.deps.Store, s.deps.AuthSvc, opts)

			// Session endpoints are unauthenticated (login) or self-authenticated (logout)
			r.With(middleware.RateLimit(loginRateLimit)).Post("/admin/session", sysHandler.Login)
			r.Delete("/admin/session", sysHandler.Logout)

			// All other system endpoints require admin authentication
			r.Group(func(r chi.Router) {
				r.Use(authenticate)
				r.Use(middleware.RequireAdmin())

				// Role assignments
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

				// Roles and memberships
				r.Get("/roles", sysHandler.ListRoles)
				r.Get("/members", sysHandler.ListMemberships)
				r.Get("/members/{subject}", sysHandler.MemberRoles)
				r.Post("/members/{subject}/roles", sysHandler.GrantRole)
				r.Delete("/members/{subject}/roles/{role}", sysHandler.RevokeRole)

				// Admin management
				r.Get("/admin", sysHandler.ListAdmins)
				r.Post("/admin", sysHandler.CreateAdmin)

				// API key management
				r.Get("/api-key", sysHandler.ListAPIKeys)
				r.Post("/api-key", sysHandler.CreateAPIKey)
				r.Delete("/api-key/{keyId}", sysHandler.RevokeAPIKey)

				// Cache statistics
				r.Get("/cache", s.handleCacheStats)
				r.Delete("/cache", s.handleCachePurge)

				// MCP server info
				r.Get("/mcp", s.handleMCPInfo)
			})
		})
	})

	// --- MCP Streamable HTTP transport ---
	if s.deps.MCP != nil {
		mcpHandler := s.deps.MCP.Handler()
		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Handle("/mcp", mcpHandler)
		})
	}

	// --- Guarded reverse proxy ---
	if s.cfg.ProxyUpstream != nil && s.deps.Guard != nil && s.deps.Routes != nil {
		proxy := httputil.NewSingleHostReverseProxy(s.cfg.ProxyUpstream)
		direct := proxy.Director
		proxy.Director = func(req *http.Request) {
			direct(req)
			forwardPrincipal(req)
		}
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Error("upstream request failed",
				zap.String("upstream", s.cfg.ProxyUpstream.String()),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			w.WriteHeader(http.StatusBadGateway)
		}
		r.Handle("/*", s.deps.Guard.Middleware(s.deps.Routes.Resolve)(proxy))
	}

	s.router = r
}

// forwardPrincipal replaces any X-Principal-* headers sent by the client
// with the principal the guard resolved, so the upstream only sees
// identities roleguard vouched for.
func forwardPrincipal(req *http.Request) {
	req.Header.Del(service.HeaderPrincipalSubject)
	req.Header.Del(service.HeaderPrincipalRoles)
	req.Header.Del(service.HeaderPrincipalSuperuser)

	p := guard.PrincipalFromContext(req.Context())
	if p == nil || !p.Authenticated || p.Subject == "" {
		return
	}
	req.Header.Set(service.HeaderPrincipalSubject, p.Subject)
	req.Header.Set(service.HeaderPrincipalRoles, strings.Join(p.Roles, ","))
	if p.Superuser {
		req.Header.Set(service.HeaderPrincipalSuperuser, "true")
	}
}

// limitBody caps request bodies at MaxBodySize.
func (s *Server) limitBody(next http.Handler) http.Handler {
	if s.cfg.MaxBodySize <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
		next.ServeHTTP(w, r)
	})
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the assignment store
// is reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	writeJSON(w, httpStatus, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// handleCacheStats reports the assignment lookup cache counters.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"stats":   s.deps.Cache.Stats(),
	})
}

// handleCachePurge drops every cached lookup.
func (s *Server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache != nil {
		s.deps.Cache.Purge()
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMCPInfo describes the MCP server for clients configuring a
// connection: name, transports, tools and resources.
func (s *Server) handleMCPInfo(w http.ResponseWriter, r *http.Request) {
	if s.deps.MCP == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": map[string]interface{}{"code": http.StatusNotFound, "message": "MCP server is not enabled"},
		})
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	endpoint := scheme + "://" + r.Host + "/mcp"

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server_name":    mcp.ServerName,
		"server_version": mcp.ServerVersion,
		"mcp_endpoint":   endpoint,
		"transports": []map[string]interface{}{
			{
				"type":        "http",
				"endpoint":    endpoint,
				"description": "Streamable HTTP on the main server. Authenticate with " + s.cfg.APIKeyHeader + " or a Bearer token.",
			},
			{
				"type":        "stdio",
				"command":     "roleguard mcp",
				"description": "Launch roleguard as a subprocess of the MCP client.",
			},
		},
		"tools":     s.deps.MCP.Tools(),
		"resources": s.deps.MCP.Resources(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before returning.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		tls := s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != ""
		s.logger.Info("server starting", zap.String("addr", addr), zap.Bool("tls", tls))
		var err error
		if tls {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
