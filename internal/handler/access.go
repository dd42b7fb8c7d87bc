package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/faucetdb/roleguard/internal/access"
	"github.com/faucetdb/roleguard/internal/guard"
	"github.com/faucetdb/roleguard/internal/model"
	"github.com/faucetdb/roleguard/internal/service"
)

// Forward-auth request headers set by reverse proxies (Traefik, nginx
// auth_request, Caddy forward_auth).
const (
	HeaderForwardedMethod = "X-Forwarded-Method"
	HeaderForwardedURI    = "X-Forwarded-Uri"
)

// AccessHandler serves the decision API used by gateways and relying
// applications.
type AccessHandler struct {
	checker *access.Checker
	authSvc *service.AuthService
	guard   *guard.Guard
	routes  *guard.RouteTable
	logger  *zap.Logger
}

// NewAccessHandler creates a new AccessHandler. routes may be nil, in which
// case forward-auth allows every request.
func NewAccessHandler(checker *access.Checker, authSvc *service.AuthService, g *guard.Guard, routes *guard.RouteTable, logger *zap.Logger) *AccessHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessHandler{
		checker: checker,
		authSvc: authSvc,
		guard:   g,
		routes:  routes,
		logger:  logger,
	}
}

// checkRequest is the payload for Check.
type checkRequest struct {
	Principal model.Principal `json:"principal"`
	Resource  string          `json:"resource"`
	Kind      string          `json:"kind"`
	App       string          `json:"app"`
}

// checkResponse wraps a decision with the principal it was made for.
type checkResponse struct {
	Principal *model.Principal `json:"principal"`
	Decision  access.Decision  `json:"decision"`
}

// Check decides access for a principal supplied by the caller. The caller
// is trusted to have authenticated the principal; stored memberships are
// merged into its roles.
// POST /api/v1/access/check
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Resource) == "" {
		writeError(w, http.StatusBadRequest, "resource is required")
		return
	}
	kind, ok := model.ParseResourceKind(req.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be view or template")
		return
	}

	p := &req.Principal
	if p.Subject != "" {
		p.Authenticated = true
	}
	p, err := h.authSvc.Enrich(r.Context(), p)
	if err != nil {
		h.logger.Error("membership lookup failed", zap.String("subject", req.Principal.Subject), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Membership store unavailable")
		return
	}

	h.decide(w, r, p, req.App, req.Resource, kind)
}

// Me decides access for the caller identified by the request's principal
// token or trusted headers.
// GET /api/v1/access/me?resource=&kind=&app=
func (h *AccessHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSvc.PrincipalFromRequest(r)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) || errors.Is(err, service.ErrTokenExpired) {
			writeError(w, http.StatusUnauthorized, "Invalid principal token")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "Membership store unavailable")
		return
	}

	resource := queryString(r, "resource")
	if resource == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"principal": p})
		return
	}
	kind, ok := model.ParseResourceKind(queryString(r, "kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be view or template")
		return
	}
	h.decide(w, r, p, queryString(r, "app"), resource, kind)
}

func (h *AccessHandler) decide(w http.ResponseWriter, r *http.Request, p *model.Principal, app, resource string, kind model.ResourceKind) {
	d, err := h.checker.Check(r.Context(), p, app, resource, kind)
	if err != nil {
		h.logger.Error("access lookup failed",
			zap.String("resource", resource),
			zap.String("kind", string(kind)),
			zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Assignment store unavailable",
			map[string]interface{}{"resource": resource, "kind": kind})
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Principal: p, Decision: d})
}

// ForwardAuth answers a reverse proxy's sub-request. The original method and
// URI come from X-Forwarded-Method and X-Forwarded-Uri; the principal comes
// from the forwarded Authorization or trusted headers. Allowed requests get
// 200 with the resolved principal echoed in X-Principal-* headers.
// GET /api/v1/access/forward-auth
func (h *AccessHandler) ForwardAuth(w http.ResponseWriter, r *http.Request) {
	method := r.Header.Get(HeaderForwardedMethod)
	if method == "" {
		method = http.MethodGet
	}
	rawURI := r.Header.Get(HeaderForwardedURI)
	if rawURI == "" {
		writeError(w, http.StatusBadRequest, HeaderForwardedURI+" header is required")
		return
	}
	u, err := url.ParseRequestURI(rawURI)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+HeaderForwardedURI+": "+err.Error())
		return
	}

	rule, ok := h.routes.Match(method, u.Path)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	r, ok = h.guard.Authorize(w, r, rule.App, rule.View)
	if !ok {
		return
	}
	if p := guard.PrincipalFromContext(r.Context()); p != nil && p.Subject != "" {
		w.Header().Set(service.HeaderPrincipalSubject, p.Subject)
		w.Header().Set(service.HeaderPrincipalRoles, strings.Join(p.Roles, ","))
	}
	w.WriteHeader(http.StatusOK)
}
