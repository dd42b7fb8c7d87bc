package handler

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/faucetdb/roleguard/internal/config"
	"github.com/faucetdb/roleguard/internal/model"
	"github.com/faucetdb/roleguard/internal/service"
)

// CachePurger drops cached assignment lookups after a write.
type CachePurger interface {
	Purge()
}

// SystemHandler manages roleguard's own configuration: role assignments,
// memberships, admins, and API keys.
type SystemHandler struct {
	store      *config.Store
	authSvc    *service.AuthService
	cache      CachePurger
	sessionTTL time.Duration
	logger     *zap.Logger
}

// SystemOptions configures a SystemHandler.
type SystemOptions struct {
	// Cache is purged after every assignment write. May be nil.
	Cache CachePurger
	// SessionTTL is the lifetime of admin session tokens.
	SessionTTL time.Duration
	Logger     *zap.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(store *config.Store, authSvc *service.AuthService, opts SystemOptions) *SystemHandler {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &SystemHandler{
		store:      store,
		authSvc:    authSvc,
		cache:      opts.Cache,
		sessionTTL: opts.SessionTTL,
		logger:     opts.Logger,
	}
}

func (h *SystemHandler) purge() {
	if h.cache != nil {
		h.cache.Purge()
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   string `json:"admin_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates an admin user and returns a JWT session token.
// POST /api/v1/system/admin/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	token, admin, err := h.authSvc.Login(r.Context(), req.Email, req.Password, h.sessionTTL)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
		case errors.Is(err, service.ErrAccountDisabled):
			writeError(w, http.StatusUnauthorized, "Account is disabled")
		default:
			h.logger.Error("admin login failed", zap.String("email", req.Email), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Authentication error: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.sessionTTL.Seconds()),
		AdminID:   admin.ID,
		Email:     admin.Email,
		Name:      admin.Name,
	})
}

// Logout invalidates the current session. Since JWTs are stateless, this is
// a no-op on the server side. Clients should discard their token.
// DELETE /api/v1/system/admin/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}

// ---------------------------------------------------------------------------
// Role assignments
// ---------------------------------------------------------------------------

// assignmentRequest is the payload for creating or replacing an assignment.
type assignmentRequest struct {
	Resource    string   `json:"resource"`
	Kind        string   `json:"kind"`
	Access      string   `json:"access"`
	Roles       []string `json:"roles"`
	Enabled     *bool    `json:"enabled,omitempty"`
	Description string   `json:"description"`
}

// toAssignment builds a validated assignment. New assignments are enabled
// unless the request says otherwise.
func (req *assignmentRequest) toAssignment() (*model.RoleAssignment, error) {
	kind, ok := model.ParseResourceKind(req.Kind)
	if !ok {
		return nil, errors.New("kind must be view or template")
	}
	at, ok := model.ParseAccessType(req.Access)
	if !ok {
		return nil, errors.New("access must be by_role, public or authenticated")
	}
	a := &model.RoleAssignment{
		Resource:    strings.TrimSpace(req.Resource),
		Kind:        kind,
		Access:      at,
		Roles:       req.Roles,
		Enabled:     true,
		Description: req.Description,
	}
	if req.Enabled != nil {
		a.Enabled = *req.Enabled
	}
	if err := config.ValidateAssignment(a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssignments returns role assignments, optionally filtered by kind,
// role and enabled state.
// GET /api/v1/system/assignments?kind=&role=&enabled_only=&limit=&offset=
func (h *SystemHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	var f config.AssignmentFilter
	if k := queryString(r, "kind"); k != "" {
		kind, ok := model.ParseResourceKind(k)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid kind: "+k)
			return
		}
		f.Kind = kind
	}
	f.Role = queryString(r, "role")
	f.EnabledOnly = queryBool(r, "enabled_only")

	list, err := h.store.ListAssignments(r.Context(), f)
	if err != nil {
		writeStoreError(w, err, "Failed to list assignments")
		return
	}
	total := len(list)
	list = paginate(r, list)

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: list,
		Meta: &model.ResponseMeta{
			Count: total,
		},
	})
}

// CreateAssignment stores a new role assignment.
// POST /api/v1/system/assignments
func (h *SystemHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	a, err := req.toAssignment()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateAssignment(r.Context(), a); err != nil {
		if errors.Is(err, config.ErrConflict) {
			writeError(w, http.StatusConflict, "Assignment already exists",
				map[string]interface{}{"resource": a.Resource, "kind": a.Kind})
			return
		}
		writeStoreError(w, err, "Failed to create assignment")
		return
	}
	h.purge()
	h.logger.Info("assignment created",
		zap.String("resource", a.Resource),
		zap.String("kind", string(a.Kind)),
		zap.String("access", string(a.Access)),
		zap.Strings("roles", a.Roles))

	writeJSON(w, http.StatusCreated, a)
}

// GetAssignment returns a single assignment by ID.
// GET /api/v1/system/assignments/{id}
func (h *SystemHandler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.store.GetAssignment(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "Assignment "+id)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateAssignment replaces an assignment's fields and roles.
// PUT /api/v1/system/assignments/{id}
func (h *SystemHandler) UpdateAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := h.store.GetAssignment(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "Assignment "+id)
		return
	}

	var req assignmentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Resource == "" {
		req.Resource = existing.Resource
	}
	if req.Kind == "" {
		req.Kind = string(existing.Kind)
	}
	if req.Access == "" {
		req.Access = string(existing.AccessType())
	}
	if req.Enabled == nil {
		req.Enabled = &existing.Enabled
	}
	a, err := req.toAssignment()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.ID = existing.ID
	a.CreatedAt = existing.CreatedAt

	if err := h.store.UpdateAssignment(r.Context(), a); err != nil {
		writeStoreError(w, err, "Failed to update assignment")
		return
	}
	h.purge()
	writeJSON(w, http.StatusOK, a)
}

// SetAssignmentRoles replaces the roles of an assignment.
// PUT /api/v1/system/assignments/{id}/roles
func (h *SystemHandler) SetAssignmentRoles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Roles []string `json:"roles"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.store.SetAssignmentRoles(r.Context(), id, body.Roles); err != nil {
		writeStoreError(w, err, "Failed to set roles")
		return
	}
	h.purge()

	a, err := h.store.GetAssignment(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "Assignment "+id)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// EnableAssignment turns enforcement on for an assignment.
// POST /api/v1/system/assignments/{id}/enable
func (h *SystemHandler) EnableAssignment(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// DisableAssignment turns enforcement off without deleting the roles.
// POST /api/v1/system/assignments/{id}/disable
func (h *SystemHandler) DisableAssignment(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *SystemHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	if err := h.store.SetAssignmentEnabled(r.Context(), id, enabled); err != nil {
		writeStoreError(w, err, "Failed to update assignment")
		return
	}
	h.purge()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"enabled": enabled,
	})
}

// DeleteAssignment removes an assignment, leaving its resource unrestricted.
// DELETE /api/v1/system/assignments/{id}
func (h *SystemHandler) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteAssignment(r.Context(), id); err != nil {
		writeStoreError(w, err, "Failed to delete assignment")
		return
	}
	h.purge()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Assignment deleted",
	})
}

// ExportAssignments writes every assignment as a YAML document.
// GET /api/v1/system/assignments/export
func (h *SystemHandler) ExportAssignments(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.store.ExportAssignments(r.Context(), &buf); err != nil {
		writeStoreError(w, err, "Failed to export assignments")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ImportAssignments upserts assignments from a YAML document in the body.
// POST /api/v1/system/assignments/import
func (h *SystemHandler) ImportAssignments(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	res, err := h.store.ImportAssignments(r.Context(), r.Body)
	if err != nil {
		if errors.Is(err, config.ErrInvalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeStoreError(w, err, "Failed to import assignments")
		return
	}
	h.purge()
	writeJSON(w, http.StatusOK, res)
}

// ---------------------------------------------------------------------------
// Roles and memberships
// ---------------------------------------------------------------------------

// ListRoles returns the role catalogue: every role named by an assignment
// or a membership.
// GET /api/v1/system/roles
func (h *SystemHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.ListRoleNames(r.Context())
	if err != nil {
		writeStoreError(w, err, "Failed to list roles")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: stringsToResources("name", names),
		Meta: &model.ResponseMeta{
			Count: len(names),
		},
	})
}

// ListMemberships returns memberships, optionally for one role.
// GET /api/v1/system/members?role=
func (h *SystemHandler) ListMemberships(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListMemberships(r.Context(), queryString(r, "role"))
	if err != nil {
		writeStoreError(w, err, "Failed to list memberships")
		return
	}
	if list == nil {
		list = []model.Membership{}
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: list,
		Meta: &model.ResponseMeta{
			Count: len(list),
		},
	})
}

// MemberRoles returns the roles of one subject.
// GET /api/v1/system/members/{subject}
func (h *SystemHandler) MemberRoles(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	roles, err := h.store.MemberRoles(r.Context(), subject)
	if err != nil {
		writeStoreError(w, err, "Failed to load member roles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject": subject,
		"roles":   roles,
	})
}

// GrantRole adds subject to a role.
// POST /api/v1/system/members/{subject}/roles
func (h *SystemHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	var body struct {
		Role string `json:"role"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Role) == "" {
		writeError(w, http.StatusBadRequest, "role is required")
		return
	}

	if err := h.store.GrantRole(r.Context(), subject, body.Role); err != nil {
		writeStoreError(w, err, "Failed to grant role")
		return
	}
	writeJSON(w, http.StatusCreated, model.Membership{Subject: subject, Role: body.Role, CreatedAt: time.Now().UTC()})
}

// RevokeRole removes subject from a role.
// DELETE /api/v1/system/members/{subject}/roles/{role}
func (h *SystemHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	role := chi.URLParam(r, "role")
	if err := h.store.RevokeRole(r.Context(), subject, role); err != nil {
		writeStoreError(w, err, "Membership "+subject+"/"+role)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Role revoked",
	})
}

// ---------------------------------------------------------------------------
// Admin management
// ---------------------------------------------------------------------------

// ListAdmins returns all admin accounts.
// GET /api/v1/system/admin
func (h *SystemHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		writeStoreError(w, err, "Failed to list admins")
		return
	}

	resources := make([]map[string]interface{}, 0, len(admins))
	for i := range admins {
		resources = append(resources, adminToMap(&admins[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta: &model.ResponseMeta{
			Count: len(resources),
		},
	})
}

// CreateAdmin creates a new admin account.
// POST /api/v1/system/admin
func (h *SystemHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if body.Email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}
	if body.Password == "" {
		writeError(w, http.StatusBadRequest, "Password is required")
		return
	}
	if len(body.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	passwordHash, err := service.HashPassword(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	admin := &model.Admin{
		Email:        body.Email,
		PasswordHash: passwordHash,
		Name:         body.Name,
		IsActive:     true,
	}

	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		if errors.Is(err, config.ErrConflict) {
			writeError(w, http.StatusConflict, "Admin with this email already exists")
			return
		}
		writeStoreError(w, err, "Failed to create admin")
		return
	}

	writeJSON(w, http.StatusCreated, adminToMap(admin))
}

// ---------------------------------------------------------------------------
// API Key management
// ---------------------------------------------------------------------------

// ListAPIKeys returns all configured API keys (without exposing the actual key).
// GET /api/v1/system/api-key
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeStoreError(w, err, "Failed to list API keys")
		return
	}

	resources := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		resources = append(resources, apiKeyToMap(&keys[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta: &model.ResponseMeta{
			Count: len(resources),
		},
	})
}

// createAPIKeyRequest is the expected payload for CreateAPIKey.
type createAPIKeyRequest struct {
	Label     string `json:"label"`
	ExpiresIn string `json:"expires_in,omitempty"` // Go duration, e.g. "720h"
}

// createAPIKeyResponse includes the plaintext key (shown once only).
type createAPIKeyResponse struct {
	ID        string     `json:"id"`
	Key       string     `json:"api_key"` // Plaintext, shown ONCE.
	KeyPrefix string     `json:"key_prefix"`
	Label     string     `json:"label"`
	IsActive  bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateAPIKey generates a new API key, stores its hash, and returns the
// plaintext key exactly once.
// POST /api/v1/system/api-key
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var ttl time.Duration
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid expires_in: "+req.ExpiresIn)
			return
		}
		ttl = d
	}

	plaintext, apiKey, err := h.authSvc.GenerateAPIKey(r.Context(), req.Label, ttl)
	if err != nil {
		writeStoreError(w, err, "Failed to save API key")
		return
	}

	// Return the plaintext key. This is the ONLY time it will be visible.
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		ID:        apiKey.ID,
		Key:       plaintext,
		KeyPrefix: apiKey.KeyPrefix,
		Label:     apiKey.Label,
		IsActive:  apiKey.IsActive,
		ExpiresAt: apiKey.ExpiresAt,
		CreatedAt: apiKey.CreatedAt,
	})
}

// RevokeAPIKey deactivates an API key by ID.
// DELETE /api/v1/system/api-key/{keyId}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyId")
	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		writeStoreError(w, err, "API key "+id)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}

// ---------------------------------------------------------------------------
// Serialization helpers (avoid exposing sensitive fields like password hashes)
// ---------------------------------------------------------------------------

func adminToMap(admin *model.Admin) map[string]interface{} {
	m := map[string]interface{}{
		"id":         admin.ID,
		"email":      admin.Email,
		"name":       admin.Name,
		"is_active":  admin.IsActive,
		"created_at": admin.CreatedAt,
		"updated_at": admin.UpdatedAt,
	}
	if admin.LastLoginAt != nil {
		m["last_login_at"] = admin.LastLoginAt
	}
	return m
}

func apiKeyToMap(key *model.APIKey) map[string]interface{} {
	m := map[string]interface{}{
		"id":         key.ID,
		"key_prefix": key.KeyPrefix,
		"label":      key.Label,
		"is_active":  key.IsActive,
		"created_at": key.CreatedAt,
	}
	if key.ExpiresAt != nil {
		m["expires_at"] = key.ExpiresAt
	}
	if key.LastUsed != nil {
		m["last_used"] = key.LastUsed
	}
	return m
}
