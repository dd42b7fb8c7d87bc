package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/faucetdb/roleguard/internal/config"
	"github.com/faucetdb/roleguard/internal/model"
)

// registerTools registers all roleguard MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Decision tool -----

	srv.AddTool(
		mcp.NewTool("roleguard_check_access",
			mcp.WithDescription(
				"Decide whether a principal may reach a view or see a template section. "+
					"A resource without an enabled role assignment is unrestricted. Once "+
					"enforced, the principal needs at least one of the assignment's roles, "+
					"unless the assignment's access is public or authenticated. "+
					"For views, pass the app name so the site policy (not_secured, public, "+
					"secured, disabled apps) is applied. Returns the decision and the reason.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("resource",
				mcp.Required(),
				mcp.Description("View name (e.g. \"blog:post-edit\") or template flag"),
			),
			mcp.WithString("kind",
				mcp.Description("Resource kind (default view)"),
				mcp.Enum(string(model.KindView), string(model.KindTemplate)),
			),
			mcp.WithString("app",
				mcp.Description("Application the view belongs to; only used for views"),
			),
			mcp.WithString("subject",
				mcp.Description("Principal identifier. Omit for an anonymous principal."),
			),
			mcp.WithArray("roles",
				mcp.Description("Roles the principal holds in addition to stored memberships"),
				mcp.WithStringItems(),
			),
			mcp.WithBoolean("superuser",
				mcp.Description("Whether the principal is a superuser (passes template checks)"),
			),
		),
		s.handleCheckAccess,
	)

	// ----- Inspection tools -----

	srv.AddTool(
		mcp.NewTool("roleguard_list_assignments",
			mcp.WithDescription(
				"List role assignments, optionally filtered by kind, by a role that is "+
					"allowed, or to enabled assignments only. Use this to see which "+
					"resources are restricted and to whom.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("kind",
				mcp.Description("Only assignments of this kind"),
				mcp.Enum(string(model.KindView), string(model.KindTemplate)),
			),
			mcp.WithString("role",
				mcp.Description("Only assignments that allow this role"),
			),
			mcp.WithBoolean("enabled_only",
				mcp.Description("Only assignments whose enforcement is enabled"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of assignments to return (default 50, max 500)"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Number of assignments to skip for pagination"),
			),
		),
		s.handleListAssignments,
	)

	srv.AddTool(
		mcp.NewTool("roleguard_get_assignment",
			mcp.WithDescription(
				"Get one role assignment, either by ID or by resource and kind.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("id",
				mcp.Description("Assignment ID"),
			),
			mcp.WithString("resource",
				mcp.Description("Resource name, used when id is omitted"),
			),
			mcp.WithString("kind",
				mcp.Description("Resource kind (default view)"),
				mcp.Enum(string(model.KindView), string(model.KindTemplate)),
			),
		),
		s.handleGetAssignment,
	)

	srv.AddTool(
		mcp.NewTool("roleguard_member_roles",
			mcp.WithDescription(
				"List the roles a subject holds through stored memberships.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("subject",
				mcp.Required(),
				mcp.Description("Principal identifier"),
			),
		),
		s.handleMemberRoles,
	)
}

// =========================================================================
// Tool handlers
// =========================================================================

// handleCheckAccess decides access for a principal described by the caller.
func (s *MCPServer) handleCheckAccess(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	resource, err := requireString(request, "resource")
	if err != nil {
		return toolError("%v", err)
	}
	kind, ok := model.ParseResourceKind(optionalString(request, "kind"))
	if !ok {
		return toolError("kind must be %q or %q", model.KindView, model.KindTemplate)
	}

	p := &model.Principal{
		Subject:   optionalString(request, "subject"),
		Roles:     optionalStringSlice(request, "roles"),
		Superuser: request.GetBool("superuser", false),
	}
	p.Authenticated = p.Subject != ""
	if s.authSvc != nil {
		enriched, err := s.authSvc.Enrich(ctx, p)
		if err != nil {
			return toolError("Failed to load memberships for %q: %v", p.Subject, err)
		}
		p = enriched
	}

	d, err := s.checker.Check(ctx, p, optionalString(request, "app"), resource, kind)
	if err != nil {
		s.logger.Error("access lookup failed", zap.String("resource", resource), zap.Error(err))
		return toolError("Assignment store unavailable: %v", err)
	}

	return successJSON(map[string]interface{}{
		"principal": p,
		"decision":  d,
	})
}

// handleListAssignments returns a page of assignments.
func (s *MCPServer) handleListAssignments(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	var f config.AssignmentFilter
	if k := optionalString(request, "kind"); k != "" {
		kind, ok := model.ParseResourceKind(k)
		if !ok {
			return toolError("kind must be %q or %q", model.KindView, model.KindTemplate)
		}
		f.Kind = kind
	}
	f.Role = optionalString(request, "role")
	f.EnabledOnly = request.GetBool("enabled_only", false)

	limit := clamp(optionalInt(request, "limit", 50), 1, 500)
	offset := optionalInt(request, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	list, err := s.store.ListAssignments(ctx, f)
	if err != nil {
		return toolError("Failed to list assignments: %v", err)
	}
	total := len(list)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return successJSON(map[string]interface{}{
		"assignments": list[offset:end],
		"total":       total,
		"offset":      offset,
	})
}

// handleGetAssignment returns one assignment by ID or by resource.
func (s *MCPServer) handleGetAssignment(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id := optionalString(request, "id")
	resource := optionalString(request, "resource")

	var a *model.RoleAssignment
	var err error
	switch {
	case id != "":
		a, err = s.store.GetAssignment(ctx, id)
	case resource != "":
		kind, ok := model.ParseResourceKind(optionalString(request, "kind"))
		if !ok {
			return toolError("kind must be %q or %q", model.KindView, model.KindTemplate)
		}
		a, err = s.store.FindAssignment(ctx, resource, kind)
	default:
		return toolError("Provide either id or resource")
	}
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return toolError("No assignment found. The resource is unrestricted. " +
				"Use roleguard_list_assignments to see restricted resources.")
		}
		return toolError("Failed to get assignment: %v", err)
	}

	return successJSON(a)
}

// handleMemberRoles returns the stored roles of a subject.
func (s *MCPServer) handleMemberRoles(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	subject, err := requireString(request, "subject")
	if err != nil {
		return toolError("%v", err)
	}

	roles, err := s.store.MemberRoles(ctx, subject)
	if err != nil {
		return toolError("Failed to list roles for %q: %v", subject, err)
	}

	return successJSON(map[string]interface{}{
		"subject": subject,
		"roles":   roles,
	})
}
