package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/roleguard/internal/config"
	"github.com/faucetdb/roleguard/internal/model"
)

const (
	assignmentsURI        = "roleguard://assignments"
	assignmentURIPrefix   = "roleguard://assignment/"
	assignmentURITemplate = "roleguard://assignment/{kind}/{resource}"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// roleguard://assignments: every role assignment
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			assignmentsURI,
			"Role Assignments",
			mcp.WithResourceDescription(
				"All role assignments with their allowed roles and enforcement flag.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleAssignmentsResource,
	)

	// -------------------------------------------------------------------
	// roleguard://assignment/{kind}/{resource}: one assignment (template)
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			assignmentURITemplate,
			"Role Assignment",
			mcp.WithTemplateDescription(
				"The role assignment of one view or template flag.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleAssignmentResource,
	)
}

// handleAssignmentsResource returns every assignment as JSON.
func (s *MCPServer) handleAssignmentsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	list, err := s.store.ListAssignments(ctx, config.AssignmentFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return jsonResource(assignmentsURI, list)
}

// handleAssignmentResource returns the assignment named by the URI.
func (s *MCPServer) handleAssignmentResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	kind, resource, err := parseAssignmentURI(uri)
	if err != nil {
		return nil, err
	}

	a, err := s.store.FindAssignment(ctx, resource, kind)
	if err != nil {
		return nil, fmt.Errorf("assignment %s %q: %w", kind, resource, err)
	}
	return jsonResource(uri, a)
}

// parseAssignmentURI splits "roleguard://assignment/{kind}/{resource}".
// Resource names may contain slashes.
func parseAssignmentURI(uri string) (model.ResourceKind, string, error) {
	rest := strings.TrimPrefix(uri, assignmentURIPrefix)
	if rest == uri {
		return "", "", fmt.Errorf("invalid assignment URI %q: expected %s", uri, assignmentURITemplate)
	}
	k, resource, found := strings.Cut(rest, "/")
	kind, ok := model.ParseResourceKind(k)
	if !found || !ok || k == "" || resource == "" {
		return "", "", fmt.Errorf("invalid assignment URI %q: expected %s", uri, assignmentURITemplate)
	}
	return kind, resource, nil
}

func jsonResource(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
