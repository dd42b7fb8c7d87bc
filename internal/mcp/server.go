package mcp

import (
	"net/http"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/faucetdb/roleguard/internal/access"
	"github.com/faucetdb/roleguard/internal/config"
	"github.com/faucetdb/roleguard/internal/service"
)

// ServerName and ServerVersion identify the roleguard MCP server to clients.
const (
	ServerName    = "roleguard Access API"
	ServerVersion = "0.1.0"
)

// MCPServer wraps the mcp-go server with roleguard tool and resource
// registrations. It lets AI agents ask access questions and inspect role
// assignments without write access to the store.
type MCPServer struct {
	store   *config.Store
	checker *access.Checker
	authSvc *service.AuthService
	logger  *zap.Logger
	server  *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all roleguard tools and
// resources. authSvc may be nil, in which case principals are not enriched
// with stored memberships.
func NewMCPServer(store *config.Store, checker *access.Checker, authSvc *service.AuthService, logger *zap.Logger) *MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MCPServer{
		store:   store,
		checker: checker,
		authSvc: authSvc,
		logger:  logger,
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// roleguard as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode on addr
// (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", zap.String("addr", addr))
	return httpServer.Start(addr)
}

// Handler returns a stateless Streamable HTTP handler suitable for mounting
// on an existing router.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.server, server.WithStateLess(true))
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ReadOnly    bool   `json:"read_only"`
}

// Tools lists the registered tools sorted by name.
func (s *MCPServer) Tools() []ToolInfo {
	tools := s.server.ListTools()
	out := make([]ToolInfo, 0, len(tools))
	for name, t := range tools {
		info := ToolInfo{Name: name, Description: t.Tool.Description}
		if ro := t.Tool.Annotations.ReadOnlyHint; ro != nil {
			info.ReadOnly = *ro
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResourceInfo describes a registered resource or resource template.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Resources lists the static resource and the per-assignment template.
func (s *MCPServer) Resources() []ResourceInfo {
	return []ResourceInfo{
		{URI: assignmentsURI, Name: "Role Assignments", Description: "All role assignments"},
		{URI: assignmentURITemplate, Name: "Role Assignment", Description: "One assignment by kind and resource"},
	}
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
