package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/faucetdb/roleguard/internal/logging"
	rgmcp "github.com/faucetdb/roleguard/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes access decisions
and role assignments as tools and resources for AI agents. Supports stdio
(default) and HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with desktop MCP clients. Logs go to stderr.

In HTTP mode, the server listens on the given port using the Streamable
HTTP transport. 'roleguard serve' also mounts it at /mcp behind auth.`,
		Example: `  roleguard mcp                              # stdio mode
  roleguard mcp --transport http --port 3001  # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("transport") {
				if cfg, err := loadConfig(); err == nil && cfg.MCP.Transport != "" {
					transport = cfg.MCP.Transport
				}
			}
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	store, cfg, err := loadStore()
	if err != nil {
		return err
	}
	defer store.Close()

	logger := logging.Must(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	checker, _ := newChecker(cfg, store, logger)
	mcpSrv := rgmcp.NewMCPServer(store, checker, newAuthService(cfg, store), logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		addr := fmt.Sprintf(":%d", port)
		logger.Info("starting MCP HTTP server", zap.String("addr", addr))
		return mcpSrv.ServeHTTP(addr)
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
