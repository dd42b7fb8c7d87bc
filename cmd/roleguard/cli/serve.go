package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/faucetdb/roleguard/internal/config"
	"github.com/faucetdb/roleguard/internal/guard"
	"github.com/faucetdb/roleguard/internal/logging"
	"github.com/faucetdb/roleguard/internal/mcp"
	"github.com/faucetdb/roleguard/internal/server"
)

const banner = `
           _                                 _
 _ __ ___ | | ___  __ _ _   _  __ _ _ __ __| |
| '__/ _ \| |/ _ \/ _' | | | |/ _' | '__/ _' |
| | | (_) | |  __/ (_| | |_| | (_| | | | (_| |
|_|  \___/|_|\___|\__, |\__,_|\__,_|_|  \__,_|
                  |___/
`

func newServeCmd() *cobra.Command {
	var (
		port       int
		host       string
		dev        bool
		background bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the roleguard server",
		Long: `Start the HTTP server that answers access decisions, manages role
assignments, and optionally guards an upstream application as a reverse proxy.`,
		Example: `  roleguard serve
  roleguard serve --port 9090 --dev
  roleguard serve --background   # detach and write a PID file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if background {
				return runBackground(os.Args[1:])
			}
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, CORS *)")
	cmd.Flags().BoolVarP(&background, "background", "d", false, "Run the server in the background")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up logger
	level := cfg.Logging.Level
	if dev {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	fmt.Print(banner)
	fmt.Println()

	// 1. Open the assignment store
	store, err := openConfigStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("config store initialized", zap.String("driver", store.Driver()), zap.String("data_dir", resolveDataDir()))

	// 2. Decision engine, auth and guard
	checker, cache := newChecker(cfg, store, logger)
	authSvc := newAuthService(cfg, store)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is not set; using the development secret")
	}

	routes, err := newRouteTable(cfg)
	if err != nil {
		return err
	}
	g := guard.New(checker, authSvc.PrincipalFromRequest, guard.Options{
		RedirectURL: cfg.Deny.RedirectURL,
		Message:     cfg.Deny.Message,
		Logger:      logger,
	})

	// 3. Check for first-run (no admin exists)
	hasAdmin, err := store.HasAnyAdmin(context.Background())
	if err != nil {
		logger.Warn("failed to check for admin", zap.Error(err))
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: roleguard admin create")
	}

	// 4. Build and start HTTP server
	srvCfg := server.DefaultConfig()
	srvCfg.Host = cfg.Server.Host
	srvCfg.Port = cfg.Server.Port
	srvCfg.ShutdownTimeout = config.Duration(cfg.Server.ShutdownTimeout, srvCfg.ShutdownTimeout)
	srvCfg.RateLimit = cfg.Server.RateLimit
	srvCfg.APIKeyHeader = cfg.Auth.APIKeyHeader
	srvCfg.SessionTTL = config.Duration(cfg.Auth.JWTExpiry, srvCfg.SessionTTL)
	srvCfg.Version = versionString()
	if len(cfg.Server.CORS.Origins) > 0 {
		srvCfg.CORSOrigins = cfg.Server.CORS.Origins
	}
	if dev {
		srvCfg.CORSOrigins = []string{"*"}
	}
	if cfg.Server.TLS.Enabled {
		srvCfg.TLSCertFile = cfg.Server.TLS.CertFile
		srvCfg.TLSKeyFile = cfg.Server.TLS.KeyFile
	}
	if cfg.Proxy.Upstream != "" {
		u, err := url.Parse(cfg.Proxy.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("proxy.upstream %q is not an absolute URL", cfg.Proxy.Upstream)
		}
		if routes == nil {
			return fmt.Errorf("proxy.upstream requires routes to map requests to views")
		}
		srvCfg.ProxyUpstream = u
	}

	deps := server.Deps{
		Store:   store,
		AuthSvc: authSvc,
		Checker: checker,
		Cache:   cache,
		Guard:   g,
		Routes:  routes,
	}
	if cfg.MCP.Enabled {
		deps.MCP = mcp.NewMCPServer(store, checker, authSvc, logger)
	}
	srv := server.New(srvCfg, deps, logger)

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", zap.Error(err))
	}
	defer removePID()

	scheme := "http"
	if srvCfg.TLSCertFile != "" {
		scheme = "https"
	}
	base := fmt.Sprintf("%s://%s:%d", scheme, srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ roleguard %s\n", versionString())
	fmt.Printf("→ Listening on %s\n", base)
	fmt.Printf("→ Decision API: %s/api/v1/access/check\n", base)
	fmt.Printf("→ OpenAPI:      %s/openapi.json\n", base)
	fmt.Printf("→ Health:       %s/healthz\n", base)
	if deps.MCP != nil {
		fmt.Printf("→ MCP:          %s/mcp\n", base)
	}
	if srvCfg.ProxyUpstream != nil {
		fmt.Printf("→ Guarding:     %s (%d routes)\n", srvCfg.ProxyUpstream, len(routes.Rules()))
	}
	fmt.Println()

	return srv.ListenAndServe()
}

// runBackground re-executes the serve command detached from the terminal,
// with output appended to the log file.
func runBackground(args []string) error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	childArgs := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--background" || a == "-d" || a == "--background=true" {
			continue
		}
		childArgs = append(childArgs, a)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, childArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := writePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}

	fmt.Printf("roleguard server started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop: roleguard stop")
	return child.Process.Release()
}
