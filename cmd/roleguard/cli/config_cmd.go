package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/roleguard/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage roleguard configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force    bool
		defaults bool
		path     string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default roleguard.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), path, force, defaults)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Write every default value instead of the annotated template")
	cmd.Flags().StringVar(&path, "path", "roleguard.yaml", "File to write")

	return cmd
}

const defaultConfig = `# roleguard configuration
# Every setting can be overridden with ROLEGUARD_<SECTION>_<KEY>, e.g.
# ROLEGUARD_AUTH_JWT_SECRET. ${VAR} references are not expanded here.

server:
  host: 0.0.0.0
  port: 8080
  shutdown_timeout: 30s
  rate_limit: 600        # decision requests per minute per API key, 0 disables
  cors:
    origins:
      - "*"
  tls:
    enabled: false
    cert_file: ""
    key_file: ""

# Assignment store. sqlite keeps roleguard.db in the data directory;
# postgres, mysql and mssql take a DSN.
store:
  driver: sqlite
  dsn: ""
  # pool:
  #   max_open_conns: 25
  #   max_idle_conns: 5
  #   conn_max_lifetime: 5m

# Authentication
auth:
  jwt_secret: ""          # Set via ROLEGUARD_AUTH_JWT_SECRET
  jwt_expiry: 1h
  api_key_header: X-API-Key
  trust_headers: false    # accept X-Principal-* headers from a trusted proxy
  memberships: true       # merge stored memberships into principals

# Assignment lookup cache
cache:
  enabled: true
  ttl: 30s
  max_entries: 10000

# Site policy: classify apps by name. An app belongs to at most one list.
policy:
  not_secured: []   # always allowed, assignments ignored
  public: []        # allowed unless an assignment says otherwise
  secured: []       # authenticated principals only, unless an assignment says otherwise
  disabled: []      # always denied

# Response written when the guard denies a request
deny:
  redirect_url: ""  # redirect instead of 403 when set
  message: 403 Forbidden

# Routes map request paths to views for the guard and the report.
routes: []
  # - app: blog
  #   view: blog:post-edit
  #   pattern: /blog/{id}/edit
  #   methods: [GET, POST]

# Guarded reverse proxy. Requires routes.
proxy:
  upstream: ""      # e.g. http://localhost:3000

# MCP server
mcp:
  enabled: true
  transport: stdio

# Logging
logging:
  level: info    # debug, info, warn, error
  format: text   # text or json
`

func runConfigInit(w io.Writer, path string, force, defaults bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if defaults {
		if err := config.WriteDefaultConfig(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	} else if err := os.WriteFile(path, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(w, "Created %s\n", path)
	fmt.Fprintln(w, "Classify your apps under policy and add routes, then run 'roleguard serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout(), asYAML)
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the merged configuration as YAML")

	return cmd
}

func runConfigShow(w io.Writer, asYAML bool) error {
	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Fprintf(w, "Config file: %s\n", configFile)
	} else {
		fmt.Fprintln(w, "Config file: (none found, using defaults)")
	}
	fmt.Fprintf(w, "Data dir:    %s\n", resolveDataDir())
	fmt.Fprintln(w)

	if asYAML {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Secrets are masked.
		if cfg.Auth.JWTSecret != "" {
			cfg.Auth.JWTSecret = "********"
		}
		if cfg.Store.DSN != "" {
			cfg.Store.DSN = "********"
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}

	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Fprintln(w, "No configuration settings loaded.")
		fmt.Fprintln(w, "Run 'roleguard config init' to create a default configuration file.")
		return nil
	}

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, settings[k])
	}
	return nil
}
