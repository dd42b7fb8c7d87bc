package cli

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/roleguard/internal/config"
)

var (
	cfgFile    string
	appVersion string // set in Execute, reported by serve and openapi
)

// envKeys are the settings that can be overridden with ROLEGUARD_* variables,
// e.g. ROLEGUARD_AUTH_JWT_SECRET.
var envKeys = []string{
	"server.host",
	"server.port",
	"server.rate_limit",
	"store.driver",
	"store.dsn",
	"auth.jwt_secret",
	"auth.jwt_expiry",
	"auth.api_key_header",
	"auth.trust_headers",
	"auth.memberships",
	"cache.enabled",
	"cache.ttl",
	"proxy.upstream",
	"logging.level",
	"logging.format",
}

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roleguard",
		Short: "Role-based access decisions for views and templates",
		Long: `roleguard: role-based access control for web applications.

roleguard stores which roles may reach each view and see each template
section, answers access questions over HTTP for gateways and applications,
and can sit in front of an application as a guarding reverse proxy. It also
audits a site's routes and ships an MCP server for AI agents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./roleguard.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.roleguard)")

	cobra.OnInitialize(initConfig)

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newAssignmentCmd())
	cmd.AddCommand(newMemberCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func initConfig() {
	_ = godotenv.Load() // .env is optional

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("roleguard")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.roleguard")
	}

	viper.SetEnvPrefix("ROLEGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range envKeys {
		viper.BindEnv(key)
	}
	viper.ReadInConfig() // Ignore error - config file is optional
}

// loadConfig returns the defaults overlaid with the config file, flags and
// environment.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	return cfg, nil
}
