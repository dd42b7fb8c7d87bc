package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/faucetdb/roleguard/internal/model"
)

// YAMLConfig represents the top-level roleguard configuration file. The
// mapstructure tags let viper decode the same layout after merging flags and
// ROLEGUARD_* environment variables.
type YAMLConfig struct {
	Server  ServerConfig      `yaml:"server" mapstructure:"server"`
	Store   StoreYAML         `yaml:"store" mapstructure:"store"`
	Auth    AuthConfig        `yaml:"auth" mapstructure:"auth"`
	Cache   CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Policy  PolicyConfig      `yaml:"policy" mapstructure:"policy"`
	Deny    DenyConfig        `yaml:"deny" mapstructure:"deny"`
	Routes  []model.RouteRule `yaml:"routes" mapstructure:"routes"`
	Proxy   ProxyConfig       `yaml:"proxy" mapstructure:"proxy"`
	MCP     MCPConfig         `yaml:"mcp" mapstructure:"mcp"`
	Logging LoggingConfig     `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host" mapstructure:"host"`
	Port            int        `yaml:"port" mapstructure:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RateLimit       int        `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS            CORSConfig `yaml:"cors" mapstructure:"cors"`
	TLS             TLSConfig  `yaml:"tls" mapstructure:"tls"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
	Methods []string `yaml:"methods" mapstructure:"methods"`
}

// TLSConfig controls TLS termination at the server level.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file"`
}

// StoreYAML selects the database backing the assignment store.
type StoreYAML struct {
	Driver string          `yaml:"driver" mapstructure:"driver"`
	DSN    string          `yaml:"dsn" mapstructure:"dsn"`
	Pool   *PoolYAMLConfig `yaml:"pool,omitempty" mapstructure:"pool"`
}

// PoolYAMLConfig controls the connection pool for a server-based store.
type PoolYAMLConfig struct {
	MaxOpenConns    int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	JWTExpiry    string `yaml:"jwt_expiry" mapstructure:"jwt_expiry"`
	APIKeyHeader string `yaml:"api_key_header" mapstructure:"api_key_header"`
	// TrustHeaders accepts X-Principal-Subject / X-Principal-Roles from an
	// authenticating proxy in front of roleguard.
	TrustHeaders bool `yaml:"trust_headers" mapstructure:"trust_headers"`
	// Memberships merges roles from the membership table into every principal.
	Memberships bool `yaml:"memberships" mapstructure:"memberships"`
}

// CacheConfig controls the assignment lookup cache.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	TTL        string `yaml:"ttl" mapstructure:"ttl"`
	MaxEntries int    `yaml:"max_entries" mapstructure:"max_entries"`
}

// PolicyConfig classifies applications. An app appears in at most one list;
// unlisted apps are unclassified.
type PolicyConfig struct {
	NotSecured []string `yaml:"not_secured" mapstructure:"not_secured"`
	Public     []string `yaml:"public" mapstructure:"public"`
	Secured    []string `yaml:"secured" mapstructure:"secured"`
	Disabled   []string `yaml:"disabled" mapstructure:"disabled"`
}

// DenyConfig shapes the response written when the guard denies a request.
type DenyConfig struct {
	RedirectURL string `yaml:"redirect_url" mapstructure:"redirect_url"`
	Message     string `yaml:"message" mapstructure:"message"`
}

// ProxyConfig enables the guarded reverse proxy.
type ProxyConfig struct {
	Upstream string `yaml:"upstream" mapstructure:"upstream"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Transport string `yaml:"transport" mapstructure:"transport"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Fields missing from the file keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			RateLimit:       600,
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
		},
		Store: StoreYAML{
			Driver: "sqlite",
		},
		Auth: AuthConfig{
			JWTExpiry:    "1h",
			APIKeyHeader: "X-API-Key",
			Memberships:  true,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        "30s",
			MaxEntries: 10000,
		},
		Deny: DenyConfig{
			Message: "403 Forbidden",
		},
		MCP: MCPConfig{
			Enabled:   true,
			Transport: "stdio",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// StoreConfig converts the store section into a model.StoreConfig rooted at
// dataDir for file-based SQLite.
func (c *YAMLConfig) StoreConfig(dataDir string) (model.StoreConfig, error) {
	sc := model.StoreConfig{
		Driver:  c.Store.Driver,
		DSN:     c.Store.DSN,
		DataDir: dataDir,
	}
	if p := c.Store.Pool; p != nil {
		sc.Pool = model.DefaultPoolConfig()
		if p.MaxOpenConns > 0 {
			sc.Pool.MaxOpenConns = p.MaxOpenConns
		}
		if p.MaxIdleConns > 0 {
			sc.Pool.MaxIdleConns = p.MaxIdleConns
		}
		if p.ConnMaxLifetime != "" {
			d, err := time.ParseDuration(p.ConnMaxLifetime)
			if err != nil {
				return sc, fmt.Errorf("store.pool.conn_max_lifetime: %w", err)
			}
			sc.Pool.ConnMaxLifetime = d
		}
	}
	return sc, nil
}

// Duration parses a duration setting, falling back to def when s is empty or
// malformed.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
