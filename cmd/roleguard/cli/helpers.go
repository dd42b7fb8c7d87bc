package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/faucetdb/roleguard/internal/access"
	"github.com/faucetdb/roleguard/internal/config"
	"github.com/faucetdb/roleguard/internal/guard"
	"github.com/faucetdb/roleguard/internal/model"
	"github.com/faucetdb/roleguard/internal/service"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// ROLEGUARD_DATA_DIR env var, or ~/.roleguard as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("ROLEGUARD_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".roleguard")
}

// openConfigStore opens the assignment store described by the configuration,
// defaulting to SQLite under the data directory.
func openConfigStore(cfg *config.YAMLConfig) (*config.Store, error) {
	sc, err := cfg.StoreConfig(resolveDataDir())
	if err != nil {
		return nil, err
	}
	store, err := config.Open(sc)
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	return store, nil
}

// loadStore loads the configuration and opens the store in one step, for
// commands that need nothing else.
func loadStore() (*config.Store, *config.YAMLConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := openConfigStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

// newPolicy builds the site policy from the policy section.
func newPolicy(cfg *config.YAMLConfig) *access.SitePolicy {
	p := cfg.Policy
	return access.NewSitePolicy(p.NotSecured, p.Public, p.Secured, p.Disabled)
}

// newChecker assembles the decision engine. The returned cache is nil when
// caching is disabled.
func newChecker(cfg *config.YAMLConfig, store *config.Store, logger *zap.Logger) (*access.Checker, *access.CachedSource) {
	var src access.Source = store
	var cache *access.CachedSource
	if cfg.Cache.Enabled {
		cache = access.NewCachedSource(store, cfg.Cache.MaxEntries, config.Duration(cfg.Cache.TTL, 30*time.Second))
		src = cache
	}
	return access.NewChecker(access.NewEngine(src, logger), newPolicy(cfg)), cache
}

// newAuthService builds the auth service from the auth section.
func newAuthService(cfg *config.YAMLConfig, store *config.Store) *service.AuthService {
	return service.NewAuthService(store, jwtSecret(cfg), service.AuthOptions{
		TrustHeaders: cfg.Auth.TrustHeaders,
		Memberships:  cfg.Auth.Memberships,
	})
}

// newRouteTable compiles the configured routes, or returns nil when none
// are configured.
func newRouteTable(cfg *config.YAMLConfig) (*guard.RouteTable, error) {
	if len(cfg.Routes) == 0 {
		return nil, nil
	}
	rt, err := guard.NewRouteTable(cfg.Routes)
	if err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	return rt, nil
}

const devJWTSecret = "roleguard-dev-secret-change-me"

func jwtSecret(cfg *config.YAMLConfig) string {
	if cfg.Auth.JWTSecret == "" {
		return devJWTSecret
	}
	return cfg.Auth.JWTSecret
}

// parseKind parses a --kind flag value.
func parseKind(s string) (model.ResourceKind, error) {
	kind, ok := model.ParseResourceKind(s)
	if !ok {
		return "", fmt.Errorf("invalid kind %q (use view or template)", s)
	}
	return kind, nil
}

// splitRoles parses a comma-separated --roles flag value.
func splitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "roleguard.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "roleguard.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
