// Package config provides centralized configuration management for spacefeed.
// It merges three layers using gofulmen/config helpers:
// Layer 1: built-in defaults
// Layer 2: user overrides (discovered via app identity, or an explicit file)
// Layer 3: environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/kosmostars/spacefeed/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity

	// explicitFile is set by --config and replaces user path discovery.
	explicitFile string
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetConfigFile pins the user layer to path. An empty path restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	explicitFile = strings.TrimSpace(path)
}

// Load loads configuration using the three-layer pattern:
// 1. Built-in defaults
// 2. User overrides from the explicit file or XDG config paths
// 3. Environment variables and runtime overrides
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	// Get app identity if not already loaded
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	merged := Defaults()

	userLayer, err := loadUserLayer()
	if err != nil {
		return nil, err
	}
	mergeMaps(merged, userLayer)

	// Unprefixed variables understood by earlier deployments sit below the
	// prefixed ones.
	mergeMaps(merged, legacyEnvOverrides())

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	mergeMaps(merged, envOverrides)

	if value := strings.TrimSpace(os.Getenv(envPrefix() + "API_REFRESH_RPS")); value != "" {
		rps, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid refresh rps: %w", err)
		}
		ensureMap(merged, "api")["refresh_rps"] = rps
	}

	for _, overrides := range runtimeOverrides {
		mergeMaps(merged, overrides)
	}

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = defaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Store the loaded config
	setConfig(cfg)

	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// loadUserLayer reads the explicit config file, or the first user config
// found on the XDG paths. A missing discovered file is not an error.
func loadUserLayer() (map[string]any, error) {
	configMu.RLock()
	file := explicitFile
	configMu.RUnlock()

	if file != "" {
		layer, err := readYAMLFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
		return layer, nil
	}

	for _, path := range getUserConfigPaths() {
		layer, err := readYAMLFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		return layer, nil
	}
	return map[string]any{}, nil
}

func readYAMLFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator flags or XDG discovery
	if err != nil {
		return nil, err
	}
	layer := map[string]any{}
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return layer, nil
}

// getUserConfigPaths returns the list of user config file paths to check
// Uses gofulmen/config for XDG-compliant path discovery
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}

	appName := appIdentity.ConfigName
	if strings.TrimSpace(appName) == "" {
		appName = appIdentity.BinaryName
	}
	if strings.TrimSpace(appName) == "" {
		appName = "spacefeed"
	}

	legacyNames := []string{}
	if appIdentity.BinaryName != "" && appIdentity.BinaryName != appName {
		legacyNames = append(legacyNames, appIdentity.BinaryName)
	}

	return gfconfig.GetAppConfigPaths(appName, legacyNames...)
}

func envPrefix() string {
	prefix := "SPACEFEED_"
	if appIdentity != nil && appIdentity.EnvPrefix != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	if appIdentity == nil {
		return []EnvVarSpec{}
	}

	prefix := envPrefix()

	specs := []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},
		{Name: prefix + "RETENTION_DAYS", Path: []string{"store", "retention_days"}, Type: EnvInt},

		// Redis snapshot cache
		{Name: prefix + "REDIS_URL", Path: []string{"redis", "url"}, Type: EnvString},
		{Name: prefix + "REDIS_TTL", Path: []string{"redis", "ttl"}, Type: EnvString},

		// Outbound fetch engine
		{Name: prefix + "USER_AGENT", Path: []string{"fetch", "user_agent"}, Type: EnvString},
		{Name: prefix + "RATE_LIMIT_CAPACITY", Path: []string{"fetch", "rate_limit", "capacity"}, Type: EnvInt},
		{Name: prefix + "RATE_LIMIT_WINDOW", Path: []string{"fetch", "rate_limit", "window"}, Type: EnvString},
		{Name: prefix + "MAX_RETRIES", Path: []string{"fetch", "retry", "max_retries"}, Type: EnvInt},
		{Name: prefix + "BACKOFF_BASE", Path: []string{"fetch", "retry", "backoff_base"}, Type: EnvString},
		{Name: prefix + "RETRY_DELAY", Path: []string{"fetch", "retry", "retry_delay"}, Type: EnvString},
		{Name: prefix + "RUN_ON_START", Path: []string{"fetch", "run_on_start"}, Type: EnvBool},

		{Name: prefix + "NASA_API_KEY", Path: []string{"nasa", "api_key"}, Type: EnvString},
		{Name: prefix + "API_REFRESH_BURST", Path: []string{"api", "refresh_burst"}, Type: EnvInt},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
	}

	for _, name := range sourceNames {
		upper := strings.ToUpper(name)
		specs = append(specs,
			EnvVarSpec{Name: prefix + upper + "_ENABLED", Path: []string{"sources", name, "enabled"}, Type: EnvBool},
			EnvVarSpec{Name: prefix + upper + "_URL", Path: []string{"sources", name, "url"}, Type: EnvString},
			EnvVarSpec{Name: prefix + upper + "_INTERVAL", Path: []string{"sources", name, "interval"}, Type: EnvString},
			EnvVarSpec{Name: prefix + upper + "_TIMEOUT", Path: []string{"sources", name, "timeout"}, Type: EnvString},
		)
	}

	return specs
}

var sourceNames = []string{"iss", "osdr", "apod", "neo", "flr", "cme", "spacex"}

// legacyEnvOverrides maps the unprefixed variables of the original deployment.
// Interval variables are whole seconds.
func legacyEnvOverrides() map[string]any {
	out := map[string]any{}

	if value := lookupEnv("DATABASE_URL"); value != "" {
		store := ensureMap(out, "store")
		store["url"] = value
		if strings.HasPrefix(value, "postgres://") || strings.HasPrefix(value, "postgresql://") {
			store["driver"] = "postgres"
		}
	}
	if value := lookupEnv("PORT"); value != "" {
		if port, err := strconv.Atoi(value); err == nil {
			ensureMap(out, "server")["port"] = port
		}
	}
	if value := lookupEnv("NASA_API_KEY"); value != "" {
		ensureMap(out, "nasa")["api_key"] = value
	}
	if value := lookupEnv("REDIS_URL"); value != "" {
		ensureMap(out, "redis")["url"] = value
	}

	sources := map[string]any{}
	setSource := func(name, key string, value any) {
		ensureMap(sources, name)[key] = value
	}
	if value := lookupEnv("NASA_API_URL"); value != "" {
		setSource("osdr", "url", value)
	}
	if value := lookupEnv("WHERE_ISS_URL"); value != "" {
		setSource("iss", "url", value)
	}

	intervals := map[string][]string{
		"ISS_EVERY_SECONDS":    {"iss"},
		"FETCH_EVERY_SECONDS":  {"osdr"},
		"APOD_EVERY_SECONDS":   {"apod"},
		"NEO_EVERY_SECONDS":    {"neo"},
		"DONKI_EVERY_SECONDS":  {"flr", "cme"},
		"SPACEX_EVERY_SECONDS": {"spacex"},
	}
	for key, names := range intervals {
		value := lookupEnv(key)
		if value == "" {
			continue
		}
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			continue
		}
		for _, name := range names {
			setSource(name, "interval", strconv.Itoa(seconds)+"s")
		}
	}
	if len(sources) > 0 {
		out["sources"] = sources
	}
	return out
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "spacefeed" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "spacefeed"
	binaryName = "spacefeed"
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

// defaultStorePath is an unexported alias for internal use.
func defaultStorePath() string {
	return DefaultStorePath()
}

// mergeMaps deep merges src into dst. Nested maps merge key by key; any other
// value in src replaces the one in dst.
func mergeMaps(dst, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := asStringMap(value)
		if srcIsMap {
			if dstMap, ok := asStringMap(dst[key]); ok {
				mergeMaps(dstMap, srcMap)
				dst[key] = dstMap
				continue
			}
			copied := map[string]any{}
			mergeMaps(copied, srcMap)
			dst[key] = copied
			continue
		}
		dst[key] = value
	}
}

func asStringMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}
