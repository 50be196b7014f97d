package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, verifies and validates a configuration file.
// A directory argument is treated as the directory containing config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := VerifyConfigHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath
	cfg.resolvePaths(filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes on top of Defaults() without validating.
func Parse(data []byte) (*Config, error) {
	expanded := interpolateEnv(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Defaults returns a Config with every optional field populated.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "trialmatch",
			Environment: EnvDevelopment,
			LogLevel:    "info",
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "./data/trialmatch.db",
		},
		API: APIConfig{
			Listen:       "127.0.0.1:3000",
			MaxBodyBytes: 10 << 20,
		},
		Worker: WorkerConfig{
			Mode:     WorkerModeProcess,
			Strategy: StrategyAscent,
			Anchor:   ".",
			Subpath:  "workers/match/run.sh",
			Marker: MarkerConfig{
				File:  "trialmatch.yaml",
				Field: "name",
				Value: "trialmatch",
			},
			Timeout:        30 * time.Second,
			KillGrace:      5 * time.Second,
			MaxOutputBytes: 32 << 20,
		},
		Cache: CacheConfig{
			TTL: 10 * time.Minute,
		},
	}
}

// applyDefaults fills zero values that an explicit YAML block may have cleared.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Service.Environment == "" {
		cfg.Service.Environment = d.Service.Environment
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = d.Store.Driver
	}
	if cfg.API.MaxBodyBytes <= 0 {
		cfg.API.MaxBodyBytes = d.API.MaxBodyBytes
	}
	if cfg.Worker.Mode == "" {
		cfg.Worker.Mode = d.Worker.Mode
	}
	if cfg.Worker.Strategy == "" {
		cfg.Worker.Strategy = d.Worker.Strategy
	}
	if cfg.Worker.Marker.File == "" {
		cfg.Worker.Marker.File = d.Worker.Marker.File
	}
	if cfg.Worker.Marker.Field == "" {
		cfg.Worker.Marker.Field = d.Worker.Marker.Field
	}
	if cfg.Worker.Timeout <= 0 {
		cfg.Worker.Timeout = d.Worker.Timeout
	}
	if cfg.Worker.KillGrace <= 0 {
		cfg.Worker.KillGrace = d.Worker.KillGrace
	}
	if cfg.Worker.MaxOutputBytes <= 0 {
		cfg.Worker.MaxOutputBytes = d.Worker.MaxOutputBytes
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = d.Cache.TTL
	}
}

// resolvePaths makes relative filesystem paths relative to the config directory.
func (c *Config) resolvePaths(baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	c.Store.Path = abs(c.Store.Path)
	c.Worker.Anchor = abs(c.Worker.Anchor)
	c.Worker.StartDir = abs(c.Worker.StartDir)
}

func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, strings.ToLower(cfg.Service.LogLevel)) {
		return fmt.Errorf("service.log_level must be one of %v, got %q", validLevels, cfg.Service.LogLevel)
	}

	switch cfg.Service.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("service.environment must be %q or %q, got %q",
			EnvDevelopment, EnvProduction, cfg.Service.Environment)
	}

	switch cfg.Store.Driver {
	case DriverSQLite:
		if cfg.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if cfg.Store.DSN == "" || envVarPattern.MatchString(cfg.Store.DSN) {
			return fmt.Errorf("store.dsn is required for the postgres driver (unresolved: %q)", cfg.Store.DSN)
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.Store.Driver)
	}

	if cfg.API.Auth.APIKey != "" && envVarPattern.MatchString(cfg.API.Auth.APIKey) {
		return fmt.Errorf("api.auth.api_key references an unset environment variable: %s", cfg.API.Auth.APIKey)
	}
	for i, tok := range cfg.API.Auth.Tokens {
		if tok.Token == "" || envVarPattern.MatchString(tok.Token) {
			return fmt.Errorf("api.auth.tokens[%d].token is empty or unresolved", i)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("api.auth.tokens[%d] has no scopes", i)
		}
	}

	return validateWorker(cfg.Worker)
}

func validateWorker(w WorkerConfig) error {
	switch w.Mode {
	case WorkerModeProcess:
	case WorkerModeHTTP:
		if w.URL == "" {
			return fmt.Errorf("worker.url is required when worker.mode is %q", WorkerModeHTTP)
		}
		return nil
	default:
		return fmt.Errorf("worker.mode must be %q or %q, got %q", WorkerModeProcess, WorkerModeHTTP, w.Mode)
	}

	if w.Subpath == "" {
		return fmt.Errorf("worker.subpath is required")
	}
	if filepath.IsAbs(w.Subpath) {
		return fmt.Errorf("worker.subpath must be relative, got %q", w.Subpath)
	}
	if slices.Contains(strings.Split(filepath.ToSlash(w.Subpath), "/"), "..") {
		return fmt.Errorf("worker.subpath must not contain '..', got %q", w.Subpath)
	}

	switch w.Strategy {
	case StrategyFixed:
		if w.Anchor == "" {
			return fmt.Errorf("worker.anchor is required for the %q strategy", StrategyFixed)
		}
	case StrategyAscent:
		if w.Marker.Value == "" {
			return fmt.Errorf("worker.marker.value is required for the %q strategy", StrategyAscent)
		}
	default:
		return fmt.Errorf("worker.strategy must be %q or %q, got %q", StrategyFixed, StrategyAscent, w.Strategy)
	}

	if w.MaxConcurrent < 0 {
		return fmt.Errorf("worker.max_concurrent must be >= 0, got %d", w.MaxConcurrent)
	}
	return nil
}
