package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Store   StoreConfig   `yaml:"store"`
	API     APIConfig     `yaml:"api"`
	Worker  WorkerConfig  `yaml:"worker"`
	Cache   CacheConfig   `yaml:"cache"`

	// SourcePath is the absolute path of the file Load read. Not part of the YAML.
	SourcePath string `yaml:"-"`
}

// Environment names accepted in service.environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// ServiceConfig contains process-wide settings.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	TraceOutput string `yaml:"trace_output"`
}

// IsProduction reports whether diagnostics must be withheld from API clients.
func (s ServiceConfig) IsProduction() bool {
	return s.Environment == EnvProduction
}

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects and addresses the record store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	Listen       string     `yaml:"listen"`
	MaxBodyBytes int64      `yaml:"max_body_bytes"`
	Auth         AuthConfig `yaml:"auth"`
	CORS         CORSConfig `yaml:"cors"`
}

// AuthConfig holds bearer credentials. Auth is disabled when both are empty.
type AuthConfig struct {
	APIKey string        `yaml:"api_key"`
	Tokens []TokenConfig `yaml:"tokens"`
}

// Enabled reports whether any credential is configured.
func (a AuthConfig) Enabled() bool {
	return a.APIKey != "" || len(a.Tokens) > 0
}

// TokenConfig is a scoped bearer token.
type TokenConfig struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Worker modes and locator strategies.
const (
	WorkerModeProcess = "process"
	WorkerModeHTTP    = "http"

	StrategyFixed  = "fixed"
	StrategyAscent = "ascent"
)

// WorkerConfig describes how the matching worker is found and run.
type WorkerConfig struct {
	Mode           string        `yaml:"mode"`
	Strategy       string        `yaml:"strategy"`
	Anchor         string        `yaml:"anchor"`
	StartDir       string        `yaml:"start_dir"`
	Subpath        string        `yaml:"subpath"`
	Marker         MarkerConfig  `yaml:"marker"`
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	KillGrace      time.Duration `yaml:"kill_grace"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

// MarkerConfig identifies the project root during upward search.
type MarkerConfig struct {
	File  string `yaml:"file"`
	Field string `yaml:"field"`
	Value string `yaml:"value"`
}

// CacheConfig configures the optional redis result cache.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
}

// Enabled reports whether a redis address is configured.
func (c CacheConfig) Enabled() bool {
	return c.RedisAddr != ""
}

// ChecksumManifest is the on-disk format of .checksums.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}
