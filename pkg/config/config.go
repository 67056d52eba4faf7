// Package config loads service configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environments recognised by IsProduction.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the full service configuration.
type Config struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	External  ExternalConfig  `yaml:"external"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig configures the shared cache, lock and limiter store.
type RedisConfig struct {
	// URL is a redis:// URL or a bare host:port.
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// DatabaseConfig configures the products store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// SeedRows inserts demo products into an empty table at startup.
	SeedRows int `yaml:"seed_rows"`
}

// CacheConfig configures read-through caching.
type CacheConfig struct {
	ListTTL  time.Duration `yaml:"list_ttl"`
	StatsTTL time.Duration `yaml:"stats_ttl"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

// ExternalConfig configures the upstream dependency.
type ExternalConfig struct {
	URL              string        `yaml:"url"`
	Enabled          bool          `yaml:"enabled"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`

	// RefreshInterval of zero disables background refresh.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// RateLimitConfig configures the per-client fixed window.
type RateLimitConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// FieldError reports an invalid configuration value.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Env: EnvDevelopment,
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			URL:     "redis://localhost:6379/0",
			Enabled: true,
		},
		Database: DatabaseConfig{
			Driver:   "sqlite",
			DSN:      "file:catalog.db?cache=shared&_busy_timeout=5000",
			SeedRows: 1000,
		},
		Cache: CacheConfig{
			ListTTL:  60 * time.Second,
			StatsTTL: 60 * time.Second,
			LockTTL:  5 * time.Second,
			MaxWait:  time.Second,
		},
		External: ExternalConfig{
			URL:              "https://httpbin.org/json",
			Enabled:          true,
			Timeout:          2 * time.Second,
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Max:    100,
			Window: time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from the process environment. CONFIG_FILE
// names an optional YAML file applied before environment overrides.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom is Load with an injectable environment lookup.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("APP_ENV", &c.Env)
	e.integer("PORT", &c.Server.Port)
	e.str("REDIS_URL", &c.Redis.URL)
	e.boolean("REDIS_ENABLED", &c.Redis.Enabled)
	e.str("DB_DRIVER", &c.Database.Driver)
	e.str("DATABASE_URL", &c.Database.DSN)
	e.integer("SEED_ROWS", &c.Database.SeedRows)
	e.duration("CACHE_TTL_SECONDS", time.Second, &c.Cache.ListTTL)
	e.duration("STATS_CACHE_TTL_SECONDS", time.Second, &c.Cache.StatsTTL)
	e.duration("CACHE_LOCK_TTL_MS", time.Millisecond, &c.Cache.LockTTL)
	e.str("EXTERNAL_API_URL", &c.External.URL)
	e.boolean("EXTERNAL_API_ENABLED", &c.External.Enabled)
	e.duration("EXTERNAL_TIMEOUT_MS", time.Millisecond, &c.External.Timeout)
	e.integer("BREAKER_FAILURE_THRESHOLD", &c.External.FailureThreshold)
	e.duration("BREAKER_COOLDOWN_MS", time.Millisecond, &c.External.Cooldown)
	e.duration("EXTERNAL_REFRESH_INTERVAL_MS", time.Millisecond, &c.External.RefreshInterval)
	e.integer("RATE_LIMIT_MAX", &c.RateLimit.Max)
	e.duration("RATE_LIMIT_WINDOW_MS", time.Millisecond, &c.RateLimit.Window)
	e.str("LOG_LEVEL", &c.Log.Level)
	e.boolean("LOG_PRETTY", &c.Log.Pretty)

	return errors.Join(e.errs...)
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	switch {
	case c.Env == "":
		return &FieldError{Field: "env", Message: "must not be empty"}
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return &FieldError{Field: "server.port", Message: "must be between 1 and 65535"}
	case c.Redis.Enabled && c.Redis.URL == "":
		return &FieldError{Field: "redis.url", Message: "required when redis is enabled"}
	case c.Database.Driver != "postgres" && c.Database.Driver != "sqlite":
		return &FieldError{Field: "database.driver", Message: `must be "postgres" or "sqlite"`}
	case c.Database.DSN == "":
		return &FieldError{Field: "database.dsn", Message: "must not be empty"}
	case c.Database.SeedRows < 0:
		return &FieldError{Field: "database.seed_rows", Message: "must not be negative"}
	case c.Cache.ListTTL <= 0:
		return &FieldError{Field: "cache.list_ttl", Message: "must be positive"}
	case c.Cache.StatsTTL <= 0:
		return &FieldError{Field: "cache.stats_ttl", Message: "must be positive"}
	case c.Cache.LockTTL <= 0:
		return &FieldError{Field: "cache.lock_ttl", Message: "must be positive"}
	case c.External.Enabled && c.External.URL == "":
		return &FieldError{Field: "external.url", Message: "required when the external API is enabled"}
	case c.External.Timeout <= 0:
		return &FieldError{Field: "external.timeout", Message: "must be positive"}
	case c.External.FailureThreshold < 1:
		return &FieldError{Field: "external.failure_threshold", Message: "must be at least 1"}
	case c.External.Cooldown <= 0:
		return &FieldError{Field: "external.cooldown", Message: "must be positive"}
	case c.External.RefreshInterval < 0:
		return &FieldError{Field: "external.refresh_interval", Message: "must not be negative"}
	case c.RateLimit.Max < 1:
		return &FieldError{Field: "rate_limit.max", Message: "must be at least 1"}
	case c.RateLimit.Window <= 0:
		return &FieldError{Field: "rate_limit.window", Message: "must be positive"}
	}
	return nil
}

// IsProduction reports whether production-only policies apply.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, EnvProduction)
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

// envReader applies present variables and collects parse errors.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, &FieldError{Field: key, Message: fmt.Sprintf("invalid integer %q", v)})
		return
	}
	*dst = n
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, &FieldError{Field: key, Message: fmt.Sprintf("invalid boolean %q", v)})
		return
	}
	*dst = b
}

// duration reads an integer count of unit.
func (e *envReader) duration(key string, unit time.Duration, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		e.errs = append(e.errs, &FieldError{Field: key, Message: fmt.Sprintf("invalid non-negative integer %q", v)})
		return
	}
	*dst = time.Duration(n) * unit
}
