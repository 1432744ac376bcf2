// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Repository drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverNATS     = "nats"
	DriverNop      = "nop"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Repository    RepositoryConfig    `yaml:"repository"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes token verification and the officer directory.
// Exactly one of JWKSURL and HMACSecretEnv must be set.
type IdentityConfig struct {
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	JWKSURL       string        `yaml:"jwks_url"`
	JWKSCacheTTL  time.Duration `yaml:"jwks_cache_ttl"`
	HMACSecretEnv string        `yaml:"hmac_secret_env"`
	Algorithms    []string      `yaml:"algorithms"`
	ProfilesFile  string        `yaml:"profiles_file"`
	ProfileReload time.Duration `yaml:"profile_reload"`
	Cache         CacheConfig   `yaml:"cache"`
}

// HMACSecret returns the shared signing secret named by HMACSecretEnv.
func (c IdentityConfig) HMACSecret() []byte {
	if c.HMACSecretEnv == "" {
		return nil
	}
	return []byte(os.Getenv(c.HMACSecretEnv))
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// RepositoryConfig describes record persistence.
type RepositoryConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	Path            string        `yaml:"path"`
	SeedFile        string        `yaml:"seed_file"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN returns the connection string named by DSNEnv.
func (c RepositoryConfig) DSN() string {
	if c.DSNEnv == "" {
		return ""
	}
	return os.Getenv(c.DSNEnv)
}

// IdempotencyConfig describes idempotency store settings.
type IdempotencyConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// Addr returns the Redis address named by AddrEnv.
func (c IdempotencyConfig) Addr() string {
	if c.AddrEnv == "" {
		return ""
	}
	return os.Getenv(c.AddrEnv)
}

// EventsConfig describes transition event publishing.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Driver        string `yaml:"driver"`
	URLEnv        string `yaml:"url_env"`
	SubjectPrefix string `yaml:"subject_prefix"`
	ClientName    string `yaml:"client_name"`
}

// URL returns the broker URL named by URLEnv.
func (c EventsConfig) URL() string {
	if c.URLEnv == "" {
		return ""
	}
	return os.Getenv(c.URLEnv)
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Exporter          string  `yaml:"exporter"`
	Endpoint          string  `yaml:"endpoint"`
	SamplingRate      float64 `yaml:"sampling_rate"`
	ForceSampleErrors bool    `yaml:"force_sample_errors"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL:  1 * time.Hour,
			Algorithms:    []string{"RS256"},
			ProfileReload: 5 * time.Minute,
			Cache: CacheConfig{
				TTL: 5 * time.Minute,
			},
		},
		Repository: RepositoryConfig{
			Driver:          DriverMemory,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Idempotency: IdempotencyConfig{
			Driver:     DriverMemory,
			DefaultTTL: 24 * time.Hour,
		},
		Events: EventsConfig{
			Driver:        DriverNop,
			SubjectPrefix: "workflow",
			ClientName:    "workflowd",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	switch {
	case c.Identity.JWKSURL == "" && c.Identity.HMACSecretEnv == "":
		errs = append(errs, "identity.jwks_url or identity.hmac_secret_env is required")
	case c.Identity.JWKSURL != "" && c.Identity.HMACSecretEnv != "":
		errs = append(errs, "identity.jwks_url and identity.hmac_secret_env are mutually exclusive")
	}

	switch c.Repository.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Repository.DSNEnv == "" {
			errs = append(errs, "repository.dsn_env is required for the postgres driver")
		}
		if c.Repository.SeedFile != "" {
			errs = append(errs, "repository.seed_file is only supported by the memory and sqlite drivers")
		}
	case DriverSQLite:
		if c.Repository.Path == "" {
			errs = append(errs, "repository.path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("repository.driver %q is not one of memory, postgres, sqlite", c.Repository.Driver))
	}

	if c.Idempotency.Enabled {
		switch c.Idempotency.Driver {
		case DriverMemory:
		case DriverRedis:
			if c.Idempotency.AddrEnv == "" {
				errs = append(errs, "idempotency.addr_env is required for the redis driver")
			}
		default:
			errs = append(errs, fmt.Sprintf("idempotency.driver %q is not one of memory, redis", c.Idempotency.Driver))
		}
		if c.Idempotency.DefaultTTL <= 0 {
			errs = append(errs, "idempotency.default_ttl must be positive")
		}
	}

	if c.Events.Enabled {
		switch c.Events.Driver {
		case DriverNop:
		case DriverNATS:
			if c.Events.URLEnv == "" {
				errs = append(errs, "events.url_env is required for the nats driver")
			}
		default:
			errs = append(errs, fmt.Sprintf("events.driver %q is not one of nop, nats", c.Events.Driver))
		}
	}

	if c.Observability.Tracing.Enabled &&
		!slices.Contains([]string{"otlp", "stdout"}, c.Observability.Tracing.Exporter) {
		errs = append(errs, fmt.Sprintf("observability.tracing.exporter %q is not one of otlp, stdout", c.Observability.Tracing.Exporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads TALIBON_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TALIBON_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TALIBON_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("TALIBON_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("TALIBON_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("TALIBON_IDENTITY_PROFILES_FILE"); v != "" {
		cfg.Identity.ProfilesFile = v
	}
	if v := os.Getenv("TALIBON_REPOSITORY_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("TALIBON_REPOSITORY_SEED_FILE"); v != "" {
		cfg.Repository.SeedFile = v
	}
	if v := os.Getenv("TALIBON_EVENTS_DRIVER"); v != "" {
		cfg.Events.Driver = v
	}
	if v := os.Getenv("TALIBON_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
