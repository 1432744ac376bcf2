package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want default 30s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Identity.Issuer != "https://auth.talibon.gov.ph" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if cfg.Identity.JWKSURL != "https://auth.talibon.gov.ph/.well-known/jwks.json" {
		t.Errorf("Identity.JWKSURL = %q", cfg.Identity.JWKSURL)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if cfg.Identity.Cache.TTL != 2*time.Minute {
		t.Errorf("Identity.Cache.TTL = %v, want 2m", cfg.Identity.Cache.TTL)
	}
	if cfg.Repository.Driver != DriverSQLite {
		t.Errorf("Repository.Driver = %q, want sqlite", cfg.Repository.Driver)
	}
	if cfg.Repository.SeedFile != "/etc/talibon/seed.yaml" {
		t.Errorf("Repository.SeedFile = %q", cfg.Repository.SeedFile)
	}
	if !cfg.Idempotency.Enabled || cfg.Idempotency.Driver != DriverRedis {
		t.Errorf("Idempotency = %+v, want enabled redis", cfg.Idempotency)
	}
	if cfg.Idempotency.DefaultTTL != 12*time.Hour {
		t.Errorf("Idempotency.DefaultTTL = %v, want 12h", cfg.Idempotency.DefaultTTL)
	}
	if cfg.Events.SubjectPrefix != "talibon.workflow" {
		t.Errorf("Events.SubjectPrefix = %q", cfg.Events.SubjectPrefix)
	}
	if cfg.Events.ClientName != "workflowd" {
		t.Errorf("Events.ClientName = %q, want default workflowd", cfg.Events.ClientName)
	}
	if cfg.Observability.Tracing.Exporter != "stdout" {
		t.Errorf("Tracing.Exporter = %q, want stdout", cfg.Observability.Tracing.Exporter)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
	for _, want := range []string{"identity.issuer", "identity.audience", "identity.jwks_url or identity.hmac_secret_env"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_hmac(t *testing.T) {
	t.Setenv("TALIBON_TEST_HMAC_SECRET", "s3cret")

	cfg, err := Load("testdata/hmac.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := string(cfg.Identity.HMACSecret()); got != "s3cret" {
		t.Errorf("HMACSecret() = %q, want s3cret", got)
	}
	if cfg.Repository.Driver != DriverMemory {
		t.Errorf("Repository.Driver = %q, want default memory", cfg.Repository.Driver)
	}
}

func TestLoad_bad_drivers(t *testing.T) {
	_, err := Load("testdata/bad_drivers.yaml")
	if err == nil {
		t.Fatal("Load() with unknown drivers should return error")
	}
	for _, want := range []string{`repository.driver "mongo"`, `idempotency.driver "memcached"`, `events.driver "kafka"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Identity.Cache.TTL != 5*time.Minute {
		t.Errorf("default Identity.Cache.TTL = %v, want 5m", cfg.Identity.Cache.TTL)
	}
	if cfg.Repository.Driver != DriverMemory {
		t.Errorf("default Repository.Driver = %q, want memory", cfg.Repository.Driver)
	}
	if cfg.Idempotency.DefaultTTL != 24*time.Hour {
		t.Errorf("default Idempotency.DefaultTTL = %v, want 24h", cfg.Idempotency.DefaultTTL)
	}
	if cfg.Events.SubjectPrefix != "workflow" {
		t.Errorf("default Events.SubjectPrefix = %q, want workflow", cfg.Events.SubjectPrefix)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TALIBON_SERVER_PORT", "3000")
	t.Setenv("TALIBON_IDENTITY_ISSUER", "https://env-issuer.talibon.gov.ph")
	t.Setenv("TALIBON_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("TALIBON_REPOSITORY_DRIVER", "memory")
	t.Setenv("TALIBON_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.talibon.gov.ph" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Repository.Driver != DriverMemory {
		t.Errorf("Repository.Driver = %q, want env override", cfg.Repository.Driver)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestEnvAccessors(t *testing.T) {
	t.Setenv("TALIBON_TEST_DSN", "postgres://localhost/talibon")
	t.Setenv("TALIBON_TEST_REDIS", "localhost:6379")
	t.Setenv("TALIBON_TEST_NATS", "nats://localhost:4222")

	if got := (RepositoryConfig{DSNEnv: "TALIBON_TEST_DSN"}).DSN(); got != "postgres://localhost/talibon" {
		t.Errorf("DSN() = %q", got)
	}
	if got := (IdempotencyConfig{AddrEnv: "TALIBON_TEST_REDIS"}).Addr(); got != "localhost:6379" {
		t.Errorf("Addr() = %q", got)
	}
	if got := (EventsConfig{URLEnv: "TALIBON_TEST_NATS"}).URL(); got != "nats://localhost:4222" {
		t.Errorf("URL() = %q", got)
	}
	if got := (RepositoryConfig{}).DSN(); got != "" {
		t.Errorf("DSN() without env name = %q, want empty", got)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Defaults()
		cfg.Identity.Issuer = "https://auth.talibon.gov.ph"
		cfg.Identity.Audience = "talibon-workflow"
		cfg.Identity.JWKSURL = "https://auth.talibon.gov.ph/.well-known/jwks.json"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with identity", mutate: func(*Config) {}},
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{
			name: "jwks and hmac together",
			mutate: func(c *Config) {
				c.Identity.HMACSecretEnv = "SECRET"
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Repository.Driver = DriverPostgres },
			wantErr: "repository.dsn_env",
		},
		{
			name: "postgres with seed file",
			mutate: func(c *Config) {
				c.Repository.Driver = DriverPostgres
				c.Repository.DSNEnv = "DSN"
				c.Repository.SeedFile = "seed.yaml"
			},
			wantErr: "repository.seed_file",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Repository.Driver = DriverSQLite },
			wantErr: "repository.path",
		},
		{
			name: "redis without addr",
			mutate: func(c *Config) {
				c.Idempotency.Enabled = true
				c.Idempotency.Driver = DriverRedis
			},
			wantErr: "idempotency.addr_env",
		},
		{
			name: "disabled idempotency ignores driver",
			mutate: func(c *Config) {
				c.Idempotency.Driver = "bogus"
			},
		},
		{
			name: "nats without url",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.Driver = DriverNATS
			},
			wantErr: "events.url_env",
		},
		{
			name: "unknown tracing exporter",
			mutate: func(c *Config) {
				c.Observability.Tracing.Enabled = true
				c.Observability.Tracing.Exporter = "zipkin"
			},
			wantErr: "observability.tracing.exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_env_priority_over_file(t *testing.T) {
	// File sets port 9090, env sets 5555; env wins.
	t.Setenv("TALIBON_SERVER_PORT", "5555")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("Server.Port = %d, want 5555 (env override beats file)", cfg.Server.Port)
	}
}
