// Package config loads the server configuration.
//
// Precedence, lowest first: compiled defaults, the YAML file named by
// --config, then MINDGATE_* environment variables. Nested keys use a
// double underscore, so MINDGATE_REDIS__ADDR sets redis.addr.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is stripped from environment variable names.
const EnvPrefix = "MINDGATE_"

// ErrConfigRequired is returned when a required key is missing.
var ErrConfigRequired = errors.New("required configuration missing")

// Config holds all server configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment" yaml:"environment"`

	LogLevel  string `koanf:"log_level" yaml:"log_level"`
	LogFormat string `koanf:"log_format" yaml:"log_format"`

	HTTP        HTTPConfig        `koanf:"http" yaml:"http"`
	Redis       RedisConfig       `koanf:"redis" yaml:"redis"`
	Database    DatabaseConfig    `koanf:"database" yaml:"database"`
	Credentials CredentialsConfig `koanf:"credentials" yaml:"credentials"`
	Auth        AuthConfig        `koanf:"auth" yaml:"auth"`
	Client      ClientConfig      `koanf:"client" yaml:"client"`
	Devices     DevicesConfig     `koanf:"devices" yaml:"devices"`
}

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr"`
	PublicURL       string        `koanf:"public_url" yaml:"public_url"`
	ReadTimeout     time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	// ReadyTimeout bounds how long a page request waits for a device's
	// session to resolve.
	ReadyTimeout  time.Duration `koanf:"ready_timeout" yaml:"ready_timeout"`
	SecureCookies bool          `koanf:"secure_cookies" yaml:"secure_cookies"`
}

// RedisConfig holds Redis connection settings. Dev starts an in-process
// miniredis instead of dialing Addr.
type RedisConfig struct {
	Addr     string        `koanf:"addr" yaml:"addr"`
	Password string        `koanf:"password" yaml:"password"`
	DB       int           `koanf:"db" yaml:"db"`
	Timeout  time.Duration `koanf:"timeout" yaml:"timeout"`
	Dev      bool          `koanf:"dev" yaml:"dev"`
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	Path        string        `koanf:"path" yaml:"path"`
	WALMode     bool          `koanf:"wal_mode" yaml:"wal_mode"`
	BusyTimeout time.Duration `koanf:"busy_timeout" yaml:"busy_timeout"`
}

// CredentialsConfig selects where device credentials are kept.
type CredentialsConfig struct {
	RedisPrefix string `koanf:"redis_prefix" yaml:"redis_prefix"`
	ScopedDir   string `koanf:"scoped_dir" yaml:"scoped_dir"`
	// DisableDurable skips the Redis backend during the probe.
	DisableDurable bool `koanf:"disable_durable" yaml:"disable_durable"`
}

// AuthConfig configures the identity engine.
type AuthConfig struct {
	// JWTSecret selects HS256 when set. Empty generates an Ed25519 key
	// pair at startup, which invalidates tokens across restarts.
	JWTSecret        string        `koanf:"jwt_secret" yaml:"jwt_secret"`
	AccessTTL        time.Duration `koanf:"access_ttl" yaml:"access_ttl"`
	SessionLifetime  time.Duration `koanf:"session_lifetime" yaml:"session_lifetime"`
	RequireVerified  bool          `koanf:"require_verified" yaml:"require_verified"`
	AuditEnabled     bool          `koanf:"audit_enabled" yaml:"audit_enabled"`
	LatencyHistogram bool          `koanf:"latency_histogram" yaml:"latency_histogram"`
}

// ClientConfig mirrors the SDK client options.
type ClientConfig struct {
	PersistSession  bool          `koanf:"persist_session" yaml:"persist_session"`
	AutoRefresh     bool          `koanf:"auto_refresh" yaml:"auto_refresh"`
	RefreshInterval time.Duration `koanf:"refresh_interval" yaml:"refresh_interval"`
	RefreshMargin   time.Duration `koanf:"refresh_margin" yaml:"refresh_margin"`
	ExpiryMargin    time.Duration `koanf:"expiry_margin" yaml:"expiry_margin"`
}

// DevicesConfig controls the per-device session registry.
type DevicesConfig struct {
	IdleTimeout     time.Duration `koanf:"idle_timeout" yaml:"idle_timeout"`
	JanitorInterval time.Duration `koanf:"janitor_interval" yaml:"janitor_interval"`
	MaxDevices      int           `koanf:"max_devices" yaml:"max_devices"`
}

// Defaults returns a Config with compiled default values.
func Defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",

		HTTP: HTTPConfig{
			Addr:            ":8080",
			PublicURL:       "http://localhost:8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			ReadyTimeout:    3 * time.Second,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Timeout: 2 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "mindgate.db",
			WALMode:     true,
			BusyTimeout: 5 * time.Second,
		},
		Credentials: CredentialsConfig{
			RedisPrefix: "mg:cred",
		},
		Auth: AuthConfig{
			AccessTTL:       15 * time.Minute,
			SessionLifetime: 30 * 24 * time.Hour,
			RequireVerified: true,
		},
		Client: ClientConfig{
			PersistSession:  true,
			AutoRefresh:     true,
			RefreshInterval: 30 * time.Second,
			RefreshMargin:   5 * time.Minute,
			ExpiryMargin:    10 * time.Second,
		},
		Devices: DevicesConfig{
			IdleTimeout:     30 * time.Minute,
			JanitorInterval: time.Minute,
			MaxDevices:      10000,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the process environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps MINDGATE_HTTP__READ_TIMEOUT to http.read_timeout.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks ranges and the keys required outside local mode.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("%w: http.addr", ErrConfigRequired)
	}
	if c.HTTP.ReadyTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("http ready_timeout and shutdown_timeout must be > 0")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", ErrConfigRequired)
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.SessionLifetime < c.Auth.AccessTTL {
		return errors.New("auth access_ttl must be > 0 and <= session_lifetime")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth jwt_secret must be at least 32 bytes")
	}
	if c.Client.RefreshInterval <= 0 {
		return errors.New("client refresh_interval must be > 0")
	}
	if c.Devices.IdleTimeout <= 0 || c.Devices.JanitorInterval <= 0 {
		return errors.New("devices idle_timeout and janitor_interval must be > 0")
	}

	if c.IsProd() {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("%w: auth.jwt_secret", ErrConfigRequired)
		}
		if c.Redis.Dev {
			return errors.New("redis.dev is not allowed in prod")
		}
		if !c.HTTP.SecureCookies {
			return errors.New("http.secure_cookies must be true in prod")
		}
	}
	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
