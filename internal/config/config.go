// Package config loads the service configuration from YAML with
// PROPENSITY_* environment overrides, and watches the file for hot
// reload of the sections that support it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalworks/propensity/internal/auth"
	"github.com/signalworks/propensity/internal/llm"
	"github.com/signalworks/propensity/internal/policy"
	"github.com/signalworks/propensity/internal/research"
	"github.com/signalworks/propensity/internal/tracing"
)

// DefaultPath is tried when no config path is given.
const DefaultPath = "config/propensity.yaml"

// ServiceConfig names the service and its listen ports.
type ServiceConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Port        int    `yaml:"port" mapstructure:"port"`
	MetricsPort int    `yaml:"metrics_port" mapstructure:"metrics_port"`
}

// EngineConfig tunes run supervision. Reloadable.
type EngineConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RatePerSecond float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst     int           `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// RedisConfig points at the conversation store.
type RedisConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// PostgresConfig points at the history store. Empty host disables it.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// StreamingConfig tunes the event stream fan-out.
type StreamingConfig struct {
	RingCapacity  int    `yaml:"ring_capacity" mapstructure:"ring_capacity"`
	MirrorEnabled bool   `yaml:"mirror_enabled" mapstructure:"mirror_enabled"`
	MirrorAddr    string `yaml:"mirror_addr" mapstructure:"mirror_addr"`
}

// AuthConfig configures request authentication.
type AuthConfig struct {
	SkipAuth    bool             `yaml:"skip_auth" mapstructure:"skip_auth"`
	JWTSecret   string           `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenExpiry time.Duration    `yaml:"token_expiry" mapstructure:"token_expiry"`
	APIKeys     []auth.KeyConfig `yaml:"api_keys" mapstructure:"api_keys"`
}

// HealthConfig tunes the background health loop.
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
}

// LoggingConfig selects log verbosity. Reloadable.
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// Config is the whole service configuration.
type Config struct {
	Service   ServiceConfig         `yaml:"service" mapstructure:"service"`
	Engine    EngineConfig          `yaml:"engine" mapstructure:"engine"`
	LLM       llm.Config            `yaml:"llm" mapstructure:"llm"`
	Research  research.SearchConfig `yaml:"research" mapstructure:"research"`
	Redis     RedisConfig           `yaml:"redis" mapstructure:"redis"`
	Postgres  PostgresConfig        `yaml:"postgres" mapstructure:"postgres"`
	Streaming StreamingConfig       `yaml:"streaming" mapstructure:"streaming"`
	Auth      AuthConfig            `yaml:"auth" mapstructure:"auth"`
	Policy    policy.Config         `yaml:"policy" mapstructure:"policy"`
	Health    HealthConfig          `yaml:"health" mapstructure:"health"`
	Tracing   tracing.Config        `yaml:"tracing" mapstructure:"tracing"`
	Logging   LoggingConfig         `yaml:"logging" mapstructure:"logging"`
}

func defaults() Config {
	return Config{
		Service: ServiceConfig{
			Name:        "propensity-engine",
			Port:        8080,
			MetricsPort: 9090,
		},
		Engine: EngineConfig{
			Timeout:       300 * time.Second,
			MaxConcurrent: 32,
		},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Streaming: StreamingConfig{RingCapacity: 256},
		Auth:      AuthConfig{TokenExpiry: 30 * time.Minute},
		Health:    HealthConfig{Enabled: true, CheckInterval: 30 * time.Second},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// setDefaults registers every default with viper so environment overrides
// apply even for keys the config file omits.
func setDefaults(v *viper.Viper) {
	d := defaults()
	v.SetDefault("service.name", d.Service.Name)
	v.SetDefault("service.port", d.Service.Port)
	v.SetDefault("service.metrics_port", d.Service.MetricsPort)
	v.SetDefault("engine.timeout", d.Engine.Timeout)
	v.SetDefault("engine.max_concurrent", d.Engine.MaxConcurrent)
	v.SetDefault("engine.rate_per_second", d.Engine.RatePerSecond)
	v.SetDefault("engine.rate_burst", d.Engine.RateBurst)
	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("research.api_key", "")
	v.SetDefault("research.max_results", 0)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "")
	v.SetDefault("postgres.ssl_mode", "")
	v.SetDefault("streaming.ring_capacity", d.Streaming.RingCapacity)
	v.SetDefault("streaming.mirror_enabled", false)
	v.SetDefault("streaming.mirror_addr", "")
	v.SetDefault("auth.skip_auth", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_expiry", d.Auth.TokenExpiry)
	v.SetDefault("policy.enabled", false)
	v.SetDefault("policy.mode", "")
	v.SetDefault("policy.path", "")
	v.SetDefault("policy.environment", "")
	v.SetDefault("policy.fail_closed", false)
	v.SetDefault("health.enabled", d.Health.Enabled)
	v.SetDefault("health.check_interval", d.Health.CheckInterval)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("logging.level", d.Logging.Level)
}

// Load reads the config file at path (or DefaultPath when empty), applies
// environment overrides, and validates the result. A missing file is fine:
// defaults plus environment carry a dev setup.
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("PROPENSITY_CONFIG"); env != "" {
			path = env
		} else {
			path = DefaultPath
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PROPENSITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid service port %d", c.Service.Port)
	}
	if c.Service.MetricsPort == c.Service.Port {
		return fmt.Errorf("metrics port must differ from service port")
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine timeout must be positive, got %s", c.Engine.Timeout)
	}
	if c.Engine.MaxConcurrent <= 0 {
		return fmt.Errorf("engine max_concurrent must be positive, got %d", c.Engine.MaxConcurrent)
	}
	if !c.Auth.SkipAuth && c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth requires a jwt_secret or api_keys unless skip_auth is set")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
