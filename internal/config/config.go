// Package config loads runtime configuration from the environment, an optional
// .env file and an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nightstudio/paywall/pkg/logger"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverSupabase = "supabase"
)

// Settlement modes.
const (
	SettlementSimulated = "simulated"
	SettlementHTTP      = "http"
)

type ServerConfig struct {
	Host            string        `env:"PAYWALL_HOST,default=0.0.0.0" yaml:"host"`
	Port            int           `env:"PAYWALL_PORT,default=8080" yaml:"port"`
	ShutdownTimeout time.Duration `env:"PAYWALL_SHUTDOWN_TIMEOUT,default=10s" yaml:"shutdown_timeout"`
	CORSOrigins     string        `env:"CORS_ALLOWED_ORIGINS,default=*" yaml:"cors_allowed_origins"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AllowedOrigins splits the comma separated origin list.
func (s ServerConfig) AllowedOrigins() []string {
	var out []string
	for _, origin := range strings.Split(s.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info" yaml:"level"`
	Format     string `env:"LOG_FORMAT,default=text" yaml:"format"`
	Output     string `env:"LOG_OUTPUT,default=stdout" yaml:"output"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=paywall" yaml:"file_prefix"`
}

type StorageConfig struct {
	Driver      string `env:"STORAGE_DRIVER,default=memory" yaml:"driver"`
	DSN         string `env:"DATABASE_URL" yaml:"dsn"`
	AutoMigrate bool   `env:"DATABASE_AUTO_MIGRATE,default=true" yaml:"auto_migrate"`
}

type SupabaseConfig struct {
	URL         string `env:"SUPABASE_URL" yaml:"url"`
	ServiceKey  string `env:"SUPABASE_SERVICE_KEY" yaml:"service_key"`
	MediaBucket string `env:"SUPABASE_MEDIA_BUCKET,default=media" yaml:"media_bucket"`
}

func (s SupabaseConfig) Enabled() bool {
	return s.URL != "" && s.ServiceKey != ""
}

type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR" yaml:"addr"`
	Password string        `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int           `env:"REDIS_DB,default=0" yaml:"db"`
	TTL      time.Duration `env:"REDIS_PURCHASE_TTL,default=24h" yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET" yaml:"jwt_secret"`
	TokenTTL  time.Duration `env:"JWT_TTL,default=24h" yaml:"token_ttl"`
	NonceTTL  time.Duration `env:"AUTH_NONCE_TTL,default=5m" yaml:"nonce_ttl"`
	Issuer    string        `env:"JWT_ISSUER,default=paywall" yaml:"issuer"`
}

type SettlementConfig struct {
	Mode     string        `env:"SETTLEMENT_MODE,default=simulated" yaml:"mode"`
	Delay    time.Duration `env:"SETTLEMENT_SIMULATED_DELAY,default=2s" yaml:"delay"`
	Endpoint string        `env:"SETTLEMENT_ENDPOINT" yaml:"endpoint"`
	APIKey   string        `env:"SETTLEMENT_API_KEY" yaml:"api_key"`
	Timeout  time.Duration `env:"SETTLEMENT_TIMEOUT,default=30s" yaml:"timeout"`
}

type ReconcileConfig struct {
	JournalPath string `env:"RECONCILE_JOURNAL,default=data/reconcile.jsonl" yaml:"journal_path"`
	Schedule    string `env:"RECONCILE_SCHEDULE,default=@every 5m" yaml:"schedule"`
}

type RateLimitConfig struct {
	UnlockPerSecond int `env:"UNLOCK_RATE_PER_SECOND,default=1" yaml:"unlock_per_second"`
	UnlockBurst     int `env:"UNLOCK_RATE_BURST,default=3" yaml:"unlock_burst"`
}

// Config is the full runtime configuration.
type Config struct {
	Environment string           `env:"PAYWALL_ENV,default=development" yaml:"environment"`
	Server      ServerConfig     `yaml:"server"`
	Logging     LoggingConfig    `yaml:"logging"`
	Storage     StorageConfig    `yaml:"storage"`
	Supabase    SupabaseConfig   `yaml:"supabase"`
	Redis       RedisConfig      `yaml:"redis"`
	Auth        AuthConfig       `yaml:"auth"`
	Settlement  SettlementConfig `yaml:"settlement"`
	Reconcile   ReconcileConfig  `yaml:"reconcile"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
}

// Load reads .env (if present), decodes the environment and applies the YAML
// file named by PAYWALL_CONFIG on top.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("PAYWALL_CONFIG")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required for storage driver %q", c.Storage.Driver)
		}
	case DriverSupabase:
		if !c.Supabase.Enabled() {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for storage driver supabase")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Settlement.Mode {
	case SettlementSimulated:
	case SettlementHTTP:
		if c.Settlement.Endpoint == "" {
			return fmt.Errorf("SETTLEMENT_ENDPOINT is required for http settlement")
		}
	default:
		return fmt.Errorf("unknown settlement mode %q", c.Settlement.Mode)
	}

	if !c.IsDevelopment() && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes outside development")
	}
	if c.RateLimit.UnlockPerSecond <= 0 || c.RateLimit.UnlockBurst <= 0 {
		return fmt.Errorf("unlock rate limit must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.Environment) {
	case "development", "dev", "test", "testing":
		return true
	}
	return false
}

// LoggerConfig adapts the logging section for pkg/logger.
func (c *Config) LoggerConfig() logger.LoggingConfig {
	return logger.LoggingConfig{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Output:     c.Logging.Output,
		FilePrefix: c.Logging.FilePrefix,
	}
}
