package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/xela07ax/agentspend/internal/policy"
)

// Config is the root configuration of the service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Network  NetworkConfig  `mapstructure:"network"`
	Logger   LoggerConfig   `mapstructure:"logger"`

	// Limits overrides the built-in per-tier default spending limits.
	Limits map[string]policy.LimitOverride `mapstructure:"limits"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// StorageConfig selects the repository backend: postgres or memory.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// RedisConfig is optional; an empty Addr disables signals and caching.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	Issuer         string        `mapstructure:"issuer"`

	// Seeded into the memory store so a fresh dev instance can log in.
	BootstrapAdminUser         string `mapstructure:"bootstrap_admin_user"`
	BootstrapAdminPasswordHash string `mapstructure:"bootstrap_admin_password_hash"`

	PublicKey  []byte
	PrivateKey []byte
}

type EngineConfig struct {
	Workers          int           `mapstructure:"workers"`
	PredictorTimeout time.Duration `mapstructure:"predictor_timeout"`
	OracleAddr       string        `mapstructure:"oracle_addr"`

	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	// Circuit breaker and rate limit around the price predictor
	CBMaxRequests   uint32        `mapstructure:"cb_max_requests"`
	CBInterval      time.Duration `mapstructure:"cb_interval"`
	CBTimeout       time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures   uint32        `mapstructure:"cb_max_failures"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	RetryAttempts   uint          `mapstructure:"retry_attempts"`
	ConflictRetries uint          `mapstructure:"conflict_retries"`
}

type RiskConfig struct {
	// BlockThreshold of 0 keeps the score informational.
	BlockThreshold int `mapstructure:"block_threshold"`
	// VelocityLimit caps transactions per agent per minute; 0 disables the check.
	VelocityLimit int `mapstructure:"velocity_limit"`
	// RequireSignature rejects purchases that carry no ed25519 signature.
	RequireSignature bool `mapstructure:"require_signature"`
}

type NetworkConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig merges defaults, config.yaml and the environment (SERVER_PORT overrides server.port).
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// PEM may come inline through the environment (containers) or from a file.
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("config: database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Risk.BlockThreshold < 0 || c.Risk.BlockThreshold > 100 {
		return fmt.Errorf("config: risk.block_threshold must be within [0,100], got %d", c.Risk.BlockThreshold)
	}
	if c.Risk.VelocityLimit < 0 {
		return fmt.Errorf("config: risk.velocity_limit must not be negative, got %d", c.Risk.VelocityLimit)
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("config: engine.workers must be positive, got %d", c.Engine.Workers)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.migrate", true)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.issuer", "agentspend")
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.predictor_timeout", 2*time.Second)
	v.SetDefault("engine.audit_buffer_size", 10000)
	v.SetDefault("engine.audit_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.cb_max_failures", 5)
	v.SetDefault("engine.rate_limit", 100)
	v.SetDefault("engine.rate_burst", 20)
	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.conflict_retries", 3)
	v.SetDefault("risk.block_threshold", 0)
	v.SetDefault("risk.velocity_limit", 10)
	v.SetDefault("risk.require_signature", false)
	v.SetDefault("network.cache_ttl", 10*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
