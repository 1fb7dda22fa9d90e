// Package config loads the loyaltyd daemon configuration from a YAML file,
// a .env file and LOYALTY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load,
// e.g. LOYALTY_STORAGE_BACKEND for storage.backend.
const EnvPrefix = "LOYALTY"

// Storage backends
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Config holds daemon configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Log            LogConfig            `mapstructure:"log"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Cache          CacheConfig          `mapstructure:"cache"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Giveaway       GiveawayConfig       `mapstructure:"giveaway"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Stripe         StripeConfig         `mapstructure:"stripe"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`

	// TiersFile is an optional YAML file seeding tiers and translations at startup
	TiersFile string `mapstructure:"tiers_file"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Format is "json" or "console"
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`

	// Tiered puts an in-memory hot layer in front of a persistent backend
	Tiered bool `mapstructure:"tiered"`

	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`

	PostgresDSN         string `mapstructure:"postgres_dsn"`
	PostgresAutoMigrate bool   `mapstructure:"postgres_auto_migrate"`

	FirestoreProject string `mapstructure:"firestore_project"`
}

type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	TierTTL      time.Duration `mapstructure:"tier_ttl"`
	CustomerTTL  time.Duration `mapstructure:"customer_ttl"`
	MaxCustomers int           `mapstructure:"max_customers"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type GiveawayConfig struct {
	MinimumLiters    string        `mapstructure:"minimum_liters"`
	MinimumPurchases int           `mapstructure:"minimum_purchases"`
	Window           time.Duration `mapstructure:"window"`
}

type AuthConfig struct {
	// CustomerHeader carries the authenticated customer ID set by the gateway
	CustomerHeader string `mapstructure:"customer_header"`

	// AdminToken guards the admin routes. Admin routes are disabled when empty.
	AdminToken string `mapstructure:"admin_token"`
}

type StripeConfig struct {
	// WebhookSecret enables the Stripe webhook endpoint when set
	WebhookSecret     string `mapstructure:"webhook_secret"`
	RateLimitRequests int    `mapstructure:"rate_limit_requests"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.tiered", false)
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_key_prefix", "goloyalty:")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.postgres_auto_migrate", false)
	v.SetDefault("storage.firestore_project", "")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.tier_ttl", 5*time.Minute)
	v.SetDefault("cache.customer_ttl", 10*time.Second)
	v.SetDefault("cache.max_customers", 10000)

	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", 30*time.Second)

	v.SetDefault("giveaway.minimum_liters", "0")
	v.SetDefault("giveaway.minimum_purchases", 0)
	v.SetDefault("giveaway.window", time.Duration(0))

	v.SetDefault("auth.customer_header", "X-Customer-ID")
	v.SetDefault("auth.admin_token", "")

	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.rate_limit_requests", 100)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "goloyalty")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tiers_file", "")
}

// Load reads configuration. path may be empty, in which case loyalty.yaml is
// looked up in the working directory and /etc/goloyalty. A missing .env file
// or config file is not an error; environment variables win over both.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("loyalty")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/goloyalty")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks backend-specific settings
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres backend")
		}
	case BackendFirestore:
		if c.Storage.FirestoreProject == "" {
			return errors.New("storage.firestore_project is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Tiered && c.Storage.Backend == BackendMemory {
		return errors.New("storage.tiered requires a persistent backend")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Auth.CustomerHeader == "" {
		return errors.New("auth.customer_header is required")
	}
	return nil
}
