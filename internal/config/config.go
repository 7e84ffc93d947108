package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Session store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds all configuration for the diagnostic engine
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	Catalog  CatalogConfig
	Chat     ChatConfig
	Payment  PaymentConfig
	Cleanup  CleanupConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL configuration. An empty DSN keeps
// registered users in memory.
type DatabaseConfig struct {
	DSN           string
	MigrationsDir string
	MaxOpenConns  int
	MaxIdleConns  int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// SessionConfig holds diagnostic session configuration
type SessionConfig struct {
	Store                   string
	TTL                     time.Duration
	ResultsDelay            time.Duration
	RecommendationThreshold int
	PendingTimeout          time.Duration
}

// CatalogConfig holds the question catalog location. An empty Dir uses
// the built-in catalog.
type CatalogConfig struct {
	Dir string
}

// ChatConfig holds the AI assistant configuration. Without an API key
// the assistant answers offline.
type ChatConfig struct {
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// PaymentConfig holds the simulated gateway configuration
type PaymentConfig struct {
	Gateways []string
	Delay    time.Duration
	Success  bool
}

// CleanupConfig holds cleanup worker configuration
type CleanupConfig struct {
	Interval time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			DSN:           getEnv("DATABASE_DSN", ""),
			MigrationsDir: getEnv("DATABASE_MIGRATIONS_DIR", "./migrations"),
			MaxOpenConns:  getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:  getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 2),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Session: SessionConfig{
			Store:                   strings.ToLower(getEnv("SESSION_STORE", StoreMemory)),
			TTL:                     getEnvAsDuration("SESSION_TTL", 2*time.Hour),
			ResultsDelay:            getEnvAsDuration("RESULTS_DELAY", 1500*time.Millisecond),
			RecommendationThreshold: getEnvAsInt("RECOMMENDATION_THRESHOLD", 2),
			PendingTimeout:          getEnvAsDuration("SESSION_PENDING_TIMEOUT", 3*time.Minute),
		},
		Catalog: CatalogConfig{
			Dir: getEnv("CATALOG_DIR", ""),
		},
		Chat: ChatConfig{
			APIURL:    getEnv("CHAT_API_URL", "https://api.anthropic.com/v1/messages"),
			APIKey:    getEnv("CHAT_API_KEY", ""),
			Model:     getEnv("CHAT_MODEL", "claude-3-5-haiku-latest"),
			MaxTokens: getEnvAsInt("CHAT_MAX_TOKENS", 1024),
			Timeout:   getEnvAsDuration("CHAT_TIMEOUT", 60*time.Second),
		},
		Payment: PaymentConfig{
			Gateways: getEnvAsList("PAYMENT_GATEWAYS", []string{"card", "pse", "nequi", "wallet"}),
			Delay:    getEnvAsDuration("PAYMENT_DELAY", 2*time.Second),
			Success:  getEnvAsBool("PAYMENT_SUCCESS", true),
		},
		Cleanup: CleanupConfig{
			Interval: getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Session.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis address is required for the redis session store")
		}
	default:
		return fmt.Errorf("invalid session store: %q", c.Session.Store)
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive: %s", c.Session.TTL)
	}
	if c.Session.ResultsDelay < 0 {
		return fmt.Errorf("results delay must not be negative: %s", c.Session.ResultsDelay)
	}
	if c.Session.RecommendationThreshold < 1 {
		return fmt.Errorf("invalid recommendation threshold: %d", c.Session.RecommendationThreshold)
	}
	if c.Session.PendingTimeout <= 0 {
		return fmt.Errorf("pending timeout must be positive: %s", c.Session.PendingTimeout)
	}

	if c.Chat.APIKey != "" && c.Chat.Model == "" {
		return fmt.Errorf("chat model is required when a chat API key is set")
	}
	if c.Chat.MaxTokens < 1 {
		return fmt.Errorf("invalid chat max tokens: %d", c.Chat.MaxTokens)
	}

	if len(c.Payment.Gateways) == 0 {
		return fmt.Errorf("at least one payment gateway is required")
	}

	if c.Cleanup.Interval <= 0 {
		return fmt.Errorf("cleanup interval must be positive: %s", c.Cleanup.Interval)
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
