// Package config loads server configuration from environment variables,
// with a .env file honored for local development.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	HTTPAddr    string

	// Exactly one storage backend. Both empty means in-memory, which only
	// makes sense outside production.
	DatabaseURL string
	SQLitePath  string

	RedisAddr string

	KafkaBrokers []string
	KafkaTopic   string

	TokenIssuer string
	TokenTTL    time.Duration

	MaxBodyBytes        int64
	RateLimitCapacity   int
	RateLimitRefillRate float64
	IPAllowlist         []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first without overriding real environment
// variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:  envOr("APP_ENV", "development"),
		HTTPAddr:     envOr("HTTP_ADDR", ":8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SQLitePath:   os.Getenv("SQLITE_PATH"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaTopic:   envOr("KAFKA_TOPIC", "ledger.transactions"),
		TokenIssuer:  envOr("TOKEN_ISSUER", "bank-ledger"),
		MaxBodyBytes: 1 << 20,
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitAndTrim(v)
	}
	if v := os.Getenv("IP_ALLOWLIST"); v != "" {
		cfg.IPAllowlist = splitAndTrim(v)
	}

	if v := os.Getenv("LOGIN_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.New("LOGIN_TOKEN_TTL must be a duration like 15m")
		}
		cfg.TokenTTL = d
	}

	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, errors.New("MAX_BODY_BYTES must be a positive integer")
		}
		cfg.MaxBodyBytes = n
	}

	if v := os.Getenv("RATE_LIMIT_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.New("RATE_LIMIT_CAPACITY must be a positive integer")
		}
		cfg.RateLimitCapacity = n
	}

	if v := os.Getenv("RATE_LIMIT_REFILL_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, errors.New("RATE_LIMIT_REFILL_PER_SEC must be a positive number")
		}
		cfg.RateLimitRefillRate = f
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		return errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive")
	}

	if c.Environment == "production" || c.Environment == "staging" {
		if c.DatabaseURL == "" && c.SQLitePath == "" {
			return errors.New("persistent storage required for " + c.Environment + ": set DATABASE_URL or SQLITE_PATH")
		}
	}

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
