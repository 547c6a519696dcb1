// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/mbd888/midpay/internal/money"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	DatabaseURL string // PostgreSQL mirror (optional)
	DataDir     string // bank file directory; empty uses in-memory accounts

	// Chain settings
	Difficulty int // leading zero hex chars required of block hashes

	// Opening balances
	InitialBalanceA string
	InitialBalanceB string

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

const (
	DefaultPort       = "8080"
	DefaultEnv        = "development"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
	DefaultDataDir    = "data"
	DefaultDifficulty = 2
	DefaultBalanceA   = "1000.00"
	DefaultBalanceB   = "500.00"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // Optional mirror
		DataDir:         getEnv("DATA_DIR", DefaultDataDir),
		Difficulty:      int(getEnvInt64("CHAIN_DIFFICULTY", DefaultDifficulty)),
		InitialBalanceA: getEnv("INITIAL_BALANCE_A", DefaultBalanceA),
		InitialBalanceB: getEnv("INITIAL_BALANCE_B", DefaultBalanceB),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.Difficulty < 0 || c.Difficulty > 6 {
		return fmt.Errorf("CHAIN_DIFFICULTY must be between 0 and 6, got %d", c.Difficulty)
	}

	if _, ok := money.Parse(c.InitialBalanceA); !ok {
		return fmt.Errorf("INITIAL_BALANCE_A is not a valid amount: %q", c.InitialBalanceA)
	}
	if _, ok := money.Parse(c.InitialBalanceB); !ok {
		return fmt.Errorf("INITIAL_BALANCE_B is not a valid amount: %q", c.InitialBalanceB)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
