// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Ledger settings
	LedgerURL  string
	PrivateKey string // Account private key used to sign submissions
	ProgramID  string // On-chain program holding the score verifier
	MinScore   int    // Minimum acceptable score passed to the verifier

	// Metrics acquisition
	CacheCapacity int
	CacheTTL      time.Duration

	// Submission confirmation polling
	ConfirmInterval time.Duration
	ConfirmAttempts int

	// Prover
	ProverLatency time.Duration // Simulated proving floor

	// Security / observability
	RateLimitRPS int
	OTLPEndpoint string // OTLP gRPC collector, empty disables tracing
}

const (
	DefaultLedgerURL       = "http://localhost:3030"
	DefaultProgramID       = "creditproof.aleo"
	DefaultMinScore        = 500
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultCacheCapacity   = 128
	DefaultCacheTTLSec     = 300
	DefaultConfirmMS       = 500
	DefaultConfirmAttempts = 20
	DefaultProverLatencyMS = 2000
	DefaultRateLimit       = 100

	privateKeyPrefix = "APrivateKey1"
	privateKeyLen    = 59
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
		LedgerURL:       getEnv("LEDGER_URL", DefaultLedgerURL),
		PrivateKey:      os.Getenv("PRIVATE_KEY"), // Required, no default
		ProgramID:       getEnv("PROGRAM_ID", DefaultProgramID),
		MinScore:        int(getEnvInt64("MIN_SCORE", DefaultMinScore)),
		CacheCapacity:   int(getEnvInt64("CACHE_CAPACITY", DefaultCacheCapacity)),
		CacheTTL:        time.Duration(getEnvInt64("CACHE_TTL_SECONDS", DefaultCacheTTLSec)) * time.Second,
		ConfirmInterval: time.Duration(getEnvInt64("CONFIRM_INTERVAL_MS", DefaultConfirmMS)) * time.Millisecond,
		ConfirmAttempts: int(getEnvInt64("CONFIRM_ATTEMPTS", DefaultConfirmAttempts)),
		ProverLatency:   time.Duration(getEnvInt64("PROVER_LATENCY_MS", DefaultProverLatencyMS)) * time.Millisecond,
		RateLimitRPS:    int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}
	if !strings.HasPrefix(c.PrivateKey, privateKeyPrefix) || len(c.PrivateKey) != privateKeyLen {
		return fmt.Errorf("PRIVATE_KEY must be an account private key (%s..., %d chars)", privateKeyPrefix, privateKeyLen)
	}

	if c.LedgerURL == "" {
		return fmt.Errorf("LEDGER_URL is required")
	}

	if !strings.HasSuffix(c.ProgramID, ".aleo") {
		return fmt.Errorf("PROGRAM_ID must name an .aleo program")
	}

	if c.MinScore < 300 || c.MinScore > 850 {
		return fmt.Errorf("MIN_SCORE must be within the score range [300, 850]")
	}

	if c.CacheCapacity <= 0 {
		return fmt.Errorf("CACHE_CAPACITY must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive")
	}
	if c.ConfirmInterval <= 0 || c.ConfirmAttempts <= 0 {
		return fmt.Errorf("confirmation polling requires a positive interval and attempt count")
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
