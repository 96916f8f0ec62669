// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the pumpwatch engine.
type Config struct {
	// PumpPortal feed
	FeedWSURL string

	// PumpPortal trade execution API
	TradeAPIURL string

	// Solana RPC (wallet balances)
	SolanaRPCURL string

	// Reconnect backoff
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// HTTP surface
	HTTPAddr string

	// Observer fan-out
	ObserverSendBuffer int

	// Credential storage
	SecureDir string

	// UI
	EnableTUI     bool
	UIRefreshRate time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		FeedWSURL:   getEnv("PUMPPORTAL_WS_URL", "wss://pumpportal.fun/api/data"),
		TradeAPIURL: getEnv("PUMPPORTAL_TRADE_URL", "https://pumpportal.fun/api/trade"),

		SolanaRPCURL: getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),

		RetryBaseDelay: time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 1000)) * time.Millisecond,
		RetryMaxDelay:  time.Duration(getEnvInt("RETRY_MAX_DELAY_MS", 30000)) * time.Millisecond,

		HTTPAddr: getEnv("HTTP_ADDR", ":8000"),

		ObserverSendBuffer: getEnvInt("OBSERVER_SEND_BUFFER", 256),

		SecureDir: getEnv("SECURE_DIR", "./secure"),

		EnableTUI:     getEnvBool("ENABLE_TUI", false),
		UIRefreshRate: time.Duration(getEnvInt("UI_REFRESH_MS", 500)) * time.Millisecond,

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.FeedWSURL == "" {
		return fmt.Errorf("PUMPPORTAL_WS_URL is required")
	}

	if c.TradeAPIURL == "" {
		return fmt.Errorf("PUMPPORTAL_TRADE_URL is required")
	}

	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("RETRY_BASE_DELAY_MS must be positive")
	}

	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY_MS must be >= RETRY_BASE_DELAY_MS")
	}

	if c.ObserverSendBuffer < 1 {
		return fmt.Errorf("OBSERVER_SEND_BUFFER must be at least 1")
	}

	if c.SecureDir == "" {
		return fmt.Errorf("SECURE_DIR is required")
	}

	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
