package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend names accepted in SESSION_BACKEND.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config holds the demo application configuration.
type Config struct {
	// Auth service. Empty means run the embedded demo service.
	AuthBaseURL string

	// Session storage
	Backend    string
	DataDir    string
	Passphrase string

	// Database (postgres backend only)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Refresh tuning
	RefreshDebounce       time.Duration
	RefreshMaxAttempts    int
	RefreshBackoffBase    time.Duration
	RefreshAttemptTimeout time.Duration

	// Demo account
	DemoEmail    string
	DemoPassword string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		AuthBaseURL: getEnv("AUTH_BASE_URL", ""),

		Backend:    getEnv("SESSION_BACKEND", BackendFile),
		DataDir:    getEnv("SESSION_DATA_DIR", "./simple-session-data"),
		Passphrase: getEnv("SESSION_PASSPHRASE", ""),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "simple_session"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RefreshDebounce:       getEnvDuration("REFRESH_DEBOUNCE", 0),
		RefreshMaxAttempts:    getEnvInt("REFRESH_MAX_ATTEMPTS", 0),
		RefreshBackoffBase:    getEnvDuration("REFRESH_BACKOFF_BASE", 0),
		RefreshAttemptTimeout: getEnvDuration("REFRESH_ATTEMPT_TIMEOUT", 0),

		DemoEmail:    getEnv("DEMO_EMAIL", "demo@example.com"),
		DemoPassword: getEnv("DEMO_PASSWORD", "demo-password"),
	}

	if cfg.Passphrase == "" {
		return nil, fmt.Errorf("SESSION_PASSPHRASE is required")
	}
	if cfg.Backend != BackendFile && cfg.Backend != BackendPostgres {
		return nil, fmt.Errorf("SESSION_BACKEND must be %q or %q", BackendFile, BackendPostgres)
	}

	return cfg, nil
}

// UsesPostgres returns true when session state lives in Postgres.
func (c *Config) UsesPostgres() bool {
	return c.Backend == BackendPostgres
}

// PostgresDSN builds the connection string for the postgres backend.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
