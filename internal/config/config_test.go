package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("SESSION_PASSPHRASE", "test-passphrase")
	defer os.Unsetenv("SESSION_PASSPHRASE")

	envVars := []string{"AUTH_BASE_URL", "SESSION_BACKEND", "SESSION_DATA_DIR",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE"}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend != BackendFile {
		t.Errorf("Backend = %q, want %q", cfg.Backend, BackendFile)
	}
	if cfg.DataDir != "./simple-session-data" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "./simple-session-data")
	}
	if cfg.AuthBaseURL != "" {
		t.Errorf("AuthBaseURL = %q, want empty", cfg.AuthBaseURL)
	}
	if cfg.DBHost != "localhost" {
		t.Errorf("DBHost = %q, want %q", cfg.DBHost, "localhost")
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, want %d", cfg.DBPort, 5432)
	}
	if cfg.DBSSLMode != "disable" {
		t.Errorf("DBSSLMode = %q, want %q", cfg.DBSSLMode, "disable")
	}
	if cfg.UsesPostgres() {
		t.Error("UsesPostgres() should be false by default")
	}
}

func TestLoad_RequiredPassphrase(t *testing.T) {
	os.Unsetenv("SESSION_PASSPHRASE")

	_, err := Load()
	if err == nil {
		t.Error("Load should fail when SESSION_PASSPHRASE is not set")
	}
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	os.Setenv("SESSION_PASSPHRASE", "test-passphrase")
	os.Setenv("SESSION_BACKEND", "redis")
	defer func() {
		os.Unsetenv("SESSION_PASSPHRASE")
		os.Unsetenv("SESSION_BACKEND")
	}()

	if _, err := Load(); err == nil {
		t.Error("Load should reject an unknown backend")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("SESSION_PASSPHRASE", "test-passphrase")
	os.Setenv("SESSION_BACKEND", "postgres")
	os.Setenv("DB_HOST", "db.example.com")
	os.Setenv("REFRESH_ATTEMPT_TIMEOUT", "30s")
	defer func() {
		os.Unsetenv("SESSION_PASSPHRASE")
		os.Unsetenv("SESSION_BACKEND")
		os.Unsetenv("DB_HOST")
		os.Unsetenv("REFRESH_ATTEMPT_TIMEOUT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.UsesPostgres() {
		t.Error("UsesPostgres() should be true")
	}
	if cfg.DBHost != "db.example.com" {
		t.Errorf("DBHost = %q, want %q", cfg.DBHost, "db.example.com")
	}
	if cfg.RefreshAttemptTimeout != 30*time.Second {
		t.Errorf("RefreshAttemptTimeout = %v, want %v", cfg.RefreshAttemptTimeout, 30*time.Second)
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "app",
		DBPassword: "secret",
		DBName:     "simple_session",
		DBSSLMode:  "disable",
	}

	want := "host=localhost port=5432 user=app password=secret dbname=simple_session sslmode=disable"
	if got := cfg.PostgresDSN(); got != want {
		t.Errorf("PostgresDSN() = %q, want %q", got, want)
	}
}

func TestGetEnvInt_InvalidValue(t *testing.T) {
	os.Setenv("TEST_INT", "not-a-number")
	defer os.Unsetenv("TEST_INT")

	result := getEnvInt("TEST_INT", 42)
	if result != 42 {
		t.Errorf("getEnvInt should return default for invalid value, got %d", result)
	}
}

func TestGetEnvDuration_InvalidValue(t *testing.T) {
	os.Setenv("TEST_DURATION", "invalid")
	defer os.Unsetenv("TEST_DURATION")

	result := getEnvDuration("TEST_DURATION", 5*time.Minute)
	if result != 5*time.Minute {
		t.Errorf("getEnvDuration should return default for invalid value, got %v", result)
	}
}
