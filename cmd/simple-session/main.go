// Command simple-session walks the full session lifecycle against an auth
// service: restore on launch, credential login, biometric enrollment, token
// renewal, device listing, and logout. Point AUTH_BASE_URL at a real service
// or leave it empty to run against an embedded demo service.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/tendant/simple-session/internal/config"
	"github.com/tendant/simple-session/pkg/authtest"
	"github.com/tendant/simple-session/pkg/biometric"
	"github.com/tendant/simple-session/pkg/device"
	"github.com/tendant/simple-session/pkg/domain"
	"github.com/tendant/simple-session/pkg/store"
	"github.com/tendant/simple-session/sessionkit"
)

const appVersion = "0.3.0"

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	backend, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up session storage", "error", err)
		os.Exit(1)
	}

	key, err := loadEncryptionKey(cfg)
	if err != nil {
		logger.Error("failed to derive encryption key", "error", err)
		os.Exit(1)
	}

	baseURL := cfg.AuthBaseURL
	embedded := baseURL == ""
	if embedded {
		shutdown, url, err := startDemoService(cfg, logger)
		if err != nil {
			logger.Error("failed to start embedded auth service", "error", err)
			os.Exit(1)
		}
		defer shutdown()
		baseURL = url
		logger.Info("using embedded demo auth service", "url", baseURL)
	}

	kit, err := sessionkit.New(sessionkit.Config{
		BaseURL:        baseURL,
		Backend:        backend,
		DataDir:        cfg.DataDir,
		EncryptionKey:  key,
		Sources:        device.HostSources(appVersion),
		Authenticator:  &demoAuthenticator{logger: logger},
		Logger:         logger,
		Debounce:       cfg.RefreshDebounce,
		MaxAttempts:    cfg.RefreshMaxAttempts,
		BackoffBase:    cfg.RefreshBackoffBase,
		AttemptTimeout: cfg.RefreshAttemptTimeout,
	})
	if err != nil {
		logger.Error("failed to create session manager", "error", err)
		os.Exit(1)
	}

	if err := walkthrough(ctx, logger, kit, cfg, embedded); err != nil {
		logger.Error("walkthrough failed", "error", err)
		os.Exit(1)
	}

	logger.Info("done")
}

// walkthrough exercises the lifecycle end to end.
func walkthrough(ctx context.Context, logger *slog.Logger, kit *sessionkit.Manager, cfg *config.Config, embedded bool) error {
	rec, err := kit.RestoreOnLaunch(ctx)
	switch {
	case err == nil:
		logger.Info("restored session from previous run",
			"session_id", rec.SessionID, "user", rec.User.Email)
	case errors.Is(err, domain.ErrNoSession):
		logger.Info("no stored session, logging in", "email", cfg.DemoEmail)
		rec, err = kit.Login(ctx, sessionkit.Credentials{
			Email:      cfg.DemoEmail,
			Password:   cfg.DemoPassword,
			RememberMe: true,
		})
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		logger.Info("logged in", "session_id", rec.SessionID,
			"access_expires_at", rec.AccessExpiresAt,
			"device_trusted", rec.DeviceTrusted)
	default:
		return fmt.Errorf("restore: %w", err)
	}

	offered, err := kit.BiometricOffered(ctx)
	if err != nil {
		return fmt.Errorf("biometric offer check: %w", err)
	}
	if offered {
		if err := kit.EnableBiometricUnlock(ctx); err != nil {
			logger.Warn("biometric enrollment failed", "error", err)
		} else {
			logger.Info("biometric unlock enabled")
		}
	}

	token, err := kit.EnsureValidToken(ctx)
	if err != nil {
		return fmt.Errorf("ensure valid token: %w", err)
	}
	logger.Info("access token ready", "token_prefix", token[:min(12, len(token))])

	sessions, err := kit.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, s := range sessions {
		logger.Info("active session",
			"session_id", s.SessionID,
			"platform", string(s.Platform),
			"current", s.IsCurrent,
			"expires_at", s.ExpiresAt)
	}

	// Against a real service the session is kept so the next run restores
	// it; the embedded service dies with the process, so log out cleanly.
	if embedded {
		if err := kit.Logout(ctx, true); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		logger.Info("logged out")
	} else {
		logger.Info("keeping session for next run")
	}
	return nil
}

// buildBackend picks the storage medium for encrypted session state.
func buildBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Backend, error) {
	if !cfg.UsesPostgres() {
		return store.NewFileBackend(cfg.DataDir), nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	backend := store.NewPostgresBackend(db)
	if err := backend.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	logger.Info("connected to database", "host", cfg.DBHost, "dbname", cfg.DBName)
	return backend, nil
}

// loadEncryptionKey derives the storage key from the configured passphrase
// and a salt persisted next to the data. A real mobile app would keep the
// derived key in the platform keystore instead.
func loadEncryptionKey(cfg *config.Config) ([]byte, error) {
	saltPath := filepath.Join(cfg.DataDir, "key.salt")

	salt, err := os.ReadFile(saltPath)
	if errors.Is(err, os.ErrNotExist) {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
			return nil, fmt.Errorf("failed to persist salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	return store.DeriveKey(cfg.Passphrase, salt), nil
}

// startDemoService runs the in-process fake auth service on a loopback
// listener and seeds it with the demo account.
func startDemoService(cfg *config.Config, logger *slog.Logger) (func(), string, error) {
	srv := authtest.NewServer(authtest.Config{Logger: logger})
	srv.AddUser(authtest.User{
		Email:    cfg.DemoEmail,
		Password: cfg.DemoPassword,
		Name:     "Demo User",
		Role:     domain.RoleCustomer,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", fmt.Errorf("failed to listen: %w", err)
	}

	httpSrv := &http.Server{
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("demo auth service error", "error", err)
		}
	}()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Warn("demo auth service shutdown error", "error", err)
		}
	}
	return shutdown, "http://" + ln.Addr().String(), nil
}

// demoAuthenticator stands in for the platform biometric prompt and always
// approves.
type demoAuthenticator struct {
	logger *slog.Logger
}

func (a *demoAuthenticator) Availability(context.Context) (biometric.Availability, error) {
	return biometric.Availability{Capable: true, Enrolled: true}, nil
}

func (a *demoAuthenticator) Prompt(_ context.Context, reason string) (bool, error) {
	a.logger.Info("simulating approved biometric check", "reason", reason)
	return true, nil
}
