// Package sessionkit manages the authenticated session lifecycle for a
// mobile client: login, encrypted persistence, restore on launch,
// single-flight token refresh, biometric-gated rehydration, and revocation.
//
// Basic usage:
//
//	kit, err := sessionkit.New(sessionkit.Config{
//	    BaseURL:       "https://auth.example.com",
//	    DataDir:       appSupportDir,
//	    EncryptionKey: key, // 32 bytes from the platform keystore
//	    Sources:       platformSources,
//	    Authenticator: platformBiometrics,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// On app launch:
//	rec, err := kit.RestoreOnLaunch(ctx)
//	if errors.Is(err, domain.ErrNoSession) {
//	    // show the login screen
//	}
//
//	// Before any authenticated API call:
//	token, err := kit.EnsureValidToken(ctx)
package sessionkit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tendant/simple-session/pkg/authclient"
	"github.com/tendant/simple-session/pkg/biometric"
	"github.com/tendant/simple-session/pkg/device"
	"github.com/tendant/simple-session/pkg/domain"
	"github.com/tendant/simple-session/pkg/refresh"
	"github.com/tendant/simple-session/pkg/store"
)

// Config holds the configuration for the session kit.
type Config struct {
	// BaseURL of the remote auth service (required).
	BaseURL string

	// HTTPClient used for auth service calls (default: 10 second timeout).
	HTTPClient *http.Client

	// Backend persists encrypted session state. When nil, a file backend
	// rooted at DataDir is used.
	Backend store.Backend

	// DataDir is where the default file backend keeps its records.
	// Required when Backend is nil.
	DataDir string

	// EncryptionKey encrypts session state at rest (required, 32 bytes).
	// Derive it once with store.DeriveKey and keep it in the platform
	// keystore; it must be stable across launches.
	EncryptionKey []byte

	// Sources supply the raw device facts behind the fingerprint (required).
	Sources device.Sources

	// Authenticator is the platform biometric surface. Nil disables the
	// biometric fast path entirely.
	Authenticator biometric.Authenticator

	// PromptReason is shown by the platform biometric prompt.
	PromptReason string

	// Refresh tuning. Zero values get the coordinator defaults.
	Debounce       time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration

	// Logger is the structured logger (default: JSON to stdout).
	Logger *slog.Logger

	// Now is the clock, for tests.
	Now func() time.Time
}

// Credentials is a full credential login request.
type Credentials struct {
	Email         string
	Password      string
	RememberMe    bool
	TwoFactorCode string
}

// Manager composes the device provider, store, refresh coordinator, and
// biometric gate into the session lifecycle operations the app calls.
type Manager struct {
	client        *authclient.Client
	store         *store.Store
	devices       *device.Provider
	coordinator   *refresh.Coordinator
	gate          *biometric.Gate
	authenticator biometric.Authenticator
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a session manager with the given configuration.
func New(cfg Config) (*Manager, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	st, err := store.New(cfg.Backend, cfg.EncryptionKey, cfg.Logger)
	if err != nil {
		return nil, err
	}
	devices := device.NewProvider(cfg.Backend, cfg.Sources, cfg.Logger)
	client := authclient.New(cfg.BaseURL, cfg.HTTPClient, cfg.Logger)

	coordinator, err := refresh.New(refresh.Config{
		Remote:         client,
		Store:          st,
		Logger:         cfg.Logger,
		Debounce:       cfg.Debounce,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    cfg.BackoffBase,
		AttemptTimeout: cfg.AttemptTimeout,
		Now:            cfg.Now,
	})
	if err != nil {
		return nil, err
	}

	gate, err := biometric.New(biometric.Config{
		Remote:        client,
		Store:         st,
		Devices:       devices,
		Authenticator: cfg.Authenticator,
		Logger:        cfg.Logger,
		PromptReason:  cfg.PromptReason,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		client:        client,
		store:         st,
		devices:       devices,
		coordinator:   coordinator,
		gate:          gate,
		authenticator: cfg.Authenticator,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}, nil
}

func validateConfig(cfg *Config) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("sessionkit: BaseURL is required")
	}
	if len(cfg.EncryptionKey) != store.KeySize {
		return fmt.Errorf("sessionkit: EncryptionKey must be %d bytes", store.KeySize)
	}
	if cfg.Sources == nil {
		return fmt.Errorf("sessionkit: Sources is required")
	}
	if cfg.Backend == nil && cfg.DataDir == "" {
		return fmt.Errorf("sessionkit: Backend or DataDir is required")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Backend == nil {
		cfg.Backend = store.NewFileBackend(cfg.DataDir)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
}

// Login exchanges credentials for a session and persists it. The device
// fingerprint travels with the request so the server can recognize the
// device and weigh its trust signal. When the user had biometric unlock
// enabled before a forced re-login, the new session is re-enrolled for it
// automatically.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*domain.SessionRecord, error) {
	creds.Email = strings.ToLower(strings.TrimSpace(creds.Email))
	if creds.Email == "" || creds.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrInvalidCredentials)
	}

	fp, err := m.devices.Fingerprint(ctx)
	if err != nil {
		// Logging in without a fingerprint degrades the server's trust
		// decision but must not block the user.
		m.logger.Warn("fingerprint unavailable for login", "error", err)
		fp = nil
	}

	rec, err := m.client.Login(ctx, authclient.LoginRequest{
		Email:         creds.Email,
		Password:      creds.Password,
		RememberMe:    creds.RememberMe,
		TwoFactorCode: creds.TwoFactorCode,
		Device:        fp,
	})
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = m.now()

	// A racing refresh belongs to whatever session existed before; its
	// result must not overwrite this one.
	m.coordinator.Invalidate()

	if err := m.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	m.logger.Info("logged in",
		"session_id", rec.SessionID,
		"remember_me", rec.RememberMe,
		"device_trusted", rec.DeviceTrusted)

	m.reenrollBiometric(ctx, rec, fp)
	return rec, nil
}

// reenrollBiometric carries a previous biometric opt-in over to a fresh
// session. Enrollment is per session on the server side, so without this a
// forced re-login would silently kill the fast path the user asked for.
func (m *Manager) reenrollBiometric(ctx context.Context, rec *domain.SessionRecord, fp *domain.DeviceFingerprint) {
	enabled, err := m.store.BiometricEnabled(ctx)
	if err != nil || !enabled || fp == nil {
		return
	}
	err = m.client.EnableBiometric(ctx, rec.AccessToken, authclient.EnableBiometricRequest{
		SessionID: rec.SessionID,
		Device:    fp,
	})
	if err != nil {
		m.logger.Warn("failed to re-enroll biometric unlock", "error", err)
		return
	}
	m.logger.Debug("biometric unlock re-enrolled", "session_id", rec.SessionID)
}

// RestoreOnLaunch rehydrates the persisted session when the app starts.
//
// A fresh record is returned as is. A record inside the refresh window is
// returned immediately while a refresh proceeds in the background. A record
// whose access token already expired is refreshed synchronously. A tombstone
// (refresh token expired) is offered to the biometric gate; if the gate
// cannot rehydrate it the store is cleared and ErrNoSession is returned,
// sending the user to full login.
func (m *Manager) RestoreOnLaunch(ctx context.Context) (*domain.SessionRecord, error) {
	rec, err := m.store.Current(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrNoSession
	}

	now := m.now()
	switch {
	case rec.Expired(now):
		return m.restoreTombstone(ctx, rec)

	case rec.AccessExpired(now):
		renewed, err := m.coordinator.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		return renewed, nil

	case rec.NeedsRefresh(now):
		// Still usable; renew behind the caller's back.
		go func() {
			if _, err := m.coordinator.Refresh(context.Background()); err != nil {
				m.logger.Warn("background refresh failed", "error", err)
			}
		}()
		return rec, nil

	default:
		return rec, nil
	}
}

// restoreTombstone handles launch with a session whose refresh token has
// expired. The coordinator is consulted first: its pre-flight guard tears
// the dead record down, and in the rare case another caller just refreshed,
// it hands back that result. Otherwise the gate gets one shot with the
// in-memory copy before the user is sent to full login.
func (m *Manager) restoreTombstone(ctx context.Context, cached *domain.SessionRecord) (*domain.SessionRecord, error) {
	rec, err := m.coordinator.Refresh(ctx)
	if err == nil {
		return rec, nil
	}

	result, unlockErr := m.gate.Unlock(ctx, cached)
	if unlockErr == nil && result.Session != nil {
		m.logger.Info("session rehydrated via biometric unlock",
			"session_id", result.Session.SessionID)
		return result.Session, nil
	}
	m.logger.Info("session not restorable, full login required",
		"session_id", cached.SessionID, "error", unlockErr)

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("failed to clear dead session", "error", err)
	}
	return nil, domain.ErrNoSession
}

// EnsureValidToken returns an access token good for at least the refresh
// window, refreshing first when needed. Concurrent callers share a single
// refresh. Call this before every authenticated API request.
func (m *Manager) EnsureValidToken(ctx context.Context) (string, error) {
	rec, err := m.coordinator.EnsureValid(ctx)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// CurrentSession returns the persisted session without refreshing it.
// Returns ErrNoSession when nothing is stored.
func (m *Manager) CurrentSession(ctx context.Context) (*domain.SessionRecord, error) {
	rec, err := m.store.Current(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrNoSession
	}
	return rec, nil
}

// Logout ends the session. Remote revocation is best effort when asked for;
// local cleanup is unconditional, so logout always succeeds from the user's
// point of view even when the service is unreachable.
func (m *Manager) Logout(ctx context.Context, revokeRemote bool) error {
	rec, err := m.store.Current(ctx)
	if err != nil {
		m.logger.Warn("failed to read session during logout", "error", err)
	}

	// Invalidate before clearing: a refresh in flight right now must not
	// resurrect the session by writing its result after the wipe.
	m.coordinator.Invalidate()

	if revokeRemote && rec != nil {
		if err := m.client.Logout(ctx, rec.AccessToken, rec.SessionID); err != nil {
			m.logger.Warn("remote logout failed", "session_id", rec.SessionID, "error", err)
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if err := m.store.SetBiometricEnabled(ctx, false); err != nil {
		m.logger.Warn("failed to reset biometric opt-in", "error", err)
	}

	m.logger.Info("logged out")
	return nil
}

// RevokeAllDevices invalidates every session for the account, this device
// included, then clears local state. Unlike Logout this is a security
// action: a remote failure is returned, not swallowed, because the user
// needs to know the other devices are still live.
func (m *Manager) RevokeAllDevices(ctx context.Context) error {
	rec, err := m.coordinator.EnsureValid(ctx)
	if err != nil {
		return err
	}

	if err := m.client.LogoutAll(ctx, rec.AccessToken); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	m.coordinator.Invalidate()
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if err := m.store.SetBiometricEnabled(ctx, false); err != nil {
		m.logger.Warn("failed to reset biometric opt-in", "error", err)
	}

	m.logger.Info("all devices revoked")
	return nil
}

// ListSessions returns the account's active sessions across devices, for a
// "manage devices" screen.
func (m *Manager) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	rec, err := m.coordinator.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	return m.client.ListSessions(ctx, rec.AccessToken)
}

// BiometricOffered reports whether the app should offer the biometric
// unlock opt-in: a remember-me session exists on a trusted device, the
// hardware can do it, a biometric is enrolled with the platform, and the
// user has not already opted in.
func (m *Manager) BiometricOffered(ctx context.Context) (bool, error) {
	if m.authenticator == nil {
		return false, nil
	}
	rec, err := m.store.Current(ctx)
	if err != nil {
		return false, err
	}
	if rec == nil || !rec.DeviceTrusted || !rec.RememberMe {
		return false, nil
	}
	enabled, err := m.store.BiometricEnabled(ctx)
	if err != nil {
		return false, err
	}
	if enabled {
		return false, nil
	}

	av, err := m.authenticator.Availability(ctx)
	if err != nil {
		m.logger.Warn("biometric availability check failed", "error", err)
		return false, nil
	}
	return av.Capable && av.Enrolled, nil
}

// EnableBiometricUnlock registers the current session and device for
// biometric login and records the opt-in locally.
func (m *Manager) EnableBiometricUnlock(ctx context.Context) error {
	if m.authenticator == nil {
		return domain.ErrBiometricUnavailable
	}
	av, err := m.authenticator.Availability(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBiometricUnavailable, err)
	}
	if !av.Capable || !av.Enrolled {
		return domain.ErrBiometricUnavailable
	}

	rec, err := m.coordinator.EnsureValid(ctx)
	if err != nil {
		return err
	}
	fp, err := m.devices.Fingerprint(ctx)
	if err != nil {
		return fmt.Errorf("failed to fingerprint device: %w", err)
	}

	err = m.client.EnableBiometric(ctx, rec.AccessToken, authclient.EnableBiometricRequest{
		SessionID: rec.SessionID,
		Device:    fp,
	})
	if err != nil {
		return err
	}
	if err := m.store.SetBiometricEnabled(ctx, true); err != nil {
		return fmt.Errorf("failed to record biometric opt-in: %w", err)
	}

	m.logger.Info("biometric unlock enabled", "session_id", rec.SessionID)
	return nil
}

// DisableBiometricUnlock drops the local opt-in. The server keeps its
// enrollment, but nothing on this device will use it again.
func (m *Manager) DisableBiometricUnlock(ctx context.Context) error {
	return m.store.SetBiometricEnabled(ctx, false)
}
