// Package biometric coordinates the biometric unlock fast path. The local
// check only decides whether to ask the server; the server still verifies
// that the session is alive and that the device fingerprint matches, so a
// stolen prompt approval cannot mint a session the server would not grant.
package biometric

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tendant/simple-session/pkg/authclient"
	"github.com/tendant/simple-session/pkg/device"
	"github.com/tendant/simple-session/pkg/domain"
	"github.com/tendant/simple-session/pkg/store"
)

// DefaultPromptReason is shown by the platform prompt when the host app
// does not supply its own wording.
const DefaultPromptReason = "Confirm it's you to restore your session"

// Availability is what the platform reports about its biometric hardware.
type Availability struct {
	// Capable means the hardware exists and the OS exposes it.
	Capable bool
	// Enrolled means at least one biometric credential is registered.
	Enrolled bool
}

// Authenticator is the platform biometric surface (Face ID, Touch ID,
// fingerprint, face unlock). The host app implements it; this library never
// touches the sensor APIs directly.
type Authenticator interface {
	Availability(ctx context.Context) (Availability, error)
	// Prompt shows the system biometric prompt and reports whether the user
	// passed the check.
	Prompt(ctx context.Context, reason string) (bool, error)
}

// Remote is the slice of the auth service the gate needs.
// *authclient.Client satisfies it.
type Remote interface {
	BiometricLogin(ctx context.Context, req authclient.BiometricLoginRequest) (*domain.SessionRecord, error)
}

// Config configures a Gate. A nil Authenticator means the device has no
// biometric surface; every unlock then reports unavailable without
// prompting.
type Config struct {
	Remote        Remote
	Store         *store.Store
	Devices       *device.Provider
	Authenticator Authenticator
	Logger        *slog.Logger
	PromptReason  string
}

// Gate runs the biometric unlock flow.
type Gate struct {
	remote       Remote
	store        *store.Store
	devices      *device.Provider
	auth         Authenticator
	logger       *slog.Logger
	promptReason string
}

// New creates a gate.
func New(cfg Config) (*Gate, error) {
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Devices == nil {
		return nil, fmt.Errorf("device provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PromptReason == "" {
		cfg.PromptReason = DefaultPromptReason
	}
	return &Gate{
		remote:       cfg.Remote,
		store:        cfg.Store,
		devices:      cfg.Devices,
		auth:         cfg.Authenticator,
		logger:       cfg.Logger,
		promptReason: cfg.PromptReason,
	}, nil
}

// Unlock attempts to rehydrate an expired session through a biometric check.
// Preconditions are checked before any prompt is shown: the user must have
// opted in, the hardware must be capable, and a biometric must be enrolled.
// Failing a precondition returns domain.ErrBiometricUnavailable; a declined
// prompt returns domain.ErrBiometricDeclined with the cached record left
// untouched. Only a server-accepted rehydration replaces the stored session.
func (g *Gate) Unlock(ctx context.Context, cached *domain.SessionRecord) (*domain.BiometricUnlockResult, error) {
	result := &domain.BiometricUnlockResult{}

	if cached == nil || cached.SessionID == "" {
		return result, fmt.Errorf("%w: no cached session to rehydrate", domain.ErrBiometricUnavailable)
	}

	enabled, err := g.store.BiometricEnabled(ctx)
	if err != nil {
		return result, err
	}
	if !enabled {
		return result, fmt.Errorf("%w: not enabled on this device", domain.ErrBiometricUnavailable)
	}

	if g.auth == nil {
		return result, fmt.Errorf("%w: no authenticator", domain.ErrBiometricUnavailable)
	}
	availability, err := g.auth.Availability(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrBiometricUnavailable, err)
	}
	if !availability.Capable {
		return result, fmt.Errorf("%w: hardware not capable", domain.ErrBiometricUnavailable)
	}
	if !availability.Enrolled {
		return result, fmt.Errorf("%w: nothing enrolled", domain.ErrBiometricUnavailable)
	}

	approved, err := g.auth.Prompt(ctx, g.promptReason)
	if err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrBiometricDeclined, err)
	}
	if !approved {
		return result, domain.ErrBiometricDeclined
	}
	result.Approved = true

	fingerprint, err := g.devices.Fingerprint(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to fingerprint device: %w", err)
	}

	rec, err := g.remote.BiometricLogin(ctx, authclient.BiometricLoginRequest{
		UserID:    cached.User.ID,
		SessionID: cached.SessionID,
		Device:    fingerprint,
	})
	if err != nil {
		g.logger.Warn("biometric login rejected",
			"session_id", cached.SessionID, "error", err)
		return result, fmt.Errorf("biometric login rejected: %w", err)
	}

	if err := g.store.Save(ctx, rec); err != nil {
		return result, err
	}

	g.logger.Info("session rehydrated via biometric unlock",
		"session_id", rec.SessionID)
	result.Session = rec
	return result, nil
}
