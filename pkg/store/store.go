// Package store persists the device's session record, encrypted at rest.
// It is the single owner of session storage: every component that needs the
// current session reads it from here, and every token renewal is written back
// through here as a whole-record replacement.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-session/pkg/domain"
	"github.com/tendant/simple-session/pkg/token"
)

// Storage keys. Versioned so a future record shape can live alongside the
// old one during migration.
const (
	sessionKey   = "session.v1"
	biometricKey = "biometric.v1"
)

// Store encrypts and persists the session record over a Backend.
type Store struct {
	backend Backend
	key     []byte
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a store. The key must be KeySize bytes; derive one from a
// passphrase with DeriveKey if needed.
func New(backend Backend, key []byte, logger *slog.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, key: key, logger: logger, now: time.Now}, nil
}

// Save validates and persists a session record, replacing any previous one.
// Records that fail validation are rejected before touching storage so a bad
// write can never shadow a good record.
func (s *Store) Save(ctx context.Context, rec *domain.SessionRecord) error {
	if err := token.ValidateRecord(rec); err != nil {
		return err
	}

	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}

	envelope, err := encrypt(s.key, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt session record: %w", err)
	}

	if err := s.backend.Set(ctx, sessionKey, envelope); err != nil {
		return fmt.Errorf("failed to persist session record: %w", err)
	}
	return nil
}

// Current returns the persisted session record, or (nil, nil) when none
// exists. A record that cannot be decrypted, decoded, or validated is
// cleared and reported as absent: corrupted state must never wedge the app,
// it must fall back to signed-out. Expired records are returned as-is; an
// expired session is a fact, not corruption.
func (s *Store) Current(ctx context.Context) (*domain.SessionRecord, error) {
	envelope, err := s.backend.Get(ctx, sessionKey)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	plaintext, err := decrypt(s.key, envelope)
	if err != nil {
		return s.heal(ctx, err)
	}

	rec := &domain.SessionRecord{}
	if err := json.Unmarshal(plaintext, rec); err != nil {
		return s.heal(ctx, err)
	}

	if err := token.ValidateRecord(rec); err != nil {
		return s.heal(ctx, err)
	}

	return rec, nil
}

// Clear removes the session record. Clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, sessionKey); err != nil {
		return fmt.Errorf("failed to clear session record: %w", err)
	}
	return nil
}

// NeedsRefresh reports whether the record is inside the pre-expiry window
// against the store's clock.
func (s *Store) NeedsRefresh(rec *domain.SessionRecord) bool {
	return rec != nil && rec.NeedsRefresh(s.now())
}

// Expired reports whether the record's refresh token is past its expiry
// against the store's clock.
func (s *Store) Expired(rec *domain.SessionRecord) bool {
	return rec != nil && rec.Expired(s.now())
}

// biometricState is the blob persisted under biometricKey.
type biometricState struct {
	Enabled   bool      `json:"enabled"`
	EnabledAt time.Time `json:"enabled_at"`
}

// SetBiometricEnabled records whether the user opted in to biometric unlock.
// The opt-in outlives token expiry on purpose: an expired session is exactly
// when the biometric path is needed.
func (s *Store) SetBiometricEnabled(ctx context.Context, enabled bool) error {
	if !enabled {
		if err := s.backend.Delete(ctx, biometricKey); err != nil {
			return fmt.Errorf("failed to clear biometric opt-in: %w", err)
		}
		return nil
	}

	plaintext, err := json.Marshal(biometricState{Enabled: true, EnabledAt: s.now()})
	if err != nil {
		return fmt.Errorf("failed to encode biometric opt-in: %w", err)
	}
	envelope, err := encrypt(s.key, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt biometric opt-in: %w", err)
	}
	if err := s.backend.Set(ctx, biometricKey, envelope); err != nil {
		return fmt.Errorf("failed to persist biometric opt-in: %w", err)
	}
	return nil
}

// BiometricEnabled reports whether biometric unlock was enabled on this
// device. An unreadable opt-in blob is dropped and reported as disabled,
// matching how Current treats a corrupted record.
func (s *Store) BiometricEnabled(ctx context.Context) (bool, error) {
	envelope, err := s.backend.Get(ctx, biometricKey)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read biometric opt-in: %w", err)
	}

	plaintext, err := decrypt(s.key, envelope)
	if err != nil {
		return s.dropBiometric(ctx, err)
	}
	state := biometricState{}
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return s.dropBiometric(ctx, err)
	}
	return state.Enabled, nil
}

func (s *Store) dropBiometric(ctx context.Context, cause error) (bool, error) {
	s.logger.Warn("clearing unreadable biometric opt-in", "error", cause)
	if err := s.backend.Delete(ctx, biometricKey); err != nil {
		s.logger.Warn("failed to clear unreadable biometric opt-in", "error", err)
	}
	return false, nil
}

// heal clears an unreadable record and reports absence.
func (s *Store) heal(ctx context.Context, cause error) (*domain.SessionRecord, error) {
	s.logger.Warn("clearing unreadable session record", "error", cause)
	if err := s.backend.Delete(ctx, sessionKey); err != nil {
		s.logger.Warn("failed to clear unreadable session record", "error", err)
	}
	return nil, nil
}
