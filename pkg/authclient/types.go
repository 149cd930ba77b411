package authclient

import (
	"time"

	"github.com/tendant/simple-session/pkg/domain"
)

// LoginRequest carries everything the auth service needs for a credential
// login. TwoFactorCode is empty on the first attempt; the service answers
// with a two-factor challenge when the account requires one.
type LoginRequest struct {
	Email         string                    `json:"email"`
	Password      string                    `json:"password"`
	RememberMe    bool                      `json:"remember_me"`
	TwoFactorCode string                    `json:"two_factor_code,omitempty"`
	Device        *domain.DeviceFingerprint `json:"device,omitempty"`
}

// RefreshRequest exchanges a refresh token for a renewed pair. The session
// ID lets the service bind the rotation to one server-side session.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
}

// BiometricLoginRequest rehydrates an expired client session after a local
// biometric check. The service verifies the session is still alive on its
// side, belongs to the claimed user, and that the device fingerprint matches
// the one the session was created with.
type BiometricLoginRequest struct {
	UserID    string                    `json:"user_id"`
	SessionID string                    `json:"session_id"`
	Device    *domain.DeviceFingerprint `json:"device"`
}

// EnableBiometricRequest registers this device for biometric login.
type EnableBiometricRequest struct {
	SessionID string                    `json:"session_id"`
	Device    *domain.DeviceFingerprint `json:"device"`
}

// LogoutRequest ends one server-side session.
type LogoutRequest struct {
	SessionID string `json:"session_id"`
}

// sessionPayload is the session envelope the service returns from login and
// biometric login.
type sessionPayload struct {
	AccessToken      string      `json:"access_token"`
	RefreshToken     string      `json:"refresh_token"`
	SessionID        string      `json:"session_id"`
	User             userPayload `json:"user"`
	AccessExpiresAt  time.Time   `json:"access_expires_at"`
	RefreshExpiresAt time.Time   `json:"refresh_expires_at"`
	DeviceTrusted    bool        `json:"device_trusted"`
	RememberMe       bool        `json:"remember_me"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (p *sessionPayload) toRecord(now time.Time) *domain.SessionRecord {
	return &domain.SessionRecord{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		SessionID:        p.SessionID,
		User: domain.UserSummary{
			ID:    p.User.ID,
			Email: p.User.Email,
			Name:  p.User.Name,
			Role:  domain.Role(p.User.Role),
		},
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		DeviceTrusted:    p.DeviceTrusted,
		RememberMe:       p.RememberMe,
		CreatedAt:        now,
	}
}

// renewedPayload is the token pair returned by a refresh.
type renewedPayload struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func (p *renewedPayload) toTokens() *domain.RenewedTokens {
	return &domain.RenewedTokens{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// sessionsPayload is the device list returned by the sessions endpoint.
type sessionsPayload struct {
	Sessions []sessionSummaryPayload `json:"sessions"`
}

type sessionSummaryPayload struct {
	SessionID    string    `json:"session_id"`
	DeviceID     string    `json:"device_id"`
	Platform     string    `json:"platform"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsCurrent    bool      `json:"is_current"`
}

func (p *sessionSummaryPayload) toSummary() domain.SessionSummary {
	return domain.SessionSummary{
		SessionID:    p.SessionID,
		DeviceID:     p.DeviceID,
		Platform:     domain.Platform(p.Platform),
		IPAddress:    p.IPAddress,
		UserAgent:    p.UserAgent,
		LastActivity: p.LastActivity,
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
		IsCurrent:    p.IsCurrent,
	}
}

// errorPayload is the service's error body shape.
type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
