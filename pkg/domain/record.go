package domain

import "time"

// RefreshWindow is how long before access-token expiry a session is
// considered due for a refresh. Refreshing early keeps an in-flight API
// call from failing mid-request because its token expired on the wire.
const RefreshWindow = 5 * time.Minute

// SessionRecord is the authenticated session persisted on the device.
// Exactly one record exists per installation; it is replaced whole on every
// login and refresh, never patched field by field.
type SessionRecord struct {
	AccessToken      string      `json:"access_token"`
	RefreshToken     string      `json:"refresh_token"`
	SessionID        string      `json:"session_id"`
	User             UserSummary `json:"user"`
	AccessExpiresAt  time.Time   `json:"access_expires_at"`
	RefreshExpiresAt time.Time   `json:"refresh_expires_at"`
	DeviceTrusted    bool        `json:"device_trusted"`
	RememberMe       bool        `json:"remember_me"`
	CreatedAt        time.Time   `json:"created_at"`
}

// NeedsRefresh reports whether the record is inside the pre-expiry window
// and should be refreshed before further API use.
func (r *SessionRecord) NeedsRefresh(now time.Time) bool {
	return !now.Before(r.AccessExpiresAt.Add(-RefreshWindow))
}

// AccessExpired reports whether the access token itself has expired.
func (r *SessionRecord) AccessExpired(now time.Time) bool {
	return !now.Before(r.AccessExpiresAt)
}

// Expired reports whether the refresh token has expired. An expired record
// is a tombstone: it must be cleared before any further authenticated use,
// though the biometric gate may still read its session ID to rehydrate.
func (r *SessionRecord) Expired(now time.Time) bool {
	return !now.Before(r.RefreshExpiresAt)
}

// Validate checks the structural invariants every persisted record must
// hold. Token segment validation is layered on top by the store.
func (r *SessionRecord) Validate() error {
	if r.AccessToken == "" || r.RefreshToken == "" {
		return ErrInvalidToken
	}
	if r.SessionID == "" {
		return ErrInvalidRecord
	}
	if !r.AccessExpiresAt.Before(r.RefreshExpiresAt) {
		return ErrInvalidRecord
	}
	return nil
}

// WithRenewedTokens returns a full replacement record carrying the rotated
// token pair. Identity and device fields are preserved; only the tokens and
// their expiries change.
func (r *SessionRecord) WithRenewedTokens(t *RenewedTokens) *SessionRecord {
	next := *r
	next.AccessToken = t.AccessToken
	next.RefreshToken = t.RefreshToken
	next.AccessExpiresAt = t.AccessExpiresAt
	next.RefreshExpiresAt = t.RefreshExpiresAt
	return &next
}

// RenewedTokens is the transient result of a successful token refresh.
// It is never persisted on its own; the coordinator folds it into a new
// SessionRecord before anything is written.
type RenewedTokens struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// SessionSummary describes one of the account's active sessions as reported
// by the remote service (the "manage devices" view).
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	DeviceID     string    `json:"device_id"`
	Platform     Platform  `json:"platform"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsCurrent    bool      `json:"is_current"`
}
