package domain

import "errors"

// Session lifecycle errors
var (
	ErrNoSession      = errors.New("no active session")
	ErrSessionExpired = errors.New("session expired")
	ErrSessionRevoked = errors.New("session revoked")
	ErrInvalidToken   = errors.New("token is structurally invalid")
	ErrInvalidRecord  = errors.New("session record violates invariants")
)

// Authentication errors
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrAccountLocked        = errors.New("account locked due to too many failed login attempts")
	ErrTwoFactorRequired    = errors.New("two-factor code required")
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
)

// Biometric gate errors (non-fatal: callers fall back to credential entry)
var (
	ErrBiometricUnavailable = errors.New("biometric unlock unavailable")
	ErrBiometricDeclined    = errors.New("biometric check declined")
)

// FailureClass buckets a remote failure for the refresh state machine.
// Only transient failures are worth retrying; everything else means the
// session is gone and the user must re-authenticate.
type FailureClass string

const (
	FailureTransient    FailureClass = "transient"
	FailureInvalid      FailureClass = "invalid"
	FailureExpired      FailureClass = "expired"
	FailureUnauthorized FailureClass = "unauthorized"
	FailureRevoked      FailureClass = "revoked"
)

// Retryable reports whether another attempt could plausibly succeed.
func (c FailureClass) Retryable() bool {
	return c == FailureTransient
}

// Err maps the class to its sentinel so callers can use errors.Is without
// caring where the classification came from.
func (c FailureClass) Err() error {
	switch c {
	case FailureExpired:
		return ErrSessionExpired
	case FailureRevoked:
		return ErrSessionRevoked
	case FailureUnauthorized:
		return ErrUnauthorized
	case FailureInvalid:
		return ErrInvalidToken
	default:
		return nil
	}
}
