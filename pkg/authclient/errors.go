package authclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/tendant/simple-session/pkg/domain"
)

// Error codes carried in the auth service's error payloads. The code is the
// authoritative failure signal; HTTP status is only the fallback when a
// response carries no code.
const (
	CodeInvalidCredentials   = "invalid_credentials"
	CodeAccountLocked        = "account_locked"
	CodeTwoFactorRequired    = "two_factor_required"
	CodeInvalidTwoFactorCode = "invalid_two_factor_code"
	CodeSessionExpired       = "session_expired"
	CodeSessionRevoked       = "session_revoked"
	CodeTokenReused          = "token_reused"
	CodeInvalidToken         = "invalid_token"
	CodeSessionNotFound      = "session_not_found"
	CodeDeviceMismatch       = "device_mismatch"
	CodeUnauthorized         = "unauthorized"
	CodeRateLimited          = "rate_limited"
	CodeServerError          = "server_error"
)

// APIError is a structured failure returned by the auth service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth service: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("auth service: %s (status %d)", e.Message, e.Status)
}

// Is maps error codes onto the domain sentinels so callers can match with
// errors.Is without knowing about wire codes.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrInvalidCredentials:
		return e.Code == CodeInvalidCredentials
	case domain.ErrAccountLocked:
		return e.Code == CodeAccountLocked
	case domain.ErrTwoFactorRequired:
		return e.Code == CodeTwoFactorRequired
	case domain.ErrInvalidTwoFactorCode:
		return e.Code == CodeInvalidTwoFactorCode
	case domain.ErrSessionExpired:
		return e.Code == CodeSessionExpired || e.Code == CodeSessionNotFound
	case domain.ErrSessionRevoked:
		return e.Code == CodeSessionRevoked || e.Code == CodeTokenReused
	case domain.ErrInvalidToken:
		return e.Code == CodeInvalidToken
	case domain.ErrUnauthorized:
		return e.Code == CodeUnauthorized || e.Code == CodeDeviceMismatch
	}
	return false
}

// Classify buckets any error from a Client call for the refresh state
// machine. The rules, in order:
//
//  1. A structured code decides outright.
//  2. Without a code, the HTTP status class decides: 5xx and 429 are
//     transient, 401/403 unauthorized, other 4xx invalid.
//  3. Network failures, timeouts, and responses too mangled to read are
//     transient. Treating an ambiguous failure as fatal would destroy a
//     possibly healthy session over a flaky connection.
func Classify(err error) domain.FailureClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if class, ok := classifyCode(apiErr.Code); ok {
			return class
		}
		return classifyStatus(apiErr.Status)
	}

	// Locally detected structural problems are fatal: a token the server
	// cannot parse will not improve with retries.
	if errors.Is(err, domain.ErrInvalidToken) || errors.Is(err, domain.ErrInvalidRecord) {
		return domain.FailureInvalid
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.FailureTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.FailureTransient
	}

	return domain.FailureTransient
}

func classifyCode(code string) (domain.FailureClass, bool) {
	switch code {
	case CodeSessionExpired, CodeSessionNotFound:
		return domain.FailureExpired, true
	case CodeSessionRevoked, CodeTokenReused:
		return domain.FailureRevoked, true
	case CodeInvalidToken, CodeInvalidCredentials, CodeTwoFactorRequired, CodeInvalidTwoFactorCode:
		return domain.FailureInvalid, true
	case CodeUnauthorized, CodeDeviceMismatch, CodeAccountLocked:
		return domain.FailureUnauthorized, true
	case CodeRateLimited, CodeServerError:
		return domain.FailureTransient, true
	}
	return "", false
}

func classifyStatus(status int) domain.FailureClass {
	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return domain.FailureTransient
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.FailureUnauthorized
	case status >= 400:
		return domain.FailureInvalid
	default:
		return domain.FailureTransient
	}
}
