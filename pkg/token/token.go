// Package token inspects JWTs on the client side. The device never holds
// signing keys, so nothing here verifies signatures; the server is the only
// party that can. What the client can and does check is structure: a token
// that does not even parse must never be persisted or sent.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tendant/simple-session/pkg/domain"
)

// Claims is the claim set minted by the auth service. Only the fields the
// client needs are declared; unknown claims are ignored.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// Peek decodes a token's claims without verifying the signature.
func Peek(raw string) (*Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", domain.ErrInvalidToken)
	}
	return claims, nil
}

// Validate checks that a token is structurally sound: three dot-separated
// segments with decodable header and claims. A failure here means the token
// can never work against the server, no matter how many times it is retried.
func Validate(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty token", domain.ErrInvalidToken)
	}
	_, err := Peek(raw)
	return err
}

// ExpiresAt returns the token's exp claim, if present.
func ExpiresAt(raw string) (time.Time, error) {
	claims, err := Peek(raw)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no expiry claim")
	}
	return claims.ExpiresAt.Time, nil
}

// ValidateRecord layers token structure checks on top of a session record's
// own invariants. Both the store and the auth client gate on this: a record
// carrying tokens the server could never parse must not be persisted or
// trusted.
func ValidateRecord(rec *domain.SessionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := Validate(rec.AccessToken); err != nil {
		return fmt.Errorf("access token: %w", err)
	}
	if err := Validate(rec.RefreshToken); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	return nil
}

// ValidateRenewed checks a token pair returned by a refresh before it is
// allowed to replace the stored one.
func ValidateRenewed(t *domain.RenewedTokens) error {
	if err := Validate(t.AccessToken); err != nil {
		return fmt.Errorf("access token: %w", err)
	}
	if err := Validate(t.RefreshToken); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if !t.AccessExpiresAt.Before(t.RefreshExpiresAt) {
		return fmt.Errorf("%w: renewed access token outlives its refresh token", domain.ErrInvalidRecord)
	}
	return nil
}
