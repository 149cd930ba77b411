package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tendant/simple-session/pkg/domain"
)

func mintToken(t *testing.T, claims *Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestPeek(t *testing.T) {
	exp := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	raw := mintToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			Subject:   "u1",
		},
		Email:     "ana@example.com",
		SessionID: "sess-1",
		TokenType: "access",
	})

	claims, err := Peek(raw)
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if claims.Email != "ana@example.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "ana@example.com")
	}
	if claims.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want %q", claims.SessionID, "sess-1")
	}
	if claims.TokenType != "access" {
		t.Errorf("TokenType = %q, want %q", claims.TokenType, "access")
	}
	if !claims.ExpiresAt.Time.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt.Time, exp)
	}
}

func TestValidate(t *testing.T) {
	valid := mintToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"well formed token", valid, false},
		{"empty string", "", true},
		{"two segments", "aaaa.bbbb", true},
		{"garbage", "not a token at all", true},
		{"undecodable segments", "!!!.???.###", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidToken) {
					t.Errorf("Validate() = %v, want ErrInvalidToken", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestValidateRenewed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	access := mintToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(30 * time.Minute))},
	})
	refresh := mintToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(7 * 24 * time.Hour))},
	})

	good := &domain.RenewedTokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(30 * time.Minute),
		RefreshExpiresAt: now.Add(7 * 24 * time.Hour),
	}
	if err := ValidateRenewed(good); err != nil {
		t.Errorf("ValidateRenewed() = %v for a good pair", err)
	}

	garbage := &domain.RenewedTokens{
		AccessToken:      "nope",
		RefreshToken:     refresh,
		AccessExpiresAt:  good.AccessExpiresAt,
		RefreshExpiresAt: good.RefreshExpiresAt,
	}
	if err := ValidateRenewed(garbage); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("ValidateRenewed() = %v for a garbage access token, want ErrInvalidToken", err)
	}

	inverted := &domain.RenewedTokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(7 * 24 * time.Hour),
		RefreshExpiresAt: now.Add(30 * time.Minute),
	}
	if err := ValidateRenewed(inverted); !errors.Is(err, domain.ErrInvalidRecord) {
		t.Errorf("ValidateRenewed() = %v for inverted expiries, want ErrInvalidRecord", err)
	}
}

func TestExpiresAt(t *testing.T) {
	exp := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	raw := mintToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
	})

	got, err := ExpiresAt(raw)
	if err != nil {
		t.Fatalf("ExpiresAt() error = %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("ExpiresAt() = %v, want %v", got, exp)
	}

	noExp := mintToken(t, &Claims{Email: "ana@example.com"})
	if _, err := ExpiresAt(noExp); err == nil {
		t.Error("ExpiresAt() = nil error for a token without exp")
	}
}
