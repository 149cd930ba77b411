package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tendant/simple-session/pkg/domain"
)

func mintToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Subject:   "u1",
	})
	signed, err := tok.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func sessionBody(t *testing.T, now time.Time) map[string]any {
	t.Helper()
	return map[string]any{
		"access_token":       mintToken(t, now.Add(30*time.Minute)),
		"refresh_token":      mintToken(t, now.Add(7*24*time.Hour)),
		"session_id":         "9d8c7b6a-5e4f-4a3b-8c2d-1e0f9a8b7c6d",
		"user":               map[string]any{"id": "u1", "email": "ana@example.com", "name": "Ana", "role": "customer"},
		"access_expires_at":  now.Add(30 * time.Minute),
		"refresh_expires_at": now.Add(7 * 24 * time.Hour),
		"device_trusted":     true,
		"remember_me":        true,
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func TestLogin(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != pathLogin {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Email != "ana@example.com" || req.Password != "secret" {
			t.Errorf("unexpected credentials: %q", req.Email)
		}
		if !req.RememberMe {
			t.Error("remember_me was not forwarded")
		}
		if req.Device == nil || req.Device.Platform != domain.PlatformIOS {
			t.Errorf("device fingerprint missing or wrong: %+v", req.Device)
		}
		writeJSON(t, w, http.StatusOK, sessionBody(t, now))
	}))
	defer server.Close()

	client := New(server.URL, server.Client(), nil)
	rec, err := client.Login(context.Background(), LoginRequest{
		Email:      "ana@example.com",
		Password:   "secret",
		RememberMe: true,
		Device:     &domain.DeviceFingerprint{DeviceID: "dev-1", Platform: domain.PlatformIOS, TrustScore: 1.0},
	})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if rec.SessionID != "9d8c7b6a-5e4f-4a3b-8c2d-1e0f9a8b7c6d" {
		t.Errorf("SessionID = %q", rec.SessionID)
	}
	if rec.User.Email != "ana@example.com" || rec.User.Role != domain.RoleCustomer {
		t.Errorf("User = %+v", rec.User)
	}
	if !rec.DeviceTrusted || !rec.RememberMe {
		t.Error("trust and remember-me flags lost in translation")
	}
	if !rec.AccessExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("AccessExpiresAt = %v", rec.AccessExpiresAt)
	}
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		message  string
		sentinel error
		class    domain.FailureClass
	}{
		{
			name:     "wrong password",
			status:   http.StatusUnauthorized,
			code:     CodeInvalidCredentials,
			message:  "invalid credentials",
			sentinel: domain.ErrInvalidCredentials,
			class:    domain.FailureInvalid,
		},
		{
			name:     "locked account",
			status:   http.StatusForbidden,
			code:     CodeAccountLocked,
			message:  "account locked",
			sentinel: domain.ErrAccountLocked,
			class:    domain.FailureUnauthorized,
		},
		{
			name:     "two-factor challenge",
			status:   http.StatusUnauthorized,
			code:     CodeTwoFactorRequired,
			message:  "two-factor code required",
			sentinel: domain.ErrTwoFactorRequired,
			class:    domain.FailureInvalid,
		},
		{
			name:     "bad two-factor code",
			status:   http.StatusUnauthorized,
			code:     CodeInvalidTwoFactorCode,
			message:  "invalid two-factor code",
			sentinel: domain.ErrInvalidTwoFactorCode,
			class:    domain.FailureInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, tt.status, errorPayload{Error: tt.message, Code: tt.code})
			}))
			defer server.Close()

			client := New(server.URL, server.Client(), nil)
			_, err := client.Login(context.Background(), LoginRequest{Email: "ana@example.com", Password: "wrong"})
			if err == nil {
				t.Fatal("Login() succeeded, want error")
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.sentinel)
			}
			if got := Classify(err); got != tt.class {
				t.Errorf("Classify() = %v, want %v", got, tt.class)
			}
		})
	}
}

func TestLoginTwoFactorClassifiedBySentinel(t *testing.T) {
	// The two-factor challenge is an APIError like any other; what makes it
	// special is that the orchestrator surfaces it to the UI rather than
	// treating the login as dead. errors.Is is the contract for that.
	err := error(&APIError{Status: http.StatusUnauthorized, Code: CodeTwoFactorRequired, Message: "code required"})
	if !errors.Is(err, domain.ErrTwoFactorRequired) {
		t.Error("two-factor APIError does not match ErrTwoFactorRequired")
	}
	if errors.Is(err, domain.ErrInvalidCredentials) {
		t.Error("two-factor APIError also matches ErrInvalidCredentials")
	}
}

func TestRefresh(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathRefresh {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("refresh must not carry a bearer token, got %q", auth)
		}
		var req RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.RefreshToken == "" || req.SessionID != "sess-1" {
			t.Errorf("unexpected refresh request: %+v", req)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"access_token":       mintToken(t, now.Add(30*time.Minute)),
			"refresh_token":      mintToken(t, now.Add(7*24*time.Hour)),
			"access_expires_at":  now.Add(30 * time.Minute),
			"refresh_expires_at": now.Add(7 * 24 * time.Hour),
		})
	}))
	defer server.Close()

	client := New(server.URL, server.Client(), nil)
	renewed, err := client.Refresh(context.Background(), mintToken(t, now.Add(time.Hour)), "sess-1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if renewed.AccessToken == "" || renewed.RefreshToken == "" {
		t.Error("renewed pair has empty tokens")
	}
	if !renewed.AccessExpiresAt.Before(renewed.RefreshExpiresAt) {
		t.Error("renewed expiries out of order")
	}
}

func TestRefreshRejectsMalformedTokens(t *testing.T) {
	now := time.Now().UTC()

	// A 200 whose body carries tokens that cannot possibly work is fatal,
	// not retryable: the server is confused, and retrying the same exchange
	// will not unconfuse it.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"access_token":       "garbage",
			"refresh_token":      "also-garbage",
			"access_expires_at":  now.Add(30 * time.Minute),
			"refresh_expires_at": now.Add(7 * 24 * time.Hour),
		})
	}))
	defer server.Close()

	client := New(server.URL, server.Client(), nil)
	_, err := client.Refresh(context.Background(), mintToken(t, now.Add(time.Hour)), "sess-1")
	if err == nil {
		t.Fatal("Refresh() accepted malformed tokens")
	}
	if !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
	if got := Classify(err); got != domain.FailureInvalid {
		t.Errorf("Classify() = %v, want invalid", got)
	}
}

func TestRefreshFailureCodes(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		class domain.FailureClass
	}{
		{"expired session", CodeSessionExpired, domain.FailureExpired},
		{"revoked session", CodeSessionRevoked, domain.FailureRevoked},
		{"reused token", CodeTokenReused, domain.FailureRevoked},
		{"invalid token", CodeInvalidToken, domain.FailureInvalid},
		{"rate limited", CodeRateLimited, domain.FailureTransient},
		{"server error", CodeServerError, domain.FailureTransient},
	}

	now := time.Now().UTC()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, http.StatusUnauthorized, errorPayload{Error: tt.name, Code: tt.code})
			}))
			defer server.Close()

			client := New(server.URL, server.Client(), nil)
			_, err := client.Refresh(context.Background(), mintToken(t, now.Add(time.Hour)), "sess-1")
			if err == nil {
				t.Fatal("Refresh() succeeded, want error")
			}
			if got := Classify(err); got != tt.class {
				t.Errorf("Classify() = %v, want %v", got, tt.class)
			}
		})
	}
}

func TestStatusFallbackWhenBodyUnreadable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		class  domain.FailureClass
	}{
		{"bare 503", http.StatusServiceUnavailable, "upstream down", domain.FailureTransient},
		{"bare 429", http.StatusTooManyRequests, "slow down", domain.FailureTransient},
		{"bare 401", http.StatusUnauthorized, "unauthorized", domain.FailureUnauthorized},
		{"bare 400", http.StatusBadRequest, "bad request", domain.FailureInvalid},
	}

	now := time.Now().UTC()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := New(server.URL, server.Client(), nil)
			_, err := client.Refresh(context.Background(), mintToken(t, now.Add(time.Hour)), "sess-1")
			if err == nil {
				t.Fatal("Refresh() succeeded, want error")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.Status != tt.status || apiErr.Code != "" {
				t.Errorf("APIError = %+v", apiErr)
			}
			if got := Classify(err); got != tt.class {
				t.Errorf("Classify() = %v, want %v", got, tt.class)
			}
		})
	}
}

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "connection reset" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestClassifyLocalErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class domain.FailureClass
	}{
		{"network error", fmt.Errorf("request failed: %w", &fakeNetError{}), domain.FailureTransient},
		{"timeout", fmt.Errorf("request failed: %w", &fakeNetError{timeout: true}), domain.FailureTransient},
		{"deadline exceeded", context.DeadlineExceeded, domain.FailureTransient},
		{"canceled", context.Canceled, domain.FailureTransient},
		{"structurally invalid token", fmt.Errorf("refresh response: %w", domain.ErrInvalidToken), domain.FailureInvalid},
		{"unknown error", errors.New("mystery"), domain.FailureTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.class {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.class)
			}
		})
	}
}

func TestBearerEndpoints(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	access := mintToken(t, now.Add(30*time.Minute))

	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case pathSessions:
			writeJSON(t, w, http.StatusOK, sessionsPayload{Sessions: []sessionSummaryPayload{{
				SessionID: "sess-1",
				DeviceID:  "dev-1",
				Platform:  "ios",
				IsCurrent: true,
				ExpiresAt: now.Add(24 * time.Hour),
			}}})
		default:
			writeJSON(t, w, http.StatusOK, map[string]string{"status": "ok"})
		}
	}))
	defer server.Close()

	client := New(server.URL, server.Client(), nil)
	ctx := context.Background()

	if err := client.Logout(ctx, access, "sess-1"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if gotPath != pathLogout || gotAuth != "Bearer "+access {
		t.Errorf("Logout sent %s with auth %q", gotPath, gotAuth)
	}

	if err := client.LogoutAll(ctx, access); err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}
	if gotPath != pathLogoutAll || gotAuth != "Bearer "+access {
		t.Errorf("LogoutAll sent %s with auth %q", gotPath, gotAuth)
	}

	sessions, err := client.ListSessions(ctx, access)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if gotPath != pathSessions || gotAuth != "Bearer "+access {
		t.Errorf("ListSessions sent %s with auth %q", gotPath, gotAuth)
	}
	if len(sessions) != 1 || sessions[0].Platform != domain.PlatformIOS || !sessions[0].IsCurrent {
		t.Errorf("sessions = %+v", sessions)
	}

	if err := client.EnableBiometric(ctx, access, EnableBiometricRequest{
		SessionID: "sess-1",
		Device:    &domain.DeviceFingerprint{DeviceID: "dev-1", Platform: domain.PlatformIOS, TrustScore: 1.0},
	}); err != nil {
		t.Fatalf("EnableBiometric() error = %v", err)
	}
	if gotPath != pathBiometricEnable || gotAuth != "Bearer "+access {
		t.Errorf("EnableBiometric sent %s with auth %q", gotPath, gotAuth)
	}
}
