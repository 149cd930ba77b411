// Package authclient is the typed HTTP client for the auth service. It owns
// the wire contract: request and response shapes, bearer headers, and the
// mapping from error payloads to domain errors. Nothing here retries or
// persists; that is the refresh coordinator's and the store's business.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tendant/simple-session/pkg/domain"
	"github.com/tendant/simple-session/pkg/token"
)

// Endpoint paths under the service base URL.
const (
	pathLogin           = "/v1/auth/login"
	pathRefresh         = "/v1/auth/refresh"
	pathBiometricLogin  = "/v1/auth/biometric/login"
	pathBiometricEnable = "/v1/auth/biometric/enable"
	pathLogout          = "/v1/auth/logout"
	pathLogoutAll       = "/v1/auth/logout/all"
	pathSessions        = "/v1/auth/sessions"
)

// Client calls the auth service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for the service at baseURL. A nil httpClient gets a
// default with a 10 second timeout.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Login exchanges credentials for a full session. The returned record has
// already passed structural validation.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*domain.SessionRecord, error) {
	var payload sessionPayload
	if err := c.do(ctx, http.MethodPost, pathLogin, "", req, &payload); err != nil {
		return nil, err
	}

	rec := payload.toRecord(time.Now())
	if err := token.ValidateRecord(rec); err != nil {
		return nil, fmt.Errorf("login response: %w", err)
	}
	return rec, nil
}

// Refresh exchanges a refresh token for a renewed pair. Refresh tokens are
// single use; on success the old one is dead on the server side.
func (c *Client) Refresh(ctx context.Context, refreshToken, sessionID string) (*domain.RenewedTokens, error) {
	req := RefreshRequest{RefreshToken: refreshToken, SessionID: sessionID}

	var payload renewedPayload
	if err := c.do(ctx, http.MethodPost, pathRefresh, "", req, &payload); err != nil {
		return nil, err
	}

	renewed := payload.toTokens()
	if err := token.ValidateRenewed(renewed); err != nil {
		return nil, fmt.Errorf("refresh response: %w", err)
	}
	return renewed, nil
}

// BiometricLogin rehydrates a session whose tokens expired on this device.
// The server decides: the session must still be alive on its side and the
// device fingerprint must match.
func (c *Client) BiometricLogin(ctx context.Context, req BiometricLoginRequest) (*domain.SessionRecord, error) {
	var payload sessionPayload
	if err := c.do(ctx, http.MethodPost, pathBiometricLogin, "", req, &payload); err != nil {
		return nil, err
	}

	rec := payload.toRecord(time.Now())
	if err := token.ValidateRecord(rec); err != nil {
		return nil, fmt.Errorf("biometric login response: %w", err)
	}
	return rec, nil
}

// EnableBiometric registers this device for biometric login.
func (c *Client) EnableBiometric(ctx context.Context, accessToken string, req EnableBiometricRequest) error {
	return c.do(ctx, http.MethodPost, pathBiometricEnable, accessToken, req, nil)
}

// Logout ends one server-side session.
func (c *Client) Logout(ctx context.Context, accessToken, sessionID string) error {
	return c.do(ctx, http.MethodPost, pathLogout, accessToken, LogoutRequest{SessionID: sessionID}, nil)
}

// LogoutAll revokes every session belonging to the authenticated user, on
// every device.
func (c *Client) LogoutAll(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, pathLogoutAll, accessToken, nil, nil)
}

// ListSessions returns the user's active sessions across devices.
func (c *Client) ListSessions(ctx context.Context, accessToken string) ([]domain.SessionSummary, error) {
	var payload sessionsPayload
	if err := c.do(ctx, http.MethodGet, pathSessions, accessToken, nil, &payload); err != nil {
		return nil, err
	}

	summaries := make([]domain.SessionSummary, 0, len(payload.Sessions))
	for i := range payload.Sessions {
		summaries = append(summaries, payload.Sessions[i].toSummary())
	}
	return summaries, nil
}

// do performs one JSON request/response exchange. Statuses of 400 and above
// become an *APIError carrying the payload's code when the body is readable,
// and just the status when it is not.
func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		apiErr.Message = resp.Status
		return apiErr
	}

	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		c.logger.Debug("auth service returned an unreadable error body",
			"status", resp.StatusCode)
		apiErr.Message = resp.Status
		return apiErr
	}

	apiErr.Code = payload.Code
	apiErr.Message = payload.Error
	return apiErr
}
