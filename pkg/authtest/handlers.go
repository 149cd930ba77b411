package authtest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/tendant/simple-session/internal/httputil"
	"github.com/tendant/simple-session/pkg/authclient"
	"github.com/tendant/simple-session/pkg/token"
)

// Response shapes mirror the wire contract the client decodes. They are
// declared here rather than shared with the client package so the two sides
// stay honestly decoupled.

type sessionResponse struct {
	AccessToken      string       `json:"access_token"`
	RefreshToken     string       `json:"refresh_token"`
	SessionID        string       `json:"session_id"`
	User             userResponse `json:"user"`
	AccessExpiresAt  time.Time    `json:"access_expires_at"`
	RefreshExpiresAt time.Time    `json:"refresh_expires_at"`
	DeviceTrusted    bool         `json:"device_trusted"`
	RememberMe       bool         `json:"remember_me"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type renewedResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type sessionListResponse struct {
	Sessions []sessionSummaryResponse `json:"sessions"`
}

type sessionSummaryResponse struct {
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

// httpError pairs an HTTP status with the structured code the client keys
// its failure classification on.
type httpError struct {
	status int
	code   string
	msg    string
}

func (e *httpError) write(w http.ResponseWriter) {
	httputil.Error(w, e.status, e.code, e.msg)
}

// decode reads a JSON request body. Bodies over the router's size limit get
// a 413; anything else unreadable gets a 400.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "", "request body too large")
			return false
		}
		httputil.Error(w, http.StatusBadRequest, "", "invalid request body")
		return false
	}
	return true
}

type authContextKey struct{}

type authContext struct {
	user *User
	sess *session
}

// mint signs one token. The returned JTI is what refresh rotation tracks.
func (s *Server) mint(u *User, sess *session, tokenType string, expires time.Time) (string, string, error) {
	jti := uuid.NewString()
	claims := &token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UserID:    u.ID,
		Email:     u.Email,
		Role:      string(u.Role),
		SessionID: sess.id,
		TokenType: tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

type tokenPair struct {
	access     string
	refresh    string
	refreshJTI string
	accessExp  time.Time
	refreshExp time.Time
}

// mintPair mints an access/refresh pair for the session. The refresh token
// never outlives the server-side session; once the session has less life
// left than one access TTL there is no pair worth issuing and the session
// is treated as expired.
func (s *Server) mintPair(u *User, sess *session) (*tokenPair, *httpError) {
	now := s.now()
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)
	if refreshExp.After(sess.expiresAt) {
		refreshExp = sess.expiresAt
	}
	if !accessExp.Before(refreshExp) {
		return nil, &httpError{http.StatusUnauthorized, authclient.CodeSessionExpired, "session expired"}
	}

	access, _, err := s.mint(u, sess, "access", accessExp)
	if err != nil {
		return nil, &httpError{http.StatusInternalServerError, authclient.CodeServerError, "failed to sign access token"}
	}
	refresh, jti, err := s.mint(u, sess, "refresh", refreshExp)
	if err != nil {
		return nil, &httpError{http.StatusInternalServerError, authclient.CodeServerError, "failed to sign refresh token"}
	}
	return &tokenPair{
		access:     access,
		refresh:    refresh,
		refreshJTI: jti,
		accessExp:  accessExp,
		refreshExp: refreshExp,
	}, nil
}

// verifyToken checks signature, expiry, and token type.
func (s *Server) verifyToken(raw, wantType string) (*token.Claims, *httpError) {
	claims := &token.Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &httpError{http.StatusUnauthorized, authclient.CodeSessionExpired, "token expired"}
		}
		return nil, &httpError{http.StatusUnauthorized, authclient.CodeInvalidToken, "invalid token"}
	}
	if claims.TokenType != wantType {
		return nil, &httpError{http.StatusUnauthorized, authclient.CodeInvalidToken, "wrong token type"}
	}
	return claims, nil
}

// liveSession looks up a session and rejects revoked or expired ones.
// Callers must hold s.mu.
func (s *Server) liveSession(id string) (*session, *httpError) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, &httpError{http.StatusUnauthorized, authclient.CodeSessionNotFound, "session not found"}
	}
	if sess.revoked {
		return nil, &httpError{http.StatusUnauthorized, authclient.CodeSessionRevoked, "session revoked"}
	}
	if !s.now().Before(sess.expiresAt) {
		return nil, &httpError{http.StatusUnauthorized, authclient.CodeSessionExpired, "session expired"}
	}
	return sess, nil
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == "" || raw == header {
			httputil.Error(w, http.StatusUnauthorized, authclient.CodeUnauthorized, "missing bearer token")
			return
		}

		claims, herr := s.verifyToken(raw, "access")
		if herr != nil {
			herr.write(w)
			return
		}

		s.mu.Lock()
		sess, herr := s.liveSession(claims.SessionID)
		var user *User
		if herr == nil {
			user = s.users[sess.userEmail]
		}
		s.mu.Unlock()
		if herr != nil {
			herr.write(w)
			return
		}
		if user == nil {
			httputil.Error(w, http.StatusUnauthorized, authclient.CodeUnauthorized, "unknown user")
			return
		}

		ctx := context.WithValue(r.Context(), authContextKey{}, &authContext{user: user, sess: sess})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authclient.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	req.Email = normalizeEmail(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginCalls++
	now := s.now()

	if until, ok := s.lockedUntil[req.Email]; ok {
		if now.Before(until) {
			httputil.Error(w, http.StatusForbidden, authclient.CodeAccountLocked,
				"account temporarily locked due to too many failed login attempts")
			return
		}
		delete(s.lockedUntil, req.Email)
	}

	u, ok := s.users[req.Email]
	if !ok || !verifyPassword(req.Password, u.passwordHash) {
		if ok {
			s.failedLogins[req.Email]++
			if s.failedLogins[req.Email] >= maxFailedLogins {
				s.lockedUntil[req.Email] = now.Add(lockoutDuration)
				delete(s.failedLogins, req.Email)
				httputil.Error(w, http.StatusForbidden, authclient.CodeAccountLocked,
					"account temporarily locked due to too many failed login attempts")
				return
			}
		}
		httputil.Error(w, http.StatusUnauthorized, authclient.CodeInvalidCredentials, "invalid email or password")
		return
	}

	if u.totpSecret != "" {
		if req.TwoFactorCode == "" {
			httputil.Error(w, http.StatusUnauthorized, authclient.CodeTwoFactorRequired, "two-factor code required")
			return
		}
		valid, err := totp.ValidateCustom(req.TwoFactorCode, u.totpSecret, now.UTC(), totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil || !valid {
			httputil.Error(w, http.StatusUnauthorized, authclient.CodeInvalidTwoFactorCode, "invalid two-factor code")
			return
		}
	}

	delete(s.failedLogins, req.Email)
	delete(s.lockedUntil, req.Email)

	ttl := s.sessionTTL
	if req.RememberMe {
		ttl = s.rememberSessionTTL
	}
	sess := &session{
		id:           uuid.NewString(),
		userEmail:    u.Email,
		usedJTIs:     make(map[string]bool),
		createdAt:    now,
		lastActivity: now,
		expiresAt:    now.Add(ttl),
		rememberMe:   req.RememberMe,
		ip:           r.RemoteAddr,
		userAgent:    r.UserAgent(),
	}
	if req.Device != nil {
		sess.deviceID = req.Device.DeviceID
		sess.platform = req.Device.Platform
		sess.deviceTrusted = !req.Device.Compromised()
	}

	pair, herr := s.mintPair(u, sess)
	if herr != nil {
		herr.write(w)
		return
	}
	sess.refreshJTI = pair.refreshJTI
	s.sessions[sess.id] = sess

	s.logger.Info("login", "email", u.Email, "session_id", sess.id, "remember_me", sess.rememberMe)
	s.writeSession(w, u, sess, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authclient.RefreshRequest
	if !decode(w, r, &req) {
		return
	}

	claims, herr := s.verifyToken(req.RefreshToken, "refresh")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshCalls++

	if herr != nil {
		herr.write(w)
		return
	}
	if req.SessionID != "" && req.SessionID != claims.SessionID {
		httputil.Error(w, http.StatusUnauthorized, authclient.CodeInvalidToken, "token does not match session")
		return
	}

	sess, herr := s.liveSession(claims.SessionID)
	if herr != nil {
		herr.write(w)
		return
	}
	u := s.users[sess.userEmail]
	if u == nil {
		httputil.Error(w, http.StatusUnauthorized, authclient.CodeUnauthorized, "unknown user")
		return
	}

	// Rotation: only the most recently issued refresh token is redeemable.
	// Seeing a burned one means the token leaked or the client forked its
	// state, and either way the whole session is torched.
	jti := claims.ID
	switch {
	case jti == sess.refreshJTI:
	case sess.usedJTIs[jti]:
		sess.revoked = true
		s.logger.Warn("refresh token reuse detected", "session_id", sess.id, "email", sess.userEmail)
		httputil.Error(w, http.StatusUnauthorized, authclient.CodeTokenReused, "refresh token reuse detected")
		return
	default:
		httputil.Error(w, http.StatusUnauthorized, authclient.CodeInvalidToken, "unknown refresh token")
		return
	}

	pair, herr := s.mintPair(u, sess)
	if herr != nil {
		herr.write(w)
		return
	}
	sess.usedJTIs[jti] = true
	sess.refreshJTI = pair.refreshJTI
	sess.lastActivity = s.now()

	httputil.JSON(w, http.StatusOK, renewedResponse{
		AccessToken:      pair.access,
		RefreshToken:     pair.refresh,
		AccessExpiresAt:  pair.accessExp,
		RefreshExpiresAt: pair.refreshExp,
	})
}

func (s *Server) handleBiometricLogin(w http.ResponseWriter, r *http.Request) {
	var req authclient.BiometricLoginRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.biometricCalls++

	sess, herr := s.liveSession(req.SessionID)
	if herr != nil {
		herr.write(w)
		return
	}
	u := s.users[sess.userEmail]
	if u == nil || req.UserID != u.ID {
		httputil.Error(w, http.StatusUnauthorized, authclient.CodeUnauthorized, "user does not match session")
		return
	}
	if !sess.biometricEnabled {
		httputil.Error(w, http.StatusUnauthorized, authclient.CodeUnauthorized, "biometric login not enabled for session")
		return
	}
	if req.Device == nil || req.Device.DeviceID != sess.deviceID {
		httputil.Error(w, http.StatusForbidden, authclient.CodeDeviceMismatch, "device does not match session")
		return
	}
	if req.Device.Compromised() {
		httputil.Error(w, http.StatusForbidden, authclient.CodeUnauthorized, "compromised device")
		return
	}

	pair, herr := s.mintPair(u, sess)
	if herr != nil {
		herr.write(w)
		return
	}
	sess.usedJTIs[sess.refreshJTI] = true
	sess.refreshJTI = pair.refreshJTI
	sess.lastActivity = s.now()

	s.logger.Info("biometric login", "email", u.Email, "session_id", sess.id)
	s.writeSession(w, u, sess, pair)
}

func (s *Server) handleBiometricEnable(w http.ResponseWriter, r *http.Request) {
	ac := r.Context().Value(authContextKey{}).(*authContext)

	var req authclient.EnableBiometricRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.SessionID != ac.sess.id {
		httputil.Error(w, http.StatusForbidden, authclient.CodeUnauthorized, "session does not match bearer token")
		return
	}
	if req.Device == nil {
		httputil.Error(w, http.StatusForbidden, authclient.CodeDeviceMismatch, "device fingerprint required")
		return
	}
	if ac.sess.deviceID == "" {
		ac.sess.deviceID = req.Device.DeviceID
		ac.sess.platform = req.Device.Platform
	} else if req.Device.DeviceID != ac.sess.deviceID {
		httputil.Error(w, http.StatusForbidden, authclient.CodeDeviceMismatch, "device does not match session")
		return
	}
	ac.sess.biometricEnabled = true

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ac := r.Context().Value(authContextKey{}).(*authContext)

	var req authclient.LogoutRequest
	if !decode(w, r, &req) {
		return
	}
	target := req.SessionID
	if target == "" {
		target = ac.sess.id
	}

	s.mu.Lock()
	if sess, ok := s.sessions[target]; ok && sess.userEmail == ac.user.Email {
		sess.revoked = true
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ac := r.Context().Value(authContextKey{}).(*authContext)

	s.mu.Lock()
	for _, sess := range s.sessions {
		if sess.userEmail == ac.user.Email {
			sess.revoked = true
		}
	}
	s.mu.Unlock()

	s.logger.Info("all sessions revoked", "email", ac.user.Email)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ac := r.Context().Value(authContextKey{}).(*authContext)

	s.mu.Lock()
	now := s.now()
	var out []sessionSummaryResponse
	for _, sess := range s.sessions {
		if sess.userEmail != ac.user.Email || sess.revoked || !now.Before(sess.expiresAt) {
			continue
		}
		out = append(out, sessionSummaryResponse{
			SessionID:    sess.id,
			DeviceID:     sess.deviceID,
			Platform:     string(sess.platform),
			IPAddress:    sess.ip,
			UserAgent:    sess.userAgent,
			LastActivity: sess.lastActivity,
			CreatedAt:    sess.createdAt,
			ExpiresAt:    sess.expiresAt,
			IsCurrent:    sess.id == ac.sess.id,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})

	httputil.JSON(w, http.StatusOK, sessionListResponse{Sessions: out})
}

func (s *Server) writeSession(w http.ResponseWriter, u *User, sess *session, pair *tokenPair) {
	httputil.JSON(w, http.StatusOK, sessionResponse{
		AccessToken:  pair.access,
		RefreshToken: pair.refresh,
		SessionID:    sess.id,
		User: userResponse{
			ID:    u.ID,
			Email: u.Email,
			Name:  u.Name,
			Role:  string(u.Role),
		},
		AccessExpiresAt:  pair.accessExp,
		RefreshExpiresAt: pair.refreshExp,
		DeviceTrusted:    sess.deviceTrusted,
		RememberMe:       sess.rememberMe,
	})
}
