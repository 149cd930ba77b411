// Package authtest is an in-process fake of the remote auth service. It
// implements the full wire contract the client depends on, with real JWT
// minting, rotating single-use refresh tokens, TOTP two-factor challenges,
// login lockout, and per-IP rate limiting, so client behavior can be tested
// against honest server semantics instead of canned responses. The demo
// binary embeds it too; nothing in it is safe for production use.
package authtest

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/tendant/simple-session/internal/httputil"
	"github.com/tendant/simple-session/pkg/authclient"
	"github.com/tendant/simple-session/pkg/domain"
)

// Defaults applied by NewServer.
const (
	DefaultAccessTTL          = 30 * time.Minute
	DefaultRefreshTTL         = 7 * 24 * time.Hour
	DefaultSessionTTL         = 7 * 24 * time.Hour
	DefaultRememberSessionTTL = 30 * 24 * time.Hour

	maxFailedLogins = 5
	lockoutDuration = 15 * time.Minute

	maxRequestBody = 1 << 20
)

// User is an account seeded into the fake service. AddUser hashes the
// password and keeps only the hash.
type User struct {
	ID       string
	Email    string
	Password string
	Name     string
	Role     domain.Role

	passwordHash string

	// totpSecret, when set, makes login demand a two-factor code.
	totpSecret string
}

// session is the server-side session state. Refresh tokens rotate: only the
// JTI recorded here is redeemable, and presenting a burned one revokes the
// whole session.
type session struct {
	id         string
	userEmail  string
	deviceID   string
	platform   domain.Platform
	userAgent  string
	ip         string
	refreshJTI string
	usedJTIs   map[string]bool

	createdAt    time.Time
	lastActivity time.Time
	expiresAt    time.Time

	rememberMe       bool
	deviceTrusted    bool
	biometricEnabled bool
	revoked          bool
}

// Config configures the fake service. Zero values get defaults; Now lets
// tests drive the clock.
type Config struct {
	Logger *slog.Logger
	Now    func() time.Time

	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	SessionTTL         time.Duration
	RememberSessionTTL time.Duration

	// LoginRateLimit is logins allowed per IP per minute; zero disables
	// rate limiting.
	LoginRateLimit int
}

// Server is the fake auth service. It is an http.Handler; wrap it in
// httptest.NewServer or mount it wherever a real service would live.
type Server struct {
	logger  *slog.Logger
	now     func() time.Time
	handler http.Handler

	accessTTL          time.Duration
	refreshTTL         time.Duration
	sessionTTL         time.Duration
	rememberSessionTTL time.Duration

	signingKey []byte

	mu           sync.Mutex
	users        map[string]*User
	sessions     map[string]*session
	failedLogins map[string]int
	lockedUntil  map[string]time.Time

	loginCalls     int
	refreshCalls   int
	biometricCalls int
}

// NewServer creates a fake auth service with a random signing key.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.RememberSessionTTL <= 0 {
		cfg.RememberSessionTTL = DefaultRememberSessionTTL
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("authtest: failed to generate signing key: %v", err))
	}

	s := &Server{
		logger:             cfg.Logger,
		now:                cfg.Now,
		accessTTL:          cfg.AccessTTL,
		refreshTTL:         cfg.RefreshTTL,
		sessionTTL:         cfg.SessionTTL,
		rememberSessionTTL: cfg.RememberSessionTTL,
		signingKey:         key,
		users:              make(map[string]*User),
		sessions:           make(map[string]*session),
		failedLogins:       make(map[string]int),
		lockedUntil:        make(map[string]time.Time),
	}
	s.handler = s.routes(cfg.LoginRateLimit)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes(loginRateLimit int) http.Handler {
	r := chi.NewRouter()
	r.Use(requestSizeLimit(maxRequestBody))

	r.Group(func(r chi.Router) {
		if loginRateLimit > 0 {
			r.Use(httprate.Limit(
				loginRateLimit,
				time.Minute,
				httprate.WithLimitHandler(func(w http.ResponseWriter, req *http.Request) {
					s.logger.Warn("rate limit exceeded",
						"ip", req.RemoteAddr,
						"path", req.URL.Path,
						"method", req.Method,
					)
					httputil.Error(w, http.StatusTooManyRequests,
						authclient.CodeRateLimited, "rate limit exceeded. please try again later")
				}),
			))
		}
		r.Post("/v1/auth/login", s.handleLogin)
	})

	r.Post("/v1/auth/refresh", s.handleRefresh)
	r.Post("/v1/auth/biometric/login", s.handleBiometricLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/v1/auth/biometric/enable", s.handleBiometricEnable)
		r.Post("/v1/auth/logout", s.handleLogout)
		r.Post("/v1/auth/logout/all", s.handleLogoutAll)
		r.Get("/v1/auth/sessions", s.handleListSessions)
	})

	return r
}

// requestSizeLimit bounds request bodies to prevent memory exhaustion.
func requestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// normalizeEmail lowercases and trims so lookups match however the address
// was typed.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AddUser seeds an account. Existing accounts with the same email are
// replaced.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = normalizeEmail(u.Email)
	u.passwordHash = hashPassword(u.Password)
	u.Password = ""
	s.users[u.Email] = &u
}

// RequireTOTP enrolls the user in two-factor auth and returns the shared
// secret so tests can compute valid codes.
func (s *Server) RequireTOTP(email string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "authtest",
		AccountName: email,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[normalizeEmail(email)]
	if !ok {
		return "", fmt.Errorf("no such user: %s", email)
	}
	u.totpSecret = key.Secret()
	return key.Secret(), nil
}

// Counters for test assertions.

func (s *Server) LoginCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls
}

func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func (s *Server) BiometricCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.biometricCalls
}

// SessionAlive reports whether a session exists, is unrevoked, and has not
// passed its server-side expiry.
func (s *Server) SessionAlive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return ok && !sess.revoked && s.now().Before(sess.expiresAt)
}

// ActiveSessions counts the user's live sessions.
func (s *Server) ActiveSessions(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.userEmail == email && !sess.revoked && s.now().Before(sess.expiresAt) {
			n++
		}
	}
	return n
}

// BiometricEnabled reports whether biometric login is registered for the
// session.
func (s *Server) BiometricEnabled(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return ok && sess.biometricEnabled
}
