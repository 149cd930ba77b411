// Package refresh owns the token-refresh protocol: single-flight execution,
// retry with backoff, failure classification, and session teardown on
// unrecoverable failure. Refresh tokens rotate on every use, so two
// overlapping refresh calls would invalidate each other's result; the
// coordinator is the choke point that makes that impossible.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/simple-session/pkg/authclient"
	"github.com/tendant/simple-session/pkg/domain"
	"github.com/tendant/simple-session/pkg/store"
	"github.com/tendant/simple-session/pkg/token"
)

// Defaults applied by New.
const (
	DefaultDebounce       = 500 * time.Millisecond
	DefaultMaxAttempts    = 3
	DefaultBackoffBase    = time.Second
	DefaultAttemptTimeout = 10 * time.Second
)

// Remote is the slice of the auth service the coordinator needs.
// *authclient.Client satisfies it.
type Remote interface {
	Refresh(ctx context.Context, refreshToken, sessionID string) (*domain.RenewedTokens, error)
}

// Config configures a Coordinator. Remote and Store are required; zero
// values elsewhere get defaults.
type Config struct {
	Remote Remote
	Store  *store.Store
	Logger *slog.Logger

	// Debounce coalesces a refresh request into the previous flight when it
	// arrives within this window of that flight's start.
	Debounce time.Duration

	// MaxAttempts bounds remote calls per flight, counting the first.
	MaxAttempts int

	// BackoffBase is the delay before the second attempt; it doubles for
	// each attempt after that.
	BackoffBase time.Duration

	// AttemptTimeout bounds each individual remote call.
	AttemptTimeout time.Duration

	// Now is the clock, for tests.
	Now func() time.Time
}

// flight is one owned refresh execution. Callers hold a reference and wait
// on done; the runner goroutine is the only writer of rec and err.
type flight struct {
	gen   uint64
	start time.Time
	done  chan struct{}
	rec   *domain.SessionRecord
	err   error
}

// Coordinator serializes refreshes against the session store.
type Coordinator struct {
	remote         Remote
	store          *store.Store
	logger         *slog.Logger
	now            func() time.Time
	debounce       time.Duration
	maxAttempts    int
	backoffBase    time.Duration
	attemptTimeout time.Duration

	mu         sync.Mutex
	generation uint64
	inflight   *flight
	last       *flight
}

// New creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		remote:         cfg.Remote,
		store:          cfg.Store,
		logger:         cfg.Logger,
		now:            cfg.Now,
		debounce:       cfg.Debounce,
		maxAttempts:    cfg.MaxAttempts,
		backoffBase:    cfg.BackoffBase,
		attemptTimeout: cfg.AttemptTimeout,
	}, nil
}

// EnsureValid returns a session record whose access token is good for at
// least the refresh window, refreshing first when it is not. Returns
// domain.ErrNoSession when nothing is stored.
func (c *Coordinator) EnsureValid(ctx context.Context) (*domain.SessionRecord, error) {
	rec, err := c.store.Current(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrNoSession
	}
	if !rec.NeedsRefresh(c.now()) {
		return rec, nil
	}
	return c.Refresh(ctx)
}

// Refresh obtains a renewed token pair, joining the in-flight refresh when
// one exists. The flight itself runs detached from any caller's context:
// a caller that gives up waiting does not abort the exchange for everyone
// else, it just stops listening.
func (c *Coordinator) Refresh(ctx context.Context) (*domain.SessionRecord, error) {
	c.mu.Lock()

	if f := c.inflight; f != nil {
		c.mu.Unlock()
		return c.await(ctx, f)
	}

	// A request landing right behind a finished flight is the same burst of
	// screens waking up together; hand it the result it just missed.
	if f := c.last; f != nil && c.now().Sub(f.start) < c.debounce {
		c.mu.Unlock()
		return c.await(ctx, f)
	}

	f := &flight{
		gen:   c.generation,
		start: c.now(),
		done:  make(chan struct{}),
	}
	c.inflight = f
	c.mu.Unlock()

	go c.run(f)
	return c.await(ctx, f)
}

// Invalidate discards any in-flight refresh result. Callers that replace or
// destroy the session (logout, new login) bump the generation first so a
// racing flight cannot write a record for a session that no longer exists.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.last = nil
}

func (c *Coordinator) await(ctx context.Context, f *flight) (*domain.SessionRecord, error) {
	select {
	case <-f.done:
		return f.rec, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run executes one flight to completion and publishes its result.
func (c *Coordinator) run(f *flight) {
	rec, err := c.execute(f)

	f.rec = rec
	f.err = err

	c.mu.Lock()
	c.inflight = nil
	c.last = f
	c.mu.Unlock()

	close(f.done)
}

func (c *Coordinator) execute(f *flight) (*domain.SessionRecord, error) {
	ctx := context.Background()

	rec, err := c.store.Current(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrNoSession
	}

	// Pre-flight guards. A refresh token that is locally expired or that the
	// server could never parse is dead on arrival; spending network attempts
	// on it only delays the forced re-login.
	if rec.Expired(c.now()) {
		c.fail(ctx, "refresh token expired")
		return nil, domain.ErrSessionExpired
	}
	if err := token.Validate(rec.RefreshToken); err != nil {
		c.fail(ctx, "refresh token structurally invalid")
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(c.backoffBase << (attempt - 2))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		renewed, err := c.remote.Refresh(attemptCtx, rec.RefreshToken, rec.SessionID)
		cancel()

		if err == nil {
			return c.persist(ctx, f, rec.WithRenewedTokens(renewed))
		}

		class := authclient.Classify(err)
		if !class.Retryable() {
			c.logger.Warn("refresh rejected",
				"session_id", rec.SessionID, "class", string(class), "error", err)
			c.fail(ctx, "refresh rejected by server")
			return nil, fmt.Errorf("refresh rejected: %w", err)
		}

		c.logger.Warn("refresh attempt failed",
			"session_id", rec.SessionID, "attempt", attempt, "error", err)
		lastErr = err
	}

	// Out of attempts. The session may well be fine on the server, but the
	// client cannot keep presenting a token it was unable to rotate.
	c.fail(ctx, "refresh attempts exhausted")
	return nil, fmt.Errorf("refresh failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// persist writes the renewed record unless the world changed while the
// flight was out: a logout or new login bumps the generation or swaps the
// stored session, and a stale result must be dropped, not written back.
func (c *Coordinator) persist(ctx context.Context, f *flight, next *domain.SessionRecord) (*domain.SessionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f.gen != c.generation {
		c.logger.Info("discarding refresh result, session superseded",
			"session_id", next.SessionID)
		return nil, domain.ErrNoSession
	}

	cur, err := c.store.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.SessionID != next.SessionID {
		c.logger.Info("discarding refresh result, stored session changed",
			"session_id", next.SessionID)
		return nil, domain.ErrNoSession
	}

	if err := c.store.Save(ctx, next); err != nil {
		return nil, err
	}

	c.logger.Debug("session refreshed",
		"session_id", next.SessionID,
		"access_expires_at", next.AccessExpiresAt)
	return next, nil
}

// fail tears down the stored session. Every path that reports Failed ends
// here; an unusable session must never linger.
func (c *Coordinator) fail(ctx context.Context, reason string) {
	c.logger.Warn("clearing session", "reason", reason)
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("failed to clear session", "error", err)
	}
}
