// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/jeranaias/personachat/internal/config"
	"github.com/jeranaias/personachat/internal/kvstore"
	"github.com/jeranaias/personachat/internal/logging"
	"github.com/jeranaias/personachat/internal/model"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds configuration for the session manager.
type Config struct {
	// BaseURL is the backend API root, without a trailing slash.
	BaseURL string

	// RequestTimeout bounds each HTTP round trip (default: 60 seconds).
	RequestTimeout time.Duration

	// RefreshInterval is the proactive refresh cadence (default: 12 minutes,
	// for 15 minute access tokens).
	RefreshInterval time.Duration

	// RefreshTimeout bounds a single refresh call, independent of the
	// contexts of the callers waiting on it (default: 15 seconds).
	RefreshTimeout time.Duration

	// RequestsPerSecond limits outgoing calls. Zero disables the limit.
	RequestsPerSecond float64
	Burst             int

	// TOTPSecret, when set, is used to generate a login code.
	TOTPSecret string
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://127.0.0.1:8787",
		RequestTimeout:  60 * time.Second,
		RefreshInterval: 12 * time.Minute,
		RefreshTimeout:  15 * time.Second,
	}
}

// ConfigFrom builds a session Config from the application configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		BaseURL:           strings.TrimRight(cfg.API.BaseURL, "/"),
		RequestTimeout:    cfg.API.RequestTimeout.Duration,
		RefreshInterval:   cfg.Auth.RefreshInterval.Duration,
		RefreshTimeout:    cfg.Auth.RefreshTimeout.Duration,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		TOTPSecret:        cfg.Auth.TOTPSecret,
	}
}

// =============================================================================
// SESSION VIEW
// =============================================================================

// Session is a point-in-time view of the stored session.
type Session struct {
	AccessToken     string
	RefreshToken    string
	User            *model.UserProfile
	AccessExpiresAt time.Time // zero when the token carries no exp claim
	WorkspaceID     string
	WorkspaceName   string
}

// Authenticated reports whether an access token is present.
func (s Session) Authenticated() bool {
	return s.AccessToken != ""
}

// Navigator moves the user to the login surface after a forced logout.
type Navigator interface {
	ToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

// ToLogin implements Navigator.
func (f NavigatorFunc) ToLogin() { f() }

// =============================================================================
// SESSION MANAGER
// =============================================================================

const refreshKey = "refresh"

// Manager owns the session tokens. All mutable state lives on the instance.
type Manager struct {
	cfg       Config
	tokens    *kvstore.Typed
	client    *http.Client
	limiter   *rate.Limiter
	validate  *validator.Validate
	navigator Navigator
	logger    *zap.Logger

	// refreshes collapses concurrent Refresh calls into one network call.
	refreshes singleflight.Group

	mu         sync.Mutex
	loopCancel context.CancelFunc
	onLogout   []func(error)

	// endMu serializes forced logouts so one session ends once.
	endMu sync.Mutex
}

// NewManager creates a session manager over store.
func NewManager(cfg Config, store kvstore.Store) *Manager {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaults.RefreshTimeout
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &Manager{
		cfg:       cfg,
		tokens:    kvstore.NewTyped(store),
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter:   rate.NewLimiter(limit, burst),
		validate:  validator.New(),
		navigator: NavigatorFunc(func() {}),
		logger:    zap.NewNop(),
	}
}

// WithHTTPClient sets the HTTP client used for every call.
func (m *Manager) WithHTTPClient(c *http.Client) *Manager {
	m.client = c
	return m
}

// WithNavigator sets the forced-logout navigation hook.
func (m *Manager) WithNavigator(n Navigator) *Manager {
	if n != nil {
		m.navigator = n
	}
	return m
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(l *zap.Logger) *Manager {
	m.logger = logging.OrNop(l)
	return m
}

// OnLogout registers a callback run after a forced logout clears the session.
func (m *Manager) OnLogout(fn func(reason error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = append(m.onLogout, fn)
}

// BaseURL returns the API root.
func (m *Manager) BaseURL() string {
	return m.cfg.BaseURL
}

// HTTPClient returns the client used for backend calls. Uploads to presigned
// URLs reuse it without auth headers.
func (m *Manager) HTTPClient() *http.Client {
	return m.client
}

// =============================================================================
// SESSION STATE
// =============================================================================

// Snapshot returns the current session as stored.
func (m *Manager) Snapshot() Session {
	var s Session
	s.AccessToken, _ = m.tokens.AccessToken()
	s.RefreshToken, _ = m.tokens.RefreshToken()
	s.User, _ = m.tokens.User()
	s.WorkspaceID, s.WorkspaceName, _ = m.tokens.Workspace()
	s.AccessExpiresAt = TokenExpiry(s.AccessToken)
	return s
}

// CurrentUserID returns the signed-in user's id, or "".
func (m *Manager) CurrentUserID() string {
	u, err := m.tokens.User()
	if err != nil || u == nil {
		return ""
	}
	return u.ID
}

// SetWorkspace selects the workspace sent on every request.
func (m *Manager) SetWorkspace(id, name string) error {
	return m.tokens.SetWorkspace(id, name)
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// The client never holds signing keys; the server remains the authority.
func TokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// =============================================================================
// REFRESH
// =============================================================================

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken" validate:"required"`
	RefreshToken string `json:"refreshToken"`
}

// Refresh exchanges the stored refresh token for a new access token.
//
// Concurrent callers share one in-flight call and observe the same outcome.
// The call itself runs detached from any one caller, bounded by
// RefreshTimeout; each caller still stops waiting when its own ctx ends.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	ch := m.refreshes.DoChan(refreshKey, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RefreshTimeout)
		defer cancel()
		return m.refresh(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// refresh performs the network call. Stored tokens are only touched on success.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	refreshToken, err := m.tokens.RefreshToken()
	if err != nil {
		return "", err
	}
	if refreshToken == "" {
		return "", &AuthError{Reason: ReasonNoRefreshToken}
	}

	var out refreshResponse
	status, err := m.postJSON(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, "", &out)
	if err != nil {
		if status == 0 {
			m.logger.Warn("refresh unreachable", zap.Error(err))
			return "", fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
		}
		m.logger.Info("refresh rejected", zap.Int("status", status), logging.Token("refresh", refreshToken))
		return "", &AuthError{Reason: ReasonRefreshRejected, Status: status, Err: err}
	}
	if err := m.validate.Struct(out); err != nil {
		return "", &AuthError{Reason: ReasonInvalidResponse, Status: status, Err: err}
	}

	if err := m.tokens.SetTokens(out.AccessToken, out.RefreshToken); err != nil {
		return "", fmt.Errorf("persist refreshed tokens: %w", err)
	}

	m.logger.Debug("token refreshed",
		logging.Token("access", out.AccessToken),
		zap.Bool("rotated", out.RefreshToken != ""),
		zap.Time("expires_at", TokenExpiry(out.AccessToken)),
	)
	return out.AccessToken, nil
}

// postJSON sends an unauthenticated JSON POST. status is 0 when no response
// arrived. A non-2xx response returns its status and a descriptive error.
func (m *Manager) postJSON(ctx context.Context, path string, in any, bearer string, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, errors.New(errorMessage(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// =============================================================================
// AUTHENTICATED REQUESTS
// =============================================================================

// Do sends r with the stored credentials.
//
// A 401, or a 500 whose error message says the token is invalid or expired,
// triggers one refresh and one retry. If the refresh fails with an AuthError
// the session is cleared, the refresh loop stopped, the Navigator sent to
// login, and the AuthError returned. A failing retry is returned as an
// ordinary response.
func (m *Manager) Do(ctx context.Context, r *Request) (*http.Response, error) {
	resp, usedToken, err := m.send(ctx, r)
	if err != nil {
		return nil, err
	}

	retry, err := needsRefresh(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	if !retry {
		return resp, nil
	}
	discard(resp)

	// Another caller may already have refreshed while this request was in flight.
	current, _ := m.tokens.AccessToken()
	if current == "" {
		// The session was already ended, by a concurrent forced logout or
		// elsewhere. Without a refresh token there is nothing left to end.
		if rt, _ := m.tokens.RefreshToken(); rt == "" {
			return nil, &AuthError{Reason: ReasonNoRefreshToken}
		}
	}
	if current == "" || current == usedToken {
		if _, err := m.Refresh(ctx); err != nil {
			if IsAuthError(err) {
				m.forceLogout(err)
			}
			return nil, err
		}
	}

	m.logger.Debug("retrying after refresh", zap.String("method", r.Method), zap.String("path", r.Path))
	resp, _, err = m.send(ctx, r)
	return resp, err
}

// send builds and issues one attempt of r, returning the token it carried.
func (m *Manager) send(ctx context.Context, r *Request) (*http.Response, string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, m.cfg.BaseURL+r.Path, body)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	token, err := m.tokens.AccessToken()
	if err != nil {
		return nil, "", err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if ws, err := m.tokens.WorkspaceID(); err == nil && ws != "" {
		req.Header.Set("x-workspace-id", ws)
	}

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, token, err
	}
	m.logger.Debug("request",
		zap.String("method", r.Method),
		zap.String("path", r.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("request_id", req.Header.Get("X-Request-ID")),
	)
	return resp, token, nil
}

// forceLogout ends the session after an irrecoverable refresh failure. Callers
// that lose the race to a logout already in progress do nothing.
func (m *Manager) forceLogout(reason error) {
	m.endMu.Lock()
	access, _ := m.tokens.AccessToken()
	refresh, _ := m.tokens.RefreshToken()
	if access == "" && refresh == "" {
		m.endMu.Unlock()
		m.logger.Debug("session already ended", zap.Error(reason))
		return
	}
	m.logger.Warn("session ended", zap.Error(reason))
	if err := m.tokens.Clear(); err != nil {
		m.logger.Error("failed to clear session", zap.Error(err))
	}
	m.endMu.Unlock()
	m.Stop()

	m.mu.Lock()
	callbacks := append([]func(error){}, m.onLogout...)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(reason)
	}

	m.navigator.ToLogin()
}

// =============================================================================
// PROACTIVE REFRESH LOOP
// =============================================================================

// Start arms the proactive refresh loop. Calling Start again replaces the
// running loop.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel

	go m.loop(ctx)
}

// Stop tears down the proactive refresh loop. It is safe to call when the
// loop is not running.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.loopCancel != nil {
		m.loopCancel()
		m.loopCancel = nil
	}
}

// Running reports whether the proactive loop is armed.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loopCancel != nil
}

func (m *Manager) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.proactiveRefresh(ctx)
		}
	}
}

// proactiveRefresh refreshes when both tokens are present. Failures are
// logged and never end the session.
func (m *Manager) proactiveRefresh(ctx context.Context) {
	access, _ := m.tokens.AccessToken()
	refresh, _ := m.tokens.RefreshToken()
	if access == "" || refresh == "" {
		return
	}
	if _, err := m.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("proactive refresh failed", zap.Error(err))
	}
}
