// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package authclient is the client side of the Kotoba session lifecycle.

A [Manager] keeps the access token and its expiry in memory only. The refresh
token lives in the HTTP client's cookie jar, exactly as a browser would hold
the HttpOnly cookie, so it is never visible to callers.

# Refresh Policy

  - Proactive: a request whose token expires within the skew buffer refreshes first.
  - Reactive: a 401 or 403 triggers one refresh and exactly one retry.
  - Single-flight: concurrent callers share one refresh call and its result.
  - Any refresh failure forces a logout.

# Usage

	manager, err := authclient.New(authclient.Options{BaseURL: "https://api.kotoba.app/api/v1"})
	if err := manager.Init(ctx); err != nil { ... }           // restore an existing session
	request, _ := http.NewRequest(http.MethodGet, manager.URL("me"), nil)
	response, err := manager.Do(ctx, request)
*/
package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"
)

// DefaultSkewBuffer is how long before expiry an access token is considered stale.
const DefaultSkewBuffer = 10 * time.Second

// ErrNotAuthenticated is returned when an operation needs a session and none exists.
var ErrNotAuthenticated = errors.New("authclient: not authenticated")

// # Types

// User is the account returned alongside every access token.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authclient: %d %s: %s", e.Status, e.Code, e.Message)
}

// Options configures a [Manager].
type Options struct {
	// BaseURL is the API root, e.g. "https://api.kotoba.app/api/v1".
	BaseURL string

	// HTTPClient is copied; a cookie jar is installed when it has none.
	HTTPClient *http.Client

	// SkewBuffer defaults to [DefaultSkewBuffer].
	SkewBuffer time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	// OnLogout runs after every logout, voluntary or forced.
	OnLogout func()

	Logger *slog.Logger
}

// Manager owns one client-side session.
type Manager struct {
	baseURL  *url.URL
	client   *http.Client
	skew     time.Duration
	now      func() time.Time
	onLogout func()
	logger   *slog.Logger

	mu     sync.RWMutex
	token  string
	expiry time.Time
	user   *User

	// generation increments on every session change so a slow refresh
	// cannot overwrite or tear down a session that replaced it.
	generation uint64

	refreshes singleflight.Group

	initOnce sync.Once
	initDone chan struct{}
	initErr  error
}

// New builds a [Manager].
func New(options Options) (*Manager, error) {
	baseURL, err := url.Parse(options.BaseURL)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("authclient: invalid base URL %q", options.BaseURL)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	if options.HTTPClient != nil {
		copied := *options.HTTPClient
		client = &copied
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("authclient: cookie jar: %w", err)
		}
		client.Jar = jar
	}

	if options.SkewBuffer <= 0 {
		options.SkewBuffer = DefaultSkewBuffer
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &Manager{
		baseURL:  baseURL,
		client:   client,
		skew:     options.SkewBuffer,
		now:      options.Now,
		onLogout: options.OnLogout,
		logger:   options.Logger,
	}, nil
}

// URL resolves an API path such as "me" or "auth/login" against the base URL.
func (m *Manager) URL(path string) string {
	return m.baseURL.JoinPath(path).String()
}

// # State

// Token returns the in-memory access token and its expiry. Both are zero when signed out.
func (m *Manager) Token() (string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.expiry
}

// User returns the signed-in user, or nil.
func (m *Manager) User() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	copied := *m.user
	return &copied
}

// Authenticated reports whether an access token is held.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != ""
}

func (m *Manager) snapshot() (token string, expiry time.Time, generation uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.expiry, m.generation
}

// stale reports whether a token expiring at expiry is inside the skew buffer.
func (m *Manager) stale(token string, expiry time.Time) bool {
	return token == "" || !m.now().Before(expiry.Add(-m.skew))
}

func (m *Manager) setSession(body tokenResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = body.AccessToken
	m.expiry = body.expiry(m.now())
	m.user = body.User
	m.generation++
}

// clear drops the session if it is still the one observed at generation.
// It reports false when there was nothing to drop.
func (m *Manager) clear(generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != generation || m.token == "" {
		return false
	}
	m.token = ""
	m.expiry = time.Time{}
	m.user = nil
	m.generation++
	return true
}

// # Lifecycle

/*
Init runs the startup session check exactly once per Manager.

It restores a session from the refresh cookie when one exists. Later calls
return the first result without touching the network.

The check itself is not bound to ctx: a caller that gives up early gets
ctx.Err(), while the latched result is the outcome of the refresh.
*/
func (m *Manager) Init(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.initDone = make(chan struct{})
		go func() {
			defer close(m.initDone)
			m.initErr = m.Refresh(context.WithoutCancel(ctx))
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.initDone:
		return m.initErr
	}
}

// Register creates an account and signs it in.
func (m *Manager) Register(ctx context.Context, username, email, password string) (*User, error) {
	return m.authenticate(ctx, "auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
}

// Login signs in with a username or email.
func (m *Manager) Login(ctx context.Context, login, password string) (*User, error) {
	return m.authenticate(ctx, "auth/login", map[string]string{
		"username": login,
		"password": password,
	})
}

func (m *Manager) authenticate(ctx context.Context, path string, payload map[string]string) (*User, error) {
	body, err := m.postTokens(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	m.setSession(body)
	return m.User(), nil
}

/*
Logout clears local state and asks the server to revoke the session.

Local state is cleared even when the server call fails; the returned error
only reports that failure.
*/
func (m *Manager) Logout(ctx context.Context) error {
	_, _, generation := m.snapshot()
	m.clear(generation)

	err := m.postLogout(ctx)
	m.notifyLogout()
	return err
}

/*
Refresh exchanges the refresh cookie for a new access token.

Concurrent callers share a single network call. A failed refresh forces a
logout before the error is returned.
*/
func (m *Manager) Refresh(ctx context.Context) error {
	return m.share(ctx, nil)
}

// share joins the refresh in flight or starts one. A new flight skips the
// network call when superseded reports that another caller already refreshed.
//
// The skip decision belongs to whoever started the flight. A caller that
// joined a skipped flight and is still not served runs one of its own.
func (m *Manager) share(ctx context.Context, superseded func() bool) error {
	skipped, err := m.join(ctx, superseded)
	if err != nil || !skipped || (superseded != nil && superseded()) {
		return err
	}
	_, err = m.join(ctx, nil)
	return err
}

func (m *Manager) join(ctx context.Context, superseded func() bool) (bool, error) {
	result := m.refreshes.DoChan("refresh", func() (any, error) {
		if superseded != nil && superseded() {
			return true, nil
		}
		return false, m.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case outcome := <-result:
		skipped, _ := outcome.Val.(bool)
		return skipped, outcome.Err
	}
}

func (m *Manager) refresh(ctx context.Context) error {
	_, _, generation := m.snapshot()

	body, err := m.postTokens(ctx, "auth/refresh", nil)
	if err != nil {
		m.logger.DebugContext(ctx, "authclient_refresh_failed", slog.Any("error", err))
		m.forceLogout(ctx, generation)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A login or logout landed while the call was in flight; it wins.
	if m.generation != generation {
		return nil
	}
	m.token = body.AccessToken
	m.expiry = body.expiry(m.now())
	m.user = body.User
	m.generation++
	return nil
}

// forceLogout tears down the session observed at generation, then notifies the server best-effort.
func (m *Manager) forceLogout(ctx context.Context, generation uint64) {
	if !m.clear(generation) {
		return
	}

	if err := m.postLogout(ctx); err != nil {
		m.logger.WarnContext(ctx, "authclient_logout_failed", slog.Any("error", err))
	}
	m.notifyLogout()
}

func (m *Manager) notifyLogout() {
	if m.onLogout != nil {
		m.onLogout()
	}
}
