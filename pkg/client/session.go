package client

import (
	"context"
	"log/slog"
	"net/url"
	"sync"

	"bookrec/pkg/domain"
)

// AuthState is the session lifecycle state the UI renders from.
type AuthState string

const (
	StateLoading         AuthState = "loading"
	StateAuthenticated   AuthState = "authenticated"
	StateUnauthenticated AuthState = "unauthenticated"
)

// Session tracks the signed-in identity. It starts in StateLoading and
// resolves with one probe of /api/auth/me; a probe failure of any kind means
// unauthenticated, never a retry loop.
type Session struct {
	api   *Client
	cache *Cache

	mu    sync.Mutex
	state AuthState
	user  domain.User
}

// NewSession constructs a session that must be resolved with Init.
func NewSession(api *Client, cache *Cache) *Session {
	return &Session{api: api, cache: cache, state: StateLoading}
}

// NewSessionWithUser constructs a session from a server-provided identity,
// skipping the probe.
func NewSessionWithUser(api *Client, cache *Cache, user domain.User) *Session {
	return &Session{api: api, cache: cache, state: StateAuthenticated, user: user}
}

// Init resolves the initial state with a single identity probe.
func (s *Session) Init(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateLoading {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.probe(ctx)
}

// Refresh re-probes the identity. When the signed-in user changes, everything
// cached for the previous identity is dropped.
func (s *Session) Refresh(ctx context.Context) {
	s.mu.Lock()
	prevState := s.state
	prevID := s.user.ID
	s.mu.Unlock()

	s.probe(ctx)

	s.mu.Lock()
	changed := s.state != prevState || s.user.ID != prevID
	s.mu.Unlock()
	if changed && s.cache != nil {
		s.cache.Clear()
	}
}

func (s *Session) probe(ctx context.Context) {
	user, err := s.api.Me(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateUnauthenticated
		s.user = domain.User{}
		return
	}
	s.state = StateAuthenticated
	s.user = user
}

// Logout transitions to unauthenticated and purges the cache before the
// server round-trip, so the UI never shows another user's data while the
// request is in flight. The server result is returned to the caller.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateUnauthenticated
	s.user = domain.User{}
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.Clear()
	}
	if err := s.api.Logout(ctx); err != nil {
		slog.Warn("logout request failed after local sign-out", "err", err)
		return err
	}
	return nil
}

// State returns the current session state.
func (s *Session) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the signed-in user, if any.
func (s *Session) User() (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.state == StateAuthenticated
}

// LoginRedirect builds the login URL that returns to path after sign-in.
func LoginRedirect(path string) string {
	return "/login?redirect=" + url.QueryEscape(path)
}
