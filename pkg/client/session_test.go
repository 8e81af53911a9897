package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bookrec/pkg/domain"
)

type fakeAuthServer struct {
	srv     *httptest.Server
	meCalls int32
	user    atomic.Value // domain.User; zero ID means 401
	logout  atomic.Int32 // response status for /api/auth/logout
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()
	f := &fakeAuthServer{}
	f.user.Store(domain.User{})
	f.logout.Store(http.StatusNoContent)
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/me":
			atomic.AddInt32(&f.meCalls, 1)
			user := f.user.Load().(domain.User)
			if user.ID == "" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			_ = json.NewEncoder(w).Encode(user)
		case "/api/auth/logout":
			w.WriteHeader(int(f.logout.Load()))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(baseURL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestInitResolvesAuthenticated(t *testing.T) {
	f := newFakeAuthServer(t)
	f.user.Store(domain.User{ID: "user-1", Email: "ada@example.com"})
	api := newTestClient(t, f.srv.URL)

	s := NewSession(api, NewCache())
	if s.State() != StateLoading {
		t.Fatalf("state = %q, want loading", s.State())
	}
	s.Init(context.Background())
	if s.State() != StateAuthenticated {
		t.Fatalf("state = %q, want authenticated", s.State())
	}
	user, ok := s.User()
	if !ok || user.ID != "user-1" {
		t.Fatalf("user = (%+v, %v)", user, ok)
	}
}

func TestInitProbeFailureMeansUnauthenticated(t *testing.T) {
	f := newFakeAuthServer(t)
	api := newTestClient(t, f.srv.URL)

	s := NewSession(api, NewCache())
	s.Init(context.Background())
	if s.State() != StateUnauthenticated {
		t.Fatalf("state = %q, want unauthenticated", s.State())
	}
	// One probe, no retry loop.
	if n := atomic.LoadInt32(&f.meCalls); n != 1 {
		t.Fatalf("me calls = %d, want 1", n)
	}

	// Transport errors resolve the same way.
	dead := newTestClient(t, "http://127.0.0.1:1")
	s2 := NewSession(dead, NewCache())
	s2.Init(context.Background())
	if s2.State() != StateUnauthenticated {
		t.Fatalf("state = %q, want unauthenticated", s2.State())
	}
}

func TestServerProvidedIdentitySkipsProbe(t *testing.T) {
	f := newFakeAuthServer(t)
	api := newTestClient(t, f.srv.URL)

	s := NewSessionWithUser(api, NewCache(), domain.User{ID: "user-1"})
	if s.State() != StateAuthenticated {
		t.Fatalf("state = %q", s.State())
	}
	s.Init(context.Background())
	if n := atomic.LoadInt32(&f.meCalls); n != 0 {
		t.Fatalf("me calls = %d, want 0", n)
	}
}

func TestRefreshIdentityChangeClearsCache(t *testing.T) {
	f := newFakeAuthServer(t)
	f.user.Store(domain.User{ID: "user-1"})
	api := newTestClient(t, f.srv.URL)
	cache := NewCache()

	s := NewSession(api, cache)
	s.Init(context.Background())

	seed := func(ctx context.Context) (any, error) { return "user-1 data", nil }
	if _, err := cache.Get(context.Background(), "favorites:list", seed, Options{TTL: time.Minute}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	// Same identity: cache survives.
	s.Refresh(context.Background())
	if _, ok := cache.Peek("favorites:list"); !ok {
		t.Fatal("cache should survive a same-identity refresh")
	}

	// Identity changed server-side: cache is purged.
	f.user.Store(domain.User{ID: "user-2"})
	s.Refresh(context.Background())
	if _, ok := cache.Peek("favorites:list"); ok {
		t.Fatal("cache should be cleared when the identity changes")
	}
}

func TestLogoutIsOptimistic(t *testing.T) {
	f := newFakeAuthServer(t)
	f.user.Store(domain.User{ID: "user-1"})
	f.logout.Store(http.StatusInternalServerError)
	api := newTestClient(t, f.srv.URL)
	cache := NewCache()

	s := NewSession(api, cache)
	s.Init(context.Background())
	seed := func(ctx context.Context) (any, error) { return true, nil }
	if _, err := cache.Get(context.Background(), "favorite:42", seed, Options{TTL: time.Minute}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	err := s.Logout(context.Background())
	if err == nil {
		t.Fatal("server failure should be reported")
	}
	// The local transition happened anyway.
	if s.State() != StateUnauthenticated {
		t.Fatalf("state = %q, want unauthenticated", s.State())
	}
	if _, ok := cache.Peek("favorite:42"); ok {
		t.Fatal("logout should purge the cache even when the request fails")
	}
}

func TestLoginRedirect(t *testing.T) {
	if got := LoginRedirect("/book/42"); got != "/login?redirect=%2Fbook%2F42" {
		t.Fatalf("redirect = %q", got)
	}
	if got := LoginRedirect("/search?q=du ne"); got != "/login?redirect=%2Fsearch%3Fq%3Ddu+ne" {
		t.Fatalf("redirect = %q", got)
	}
}
