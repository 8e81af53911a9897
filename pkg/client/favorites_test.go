package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookrec/pkg/domain"
)

// favoritesServer counts mutation requests and lets tests script outcomes.
type favoritesServer struct {
	srv       *httptest.Server
	mutations int32
	mu        sync.Mutex
	favorited map[int64]bool
	failNext  bool
	gate      chan struct{}
}

func newFavoritesServer(t *testing.T) *favoritesServer {
	t.Helper()
	f := &favoritesServer{favorited: make(map[int64]bool)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/favorites" && r.Method == http.MethodPost:
			atomic.AddInt32(&f.mutations, 1)
			var req struct {
				BookID int64 `json:"book_id"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.mu.Lock()
			fail := f.failNext
			f.failNext = false
			gate := f.gate
			if !fail {
				f.favorited[req.BookID] = true
			}
			f.mu.Unlock()
			if gate != nil {
				<-gate
			}
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
				return
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"book_id": req.BookID, "is_favorite": true})
		case r.Method == http.MethodDelete:
			atomic.AddInt32(&f.mutations, 1)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet:
			var id int64
			var tail string
			if _, err := fmt.Sscanf(r.URL.Path, "/api/favorites/%d/%s", &id, &tail); err == nil && tail == "check" {
				f.mu.Lock()
				fav := f.favorited[id]
				f.mu.Unlock()
				_ = json.NewEncoder(w).Encode(map[string]any{"book_id": id, "is_favorite": fav})
				return
			}
			http.NotFound(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func authedFavorites(t *testing.T, f *favoritesServer) (*Favorites, *Cache) {
	t.Helper()
	api := newTestClient(t, f.srv.URL)
	cache := NewCache()
	session := NewSessionWithUser(api, cache, domain.User{ID: "user-1"})
	return NewFavorites(api, session, cache), cache
}

func TestToggleUnauthenticatedRedirectsWithoutRequests(t *testing.T) {
	f := newFavoritesServer(t)
	api := newTestClient(t, f.srv.URL)
	cache := NewCache()
	session := NewSession(api, cache)
	session.Init(context.Background()) // no /api/auth/me route, so unauthenticated
	fav := NewFavorites(api, session, cache)

	err := fav.Toggle(context.Background(), 42, "/book/42")
	var loginErr *LoginRequiredError
	if !errors.As(err, &loginErr) {
		t.Fatalf("err = %v, want LoginRequiredError", err)
	}
	if loginErr.Redirect != "/login?redirect=%2Fbook%2F42" {
		t.Fatalf("redirect = %q", loginErr.Redirect)
	}
	if n := atomic.LoadInt32(&f.mutations); n != 0 {
		t.Fatalf("mutation requests = %d, want 0", n)
	}
	if fav.IsFavorite(42) {
		t.Fatal("no local state change expected")
	}
}

func TestToggleOptimisticConfirm(t *testing.T) {
	f := newFavoritesServer(t)
	fav, _ := authedFavorites(t, f)

	if err := fav.Toggle(context.Background(), 1, "/book/1"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !fav.IsFavorite(1) {
		t.Fatal("book 1 should be favorited")
	}
	if got := fav.Phase(1); got != PhaseConfirmed {
		t.Fatalf("phase = %q, want confirmed", got)
	}

	// Toggling again removes it.
	if err := fav.Toggle(context.Background(), 1, "/book/1"); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if fav.IsFavorite(1) {
		t.Fatal("book 1 should be unfavorited")
	}
}

func TestToggleRollbackOnFailure(t *testing.T) {
	f := newFavoritesServer(t)
	fav, _ := authedFavorites(t, f)
	f.mu.Lock()
	f.failNext = true
	f.mu.Unlock()

	err := fav.Toggle(context.Background(), 7, "/book/7")
	if err == nil {
		t.Fatal("expected a toggle error")
	}
	if fav.IsFavorite(7) {
		t.Fatal("state should be rolled back")
	}
	if got := fav.Phase(7); got != PhaseRolledBack {
		t.Fatalf("phase = %q, want rolled_back", got)
	}
}

func TestToggleWhileInFlightRejected(t *testing.T) {
	f := newFavoritesServer(t)
	fav, _ := authedFavorites(t, f)

	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- fav.Toggle(context.Background(), 9, "/book/9")
	}()

	// Wait for the tentative phase, then attempt a second toggle.
	for fav.Phase(9) != PhaseTentative {
		time.Sleep(time.Millisecond)
	}
	if err := fav.Toggle(context.Background(), 9, "/book/9"); !errors.Is(err, ErrToggleInFlight) {
		t.Fatalf("second toggle err = %v, want ErrToggleInFlight", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if !fav.IsFavorite(9) || fav.Phase(9) != PhaseConfirmed {
		t.Fatalf("final state = (%v, %q)", fav.IsFavorite(9), fav.Phase(9))
	}
}

func TestLogoutEmptiesFavoriteState(t *testing.T) {
	f := newFavoritesServer(t)
	api := newTestClient(t, f.srv.URL)
	cache := NewCache()
	session := NewSessionWithUser(api, cache, domain.User{ID: "user-1"})
	fav := NewFavorites(api, session, cache)

	if err := fav.Toggle(context.Background(), 42, "/book/42"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !fav.IsFavorite(42) {
		t.Fatal("book 42 should be favorited before logout")
	}

	// The fake serves no logout route, so the request fails; the local
	// transition to unauthenticated still happens.
	_ = session.Logout(context.Background())

	if fav.IsFavorite(42) {
		t.Fatal("favorite state must read as empty after logout")
	}
	if got := fav.Phase(42); got != PhaseIdle {
		t.Fatalf("phase = %q, want idle after logout", got)
	}
}

func TestIdentityChangeEmptiesFavoriteState(t *testing.T) {
	f := newFakeAuthServer(t)
	f.user.Store(domain.User{ID: "user-1"})
	api := newTestClient(t, f.srv.URL)
	cache := NewCache()
	session := NewSession(api, cache)
	session.Init(context.Background())
	fav := NewFavorites(api, session, cache)

	fav.Seed(42, true)
	if !fav.IsFavorite(42) {
		t.Fatal("seeded state should be visible")
	}

	// A different account shows up on refresh; the previous user's
	// favorite state must not carry over.
	f.user.Store(domain.User{ID: "user-2"})
	session.Refresh(context.Background())
	if fav.IsFavorite(42) {
		t.Fatal("favorite state leaked across accounts")
	}
}

func TestCheckUsesCacheUntilCleared(t *testing.T) {
	f := newFavoritesServer(t)
	fav, cache := authedFavorites(t, f)

	f.mu.Lock()
	f.favorited[42] = true
	f.mu.Unlock()

	got, err := fav.Check(context.Background(), 42)
	if err != nil || !got {
		t.Fatalf("check = (%v, %v)", got, err)
	}

	// Server state flips, but the cached value is served.
	f.mu.Lock()
	f.favorited[42] = false
	f.mu.Unlock()
	got, err = fav.Check(context.Background(), 42)
	if err != nil || !got {
		t.Fatalf("cached check = (%v, %v)", got, err)
	}

	// After logout the cache is purged and the next user sees fresh state.
	cache.Clear()
	got, err = fav.Check(context.Background(), 42)
	if err != nil || got {
		t.Fatalf("post-clear check = (%v, %v), want fresh false", got, err)
	}
}
