package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// TogglePhase is the observable lifecycle of one favorite toggle.
type TogglePhase string

const (
	PhaseIdle       TogglePhase = "idle"
	PhaseTentative  TogglePhase = "tentative"
	PhaseConfirmed  TogglePhase = "confirmed"
	PhaseRolledBack TogglePhase = "rolled_back"
)

// ErrToggleInFlight is returned when a toggle for the same book has not
// settled yet.
var ErrToggleInFlight = errors.New("favorite toggle already in flight")

// LoginRequiredError is returned when a gated action needs a signed-in user.
// Redirect is the login URL that returns to the page the user was on.
type LoginRequiredError struct {
	Redirect string
}

func (e *LoginRequiredError) Error() string {
	return "login required"
}

// Favorites drives the favorite heart button with a two-phase optimistic
// update: the local state flips immediately (tentative) and is either
// confirmed by the server or rolled back. The state belongs to the signed-in
// user: a logout or a switch to a different account empties it.
type Favorites struct {
	api     *Client
	session *Session
	cache   *Cache

	mu       sync.Mutex
	owner    string
	state    map[int64]bool
	phase    map[int64]TogglePhase
	inFlight map[int64]bool
}

// NewFavorites constructs the toggle coordinator.
func NewFavorites(api *Client, session *Session, cache *Cache) *Favorites {
	return &Favorites{
		api:      api,
		session:  session,
		cache:    cache,
		state:    make(map[int64]bool),
		phase:    make(map[int64]TogglePhase),
		inFlight: make(map[int64]bool),
	}
}

// ensureOwnerLocked resets the per-user maps when the session identity has
// changed since they were last touched. After a logout the owner is the empty
// ID, so every lookup sees an empty state. Caller holds f.mu.
func (f *Favorites) ensureOwnerLocked() {
	user, _ := f.session.User()
	if user.ID == f.owner {
		return
	}
	f.owner = user.ID
	f.state = make(map[int64]bool)
	f.phase = make(map[int64]TogglePhase)
	f.inFlight = make(map[int64]bool)
}

// Seed records a known favorite state without a server round-trip.
func (f *Favorites) Seed(bookID int64, favorited bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureOwnerLocked()
	f.state[bookID] = favorited
}

// IsFavorite returns the local view of the favorite state. Unauthenticated,
// nothing is a favorite.
func (f *Favorites) IsFavorite(bookID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureOwnerLocked()
	return f.state[bookID]
}

// Phase returns the lifecycle phase of the last toggle for bookID.
func (f *Favorites) Phase(bookID int64) TogglePhase {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureOwnerLocked()
	if p, ok := f.phase[bookID]; ok {
		return p
	}
	return PhaseIdle
}

// Check resolves the favorite state through the cache.
func (f *Favorites) Check(ctx context.Context, bookID int64) (bool, error) {
	key := favoriteKey(bookID)
	value, err := f.cache.Get(ctx, key, func(ctx context.Context) (any, error) {
		return f.api.CheckFavorite(ctx, bookID)
	}, Options{TTL: TTLCatalog})
	if err != nil {
		return false, err
	}
	fav, _ := value.(bool)
	f.Seed(bookID, fav)
	return fav, nil
}

// Toggle flips the favorite state of bookID. currentPath is where the user
// is, used to build the login redirect when unauthenticated; in that case no
// request is sent. A toggle while one is in flight for the same book is
// rejected, so the settled state always matches the last accepted request.
func (f *Favorites) Toggle(ctx context.Context, bookID int64, currentPath string) error {
	if f.session.State() != StateAuthenticated {
		return &LoginRequiredError{Redirect: LoginRedirect(currentPath)}
	}

	f.mu.Lock()
	f.ensureOwnerLocked()
	if f.inFlight[bookID] {
		f.mu.Unlock()
		return ErrToggleInFlight
	}
	owner := f.owner
	f.inFlight[bookID] = true
	previous := f.state[bookID]
	next := !previous
	f.state[bookID] = next
	f.phase[bookID] = PhaseTentative
	f.mu.Unlock()

	var err error
	if next {
		err = f.api.AddFavorite(ctx, bookID)
	} else {
		err = f.api.RemoveFavorite(ctx, bookID)
	}

	f.mu.Lock()
	f.ensureOwnerLocked()
	if f.owner != owner {
		// The user logged out or switched accounts while the request was
		// in flight. The maps were reset for the new identity; leave them
		// untouched and just report the outcome.
		f.mu.Unlock()
		return err
	}
	delete(f.inFlight, bookID)
	if err != nil {
		f.state[bookID] = previous
		f.phase[bookID] = PhaseRolledBack
		f.mu.Unlock()
		slog.Warn("favorite toggle failed, rolled back",
			"book_id", bookID, "wanted", next, "err", err)
		return err
	}
	f.phase[bookID] = PhaseConfirmed
	f.mu.Unlock()

	if f.cache != nil {
		key := favoriteKey(bookID)
		f.cache.Invalidate(func(k string) bool {
			return k == key || strings.HasPrefix(k, "favorites:")
		})
	}
	return nil
}

func favoriteKey(bookID int64) string {
	return fmt.Sprintf("favorite:%d", bookID)
}
