package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"bookrec/internal/util"
	"bookrec/pkg/domain"
)

type favoriteKey struct {
	userID string
	bookID int64
}

// MemoryStore keeps all state in-process. Used by tests and local runs
// without a database.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	email     map[string]string // email -> user ID
	books     map[int64]domain.Book
	bookOrder []int64
	favorites map[favoriteKey]time.Time
	alerts    []domain.Alert
	sess      map[string]string // token -> user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		email:     make(map[string]string),
		books:     make(map[int64]domain.Book),
		favorites: make(map[favoriteKey]time.Time),
		sess:      make(map[string]string),
	}
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.users[u.ID]; ok && old.Email != u.Email {
		delete(m.email, old.Email)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// UserCount returns number of users.
func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// SaveBook stores or replaces a book and tracks insertion order.
func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.bookOrder = append(m.bookOrder, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(id int64) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns books in insertion order with optional filters.
func (m *MemoryStore) ListBooks(filter BookFilter) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.bookOrder))
	for _, id := range m.bookOrder {
		b, ok := m.books[id]
		if !ok {
			continue
		}
		if filter.Genre != "" && !containsFold(b.Genre, filter.Genre) {
			continue
		}
		if filter.Language != "" && !containsFold(b.Language, filter.Language) {
			continue
		}
		if filter.HasMin && b.Rating < filter.MinRating {
			continue
		}
		res = append(res, b)
	}
	return res, nil
}

// SearchBooks matches query against title, author, keywords, or description.
func (m *MemoryStore) SearchBooks(query string) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0)
	for _, id := range m.bookOrder {
		b, ok := m.books[id]
		if !ok {
			continue
		}
		if containsFold(b.Title, query) || containsFold(b.Author, query) ||
			containsFold(b.Keywords, query) || containsFold(b.Description, query) {
			res = append(res, b)
		}
	}
	return res, nil
}

// TopRatedBooks returns the highest rated books.
func (m *MemoryStore) TopRatedBooks(limit int) ([]domain.Book, error) {
	all, _ := m.ListBooks(BookFilter{})
	sort.SliceStable(all, func(i, j int) bool { return all[i].Rating > all[j].Rating })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// AddFavorite links a book to a user's favorites.
func (m *MemoryStore) AddFavorite(userID string, bookID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[bookID]; !ok {
		return ErrBookNotFound
	}
	key := favoriteKey{userID: userID, bookID: bookID}
	if _, ok := m.favorites[key]; ok {
		return ErrDuplicateFavorite
	}
	m.favorites[key] = at
	return nil
}

// RemoveFavorite unlinks a favorite; ok reports whether it existed.
func (m *MemoryStore) RemoveFavorite(userID string, bookID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := favoriteKey{userID: userID, bookID: bookID}
	if _, ok := m.favorites[key]; !ok {
		return false, nil
	}
	delete(m.favorites, key)
	return true, nil
}

// ListFavorites returns the user's favorites, newest first.
func (m *MemoryStore) ListFavorites(userID string) ([]domain.FavoriteBook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.FavoriteBook, 0)
	for key, at := range m.favorites {
		if key.userID != userID {
			continue
		}
		b, ok := m.books[key.bookID]
		if !ok {
			continue
		}
		res = append(res, domain.FavoriteBook{
			ID:            b.ID,
			Title:         b.Title,
			Author:        b.Author,
			Genre:         b.Genre,
			Subgenre:      b.Subgenre,
			Rating:        b.Rating,
			CoverImageURL: b.CoverImageURL,
			FavoritedAt:   at,
		})
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].FavoritedAt.After(res[j].FavoritedAt) })
	return res, nil
}

// IsFavorite reports favorite membership.
func (m *MemoryStore) IsFavorite(userID string, bookID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.favorites[favoriteKey{userID: userID, bookID: bookID}]
	return ok, nil
}

// CountFavorites returns the size of the user's favorite set.
func (m *MemoryStore) CountFavorites(userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for key := range m.favorites {
		if key.userID == userID {
			count++
		}
	}
	return count, nil
}

// SaveAlert stores an alert.
func (m *MemoryStore) SaveAlert(a domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

// ListUnresolvedAlerts returns open alerts, newest first.
func (m *MemoryStore) ListUnresolvedAlerts(limit int) ([]domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Alert, 0)
	for _, a := range m.alerts {
		if !a.Resolved {
			res = append(res, a)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// ResolveAlert marks an alert resolved; ok reports whether it existed.
func (m *MemoryStore) ResolveAlert(id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id && !m.alerts[i].Resolved {
			m.alerts[i].Resolved = true
			resolvedAt := at
			m.alerts[i].ResolvedAt = &resolvedAt
			return true, nil
		}
	}
	return false, nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// NewSession creates a session token for a user.
func (m *MemoryStore) NewSession(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := util.NewID()
	m.sess[token] = userID
	return token, nil
}

// GetUserIDByToken resolves a token to a user ID.
func (m *MemoryStore) GetUserIDByToken(token string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uid, ok := m.sess[token]
	return uid, ok, nil
}

// DeleteSession removes a token mapping.
func (m *MemoryStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, token)
	return nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
