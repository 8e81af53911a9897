// Package app is the core application service: account lifecycle, catalog
// queries, similarity lookups, favorites, and dashboard data.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"bookrec/internal/similarity"
	"bookrec/internal/util"
	"bookrec/pkg/auth"
	"bookrec/pkg/domain"
	"bookrec/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	SessionTTL    time.Duration
	CatalogPath   string

	// Test seams; production wiring fills these from the fields above.
	Store    store.Store
	Sessions store.SessionStore
}

// BookPage is a paginated catalog slice.
type BookPage struct {
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Books    []domain.Book `json:"books"`
}

// App wires storage, sessions, and the similarity index together.
type App struct {
	store    store.Store
	sessions store.SessionStore
	index    *similarity.Index
}

// New constructs the application. When cfg.Store is nil a Postgres store is
// opened; when cfg.Sessions is nil a Redis session store is used.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, fmt.Errorf("redisAddr is required for the redis session strategy")
		}
		sessionStore = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
	}

	a := &App{
		store:    dataStore,
		sessions: sessionStore,
		index:    similarity.New(),
	}

	if cfg.CatalogPath != "" {
		if err := a.loadCatalog(cfg.CatalogPath); err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}
	if err := a.RebuildSimilarityIndex(); err != nil {
		return nil, fmt.Errorf("build similarity index: %w", err)
	}
	return a, nil
}

// loadCatalog seeds the store from a JSON book dataset.
func (a *App) loadCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var books []domain.Book
	if err := json.Unmarshal(data, &books); err != nil {
		return fmt.Errorf("parse dataset: %w", err)
	}
	for _, b := range books {
		if err := a.store.SaveBook(b); err != nil {
			return fmt.Errorf("save book %d: %w", b.ID, err)
		}
	}
	return nil
}

// RebuildSimilarityIndex re-embeds the whole catalog.
func (a *App) RebuildSimilarityIndex() error {
	books, err := a.store.ListBooks(store.BookFilter{})
	if err != nil {
		return err
	}
	return a.index.Build(books)
}

// SignUp registers a new user and opens a session. The first registered
// account becomes the admin.
func (a *App) SignUp(name, email, password string) (domain.User, string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	if name == "" {
		return domain.User{}, "", ErrNameRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", err
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	count, err := a.store.UserCount()
	if err != nil {
		return domain.User{}, "", fmt.Errorf("count users: %w", err)
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		IsAdmin:      count == 0,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("open session: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and opens a session.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !user.IsActive {
		return domain.User{}, "", ErrUserInactive
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("open session: %w", err)
	}
	return user, token, nil
}

// Logout invalidates a session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found || !user.IsActive {
		return domain.User{}, false
	}
	return user, true
}

// ListBooks returns one catalog page with optional filters.
func (a *App) ListBooks(filter store.BookFilter, page, pageSize int) (BookPage, error) {
	books, err := a.store.ListBooks(filter)
	if err != nil {
		return BookPage{}, fmt.Errorf("list books: %w", err)
	}
	return paginate(books, page, pageSize), nil
}

// SearchBooks returns one page of full-text matches.
func (a *App) SearchBooks(query string, page, pageSize int) (BookPage, error) {
	books, err := a.store.SearchBooks(query)
	if err != nil {
		return BookPage{}, fmt.Errorf("search books: %w", err)
	}
	return paginate(books, page, pageSize), nil
}

// TopRatedBooks returns the highest rated books.
func (a *App) TopRatedBooks(limit int) ([]domain.Book, error) {
	return a.store.TopRatedBooks(limit)
}

// GetBook returns a book by ID.
func (a *App) GetBook(id int64) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// SimilarBooks returns up to limit books ranked by similarity to the given
// book. An empty index yields an empty list, not an error.
func (a *App) SimilarBooks(id int64, limit int) ([]domain.SimilarBook, error) {
	if _, err := a.GetBook(id); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 12
	}
	if limit > 50 {
		limit = 50
	}
	matches := a.index.Similar(id, limit)
	results := make([]domain.SimilarBook, 0, len(matches))
	for _, m := range matches {
		book, ok, err := a.store.GetBook(m.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch similar book: %w", err)
		}
		if !ok {
			continue
		}
		results = append(results, domain.SimilarBook{
			ID:              book.ID,
			Title:           book.Title,
			Author:          book.Author,
			Genre:           book.Genre,
			Subgenre:        book.Subgenre,
			Rating:          book.Rating,
			CoverImageURL:   book.CoverImageURL,
			SimilarityScore: roundScore(m.Score),
		})
	}
	return results, nil
}

// AddFavorite links a book to the user's favorites.
func (a *App) AddFavorite(userID string, bookID int64) error {
	err := a.store.AddFavorite(userID, bookID, time.Now().UTC())
	if errors.Is(err, store.ErrBookNotFound) {
		return ErrBookNotFound
	}
	return err
}

// RemoveFavorite unlinks a favorite; ok reports whether it existed.
func (a *App) RemoveFavorite(userID string, bookID int64) (bool, error) {
	return a.store.RemoveFavorite(userID, bookID)
}

// ListFavorites returns the user's favorites, newest first.
func (a *App) ListFavorites(userID string) ([]domain.FavoriteBook, error) {
	return a.store.ListFavorites(userID)
}

// IsFavorite reports favorite membership.
func (a *App) IsFavorite(userID string, bookID int64) (bool, error) {
	return a.store.IsFavorite(userID, bookID)
}

// CountFavorites returns the size of the user's favorite set.
func (a *App) CountFavorites(userID string) (int, error) {
	return a.store.CountFavorites(userID)
}

// SystemStatus reports backing-store health for the dashboard.
func (a *App) SystemStatus(ctx context.Context) (domain.SystemHealth, string) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.store.Ping(pingCtx); err != nil {
		return domain.HealthUnhealthy, fmt.Sprintf("System error: %v", err)
	}
	return domain.HealthHealthy, "System operational"
}

// UnresolvedAlerts returns open alerts, newest first.
func (a *App) UnresolvedAlerts(limit int) ([]domain.Alert, error) {
	return a.store.ListUnresolvedAlerts(limit)
}

// ResolveAlert marks an alert resolved; ok reports whether it existed.
func (a *App) ResolveAlert(id string) (bool, error) {
	return a.store.ResolveAlert(id, time.Now().UTC())
}

// SaveAlert stores an alert; the monitor uses the App as its sink.
func (a *App) SaveAlert(alert domain.Alert) error {
	return a.store.SaveAlert(alert)
}

func paginate(books []domain.Book, page, pageSize int) BookPage {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 1000 {
		pageSize = 1000
	}
	total := len(books)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return BookPage{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Books:    books[start:end],
	}
}

func roundScore(score float64) float64 {
	return math.Round(score*10000) / 10000
}
