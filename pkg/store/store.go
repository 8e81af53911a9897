package store

import (
	"context"
	"time"

	"bookrec/pkg/domain"
)

// BookFilter narrows catalog listings.
type BookFilter struct {
	Genre     string
	Language  string
	MinRating float64
	HasMin    bool
}

// Store defines persistence operations for users, books, favorites, and alerts.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	UserCount() (int, error)

	// books
	SaveBook(domain.Book) error
	GetBook(id int64) (domain.Book, bool, error)
	ListBooks(filter BookFilter) ([]domain.Book, error)
	SearchBooks(query string) ([]domain.Book, error)
	TopRatedBooks(limit int) ([]domain.Book, error)

	// favorites
	AddFavorite(userID string, bookID int64, at time.Time) error
	RemoveFavorite(userID string, bookID int64) (bool, error)
	ListFavorites(userID string) ([]domain.FavoriteBook, error)
	IsFavorite(userID string, bookID int64) (bool, error)
	CountFavorites(userID string) (int, error)

	// alerts
	SaveAlert(domain.Alert) error
	ListUnresolvedAlerts(limit int) ([]domain.Alert, error)
	ResolveAlert(id string, at time.Time) (bool, error)

	// Ping reports backing-store connectivity for the status endpoint.
	Ping(ctx context.Context) error
}

// SessionStore persists session tokens carried in the session cookie.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
