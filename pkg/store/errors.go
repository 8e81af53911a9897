package store

import "errors"

var (
	// ErrDuplicateFavorite is returned when a book is already in the user's favorites.
	ErrDuplicateFavorite = errors.New("book already in favorites")

	// ErrBookNotFound is returned by favorite operations referencing an unknown book.
	ErrBookNotFound = errors.New("book not found")
)
