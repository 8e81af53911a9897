package client

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"bookrec/pkg/domain"
)

const (
	// MaxCandidates caps the search dropdown.
	MaxCandidates = 10
	// DefaultSimilarLimit is how many recommendations a selection fetches.
	DefaultSimilarLimit = 12

	paramBookID = "bookId"
	paramSearch = "search"
)

// Location abstracts the query-parameter portion of the page URL so the
// coordinator can sync and restore state without a browser.
type Location interface {
	Param(name string) string
	SetParam(name, value string)
	DeleteParam(name string)
}

// Search coordinates the catalog search box: query text, the candidate
// dropdown, the selected book, and its similar-book results. A nil Location
// disables URL sync.
type Search struct {
	api   *Client
	cache *Cache
	books []domain.Book
	loc   Location

	mu         sync.Mutex
	query      string
	selected   *domain.Book
	similar    []domain.SimilarBook
	generation uint64
}

// NewSearch constructs a coordinator over the given collection.
func NewSearch(api *Client, cache *Cache, books []domain.Book, loc Location) *Search {
	return &Search{api: api, cache: cache, books: books, loc: loc}
}

// SetQuery updates the query text without selecting anything.
func (s *Search) SetQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = q
}

// Query returns the current query text.
func (s *Search) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// Candidates returns up to MaxCandidates books whose title or author contains
// the query, case-insensitively, in collection order. An empty query yields
// no candidates.
func (s *Search) Candidates() []domain.Book {
	s.mu.Lock()
	query := strings.ToLower(strings.TrimSpace(s.query))
	s.mu.Unlock()
	if query == "" {
		return nil
	}
	var out []domain.Book
	for _, b := range s.books {
		if strings.Contains(strings.ToLower(b.Title), query) ||
			strings.Contains(strings.ToLower(b.Author), query) {
			out = append(out, b)
			if len(out) == MaxCandidates {
				break
			}
		}
	}
	return out
}

// Selected returns the selected book, if any.
func (s *Search) Selected() (domain.Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return domain.Book{}, false
	}
	return *s.selected, true
}

// Similar returns the similar books for the current selection.
func (s *Search) Similar() []domain.SimilarBook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.similar
}

// SelectBook selects a book: the query becomes the exact title, the URL is
// synced, and similar books are fetched through the cache. When a newer
// selection is made before the fetch resolves, the late result is discarded
// no matter which request settles first.
func (s *Search) SelectBook(ctx context.Context, book domain.Book) {
	s.selectBook(ctx, book, true)
}

func (s *Search) selectBook(ctx context.Context, book domain.Book, syncURL bool) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.query = book.Title
	s.selected = &book
	s.mu.Unlock()

	if syncURL && s.loc != nil {
		s.loc.SetParam(paramBookID, strconv.FormatInt(book.ID, 10))
		s.loc.SetParam(paramSearch, book.Title)
	}

	similar := s.fetchSimilar(ctx, book.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.similar = similar
}

func (s *Search) fetchSimilar(ctx context.Context, bookID int64) []domain.SimilarBook {
	key := fmt.Sprintf("similar:%d:%d", bookID, DefaultSimilarLimit)
	value, err := s.cache.Get(ctx, key, func(ctx context.Context) (any, error) {
		return s.api.SimilarBooks(ctx, bookID, DefaultSimilarLimit)
	}, Options{TTL: TTLSimilarity})
	if err != nil {
		slog.Warn("similar books fetch failed", "book_id", bookID, "err", err)
		return nil
	}
	similar, ok := value.([]domain.SimilarBook)
	if !ok {
		return nil
	}
	return similar
}

// HandleSearch handles the search box submit: with no selection and a
// non-empty candidate list, the first candidate is selected.
func (s *Search) HandleSearch(ctx context.Context) {
	s.mu.Lock()
	hasSelection := s.selected != nil
	s.mu.Unlock()
	if hasSelection {
		return
	}
	candidates := s.Candidates()
	if len(candidates) == 0 {
		return
	}
	s.SelectBook(ctx, candidates[0])
}

// Restore resolves the URL parameters against the collection on mount,
// restoring the selection without rewriting the URL.
func (s *Search) Restore(ctx context.Context) {
	if s.loc == nil {
		return
	}
	if raw := s.loc.Param(paramBookID); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			for _, b := range s.books {
				if b.ID == id {
					s.selectBook(ctx, b, false)
					return
				}
			}
		}
	}
	if q := s.loc.Param(paramSearch); q != "" {
		s.SetQuery(q)
	}
}

// Reset clears the query, selection, and results, and removes both URL
// parameters.
func (s *Search) Reset() {
	s.mu.Lock()
	s.generation++
	s.query = ""
	s.selected = nil
	s.similar = nil
	s.mu.Unlock()
	if s.loc != nil {
		s.loc.DeleteParam(paramBookID)
		s.loc.DeleteParam(paramSearch)
	}
}
