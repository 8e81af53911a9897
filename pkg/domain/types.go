package domain

import "time"

type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

type SystemHealth string

const (
	HealthHealthy   SystemHealth = "healthy"
	HealthUnhealthy SystemHealth = "unhealthy"
)

// Book is a catalog entry. Immutable once loaded; the catalog is sourced
// wholesale from the books dataset.
type Book struct {
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	Author            string  `json:"author"`
	AuthorNationality string  `json:"author_nationality,omitempty"`
	Genre             string  `json:"genre"`
	Subgenre          string  `json:"subgenre"`
	Language          string  `json:"language,omitempty"`
	PubYear           int     `json:"pub_year"`
	Pages             int     `json:"pages"`
	Publisher         string  `json:"publisher,omitempty"`
	ISBN              string  `json:"isbn,omitempty"`
	Series            string  `json:"series,omitempty"`
	SeriesNumber      int     `json:"series_number,omitempty"`
	Rating            float64 `json:"rating"`
	Awards            string  `json:"awards,omitempty"`
	Description       string  `json:"description"`
	Keywords          string  `json:"keywords,omitempty"`
	CoverImageURL     string  `json:"cover_image_url"`
}

// SimilarBook is a reduced Book projection plus a similarity score relative
// to a query book. Transient, recomputed per query.
type SimilarBook struct {
	ID              int64   `json:"id"`
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	Genre           string  `json:"genre"`
	Subgenre        string  `json:"subgenre"`
	Rating          float64 `json:"rating"`
	CoverImageURL   string  `json:"cover_image_url"`
	SimilarityScore float64 `json:"similarity_score"`
}

// FavoriteBook is a Book projection plus the time it was favorited.
type FavoriteBook struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Genre         string    `json:"genre"`
	Subgenre      string    `json:"subgenre"`
	Rating        float64   `json:"rating"`
	CoverImageURL string    `json:"cover_image_url"`
	FavoritedAt   time.Time `json:"favorited_at"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Alert is raised by the monitor (or operators) and shown on the admin
// dashboard until resolved.
type Alert struct {
	ID         string            `json:"id"`
	Severity   AlertSeverity     `json:"severity"`
	Source     string            `json:"source"`
	Message    string            `json:"message"`
	Context    map[string]string `json:"context,omitempty"`
	Resolved   bool              `json:"resolved"`
	CreatedAt  time.Time         `json:"timestamp"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// LogEntry is one parsed line of the service log file
// ("2006-01-02 15:04:05 | LEVEL | message").
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}
