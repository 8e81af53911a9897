// Package client is the browser-side SDK for the book recommendation API:
// a credentialed REST transport plus the caching, session, search, and
// favorite-toggle coordinators the catalog UI is built on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"bookrec/pkg/domain"
)

// Client calls the book recommendation service over HTTP. A cookie jar keeps
// every request credentialed once a session cookie has been issued.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// BookPage is one page of catalog results.
type BookPage struct {
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Books    []domain.Book `json:"books"`
}

// AlertsReport is the admin alerts payload.
type AlertsReport struct {
	Count         int            `json:"count"`
	CriticalCount int            `json:"critical_count"`
	Alerts        []domain.Alert `json:"alerts"`
}

// StatusReport is the admin system status payload.
type StatusReport struct {
	Status    domain.SystemHealth `json:"status"`
	Message   string              `json:"message"`
	Timestamp time.Time           `json:"timestamp"`
}

// MonitorStatus is the monitor loop snapshot.
type MonitorStatus struct {
	Running      bool   `json:"running"`
	Interval     string `json:"interval"`
	ChecksRun    int64  `json:"checks_run"`
	AlertsRaised int64  `json:"alerts_raised"`
}

// New constructs a client with its own cookie jar.
func New(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (c *Client) SignUp(ctx context.Context, name, email, password string) (domain.User, error) {
	payload := map[string]string{"name": name, "email": email, "password": password}
	var user domain.User
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/signup", payload, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (domain.User, error) {
	payload := map[string]string{"email": email, "password": password}
	var user domain.User
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", payload, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var user domain.User
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (c *Client) ListBooks(ctx context.Context, page, pageSize int) (BookPage, error) {
	var out BookPage
	path := fmt.Sprintf("/api/books?page=%d&page_size=%d", page, pageSize)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return BookPage{}, err
	}
	return out, nil
}

func (c *Client) GetBook(ctx context.Context, id int64) (domain.Book, error) {
	var book domain.Book
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/books/%d", id), nil, &book); err != nil {
		return domain.Book{}, err
	}
	return book, nil
}

func (c *Client) SimilarBooks(ctx context.Context, id int64, limit int) ([]domain.SimilarBook, error) {
	var out struct {
		BookID  int64                `json:"book_id"`
		Similar []domain.SimilarBook `json:"similar_books"`
	}
	path := fmt.Sprintf("/api/books/%d/similar?limit=%d", id, limit)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Similar, nil
}

func (c *Client) Favorites(ctx context.Context) ([]domain.FavoriteBook, error) {
	var out struct {
		Count     int                   `json:"count"`
		Favorites []domain.FavoriteBook `json:"favorites"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/favorites", nil, &out); err != nil {
		return nil, err
	}
	return out.Favorites, nil
}

func (c *Client) AddFavorite(ctx context.Context, bookID int64) error {
	payload := map[string]int64{"book_id": bookID}
	return c.doJSON(ctx, http.MethodPost, "/api/favorites", payload, nil)
}

func (c *Client) RemoveFavorite(ctx context.Context, bookID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/favorites/%d", bookID), nil, nil)
}

func (c *Client) CheckFavorite(ctx context.Context, bookID int64) (bool, error) {
	var out struct {
		BookID     int64 `json:"book_id"`
		IsFavorite bool  `json:"is_favorite"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/favorites/%d/check", bookID), nil, &out); err != nil {
		return false, err
	}
	return out.IsFavorite, nil
}

func (c *Client) FavoritesCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/favorites/count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) AdminStatus(ctx context.Context) (StatusReport, error) {
	var out StatusReport
	if err := c.doJSON(ctx, http.MethodGet, "/admin/api/status", nil, &out); err != nil {
		return StatusReport{}, err
	}
	return out, nil
}

func (c *Client) AdminMonitorStatus(ctx context.Context) (MonitorStatus, error) {
	var out MonitorStatus
	if err := c.doJSON(ctx, http.MethodGet, "/admin/api/monitor/status", nil, &out); err != nil {
		return MonitorStatus{}, err
	}
	return out, nil
}

func (c *Client) AdminAlerts(ctx context.Context) (AlertsReport, error) {
	var out AlertsReport
	if err := c.doJSON(ctx, http.MethodGet, "/admin/api/alerts", nil, &out); err != nil {
		return AlertsReport{}, err
	}
	return out, nil
}

func (c *Client) AdminLogs(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	var out struct {
		Count int               `json:"count"`
		Logs  []domain.LogEntry `json:"logs"`
	}
	path := fmt.Sprintf("/admin/api/logs?lines=%d", limit)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
