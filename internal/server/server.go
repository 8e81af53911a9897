// Package server exposes the HTTP API: auth, catalog, favorites, and the
// admin dashboard endpoints.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookrec/internal/app"
	"bookrec/internal/monitor"
	"bookrec/internal/util"
	"bookrec/pkg/domain"
	"bookrec/pkg/store"
)

// SessionCookie is the browser session cookie name.
const SessionCookie = "bookrec_session"

// Limiter gates a request key; nil limiters admit everything.
type Limiter interface {
	Allow(key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	Monitor       *monitor.Monitor
	LogPath       string
	AppOrigin     string
	SessionTTL    time.Duration
	SignupLimiter Limiter
	LoginLimiter  Limiter
}

// Server exposes HTTP endpoints for the book recommendation service.
type Server struct {
	app           *app.App
	monitor       *monitor.Monitor
	logPath       string
	appOrigin     string
	sessionTTL    time.Duration
	signupLimiter Limiter
	loginLimiter  Limiter
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Server{
		app:           cfg.App,
		monitor:       cfg.Monitor,
		logPath:       cfg.LogPath,
		appOrigin:     cfg.AppOrigin,
		sessionTTL:    ttl,
		signupLimiter: cfg.SignupLimiter,
		loginLimiter:  cfg.LoginLimiter,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler wrapped in the middleware chain.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.appOrigin, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))

	// catalog
	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/search", s.handleSearch)
	s.mux.HandleFunc("/api/books/top-rated", s.handleTopRated)
	s.mux.HandleFunc("/api/books/", s.handleBookByID)

	// favorites
	s.mux.Handle("/api/favorites", s.authenticated(s.handleFavorites))
	s.mux.Handle("/api/favorites/count", s.authenticated(s.handleFavoriteCount))
	s.mux.Handle("/api/favorites/", s.authenticated(s.handleFavoriteByID))

	// admin dashboard
	s.mux.Handle("/admin/api/status", s.adminOnly(s.handleAdminStatus))
	s.mux.Handle("/admin/api/monitor/status", s.adminOnly(s.handleMonitorStatus))
	s.mux.Handle("/admin/api/alerts", s.adminOnly(s.handleAdminAlerts))
	s.mux.Handle("/admin/api/alerts/", s.adminOnly(s.handleAdminAlertByID))
	s.mux.Handle("/admin/api/logs", s.adminOnly(s.handleAdminLogs))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !user.IsAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := sessionToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(token)
}

func sessionToken(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.signupLimiter != nil && !s.signupLimiter.Allow(util.ClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req signupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.SignUp(req.Name, req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.loginLimiter != nil && !s.loginLimiter.Allow(util.ClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrUserInactive) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if token, ok := sessionToken(r); ok {
		if err := s.app.Logout(token); err != nil {
			// The browser still gets signed out even when the session
			// store fails; the orphaned record expires on its own.
			clearSessionCookie(w)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// catalog handlers
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filter := store.BookFilter{
		Genre:    r.URL.Query().Get("genre"),
		Language: r.URL.Query().Get("language"),
	}
	if raw := r.URL.Query().Get("min_rating"); raw != "" {
		min, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid min_rating")
			return
		}
		filter.MinRating = min
		filter.HasMin = true
	}
	page, err := s.app.ListBooks(filter, queryInt(r, "page", 1), queryInt(r, "page_size", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	page, err := s.app.SearchBooks(query, queryInt(r, "page", 1), queryInt(r, "page_size", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleTopRated(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.TopRatedBooks(queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(books), "books": books})
}

// handleBookByID serves /api/books/{id} and /api/books/{id}/similar.
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/books/")
	idPart, tail, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	switch tail {
	case "":
		book, err := s.app.GetBook(id)
		if err != nil {
			s.writeBookError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case "similar":
		similar, err := s.app.SimilarBooks(id, queryInt(r, "limit", 12))
		if err != nil {
			s.writeBookError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"book_id": id, "similar_books": similar})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) writeBookError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrBookNotFound) {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

// favorite handlers
func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		favorites, err := s.app.ListFavorites(user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(favorites), "favorites": favorites})
	case http.MethodPost:
		var req favoriteRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.app.AddFavorite(user.ID, req.BookID); err != nil {
			switch {
			case errors.Is(err, app.ErrBookNotFound):
				writeError(w, http.StatusNotFound, "book not found")
			case errors.Is(err, store.ErrDuplicateFavorite):
				writeError(w, http.StatusBadRequest, "book already in favorites")
			default:
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"book_id": req.BookID, "is_favorite": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleFavoriteCount(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	count, err := s.app.CountFavorites(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// handleFavoriteByID serves DELETE /api/favorites/{id} and
// GET /api/favorites/{id}/check.
func (s *Server) handleFavoriteByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/favorites/")
	idPart, tail, _ := strings.Cut(rest, "/")
	bookID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	switch {
	case tail == "" && r.Method == http.MethodDelete:
		removed, err := s.app.RemoveFavorite(user.ID, bookID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !removed {
			writeError(w, http.StatusNotFound, "favorite not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"book_id": bookID, "is_favorite": false})
	case tail == "check" && r.Method == http.MethodGet:
		isFav, err := s.app.IsFavorite(user.ID, bookID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"book_id": bookID, "is_favorite": isFav})
	case tail == "":
		methodNotAllowed(w)
	default:
		http.NotFound(w, r)
	}
}

// admin handlers
func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	health, message := s.app.SystemStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    health,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor not running")
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.Stats())
}

func (s *Server) handleAdminAlerts(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	alerts, err := s.app.UnresolvedAlerts(queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	critical := 0
	for _, a := range alerts {
		if a.Severity == domain.SeverityCritical {
			critical++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":          len(alerts),
		"critical_count": critical,
		"alerts":         alerts,
	})
}

// handleAdminAlertByID serves POST /admin/api/alerts/{id}/resolve.
func (s *Server) handleAdminAlertByID(w http.ResponseWriter, r *http.Request, _ domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/api/alerts/")
	id, tail, _ := strings.Cut(rest, "/")
	if id == "" || tail != "resolve" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	resolved, err := s.app.ResolveAlert(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !resolved {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alert_id": id, "resolved": true})
}

func (s *Server) handleAdminLogs(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	lines := queryInt(r, "lines", 500)
	if lines > 500 {
		lines = 500
	}
	logs, err := monitor.ReadRecentLogs(s.logPath, lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if level := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("level"))); level != "" {
		filtered := logs[:0]
		for _, entry := range logs {
			if entry.Level == level {
				filtered = append(filtered, entry)
			}
		}
		logs = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(logs), "logs": logs})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type favoriteRequest struct {
	BookID int64 `json:"book_id"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
