package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"bookrec/pkg/domain"
)

type fakeLocation struct {
	mu     sync.Mutex
	params map[string]string
	sets   int
}

func newFakeLocation() *fakeLocation {
	return &fakeLocation{params: make(map[string]string)}
}

func (l *fakeLocation) Param(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.params[name]
}

func (l *fakeLocation) SetParam(name, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.params[name] = value
	l.sets++
}

func (l *fakeLocation) DeleteParam(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.params, name)
}

func (l *fakeLocation) setCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sets
}

var searchBooks = []domain.Book{
	{ID: 1, Title: "Dune", Author: "Frank Herbert"},
	{ID: 2, Title: "Dune Messiah", Author: "Frank Herbert"},
	{ID: 3, Title: "Emma", Author: "Jane Austen"},
	{ID: 4, Title: "The Dispossessed", Author: "Ursula K. Le Guin"},
	{ID: 5, Title: "Endurance", Author: "Alfred Lansing"},
}

// similarServer serves /api/books/{id}/similar. Handlers can be blocked per
// book through the gate channels; the seen channel reports request arrival.
type similarServer struct {
	srv   *httptest.Server
	mu    sync.Mutex
	gates map[int64]chan struct{}
	seen  chan int64
	fail  map[int64]bool
}

func newSimilarServer(t *testing.T) *similarServer {
	t.Helper()
	s := &similarServer{
		gates: make(map[int64]chan struct{}),
		seen:  make(chan int64, 16),
		fail:  make(map[int64]bool),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id int64
		var tail string
		if _, err := fmt.Sscanf(r.URL.Path, "/api/books/%d/%s", &id, &tail); err != nil || tail != "similar" {
			http.NotFound(w, r)
			return
		}
		s.seen <- id
		s.mu.Lock()
		gate := s.gates[id]
		shouldFail := s.fail[id]
		s.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if shouldFail {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"book_id": id,
			"similar_books": []domain.SimilarBook{
				{ID: id + 100, Title: fmt.Sprintf("similar to %d", id), SimilarityScore: 0.9},
			},
		})
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *similarServer) block(id int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gates[id] = gate
	return gate
}

func (s *similarServer) failOn(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[id] = true
}

func newTestSearch(t *testing.T, loc Location) (*Search, *similarServer) {
	t.Helper()
	srv := newSimilarServer(t)
	api := newTestClient(t, srv.srv.URL)
	return NewSearch(api, NewCache(), searchBooks, loc), srv
}

func TestCandidatesFiltering(t *testing.T) {
	s, _ := newTestSearch(t, nil)

	// Empty query yields no candidates.
	if got := s.Candidates(); got != nil {
		t.Fatalf("empty query candidates = %v", got)
	}

	// Case-insensitive title match, collection order.
	s.SetQuery("dU")
	got := s.Candidates()
	if len(got) != 3 {
		t.Fatalf("candidates = %d, want 3", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 2 || got[2].ID != 5 {
		t.Fatalf("candidate order = %v, %v, %v", got[0].ID, got[1].ID, got[2].ID)
	}

	// Author matches count too.
	s.SetQuery("herbert")
	got = s.Candidates()
	if len(got) != 2 {
		t.Fatalf("author candidates = %d, want 2", len(got))
	}

	// No match.
	s.SetQuery("zzzz")
	if got := s.Candidates(); len(got) != 0 {
		t.Fatalf("no-match candidates = %v", got)
	}
}

func TestCandidatesCapped(t *testing.T) {
	books := make([]domain.Book, 25)
	for i := range books {
		books[i] = domain.Book{ID: int64(i + 1), Title: fmt.Sprintf("Dune volume %d", i+1), Author: "X"}
	}
	srv := newSimilarServer(t)
	api := newTestClient(t, srv.srv.URL)
	s := NewSearch(api, NewCache(), books, nil)

	s.SetQuery("dune")
	got := s.Candidates()
	if len(got) != MaxCandidates {
		t.Fatalf("candidates = %d, want %d", len(got), MaxCandidates)
	}
	for i, b := range got {
		if b.ID != int64(i+1) {
			t.Fatalf("candidates not in collection order: %v", got)
		}
	}
}

func TestSelectBookSetsQueryAndSyncsURL(t *testing.T) {
	loc := newFakeLocation()
	s, _ := newTestSearch(t, loc)

	s.SelectBook(context.Background(), searchBooks[0])
	if s.Query() != "Dune" {
		t.Fatalf("query = %q, want exact title", s.Query())
	}
	if sel, ok := s.Selected(); !ok || sel.ID != 1 {
		t.Fatalf("selected = (%+v, %v)", sel, ok)
	}
	if loc.Param("bookId") != "1" || loc.Param("search") != "Dune" {
		t.Fatalf("params = %v", loc.params)
	}
	if len(s.Similar()) == 0 {
		t.Fatal("expected similar results")
	}

	// Selecting the same book again is idempotent and served from cache.
	before := s.Query()
	s.SelectBook(context.Background(), searchBooks[0])
	if s.Query() != before {
		t.Fatalf("query changed on reselect: %q", s.Query())
	}
}

func TestSelectRaceLastSelectionWins(t *testing.T) {
	s, srv := newTestSearch(t, nil)

	gate := srv.block(1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.SelectBook(context.Background(), searchBooks[0]) // book 1, blocked
	}()
	<-srv.seen // book 1 request is in flight

	s.SelectBook(context.Background(), searchBooks[1]) // book 2, resolves now
	<-srv.seen

	close(gate) // book 1 resolves after book 2
	<-done

	// Book 2's results stand even though book 1 settled last.
	similar := s.Similar()
	if len(similar) != 1 || similar[0].ID != 102 {
		t.Fatalf("similar = %+v, want book 2's results", similar)
	}
	if sel, _ := s.Selected(); sel.ID != 2 {
		t.Fatalf("selected = %d, want 2", sel.ID)
	}
}

func TestHandleSearchSelectsFirstCandidate(t *testing.T) {
	loc := newFakeLocation()
	s, srv := newTestSearch(t, loc)

	// Typing "du" then pressing Enter selects Dune and fetches 12 similar.
	s.SetQuery("du")
	s.HandleSearch(context.Background())

	if sel, ok := s.Selected(); !ok || sel.Title != "Dune" {
		t.Fatalf("selected = (%+v, %v)", sel, ok)
	}
	if s.Query() != "Dune" {
		t.Fatalf("query = %q", s.Query())
	}
	select {
	case id := <-srv.seen:
		if id != 1 {
			t.Fatalf("fetched similar for %d, want 1", id)
		}
	default:
		t.Fatal("no similar fetch observed")
	}

	// A second Enter with a selection in place does nothing.
	s.HandleSearch(context.Background())
	select {
	case id := <-srv.seen:
		t.Fatalf("unexpected extra fetch for %d", id)
	default:
	}

	// Enter with no candidates does nothing.
	s.Reset()
	s.SetQuery("zzzz")
	s.HandleSearch(context.Background())
	if _, ok := s.Selected(); ok {
		t.Fatal("nothing should be selected")
	}
}

func TestResetClearsURLParams(t *testing.T) {
	loc := newFakeLocation()
	s, _ := newTestSearch(t, loc)

	s.SelectBook(context.Background(), searchBooks[0])
	s.Reset()

	if s.Query() != "" {
		t.Fatalf("query = %q", s.Query())
	}
	if _, ok := s.Selected(); ok {
		t.Fatal("selection should be cleared")
	}
	if s.Similar() != nil {
		t.Fatal("similar results should be cleared")
	}
	if loc.Param("bookId") != "" || loc.Param("search") != "" {
		t.Fatalf("params not cleared: %v", loc.params)
	}
}

func TestRestoreFromURLWithoutRewriting(t *testing.T) {
	loc := newFakeLocation()
	loc.params["bookId"] = "2"
	loc.params["search"] = "Dune Messiah"
	s, _ := newTestSearch(t, loc)

	s.Restore(context.Background())

	if sel, ok := s.Selected(); !ok || sel.ID != 2 {
		t.Fatalf("selected = (%+v, %v)", sel, ok)
	}
	if s.Query() != "Dune Messiah" {
		t.Fatalf("query = %q", s.Query())
	}
	if loc.setCount() != 0 {
		t.Fatalf("restore rewrote the URL %d times", loc.setCount())
	}
}

func TestRestoreFallsBackToSearchParam(t *testing.T) {
	loc := newFakeLocation()
	loc.params["search"] = "du"
	s, _ := newTestSearch(t, loc)

	s.Restore(context.Background())

	if _, ok := s.Selected(); ok {
		t.Fatal("no selection expected")
	}
	if s.Query() != "du" {
		t.Fatalf("query = %q", s.Query())
	}
}

func TestFailedSimilarFetchKeepsSelection(t *testing.T) {
	s, srv := newTestSearch(t, nil)
	srv.failOn(3)

	s.SelectBook(context.Background(), searchBooks[2])
	if sel, ok := s.Selected(); !ok || sel.ID != 3 {
		t.Fatalf("selected = (%+v, %v)", sel, ok)
	}
	if got := s.Similar(); len(got) != 0 {
		t.Fatalf("similar = %+v, want empty", got)
	}
}

func TestSingleCandidateEnterSelectsIt(t *testing.T) {
	books := []domain.Book{
		{ID: 1, Title: "Dune", Author: "Herbert"},
		{ID: 2, Title: "Foundation", Author: "Asimov"},
	}
	srv := newSimilarServer(t)
	api := newTestClient(t, srv.srv.URL)
	s := NewSearch(api, NewCache(), books, nil)

	s.SetQuery("du")
	got := s.Candidates()
	if len(got) != 1 || got[0].Title != "Dune" {
		t.Fatalf("candidates = %v, want exactly Dune", got)
	}

	s.HandleSearch(context.Background())
	if sel, ok := s.Selected(); !ok || sel.ID != 1 {
		t.Fatalf("selected = (%+v, %v)", sel, ok)
	}
	if id := <-srv.seen; id != 1 {
		t.Fatalf("similar fetch for %d, want 1", id)
	}
}

func TestCandidateMatchIsSubstring(t *testing.T) {
	s, _ := newTestSearch(t, nil)
	s.SetQuery("ssess")
	got := s.Candidates()
	if len(got) != 1 || !strings.Contains(got[0].Title, "Dispossessed") {
		t.Fatalf("candidates = %v", got)
	}
}
