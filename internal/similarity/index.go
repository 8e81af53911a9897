// Package similarity ranks catalog books by text similarity. Each book is
// embedded as a TF-IDF vector over its descriptive fields; vectors are
// L2-normalized so cosine similarity reduces to a dot product.
package similarity

import (
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sync/errgroup"

	"bookrec/pkg/domain"
)

// Match is one similar book with its cosine score in [0, 1].
type Match struct {
	ID    int64
	Score float64
}

// Index holds normalized TF-IDF vectors for the catalog.
type Index struct {
	mu      sync.RWMutex
	ids     []int64
	byID    map[int64]int
	vectors []map[string]float64
}

// New returns an empty index. Call Build before querying.
func New() *Index {
	return &Index{byID: make(map[int64]int)}
}

// Build replaces the index contents with vectors for the given books.
// The embedded text mirrors the catalog's descriptive columns: genre,
// subgenre, keywords, author, description.
func (x *Index) Build(books []domain.Book) error {
	n := len(books)
	ids := make([]int64, n)
	tokenized := make([][]string, n)

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, b := range books {
		i, b := i, b
		g.Go(func() error {
			ids[i] = b.ID
			tokenized[i] = tokenize(strings.Join([]string{
				b.Genre, b.Subgenre, b.Keywords, b.Author, b.Description,
			}, " "))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Document frequencies over the whole corpus.
	df := make(map[string]int)
	for _, tokens := range tokenized {
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	vectors := make([]map[string]float64, n)
	vg := new(errgroup.Group)
	vg.SetLimit(runtime.GOMAXPROCS(0))
	for i := range tokenized {
		i := i
		vg.Go(func() error {
			vectors[i] = vectorize(tokenized[i], df, n)
			return nil
		})
	}
	if err := vg.Wait(); err != nil {
		return err
	}

	byID := make(map[int64]int, n)
	for i, id := range ids {
		byID[id] = i
	}

	x.mu.Lock()
	x.ids = ids
	x.byID = byID
	x.vectors = vectors
	x.mu.Unlock()
	return nil
}

// Len reports the number of indexed books.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// Similar returns the top-k most similar books to the given ID, descending
// by score, never including the query book. Unknown IDs yield no matches.
func (x *Index) Similar(bookID int64, k int) []Match {
	x.mu.RLock()
	defer x.mu.RUnlock()

	qi, ok := x.byID[bookID]
	if !ok || k <= 0 {
		return nil
	}
	query := x.vectors[qi]

	matches := make([]Match, 0, len(x.ids)-1)
	for i, id := range x.ids {
		if id == bookID {
			continue
		}
		score := dot(query, x.vectors[i])
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{ID: id, Score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func vectorize(tokens []string, df map[string]int, corpusSize int) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	vec := make(map[string]float64, len(tf))
	var norm float64
	for tok, count := range tf {
		// Smoothed IDF; keeps terms present in every document from zeroing out.
		idf := math.Log(float64(1+corpusSize)/float64(1+df[tok])) + 1
		w := count * idf
		vec[tok] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for tok := range vec {
			vec[tok] /= norm
		}
	}
	return vec
}

func dot(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for tok, wa := range a {
		if wb, ok := b[tok]; ok {
			sum += wa * wb
		}
	}
	return sum
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
