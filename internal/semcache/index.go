package semcache

import (
	"context"
	"math"
	"sync"
)

// Match is the closest stored vector to a query.
type Match struct {
	ID         string
	Similarity float64
}

// VectorIndex stores vectors by id and answers nearest-neighbour queries by
// cosine similarity.
type VectorIndex interface {
	Add(ctx context.Context, id string, vec []float64) error
	Remove(ctx context.Context, id string) error
	// Nearest returns the most similar stored vector. The boolean is false
	// when the index holds nothing comparable.
	Nearest(ctx context.Context, vec []float64) (Match, bool, error)
	Len() int
}

// CosineSimilarity returns the cosine of the angle between a and b. Identical
// non-zero vectors score exactly 1. Zero or mismatched vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	identical := true
	var dot, na, nb float64
	for i := range a {
		if a[i] != b[i] {
			identical = false
		}
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	if identical {
		return 1
	}
	sim := dot / math.Sqrt(na*nb)
	switch {
	case sim > 1:
		return 1
	case sim < -1:
		return -1
	}
	return sim
}

// LinearIndex compares a query against every stored vector. Among equally
// similar vectors the one added first wins.
type LinearIndex struct {
	mu      sync.RWMutex
	ids     []string
	vectors map[string][]float64
}

// NewLinearIndex returns an empty linear index.
func NewLinearIndex() *LinearIndex {
	return &LinearIndex{vectors: make(map[string][]float64)}
}

// Add implements VectorIndex. Re-adding an id replaces its vector in place.
func (l *LinearIndex) Add(_ context.Context, id string, vec []float64) error {
	stored := append([]float64(nil), vec...)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.vectors[id]; !ok {
		l.ids = append(l.ids, id)
	}
	l.vectors[id] = stored
	return nil
}

// Remove implements VectorIndex.
func (l *LinearIndex) Remove(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.vectors[id]; !ok {
		return nil
	}
	delete(l.vectors, id)
	for i, existing := range l.ids {
		if existing == id {
			l.ids = append(l.ids[:i], l.ids[i+1:]...)
			break
		}
	}
	return nil
}

// Nearest implements VectorIndex.
func (l *LinearIndex) Nearest(ctx context.Context, vec []float64) (Match, bool, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, false, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var best Match
	found := false
	for _, id := range l.ids {
		sim := CosineSimilarity(vec, l.vectors[id])
		if !found || sim > best.Similarity {
			best, found = Match{ID: id, Similarity: sim}, true
		}
	}
	return best, found, nil
}

// Len implements VectorIndex.
func (l *LinearIndex) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}
