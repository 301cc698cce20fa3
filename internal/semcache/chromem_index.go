package semcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

var errExternalEmbeddings = errors.New("result cache supplies its own embeddings")

// ChromemIndex keeps vectors in an in-memory chromem-go collection. chromem
// ranks in float32 over normalised vectors, so the winning candidate is
// re-scored against its original float64 vector.
type ChromemIndex struct {
	collection *chromem.Collection

	mu      sync.RWMutex
	vectors map[string][]float64
}

// NewChromemIndex creates a collection in a fresh in-memory database.
func NewChromemIndex(name string) (*ChromemIndex, error) {
	if name == "" {
		name = "result-cache"
	}
	db := chromem.NewDB()
	embed := func(context.Context, string) ([]float32, error) {
		return nil, errExternalEmbeddings
	}
	collection, err := db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &ChromemIndex{collection: collection, vectors: make(map[string][]float64)}, nil
}

// Add implements VectorIndex. Zero vectors cannot be normalised and are not
// indexed.
func (c *ChromemIndex) Add(ctx context.Context, id string, vec []float64) error {
	if isZero(vec) {
		return c.Remove(ctx, id)
	}
	doc := chromem.Document{ID: id, Embedding: toFloat32(vec)}
	if err := c.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add vector %s: %w", id, err)
	}
	c.mu.Lock()
	c.vectors[id] = append([]float64(nil), vec...)
	c.mu.Unlock()
	return nil
}

// Remove implements VectorIndex.
func (c *ChromemIndex) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	_, ok := c.vectors[id]
	delete(c.vectors, id)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("remove vector %s: %w", id, err)
	}
	return nil
}

// Nearest implements VectorIndex.
func (c *ChromemIndex) Nearest(ctx context.Context, vec []float64) (Match, bool, error) {
	if isZero(vec) || c.collection.Count() == 0 {
		return Match{}, false, nil
	}
	results, err := c.collection.QueryEmbedding(ctx, toFloat32(vec), 1, nil, nil)
	if err != nil {
		return Match{}, false, fmt.Errorf("query vectors: %w", err)
	}
	if len(results) == 0 {
		return Match{}, false, nil
	}
	id := results[0].ID
	c.mu.RLock()
	stored, ok := c.vectors[id]
	c.mu.RUnlock()
	if !ok {
		return Match{}, false, nil
	}
	return Match{ID: id, Similarity: CosineSimilarity(vec, stored)}, true, nil
}

// Len implements VectorIndex.
func (c *ChromemIndex) Len() int {
	return c.collection.Count()
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
