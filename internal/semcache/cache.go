package semcache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"taskorch/internal/logging"
	"taskorch/internal/task"
)

const (
	// DefaultThreshold is the minimum similarity counted as a hit.
	DefaultThreshold = 0.95
	// DefaultMaxEntries bounds the number of stored results.
	DefaultMaxEntries = 10000
)

// Options configures a ResultCache.
type Options struct {
	Threshold  float64
	MaxEntries int
	Logger     logging.Logger
}

// Lookup is the outcome of a search. Similarity is the best score seen even
// on a miss.
type Lookup struct {
	Hit        bool
	Similarity float64
	Result     *task.Result
}

// ResultCache maps task inputs to earlier successful results by embedding
// similarity. Embedding and index failures never fail the caller: searches
// degrade to a miss.
type ResultCache struct {
	embedder  EmbeddingProvider
	index     VectorIndex
	threshold float64
	logger    logging.Logger

	mu      sync.RWMutex
	entries *lru.Cache[string, *task.Result]
}

// New builds a cache over the given embedder and index.
func New(embedder EmbeddingProvider, index VectorIndex, opts Options) (*ResultCache, error) {
	if embedder == nil {
		return nil, fmt.Errorf("result cache: embedder is required")
	}
	if index == nil {
		index = NewLinearIndex()
	}
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	logger := logging.OrNop(opts.Logger)

	entries, err := lru.NewWithEvict[string, *task.Result](opts.MaxEntries, func(id string, _ *task.Result) {
		if err := index.Remove(context.Background(), id); err != nil {
			logger.Warn("evict %s from vector index: %v", id, err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create result store: %w", err)
	}
	return &ResultCache{
		embedder:  embedder,
		index:     index,
		threshold: opts.Threshold,
		logger:    logger,
		entries:   entries,
	}, nil
}

// Threshold returns the configured hit threshold.
func (c *ResultCache) Threshold() float64 { return c.threshold }

// Search looks up t using the configured threshold.
func (c *ResultCache) Search(ctx context.Context, t *task.Task) Lookup {
	return c.SearchWithThreshold(ctx, t, c.threshold)
}

// SearchWithThreshold returns the best stored result whose input similarity
// is at least threshold.
func (c *ResultCache) SearchWithThreshold(ctx context.Context, t *task.Task, threshold float64) Lookup {
	vec, err := c.embed(ctx, t)
	if err != nil {
		c.logger.Warn("cache lookup for %s skipped: %v", t.ID, err)
		return Lookup{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	match, ok, err := c.index.Nearest(ctx, vec)
	if err != nil {
		c.logger.Warn("cache lookup for %s failed: %v", t.ID, err)
		return Lookup{}
	}
	if !ok {
		return Lookup{}
	}
	if match.Similarity < threshold {
		return Lookup{Similarity: match.Similarity}
	}
	result, ok := c.entries.Get(match.ID)
	if !ok {
		return Lookup{Similarity: match.Similarity}
	}
	return Lookup{Hit: true, Similarity: match.Similarity, Result: result}
}

// Store retains result under t.ID. Failed results and results that were
// themselves served from the cache are not stored.
func (c *ResultCache) Store(ctx context.Context, t *task.Task, result *task.Result) error {
	if result == nil || !result.Succeeded || result.FromCache {
		return nil
	}
	vec, err := c.embed(ctx, t)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.index.Add(ctx, t.ID, vec); err != nil {
		return fmt.Errorf("index result %s: %w", t.ID, err)
	}
	c.entries.Add(t.ID, result)
	return nil
}

// Len returns the number of stored results.
func (c *ResultCache) Len() int {
	return c.entries.Len()
}

func (c *ResultCache) embed(ctx context.Context, t *task.Task) ([]float64, error) {
	text, err := CanonicalText(t.Input)
	if err != nil {
		return nil, err
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed input: %w", err)
	}
	return vec, nil
}
