// Package semcache is the approximate result cache: task inputs are embedded
// as vectors and a new task reuses a stored result when its input is close
// enough in cosine similarity.
package semcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDimensions is the HashEmbedder width used when none is configured.
const DefaultDimensions = 256

// EmbeddingProvider turns text into a fixed-width vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// CanonicalText renders a task input as stable text. encoding/json sorts map
// keys, so equal inputs always produce equal text.
func CanonicalText(input map[string]any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("canonicalize input: %w", err)
	}
	return string(raw), nil
}

// HashEmbedder is a deterministic placeholder embedding: each feature is
// hashed with FNV-1a into a signed bucket. JSON text yields one feature per
// scalar, keyed by its path: numbers, booleans and null are kept whole and
// strings contribute one feature per lowercase word. Other text falls back to
// a plain bag of words. Equal text always yields an equal vector; text with
// no features yields the zero vector.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns an embedder producing dims-wide vectors.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions implements EmbeddingProvider.
func (e *HashEmbedder) Dimensions() int { return e.dims }

// Embed implements EmbeddingProvider.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, e.dims)
	for _, feature := range features(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return vec, nil
}

func features(text string) []string {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return words(text)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return words(text)
	}
	var out []string
	collect("", doc, &out)
	return out
}

// collect appends path-qualified features. Keys are quoted so that a key
// containing the separator cannot alias a nested path.
func collect(path string, v any, out *[]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			collect(path+"/"+strconv.Quote(strings.ToLower(k)), child, out)
		}
	case []any:
		for i, child := range val {
			collect(path+"/["+strconv.Itoa(i)+"]", child, out)
		}
	case string:
		for _, w := range words(val) {
			*out = append(*out, path+":"+w)
		}
	case json.Number:
		*out = append(*out, path+"="+val.String())
	case bool:
		*out = append(*out, path+"="+strconv.FormatBool(val))
	case nil:
		*out = append(*out, path+"=null")
	}
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// MemoizedEmbedder caches the vectors of an inner provider by text.
type MemoizedEmbedder struct {
	inner EmbeddingProvider
	memo  *lru.Cache[string, []float64]
}

// NewMemoizedEmbedder wraps inner with an LRU memo of the given size.
func NewMemoizedEmbedder(inner EmbeddingProvider, size int) (*MemoizedEmbedder, error) {
	memo, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding memo: %w", err)
	}
	return &MemoizedEmbedder{inner: inner, memo: memo}, nil
}

// Dimensions implements EmbeddingProvider.
func (m *MemoizedEmbedder) Dimensions() int { return m.inner.Dimensions() }

// Embed implements EmbeddingProvider. Callers must not modify the returned slice.
func (m *MemoizedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if vec, ok := m.memo.Get(text); ok {
		return vec, nil
	}
	vec, err := m.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	m.memo.Add(text, vec)
	return vec, nil
}
