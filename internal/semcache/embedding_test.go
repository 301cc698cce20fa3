package semcache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	assert.Equal(t, 64, e.Dimensions())

	a, err := e.Embed(context.Background(), "Quarterly revenue by region")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "quarterly REVENUE, by region!")
	require.NoError(t, err)
	assert.Equal(t, a, b, "case and punctuation do not change tokens")
	assert.Equal(t, 1.0, CosineSimilarity(a, b))

	c, err := e.Embed(context.Background(), "weather forecast for tomorrow")
	require.NoError(t, err)
	assert.Less(t, CosineSimilarity(a, c), DefaultThreshold)
}

func TestHashEmbedderEmptyTextIsZero(t *testing.T) {
	vec, err := NewHashEmbedder(0).Embed(context.Background(), "  {} ")
	require.NoError(t, err)
	assert.Len(t, vec, DefaultDimensions)
	assert.True(t, isZero(vec))
}

func TestCanonicalTextSortsKeys(t *testing.T) {
	a, err := CanonicalText(map[string]any{"b": 1, "a": "x"})
	require.NoError(t, err)
	b, err := CanonicalText(map[string]any{"a": "x", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = CanonicalText(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(context.Context, string) ([]float64, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float64{1, 2, 3}, nil
}

func (c *countingEmbedder) Dimensions() int { return 3 }

func TestMemoizedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	m, err := NewMemoizedEmbedder(inner, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Dimensions())

	for i := 0; i < 3; i++ {
		_, err := m.Embed(context.Background(), "same")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.calls)

	inner.err = errors.New("provider down")
	_, err = m.Embed(context.Background(), "other")
	assert.Error(t, err)
	_, err = m.Embed(context.Background(), "same")
	assert.NoError(t, err, "memoized vectors survive provider failures")
}

func TestHashEmbedderSeparatesStructurallyDifferentInputs(t *testing.T) {
	e := NewHashEmbedder(DefaultDimensions)
	cases := map[string][2]map[string]any{
		"number sign":  {{"delta": 1}, {"delta": -1}},
		"decimal":      {{"x": 1.5}, {"x": 15}},
		"key vs value": {{"a": "b c"}, {"a b": "c"}},
	}
	for name, pair := range cases {
		t.Run(name, func(t *testing.T) {
			left, err := CanonicalText(pair[0])
			require.NoError(t, err)
			right, err := CanonicalText(pair[1])
			require.NoError(t, err)

			a, err := e.Embed(context.Background(), left)
			require.NoError(t, err)
			b, err := e.Embed(context.Background(), right)
			require.NoError(t, err)
			assert.Less(t, CosineSimilarity(a, b), DefaultThreshold)
		})
	}
}

func TestHashEmbedderIgnoresKeyOrderAndWordCase(t *testing.T) {
	e := NewHashEmbedder(DefaultDimensions)
	a, err := e.Embed(context.Background(), `{"region":"EMEA","quarter":3}`)
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), `{"quarter":3,"region":"emea"}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, CosineSimilarity(a, b))
}
