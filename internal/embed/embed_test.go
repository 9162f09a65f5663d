package embed

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "compute user score", RoleDoc)
	require.NoError(t, err)
	b, err := e.Embed(ctx, "compute user score", RoleDoc)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, StaticDimensions)
	assert.InDelta(t, 1.0, vectorNorm(a), 1e-5)
}

func TestStaticEmbedderEmptyText(t *testing.T) {
	e := NewStaticEmbedder()
	vec, err := e.Embed(context.Background(), "   ", RoleDoc)
	require.NoError(t, err)
	assert.Equal(t, make([]float32, StaticDimensions), vec)
}

func TestStaticEmbedderSimilarTextsCloser(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	base, _ := e.Embed(ctx, "recompute the user score", RoleDoc)
	near, _ := e.Embed(ctx, "recompute user scores", RoleDoc)
	far, _ := e.Embed(ctx, "parse yaml configuration file", RoleDoc)

	dot := func(a, b []float32) float64 {
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s
	}
	assert.Greater(t, dot(base, near), dot(base, far))
}

func TestCacheKeyComponents(t *testing.T) {
	base := CacheKey("model-a", RoleDoc, "text")

	assert.Equal(t, base, CacheKey("model-a", RoleDoc, "text"))
	assert.NotEqual(t, base, CacheKey("model-b", RoleDoc, "text"))
	assert.NotEqual(t, base, CacheKey("model-a", RoleQuery, "text"))
	assert.NotEqual(t, base, CacheKey("model-a", RoleDoc, "other"))
	assert.Len(t, base, 64)
}

// countingEmbedder records how many texts reached the underlying model.
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	inner *StaticEmbedder
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text}, role)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	c.mu.Lock()
	c.calls += len(texts)
	c.mu.Unlock()
	return c.inner.EmbedBatch(ctx, texts, role)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelID() string { return "counting-v1" }
func (c *countingEmbedder) Close() error    { return nil }

// mapCacheStore is an in-memory CacheStore for tests.
type mapCacheStore struct {
	mu   sync.Mutex
	data map[string][]float32
}

func newMapCacheStore() *mapCacheStore {
	return &mapCacheStore{data: map[string][]float32{}}
}

func (s *mapCacheStore) GetEmbedding(key string) ([]float32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapCacheStore) PutEmbedding(key string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = vector
	return nil
}

func TestCachedEmbedderHitsSkipModel(t *testing.T) {
	counting := &countingEmbedder{inner: NewStaticEmbedder()}
	cached, err := NewCachedEmbedder(counting, 16, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "hello world", RoleDoc)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)

	second, err := cached.Embed(ctx, "hello world", RoleDoc)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)
	assert.Equal(t, first, second)

	// Different role is a different cache entry.
	_, err = cached.Embed(ctx, "hello world", RoleQuery)
	require.NoError(t, err)
	assert.Equal(t, 2, counting.calls)
}

func TestCachedEmbedderBatchPartialHits(t *testing.T) {
	counting := &countingEmbedder{inner: NewStaticEmbedder()}
	cached, err := NewCachedEmbedder(counting, 16, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cached.Embed(ctx, "alpha", RoleDoc)
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"}, RoleDoc)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, 3, counting.calls)

	direct, _ := counting.inner.Embed(ctx, "beta", RoleDoc)
	assert.Equal(t, direct, vecs[1])
}

func TestCachedEmbedderPersistentStore(t *testing.T) {
	store := newMapCacheStore()
	counting := &countingEmbedder{inner: NewStaticEmbedder()}

	cached, err := NewCachedEmbedder(counting, 16, store, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cached.Embed(ctx, "persist me", RoleDoc)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)
	assert.Len(t, store.data, 1)

	// A fresh wrapper with an empty memory cache hits the store.
	fresh, err := NewCachedEmbedder(counting, 16, store, nil)
	require.NoError(t, err)
	_, err = fresh.Embed(ctx, "persist me", RoleDoc)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)
}

func TestCachedEmbedderEvictionRefetches(t *testing.T) {
	counting := &countingEmbedder{inner: NewStaticEmbedder()}
	cached, err := NewCachedEmbedder(counting, 2, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cached.Embed(ctx, fmt.Sprintf("text-%d", i), RoleDoc)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, counting.calls)

	// text-0 was evicted by the two newer entries.
	_, err = cached.Embed(ctx, "text-0", RoleDoc)
	require.NoError(t, err)
	assert.Equal(t, 4, counting.calls)
}
