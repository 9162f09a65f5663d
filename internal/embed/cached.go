package embed

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheStore is the persistent layer behind the in-memory cache.
// Implementations must tolerate concurrent readers.
type CacheStore interface {
	GetEmbedding(key string) ([]float32, bool, error)
	PutEmbedding(key string, vector []float32) error
}

// CachedEmbedder wraps an Embedder with an in-memory LRU backed by an
// optional persistent store. Keys include the model id and role, so a
// model upgrade or role change never returns a stale vector.
type CachedEmbedder struct {
	inner  Embedder
	memory *lru.Cache[string, []float32]
	store  CacheStore
	logger *slog.Logger
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with caching. store may be nil for a
// memory-only cache.
func NewCachedEmbedder(inner Embedder, cacheSize int, store CacheStore, logger *slog.Logger) (*CachedEmbedder, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	memory, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{
		inner:  inner,
		memory: memory,
		store:  store,
		logger: logger,
	}, nil
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, role)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := CacheKey(e.inner.ModelID(), role, text)
		if vec, ok := e.memory.Get(key); ok {
			out[i] = vec
			continue
		}
		if e.store != nil {
			vec, ok, err := e.store.GetEmbedding(key)
			if err != nil {
				e.logger.Warn("embedding cache read failed", "error", err)
			} else if ok {
				e.memory.Add(key, vec)
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.inner.EmbedBatch(ctx, missTexts, role)
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		key := CacheKey(e.inner.ModelID(), role, texts[i])
		e.memory.Add(key, vecs[j])
		if e.store != nil {
			if err := e.store.PutEmbedding(key, vecs[j]); err != nil {
				e.logger.Warn("embedding cache write failed", "error", err)
			}
		}
		out[i] = vecs[j]
	}
	return out, nil
}

func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

func (e *CachedEmbedder) ModelID() string { return e.inner.ModelID() }

func (e *CachedEmbedder) Close() error { return e.inner.Close() }
