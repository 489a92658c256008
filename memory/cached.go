package memory

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder decorates an Embedder with an in-process vector cache.
// Repeated queries and re-chunked text skip the provider round trip.
//
// The cache is admission-based: a stored vector may be dropped under
// pressure, which only costs a re-embed on the next miss. That makes it
// safe for the query path but unsuitable for anything needing
// deterministic hits.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps inner with a cache holding up to maxBytes of
// vectors. maxBytes <= 0 selects 64 MiB.
func NewCachedEmbedder(inner Embedder, maxBytes int64) (*CachedEmbedder, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns a cached vector when available, otherwise delegates to the
// inner embedder and caches the result.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if val, found := c.cache.Get(text); found {
		if vec, ok := val.([]float32); ok {
			return vec, nil
		}
		// Wrong type means the entry is corrupt: invalidate and rebuild.
		c.cache.Del(text)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(text, vec, int64(len(vec)*4))
	return vec, nil
}

// Dimensions returns the inner embedder's vector size.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Close releases the cache's internal goroutines.
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
