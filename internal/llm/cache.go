package llm

import (
	"context"

	"github.com/dgraph-io/ristretto"

	"github.com/scrypster/engram/internal/metrics"
)

// CachedProvider memoizes embeddings of repeated texts. It is used on the
// retrieval path, where the same query string is embedded over and over;
// memory writes always go to the underlying provider.
type CachedProvider struct {
	EmbeddingProvider
	cache   *ristretto.Cache
	metrics *metrics.Collector
}

// NewCachedProvider wraps inner with a cache of up to maxEntries vectors.
func NewCachedProvider(inner EmbeddingProvider, maxEntries int64, m *metrics.Collector) (*CachedProvider, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedProvider{EmbeddingProvider: inner, cache: cache, metrics: m}, nil
}

// Embed returns the cached vector for text, embedding it on a miss.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.Name() + "\x00" + c.Model() + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		c.metrics.CacheLookup(true)
		return v.([]float32), nil
	}
	c.metrics.CacheLookup(false)

	vec, err := c.EmbeddingProvider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, 1)
	return vec, nil
}

// Wait blocks until pending cache writes are applied.
func (c *CachedProvider) Wait() { c.cache.Wait() }

// Close releases the cache's background goroutines.
func (c *CachedProvider) Close() { c.cache.Close() }
