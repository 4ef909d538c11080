package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ShoshinNikita/recipebox/pkg/metrics"
	"github.com/ShoshinNikita/recipebox/recipebox"
)

// MemoryCache keeps decoded images in memory. The least recently used images are
// evicted when the cache is full, so callers must be ready for a miss even right
// after [MemoryCache.Set]. It is safe for concurrent use.
type MemoryCache struct {
	cache *lru.Cache[recipebox.CacheKey, *recipebox.Image]
}

func NewMemoryCache(maxEntries int) (*MemoryCache, error) {
	cache, err := lru.New[recipebox.CacheKey, *recipebox.Image](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("couldn't create lru cache: %w", err)
	}
	return &MemoryCache{
		cache: cache,
	}, nil
}

func (c *MemoryCache) Get(key recipebox.CacheKey) (*recipebox.Image, bool) {
	img, ok := c.cache.Get(key)
	if !ok {
		metrics.CacheMisses.WithLabelValues(metrics.TierMemory).Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues(metrics.TierMemory).Inc()
	return img, true
}

func (c *MemoryCache) Set(key recipebox.CacheKey, img *recipebox.Image) {
	c.cache.Add(key, img)
}

func (c *MemoryCache) Remove(key recipebox.CacheKey) {
	c.cache.Remove(key)
}

func (c *MemoryCache) Clear() {
	c.cache.Purge()
}

func (c *MemoryCache) Len() int {
	return c.cache.Len()
}
