package recipes

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ShoshinNikita/recipebox/pkg/rlog"
	"github.com/ShoshinNikita/recipebox/recipebox"
)

type recipesGetter interface {
	GetRecipes(ctx context.Context) ([]recipebox.Recipe, error)
}

// CachedClient keeps the last successfully loaded recipe list for ttl. Errors are
// never cached.
type CachedClient struct {
	client recipesGetter
	ttl    time.Duration

	// mu is held during requests, so concurrent callers with an expired list wait
	// for a single request instead of sending their own.
	mu        sync.Mutex
	recipes   []recipebox.Recipe
	expiresAt time.Time
}

func NewCachedClient(client recipesGetter, ttl time.Duration) *CachedClient {
	return &CachedClient{
		client: client,
		ttl:    ttl,
	}
}

func (c *CachedClient) GetRecipes(ctx context.Context) ([]recipebox.Recipe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recipes != nil && time.Now().Before(c.expiresAt) {
		return slices.Clone(c.recipes), nil
	}

	recipes, err := c.client.GetRecipes(ctx)
	if err != nil {
		return nil, err
	}
	rlog.Debugf("recipe list is cached for %s", c.ttl)

	c.recipes = slices.Clone(recipes)
	c.expiresAt = time.Now().Add(c.ttl)

	return recipes, nil
}

// Reset drops the cached list, so the next call loads a fresh one.
func (c *CachedClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recipes = nil
	c.expiresAt = time.Time{}
}
