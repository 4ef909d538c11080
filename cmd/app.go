package cmd

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/ShoshinNikita/recipebox/images"
	"github.com/ShoshinNikita/recipebox/pkg/cache"
	"github.com/ShoshinNikita/recipebox/pkg/rlog"
	"github.com/ShoshinNikita/recipebox/recipebox"
	"github.com/ShoshinNikita/recipebox/recipes"
	"github.com/ShoshinNikita/recipebox/web"
)

// App owns all components of the application. There is exactly one image loader
// per process: it is shared by the web server and the slot registry.
type App struct {
	cfg recipebox.Config

	memoryCache *cache.MemoryCache
	diskCache   *cache.DiskCache
	cleaner     *cache.Cleaner

	loader   *images.Loader
	registry *images.Registry

	recipesClient web.RecipesClient

	server *web.Server
}

func NewApp(cfg recipebox.Config) *App {
	return &App{
		cfg: cfg,
	}
}

func (a *App) Prepare() (err error) {
	if err := os.MkdirAll(a.cfg.Dir, 0o700); err != nil {
		return fmt.Errorf("couldn't create app data dir %q: %w", a.cfg.Dir, err)
	}

	// Caches
	a.memoryCache, err = cache.NewMemoryCache(a.cfg.MemoryCacheEntries)
	if err != nil {
		return fmt.Errorf("couldn't prepare memory cache: %w", err)
	}
	a.diskCache, err = cache.NewDiskCache(a.cfg.ImageCacheDir())
	if err != nil {
		return fmt.Errorf("couldn't prepare disk cache: %w", err)
	}
	if a.cfg.ImageCacheSweepInterval == 0 {
		rlog.Debug("periodic sweep of image cache is disabled")
	}
	a.cleaner = cache.NewCleaner(a.diskCache.Dir(), a.cfg.ImageCacheMaxAge, a.cfg.ImageCacheSweepInterval)

	// Images
	a.loader = images.NewLoader(a.memoryCache, a.diskCache, a.cleaner, images.NewHTTPFetcher(a.cfg.HTTPTimeout))
	a.registry = images.NewRegistry(a.loader)

	// Recipes
	a.recipesClient = recipes.NewClient(a.cfg.RecipesURL, a.cfg.HTTPTimeout, a.cfg.RecipesRetryAttempts)
	if a.cfg.RecipesCacheTTL > 0 {
		a.recipesClient = recipes.NewCachedClient(a.recipesClient, a.cfg.RecipesCacheTTL)
	}

	// Web Server
	a.server = web.NewServer(a.cfg, a.recipesClient, a.loader)

	return nil
}

// Start starts the web server. The returned channel is closed when the server stops.
func (a *App) Start(onError func()) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for name, s := range map[string]interface{ Start() error }{
			"web server": a.server,
		} {
			wg.Add(1)
			go func() {
				defer wg.Done()

				if err := s.Start(); err != nil {
					rlog.Errorf("%s error: %s", name, err)
					onError()
				}
			}()
		}
		wg.Wait()

		close(done)
	}()

	return done
}

// Shutdown shutdowns all components. It is safe to call this method even if Prepare has failed.
func (a *App) Shutdown(ctx context.Context) error {
	var failed int
	for _, v := range []struct {
		name string
		s    shutdowner
	}{
		{"web server", a.server},
		{"slot registry", a.registry},
		{"cache cleaner", a.cleaner},
	} {
		err := safeShutdown(ctx, v.s)
		if err != nil {
			failed++
			rlog.Errorf("couldn't gracefully shutdown %s: %s", v.name, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("couldn't gracefully shutdown %d component(s), see logs for more info", failed)
	}
	return nil
}

type shutdowner interface {
	Shutdown(context.Context) error
}

// safeShutdown calls Shutdown method only on initialized components.
func safeShutdown(ctx context.Context, s shutdowner) error {
	v := reflect.ValueOf(s)
	if !v.IsValid() || v.IsNil() {
		return nil
	}
	return s.Shutdown(ctx)
}
