package images

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ShoshinNikita/recipebox/pkg/cache"
	"github.com/ShoshinNikita/recipebox/recipebox"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls int

	fetchFn func(ctx context.Context, url string) ([]byte, int, error)
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	return f.fetchFn(ctx, url)
}

func (f *stubFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func newTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}

	buf := bytes.NewBuffer(nil)
	err := png.Encode(buf, img)
	require.NoError(t, err)
	return buf.Bytes()
}

type testLoader struct {
	*Loader

	memory  *cache.MemoryCache
	disk    *cache.DiskCache
	fetcher *stubFetcher
}

func newTestLoader(t *testing.T, fetchFn func(ctx context.Context, url string) ([]byte, int, error)) testLoader {
	t.Helper()

	r := require.New(t)

	memory, err := cache.NewMemoryCache(100)
	r.NoError(err)

	disk, err := cache.NewDiskCache(filepath.Join(t.TempDir(), "images"))
	r.NoError(err)

	cleaner := cache.NewCleaner(disk.Dir(), 7*24*time.Hour, 0)
	fetcher := &stubFetcher{fetchFn: fetchFn}

	t.Cleanup(func() {
		require.NoError(t, cleaner.Shutdown(context.Background()))
	})

	loader := NewLoader(memory, disk, cleaner, fetcher)

	return testLoader{
		Loader:  loader,
		memory:  memory,
		disk:    disk,
		fetcher: fetcher,
	}
}

func TestLoader_LoadImage(t *testing.T) {
	t.Parallel()

	r := require.New(t)
	ctx := context.Background()

	pngData := newTestPNG(t, 4, 3)
	loader := newTestLoader(t, func(context.Context, string) ([]byte, int, error) {
		return pngData, http.StatusOK, nil
	})

	const url = "https://example.com/photos/1/small.png"
	key := recipebox.NewCacheKey(url)

	// Network
	img, err := loader.LoadImage(ctx, url)
	r.NoError(err)
	r.Equal("png", img.Format)
	r.Equal("image/png", img.ContentType())
	r.Equal(pngData, img.Data)
	r.Equal(image.Rect(0, 0, 4, 3), img.Bounds())
	r.Equal(1, loader.fetcher.Calls())

	// Both tiers are populated.
	_, ok := loader.memory.Get(key)
	r.True(ok)
	data, err := loader.disk.Read(key)
	r.NoError(err)
	r.Equal(pngData, data)

	// Memory
	img2, err := loader.LoadImage(ctx, url)
	r.NoError(err)
	r.Same(img, img2)
	r.Equal(1, loader.fetcher.Calls())

	// Disk
	loader.ClearMemoryCache()
	_, ok = loader.memory.Get(key)
	r.False(ok)

	img3, err := loader.LoadImage(ctx, url)
	r.NoError(err)
	r.Equal(pngData, img3.Data)
	r.Equal(1, loader.fetcher.Calls())

	// Disk hit must populate the memory cache.
	_, ok = loader.memory.Get(key)
	r.True(ok)

	// Network again
	loader.ClearAllCache()

	_, err = loader.LoadImage(ctx, url)
	r.NoError(err)
	r.Equal(2, loader.fetcher.Calls())
}

func TestLoader_DiskRoundTrip(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	loader := newTestLoader(t, func(context.Context, string) ([]byte, int, error) {
		return nil, 0, errors.New("network must not be used")
	})

	const url = "https://example.com/photos/2/small.png"
	pngData := newTestPNG(t, 2, 2)

	r.NoError(loader.disk.Write(recipebox.NewCacheKey(url), pngData))

	img, err := loader.LoadImage(context.Background(), url)
	r.NoError(err)
	r.Equal("png", img.Format)
	r.Equal(image.Rect(0, 0, 2, 2), img.Bounds())
	r.Zero(loader.fetcher.Calls())
}

func TestLoader_CorruptedDiskFile(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	pngData := newTestPNG(t, 2, 2)
	loader := newTestLoader(t, func(context.Context, string) ([]byte, int, error) {
		return pngData, http.StatusOK, nil
	})

	const url = "https://example.com/photos/3/small.png"
	key := recipebox.NewCacheKey(url)

	r.NoError(loader.disk.Write(key, []byte("not an image")))

	// Decode failure must fall through to the network.
	img, err := loader.LoadImage(context.Background(), url)
	r.NoError(err)
	r.Equal(pngData, img.Data)
	r.Equal(1, loader.fetcher.Calls())

	// The file must be overwritten.
	data, err := loader.disk.Read(key)
	r.NoError(err)
	r.Equal(pngData, data)
}

func TestLoader_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("invalid url", func(t *testing.T) {
		t.Parallel()

		loader := newTestLoader(t, func(context.Context, string) ([]byte, int, error) {
			return nil, http.StatusOK, nil
		})

		for _, url := range []string{
			"",
			"not a url",
			"ftp://example.com/1.jpg",
			"https://",
			"://example.com",
			"/photos/1.jpg",
		} {
			_, err := loader.LoadImage(ctx, url)
			require.ErrorIs(t, err, recipebox.ErrInvalidURL, "url: %q", url)
		}
		require.Zero(t, loader.fetcher.Calls())
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		r := require.New(t)

		loader := newTestLoader(t, func(context.Context, string) ([]byte, int, error) {
			return nil, http.StatusNotFound, nil
		})

		const url = "https://example.com/404.jpg"

		_, err := loader.LoadImage(ctx, url)
		r.ErrorIs(err, recipebox.ErrNetwork)

		var netErr *recipebox.NetworkError
		r.ErrorAs(err, &netErr)
		r.Equal(http.StatusNotFound, netErr.StatusCode)

		// Nothing must be cached.
		key := recipebox.NewCacheKey(url)
		_, ok := loader.memory.Get(key)
		r.False(ok)
		r.False(loader.disk.Exists(key))

		_, err = loader.LoadImage(ctx, url)
		r.ErrorIs(err, recipebox.ErrNetwork)
		r.Equal(2, loader.fetcher.Calls())
	})

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()

		r := require.New(t)

		transportErr := errors.New("connection refused")
		loader := newTestLoader(t, func(context.Context, string) ([]byte, int, error) {
			return nil, 0, transportErr
		})

		_, err := loader.LoadImage(ctx, "https://example.com/1.jpg")
		r.ErrorIs(err, recipebox.ErrNetwork)
		r.ErrorIs(err, transportErr)
	})

	t.Run("invalid data", func(t *testing.T) {
		t.Parallel()

		r := require.New(t)

		loader := newTestLoader(t, func(context.Context, string) ([]byte, int, error) {
			return []byte("<html>not an image</html>"), http.StatusOK, nil
		})

		const url = "https://example.com/1.jpg"

		_, err := loader.LoadImage(ctx, url)
		r.ErrorIs(err, recipebox.ErrInvalidData)
		r.NotErrorIs(err, recipebox.ErrNetwork)

		r.False(loader.disk.Exists(recipebox.NewCacheKey(url)))
	})
}

func TestLoader_Canceled(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	pngData := newTestPNG(t, 2, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := newTestLoader(t, func(context.Context, string) ([]byte, int, error) {
		// The request is canceled after the response is received.
		cancel()
		return pngData, http.StatusOK, nil
	})

	const url = "https://example.com/1.png"
	key := recipebox.NewCacheKey(url)

	_, err := loader.LoadImage(ctx, url)
	r.ErrorIs(err, context.Canceled)
	r.Equal(1, loader.fetcher.Calls())

	_, ok := loader.memory.Get(key)
	r.False(ok)
	r.False(loader.disk.Exists(key))
}

func TestLoader_DiskWriteFailure(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	pngData := newTestPNG(t, 2, 2)
	loader := newTestLoader(t, func(context.Context, string) ([]byte, int, error) {
		return pngData, http.StatusOK, nil
	})

	// Replace the cache dir with a file, so writes fail.
	r.NoError(os.RemoveAll(loader.disk.Dir()))
	r.NoError(os.WriteFile(loader.disk.Dir(), []byte("file"), 0o600))

	img, err := loader.LoadImage(context.Background(), "https://example.com/1.png")
	r.NoError(err)
	r.Equal(pngData, img.Data)
}

func TestLoader_ClearDiskCache(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	loader := newTestLoader(t, func(context.Context, string) ([]byte, int, error) {
		return newTestPNG(t, 1, 1), http.StatusOK, nil
	})

	for _, url := range []string{
		"https://example.com/1.png",
		"https://example.com/2.png",
	} {
		_, err := loader.LoadImage(context.Background(), url)
		r.NoError(err)
	}

	entries, err := os.ReadDir(loader.disk.Dir())
	r.NoError(err)
	r.Len(entries, 2)

	loader.ClearDiskCache()

	r.DirExists(loader.disk.Dir())
	entries, err = os.ReadDir(loader.disk.Dir())
	r.NoError(err)
	r.Empty(entries)
}

func TestLoader_Sweep(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	loader := newTestLoader(t, nil)

	now := time.Now()
	for url, age := range map[string]time.Duration{
		"https://example.com/old.png": 8 * 24 * time.Hour,
		"https://example.com/new.png": 24 * time.Hour,
	} {
		key := recipebox.NewCacheKey(url)
		r.NoError(loader.disk.Write(key, []byte(url)))

		modTime := now.Add(-age)
		r.NoError(os.Chtimes(filepath.Join(loader.disk.Dir(), key.String()), modTime, modTime))
	}

	stats, err := loader.Sweep(7 * 24 * time.Hour)
	r.NoError(err)
	r.Equal(1, stats.RemovedFiles)

	r.False(loader.disk.Exists(recipebox.NewCacheKey("https://example.com/old.png")))
	r.True(loader.disk.Exists(recipebox.NewCacheKey("https://example.com/new.png")))
}
