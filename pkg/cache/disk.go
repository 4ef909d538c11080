package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/ShoshinNikita/recipebox/pkg/metrics"
	"github.com/ShoshinNikita/recipebox/recipebox"
)

// DiskCache stores encoded images in a flat directory, one file per cache key.
type DiskCache struct {
	absDir string

	// mu protects the directory from being removed by Clear while files are read or written.
	// Files are always replaced atomically, so concurrent writes don't need exclusive access.
	mu sync.RWMutex
}

func NewDiskCache(dir string) (*DiskCache, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("couldn't get absolute path: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o700); err != nil {
		return nil, fmt.Errorf("couldn't create dir %q: %w", absDir, err)
	}
	return &DiskCache{
		absDir: absDir,
	}, nil
}

// Dir returns the absolute path of the cache directory.
func (c *DiskCache) Dir() string {
	return c.absDir
}

// Exists reports whether a file for the passed key is cached.
func (c *DiskCache) Exists(key recipebox.CacheKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, err := os.Stat(c.generateFilepath(key))
	return err == nil
}

// Read returns the cached content. If the file is not cached, it returns [recipebox.ErrCacheMiss].
func (c *DiskCache) Read(key recipebox.CacheKey) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.generateFilepath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			metrics.CacheMisses.WithLabelValues(metrics.TierDisk).Inc()
			return nil, recipebox.ErrCacheMiss
		}

		metrics.CacheErrors.WithLabelValues(metrics.TierDisk).Inc()
		return nil, err
	}

	metrics.CacheHits.WithLabelValues(metrics.TierDisk).Inc()
	return data, nil
}

// Write saves the content for the passed key. The file is replaced atomically, so
// concurrent readers never see partially written files.
func (c *DiskCache) Write(key recipebox.CacheKey, data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// The directory could have been removed by another process.
	if err := os.MkdirAll(c.absDir, 0o700); err != nil {
		metrics.CacheErrors.WithLabelValues(metrics.TierDisk).Inc()
		return fmt.Errorf("couldn't create dir %q: %w", c.absDir, err)
	}

	if err := atomic.WriteFile(c.generateFilepath(key), bytes.NewReader(data)); err != nil {
		metrics.CacheErrors.WithLabelValues(metrics.TierDisk).Inc()
		return fmt.Errorf("couldn't write file: %w", err)
	}
	return nil
}

// Remove removes the file associated with the passed key. To remove old files
// over time use [Cleaner].
func (c *DiskCache) Remove(key recipebox.CacheKey) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	err := os.Remove(c.generateFilepath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Clear removes all cached files. The cache directory is recreated.
func (c *DiskCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.absDir); err != nil {
		return fmt.Errorf("couldn't remove dir %q: %w", c.absDir, err)
	}
	if err := os.MkdirAll(c.absDir, 0o700); err != nil {
		return fmt.Errorf("couldn't create dir %q: %w", c.absDir, err)
	}
	return nil
}

func (c *DiskCache) generateFilepath(key recipebox.CacheKey) string {
	return filepath.Join(c.absDir, key.String())
}
