package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/ShoshinNikita/recipebox/pkg/metrics"
	"github.com/ShoshinNikita/recipebox/pkg/misc"
	"github.com/ShoshinNikita/recipebox/pkg/rlog"
)

var ErrSweepInProgress = errors.New("sweep is already in progress")

// Cleaner removes files that are older than max age. Every cache file is replaced with
// a new one on write, so its modification time is the time the file was created.
type Cleaner struct {
	mu   sync.Mutex   // guards against concurrent sweeps within the process
	lock *flock.Flock // guards against concurrent sweeps of other processes

	dir             string
	cleanupInterval time.Duration
	maxFileAge      time.Duration

	stopOnce               sync.Once
	stopCh                 chan struct{}
	cleanupProcessFinished chan struct{}
}

type SweepStats struct {
	RemovedFiles int   `json:"removed_files"`
	FreedBytes   int64 `json:"freed_bytes"`
}

type fileInfo struct {
	path    string
	modTime time.Time
	size    int64
}

// NewCleaner returns a new [Cleaner]. If cleanupInterval is greater than 0, it starts
// a background process that removes old files with this interval. Otherwise, files
// are removed only on [Cleaner.Sweep] calls.
func NewCleaner(dir string, maxFileAge, cleanupInterval time.Duration) *Cleaner {
	c := &Cleaner{
		// The lock file must be outside the cache dir: the dir can be removed at any time.
		lock: flock.New(filepath.Clean(dir) + ".lock"),
		//
		dir:             dir,
		cleanupInterval: cleanupInterval,
		maxFileAge:      maxFileAge,
		//
		stopCh:                 make(chan struct{}),
		cleanupProcessFinished: make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.startCleanupProcess()
	} else {
		close(c.cleanupProcessFinished)
	}

	return c
}

func (c *Cleaner) startCleanupProcess() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		// Run immediately.
		_, err := c.Sweep(c.maxFileAge)
		if err != nil && !errors.Is(err, ErrSweepInProgress) {
			rlog.Errorf("couldn't remove old files from cache: %s", err)
		}

		select {
		case <-ticker.C:
			continue
		case <-c.stopCh:
			close(c.cleanupProcessFinished)
			return
		}
	}
}

// Sweep removes all files older than maxFileAge. Files that can't be stat'ed are skipped.
// It returns [ErrSweepInProgress] if the directory is being swept by another process.
func (c *Cleaner) Sweep(maxFileAge time.Duration) (SweepStats, error) {
	if !c.mu.TryLock() {
		return SweepStats{}, ErrSweepInProgress
	}
	defer c.mu.Unlock()

	locked, err := c.lock.TryLock()
	if err != nil {
		return SweepStats{}, fmt.Errorf("couldn't acquire lock: %w", err)
	}
	if !locked {
		return SweepStats{}, ErrSweepInProgress
	}
	defer func() {
		if err := c.lock.Unlock(); err != nil {
			rlog.Errorf("couldn't release cleaner lock: %s", err)
		}
	}()

	now := time.Now()
	defer func() {
		metrics.CacheSweepDuration.Observe(time.Since(now).Seconds())
	}()

	return c.cleanup(now, maxFileAge)
}

func (c *Cleaner) cleanup(now time.Time, maxFileAge time.Duration) (SweepStats, error) {
	rlog.Debugf("start cleanup of %q", c.dir)

	allFiles, err := c.loadAllFiles()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			rlog.Warnf("cache dir %q doesn't exist", c.dir)
			return SweepStats{}, nil
		}
		return SweepStats{}, fmt.Errorf("couldn't load files to clean: %w", err)
	}

	filesToRemove := getFilesToRemove(allFiles, now, maxFileAge)
	if len(filesToRemove) == 0 {
		rlog.Debug("no files to remove from cache")
		return SweepStats{}, nil
	}

	stats, errs := c.removeFiles(filesToRemove)
	for _, err := range errs {
		rlog.Error(err)
	}
	if stats.RemovedFiles > 0 {
		metrics.CacheSweepRemovedFiles.Add(float64(stats.RemovedFiles))

		rlog.Infof(
			"%d files have been removed from cache for a total of %s freed, got %d errors",
			stats.RemovedFiles, misc.FormatFileSize(stats.FreedBytes), len(errs),
		)
	}
	return stats, nil
}

func (c *Cleaner) loadAllFiles() (files []fileInfo, err error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// The file could have been removed or replaced after ReadDir call.
			rlog.Debugf("couldn't stat cache file %q, skip it: %s", entry.Name(), err)
			continue
		}
		files = append(files, fileInfo{
			path:    filepath.Join(c.dir, entry.Name()),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
	}
	return files, nil
}

func getFilesToRemove(files []fileInfo, now time.Time, maxFileAge time.Duration) (res []fileInfo) {
	minModTime := now.Add(-maxFileAge)

	for _, file := range files {
		if file.modTime.Before(minModTime) {
			res = append(res, file)
		}
	}
	return res
}

func (c *Cleaner) removeFiles(files []fileInfo) (stats SweepStats, errs []error) {
	for _, file := range files {
		err := os.Remove(file.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Already removed, for example, by DiskCache.Clear.
				continue
			}
			errs = append(errs, fmt.Errorf("couldn't remove file %q from cache: %w", file.path, err))
			continue
		}
		stats.RemovedFiles++
		stats.FreedBytes += file.size
	}
	return stats, errs
}

// Shutdown stops the background cleanup process. It can be called multiple times.
func (c *Cleaner) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.cleanupProcessFinished:
		return nil
	}
}
