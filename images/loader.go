package images

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShoshinNikita/recipebox/pkg/cache"
	"github.com/ShoshinNikita/recipebox/pkg/metrics"
	"github.com/ShoshinNikita/recipebox/pkg/rlog"
	"github.com/ShoshinNikita/recipebox/recipebox"
)

type MemoryCache interface {
	Get(key recipebox.CacheKey) (*recipebox.Image, bool)
	Set(key recipebox.CacheKey, img *recipebox.Image)
	Clear()
}

type DiskCache interface {
	Read(key recipebox.CacheKey) ([]byte, error)
	Write(key recipebox.CacheKey, data []byte) error
	Clear() error
}

type Sweeper interface {
	Sweep(maxFileAge time.Duration) (cache.SweepStats, error)
}

const (
	sourceMemory  = "memory"
	sourceDisk    = "disk"
	sourceNetwork = "network"

	reasonInvalidURL  = "invalid_url"
	reasonInvalidData = "invalid_data"
	reasonNetwork     = "network"
	reasonCanceled    = "canceled"
)

// Loader loads images from the memory cache, the disk cache or the network, in that order.
// Images loaded from the network are saved to both caches.
type Loader struct {
	memory  MemoryCache
	disk    DiskCache
	sweeper Sweeper

	fetcher Fetcher
	decoder Decoder
}

func NewLoader(memory MemoryCache, disk DiskCache, sweeper Sweeper, fetcher Fetcher) *Loader {
	return &Loader{
		memory:  memory,
		disk:    disk,
		sweeper: sweeper,
		//
		fetcher: fetcher,
		decoder: StdDecoder{},
	}
}

// LoadImage returns an image for the passed url. The returned error matches one of
// [recipebox.ErrInvalidURL], [recipebox.ErrInvalidData] and [recipebox.ErrNetwork], or
// it is the context error if ctx was canceled during the network request. Cache faults
// are never returned: they are treated as cache misses.
//
// If ctx is canceled by the time the image is downloaded, nothing is saved to the caches.
func (l *Loader) LoadImage(ctx context.Context, rawURL string) (*recipebox.Image, error) {
	key := recipebox.NewCacheKey(rawURL)
	log := rlog.WithFields(logrus.Fields{"url": rawURL, "key": key.String()})

	if img, ok := l.memory.Get(key); ok {
		metrics.ImageLoads.WithLabelValues(sourceMemory).Inc()
		return img, nil
	}

	if img, ok := l.loadFromDisk(key, log); ok {
		l.memory.Set(key, img)

		metrics.ImageLoads.WithLabelValues(sourceDisk).Inc()
		return img, nil
	}

	if err := validateURL(rawURL); err != nil {
		metrics.ImageLoadErrors.WithLabelValues(reasonInvalidURL).Inc()
		return nil, err
	}

	img, err := l.loadFromNetwork(ctx, rawURL)
	if err != nil {
		reason := reasonNetwork
		switch {
		case errors.Is(err, recipebox.ErrInvalidData):
			reason = reasonInvalidData
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			reason = reasonCanceled
		}
		metrics.ImageLoadErrors.WithLabelValues(reason).Inc()

		log.Debugf("couldn't load image: %s", err)
		return nil, err
	}

	// Don't populate the caches for the canceled requests.
	if err := ctx.Err(); err != nil {
		metrics.ImageLoadErrors.WithLabelValues(reasonCanceled).Inc()
		return nil, err
	}

	l.memory.Set(key, img)
	if err := l.disk.Write(key, img.Data); err != nil {
		log.Debugf("couldn't save image to disk cache: %s", err)
	}

	metrics.ImageLoads.WithLabelValues(sourceNetwork).Inc()
	metrics.ImageSizes.Observe(float64(len(img.Data)))

	log.Debugf("image was loaded from network, size: %d bytes", len(img.Data))

	return img, nil
}

func (l *Loader) loadFromDisk(key recipebox.CacheKey, log *logrus.Entry) (*recipebox.Image, bool) {
	data, err := l.disk.Read(key)
	if err != nil {
		if !errors.Is(err, recipebox.ErrCacheMiss) {
			log.Debugf("couldn't read image from disk cache: %s", err)
		}
		return nil, false
	}

	img, err := l.decoder.Decode(data)
	if err != nil {
		// The file will be overwritten after the image is loaded from the network.
		log.Debugf("couldn't decode image from disk cache: %s", err)
		return nil, false
	}
	return img, true
}

func (l *Loader) loadFromNetwork(ctx context.Context, rawURL string) (*recipebox.Image, error) {
	data, statusCode, err := l.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &recipebox.NetworkError{URL: rawURL, Err: err}
	}
	if statusCode < 200 || statusCode > 299 {
		return nil, &recipebox.NetworkError{URL: rawURL, StatusCode: statusCode}
	}

	img, err := l.decoder.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("couldn't decode image: %w", err)
	}
	return img, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty url", recipebox.ErrInvalidURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", recipebox.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", recipebox.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: empty host", recipebox.ErrInvalidURL)
	}
	return nil
}

// ClearMemoryCache removes all images from the memory cache. They can still be loaded
// from the disk cache.
func (l *Loader) ClearMemoryCache() {
	l.memory.Clear()

	rlog.Info("memory cache was cleared")
}

// ClearDiskCache removes all files from the disk cache. The cache directory is left
// existing and empty. Errors are only logged.
func (l *Loader) ClearDiskCache() {
	if err := l.disk.Clear(); err != nil {
		metrics.CacheErrors.WithLabelValues(metrics.TierDisk).Inc()
		rlog.Errorf("couldn't clear disk cache: %s", err)
		return
	}

	rlog.Info("disk cache was cleared")
}

func (l *Loader) ClearAllCache() {
	l.ClearMemoryCache()
	l.ClearDiskCache()
}

// Sweep removes the disk cache files older than maxAge.
func (l *Loader) Sweep(maxAge time.Duration) (cache.SweepStats, error) {
	return l.sweeper.Sweep(maxAge)
}
