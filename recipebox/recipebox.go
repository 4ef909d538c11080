package recipebox

import (
	"encoding/hex"
	"errors"
	"fmt"
	"image"

	"lukechampine.com/blake3"
)

var (
	ErrCacheMiss = errors.New("cache miss")

	ErrInvalidURL  = errors.New("invalid url")
	ErrInvalidData = errors.New("invalid image data")
	ErrNetwork     = errors.New("network error")
)

// CacheKey identifies a cached image. It is used both as a key of the memory
// cache and as a filename of the disk cache.
type CacheKey string

// NewCacheKey derives a cache key from a raw url. The same url always yields
// the same key, even across restarts.
func NewCacheKey(rawURL string) CacheKey {
	hash := blake3.Sum256([]byte(rawURL))
	return CacheKey(hex.EncodeToString(hash[:16]))
}

func (k CacheKey) String() string {
	return string(k)
}

// Image is a decoded image. Data contains the original encoded bytes, so
// the image can be saved or served without re-encoding.
type Image struct {
	image.Image

	Format string
	Data   []byte
}

func (img *Image) ContentType() string {
	return "image/" + img.Format
}

// NetworkError is returned when an image can't be downloaded: the request
// failed, or the response status code is not 2xx.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (err *NetworkError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("network error for %q: %s", err.URL, err.Err)
	}
	return fmt.Sprintf("network error for %q: unexpected status code %d", err.URL, err.StatusCode)
}

func (err *NetworkError) Unwrap() error {
	return err.Err
}

func (err *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

type Recipe struct {
	UUID          string `json:"uuid"`
	Name          string `json:"name"`
	Cuisine       string `json:"cuisine"`
	PhotoURLLarge string `json:"photo_url_large,omitempty"`
	PhotoURLSmall string `json:"photo_url_small,omitempty"`
	SourceURL     string `json:"source_url,omitempty"`
	YoutubeURL    string `json:"youtube_url,omitempty"`
}

// PhotoURL returns the small photo url, or the large one if the small is missing.
func (r Recipe) PhotoURL() string {
	if r.PhotoURLSmall != "" {
		return r.PhotoURLSmall
	}
	return r.PhotoURLLarge
}
