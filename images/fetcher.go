package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ShoshinNikita/recipebox/pkg/metrics"
)

// Fetcher downloads raw image bytes. Non-2xx responses are not errors: the caller
// decides what to do with the status code.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, statusCode int, err error)
}

const defaultMaxBodySize = 20 << 20 // 20 MiB

type HTTPFetcher struct {
	httpClient  *http.Client
	maxBodySize int64
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxBodySize: defaultMaxBodySize,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	now := time.Now()
	defer func() {
		metrics.ImageFetchDuration.Observe(time.Since(now).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't prepare request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a bit of the body to let the connection be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, resp.StatusCode, nil
	}

	// Read one extra byte to detect bodies that are too large.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("couldn't read response body: %w", err)
	}
	if int64(len(data)) > f.maxBodySize {
		return nil, resp.StatusCode, fmt.Errorf("response body is larger than %d bytes", f.maxBodySize)
	}
	return data, resp.StatusCode, nil
}
