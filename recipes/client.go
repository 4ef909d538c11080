package recipes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/ShoshinNikita/recipebox/pkg/metrics"
	"github.com/ShoshinNikita/recipebox/pkg/rlog"
	"github.com/ShoshinNikita/recipebox/recipebox"
)

var (
	ErrDecoding      = errors.New("failed to decode response")
	ErrEmptyList     = errors.New("recipe list is empty")
	ErrMalformedData = errors.New("malformed recipe data")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
}

func (err *StatusError) Error() string {
	switch err.StatusCode {
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "Resource not found"
	default:
		return fmt.Sprintf("Server error: %d", err.StatusCode)
	}
}

type response struct {
	Recipes []recipebox.Recipe `json:"recipes"`
}

// Client loads recipes from a remote endpoint.
type Client struct {
	httpClient    *http.Client
	endpoint      string
	retryAttempts uint
	retryDelay    time.Duration
}

func NewClient(endpoint string, timeout time.Duration, retryAttempts int) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint:      endpoint,
		retryAttempts: uint(max(retryAttempts, 1)),
		retryDelay:    100 * time.Millisecond,
	}
}

// GetRecipes loads and validates the list of recipes. Transport errors and server errors
// (5xx) are retried.
func (c *Client) GetRecipes(ctx context.Context) (recipes []recipebox.Recipe, err error) {
	now := time.Now()
	defer func() {
		dur := time.Since(now)

		metrics.RecipesResponseTime.Observe(dur.Seconds())
		if err != nil {
			metrics.RecipesErrors.Inc()
		}
		rlog.Debugf("recipes were loaded in %s", dur)
	}()

	endpoint, err := url.Parse(c.endpoint)
	if err != nil || c.endpoint == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("%w: %q", recipebox.ErrInvalidURL, c.endpoint)
	}

	recipes, err = retry.DoWithData(
		func() ([]recipebox.Recipe, error) {
			return c.getRecipes(ctx, endpoint)
		},
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isRetryable),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			rlog.Warnf("couldn't load recipes, attempt %d: %s", n+1, err)
		}),
	)
	if err != nil {
		return nil, err
	}

	if err := validate(recipes); err != nil {
		return nil, err
	}
	return recipes, nil
}

func (c *Client) getRecipes(ctx context.Context, endpoint *url.URL) ([]recipebox.Recipe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't prepare request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var res response
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	return res.Recipes, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	return !errors.Is(err, ErrDecoding)
}

// validate rejects the whole list if any recipe has no name or cuisine.
func validate(recipes []recipebox.Recipe) error {
	if len(recipes) == 0 {
		return ErrEmptyList
	}
	for i, r := range recipes {
		if r.Name == "" || r.Cuisine == "" {
			return fmt.Errorf("%w: recipe #%d (uuid %q) has no name or cuisine", ErrMalformedData, i, r.UUID)
		}
	}
	return nil
}
