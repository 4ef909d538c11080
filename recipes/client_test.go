package recipes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ShoshinNikita/recipebox/recipebox"
)

const validResponse = `{
	"recipes": [
		{
			"cuisine": "Malaysian",
			"name": "Apam Balik",
			"photo_url_large": "https://example.com/photos/1/large.jpg",
			"photo_url_small": "https://example.com/photos/1/small.jpg",
			"source_url": "https://www.nyonyacooking.com/recipes/apam-balik~SJ5WuvsDf9WQ",
			"uuid": "0c6ca6e7-e32a-4053-b824-1dbf749910d8",
			"youtube_url": "https://www.youtube.com/watch?v=6R8ffRRJcrg"
		},
		{
			"cuisine": "British",
			"name": "Apple & Blackberry Crumble",
			"photo_url_large": "https://example.com/photos/2/large.jpg",
			"uuid": "599344f4-3c5c-4cca-b914-2210e3b3312f"
		}
	]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()

	calls := new(atomic.Int32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL+"/recipes.json", 5*time.Second, 3)
	client.retryDelay = time.Millisecond

	return client, calls
}

func TestClient_GetRecipes(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recipes.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(validResponse))
	})

	recipes, err := client.GetRecipes(context.Background())
	r.NoError(err)
	r.Equal(int32(1), calls.Load())

	want := []recipebox.Recipe{
		{
			UUID:          "0c6ca6e7-e32a-4053-b824-1dbf749910d8",
			Name:          "Apam Balik",
			Cuisine:       "Malaysian",
			PhotoURLLarge: "https://example.com/photos/1/large.jpg",
			PhotoURLSmall: "https://example.com/photos/1/small.jpg",
			SourceURL:     "https://www.nyonyacooking.com/recipes/apam-balik~SJ5WuvsDf9WQ",
			YoutubeURL:    "https://www.youtube.com/watch?v=6R8ffRRJcrg",
		},
		{
			UUID:          "599344f4-3c5c-4cca-b914-2210e3b3312f",
			Name:          "Apple & Blackberry Crumble",
			Cuisine:       "British",
			PhotoURLLarge: "https://example.com/photos/2/large.jpg",
		},
	}
	if diff := cmp.Diff(want, recipes); diff != "" {
		t.Fatalf("unexpected recipes (-want +got):\n%s", diff)
	}
}

func TestClient_GetRecipes_StatusErrors(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		statusCode int
		wantMsg    string
		wantCalls  int32
	}{
		{statusCode: http.StatusUnauthorized, wantMsg: "Unauthorized", wantCalls: 1},
		{statusCode: http.StatusForbidden, wantMsg: "Forbidden", wantCalls: 1},
		{statusCode: http.StatusNotFound, wantMsg: "Resource not found", wantCalls: 1},
		{statusCode: http.StatusTeapot, wantMsg: "Server error: 418", wantCalls: 1},
		// Server errors are retried.
		{statusCode: http.StatusInternalServerError, wantMsg: "Server error: 500", wantCalls: 3},
		{statusCode: http.StatusBadGateway, wantMsg: "Server error: 502", wantCalls: 3},
	} {
		t.Run(http.StatusText(tt.statusCode), func(t *testing.T) {
			t.Parallel()

			r := require.New(t)

			client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			_, err := client.GetRecipes(context.Background())
			r.Error(err)

			var statusErr *StatusError
			r.True(errors.As(err, &statusErr))
			r.Equal(tt.statusCode, statusErr.StatusCode)
			r.Equal(tt.wantMsg, statusErr.Error())
			r.Equal(tt.wantCalls, calls.Load())
		})
	}
}

func TestClient_GetRecipes_Retry(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	var attempt atomic.Int32
	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if attempt.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(validResponse))
	})

	recipes, err := client.GetRecipes(context.Background())
	r.NoError(err)
	r.Len(recipes, 2)
	r.Equal(int32(3), calls.Load())
}

func TestClient_GetRecipes_Validation(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name    string
		body    string
		wantErr error
	}{
		{
			name:    "empty list",
			body:    `{"recipes": []}`,
			wantErr: ErrEmptyList,
		},
		{
			name:    "no recipes field",
			body:    `{}`,
			wantErr: ErrEmptyList,
		},
		{
			name:    "no name",
			body:    `{"recipes": [{"uuid": "1", "name": "Bakewell tart", "cuisine": "British"}, {"uuid": "2", "cuisine": "British"}]}`,
			wantErr: ErrMalformedData,
		},
		{
			name:    "no cuisine",
			body:    `{"recipes": [{"uuid": "1", "name": "Bakewell tart"}]}`,
			wantErr: ErrMalformedData,
		},
		{
			name:    "invalid json",
			body:    `{"recipes": [{"uuid": "1", "name": "Bakewell tart"`,
			wantErr: ErrDecoding,
		},
		{
			name:    "invalid field type",
			body:    `{"recipes": [{"uuid": 1, "name": "Bakewell tart", "cuisine": "British"}]}`,
			wantErr: ErrDecoding,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := require.New(t)

			client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(tt.body))
			})

			recipes, err := client.GetRecipes(context.Background())
			r.ErrorIs(err, tt.wantErr)
			r.Nil(recipes)

			// Invalid data is not retried.
			r.Equal(int32(1), calls.Load())
		})
	}
}

func TestClient_GetRecipes_InvalidURL(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"", "not a url", "://example.com"} {
		client := NewClient(endpoint, time.Second, 1)

		_, err := client.GetRecipes(context.Background())
		require.ErrorIs(t, err, recipebox.ErrInvalidURL, "endpoint: %q", endpoint)
	}
}

func TestClient_GetRecipes_Canceled(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetRecipes(ctx)
	r.ErrorIs(err, context.Canceled)
	r.LessOrEqual(calls.Load(), int32(1))
}
