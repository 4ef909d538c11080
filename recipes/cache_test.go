package recipes

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ShoshinNikita/recipebox/recipebox"
)

type stubGetter struct {
	calls atomic.Int32
	err   atomic.Pointer[error]
}

func (g *stubGetter) GetRecipes(context.Context) ([]recipebox.Recipe, error) {
	n := g.calls.Add(1)
	if err := g.err.Load(); err != nil {
		return nil, *err
	}
	return []recipebox.Recipe{
		{UUID: "1", Name: "Apam Balik", Cuisine: "Malaysian"},
		{UUID: "2", Name: "Bakewell Tart", Cuisine: "British", SourceURL: strconv.Itoa(int(n))},
	}, nil
}

func TestCachedClient(t *testing.T) {
	t.Parallel()

	r := require.New(t)
	ctx := context.Background()

	getter := new(stubGetter)
	client := NewCachedClient(getter, time.Hour)

	res, err := client.GetRecipes(ctx)
	r.NoError(err)
	r.Len(res, 2)
	r.Equal("1", res[1].SourceURL)

	// Callers can't modify the cached list.
	res[0].Name = "modified"

	res, err = client.GetRecipes(ctx)
	r.NoError(err)
	r.Equal("Apam Balik", res[0].Name)
	r.EqualValues(1, getter.calls.Load())

	client.Reset()

	res, err = client.GetRecipes(ctx)
	r.NoError(err)
	r.Equal("2", res[1].SourceURL)
	r.EqualValues(2, getter.calls.Load())
}

func TestCachedClient_Errors(t *testing.T) {
	t.Parallel()

	r := require.New(t)
	ctx := context.Background()

	getter := new(stubGetter)
	client := NewCachedClient(getter, time.Hour)

	testErr := errors.New("test")
	getter.err.Store(&testErr)

	_, err := client.GetRecipes(ctx)
	r.ErrorIs(err, testErr)
	_, err = client.GetRecipes(ctx)
	r.ErrorIs(err, testErr)
	r.EqualValues(2, getter.calls.Load())

	getter.err.Store(nil)

	_, err = client.GetRecipes(ctx)
	r.NoError(err)
	_, err = client.GetRecipes(ctx)
	r.NoError(err)
	r.EqualValues(3, getter.calls.Load())
}

func TestCachedClient_Expiration(t *testing.T) {
	t.Parallel()

	r := require.New(t)
	ctx := context.Background()

	getter := new(stubGetter)
	client := NewCachedClient(getter, time.Millisecond)

	_, err := client.GetRecipes(ctx)
	r.NoError(err)

	time.Sleep(5 * time.Millisecond)

	_, err = client.GetRecipes(ctx)
	r.NoError(err)
	r.EqualValues(2, getter.calls.Load())
}
