package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShoshinNikita/recipebox/pkg/cache"
	"github.com/ShoshinNikita/recipebox/pkg/rlog"
	"github.com/ShoshinNikita/recipebox/recipebox"
	"github.com/ShoshinNikita/recipebox/recipes"
	"github.com/ShoshinNikita/recipebox/search"
)

type RecipesClient interface {
	GetRecipes(ctx context.Context) ([]recipebox.Recipe, error)
}

type ImageLoader interface {
	LoadImage(ctx context.Context, url string) (*recipebox.Image, error)
	ClearMemoryCache()
	ClearDiskCache()
	ClearAllCache()
	Sweep(maxAge time.Duration) (cache.SweepStats, error)
}

type Server struct {
	buildInfo recipebox.BuildInfo

	httpServer *http.Server

	recipes RecipesClient
	images  ImageLoader

	imageCacheMaxAge time.Duration
}

func NewServer(cfg recipebox.Config, recipes RecipesClient, images ImageLoader) (s *Server) {
	s = &Server{
		buildInfo: cfg.BuildInfo,
		//
		recipes: recipes,
		images:  images,
		//
		imageCacheMaxAge: cfg.ImageCacheMaxAge,
	}

	mux := http.NewServeMux()

	// API
	mux.HandleFunc("/api/recipes", s.handleRecipes)
	mux.HandleFunc("/api/image", s.handleImage)
	mux.HandleFunc("/api/cache/clear", s.handleClearCache)
	mux.HandleFunc("/api/cache/sweep", s.handleSweep)
	mux.HandleFunc("/api/version", s.handleVersion)

	// Debug
	mux.Handle("/debug/metrics", promhttp.Handler())

	handler := loggingMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.ServerPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	rlog.Infof("start web server on %q", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRecipes(w http.ResponseWriter, r *http.Request) {
	if !checkMethod(w, r, http.MethodGet) {
		return
	}

	allRecipes, err := s.recipes.GetRecipes(r.Context())
	if err != nil && !errors.Is(err, recipes.ErrEmptyList) {
		if errors.Is(err, recipebox.ErrInvalidURL) {
			writeInternalServerError(w, "recipes endpoint is misconfigured: %s", err)
			return
		}
		// Status errors, invalid and malformed data: the problem is on the side of the endpoint.
		writeError(w, http.StatusBadGateway, "couldn't load recipes: %s", err)
		return
	}

	filtered := search.Filter(allRecipes, r.FormValue("search"), r.FormValue("cuisine"))

	resp := RecipesResponse{
		Total: len(filtered),
		// Always encode slices as arrays.
		Cuisines: search.Cuisines(allRecipes),
		Recipes:  make([]Recipe, 0, len(filtered)),
	}
	if resp.Cuisines == nil {
		resp.Cuisines = []string{}
	}
	for _, recipe := range filtered {
		var imageURL string
		if photoURL := recipe.PhotoURL(); photoURL != "" {
			imageURL = imageAPIURL(photoURL)
		}
		resp.Recipes = append(resp.Recipes, Recipe{
			Recipe:   recipe,
			ImageURL: imageURL,
		})
	}

	writeJSON(w, resp)
}

// handleImage returns an image loaded through the image caches.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if !checkMethod(w, r, http.MethodGet) {
		return
	}

	rawURL := r.FormValue("url")
	key := recipebox.NewCacheKey(rawURL)

	// The same url always yields the same image, so the key can be used as ETag.
	if rawURL != "" && r.Header.Get("If-None-Match") == `"`+key.String()+`"` {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	img, err := s.images.LoadImage(r.Context(), rawURL)
	if err != nil {
		switch {
		case errors.Is(err, recipebox.ErrInvalidURL):
			writeBadRequestError(w, "invalid image url: %s", err)
		case errors.Is(err, recipebox.ErrInvalidData):
			writeError(w, http.StatusUnprocessableEntity, "invalid image data: %s", err)
		case errors.Is(err, recipebox.ErrNetwork):
			writeError(w, http.StatusBadGateway, "couldn't load image: %s", err)
		default:
			writeInternalServerError(w, "couldn't load image: %s", err)
		}
		return
	}

	w.Header().Set("Content-Type", img.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	setCacheHeaders(w, s.imageCacheMaxAge, key.String())

	w.Write(img.Data)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if !checkMethod(w, r, http.MethodPost) {
		return
	}

	switch tier := r.FormValue("tier"); tier {
	case "memory":
		s.images.ClearMemoryCache()
	case "disk":
		s.images.ClearDiskCache()
	case "all", "":
		s.images.ClearAllCache()
	default:
		writeBadRequestError(w, "invalid tier %q, valid values: memory, disk, all", tier)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if !checkMethod(w, r, http.MethodPost) {
		return
	}

	maxAge := s.imageCacheMaxAge
	if v := r.FormValue("max_age"); v != "" {
		var err error
		maxAge, err = time.ParseDuration(v)
		if err != nil {
			writeBadRequestError(w, "invalid max_age: %s", err)
			return
		}
		if maxAge < 0 {
			writeBadRequestError(w, "max_age can't be negative")
			return
		}
	}

	stats, err := s.images.Sweep(maxAge)
	if err != nil {
		if errors.Is(err, cache.ErrSweepInProgress) {
			writeError(w, http.StatusConflict, "%s", err)
			return
		}
		writeInternalServerError(w, "couldn't sweep image cache: %s", err)
		return
	}

	writeJSON(w, stats)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !checkMethod(w, r, http.MethodGet) {
		return
	}

	writeJSON(w, s.buildInfo)
}

func imageAPIURL(photoURL string) string {
	return "/api/image?" + url.Values{"url": []string{photoURL}}.Encode()
}

func checkMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method || (method == http.MethodGet && r.Method == http.MethodHead) {
		return true
	}

	w.Header().Set("Allow", method)
	code := http.StatusMethodNotAllowed
	http.Error(w, http.StatusText(code), code)
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		rlog.Errorf("couldn't write response: %s", err)
	}
}

func writeBadRequestError(w http.ResponseWriter, format string, a ...any) {
	writeError(w, http.StatusBadRequest, format, a...)
}

func writeInternalServerError(w http.ResponseWriter, format string, a ...any) {
	writeError(w, http.StatusInternalServerError, format, a...)
}

func writeError(w http.ResponseWriter, code int, format string, a ...any) {
	http.Error(w, fmt.Sprintf(format, a...), code)
}
