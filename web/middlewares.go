package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ShoshinNikita/recipebox/pkg/metrics"
	"github.com/ShoshinNikita/recipebox/pkg/rlog"
)

func loggingMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/favicon.ico" || strings.HasPrefix(path, "/debug") {
			h.ServeHTTP(w, r)
			return
		}

		now := time.Now()
		rw := newResponseWriter(w)

		h.ServeHTTP(rw, r)

		dur := time.Since(now)

		metrics.HTTPResponseStatuses.
			With(prometheus.Labels{
				"status": strconv.Itoa(rw.statusCode),
			}).
			Inc()

		metrics.HTTPResponseTime.
			With(prometheus.Labels{
				"path": metricsPath(path),
			},
			).Observe(dur.Seconds())

		log := rlog.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     path,
			"status":   rw.statusCode,
			"duration": dur,
		})
		if rw.statusCode >= 500 {
			log.Warn("request failed")
		} else {
			log.Debug("request")
		}
	})
}

var knownPaths = map[string]bool{
	"/api/recipes":     true,
	"/api/image":       true,
	"/api/cache/clear": true,
	"/api/cache/sweep": true,
	"/api/version":     true,
}

// metricsPath returns the path label. Unknown paths share one label to keep the
// number of series bounded.
func metricsPath(path string) string {
	if knownPaths[path] {
		return path
	}
	return "other"
}

type responseWriter struct {
	http.ResponseWriter

	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func setCacheHeaders(w http.ResponseWriter, maxAge time.Duration, etag string) {
	cacheControl := fmt.Sprintf("private, max-age=%d", int64(maxAge.Seconds()))
	expTime := time.Now().Add(maxAge)

	w.Header().Set("Expires", expTime.Format(http.TimeFormat))
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("ETag", `"`+etag+`"`)
}
