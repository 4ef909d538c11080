// Package metrics provides access to Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "recipebox"

// Web
var (
	HTTPResponseStatuses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "http_response_statuses_total",
		},
		[]string{"status"},
	)
	HTTPResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "http_response_time_seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"path"},
	)
)

// Recipes
var (
	RecipesResponseTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recipes",
			Name:      "response_time_seconds",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		},
	)
	RecipesErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recipes",
			Name:      "errors_total",
		},
	)
)

// Images
var (
	ImageLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "images",
			Name:      "loads_total",
		},
		[]string{"source"},
	)
	ImageLoadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "images",
			Name:      "load_errors_total",
		},
		[]string{"reason"},
	)
	ImageFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "images",
			Name:      "fetch_duration_seconds",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		},
	)
	ImageSizes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "images",
			Name:      "size_bytes",
			Buckets: []float64{
				16 << 10,  // 16 KiB
				64 << 10,  // 64 KiB
				128 << 10, // 128 KiB
				256 << 10, // 256 KiB
				512 << 10, // 512 KiB
				1 << 20,   // 1 MiB
				5 << 20,   // 5 MiB
			},
		},
	)
	SlotsSuperseded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "images",
			Name:      "slots_superseded_total",
		},
	)
	SlotsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "images",
			Name:      "slots_in_flight",
		},
	)
)

// Cache
var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
		},
		[]string{"tier"},
	)
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
		},
		[]string{"tier"},
	)
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
		},
		[]string{"tier"},
	)
	CacheSweepRemovedFiles = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "sweep_removed_files_total",
		},
	)
	CacheSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "sweep_duration_seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
	)
)

const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// Init values for common labels.
func init() {
	for _, status := range []string{"200", "204", "400", "404", "422", "500", "502"} {
		HTTPResponseStatuses.With(prometheus.Labels{"status": status}).Add(0)
	}
	for _, tier := range []string{TierMemory, TierDisk} {
		CacheHits.With(prometheus.Labels{"tier": tier}).Add(0)
		CacheMisses.With(prometheus.Labels{"tier": tier}).Add(0)
		CacheErrors.With(prometheus.Labels{"tier": tier}).Add(0)
	}
}
