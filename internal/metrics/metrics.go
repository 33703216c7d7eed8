// Package metrics provides Prometheus metrics for the asset cache and the
// download scheduler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Resolver outcomes
	resolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assethub_resolve_total",
			Help: "Total number of URL resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// Network downloads
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assethub_downloads_total",
			Help: "Total number of network downloads",
		},
		[]string{"scheme", "status"},
	)

	downloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assethub_download_bytes_total",
			Help: "Total bytes downloaded from remote sources",
		},
	)

	downloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assethub_download_duration_seconds",
			Help:    "Network download duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cache index
	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assethub_cache_entries",
			Help: "Number of entries in the persistent cache index",
		},
	)

	cacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assethub_cache_bytes",
			Help: "Total size of files in the persistent cache index",
		},
	)

	cacheCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assethub_cache_commits_total",
			Help: "Total number of cache commits",
		},
		[]string{"status"},
	)

	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assethub_cache_evictions_total",
			Help: "Total number of entries evicted from the cache",
		},
	)

	// Router
	routerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assethub_router_queue_depth",
			Help: "Number of download requests waiting for dispatch",
		},
	)

	routerInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assethub_router_in_flight",
			Help: "Number of download requests currently being handled",
		},
	)

	handlerResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assethub_handler_results_total",
			Help: "Total number of handler completions by extension and status",
		},
		[]string{"ext", "status"},
	)

	bundleLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assethub_bundle_loads_total",
			Help: "Total number of bundle loads by final state",
		},
		[]string{"state"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordResolve records a resolver outcome (local, cache, temp, remote).
func RecordResolve(outcome string) {
	resolveTotal.WithLabelValues(outcome).Inc()
}

// RecordDownload records a finished network download.
func RecordDownload(scheme string, err error, bytes int64, seconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	downloadsTotal.WithLabelValues(scheme, status).Inc()
	if err == nil {
		downloadBytes.Add(float64(bytes))
	}
	downloadDuration.Observe(seconds)
}

// SetCacheUsage updates the cache gauges.
func SetCacheUsage(entries int, bytes int64) {
	cacheEntries.Set(float64(entries))
	cacheBytes.Set(float64(bytes))
}

// RecordCommit records a cache commit attempt.
func RecordCommit(err error) {
	if err != nil {
		cacheCommitsTotal.WithLabelValues("error").Inc()
		return
	}
	cacheCommitsTotal.WithLabelValues("ok").Inc()
}

// RecordEvictions adds n evicted entries.
func RecordEvictions(n int) {
	if n > 0 {
		cacheEvictionsTotal.Add(float64(n))
	}
}

// SetRouterLoad updates the scheduler gauges.
func SetRouterLoad(queued, inFlight int) {
	routerQueueDepth.Set(float64(queued))
	routerInFlight.Set(float64(inFlight))
}

// RecordHandlerResult records a handler completion.
func RecordHandlerResult(ext string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	handlerResultsTotal.WithLabelValues(ext, status).Inc()
}

// RecordBundleLoad records the terminal state of a bundle load.
func RecordBundleLoad(state string) {
	bundleLoadsTotal.WithLabelValues(state).Inc()
}
