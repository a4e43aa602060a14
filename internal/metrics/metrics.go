// Package metrics registers the Prometheus collectors exposed at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfwatch_cache_hits_total",
			Help: "Cache lookups served from a valid entry",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfwatch_cache_misses_total",
			Help: "Cache lookups that found no valid entry",
		},
		[]string{"cache"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "surfwatch_cache_entries",
			Help: "Entries currently held, including expired ones not yet swept",
		},
		[]string{"cache"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfwatch_ratelimit_rejections_total",
			Help: "Attempts rejected by a sliding-window limiter",
		},
		[]string{"limiter"},
	)

	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfwatch_fallbacks_total",
			Help: "Official API requests delegated to the scraper",
		},
		[]string{"reason"}, // "no_credentials", "rate_limited", "quota", "breaker_open", "failed"
	)

	ScrapeResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfwatch_scrape_responses_total",
			Help: "Scraper HTTP responses by status code",
		},
		[]string{"code"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "surfwatch_fetch_duration_seconds",
			Help:    "Duration of upstream fetches",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	RefreshCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfwatch_refresh_cycles_total",
			Help: "Background refresh cycles by outcome",
		},
		[]string{"outcome"}, // "completed", "skipped"
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "surfwatch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	StoreUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfwatch_store_upserts_total",
			Help: "Posts written to the store",
		},
		[]string{"source", "result"}, // result: "inserted", "updated", "error"
	)

	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surfwatch_classifications_total",
			Help: "Posts classified by method",
		},
		[]string{"method"},
	)
)

// RecordCacheLookup counts a hit or miss on the named cache.
func RecordCacheLookup(cache string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cache).Inc()
		return
	}
	CacheMisses.WithLabelValues(cache).Inc()
}

// RecordScrapeResponse counts one scraper response.
func RecordScrapeResponse(code int) {
	ScrapeResponses.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordFetch observes the duration of an upstream fetch.
func RecordFetch(source string, duration time.Duration) {
	FetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordUpsert counts a store write.
func RecordUpsert(source string, inserted bool, err error) {
	result := "updated"
	switch {
	case err != nil:
		result = "error"
	case inserted:
		result = "inserted"
	}
	StoreUpserts.WithLabelValues(source, result).Inc()
}
