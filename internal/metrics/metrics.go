// Package metrics exposes Prometheus collectors for the crawl and
// aggregation pipelines.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal      *prometheus.CounterVec
	fetchDuration     *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	listingsTotal     *prometheus.CounterVec
	sessionsTotal     *prometheus.CounterVec
	summariesWritten  prometheus.Counter
	alertsRaised      prometheus.Counter
	cacheOpsTotal     *prometheus.CounterVec
	identityPoolGauge *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partswatch_fetches_total",
				Help: "Total page fetches, labeled by site and status code.",
			},
			[]string{"site", "status"},
		)

		fetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "partswatch_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partswatch_retries_total",
				Help: "Total request retries, labeled by site.",
			},
			[]string{"site"},
		)

		listingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partswatch_listings_total",
				Help: "Listings processed by the pipeline, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partswatch_sessions_total",
				Help: "Crawl sessions, labeled by terminal status.",
			},
			[]string{"status"},
		)

		summariesWritten = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "partswatch_summaries_written_total",
				Help: "Daily price summaries upserted by the aggregation engine.",
			},
		)

		alertsRaised = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "partswatch_alerts_raised_total",
				Help: "Price alerts emitted by the aggregation engine.",
			},
		)

		cacheOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partswatch_cache_ops_total",
				Help: "Result cache operations, labeled by result.",
			},
			[]string{"result"},
		)

		identityPoolGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "partswatch_identity_pool_size",
				Help: "Identities in the rotation pool, labeled by state.",
			},
			[]string{"state"},
		)
	})
}

// ObserveFetch records one completed or failed page fetch.
func ObserveFetch(site string, status int, duration time.Duration) {
	if fetchesTotal == nil {
		return
	}
	fetchesTotal.WithLabelValues(site, strconv.Itoa(status)).Inc()
	fetchDuration.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveRetry records a rescheduled request.
func ObserveRetry(site string) {
	if retriesTotal == nil {
		return
	}
	retriesTotal.WithLabelValues(site).Inc()
}

// ObserveListing records one pipeline outcome (saved, dropped, duplicate, failed).
func ObserveListing(outcome string) {
	if listingsTotal == nil {
		return
	}
	listingsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSession records a terminal session status.
func ObserveSession(status string) {
	if sessionsTotal == nil {
		return
	}
	sessionsTotal.WithLabelValues(status).Inc()
}

// ObserveSummary records one upserted price summary.
func ObserveSummary() {
	if summariesWritten == nil {
		return
	}
	summariesWritten.Inc()
}

// ObserveAlert records one raised price alert.
func ObserveAlert() {
	if alertsRaised == nil {
		return
	}
	alertsRaised.Inc()
}

// ObserveCacheOp records one cache operation result (hit, miss, set, error).
func ObserveCacheOp(result string) {
	if cacheOpsTotal == nil {
		return
	}
	cacheOpsTotal.WithLabelValues(result).Inc()
}

// SetIdentityPoolSize reports the working/failed identity counts.
func SetIdentityPoolSize(state string, n int) {
	if identityPoolGauge == nil {
		return
	}
	identityPoolGauge.WithLabelValues(state).Set(float64(n))
}
