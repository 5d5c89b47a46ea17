package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "betterme"

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	Registry *prometheus.Registry

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheFetchErrorsTotal   *prometheus.CounterVec
	CacheStorageErrorsTotal *prometheus.CounterVec
	CacheFetchDuration      *prometheus.HistogramVec

	// Feed metrics
	FeedRankDuration prometheus.Histogram
	FeedPostsRanked  prometheus.Histogram
	FeedPostsDropped prometheus.Counter

	// Realtime metrics
	RealtimeEventsTotal     *prometheus.CounterVec
	RealtimeReconnectsTotal prometheus.Counter

	// Companion API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics on a fresh registry, so tests and several
// instances never collide on registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CacheHitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Loads served from a fresh cache entry",
		}, []string{"key"}),
		CacheMissesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Loads that had to fetch",
		}, []string{"key"}),
		CacheFetchErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_fetch_errors_total",
			Help:      "Failed fetches by cache key",
		}, []string{"key"}),
		CacheStorageErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_storage_errors_total",
			Help:      "Swallowed cache storage errors by operation",
		}, []string{"op"}),
		CacheFetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_fetch_duration_seconds",
			Help:      "Duration of cache fetch functions",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"key"}),

		FeedRankDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_rank_duration_seconds",
			Help:      "Time spent scoring and sorting the feed",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		FeedPostsRanked: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_posts_ranked",
			Help:      "Number of posts in each ranked feed",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		FeedPostsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_posts_dropped_total",
			Help:      "Posts left out of the feed because they were malformed",
		}),

		RealtimeEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Change events received by table",
		}, []string{"table"}),
		RealtimeReconnectsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_total",
			Help:      "Realtime socket reconnect attempts",
		}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Companion API requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Companion API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) CacheHit(key string) {
	m.CacheHitsTotal.WithLabelValues(key).Inc()
}

func (m *Metrics) CacheMiss(key string) {
	m.CacheMissesTotal.WithLabelValues(key).Inc()
}

func (m *Metrics) CacheFetch(key string, d time.Duration, err error) {
	m.CacheFetchDuration.WithLabelValues(key).Observe(d.Seconds())
	if err != nil {
		m.CacheFetchErrorsTotal.WithLabelValues(key).Inc()
	}
}

func (m *Metrics) CacheStorageError(op string) {
	m.CacheStorageErrorsTotal.WithLabelValues(op).Inc()
}

// FeedRanked records one ranking pass.
func (m *Metrics) FeedRanked(d time.Duration, ranked, dropped int) {
	m.FeedRankDuration.Observe(d.Seconds())
	m.FeedPostsRanked.Observe(float64(ranked))
	m.FeedPostsDropped.Add(float64(dropped))
}

func (m *Metrics) RealtimeEvent(table string) {
	m.RealtimeEventsTotal.WithLabelValues(table).Inc()
}

func (m *Metrics) RealtimeReconnect() {
	m.RealtimeReconnectsTotal.Inc()
}

// HTTPRequest records one companion API request. route is the gin route
// template, never the raw path.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
