// Package metrics owns the HTTP-level Prometheus metrics and the scrape
// handler. Domain metrics are defined in their respective packages (cache,
// dedupe, breaker, upstream, ratelimit) to avoid circular dependencies.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the catalog service.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

var (
	// HTTPRequests counts served HTTP requests by route, method and status code
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_http_requests_total",
		Help: "Total HTTP requests by route, method and status code",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration tracks HTTP handler latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// ObserveHTTP records one finished request.
func ObserveHTTP(route, method string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// HTTP Metrics (pkg/metrics):
//   - catalog_http_requests_total{route, method, status} (Counter)
//   - catalog_http_request_duration_seconds{route} (Histogram)
//
// Cache Metrics (pkg/cache):
//   - catalog_cache_lookups_total{status} (Counter): HIT, MISS, WAIT, BYPASS
//   - catalog_cache_lock_contention_total (Counter): lock already held on miss
//   - catalog_cache_written_bytes_total (Counter): bytes stored
//   - catalog_cache_version_bumps_total (Counter): invalidations
//   - catalog_cache_errors_total{operation} (Counter): Redis and codec errors
//
// Dedupe Metrics (pkg/dedupe):
//   - catalog_dedupe_calls_total{group, role} (Counter): leader vs follower calls
//
// Breaker Metrics (pkg/breaker):
//   - catalog_breaker_state{name} (Gauge): 0 closed, 1 half-open, 2 open
//   - catalog_breaker_short_circuits_total{name} (Counter)
//   - catalog_breaker_fallbacks_total{name, reason} (Counter)
//
// Retry Metrics (pkg/retry):
//   - catalog_retries_total{operation} (Counter): retry attempts
//   - catalog_retry_backoff_seconds{operation} (Histogram)
//   - catalog_retry_exhausted_total{operation} (Counter)
//
// Upstream Metrics (pkg/upstream):
//   - catalog_upstream_requests_total{status} (Counter)
//   - catalog_upstream_request_duration_seconds{status} (Histogram)
//   - catalog_upstream_errors_total{class} (Counter)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - catalog_rate_limit_rejections_total (Counter)
//   - catalog_rate_limit_fail_open_total (Counter)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(catalog_cache_lookups_total{status=~"HIT|WAIT"}[5m])) /
//   sum(rate(catalog_cache_lookups_total[5m]))
//
//   # Share of deduplicated calls
//   sum(rate(catalog_dedupe_calls_total{role="follower"}[5m])) /
//   sum(rate(catalog_dedupe_calls_total[5m]))
//
//   # Breaker open
//   catalog_breaker_state == 2
//
//   # P95 Listing Latency
//   histogram_quantile(0.95, rate(catalog_http_request_duration_seconds_bucket{route="/products"}[5m]))
