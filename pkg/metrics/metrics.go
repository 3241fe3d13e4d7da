// Package metrics exposes the gateway's Prometheus metrics.
// Collectors are defined with promauto in the packages that update them
// (api, cache, database, fetch, ratelimit, store) to keep those packages
// free of a shared dependency; this package serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every gateway collector is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source Handler serves.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the Prometheus text exposition of Gatherer.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		Registry,
		promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}),
	)
}

// Metrics Documentation
//
// HTTP Metrics (pkg/api):
//   - gateway_http_requests_total{route, method, status} (Counter)
//   - gateway_http_request_duration_seconds{route} (Histogram)
//
// Cache Metrics (pkg/cache):
//   - gateway_cache_hits_total{producer} (Counter)
//   - gateway_cache_misses_total{producer} (Counter)
//   - gateway_cache_entry_bytes (Histogram): size of stored envelopes
//   - gateway_cache_errors_total{operation} (Counter)
//
// Database Metrics (pkg/database):
//   - gateway_db_connection_state (Gauge): 0=disconnected 1=connecting 2=verifying 3=ready 4=failed
//   - gateway_db_reconnect_attempts_total (Counter)
//   - gateway_db_retry_ceiling_reached_total (Counter)
//   - gateway_db_queries_total{outcome} (Counter): ok, not_connected, timeout, failed
//   - gateway_db_query_duration_seconds (Histogram)
//
// Purchase Metrics (pkg/store):
//   - gateway_purchases_total{outcome} (Counter)
//   - gateway_purchase_duration_seconds (Histogram)
//
// Upstream Metrics (pkg/fetch, pkg/ratelimit):
//   - gateway_upstream_requests_total{endpoint, status} (Counter)
//   - gateway_upstream_request_duration_seconds{endpoint} (Histogram)
//   - gateway_upstream_errors_total{class} (Counter)
//   - gateway_upstream_retries_total{error_class} (Counter)
//   - gateway_upstream_retry_backoff_seconds{error_class} (Histogram)
//   - gateway_upstream_retry_exhausted_total{error_class} (Counter)
//   - gateway_upstream_cooldown_seconds (Gauge)
//   - gateway_upstream_cooldowns_total (Counter)
//   - gateway_upstream_rate_limit_blocks_total (Counter)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(gateway_cache_hits_total[5m])) /
//   (sum(rate(gateway_cache_hits_total[5m])) + sum(rate(gateway_cache_misses_total[5m])))
//
//   # Database not ready
//   gateway_db_connection_state != 3
//
//   # Purchases with unknown outcome
//   rate(gateway_purchases_total{outcome="timeout"}[5m])
//
//   # P95 upstream latency
//   histogram_quantile(0.95, rate(gateway_upstream_request_duration_seconds_bucket[5m]))
