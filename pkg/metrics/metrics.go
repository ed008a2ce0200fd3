// Package metrics exposes the Prometheus registry plantwatch registers into.
// The metrics themselves live next to the code that updates them (daycache,
// coordinator, telemetry, quota, export, auth, server) and are registered
// via promauto on the default registerer.
//
// This package documents every metric and serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all plantwatch metrics use.
var Registry = prometheus.DefaultRegisterer

// Gatherer is read by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the gathered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Names lists every plantwatch metric.
var Names = []string{
	// pkg/daycache
	"plantwatch_daycache_hits_total",
	"plantwatch_daycache_misses_total",
	"plantwatch_daycache_stale_hits_total",
	"plantwatch_daycache_evictions_total",
	"plantwatch_daycache_entries",
	"plantwatch_daycache_errors_total",

	// pkg/coordinator
	"plantwatch_coordinator_requests_total",
	"plantwatch_coordinator_fetches_total",
	"plantwatch_coordinator_prefetches_total",
	"plantwatch_coordinator_inflight_fetches",

	// pkg/telemetry
	"plantwatch_upstream_requests_total",
	"plantwatch_upstream_request_duration_seconds",
	"plantwatch_upstream_errors_total",

	// pkg/quota
	"plantwatch_upstream_quota_remaining",
	"plantwatch_upstream_quota_blocks_total",
	"plantwatch_upstream_quota_throttles_total",

	// pkg/export
	"plantwatch_export_total",

	// pkg/auth
	"plantwatch_auth_attempts_total",

	// pkg/server
	"plantwatch_http_requests_total",
	"plantwatch_http_request_duration_seconds",
}

// Metrics Documentation
//
// Day cache (pkg/daycache):
//   - plantwatch_daycache_hits_total (Counter): Fresh hits
//   - plantwatch_daycache_misses_total (Counter): Misses, including expired entries
//   - plantwatch_daycache_stale_hits_total (Counter): Hits on entries marked stale by a refresh
//   - plantwatch_daycache_evictions_total (Counter): Entries removed by retention
//   - plantwatch_daycache_entries{backend} (Gauge): Entries after the last prune
//   - plantwatch_daycache_errors_total{operation} (Counter): Backend errors
//
// Coordinator (pkg/coordinator):
//   - plantwatch_coordinator_requests_total{reason, source} (Counter): source is cache, network, joined or error
//   - plantwatch_coordinator_fetches_total{result} (Counter): committed, discarded (superseded generation) or error
//   - plantwatch_coordinator_prefetches_total{result} (Counter): skipped, success or error
//   - plantwatch_coordinator_inflight_fetches (Gauge)
//
// Upstream (pkg/telemetry, pkg/quota):
//   - plantwatch_upstream_requests_total{endpoint, status} (Counter)
//   - plantwatch_upstream_request_duration_seconds{endpoint} (Histogram)
//   - plantwatch_upstream_errors_total{class} (Counter): client, server, rate_limit, network, content
//   - plantwatch_upstream_quota_remaining (Gauge)
//   - plantwatch_upstream_quota_blocks_total (Counter)
//   - plantwatch_upstream_quota_throttles_total (Counter)
//
// Export and auth (pkg/export, pkg/auth):
//   - plantwatch_export_total{format, result} (Counter)
//   - plantwatch_auth_attempts_total{operation, result} (Counter)
//
// HTTP (pkg/server):
//   - plantwatch_http_requests_total{route, status} (Counter)
//   - plantwatch_http_request_duration_seconds{route} (Histogram)
//
// Example Prometheus Queries:
//
//   # Day cache hit rate
//   sum(rate(plantwatch_daycache_hits_total[5m])) /
//   (sum(rate(plantwatch_daycache_hits_total[5m])) + sum(rate(plantwatch_daycache_misses_total[5m])))
//
//   # Share of requests that joined an in-flight fetch
//   sum(rate(plantwatch_coordinator_requests_total{source="joined"}[5m])) /
//   sum(rate(plantwatch_coordinator_requests_total[5m]))
//
//   # Quota running low
//   plantwatch_upstream_quota_remaining < 20
//
//   # P95 upstream latency
//   histogram_quantile(0.95, rate(plantwatch_upstream_request_duration_seconds_bucket[5m]))
