package daycache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookups that found an entry, by backend
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantwatch_daycache_hits_total",
			Help: "Total number of day cache hits",
		},
		[]string{"backend"},
	)

	// CacheMisses tracks lookups that found nothing
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plantwatch_daycache_misses_total",
			Help: "Total number of day cache misses",
		},
	)

	// CacheStaleHits tracks hits on entries flagged stale by a refresh
	CacheStaleHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plantwatch_daycache_stale_hits_total",
			Help: "Total number of day cache hits on entries marked stale",
		},
	)

	// CacheEvictions tracks entries removed by the retention window
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plantwatch_daycache_evictions_total",
			Help: "Total number of day cache entries pruned by retention",
		},
	)

	// CacheEntries is the number of entries after the last prune
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plantwatch_daycache_entries",
			Help: "Number of day cache entries after the last prune",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks backend failures by operation
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantwatch_daycache_errors_total",
			Help: "Total number of day cache backend errors",
		},
		[]string{"operation"}, // "get", "put", "invalidate", "prune"
	)
)
