// Package daycache stores per-day plant telemetry keyed by plant and
// calendar day.
//
// The store implements the dashboard's day cache:
//
//   - At most one entry per (plant, day) key
//   - Freshness windows: 5 minutes for today, 60 minutes for past days
//   - Manual refresh marks an entry stale without deleting it, so the old
//     payload can still be served while the refetch runs
//   - Entries whose day is more than 7 days before today are pruned on
//     every write
//   - Pluggable backends: in-process memory (default) or Redis
//   - Prometheus metrics for observability
//
// # Basic Usage
//
//	store := daycache.NewStore(daycache.NewMemoryBackend(), daycache.DefaultPolicy())
//
//	key := daycache.Key{PlantID: "plant-42", Day: store.Today()}
//
//	entry, err := store.Get(ctx, key)
//	if errors.Is(err, daycache.ErrCacheMiss) || !store.IsFresh(key, entry) {
//		// fetch from upstream, then
//		_ = store.Put(ctx, key, snapshot)
//	}
//
// # Redis Backend
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := daycache.NewStore(daycache.NewRedisBackend(rdb, "pw"), daycache.DefaultPolicy())
//
// Redis values carry a TTL slightly longer than the retention window, so
// keys from a crashed process still disappear.
//
// # Metrics
//
//   - plantwatch_daycache_hits_total{backend}
//   - plantwatch_daycache_misses_total
//   - plantwatch_daycache_stale_hits_total
//   - plantwatch_daycache_evictions_total
//   - plantwatch_daycache_entries{backend}
//   - plantwatch_daycache_errors_total{operation}
package daycache
