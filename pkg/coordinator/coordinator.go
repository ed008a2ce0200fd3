// Package coordinator decides, per plant and day, whether a request is
// answered from the day cache or from the telemetry API.
//
// Rules:
//
//   - initial and dateChange requests are served from the cache while the
//     entry is fresh and not marked stale
//   - concurrent requests for the same day share one upstream fetch
//   - refresh marks the entry stale and always starts a new fetch
//   - a fetch result only reaches the cache if no newer fetch for the same
//     key has committed first (generation tokens)
//   - after a dateChange the previous and next day are prefetched in the
//     background; prefetch errors are logged, never returned
//
// There is no retry: a failed fetch is returned to the caller and the
// cached entry, if any, is left in place.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/plantwatch/pkg/daycache"
	"github.com/Sternrassler/plantwatch/pkg/plant"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Fetcher loads one day of telemetry from upstream.
type Fetcher interface {
	FetchDay(ctx context.Context, plantID string, day daycache.DayKey) (*plant.SnapshotSet, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, plantID string, day daycache.DayKey) (*plant.SnapshotSet, error)

// FetchDay implements Fetcher.
func (f FetcherFunc) FetchDay(ctx context.Context, plantID string, day daycache.DayKey) (*plant.SnapshotSet, error) {
	return f(ctx, plantID, day)
}

// Result is the answer to a day request. It is shared between callers that
// joined the same fetch and must not be modified.
type Result struct {
	Snapshot  *plant.SnapshotSet
	FromCache bool
	FetchedAt time.Time

	// Generation of the fetch that produced Snapshot; 0 for cache hits.
	Generation uint64
}

// Config holds coordinator settings.
type Config struct {
	// FetchTimeout bounds one upstream fetch. The fetch is detached from the
	// caller's cancellation so joined callers still get a result.
	FetchTimeout time.Duration

	// PrefetchTimeout bounds one background prefetch.
	PrefetchTimeout time.Duration

	// DisablePrefetch turns neighbour prefetching off.
	DisablePrefetch bool
}

// DefaultConfig returns 30s timeouts with prefetch enabled.
func DefaultConfig() Config {
	return Config{
		FetchTimeout:    30 * time.Second,
		PrefetchTimeout: 30 * time.Second,
	}
}

// Coordinator orchestrates cache lookups, de-duplicated fetches and
// prefetching.
type Coordinator struct {
	store   *daycache.Store
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger

	group singleflight.Group

	mu        sync.Mutex
	nextGen   uint64
	inflight  map[daycache.Key]int
	committed map[daycache.Key]uint64

	// commitMu makes the generation check and the cache write one step.
	commitMu sync.Mutex

	background sync.WaitGroup
}

// New creates a coordinator.
func New(store *daycache.Store, fetcher Fetcher, cfg Config, logger zerolog.Logger) *Coordinator {
	if store == nil || fetcher == nil {
		panic("coordinator needs a store and a fetcher")
	}
	def := DefaultConfig()
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.PrefetchTimeout <= 0 {
		cfg.PrefetchTimeout = def.PrefetchTimeout
	}
	return &Coordinator{
		store:     store,
		fetcher:   fetcher,
		config:    cfg,
		logger:    logger.With().Str("component", "coordinator").Logger(),
		inflight:  make(map[daycache.Key]int),
		committed: make(map[daycache.Key]uint64),
	}
}

// Store returns the day cache the coordinator writes to.
func (c *Coordinator) Store() *daycache.Store {
	return c.store
}

// Request returns the snapshot set for key.
func (c *Coordinator) Request(ctx context.Context, key daycache.Key, reason Reason) (*Result, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	log := c.logger.With().
		Str("plant_id", key.PlantID).
		Str("day", key.Day.String()).
		Str("reason", reason.String()).
		Logger()

	if reason == ReasonRefresh {
		if err := c.store.Invalidate(ctx, key); err != nil {
			log.Warn().Err(err).Msg("Failed to mark day stale")
		}
		// A refresh never joins an older flight; later non-refresh callers
		// join this one instead.
		c.group.Forget(key.String())
	} else {
		entry, err := c.store.Get(ctx, key)
		if err != nil && !errors.Is(err, daycache.ErrCacheMiss) {
			log.Warn().Err(err).Msg("Day cache lookup failed, fetching")
		}
		if err == nil && c.store.IsFresh(key, entry) {
			requestsTotal.WithLabelValues(reason.String(), "cache").Inc()
			log.Debug().Dur("age", entry.Age(c.store.Now())).Msg("Serving day from cache")
			if reason == ReasonDateChange {
				c.prefetchNeighbours(ctx, key)
			}
			return &Result{Snapshot: entry.Payload, FromCache: true, FetchedAt: entry.FetchedAt}, nil
		}
		if c.InFlight(key) {
			requestsTotal.WithLabelValues(reason.String(), "joined").Inc()
			log.Debug().Msg("Joining in-flight fetch")
		}
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.fetch(ctx, key)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	if res.Err != nil {
		requestsTotal.WithLabelValues(reason.String(), "error").Inc()
		return nil, res.Err
	}
	requestsTotal.WithLabelValues(reason.String(), "network").Inc()

	if reason == ReasonDateChange {
		c.prefetchNeighbours(ctx, key)
	}
	return res.Val.(*Result), nil
}

// Peek returns whatever the cache holds for key, fresh or not.
func (c *Coordinator) Peek(ctx context.Context, key daycache.Key) (*daycache.Entry, error) {
	return c.store.Get(ctx, key)
}

// InFlight reports whether an upstream fetch for key is running.
func (c *Coordinator) InFlight(key daycache.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[key] > 0
}

// Wait blocks until all background prefetches have finished.
func (c *Coordinator) Wait() {
	c.background.Wait()
}

func (c *Coordinator) begin(key daycache.Key) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextGen++
	c.inflight[key]++
	inflightFetches.Inc()
	return c.nextGen
}

func (c *Coordinator) end(key daycache.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[key]--
	if c.inflight[key] <= 0 {
		delete(c.inflight, key)
	}
	inflightFetches.Dec()
}

// fetch performs one upstream call and commits the result unless a newer
// generation already has.
func (c *Coordinator) fetch(parent context.Context, key daycache.Key) (*Result, error) {
	gen := c.begin(key)
	defer c.end(key)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.config.FetchTimeout)
	defer cancel()

	log := c.logger.With().
		Str("plant_id", key.PlantID).
		Str("day", key.Day.String()).
		Uint64("generation", gen).
		Logger()

	payload, err := c.fetcher.FetchDay(ctx, key.PlantID, key.Day)
	if err == nil && payload == nil {
		err = fmt.Errorf("fetcher returned no data")
	}
	if err != nil {
		fetchesTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("Day fetch failed, cached entry left untouched")
		return nil, fmt.Errorf("fetch %s for %s: %w", key.Day, key.PlantID, err)
	}

	res := &Result{Snapshot: payload, FetchedAt: c.store.Now(), Generation: gen}

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	newer := c.committed[key] > gen
	if !newer {
		c.committed[key] = gen
		c.forgetExpiredLocked()
	}
	c.mu.Unlock()

	if newer {
		fetchesTotal.WithLabelValues("discarded").Inc()
		log.Debug().Msg("Discarding fetch superseded by a newer generation")
		return res, nil
	}

	if err := c.store.Put(ctx, key, payload); err != nil {
		log.Warn().Err(err).Msg("Failed to cache day")
	}
	fetchesTotal.WithLabelValues("committed").Inc()
	return res, nil
}

// forgetExpiredLocked drops generation records for days the cache has
// already pruned. c.mu must be held.
func (c *Coordinator) forgetExpiredLocked() {
	today := c.store.Today()
	retention := c.store.Policy().RetentionDays
	for k := range c.committed {
		if k.Day.DaysUntil(today) > retention {
			delete(c.committed, k)
		}
	}
}

// prefetchNeighbours schedules best-effort loads of the previous and next
// day. Days after today or outside the retention window are skipped.
func (c *Coordinator) prefetchNeighbours(ctx context.Context, key daycache.Key) {
	if c.config.DisablePrefetch {
		return
	}

	today := c.store.Today()
	retention := c.store.Policy().RetentionDays

	for _, day := range []daycache.DayKey{key.Day.AddDays(-1), key.Day.AddDays(1)} {
		if day.After(today) || day.DaysUntil(today) > retention {
			continue
		}
		nk := daycache.Key{PlantID: key.PlantID, Day: day}

		c.background.Add(1)
		go func() {
			defer c.background.Done()

			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.PrefetchTimeout)
			defer cancel()

			if entry, err := c.store.Get(pctx, nk); err == nil && c.store.IsFresh(nk, entry) {
				prefetchesTotal.WithLabelValues("skipped").Inc()
				return
			}
			if c.InFlight(nk) {
				prefetchesTotal.WithLabelValues("skipped").Inc()
				return
			}

			if _, err := c.Request(pctx, nk, ReasonInitial); err != nil {
				prefetchesTotal.WithLabelValues("error").Inc()
				c.logger.Warn().Err(err).
					Str("plant_id", nk.PlantID).
					Str("day", nk.Day.String()).
					Msg("Prefetch failed")
				return
			}
			prefetchesTotal.WithLabelValues("success").Inc()
			c.logger.Debug().
				Str("plant_id", nk.PlantID).
				Str("day", nk.Day.String()).
				Msg("Prefetched day")
		}()
	}
}
