package daycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/plantwatch/pkg/plant"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry could not be decoded
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Policy holds the freshness and retention rules.
type Policy struct {
	// TodayFreshness is how long an entry for the current day stays fresh.
	TodayFreshness time.Duration

	// PastFreshness is how long an entry for an earlier day stays fresh.
	PastFreshness time.Duration

	// RetentionDays: entries whose day lies more than this many days
	// before today are pruned.
	RetentionDays int

	// Location decides where a day starts and ends. Nil means UTC.
	Location *time.Location
}

// DefaultPolicy returns 5m/60m freshness and a 7 day retention in UTC.
func DefaultPolicy() Policy {
	return Policy{
		TodayFreshness: 5 * time.Minute,
		PastFreshness:  60 * time.Minute,
		RetentionDays:  7,
		Location:       time.UTC,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.TodayFreshness <= 0 {
		p.TodayFreshness = d.TodayFreshness
	}
	if p.PastFreshness <= 0 {
		p.PastFreshness = d.PastFreshness
	}
	if p.RetentionDays <= 0 {
		p.RetentionDays = d.RetentionDays
	}
	if p.Location == nil {
		p.Location = d.Location
	}
	return p
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store is the day cache. It is owned by whoever constructs it; there is
// no package-level state besides metrics.
type Store struct {
	backend Backend
	policy  Policy
	now     func() time.Time
	logger  zerolog.Logger

	// mu serialises read-modify-write sequences (Invalidate, Prune).
	mu sync.Mutex
}

// NewStore creates a day cache on top of backend.
func NewStore(backend Backend, policy Policy, opts ...Option) *Store {
	if backend == nil {
		panic("daycache backend cannot be nil")
	}
	s := &Store{
		backend: backend,
		policy:  policy.withDefaults(),
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the effective policy.
func (s *Store) Policy() Policy {
	return s.policy
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Today returns the current day in the policy's location.
func (s *Store) Today() DayKey {
	return NewDayKey(s.now(), s.policy.Location)
}

// Get retrieves the entry for key, stale or not. Returns ErrCacheMiss if
// the key is absent.
func (s *Store) Get(ctx context.Context, key Key) (*Entry, error) {
	entry, err := s.backend.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			CacheMisses.Inc()
			s.logger.Debug().Str("key", key.String()).Msg("Day cache miss")
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("load %s: %w", key, err)
	}

	CacheHits.WithLabelValues(s.backend.Name()).Inc()
	if entry.Stale {
		CacheStaleHits.Inc()
	}
	s.logger.Debug().
		Str("key", key.String()).
		Bool("stale", entry.Stale).
		Dur("age", entry.Age(s.now())).
		Msg("Day cache hit")

	return entry, nil
}

// Put records payload for key with the current time and clears the stale
// flag. Entries older than the retention window are pruned afterwards, which
// lists every key in the backend.
func (s *Store) Put(ctx context.Context, key Key, payload *plant.SnapshotSet) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if payload == nil {
		return fmt.Errorf("payload cannot be nil")
	}

	now := s.now()
	entry := &Entry{Payload: payload, FetchedAt: now}

	s.mu.Lock()
	err := s.backend.Save(ctx, key, entry)
	s.mu.Unlock()
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("save %s: %w", key, err)
	}

	s.logger.Debug().
		Str("key", key.String()).
		Int("samples", len(payload.Samples)).
		Msg("Cached day")

	if _, err := s.Prune(ctx, now); err != nil {
		s.logger.Warn().Err(err).Msg("Prune after put failed")
	}
	return nil
}

// Invalidate flags the entry for key as stale without deleting it. A
// missing key is not an error.
func (s *Store) Invalidate(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.backend.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil
		}
		CacheErrors.WithLabelValues("invalidate").Inc()
		return fmt.Errorf("load %s: %w", key, err)
	}
	if entry.Stale {
		return nil
	}

	entry.Stale = true
	if err := s.backend.Save(ctx, key, entry); err != nil {
		CacheErrors.WithLabelValues("invalidate").Inc()
		return fmt.Errorf("save %s: %w", key, err)
	}

	s.logger.Debug().Str("key", key.String()).Msg("Marked day stale")
	return nil
}

// Prune removes every entry whose day is more than RetentionDays before
// now's day and returns how many were removed.
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.backend.Keys(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("prune").Inc()
		return 0, fmt.Errorf("list keys: %w", err)
	}

	today := NewDayKey(now, s.policy.Location)
	var expired []Key
	for _, k := range keys {
		if k.Day.DaysUntil(today) > s.policy.RetentionDays {
			expired = append(expired, k)
		}
	}

	if len(expired) > 0 {
		if err := s.backend.Delete(ctx, expired...); err != nil {
			CacheErrors.WithLabelValues("prune").Inc()
			return 0, fmt.Errorf("delete expired: %w", err)
		}
		CacheEvictions.Add(float64(len(expired)))
		s.logger.Debug().
			Int("evicted", len(expired)).
			Str("today", today.String()).
			Msg("Pruned day cache")
	}

	CacheEntries.WithLabelValues(s.backend.Name()).Set(float64(len(keys) - len(expired)))
	return len(expired), nil
}

// FreshnessWindow returns the window that applies to day.
func (s *Store) FreshnessWindow(day DayKey) time.Duration {
	if day.Before(s.Today()) {
		return s.policy.PastFreshness
	}
	return s.policy.TodayFreshness
}

// IsFresh reports whether entry can be served without a refetch: it must
// be non-stale and younger than its day's freshness window.
func (s *Store) IsFresh(key Key, entry *Entry) bool {
	if entry == nil || entry.Stale || entry.Payload == nil {
		return false
	}
	return entry.Age(s.now()) < s.FreshnessWindow(key.Day)
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}
