// Package rangefetch loads every day of a date range through the fetch
// coordinator using a bounded worker pool.
package rangefetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/plantwatch/pkg/coordinator"
	"github.com/Sternrassler/plantwatch/pkg/daycache"
	"github.com/Sternrassler/plantwatch/pkg/plant"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidRange is returned when from is after to or a bound is malformed.
	ErrInvalidRange = errors.New("invalid day range")

	// ErrRangeTooLarge is returned when the range exceeds Config.MaxDays.
	ErrRangeTooLarge = errors.New("day range too large")
)

// Config holds range fetcher configuration.
type Config struct {
	// MaxConcurrency is the number of days fetched in parallel.
	MaxConcurrency int
	// MaxDays is the largest accepted range, both ends included.
	MaxDays int
	// Timeout bounds the whole range.
	Timeout time.Duration
}

// DefaultConfig returns 4 workers, 31 days and a 2 minute timeout.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		MaxDays:        31,
		Timeout:        2 * time.Minute,
	}
}

// DayRequester is the part of the coordinator the fetcher needs.
type DayRequester interface {
	Request(ctx context.Context, key daycache.Key, reason coordinator.Reason) (*coordinator.Result, error)
}

// DayResult is the outcome for one day.
type DayResult struct {
	Day       daycache.DayKey
	Snapshot  *plant.SnapshotSet
	FromCache bool
	Err       error
}

// Result holds one entry per day of the range, in day order.
type Result struct {
	PlantID string
	From    daycache.DayKey
	To      daycache.DayKey
	Days    []DayResult
}

// Snapshots returns the snapshot sets of the successful days.
func (r *Result) Snapshots() []*plant.SnapshotSet {
	out := make([]*plant.SnapshotSet, 0, len(r.Days))
	for _, d := range r.Days {
		if d.Err == nil && d.Snapshot != nil {
			out = append(out, d.Snapshot)
		}
	}
	return out
}

// Fetcher fetches day ranges.
type Fetcher struct {
	requester DayRequester
	config    Config
	logger    zerolog.Logger
}

// New creates a range fetcher.
func New(requester DayRequester, config Config, logger zerolog.Logger) *Fetcher {
	def := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.MaxDays <= 0 {
		config.MaxDays = def.MaxDays
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Fetcher{
		requester: requester,
		config:    config,
		logger:    logger.With().Str("component", "rangefetch").Logger(),
	}
}

// Days validates [from, to] and returns every day in it.
func (f *Fetcher) Days(from, to daycache.DayKey) ([]daycache.DayKey, error) {
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("%w: %q..%q", ErrInvalidRange, from, to)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, to, from)
	}
	n := from.DaysUntil(to) + 1
	if n > f.config.MaxDays {
		return nil, fmt.Errorf("%w: %d days, at most %d", ErrRangeTooLarge, n, f.config.MaxDays)
	}

	days := make([]daycache.DayKey, n)
	for i := range days {
		days[i] = from.AddDays(i)
	}
	return days, nil
}

// FetchRange requests every day of [from, to]. All days are attempted; the
// returned error joins the failures of individual days, and Result is
// returned alongside it.
func (f *Fetcher) FetchRange(ctx context.Context, plantID string, from, to daycache.DayKey) (*Result, error) {
	days, err := f.Days(from, to)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	log := f.logger.With().
		Str("plant_id", plantID).
		Str("from", from.String()).
		Str("to", to.String()).
		Logger()
	log.Debug().Int("days", len(days)).Msg("Starting range fetch")

	res := &Result{PlantID: plantID, From: from, To: to, Days: make([]DayResult, len(days))}

	g := new(errgroup.Group)
	g.SetLimit(f.config.MaxConcurrency)
	for i, day := range days {
		g.Go(func() error {
			dr := DayResult{Day: day}
			r, err := f.requester.Request(ctx, daycache.Key{PlantID: plantID, Day: day}, coordinator.ReasonInitial)
			if err != nil {
				dr.Err = err
			} else {
				dr.Snapshot = r.Snapshot
				dr.FromCache = r.FromCache
			}
			res.Days[i] = dr
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, d := range res.Days {
		if d.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Day, d.Err))
		}
	}

	if len(errs) > 0 {
		log.Warn().
			Int("failed", len(errs)).
			Int("days", len(days)).
			Dur("duration", time.Since(start)).
			Msg("Range fetch incomplete")
		return res, errors.Join(errs...)
	}

	log.Info().
		Int("days", len(days)).
		Dur("duration", time.Since(start)).
		Msg("Range fetch complete")
	return res, nil
}
