package quota

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrQuotaExhausted is returned when upstream reported a critical quota.
var ErrQuotaExhausted = errors.New("upstream quota exhausted")

var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plantwatch_upstream_quota_remaining",
		Help: "Requests remaining in the current telemetry API quota window",
	})

	quotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plantwatch_upstream_quota_blocks_total",
		Help: "Total number of upstream requests refused due to critical quota",
	})

	quotaThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plantwatch_upstream_quota_throttles_total",
		Help: "Total number of upstream requests delayed due to low quota",
	})
)

// Tracker keeps the latest quota state and gates requests.
type Tracker struct {
	mu            sync.RWMutex
	state         *State
	logger        zerolog.Logger
	now           func() time.Time
	throttleDelay time.Duration
}

// NewTracker creates a tracker that assumes a healthy quota until upstream
// says otherwise.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		logger:        logger,
		now:           time.Now,
		throttleDelay: 500 * time.Millisecond,
	}
}

// WithClock replaces time.Now.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// WithThrottleDelay sets how long a request waits in the warning band.
func (t *Tracker) WithThrottleDelay(d time.Duration) *Tracker {
	t.throttleDelay = d
	return t
}

// State returns a copy of the current state. When nothing was recorded yet
// or the window has reset, a healthy default is returned.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	if t.state == nil || !now.Before(t.state.ResetAt) {
		return State{
			Remaining:  100,
			ResetAt:    now.Add(60 * time.Second),
			LastUpdate: now,
			IsHealthy:  true,
		}
	}
	return *t.state
}

// UpdateFromHeaders records the quota from an upstream response. Responses
// without quota headers are ignored.
func (t *Tracker) UpdateFromHeaders(headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}
	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	now := t.now()
	state := &State{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()

	t.mu.Lock()
	t.state = state
	t.mu.Unlock()

	quotaRemaining.Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Upstream quota critical - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Upstream quota low - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Bool("is_healthy", state.IsHealthy).
			Msg("Upstream quota updated")
	}

	return nil
}

// Allow returns ErrQuotaExhausted while the quota is critical. In the
// warning band it waits throttleDelay, honouring ctx.
func (t *Tracker) Allow(ctx context.Context) error {
	state := t.State()

	if state.NeedsCriticalBlock() {
		wait := state.TimeUntilReset(t.now())
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("retry_after", wait).
			Msg("Upstream quota critical - blocking request")
		quotaBlocksTotal.Inc()
		return fmt.Errorf("%w: resets in %s", ErrQuotaExhausted, wait.Round(time.Second))
	}

	if state.NeedsThrottling() && t.throttleDelay > 0 {
		quotaThrottlesTotal.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.throttleDelay):
		}
	}

	return nil
}
