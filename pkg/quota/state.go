// Package quota tracks the request quota the telemetry API reports in its
// X-RateLimit-Remaining and X-RateLimit-Reset headers, and gates upstream
// requests before the quota runs out.
package quota

import (
	"time"
)

// Upstream quota headers.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds for quota decisions.
const (
	// ThresholdCritical blocks requests while fewer calls remain.
	ThresholdCritical = 5

	// ThresholdWarning delays requests while fewer calls remain.
	ThresholdWarning = 20

	// ThresholdHealthy and above means no restrictions.
	ThresholdHealthy = 50
)

// State is the last quota reported by upstream.
type State struct {
	// Remaining calls in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when headers were last seen.
	LastUpdate time.Time `json:"last_update"`

	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge at now.
func (s *State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock reports whether requests must be refused.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical
}

// NeedsThrottling reports whether requests should be delayed.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the time left in the window, never negative.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
