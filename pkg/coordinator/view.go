package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/plantwatch/pkg/daycache"
	"github.com/Sternrassler/plantwatch/pkg/plant"
)

// ErrSuperseded is returned by View.Select when a newer selection was made
// before the result arrived.
var ErrSuperseded = errors.New("request superseded by a newer selection")

// ErrNoView is returned when a session has not opened a view of a plant.
var ErrNoView = errors.New("no view of this plant in the session")

// ViewState is a snapshot of what a detail view shows.
type ViewState struct {
	PlantID   string             `json:"plant_id"`
	Selected  daycache.DayKey    `json:"selected"`
	Loading   bool               `json:"loading"`
	Error     string             `json:"error,omitempty"`
	Snapshot  *plant.SnapshotSet `json:"snapshot,omitempty"`
	FromCache bool               `json:"from_cache"`
	Stale     bool               `json:"stale"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// View is the detail view of one plant for one session. Every Select takes
// a selection token; results for anything but the latest selection are
// dropped.
type View struct {
	coord   *Coordinator
	plantID string

	mu        sync.Mutex
	selection uint64
	state     ViewState
}

// NewView creates a view for plantID.
func NewView(coord *Coordinator, plantID string) *View {
	return &View{
		coord:   coord,
		plantID: plantID,
		state:   ViewState{PlantID: plantID},
	}
}

// Select switches the view to day and loads it. While loading, State shows
// the cached payload for day, stale or not. On failure the cached payload
// stays visible and the error is recorded.
func (v *View) Select(ctx context.Context, day daycache.DayKey, reason Reason) (*Result, error) {
	key := daycache.Key{PlantID: v.plantID, Day: day}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.selection++
	token := v.selection
	v.state.Selected = day
	v.state.Loading = true
	v.state.Error = ""
	v.mu.Unlock()

	if entry, err := v.coord.Peek(ctx, key); err == nil {
		v.show(token, entry.Payload, true, entry.Stale || reason == ReasonRefresh, entry.FetchedAt)
	} else {
		v.show(token, nil, false, false, time.Time{})
	}

	res, err := v.coord.Request(ctx, key, reason)

	v.mu.Lock()
	defer v.mu.Unlock()

	if token != v.selection {
		return nil, ErrSuperseded
	}
	v.state.Loading = false
	if err != nil {
		v.state.Error = err.Error()
		return nil, err
	}
	v.state.Snapshot = res.Snapshot
	v.state.FromCache = res.FromCache
	v.state.Stale = false
	v.state.FetchedAt = res.FetchedAt
	return res, nil
}

// show replaces the displayed payload if token is still current.
func (v *View) show(token uint64, snap *plant.SnapshotSet, fromCache, stale bool, fetchedAt time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if token != v.selection {
		return
	}
	v.state.Snapshot = snap
	v.state.FromCache = fromCache
	v.state.Stale = stale
	v.state.FetchedAt = fetchedAt
}

// State returns a copy of the current view state.
func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// DefaultMaxViews caps the views one session may hold.
const DefaultMaxViews = 32

// Sessions owns the views of every session. A session's views are created
// on first use and discarded with Close or once the session expires. Past
// the per-session cap the least recently used view is dropped.
type Sessions struct {
	coord    *Coordinator
	now      func() time.Time
	maxViews int

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	expiresAt time.Time
	views     map[string]*sessionView
}

type sessionView struct {
	view     *View
	lastUsed time.Time
}

// NewSessions creates an empty registry.
func NewSessions(coord *Coordinator) *Sessions {
	return &Sessions{
		coord:    coord,
		now:      time.Now,
		maxViews: DefaultMaxViews,
		sessions: make(map[string]*session),
	}
}

// WithClock replaces the clock used for expiry (for testing).
func (s *Sessions) WithClock(now func() time.Time) *Sessions {
	s.now = now
	return s
}

// WithMaxViews overrides DefaultMaxViews.
func (s *Sessions) WithMaxViews(n int) *Sessions {
	if n > 0 {
		s.maxViews = n
	}
	return s
}

// View returns the view of plantID for id, creating the session and the
// view if needed. expiresAt is when the session ends; a zero value never
// expires.
func (s *Sessions) View(id string, expiresAt time.Time, plantID string) *View {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{views: make(map[string]*sessionView)}
		s.sessions[id] = sess
	}
	sess.expiresAt = expiresAt

	sv, ok := sess.views[plantID]
	if !ok {
		if len(sess.views) >= s.maxViews {
			sess.evictOldest()
		}
		sv = &sessionView{view: NewView(s.coord, plantID)}
		sess.views[plantID] = sv
	}
	sv.lastUsed = now
	return sv.view
}

// Lookup returns an existing view without creating one.
func (s *Sessions) Lookup(id, plantID string) (*View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sv, ok := sess.views[plantID]
	if !ok {
		return nil, false
	}
	sv.lastUsed = now
	return sv.view, true
}

// Close discards every view of session id.
func (s *Sessions) Close(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *Sessions) sweepLocked(now time.Time) int {
	removed := 0
	for id, sess := range s.sessions {
		if !sess.expiresAt.IsZero() && !now.Before(sess.expiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (sess *session) evictOldest() {
	var oldest string
	var oldestAt time.Time
	for plantID, sv := range sess.views {
		if oldest == "" || sv.lastUsed.Before(oldestAt) {
			oldest, oldestAt = plantID, sv.lastUsed
		}
	}
	delete(sess.views, oldest)
}

// Len returns the number of live sessions with at least one view.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
