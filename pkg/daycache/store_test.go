package daycache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/plantwatch/pkg/plant"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T) (*Store, *MemoryBackend, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	backend := NewMemoryBackend()
	return NewStore(backend, DefaultPolicy(), WithClock(clock.Now)), backend, clock
}

func snapshot(plantID string, day DayKey) *plant.SnapshotSet {
	return &plant.SnapshotSet{PlantID: plantID, Day: day.String()}
}

func TestNewStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewStore should panic with nil backend")
		}
	}()
	NewStore(nil, DefaultPolicy())
}

func TestNewStore_PolicyDefaults(t *testing.T) {
	s := NewStore(NewMemoryBackend(), Policy{})
	p := s.Policy()

	if p.TodayFreshness != 5*time.Minute || p.PastFreshness != time.Hour {
		t.Errorf("unexpected freshness defaults: %+v", p)
	}
	if p.RetentionDays != 7 || p.Location != time.UTC {
		t.Errorf("unexpected retention defaults: %+v", p)
	}
}

func TestStore_PutAndGet(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	key := Key{PlantID: "p1", Day: "2025-06-09"}
	payload := snapshot("p1", key.Day)

	if err := s.Put(ctx, key, payload); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	entry, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.Payload != payload {
		t.Error("Get returned a different payload")
	}
	if !entry.FetchedAt.Equal(clock.Now()) {
		t.Errorf("FetchedAt = %v, want %v", entry.FetchedAt, clock.Now())
	}
	if entry.Stale {
		t.Error("fresh put should not be stale")
	}
}

func TestStore_Get_CacheMiss(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.Get(context.Background(), Key{PlantID: "p1", Day: "2025-06-09"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestStore_Put_Validation(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, Key{PlantID: "", Day: "2025-06-09"}, snapshot("", "2025-06-09")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("empty plant id: got %v", err)
	}
	if err := s.Put(ctx, Key{PlantID: "p1", Day: "bad"}, snapshot("p1", "bad")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("bad day: got %v", err)
	}
	if err := s.Put(ctx, Key{PlantID: "p1", Day: "2025-06-09"}, nil); err == nil {
		t.Error("nil payload should fail")
	}
}

func TestStore_Invalidate(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	key := Key{PlantID: "p1", Day: "2025-06-10"}
	payload := snapshot("p1", key.Day)

	if err := s.Put(ctx, key, payload); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Invalidate(ctx, key); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	entry, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("stale entry must remain readable: %v", err)
	}
	if !entry.Stale {
		t.Error("entry should be stale after Invalidate")
	}
	if entry.Payload != payload {
		t.Error("Invalidate must keep the payload")
	}
	if s.IsFresh(key, entry) {
		t.Error("stale entry must not be fresh")
	}

	// A new put clears the flag.
	if err := s.Put(ctx, key, payload); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	entry, _ = s.Get(ctx, key)
	if entry.Stale {
		t.Error("Put should clear the stale flag")
	}
}

func TestStore_Invalidate_Missing(t *testing.T) {
	s, backend, _ := newTestStore(t)

	if err := s.Invalidate(context.Background(), Key{PlantID: "p1", Day: "2025-06-10"}); err != nil {
		t.Errorf("Invalidate on a missing key should be a no-op, got %v", err)
	}
	if backend.Len() != 0 {
		t.Error("Invalidate must not create entries")
	}
}

func TestStore_Prune(t *testing.T) {
	s, backend, clock := newTestStore(t)
	ctx := context.Background()

	// today is 2025-06-10
	days := []DayKey{"2025-06-01", "2025-06-02", "2025-06-03", "2025-06-09", "2025-06-10", "2025-06-11"}
	for _, d := range days {
		if err := backend.Save(ctx, Key{PlantID: "p1", Day: d}, &Entry{Payload: snapshot("p1", d)}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	// second plant shares the retention rule
	_ = backend.Save(ctx, Key{PlantID: "p2", Day: "2025-06-02"}, &Entry{Payload: snapshot("p2", "2025-06-02")})

	removed, err := s.Prune(ctx, clock.Now())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Prune removed %d entries, want 3", removed)
	}

	for _, k := range []Key{
		{PlantID: "p1", Day: "2025-06-01"},
		{PlantID: "p1", Day: "2025-06-02"},
		{PlantID: "p2", Day: "2025-06-02"},
	} {
		if _, err := backend.Load(ctx, k); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("%s should have been pruned", k)
		}
	}
	// exactly seven days old stays
	for _, d := range []DayKey{"2025-06-03", "2025-06-09", "2025-06-10", "2025-06-11"} {
		if _, err := backend.Load(ctx, Key{PlantID: "p1", Day: d}); err != nil {
			t.Errorf("%s should have been kept: %v", d, err)
		}
	}
}

func TestStore_PutPrunesEagerly(t *testing.T) {
	s, backend, clock := newTestStore(t)
	ctx := context.Background()

	old := Key{PlantID: "p1", Day: "2025-06-05"}
	if err := s.Put(ctx, old, snapshot("p1", old.Day)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Five days later the first entry is 10 days old.
	clock.Advance(5 * 24 * time.Hour)
	fresh := Key{PlantID: "p1", Day: s.Today()}
	if err := s.Put(ctx, fresh, snapshot("p1", fresh.Day)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if backend.Len() != 1 {
		t.Errorf("expected only the new entry to remain, have %d", backend.Len())
	}
	if _, err := s.Get(ctx, old); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("old entry should be evicted on write, got %v", err)
	}
}

func TestStore_IsFresh(t *testing.T) {
	tests := []struct {
		name  string
		day   DayKey
		age   time.Duration
		stale bool
		want  bool
	}{
		{"today_within_window", "2025-06-10", 4 * time.Minute, false, true},
		{"today_past_window", "2025-06-10", 6 * time.Minute, false, false},
		{"past_within_window", "2025-06-08", 59 * time.Minute, false, true},
		{"past_past_window", "2025-06-08", 61 * time.Minute, false, false},
		{"stale_overrides_age", "2025-06-08", time.Minute, true, false},
		{"future_day_uses_today_window", "2025-06-11", 6 * time.Minute, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, clock := newTestStore(t)
			key := Key{PlantID: "p1", Day: tt.day}
			entry := &Entry{
				Payload:   snapshot("p1", tt.day),
				FetchedAt: clock.Now().Add(-tt.age),
				Stale:     tt.stale,
			}
			if got := s.IsFresh(key, entry); got != tt.want {
				t.Errorf("IsFresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStore_IsFresh_NilEntry(t *testing.T) {
	s, _, _ := newTestStore(t)
	if s.IsFresh(Key{PlantID: "p1", Day: "2025-06-10"}, nil) {
		t.Error("nil entry must not be fresh")
	}
}

func TestStore_TodayUsesLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	clock := &fakeClock{t: time.Date(2025, 6, 10, 20, 0, 0, 0, time.UTC)}
	s := NewStore(NewMemoryBackend(), Policy{Location: tokyo}, WithClock(clock.Now))

	if got := s.Today(); got != "2025-06-11" {
		t.Errorf("Today() = %s, want 2025-06-11", got)
	}
}
