package daycache

import (
	"encoding/json"
	"time"

	"github.com/Sternrassler/plantwatch/pkg/plant"
)

// Entry represents one cached day of telemetry.
type Entry struct {
	// Payload is the snapshot set returned by the telemetry API
	Payload *plant.SnapshotSet

	// FetchedAt is when the payload was stored
	FetchedAt time.Time

	// Stale is set by a manual refresh; the payload stays readable
	Stale bool
}

// entryJSON is the stored representation.
type entryJSON struct {
	Payload         *plant.SnapshotSet `json:"payload"`
	FetchedAtMillis int64              `json:"fetched_at_millis"`
	IsStale         bool               `json:"is_stale"`
}

// MarshalJSON stores FetchedAt as Unix milliseconds.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		Payload:         e.Payload,
		FetchedAtMillis: e.FetchedAt.UnixMilli(),
		IsStale:         e.Stale,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Payload = raw.Payload
	e.FetchedAt = time.UnixMilli(raw.FetchedAtMillis)
	e.Stale = raw.IsStale
	return nil
}

// Age returns how long ago the entry was fetched.
func (e *Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.FetchedAt)
	if age < 0 {
		return 0
	}
	return age
}

// clone returns a shallow copy so callers cannot flip flags on stored entries.
func (e *Entry) clone() *Entry {
	c := *e
	return &c
}
