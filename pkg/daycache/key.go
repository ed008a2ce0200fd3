package daycache

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DayLayout is the canonical DayKey format.
const DayLayout = "2006-01-02"

const keyPrefix = "plantwatch:day:"

// ErrInvalidKey indicates a malformed day or cache key.
var ErrInvalidKey = errors.New("invalid day key")

// DayKey is a calendar day in YYYY-MM-DD form.
type DayKey string

// NewDayKey truncates t to its calendar day in loc (UTC when loc is nil).
func NewDayKey(t time.Time, loc *time.Location) DayKey {
	if loc == nil {
		loc = time.UTC
	}
	return DayKey(t.In(loc).Format(DayLayout))
}

// ParseDayKey validates s and returns it as a DayKey.
func ParseDayKey(s string) (DayKey, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return DayKey(t.Format(DayLayout)), nil
}

// Valid reports whether d is a well-formed day.
func (d DayKey) Valid() bool {
	_, err := time.Parse(DayLayout, string(d))
	return err == nil
}

// String implements fmt.Stringer.
func (d DayKey) String() string {
	return string(d)
}

// date returns midnight UTC for d. UTC has no DST, so day arithmetic on
// the result is exact.
func (d DayKey) date() time.Time {
	t, _ := time.Parse(DayLayout, string(d))
	return t
}

// Start returns the first instant of d in loc.
func (d DayKey) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t, _ := time.ParseInLocation(DayLayout, string(d), loc)
	return t
}

// End returns the first instant of the following day in loc.
func (d DayKey) End(loc *time.Location) time.Time {
	return d.AddDays(1).Start(loc)
}

// AddDays returns the day n days after d (n may be negative).
func (d DayKey) AddDays(n int) DayKey {
	return DayKey(d.date().AddDate(0, 0, n).Format(DayLayout))
}

// DaysUntil returns how many calendar days other lies after d.
func (d DayKey) DaysUntil(other DayKey) int {
	return int(other.date().Sub(d.date()).Hours() / 24)
}

// Before reports whether d is an earlier day than other.
func (d DayKey) Before(other DayKey) bool {
	return d < other
}

// After reports whether d is a later day than other.
func (d DayKey) After(other DayKey) bool {
	return d > other
}

// Key identifies one cached day for one plant.
type Key struct {
	PlantID string
	Day     DayKey
}

// String generates the storage key.
// Format: plantwatch:day:<YYYY-MM-DD>:<plant id>
//
// The day goes first because it is fixed width, so plant IDs may contain
// colons.
func (k Key) String() string {
	return keyPrefix + string(k.Day) + ":" + k.PlantID
}

// Validate checks that the key can be stored.
func (k Key) Validate() error {
	if k.PlantID == "" {
		return fmt.Errorf("%w: empty plant id", ErrInvalidKey)
	}
	if !k.Day.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k.Day)
	}
	return nil
}

// ParseKey reverses Key.String.
func ParseKey(s string) (Key, error) {
	rest, ok := strings.CutPrefix(s, keyPrefix)
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	day, plantID, ok := strings.Cut(rest, ":")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	k := Key{PlantID: plantID, Day: DayKey(day)}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}
