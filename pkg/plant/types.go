// Package plant holds the read-only telemetry model served by the
// external plant API: plants, their device trees and daily sample sets.
package plant

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Well-known sample fields.
const (
	FieldPVPower      = "pv_power"
	FieldLoadPower    = "load_power"
	FieldGridPower    = "grid_power"
	FieldBatteryPower = "battery_power"
	FieldBatterySOC   = "battery_soc"
	FieldPrice        = "price"
)

// Plant is the static description of one solar installation.
type Plant struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Location    string   `json:"location,omitempty"`
	CapacityKWp float64  `json:"capacity_kwp,omitempty"`
	Timezone    string   `json:"timezone,omitempty"`
	Devices     []Device `json:"devices,omitempty"`
}

// Device is a node in a plant's device/controller tree.
type Device struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Children []Device `json:"children,omitempty"`
}

// CountDevices returns the number of devices in the tree, descendants included.
func (p *Plant) CountDevices() int {
	var walk func([]Device) int
	walk = func(ds []Device) int {
		n := len(ds)
		for _, d := range ds {
			n += walk(d.Children)
		}
		return n
	}
	return walk(p.Devices)
}

// Sample is one timestamped reading. Values stay loosely typed because the
// upstream API is not under our control; use Float to read them.
type Sample struct {
	Timestamp time.Time      `json:"timestamp"`
	Values    map[string]any `json:"values"`
}

// Float returns the numeric value of a field.
func (s Sample) Float(field string) (float64, bool) {
	v, ok := s.Values[field]
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// ToFloat converts a decoded JSON value into a finite float64. Strings are
// accepted when they parse as plain decimal numbers; NaN, infinities and
// hex floats are rejected.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case string:
		if strings.ContainsAny(n, "xX") {
			return 0, false
		}
		var err error
		if f, err = strconv.ParseFloat(n, 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// SnapshotSet is everything the detail view needs for one plant and one day.
type SnapshotSet struct {
	PlantID string   `json:"plant_id"`
	Day     string   `json:"day"`
	Plant   Plant    `json:"plant"`
	Samples []Sample `json:"samples"`
}

// SortSamples orders samples by timestamp.
func (s *SnapshotSet) SortSamples() {
	sort.SliceStable(s.Samples, func(i, j int) bool {
		return s.Samples[i].Timestamp.Before(s.Samples[j].Timestamp)
	})
}
