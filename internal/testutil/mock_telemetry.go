// Package testutil provides testing utilities for plantwatch.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/plantwatch/pkg/plant"
)

// MockResponse defines a canned response for one path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockTelemetry is a configurable fake of the external telemetry API.
//
// By default it serves:
//
//	GET /plants                     -> {"plants": [...]}
//	GET /plants/{id}                -> plant
//	GET /plants/{id}/snapshots      -> {"plant": ..., "samples": [...]}
//
// Snapshot samples are generated hourly between the from/to query values.
type MockTelemetry struct {
	server *httptest.Server

	mu        sync.RWMutex
	plants    map[string]plant.Plant
	overrides map[string]MockResponse
	gate      chan struct{}

	requests      map[string]int
	totalRequests int
	lastHeader    http.Header
}

// NewMockTelemetry starts a mock API with one plant, "plant-1".
func NewMockTelemetry() *MockTelemetry {
	m := &MockTelemetry{
		plants:    make(map[string]plant.Plant),
		overrides: make(map[string]MockResponse),
		requests:  make(map[string]int),
	}
	m.AddPlant(DefaultPlant("plant-1"))

	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// DefaultPlant builds a plant with a small device tree.
func DefaultPlant(id string) plant.Plant {
	return plant.Plant{
		ID:          id,
		Name:        "Plant " + id,
		Location:    "Freiburg",
		CapacityKWp: 9.8,
		Timezone:    "UTC",
		Devices: []plant.Device{
			{ID: id + "-inv", Name: "Inverter", Kind: "inverter", Children: []plant.Device{
				{ID: id + "-str1", Name: "String 1", Kind: "string"},
				{ID: id + "-str2", Name: "String 2", Kind: "string"},
			}},
			{ID: id + "-bat", Name: "Battery", Kind: "battery"},
		},
	}
}

// URL returns the mock server URL.
func (m *MockTelemetry) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockTelemetry) Close() {
	m.mu.Lock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
	m.mu.Unlock()
	m.server.Close()
}

// AddPlant registers a plant.
func (m *MockTelemetry) AddPlant(p plant.Plant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plants[p.ID] = p
}

// SetResponse overrides the response for an exact path.
func (m *MockTelemetry) SetResponse(path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[path] = resp
}

// ClearResponse removes an override.
func (m *MockTelemetry) ClearResponse(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, path)
}

// Hold makes snapshot requests block until Release is called.
func (m *MockTelemetry) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate == nil {
		m.gate = make(chan struct{})
	}
}

// Release unblocks held snapshot requests.
func (m *MockTelemetry) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// Reset clears all tracking counters.
func (m *MockTelemetry) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.totalRequests = 0
	m.lastHeader = nil
}

// RequestCount returns the number of requests made to path.
func (m *MockTelemetry) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// TotalRequests returns the number of requests seen.
func (m *MockTelemetry) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRequests
}

// LastHeader returns the headers of the latest request.
func (m *MockTelemetry) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// SnapshotPath returns the snapshots path of a plant.
func SnapshotPath(plantID string) string {
	return "/plants/" + plantID + "/snapshots"
}

func (m *MockTelemetry) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests[r.URL.Path]++
	m.totalRequests++
	m.lastHeader = r.Header.Clone()
	override, hasOverride := m.overrides[r.URL.Path]
	gate := m.gate
	m.mu.Unlock()

	if hasOverride {
		if override.Delay > 0 {
			time.Sleep(override.Delay)
		}
		for k, v := range override.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(override.StatusCode)
		w.Write([]byte(override.Body))
		return
	}

	w.Header().Set("X-RateLimit-Remaining", "100")
	w.Header().Set("X-RateLimit-Reset", "60")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "plants":
		m.mu.RLock()
		list := make([]plant.Plant, 0, len(m.plants))
		for _, p := range m.plants {
			list = append(list, p)
		}
		m.mu.RUnlock()
		writeJSON(w, http.StatusOK, map[string]any{"plants": list})

	case len(parts) == 2 && parts[0] == "plants":
		p, ok := m.plant(parts[1])
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "plant not found"})
			return
		}
		writeJSON(w, http.StatusOK, p)

	case len(parts) == 3 && parts[0] == "plants" && parts[2] == "snapshots":
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		p, ok := m.plant(parts[1])
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "plant not found"})
			return
		}
		from, err1 := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
		to, err2 := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
		if err1 != nil || err2 != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from/to required"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"plant":   p,
			"samples": HourlySamples(from, to),
		})

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no route for %s", r.URL.Path)})
	}
}

func (m *MockTelemetry) plant(id string) (plant.Plant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plants[id]
	return p, ok
}

// HourlySamples generates one sample per hour in [from, to).
func HourlySamples(from, to time.Time) []plant.Sample {
	var samples []plant.Sample
	for ts, i := from, 0; ts.Before(to); ts, i = ts.Add(time.Hour), i+1 {
		samples = append(samples, plant.Sample{
			Timestamp: ts.UTC(),
			Values: map[string]any{
				plant.FieldPVPower:      float64(i * 100),
				plant.FieldLoadPower:    450.5,
				plant.FieldGridPower:    float64(450 - i*100),
				plant.FieldBatteryPower: -120.0,
				plant.FieldBatterySOC:   float64(40 + i),
				plant.FieldPrice:        0.2875,
			},
		})
	}
	return samples
}

// NewHTMLErrorResponse mimics a gateway answering with an HTML page.
func NewHTMLErrorResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       "<html><body><h1>Bad Gateway</h1></body></html>",
		Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
		Headers: map[string]string{
			"Content-Type":          "application/json",
			"X-RateLimit-Remaining": "95",
			"X-RateLimit-Reset":     "60",
		},
	}
}

// NewQuotaExhaustedResponse creates a 429 with a critical quota.
func NewQuotaExhaustedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "quota exceeded"}`,
		Headers: map[string]string{
			"Content-Type":          "application/json",
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     "120",
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
