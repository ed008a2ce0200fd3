package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sternrassler/plantwatch/internal/testutil"
	"github.com/Sternrassler/plantwatch/pkg/daycache"
	"github.com/Sternrassler/plantwatch/pkg/plant"
	"github.com/Sternrassler/plantwatch/pkg/quota"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, mock *testutil.MockTelemetry, tracker *quota.Tracker) *Client {
	t.Helper()
	cfg := DefaultConfig(mock.URL(), "secret-key")
	c, err := New(cfg, tracker, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid", "https://api.example.com/v1", false},
		{"trailing_slash", "https://api.example.com/v1/", false},
		{"empty", "", true},
		{"no_scheme", "api.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{BaseURL: tt.baseURL}, nil, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_ListPlants(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	mock.AddPlant(testutil.DefaultPlant("plant-2"))

	c := newTestClient(t, mock, nil)
	plants, err := c.ListPlants(context.Background())
	if err != nil {
		t.Fatalf("ListPlants failed: %v", err)
	}
	if len(plants) != 2 {
		t.Errorf("got %d plants, want 2", len(plants))
	}

	h := mock.LastHeader()
	if h.Get("X-API-Key") != "secret-key" {
		t.Errorf("X-API-Key header = %q", h.Get("X-API-Key"))
	}
	if h.Get("User-Agent") == "" {
		t.Error("User-Agent header missing")
	}
}

func TestClient_Plant(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	c := newTestClient(t, mock, nil)

	p, err := c.Plant(context.Background(), "plant-1")
	if err != nil {
		t.Fatalf("Plant failed: %v", err)
	}
	if p.CountDevices() != 4 {
		t.Errorf("device tree has %d nodes, want 4", p.CountDevices())
	}

	_, err = c.Plant(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if ClassOf(err) != ErrorClassClient {
		t.Errorf("ClassOf = %q, want client", ClassOf(err))
	}
}

func TestClient_FetchDay(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	c := newTestClient(t, mock, nil)

	set, err := c.FetchDay(context.Background(), "plant-1", "2025-06-10")
	if err != nil {
		t.Fatalf("FetchDay failed: %v", err)
	}
	if set.Day != "2025-06-10" || set.PlantID != "plant-1" {
		t.Errorf("unexpected set header: %+v", set)
	}
	if len(set.Samples) != 24 {
		t.Fatalf("got %d samples, want 24", len(set.Samples))
	}
	first := set.Samples[0]
	if !first.Timestamp.Equal(time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first sample at %v", first.Timestamp)
	}
	if v, ok := first.Float(plant.FieldLoadPower); !ok || v != 450.5 {
		t.Errorf("load_power = %v, %v", v, ok)
	}
	if set.Plant.Name == "" {
		t.Error("plant metadata missing")
	}
}

func TestClient_FetchDay_InvalidDay(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	c := newTestClient(t, mock, nil)

	_, err := c.FetchDay(context.Background(), "plant-1", "junk")
	if !errors.Is(err, daycache.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if mock.TotalRequests() != 0 {
		t.Error("invalid day must not reach upstream")
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		resp      testutil.MockResponse
		wantClass ErrorClass
		wantIs    error
	}{
		{"server_error", testutil.NewServerErrorResponse(), ErrorClassServer, nil},
		{"rate_limited", testutil.NewQuotaExhaustedResponse(), ErrorClassRateLimit, nil},
		{"html_page", testutil.NewHTMLErrorResponse(http.StatusOK), ErrorClassContent, ErrUnexpectedContent},
		{"html_gateway_error", testutil.NewHTMLErrorResponse(http.StatusBadGateway), ErrorClassServer, nil},
		{"broken_json", testutil.MockResponse{
			StatusCode: http.StatusOK,
			Body:       `{"samples": [`,
			Headers:    map[string]string{"Content-Type": "application/json"},
		}, ErrorClassContent, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockTelemetry()
			defer mock.Close()
			mock.SetResponse(testutil.SnapshotPath("plant-1"), tt.resp)
			c := newTestClient(t, mock, nil)

			_, err := c.FetchDay(context.Background(), "plant-1", "2025-06-10")
			if err == nil {
				t.Fatal("expected error")
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if apiErr.Class != tt.wantClass {
				t.Errorf("class = %s, want %s", apiErr.Class, tt.wantClass)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("expected errors.Is(%v)", tt.wantIs)
			}
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	c := newTestClient(t, mock, nil)
	mock.Close()

	_, err := c.ListPlants(context.Background())
	if ClassOf(err) != ErrorClassNetwork {
		t.Errorf("expected network class, got %v", err)
	}
}

func TestClient_QuotaGating(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	mock.SetResponse("/plants", testutil.NewQuotaExhaustedResponse())

	tracker := quota.NewTracker(zerolog.Nop()).WithThrottleDelay(0)
	c := newTestClient(t, mock, tracker)

	if _, err := c.ListPlants(context.Background()); ClassOf(err) != ErrorClassRateLimit {
		t.Fatalf("first call should reach upstream and fail with 429, got %v", err)
	}

	_, err := c.ListPlants(context.Background())
	if !errors.Is(err, quota.ErrQuotaExhausted) {
		t.Errorf("second call should be blocked locally, got %v", err)
	}
	if mock.RequestCount("/plants") != 1 {
		t.Errorf("upstream saw %d requests, want 1", mock.RequestCount("/plants"))
	}
}

func TestClient_PlantIDEscapedOnce(t *testing.T) {
	type seen struct{ path, escaped string }
	requests := make(chan seen, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- seen{r.URL.Path, r.URL.EscapedPath()}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"plant a/b","samples":[]}`))
	}))
	defer srv.Close()

	c, err := New(DefaultConfig(srv.URL+"/v1", ""), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := c.Plant(context.Background(), "plant a/b"); err != nil {
		t.Fatalf("Plant failed: %v", err)
	}
	got := <-requests
	if got.path != "/v1/plants/plant a/b" {
		t.Errorf("upstream path = %q, want %q", got.path, "/v1/plants/plant a/b")
	}
	if got.escaped != "/v1/plants/plant%20a%2Fb" {
		t.Errorf("upstream escaped path = %q, want %q", got.escaped, "/v1/plants/plant%20a%2Fb")
	}

	if _, err := c.FetchDay(context.Background(), "50%", "2025-06-09"); err != nil {
		t.Fatalf("FetchDay failed: %v", err)
	}
	got = <-requests
	if got.path != "/v1/plants/50%/snapshots" {
		t.Errorf("upstream path = %q, want %q", got.path, "/v1/plants/50%/snapshots")
	}
	if got.escaped != "/v1/plants/50%25/snapshots" {
		t.Errorf("upstream escaped path = %q, want %q", got.escaped, "/v1/plants/50%25/snapshots")
	}
}

func TestClient_Proxy(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	c := newTestClient(t, mock, nil)

	resp, err := c.Proxy(context.Background(), "plants/plant-1", nil)
	if err != nil {
		t.Fatalf("Proxy failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || len(body) == 0 {
		t.Errorf("unexpected proxy response: %d %s", resp.StatusCode, body)
	}

	for _, bad := range []string{"/admin", "/plants/../admin", "/plants/%2E%2E/admin", "/plants/%zz", "/plantsX"} {
		if _, err := c.Proxy(context.Background(), bad, nil); !errors.Is(err, ErrPathNotAllowed) {
			t.Errorf("Proxy(%q) should be rejected, got %v", bad, err)
		}
	}
}
