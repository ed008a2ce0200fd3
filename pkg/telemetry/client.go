// Package telemetry is the HTTP client for the external plant-telemetry
// API: plant listings, plant detail with device trees, and per-day sample
// sets. Failures are terminal per request; there is no retry.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/plantwatch/pkg/daycache"
	"github.com/Sternrassler/plantwatch/pkg/plant"
	"github.com/Sternrassler/plantwatch/pkg/quota"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for upstream requests.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plantwatch_upstream_requests_total",
		Help: "Total telemetry API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plantwatch_upstream_request_duration_seconds",
		Help:    "Telemetry API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plantwatch_upstream_errors_total",
		Help: "Total telemetry API errors by class",
	}, []string{"class"})
)

// Endpoint labels.
const (
	endpointListPlants = "list_plants"
	endpointPlant      = "plant"
	endpointSnapshots  = "snapshots"
	endpointProxy      = "proxy"
)

// maxErrorBody bounds how much of an error body ends up in messages.
const maxErrorBody = 512

// Config holds the client configuration.
type Config struct {
	// BaseURL of the telemetry API, e.g. "https://api.example.com/v1".
	BaseURL string

	// APIKey is sent as X-API-Key when set.
	APIKey string

	UserAgent string
	Timeout   time.Duration

	// Location decides day boundaries for FetchDay. Nil means UTC.
	Location *time.Location
}

// DefaultConfig returns a configuration with a 30s timeout.
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		UserAgent: "plantwatch/0.1.0",
		Timeout:   30 * time.Second,
		Location:  time.UTC,
	}
}

// Client talks to the telemetry API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	quota      *quota.Tracker
	logger     zerolog.Logger
}

// New creates a telemetry client. tracker may be nil to disable quota
// gating.
func New(cfg Config, tracker *quota.Tracker, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "plantwatch/0.1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		config:     cfg,
		quota:      tracker,
		logger:     logger.With().Str("component", "telemetry-client").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Location returns the time zone used for day boundaries.
func (c *Client) Location() *time.Location {
	return c.config.Location
}

// ListPlants returns every plant visible to the API key.
func (c *Client) ListPlants(ctx context.Context) ([]plant.Plant, error) {
	var body struct {
		Plants []plant.Plant `json:"plants"`
	}
	if err := c.getJSON(ctx, endpointListPlants, "/plants", nil, &body); err != nil {
		return nil, err
	}
	if body.Plants == nil {
		body.Plants = []plant.Plant{}
	}
	return body.Plants, nil
}

// Plant returns one plant with its device tree.
func (c *Client) Plant(ctx context.Context, plantID string) (*plant.Plant, error) {
	var p plant.Plant
	if err := c.getJSON(ctx, endpointPlant, plantPath(plantID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FetchDay returns the samples of one calendar day for a plant, ordered by
// timestamp.
func (c *Client) FetchDay(ctx context.Context, plantID string, day daycache.DayKey) (*plant.SnapshotSet, error) {
	if !day.Valid() {
		return nil, fmt.Errorf("%w: %q", daycache.ErrInvalidKey, day)
	}

	query := url.Values{}
	query.Set("from", day.Start(c.config.Location).Format(time.RFC3339))
	query.Set("to", day.End(c.config.Location).Format(time.RFC3339))

	var body struct {
		Plant   plant.Plant    `json:"plant"`
		Samples []plant.Sample `json:"samples"`
	}
	path := plantPath(plantID, "snapshots")
	if err := c.getJSON(ctx, endpointSnapshots, path, query, &body); err != nil {
		return nil, err
	}

	set := &plant.SnapshotSet{
		PlantID: plantID,
		Day:     day.String(),
		Plant:   body.Plant,
		Samples: body.Samples,
	}
	if set.Samples == nil {
		set.Samples = []plant.Sample{}
	}
	set.SortSamples()

	c.logger.Info().
		Str("plant_id", plantID).
		Str("day", day.String()).
		Int("samples", len(set.Samples)).
		Msg("Fetched day from upstream")

	return set, nil
}

// Proxy forwards a GET below /plants/ and returns the raw upstream
// response, whatever its status. path is in escaped form, as it appears in
// a URL. The caller must close the body.
func (c *Client) Proxy(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	clean := "/" + strings.TrimLeft(path, "/")
	decoded, err := url.PathUnescape(clean)
	if err != nil || (clean != "/plants" && !strings.HasPrefix(clean, "/plants/")) || strings.Contains(decoded, "..") {
		return nil, fmt.Errorf("%w: %q", ErrPathNotAllowed, path)
	}
	return c.do(ctx, endpointProxy, clean, query)
}

// getJSON performs a GET and decodes a JSON body into out.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, endpoint, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if class := classifyStatus(resp.StatusCode); class != "" {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
		apiErr := &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    strings.TrimSpace(string(snippet)),
		}
		if resp.StatusCode == http.StatusNotFound {
			apiErr.Err = ErrNotFound
		}
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Telemetry request error")
		return apiErr
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json") {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassContent)).Inc()
		return &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassContent,
			Message:    fmt.Sprintf("content type %q", resp.Header.Get("Content-Type")),
			Err:        ErrUnexpectedContent,
		}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassContent)).Inc()
		return &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassContent,
			Message:    "decode body",
			Err:        err,
		}
	}
	return nil
}

// plantPath returns the escaped path of a plant resource.
func plantPath(plantID string, rest ...string) string {
	p := "/plants/" + url.PathEscape(plantID)
	for _, seg := range rest {
		p += "/" + url.PathEscape(seg)
	}
	return p
}

// do executes one upstream GET with quota gating, headers and metrics.
func (c *Client) do(ctx context.Context, endpoint, path string, query url.Values) (*http.Response, error) {
	if c.quota != nil {
		if err := c.quota.Allow(ctx); err != nil {
			upstreamRequestsTotal.WithLabelValues(endpoint, "quota_blocked").Inc()
			return nil, err
		}
	}

	// path arrives escaped. Setting RawPath keeps escaped slashes inside a
	// segment, such as a plant ID, from being split or escaped again.
	decoded, err := url.PathUnescape(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	u := *c.baseURL
	u.Path = c.baseURL.Path + decoded
	u.RawPath = c.baseURL.EscapedPath() + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	upstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Telemetry request failed")
		return nil, &APIError{
			Endpoint: endpoint,
			Class:    ErrorClassNetwork,
			Message:  "request failed",
			Err:      err,
		}
	}

	upstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if c.quota != nil {
		if err := c.quota.UpdateFromHeaders(resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update quota from headers")
		}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Telemetry request done")

	return resp, nil
}
