package server

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/plantwatch/pkg/coordinator"
	"github.com/Sternrassler/plantwatch/pkg/daycache"
	"github.com/Sternrassler/plantwatch/pkg/export"
	"github.com/Sternrassler/plantwatch/pkg/plant"
	"github.com/rs/zerolog"
)

// proxiedHeaders are copied from upstream on raw passthrough.
var proxiedHeaders = []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified"}

type plantDetail struct {
	*plant.Plant
	DeviceCount int `json:"device_count"`
}

type dayResponse struct {
	PlantID    string             `json:"plant_id"`
	Day        daycache.DayKey    `json:"day"`
	Reason     string             `json:"reason"`
	FromCache  bool               `json:"from_cache"`
	FetchedAt  time.Time          `json:"fetched_at"`
	Generation uint64             `json:"generation,omitempty"`
	Snapshot   *plant.SnapshotSet `json:"snapshot"`
}

func (s *Server) handleListPlants(w http.ResponseWriter, r *http.Request) {
	plants, err := s.deps.Upstream.ListPlants(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plants": plants, "count": len(plants)})
}

func (s *Server) handlePlant(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Upstream.Plant(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plantDetail{Plant: p, DeviceCount: p.CountDevices()})
}

// parseDay accepts YYYY-MM-DD or "today". Days after today are rejected.
func (s *Server) parseDay(raw string) (daycache.DayKey, error) {
	today := s.deps.Coordinator.Store().Today()
	if strings.EqualFold(raw, "today") {
		return today, nil
	}
	day, err := daycache.ParseDayKey(raw)
	if err != nil {
		return "", err
	}
	if day.After(today) {
		return "", fmt.Errorf("%w: day %s is in the future", errBadRequest, day)
	}
	return day, nil
}

// handleDay selects a day in the session's view of the plant.
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	plantID := r.PathValue("id")
	day, err := s.parseDay(r.PathValue("day"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reason, err := coordinator.ParseReason(r.URL.Query().Get("reason"))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	session, expiresAt := sessionOf(r.Context())
	view := s.deps.Sessions.View(session, expiresAt, plantID)
	res, err := view.Select(r.Context(), day, reason)
	if err != nil {
		state := view.State()
		status := statusFor(err)
		zerolog.Ctx(r.Context()).Debug().Err(err).
			Str("plant_id", plantID).
			Str("day", day.String()).
			Int("status", status).
			Msg("Day request failed")
		writeJSON(w, status, errorBody{
			Error:     err.Error(),
			RequestID: w.Header().Get(HeaderRequestID),
			View:      &state,
		})
		return
	}

	writeJSON(w, http.StatusOK, dayResponse{
		PlantID:    plantID,
		Day:        day,
		Reason:     reason.String(),
		FromCache:  res.FromCache,
		FetchedAt:  res.FetchedAt,
		Generation: res.Generation,
		Snapshot:   res.Snapshot,
	})
}

// handleViewState reports a view opened by an earlier day request. It never
// creates one.
func (s *Server) handleViewState(w http.ResponseWriter, r *http.Request) {
	view, ok := s.deps.Sessions.Lookup(ClaimsFrom(r.Context()).ID, r.PathValue("id"))
	if !ok {
		s.fail(w, r, coordinator.ErrNoView)
		return
	}
	writeJSON(w, http.StatusOK, view.State())
}

// sessionOf returns the session ID and expiry of the authenticated token.
func sessionOf(ctx context.Context) (string, time.Time) {
	claims := ClaimsFrom(ctx)
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return claims.ID, expiresAt
}

// handleExport renders [from, to] as CSV or XLSX. Both bounds default to
// today; a missing to means a single day.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	plantID := r.PathValue("id")
	q := r.URL.Query()

	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	fromRaw, toRaw := q.Get("from"), q.Get("to")
	if fromRaw == "" {
		fromRaw = "today"
	}
	if toRaw == "" {
		toRaw = fromRaw
	}
	from, err := s.parseDay(fromRaw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := s.parseDay(toRaw)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.deps.Ranges.FetchRange(r.Context(), plantID, from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	blob, err := s.deps.Exporter.Export(export.Request{
		PlantID: plantID,
		From:    from.String(),
		To:      to.String(),
		Format:  format,
		Rows:    export.RowsFromSnapshots(res.Snapshots()),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": blob.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(blob.Data); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Failed to write export")
	}
}

// handleRaw passes a GET below /plants/{id}/ through to upstream unchanged.
func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	path := "/plants/" + url.PathEscape(r.PathValue("id")) + "/" + escapeSegments(r.PathValue("path"))
	resp, err := s.deps.Upstream.Proxy(r.Context(), path, r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer resp.Body.Close()

	for _, h := range proxiedHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("path", path).Msg("Failed to copy upstream body")
	}
}

// escapeSegments path-escapes each slash-separated segment of p.
func escapeSegments(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quota == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "state": s.deps.Quota.State()})
}
