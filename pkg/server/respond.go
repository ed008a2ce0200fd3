package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Sternrassler/plantwatch/pkg/auth"
	"github.com/Sternrassler/plantwatch/pkg/coordinator"
	"github.com/Sternrassler/plantwatch/pkg/daycache"
	"github.com/Sternrassler/plantwatch/pkg/export"
	"github.com/Sternrassler/plantwatch/pkg/quota"
	"github.com/Sternrassler/plantwatch/pkg/rangefetch"
	"github.com/Sternrassler/plantwatch/pkg/telemetry"
	"github.com/rs/zerolog"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string                 `json:"error"`
	RequestID string                 `json:"request_id,omitempty"`
	View      *coordinator.ViewState `json:"view,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, RequestID: w.Header().Get(HeaderRequestID)})
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrPasswordTooLong),
		errors.Is(err, daycache.ErrInvalidKey),
		errors.Is(err, rangefetch.ErrInvalidRange),
		errors.Is(err, rangefetch.ErrRangeTooLarge),
		errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, telemetry.ErrPathNotAllowed),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest

	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenRevoked):
		return http.StatusUnauthorized

	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, telemetry.ErrNotFound),
		errors.Is(err, coordinator.ErrNoView):
		return http.StatusNotFound

	case errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, coordinator.ErrSuperseded):
		return http.StatusConflict

	case errors.Is(err, export.ErrEmptyData),
		errors.Is(err, export.ErrMalformedData):
		return http.StatusUnprocessableEntity

	case errors.Is(err, quota.ErrQuotaExhausted),
		telemetry.ClassOf(err) == telemetry.ErrorClassRateLimit:
		return http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case telemetry.ClassOf(err) != "":
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged and
// not echoed to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Request failed")
		msg = "internal error"
	}
	writeError(w, status, msg)
}

// errBadRequest marks request decoding and parameter errors.
var errBadRequest = errors.New("bad request")
