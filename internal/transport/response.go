// Package transport contains the HTTP router, middleware chain, and the
// record handlers of the workflow API.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rynzz22/digital.talibon/internal/observability"
	"github.com/rynzz22/digital.talibon/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:      http.StatusBadRequest,
	model.ErrUnauthorized:    http.StatusUnauthorized,
	model.ErrNotFound:        http.StatusNotFound,
	model.ErrConflict:        http.StatusConflict,
	model.ErrInternalError:   http.StatusInternalServerError,
	model.ErrUnknownAction:   http.StatusUnprocessableEntity,
	model.ErrWrongDepartment: http.StatusForbidden,
	model.ErrWrongRole:       http.StatusForbidden,
	model.ErrInvalidPayload:  http.StatusUnprocessableEntity,
	model.ErrStaleState:      http.StatusConflict,
	model.ErrStorage:         http.StatusServiceUnavailable,
}

// StatusFor returns the HTTP status for an envelope code.
func StatusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. Errors that carry no envelope become a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}
	WriteJSON(w, StatusFor(ee.Code), errorResponse{Error: ee})
}

// WriteRequestError is WriteError with the request's trace ID attached to a
// copy of the envelope.
func WriteRequestError(ctx context.Context, w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}
	if traceID := observability.TraceIDFromContext(ctx); traceID != "" {
		copied := *ee
		copied.TraceID = traceID
		ee = &copied
	}
	WriteJSON(w, StatusFor(ee.Code), errorResponse{Error: ee})
}
