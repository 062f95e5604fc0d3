package errors

import (
	"encoding/json"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// HTTPErrorResponse is the standard JSON error envelope.
type HTTPErrorResponse struct {
	Error *gferrors.ErrorEnvelope `json:"error"`
}

// StatusFor maps an error to its HTTP status and envelope code.
func StatusFor(err error) (int, string) {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case KindLookup:
		return http.StatusNotFound, "NOT_FOUND"
	case KindSecurity:
		return http.StatusForbidden, "FORBIDDEN"
	case KindConfiguration:
		return http.StatusServiceUnavailable, "CONFIGURATION_ERROR"
	case KindProcess:
		return http.StatusInternalServerError, "PROCESS_ERROR"
	case KindIO:
		return http.StatusInternalServerError, "IO_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// NewEnvelope builds an error envelope for r. The request id becomes the
// correlation id and the request path is recorded when r is set.
func NewEnvelope(r *http.Request, code, message string, details map[string]any) *gferrors.ErrorEnvelope {
	envelope := gferrors.NewErrorEnvelope(code, message)
	if len(details) > 0 {
		envelope = envelope.WithDetails(details)
	}
	if r == nil {
		return envelope
	}
	if id := r.Header.Get(RequestIDHeader); id != "" {
		envelope = envelope.WithCorrelationID(id)
	}
	if r.URL != nil {
		envelope = envelope.WithPath(r.URL.Path)
	}
	return envelope
}

// WriteEnvelope writes envelope with status.
func WriteEnvelope(w http.ResponseWriter, envelope *gferrors.ErrorEnvelope, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: envelope})
}

// WriteJSON writes an error envelope with an explicit status and code.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	WriteEnvelope(w, NewEnvelope(r, code, message, details), status)
}

// RespondWithError writes err as a classified JSON error envelope. The kind
// travels in details; server-side failures are tagged high severity.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	message := "internal error"
	if err != nil {
		message = err.Error()
	}

	envelope := NewEnvelope(r, code, message, map[string]any{"kind": string(KindOf(err))})
	severity := gferrors.SeverityMedium
	if status >= http.StatusInternalServerError {
		severity = gferrors.SeverityHigh
	}
	envelope, _ = envelope.WithSeverity(severity)

	WriteEnvelope(w, envelope, status)
}
