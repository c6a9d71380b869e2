package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-moderation/pkg/service"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidJSON    = "INVALID_JSON"
	CodeBodyTooLarge   = "BODY_TOO_LARGE"
	CodeUnknownKind    = "UNKNOWN_KIND"
	CodeContentTooLong = "CONTENT_TOO_LONG"
	CodeBatchTooLarge  = "BATCH_TOO_LARGE"
	CodeEmptyBatch     = "EMPTY_BATCH"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL"
)

// ErrorResponse is the JSON error model returned by the API. TraceID carries
// the current OpenTelemetry trace identifier when available.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := ErrorResponse{Code: code, Message: message}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		resp.TraceID = sc.TraceID().String()
	}
	writeJSON(w, status, resp)
}

// validationStatus maps service validation errors to HTTP status and code.
func validationStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnknownKind):
		return http.StatusBadRequest, CodeUnknownKind
	case errors.Is(err, service.ErrTooLong):
		return http.StatusUnprocessableEntity, CodeContentTooLong
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
