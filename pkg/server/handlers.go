package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/polisai/polis-moderation/pkg/moderation"
	"github.com/polisai/polis-moderation/pkg/service"
)

const requestIDHeader = "X-Request-ID"

// BatchRequest carries several submissions evaluated in order.
type BatchRequest struct {
	Items []service.Submission `json:"items"`
}

// BatchItem is the result for one submission of a batch. Exactly one of
// Outcome and Error is set.
type BatchItem struct {
	Outcome *service.Outcome `json:"outcome,omitempty"`
	Error   *ErrorResponse   `json:"error,omitempty"`
}

// BatchResponse lists results in request order.
type BatchResponse struct {
	Items []BatchItem `json:"items"`
}

// TablesResponse describes the active vocabulary.
type TablesResponse struct {
	Tables     map[moderation.Category][]string `json:"tables"`
	Thresholds moderation.Thresholds            `json:"thresholds"`
}

func (s *Server) handleModerate(w http.ResponseWriter, r *http.Request) {
	var sub service.Submission
	if !s.decode(w, r, &sub) {
		return
	}

	out, err := s.moderator.Moderate(r.Context(), sub)
	if err != nil {
		status, code := validationStatus(err)
		writeError(w, r, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, http.StatusBadRequest, CodeEmptyBatch, "batch must contain at least one item")
		return
	}
	if len(req.Items) > s.cfg.MaxBatchItems {
		writeError(w, r, http.StatusRequestEntityTooLarge, CodeBatchTooLarge,
			fmt.Sprintf("batch has %d items, limit %d", len(req.Items), s.cfg.MaxBatchItems))
		return
	}

	resp := BatchResponse{Items: make([]BatchItem, 0, len(req.Items))}
	for _, sub := range req.Items {
		out, err := s.moderator.Moderate(r.Context(), sub)
		if err != nil {
			_, code := validationStatus(err)
			resp.Items = append(resp.Items, BatchItem{Error: &ErrorResponse{Code: code, Message: err.Error()}})
			continue
		}
		resp.Items = append(resp.Items, BatchItem{Outcome: &out})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTables(w http.ResponseWriter, _ *http.Request) {
	tables := s.moderator.Tables()
	writeJSON(w, http.StatusOK, TablesResponse{
		Tables:     tables.Map(),
		Thresholds: tables.Thresholds,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// decode reads a size-limited JSON body into v, writing the error response on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, CodeBodyTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return false
		}
		writeError(w, r, http.StatusBadRequest, CodeInvalidJSON, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// requestID echoes or assigns an X-Request-ID and logs the request at debug level.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		s.logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "request_id", id)
		next.ServeHTTP(w, r)
	})
}
