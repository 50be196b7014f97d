package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/trialmatch/internal/bridge"
	"github.com/mattjoyce/trialmatch/internal/history"
	"github.com/mattjoyce/trialmatch/internal/matching"
	"github.com/mattjoyce/trialmatch/internal/records"
)

// handleRunMatch handles POST /api/run-match. The body is the patient; the
// response body is the worker's output verbatim.
func (s *Server) handleRunMatch(w http.ResponseWriter, r *http.Request) {
	patient, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	out, err := s.deps.Matcher.Match(r.Context(), patient, "adhoc")
	if err != nil {
		s.writeWorkerError(w, err)
		return
	}
	writeOutcomeHeaders(w, out)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Result)
}

func (s *Server) handleMatchPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	out, err := s.deps.Matcher.MatchPatient(r.Context(), id)
	if errors.Is(err, records.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeWorkerError(w, err)
		return
	}
	writeOutcomeHeaders(w, out)
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Invocations == nil {
		respondJSON(w, http.StatusOK, []history.Entry{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := s.deps.Invocations.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list invocations failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "list invocations failed")
		return
	}
	if s.config.Production {
		for i := range entries {
			entries[i].Diagnostic = ""
		}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Invocations == nil {
		s.writeError(w, http.StatusNotFound, history.ErrNotFound.Error())
		return
	}
	e, err := s.deps.Invocations.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("get invocation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "get invocation failed")
		return
	}
	if s.config.Production {
		e.Diagnostic = ""
	}
	respondJSON(w, http.StatusOK, e)
}

func writeOutcomeHeaders(w http.ResponseWriter, out *matching.Outcome) {
	w.Header().Set("X-Correlation-ID", out.CorrelationID)
	if out.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
}

// workerError maps a matching failure onto a status and response body.
// Misconfiguration is always logged with its full diagnostic.
func (s *Server) workerError(err error) (int, WorkerErrorResponse) {
	var berr *bridge.Error
	if !errors.As(err, &berr) {
		s.logger.Error("matching failed", "error", err)
		return http.StatusInternalServerError, WorkerErrorResponse{Error: "matching failed"}
	}

	body := WorkerErrorResponse{
		Kind:          string(berr.Kind),
		CorrelationID: berr.CorrelationID,
	}
	if berr.ExitCode >= 0 {
		code := berr.ExitCode
		body.ExitCode = &code
	}

	switch berr.Kind {
	case bridge.KindRuntime, bridge.KindParse:
		body.Error = "worker failed"
		if !s.config.Production {
			body.Diagnostic = berr.Diagnostic
		}
		return http.StatusBadGateway, body
	case bridge.KindTimeout:
		body.Error = "worker timed out"
		return http.StatusServiceUnavailable, body
	default:
		s.logger.Error("worker misconfigured",
			"correlation_id", berr.CorrelationID,
			"kind", string(berr.Kind),
			"error", berr.Error(),
			"diagnostic", berr.Diagnostic,
		)
		body.Error = "worker misconfigured"
		return http.StatusInternalServerError, body
	}
}

func (s *Server) writeWorkerError(w http.ResponseWriter, err error) {
	status, body := s.workerError(err)
	if body.CorrelationID != "" {
		w.Header().Set("X-Correlation-ID", body.CorrelationID)
	}
	respondJSON(w, status, body)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
