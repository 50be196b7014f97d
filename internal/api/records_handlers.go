package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/trialmatch/internal/matching"
	"github.com/mattjoyce/trialmatch/internal/records"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Environment:   s.config.Environment,
		Events: EventStats{
			Subscribers: s.deps.Events.Subscribers(),
			Dropped:     s.deps.Events.Dropped(),
		},
	}
	if s.deps.Workers != nil {
		stats := s.deps.Workers.Stats()
		resp.Workers = &stats
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := s.deps.Patients.List(r.Context(), queryFilter(r))
	if err != nil {
		s.writeRecordError(w, "list patients", err)
		return
	}
	respondJSON(w, http.StatusOK, patients)
}

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	p, err := s.deps.Patients.Get(r.Context(), id)
	if err != nil {
		s.writeRecordError(w, "get patient", err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// handleCreatePatient stores the patient and runs the worker for it.
func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	fields, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	created, err := s.deps.Matcher.CreatePatient(r.Context(), fields)
	if err != nil {
		s.writeRecordError(w, "create patient", err)
		return
	}

	resp := CreatePatientResponse{Patient: created.Patient, Match: created.Match}
	if created.MatchError != nil {
		_, body := s.workerError(created.MatchError)
		resp.MatchError = &body
	}
	if resp.Match != nil {
		w.Header().Set("X-Correlation-ID", resp.Match.CorrelationID)
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	fields, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	if err := s.deps.Patients.Update(r.Context(), id, fields); err != nil {
		s.writeRecordError(w, "update patient", err)
		return
	}
	p, err := s.deps.Patients.Get(r.Context(), id)
	if err != nil {
		s.writeRecordError(w, "get patient", err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Patients.Delete(r.Context(), id); err != nil {
		s.writeRecordError(w, "delete patient", err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "patient deleted"})
}

func (s *Server) handleListTrials(w http.ResponseWriter, r *http.Request) {
	trials, err := s.deps.Trials.List(r.Context(), queryFilter(r))
	if err != nil {
		s.writeRecordError(w, "list trials", err)
		return
	}
	respondJSON(w, http.StatusOK, trials)
}

func (s *Server) handleGetTrial(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	t, err := s.deps.Trials.Get(r.Context(), id)
	if err != nil {
		s.writeRecordError(w, "get trial", err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateTrial(w http.ResponseWriter, r *http.Request) {
	fields, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	id, err := s.deps.Trials.Create(r.Context(), fields)
	if err != nil {
		s.writeRecordError(w, "create trial", err)
		return
	}
	t, err := s.deps.Trials.Get(r.Context(), id)
	if err != nil {
		s.writeRecordError(w, "get trial", err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTrial(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	fields, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	if err := s.deps.Trials.Update(r.Context(), id, fields); err != nil {
		s.writeRecordError(w, "update trial", err)
		return
	}
	t, err := s.deps.Trials.Get(r.Context(), id)
	if err != nil {
		s.writeRecordError(w, "get trial", err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTrial(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Trials.Delete(r.Context(), id); err != nil {
		s.writeRecordError(w, "delete trial", err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "trial deleted"})
}

func (s *Server) handleStoreMatches(w http.ResponseWriter, r *http.Request) {
	var matches []records.Match
	if err := json.NewDecoder(r.Body).Decode(&matches); err != nil {
		s.writeDecodeError(w, err, "body must be a JSON array of matches")
		return
	}
	saved, err := s.deps.Matches.Save(r.Context(), matches)
	if err != nil {
		s.writeRecordError(w, "store matches", err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	var patientID int64
	if v := r.URL.Query().Get("patient_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid patient_id")
			return
		}
		patientID = n
	}
	matches, err := s.deps.Matches.List(r.Context(), patientID)
	if err != nil {
		s.writeRecordError(w, "list matches", err)
		return
	}
	respondJSON(w, http.StatusOK, matches)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// decodeObject reads a non-empty JSON object body.
func (s *Server) decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var fields map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		s.writeDecodeError(w, err, "body must be a JSON object")
		return nil, false
	}
	if len(fields) == 0 {
		s.writeError(w, http.StatusBadRequest, "no data provided")
		return nil, false
	}
	return fields, true
}

func (s *Server) writeDecodeError(w http.ResponseWriter, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	s.writeError(w, http.StatusBadRequest, msg)
}

func queryFilter(r *http.Request) map[string]string {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// writeRecordError maps storage errors onto HTTP statuses.
func (s *Server) writeRecordError(w http.ResponseWriter, op string, err error) {
	var verr *records.ValidationError
	switch {
	case errors.Is(err, records.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, records.ErrNoFields):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, verr.Error())
	default:
		s.logger.Error(op+" failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

var _ Matcher = (*matching.Service)(nil)
