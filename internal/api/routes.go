package api

import (
	"net/http"

	"github.com/mattjoyce/trialmatch/internal/auth"
)

// route is one authenticated endpoint. The same table drives the router and
// the OpenAPI document.
type route struct {
	method  string
	path    string
	summary string
	tag     string
	status  int
	body    bool
	scopes  []string
	handler http.HandlerFunc
}

func (s *Server) routes() []route {
	patientsRO := []string{auth.ScopePatientsRO, auth.ScopePatientsRW}
	patientsRW := []string{auth.ScopePatientsRW}
	trialsRO := []string{auth.ScopeTrialsRO, auth.ScopeTrialsRW}
	trialsRW := []string{auth.ScopeTrialsRW}
	match := []string{auth.ScopeMatchRW}

	return []route{
		{http.MethodGet, "/api/patients", "List patients", "patients", http.StatusOK, false, patientsRO, s.handleListPatients},
		{http.MethodPost, "/api/patients", "Create a patient and match it", "patients", http.StatusCreated, true, patientsRW, s.handleCreatePatient},
		{http.MethodGet, "/api/patients/{id}", "Get a patient", "patients", http.StatusOK, false, patientsRO, s.handleGetPatient},
		{http.MethodPut, "/api/patients/{id}", "Update a patient", "patients", http.StatusOK, true, patientsRW, s.handleUpdatePatient},
		{http.MethodDelete, "/api/patients/{id}", "Delete a patient", "patients", http.StatusOK, false, patientsRW, s.handleDeletePatient},
		{http.MethodPost, "/api/patients/{id}/match", "Match a stored patient", "match", http.StatusOK, false, match, s.handleMatchPatient},

		{http.MethodGet, "/api/trials", "List trials", "trials", http.StatusOK, false, trialsRO, s.handleListTrials},
		{http.MethodPost, "/api/trials", "Create a trial", "trials", http.StatusCreated, true, trialsRW, s.handleCreateTrial},
		{http.MethodGet, "/api/trials/{id}", "Get a trial", "trials", http.StatusOK, false, trialsRO, s.handleGetTrial},
		{http.MethodPut, "/api/trials/{id}", "Update a trial", "trials", http.StatusOK, true, trialsRW, s.handleUpdateTrial},
		{http.MethodDelete, "/api/trials/{id}", "Delete a trial", "trials", http.StatusOK, false, trialsRW, s.handleDeleteTrial},

		{http.MethodPost, "/api/run-match", "Run the matching worker for an ad-hoc patient", "match", http.StatusOK, true, match, s.handleRunMatch},
		{http.MethodPost, "/api/match-trials", "Store matched patient/trial pairs", "match", http.StatusCreated, true, match, s.handleStoreMatches},
		{http.MethodGet, "/api/match-trials", "List stored matches", "match", http.StatusOK, false, append(patientsRO, auth.ScopeMatchRW), s.handleListMatches},

		{http.MethodGet, "/api/invocations", "Recent worker invocations", "invocations", http.StatusOK, false, match, s.handleListInvocations},
		{http.MethodGet, "/api/invocations/{id}", "Get a worker invocation", "invocations", http.StatusOK, false, match, s.handleGetInvocation},

		{http.MethodGet, "/events", "Server-sent invocation events", "events", http.StatusOK, false, []string{auth.ScopeEventsRO}, s.handleEvents},
	}
}
