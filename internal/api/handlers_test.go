package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/trialmatch/internal/auth"
	"github.com/mattjoyce/trialmatch/internal/bridge"
	"github.com/mattjoyce/trialmatch/internal/events"
	"github.com/mattjoyce/trialmatch/internal/guard"
	"github.com/mattjoyce/trialmatch/internal/history"
	"github.com/mattjoyce/trialmatch/internal/matching"
	"github.com/mattjoyce/trialmatch/internal/records"
	"github.com/mattjoyce/trialmatch/internal/storage"
)

// mockMatcher implements Matcher for testing
type mockMatcher struct {
	matchFunc         func(ctx context.Context, patient any, subject string) (*matching.Outcome, error)
	matchPatientFunc  func(ctx context.Context, id int64) (*matching.Outcome, error)
	createPatientFunc func(ctx context.Context, fields map[string]any) (*matching.Created, error)
}

func (m *mockMatcher) Match(ctx context.Context, patient any, subject string) (*matching.Outcome, error) {
	return m.matchFunc(ctx, patient, subject)
}

func (m *mockMatcher) MatchPatient(ctx context.Context, id int64) (*matching.Outcome, error) {
	return m.matchPatientFunc(ctx, id)
}

func (m *mockMatcher) CreatePatient(ctx context.Context, fields map[string]any) (*matching.Created, error) {
	return m.createPatientFunc(ctx, fields)
}

// mockInvocations implements InvocationLog for testing
type mockInvocations struct {
	entries map[string]history.Entry
}

func (m *mockInvocations) Get(ctx context.Context, id string) (*history.Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, history.ErrNotFound
	}
	return &e, nil
}

func (m *mockInvocations) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	out := []history.Entry{}
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

type testEnv struct {
	server   *Server
	patients *records.Patients
	trials   *records.Trials
	matcher  *mockMatcher
	hub      *events.Hub
}

func newTestEnv(t *testing.T, config Config) *testEnv {
	t.Helper()
	db, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		patients: records.NewPatients(db),
		trials:   records.NewTrials(db),
		matcher:  &mockMatcher{},
		hub:      events.NewHub(16),
	}
	deps := Deps{
		Patients: env.patients,
		Trials:   env.trials,
		Matches:  records.NewMatches(db),
		Matcher:  env.matcher,
		Invocations: &mockInvocations{entries: map[string]history.Entry{
			"corr-1": {CorrelationID: "corr-1", State: "runtime_failed", Diagnostic: "stderr text"},
		}},
		Workers: guard.New(2),
		Events:  env.hub,
	}
	if config.Environment == "" {
		config.Environment = "development"
	}
	env.server = New(config, deps, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	env := newTestEnv(t, Config{APIKey: "admin"})

	rr := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "development", resp.Environment)
	require.NotNil(t, resp.Workers)
	assert.Equal(t, 2, resp.Workers.Limit)
	assert.Equal(t, 0, resp.Events.Subscribers)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(0))
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, Config{})
	rr := env.do(t, http.MethodGet, "/healthz", "")

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rr.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, Config{AllowedOrigins: []string{"http://localhost:3000"}})

	rr := env.do(t, http.MethodOptions, "/api/patients", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", http.MethodPost,
	)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = env.do(t, http.MethodGet, "/healthz", "", "Origin", "http://evil.test")
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, Config{
		APIKey: "admin-key",
		Tokens: []auth.TokenConfig{
			{Token: "reader", Scopes: []string{auth.ScopePatientsRO}},
			{Token: "writer", Scopes: []string{auth.ScopePatientsRW}},
		},
	})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"missing token", http.MethodGet, "/api/patients", "", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/patients", "", "nope", http.StatusUnauthorized},
		{"reader can list", http.MethodGet, "/api/patients", "", "reader", http.StatusOK},
		{"reader cannot update", http.MethodPut, "/api/patients/1", `{"age":3}`, "reader", http.StatusForbidden},
		{"writer implies read", http.MethodGet, "/api/patients", "", "writer", http.StatusOK},
		{"writer cannot read trials", http.MethodGet, "/api/trials", "", "writer", http.StatusForbidden},
		{"writer cannot run match", http.MethodPost, "/api/run-match", `{"age":3}`, "writer", http.StatusForbidden},
		{"admin reads trials", http.MethodGet, "/api/trials", "", "admin-key", http.StatusOK},
		{"reader cannot stream events", http.MethodGet, "/events", "", "reader", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.token != "" {
				headers = []string{"Authorization", "Bearer " + tt.token}
			}
			rr := env.do(t, tt.method, tt.path, tt.body, headers...)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestPatientCRUD(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	id, err := env.patients.Create(ctx, map[string]any{"patient_name": "Ada Lovelace", "age": 61, "gender": "female", "symptom_duration": 14})
	require.NoError(t, err)
	_, err = env.patients.Create(ctx, map[string]any{"patient_name": "Bob", "age": 40, "gender": "male", "symptom_duration": 3})
	require.NoError(t, err)

	rr := env.do(t, http.MethodGet, "/api/patients?patient_name=ada", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []records.Patient
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Ada Lovelace", list[0].PatientName)

	rr = env.do(t, http.MethodGet, "/api/patients?shoe_size=9", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/patients/"+itoa(id), `{"age":"62","twitching":"true"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var p records.Patient
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	require.NotNil(t, p.Age)
	assert.Equal(t, int64(62), *p.Age)
	assert.True(t, p.Twitching)

	rr = env.do(t, http.MethodPut, "/api/patients/"+itoa(id), `{"age":1e300}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid age")

	rr = env.do(t, http.MethodPut, "/api/patients/"+itoa(id), `{"gender":""}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/patients/"+itoa(id), `{"unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/patients/"+itoa(id), `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/patients/abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/patients/"+itoa(id), "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/patients/"+itoa(id), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/patients/"+itoa(id), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTrialCRUD(t *testing.T) {
	env := newTestEnv(t, Config{})

	rr := env.do(t, http.MethodPost, "/api/trials", `{"trial_name":"ALS-01","min_age":18,"start_date":"2025-01-01"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var tr records.Trial
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tr))
	assert.Equal(t, "ALS-01", tr.TrialName)

	rr = env.do(t, http.MethodPost, "/api/trials", `{"sponsor":"nobody"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/trials", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/trials/"+itoa(tr.TrialID), `{"status":"recruiting"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/trials", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []records.Trial
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Status)
	assert.Equal(t, "recruiting", *list[0].Status)

	rr = env.do(t, http.MethodDelete, "/api/trials/"+itoa(tr.TrialID), "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRunMatchReturnsWorkerOutput(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.matcher.matchFunc = func(ctx context.Context, patient any, subject string) (*matching.Outcome, error) {
		assert.Equal(t, "adhoc", subject)
		assert.Equal(t, map[string]any{"patient_name": "Ada"}, patient)
		return &matching.Outcome{CorrelationID: "corr-9", Result: json.RawMessage(`{"matches":[1,2]}`)}, nil
	}

	rr := env.do(t, http.MethodPost, "/api/run-match", `{"patient_name":"Ada"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"matches":[1,2]}`, rr.Body.String())
	assert.Equal(t, "corr-9", rr.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))

	rr = env.do(t, http.MethodPost, "/api/run-match", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRunMatchWorkerErrors(t *testing.T) {
	tests := []struct {
		name       string
		production bool
		err        error
		wantStatus int
		wantError  string
		wantDiag   string
	}{
		{
			name:       "runtime shows diagnostic in development",
			err:        &bridge.Error{Kind: bridge.KindRuntime, CorrelationID: "c1", ExitCode: 1, Diagnostic: "Traceback: boom"},
			wantStatus: http.StatusBadGateway,
			wantError:  "worker failed",
			wantDiag:   "Traceback: boom",
		},
		{
			name:       "runtime hides diagnostic in production",
			production: true,
			err:        &bridge.Error{Kind: bridge.KindRuntime, CorrelationID: "c1", ExitCode: 1, Diagnostic: "Traceback: boom"},
			wantStatus: http.StatusBadGateway,
			wantError:  "worker failed",
		},
		{
			name:       "parse",
			err:        &bridge.Error{Kind: bridge.KindParse, ExitCode: 0, Diagnostic: "not valid JSON"},
			wantStatus: http.StatusBadGateway,
			wantError:  "worker failed",
			wantDiag:   "not valid JSON",
		},
		{
			name:       "timeout",
			err:        &bridge.Error{Kind: bridge.KindTimeout, ExitCode: -1, Diagnostic: "deadline elapsed"},
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "worker timed out",
		},
		{
			name:       "path resolution",
			err:        &bridge.Error{Kind: bridge.KindPathResolution, ExitCode: -1, Diagnostic: "searched /a"},
			wantStatus: http.StatusInternalServerError,
			wantError:  "worker misconfigured",
		},
		{
			name:       "spawn",
			err:        &bridge.Error{Kind: bridge.KindSpawn, ExitCode: -1, Diagnostic: "exec format error"},
			wantStatus: http.StatusInternalServerError,
			wantError:  "worker misconfigured",
		},
		{
			name:       "not a worker error",
			err:        errors.New("fetch trials: db down"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "matching failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{Production: tt.production})
			env.matcher.matchFunc = func(ctx context.Context, patient any, subject string) (*matching.Outcome, error) {
				return nil, tt.err
			}

			rr := env.do(t, http.MethodPost, "/api/run-match", `{"patient_name":"Ada"}`)
			require.Equal(t, tt.wantStatus, rr.Code)

			var body WorkerErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body.Error)
			assert.Equal(t, tt.wantDiag, body.Diagnostic)
			assert.NotContains(t, rr.Body.String(), "db down")
		})
	}
}

func TestCreatePatientReportsMatchFailure(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.matcher.createPatientFunc = func(ctx context.Context, fields map[string]any) (*matching.Created, error) {
		return &matching.Created{
			Patient:    &records.Patient{ID: 5, PatientName: "Ada"},
			MatchError: &bridge.Error{Kind: bridge.KindTimeout, CorrelationID: "c5", ExitCode: -1},
		}, nil
	}

	rr := env.do(t, http.MethodPost, "/api/patients", `{"patient_name":"Ada"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp CreatePatientResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(5), resp.Patient.ID)
	assert.Nil(t, resp.Match)
	require.NotNil(t, resp.MatchError)
	assert.Equal(t, "timeout", resp.MatchError.Kind)
	assert.Equal(t, "c5", resp.MatchError.CorrelationID)
}

func TestCreatePatientValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.matcher.createPatientFunc = func(ctx context.Context, fields map[string]any) (*matching.Created, error) {
		return nil, &records.ValidationError{Field: "patient_name", Reason: "is required"}
	}

	rr := env.do(t, http.MethodPost, "/api/patients", `{"age":3}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "patient_name")

	env.matcher.createPatientFunc = func(ctx context.Context, fields map[string]any) (*matching.Created, error) {
		_, err := env.patients.Create(ctx, fields)
		return nil, err
	}
	rr = env.do(t, http.MethodPost, "/api/patients", `{"patient_name":"Ada","age":61,"gender":"F"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid symptom_duration: is required")

	rr = env.do(t, http.MethodPost, "/api/patients", `{"patient_name":"Ada","age":1e300,"gender":"F","symptom_duration":3}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid age")
}

func TestMatchPatient(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.matcher.matchPatientFunc = func(ctx context.Context, id int64) (*matching.Outcome, error) {
		if id != 7 {
			return nil, records.ErrNotFound
		}
		return &matching.Outcome{CorrelationID: "c7", Result: json.RawMessage(`{"ok":true}`), Cached: true}, nil
	}

	rr := env.do(t, http.MethodPost, "/api/patients/7/match", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "HIT", rr.Header().Get("X-Cache"))
	var out matching.Outcome
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.JSONEq(t, `{"ok":true}`, string(out.Result))

	rr = env.do(t, http.MethodPost, "/api/patients/8/match", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStoreAndListMatches(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	pid, err := env.patients.Create(ctx, map[string]any{"patient_name": "Ada", "age": 61, "gender": "F", "symptom_duration": 14})
	require.NoError(t, err)
	tid, err := env.trials.Create(ctx, map[string]any{"trial_name": "ALS-01"})
	require.NoError(t, err)

	body := `[{"patient_id":` + itoa(pid) + `,"trial_id":` + itoa(tid) + `,"score":0.9}]`
	rr := env.do(t, http.MethodPost, "/api/match-trials", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/match-trials", `[]`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/match-trials", `{"patient_id":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/match-trials?patient_id="+itoa(pid), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []records.Match
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, tid, list[0].TrialID)

	rr = env.do(t, http.MethodGet, "/api/match-trials?patient_id=x", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvocations(t *testing.T) {
	env := newTestEnv(t, Config{})

	rr := env.do(t, http.MethodGet, "/api/invocations/corr-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "stderr text")

	rr = env.do(t, http.MethodGet, "/api/invocations/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/invocations?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	prod := newTestEnv(t, Config{Production: true})
	rr = prod.do(t, http.MethodGet, "/api/invocations", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "stderr text")
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, Config{MaxBodyBytes: 16})

	rr := env.do(t, http.MethodPost, "/api/run-match", `{"patient_name":"`+strings.Repeat("a", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t, Config{APIKey: "admin"})

	rr := env.do(t, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var doc struct {
		OpenAPI string                               `json:"openapi"`
		Paths   map[string]map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Equal(t, "3.1.0", doc.OpenAPI)
	for _, rt := range env.server.routes() {
		ops, ok := doc.Paths[rt.path]
		require.True(t, ok, "missing path %s", rt.path)
		assert.Contains(t, ops, strings.ToLower(rt.method))
	}
	assert.Equal(t, "get_patients_id", doc.Paths["/api/patients/{id}"]["get"]["operationId"])
	assert.Equal(t, "post_run_match", doc.Paths["/api/run-match"]["post"]["operationId"])
}

func TestEventsStreamReplaysBufferedEvents(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.hub.Publish(events.TypeInvocationStarted, map[string]string{"correlation_id": "a"})
	env.hub.Publish(events.TypeInvocationCompleted, map[string]string{"correlation_id": "a", "state": "succeeded"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)

	body := rr.Body.String()
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.NotContains(t, body, "id: 1\n")
	assert.Contains(t, body, "id: 2\nevent: invocation.completed\n")
	assert.Contains(t, body, `"state":"succeeded"`)
}

func TestEventsStreamResumesFromQuery(t *testing.T) {
	env := newTestEnv(t, Config{})
	for i := 0; i < 3; i++ {
		env.hub.Publish(events.TypeInvocationStarted, map[string]int{"n": i})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?since=2", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)

	body := rr.Body.String()
	assert.NotContains(t, body, "id: 2\n")
	assert.Equal(t, 1, strings.Count(body, "id: 3\n"))
	assert.Contains(t, body, `data: {"n":2}`)
}

func TestInvocationStreamSkipsSeenEvents(t *testing.T) {
	var buf strings.Builder
	st := &invocationStream{w: &buf, lastID: 1}

	require.NoError(t, st.send(events.Event{ID: 1, Type: "x", Data: []byte(`{}`)}))
	require.NoError(t, st.send(events.Event{ID: 2, Type: "x", Data: []byte(`{}`)}))
	require.NoError(t, st.send(events.Event{ID: 2, Type: "x", Data: []byte(`{}`)}))
	require.NoError(t, st.keepAlive())

	assert.Equal(t, "id: 2\nevent: x\ndata: {}\n\n: keep-alive\n\n", buf.String())
	assert.Equal(t, int64(2), st.lastID)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(12), parseLastEventID("12"))
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
