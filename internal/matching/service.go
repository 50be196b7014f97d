// Package matching pairs patients with trials by handing both to the worker.
package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/trialmatch/internal/bridge"
	"github.com/mattjoyce/trialmatch/internal/cache"
	"github.com/mattjoyce/trialmatch/internal/history"
	"github.com/mattjoyce/trialmatch/internal/log"
	"github.com/mattjoyce/trialmatch/internal/protocol"
	"github.com/mattjoyce/trialmatch/internal/records"
)

// Outcome is the worker's answer for one patient.
type Outcome struct {
	CorrelationID string          `json:"correlation_id"`
	Result        json.RawMessage `json:"result"`
	Cached        bool            `json:"cached"`
	DurationMS    int64           `json:"duration_ms"`
}

// Created is the result of CreatePatient. MatchError is set when the patient
// was stored but matching failed.
type Created struct {
	Patient    *records.Patient
	Match      *Outcome
	MatchError error
}

// Options holds the optional collaborators of a Service.
type Options struct {
	History HistoryRecorder
	Cache   ResultCache
	// Timeout overrides the bridge timeout per invocation when non-zero.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Service runs matches.
type Service struct {
	trials   TrialFetcher
	patients PatientStore
	invoker  Invoker
	history  HistoryRecorder
	cache    ResultCache
	timeout  time.Duration
	logger   *slog.Logger
}

// New builds a Service.
func New(trials TrialFetcher, patients PatientStore, invoker Invoker, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("matching")
	}
	return &Service{
		trials:   trials,
		patients: patients,
		invoker:  invoker,
		history:  opts.History,
		cache:    opts.Cache,
		timeout:  opts.Timeout,
		logger:   logger,
	}
}

// Match evaluates patient against every stored trial. subject labels the
// invocation in history ("patient:7", "adhoc").
func (s *Service) Match(ctx context.Context, patient any, subject string) (*Outcome, error) {
	trials, err := s.trials.FetchAllTrials(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch trials: %w", err)
	}
	payload := protocol.MatchPayload{Patient: patient, Trials: trials}

	id := uuid.NewString()
	logger := s.logger.With("correlation_id", id, "subject", subject)

	// An unencodable payload skips the cache; the bridge reports it.
	var key string
	if s.cache != nil {
		if encoded, err := protocol.EncodePayload(payload); err == nil {
			key = cache.Key([]byte(encoded))
			if raw, ok := s.cache.Get(ctx, key); ok {
				logger.Debug("match served from cache")
				return &Outcome{CorrelationID: id, Result: raw, Cached: true}, nil
			}
		}
	}

	started := time.Now()
	res, err := s.invoker.Invoke(ctx, bridge.Request{
		Payload:       payload,
		CorrelationID: id,
		Timeout:       s.timeout,
	})
	s.record(ctx, logger, history.NewEntry(id, subject, started, err))
	if err != nil {
		return nil, err
	}

	if key != "" {
		s.cache.Set(ctx, key, res.Raw)
	}
	return &Outcome{
		CorrelationID: res.CorrelationID,
		Result:        res.Raw,
		DurationMS:    res.Duration.Milliseconds(),
	}, nil
}

// MatchPatient matches a stored patient. Unknown ids yield records.ErrNotFound.
func (s *Service) MatchPatient(ctx context.Context, id int64) (*Outcome, error) {
	p, err := s.patients.FetchPatientByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Match(ctx, p, fmt.Sprintf("patient:%d", id))
}

// CreatePatient stores a patient and then matches it. Only a storage
// failure is returned as an error.
func (s *Service) CreatePatient(ctx context.Context, fields map[string]any) (*Created, error) {
	id, err := s.patients.Create(ctx, fields)
	if err != nil {
		return nil, err
	}
	p, err := s.patients.FetchPatientByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read back patient %d: %w", id, err)
	}

	out := &Created{Patient: p}
	out.Match, out.MatchError = s.Match(ctx, p, fmt.Sprintf("patient:%d", id))
	if out.MatchError != nil {
		s.logger.Warn("patient created but matching failed",
			"patient_id", id,
			"error_kind", string(bridge.KindOf(out.MatchError)),
			"error", out.MatchError,
		)
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, logger *slog.Logger, e history.Entry) {
	if s.history == nil {
		return
	}
	// The caller may have cancelled; the outcome is still worth keeping.
	if err := s.history.Record(context.WithoutCancel(ctx), e); err != nil {
		logger.Warn("failed to record invocation", "error", err)
	}
}
