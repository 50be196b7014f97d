package matching

import (
	"context"

	"github.com/mattjoyce/trialmatch/internal/bridge"
	"github.com/mattjoyce/trialmatch/internal/history"
	"github.com/mattjoyce/trialmatch/internal/records"
)

//go:generate mockgen -destination=mocks/mock_matching.go -package=mocks github.com/mattjoyce/trialmatch/internal/matching TrialFetcher,PatientStore,Invoker,HistoryRecorder,ResultCache

// TrialFetcher supplies the trials every match is evaluated against.
type TrialFetcher interface {
	FetchAllTrials(ctx context.Context) ([]records.Trial, error)
}

// PatientStore reads and creates patients.
type PatientStore interface {
	FetchPatientByID(ctx context.Context, id int64) (*records.Patient, error)
	Create(ctx context.Context, fields map[string]any) (int64, error)
}

// Invoker runs the worker. *bridge.Bridge satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req bridge.Request) (*bridge.Result, error)
}

// HistoryRecorder persists invocation outcomes.
type HistoryRecorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// ResultCache stores successful worker output by payload key.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}
