// Package history keeps an audit log of worker invocations.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/trialmatch/internal/bridge"
	"github.com/mattjoyce/trialmatch/internal/storage"
)

// maxDiagnosticBytes caps the diagnostic text kept per invocation.
const maxDiagnosticBytes = 64 * 1024

// ErrNotFound is returned by Get for unknown correlation ids.
var ErrNotFound = errors.New("invocation not found")

// Entry is one finished invocation.
type Entry struct {
	CorrelationID string      `json:"correlation_id"`
	Subject       string      `json:"subject,omitempty"`
	State         string      `json:"state"`
	ErrorKind     bridge.Kind `json:"error_kind,omitempty"`
	ExitCode      *int        `json:"exit_code,omitempty"`
	DurationMS    int64       `json:"duration_ms"`
	Diagnostic    string      `json:"diagnostic,omitempty"`
	CreatedAt     string      `json:"created_at"`
	CompletedAt   string      `json:"completed_at"`
}

// NewEntry describes an invocation that started at started and ended now
// with err (nil on success).
func NewEntry(correlationID, subject string, started time.Time, err error) Entry {
	now := time.Now()
	e := Entry{
		CorrelationID: correlationID,
		Subject:       subject,
		State:         bridge.StateSucceeded.String(),
		DurationMS:    now.Sub(started).Milliseconds(),
		CreatedAt:     started.UTC().Format(time.RFC3339Nano),
		CompletedAt:   now.UTC().Format(time.RFC3339Nano),
	}
	if err == nil {
		zero := 0
		e.ExitCode = &zero
		return e
	}

	var berr *bridge.Error
	if !errors.As(err, &berr) {
		e.State = bridge.StateSpawnFailed.String()
		e.Diagnostic = err.Error()
		return e
	}
	e.ErrorKind = berr.Kind
	e.State = berr.Kind.TerminalState().String()
	if berr.ExitCode >= 0 {
		code := berr.ExitCode
		e.ExitCode = &code
	}
	e.Diagnostic = berr.Error()
	if berr.Diagnostic != "" {
		e.Diagnostic += "\n" + berr.Diagnostic
	}
	return e
}

// Recorder persists entries to invocation_log.
type Recorder struct {
	db *storage.DB
}

// NewRecorder returns a Recorder backed by db.
func NewRecorder(db *storage.DB) *Recorder {
	return &Recorder{db: db}
}

// Record stores e. Re-recording a correlation id is an error.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.CorrelationID == "" {
		return errors.New("correlation id is empty")
	}

	diag := e.Diagnostic
	if len(diag) > maxDiagnosticBytes {
		diag = diag[:maxDiagnosticBytes]
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO invocation_log(
  id, subject, state, error_kind, exit_code, duration_ms, diagnostic, created_at, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.CorrelationID, nullable(e.Subject), e.State, nullable(string(e.ErrorKind)), e.ExitCode,
		e.DurationMS, nullable(diag), e.CreatedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert invocation_log: %w", err)
	}
	return nil
}

// Get returns the entry for a correlation id.
func (r *Recorder) Get(ctx context.Context, correlationID string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, subject, state, error_kind, exit_code, duration_ms, diagnostic, created_at, completed_at
FROM invocation_log
WHERE id = ?;
`, correlationID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, subject, state, error_kind, exit_code, duration_ms, diagnostic, created_at, completed_at
FROM invocation_log
ORDER BY created_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var subject, kind, diag sql.NullString
	var exitCode sql.NullInt64
	if err := s.Scan(&e.CorrelationID, &subject, &e.State, &kind, &exitCode, &e.DurationMS, &diag, &e.CreatedAt, &e.CompletedAt); err != nil {
		return nil, err
	}
	e.Subject = subject.String
	e.ErrorKind = bridge.Kind(kind.String)
	e.Diagnostic = diag.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	return &e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
