package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattjoyce/trialmatch/internal/storage"
)

// Match is a saved patient/trial pairing produced by the worker.
type Match struct {
	ID            int64           `json:"id"`
	PatientID     int64           `json:"patient_id"`
	TrialID       int64           `json:"trial_id"`
	Score         *float64        `json:"score,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

// Matches is the saved-match store.
type Matches struct {
	db  *storage.DB
	now func() time.Time
}

// NewMatches returns a match store backed by db.
func NewMatches(db *storage.DB) *Matches {
	return &Matches{db: db, now: time.Now}
}

// Save stores matches in one transaction and returns them with ids set.
func (s *Matches) Save(ctx context.Context, matches []Match) ([]Match, error) {
	if len(matches) == 0 {
		return nil, &ValidationError{Field: "matches", Reason: "must be a non-empty array"}
	}
	for i, m := range matches {
		if m.PatientID <= 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("matches[%d].patient_id", i), Reason: "is required"}
		}
		if m.TrialID <= 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("matches[%d].trial_id", i), Reason: "is required"}
		}
		if len(m.Details) > 0 && !json.Valid(m.Details) {
			return nil, &ValidationError{Field: fmt.Sprintf("matches[%d].details", i), Reason: "must be JSON"}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := timestamp(s.now)
	query := s.db.Dialect.Rebind(`INSERT INTO matched_trials (patient_id, trial_id, score, details, correlation_id, created_at)
VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)

	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		var details any
		if len(m.Details) > 0 {
			details = string(m.Details)
		}
		var corr any
		if m.CorrelationID != "" {
			corr = m.CorrelationID
		}
		if err := tx.QueryRowContext(ctx, query, m.PatientID, m.TrialID, m.Score, details, corr, now).Scan(&m.ID); err != nil {
			return nil, fmt.Errorf("insert match: %w", err)
		}
		m.CreatedAt = now
		out = append(out, m)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

// List returns saved matches, newest first. patientID <= 0 lists all.
func (s *Matches) List(ctx context.Context, patientID int64) ([]Match, error) {
	query := "SELECT id, patient_id, trial_id, score, details, correlation_id, created_at FROM matched_trials"
	var args []any
	if patientID > 0 {
		query += " WHERE patient_id = ?"
		args = append(args, patientID)
	}
	query += " ORDER BY id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	out := []Match{}
	for rows.Next() {
		var (
			m       Match
			details sql.NullString
			corr    sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.PatientID, &m.TrialID, &m.Score, &details, &corr, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if details.Valid {
			m.Details = json.RawMessage(details.String)
		}
		m.CorrelationID = corr.String
		out = append(out, m)
	}
	return out, rows.Err()
}
