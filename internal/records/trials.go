package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/trialmatch/internal/storage"
)

// Trial is a stored clinical trial and its eligibility criteria.
type Trial struct {
	TrialID                    int64   `json:"trial_id"`
	TrialName                  string  `json:"trial_name"`
	Sponsor                    *string `json:"sponsor"`
	MinAge                     *int64  `json:"min_age"`
	MaxAge                     *int64  `json:"max_age"`
	GenderRequirement          *string `json:"gender_requirement"`
	MinSymptomDuration         *int64  `json:"min_symptom_duration"`
	RequiresMuscleWeakness     bool    `json:"requires_muscle_weakness"`
	RequiresTwitching          bool    `json:"requires_twitching"`
	RequiresPositiveBiomarker  *string `json:"requires_positive_biomarker"`
	RequiresAbnormalEMG        *string `json:"requires_abnormal_emg"`
	AllowedTreatments          *string `json:"allowed_treatments"`
	ExclusionPreviousDiagnosis *string `json:"exclusion_previous_diagnosis"`
	Location                   *string `json:"location"`
	Status                     *string `json:"status"`
	StartDate                  *string `json:"start_date"`
	EndDate                    *string `json:"end_date"`
	CreatedAt                  string  `json:"created_at"`
	UpdatedAt                  string  `json:"updated_at"`
}

var trialTable = &table{
	name: "trials",
	key:  "trial_id",
	fields: []field{
		{name: "trial_name", kind: kindText, required: true},
		{name: "sponsor", kind: kindText},
		{name: "min_age", kind: kindInt},
		{name: "max_age", kind: kindInt},
		{name: "gender_requirement", kind: kindText},
		{name: "min_symptom_duration", kind: kindInt},
		{name: "requires_muscle_weakness", kind: kindBool},
		{name: "requires_twitching", kind: kindBool},
		{name: "requires_positive_biomarker", kind: kindText},
		{name: "requires_abnormal_emg", kind: kindText},
		{name: "allowed_treatments", kind: kindText},
		{name: "exclusion_previous_diagnosis", kind: kindText},
		{name: "location", kind: kindText},
		{name: "status", kind: kindText},
		{name: "start_date", kind: kindDate},
		{name: "end_date", kind: kindDate},
	},
}

const trialColumns = "trial_id, trial_name, sponsor, min_age, max_age, gender_requirement, " +
	"min_symptom_duration, requires_muscle_weakness, requires_twitching, requires_positive_biomarker, " +
	"requires_abnormal_emg, allowed_treatments, exclusion_previous_diagnosis, location, status, " +
	"start_date, end_date, created_at, updated_at"

func scanTrial(s scanner) (*Trial, error) {
	var t Trial
	err := s.Scan(&t.TrialID, &t.TrialName, &t.Sponsor, &t.MinAge, &t.MaxAge, &t.GenderRequirement,
		&t.MinSymptomDuration, &t.RequiresMuscleWeakness, &t.RequiresTwitching,
		&t.RequiresPositiveBiomarker, &t.RequiresAbnormalEMG, &t.AllowedTreatments,
		&t.ExclusionPreviousDiagnosis, &t.Location, &t.Status, &t.StartDate, &t.EndDate,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Trials is the trial store.
type Trials struct {
	db  *storage.DB
	now func() time.Time
}

// NewTrials returns a trial store backed by db.
func NewTrials(db *storage.DB) *Trials {
	return &Trials{db: db, now: time.Now}
}

// List returns trials matching filter, ordered by trial_id. trial_name is a
// substring match; other keys match exactly.
func (s *Trials) List(ctx context.Context, filter map[string]string) ([]Trial, error) {
	where, args, err := trialTable.where(filter, "trial_name")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+trialColumns+" FROM trials"+where+" ORDER BY trial_id", args...)
	if err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	defer rows.Close()

	out := []Trial{}
	for rows.Next() {
		t, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// FetchAllTrials returns every trial.
func (s *Trials) FetchAllTrials(ctx context.Context) ([]Trial, error) {
	return s.List(ctx, nil)
}

// Get returns one trial or ErrNotFound.
func (s *Trials) Get(ctx context.Context, id int64) (*Trial, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+trialColumns+" FROM trials WHERE trial_id = ?", id)
	t, err := scanTrial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trial %d: %w", id, err)
	}
	return t, nil
}

// Create inserts a trial and returns its id.
func (s *Trials) Create(ctx context.Context, fields map[string]any) (int64, error) {
	return trialTable.insert(ctx, s.db, fields, timestamp(s.now))
}

// Update changes the given fields of a trial.
func (s *Trials) Update(ctx context.Context, id int64, fields map[string]any) error {
	return trialTable.update(ctx, s.db, id, fields, timestamp(s.now))
}

// Delete removes a trial.
func (s *Trials) Delete(ctx context.Context, id int64) error {
	return trialTable.delete(ctx, s.db, id)
}
