package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/trialmatch/internal/storage"
)

// Patient is a stored patient record.
type Patient struct {
	ID                   int64   `json:"id"`
	PatientName          string  `json:"patient_name"`
	Age                  *int64  `json:"age"`
	Gender               *string `json:"gender"`
	SymptomDuration      *int64  `json:"symptom_duration"`
	MuscleWeakness       bool    `json:"muscle_weakness"`
	Twitching            bool    `json:"twitching"`
	SpeechDifficulty     bool    `json:"speech_difficulty"`
	SwallowingDifficulty bool    `json:"swallowing_difficulty"`
	BreathingDifficulty  bool    `json:"breathing_difficulty"`
	FamilyHistory        bool    `json:"family_history"`
	PreviousDiagnosis    *string `json:"previous_diagnosis"`
	CurrentTreatment     *string `json:"current_treatment"`
	BiomarkerStatus      *string `json:"biomarker_status"`
	EMGResult            *string `json:"EMG_result"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

var patientTable = &table{
	name: "patients",
	key:  "id",
	fields: []field{
		{name: "patient_name", kind: kindText, required: true},
		{name: "age", kind: kindInt, required: true},
		{name: "gender", kind: kindText, required: true},
		{name: "symptom_duration", kind: kindInt, required: true},
		{name: "muscle_weakness", kind: kindBool},
		{name: "twitching", kind: kindBool},
		{name: "speech_difficulty", kind: kindBool},
		{name: "swallowing_difficulty", kind: kindBool},
		{name: "breathing_difficulty", kind: kindBool},
		{name: "family_history", kind: kindBool},
		{name: "previous_diagnosis", kind: kindText},
		{name: "current_treatment", kind: kindText},
		{name: "biomarker_status", kind: kindText},
		{name: "EMG_result", kind: kindText},
	},
}

const patientColumns = "id, patient_name, age, gender, symptom_duration, muscle_weakness, twitching, " +
	"speech_difficulty, swallowing_difficulty, breathing_difficulty, family_history, " +
	"previous_diagnosis, current_treatment, biomarker_status, EMG_result, created_at, updated_at"

func scanPatient(s scanner) (*Patient, error) {
	var p Patient
	err := s.Scan(&p.ID, &p.PatientName, &p.Age, &p.Gender, &p.SymptomDuration,
		&p.MuscleWeakness, &p.Twitching, &p.SpeechDifficulty, &p.SwallowingDifficulty,
		&p.BreathingDifficulty, &p.FamilyHistory, &p.PreviousDiagnosis, &p.CurrentTreatment,
		&p.BiomarkerStatus, &p.EMGResult, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Patients is the patient store.
type Patients struct {
	db  *storage.DB
	now func() time.Time
}

// NewPatients returns a patient store backed by db.
func NewPatients(db *storage.DB) *Patients {
	return &Patients{db: db, now: time.Now}
}

// List returns patients matching filter, ordered by id. patient_name is a
// substring match; every other key must be a patient field and matches exactly.
func (s *Patients) List(ctx context.Context, filter map[string]string) ([]Patient, error) {
	where, args, err := patientTable.where(filter, "patient_name")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+patientColumns+" FROM patients"+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	out := []Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Get returns one patient or ErrNotFound.
func (s *Patients) Get(ctx context.Context, id int64) (*Patient, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+patientColumns+" FROM patients WHERE id = ?", id)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %d: %w", id, err)
	}
	return p, nil
}

// FetchPatientByID is Get under the name the matching service expects.
func (s *Patients) FetchPatientByID(ctx context.Context, id int64) (*Patient, error) {
	return s.Get(ctx, id)
}

// Create inserts a patient from field values and returns its id.
func (s *Patients) Create(ctx context.Context, fields map[string]any) (int64, error) {
	return patientTable.insert(ctx, s.db, fields, timestamp(s.now))
}

// Update changes the given fields of a patient.
func (s *Patients) Update(ctx context.Context, id int64, fields map[string]any) error {
	return patientTable.update(ctx, s.db, id, fields, timestamp(s.now))
}

// Delete removes a patient.
func (s *Patients) Delete(ctx context.Context, id int64) error {
	return patientTable.delete(ctx, s.db, id)
}
