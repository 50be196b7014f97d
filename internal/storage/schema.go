package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schema uses {{AUTO_ID}} where the dialect's auto-increment key goes.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
  id                    {{AUTO_ID}},
  patient_name          TEXT NOT NULL,
  age                   INTEGER,
  gender                TEXT,
  symptom_duration      INTEGER,
  muscle_weakness       INTEGER NOT NULL DEFAULT 0,
  twitching             INTEGER NOT NULL DEFAULT 0,
  speech_difficulty     INTEGER NOT NULL DEFAULT 0,
  swallowing_difficulty INTEGER NOT NULL DEFAULT 0,
  breathing_difficulty  INTEGER NOT NULL DEFAULT 0,
  family_history        INTEGER NOT NULL DEFAULT 0,
  previous_diagnosis    TEXT,
  current_treatment     TEXT,
  biomarker_status      TEXT,
  EMG_result            TEXT,
  created_at            TEXT NOT NULL,
  updated_at            TEXT NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS trials (
  trial_id                     {{AUTO_ID}},
  trial_name                   TEXT NOT NULL,
  sponsor                      TEXT,
  min_age                      INTEGER,
  max_age                      INTEGER,
  gender_requirement           TEXT,
  min_symptom_duration         INTEGER,
  requires_muscle_weakness     INTEGER NOT NULL DEFAULT 0,
  requires_twitching           INTEGER NOT NULL DEFAULT 0,
  requires_positive_biomarker  TEXT,
  requires_abnormal_emg        TEXT,
  allowed_treatments           TEXT,
  exclusion_previous_diagnosis TEXT,
  location                     TEXT,
  status                       TEXT,
  start_date                   TEXT,
  end_date                     TEXT,
  created_at                   TEXT NOT NULL,
  updated_at                   TEXT NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS matched_trials (
  id             {{AUTO_ID}},
  patient_id     INTEGER NOT NULL,
  trial_id       INTEGER NOT NULL,
  score          REAL,
  details        TEXT,
  correlation_id TEXT,
  created_at     TEXT NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS invocation_log (
  id           TEXT PRIMARY KEY,
  subject      TEXT,
  state        TEXT NOT NULL,
  error_kind   TEXT,
  exit_code    INTEGER,
  duration_ms  INTEGER NOT NULL,
  diagnostic   TEXT,
  created_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS matched_trials_patient_idx ON matched_trials(patient_id);`,
	`CREATE INDEX IF NOT EXISTS invocation_log_created_at_idx ON invocation_log(created_at);`,
}

// Tables lists the tables Bootstrap creates.
var Tables = []string{"patients", "trials", "matched_trials", "invocation_log"}

// Bootstrap creates tables and indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{AUTO_ID}}", d.AutoID)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap %s: %w", d.Name, err)
		}
	}
	return nil
}
