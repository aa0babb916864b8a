// Package history persists run outcomes to Postgres so repeated
// acquisition sessions can be reviewed after the fact. The store is
// optional: the orchestrator runs fully without a DSN.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RunRecord is one persisted run outcome.
type RunRecord struct {
	ID             int64
	Session        string
	Success        bool
	Attempts       int
	FinalPhase     string
	FailureCode    string
	FailureMessage string
	StartedAt      time.Time
	FinishedAt     time.Time
	CreatedAt      time.Time
}

// RecordRun inserts one run outcome. The report document is stored as
// JSONB for later replay.
func (s *Store) RecordRun(ctx context.Context, record RunRecord, report any) error {
	var reportJSON any
	if report != nil {
		payload, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		reportJSON = payload
	}

	var failureCode, failureMessage any
	if record.FailureCode != "" {
		failureCode = record.FailureCode
	}
	if record.FailureMessage != "" {
		failureMessage = record.FailureMessage
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO ticket_runs (session, success, attempts, final_phase, failure_code, failure_message, started_at, finished_at, report)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.Session,
		record.Success,
		record.Attempts,
		record.FinalPhase,
		failureCode,
		failureMessage,
		record.StartedAt.UTC(),
		record.FinishedAt.UTC(),
		reportJSON,
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit run records, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session, success, attempts, final_phase,
       COALESCE(failure_code, ''), COALESCE(failure_message, ''),
       started_at, finished_at, created_at
FROM ticket_runs
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		if err := rows.Scan(
			&record.ID,
			&record.Session,
			&record.Success,
			&record.Attempts,
			&record.FinalPhase,
			&record.FailureCode,
			&record.FailureMessage,
			&record.StartedAt,
			&record.FinishedAt,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
