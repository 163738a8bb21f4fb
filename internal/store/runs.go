package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PipelineRun records the outcome of one end-to-end fusion run.
type PipelineRun struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	PriceRows    int
	SkippedRows  int
	JoinedRows   int
	GridRows     int
	CleanedRows  int
	ZonesFailed  int
	Success      bool
	ErrorMessage sql.NullString
}

// StartPipelineRun inserts a new run with a fresh id.
func (s *Store) StartPipelineRun() (*PipelineRun, error) {
	run := &PipelineRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO pipeline_runs (id, started_at, success) VALUES (?, ?, FALSE)
	`, run.ID, run.StartedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompletePipelineRun stores the final counters of a run.
func (s *Store) CompletePipelineRun(run *PipelineRun) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	_, err := s.db.Exec(`
		UPDATE pipeline_runs SET
			finished_at = ?,
			price_rows = ?,
			skipped_rows = ?,
			joined_rows = ?,
			grid_rows = ?,
			cleaned_rows = ?,
			zones_failed = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.PriceRows, run.SkippedRows, run.JoinedRows, run.GridRows,
		run.CleanedRows, run.ZonesFailed, run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetRecentPipelineRuns returns the latest runs, newest first.
func (s *Store) GetRecentPipelineRuns(limit int) ([]PipelineRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at,
		       COALESCE(price_rows, 0), COALESCE(skipped_rows, 0), COALESCE(joined_rows, 0),
		       COALESCE(grid_rows, 0), COALESCE(cleaned_rows, 0), COALESCE(zones_failed, 0),
		       success, error_message
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		var r PipelineRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.PriceRows, &r.SkippedRows,
			&r.JoinedRows, &r.GridRows, &r.CleanedRows, &r.ZonesFailed, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
