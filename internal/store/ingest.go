package store

import (
	"database/sql"
	"time"
)

// IngestRun represents a single outbound fetch for auditing.
type IngestRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // "visualcrossing", "ercot", "ftp"
	Endpoint          string // "timeline", "archive", ...
	ZoneID            sql.NullString
	Location          sql.NullString
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(source, endpoint string, zoneID, location *string) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt: time.Now().UTC(),
		Source:    source,
		Endpoint:  endpoint,
	}
	if zoneID != nil {
		run.ZoneID = sql.NullString{String: *zoneID, Valid: true}
	}
	if location != nil {
		run.Location = sql.NullString{String: *location, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, source, endpoint, zone_id, location, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.StartedAt, run.Source, run.Endpoint, run.ZoneID, run.Location)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			http_status = ?,
			response_size_bytes = ?,
			records_parsed = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseSizeBytes, run.RecordsParsed,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetRecentIngestRuns returns the most recent ingest runs, newest first.
func (s *Store) GetRecentIngestRuns(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, source, endpoint, zone_id, location,
			   http_status, response_size_bytes, records_parsed, success, error_message
		FROM ingest_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Endpoint,
			&r.ZoneID, &r.Location, &r.HTTPStatus, &r.ResponseSizeBytes,
			&r.RecordsParsed, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountIngestRuns returns how many runs were recorded for a source.
func (s *Store) CountIngestRuns(source string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ingest_runs WHERE source = ?`, source).Scan(&n)
	return n, err
}
