package store

import (
	"database/sql"
	"time"
)

// IngestRun is one archive job as recorded in the ledger.
type IngestRun struct {
	ID            int64
	DateID        string
	Archive       string
	Output        string
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	FetchMillis   sql.NullInt64
	Files         sql.NullInt64
	FramesWritten sql.NullInt64
	FramesSkipped sql.NullInt64
	Success       bool
	ErrorMessage  sql.NullString
}

// StartRun records a job as started and returns it.
func (s *Store) StartRun(dateID, archive, output string, fetch time.Duration) (*IngestRun, error) {
	run := &IngestRun{
		DateID:      dateID,
		Archive:     archive,
		Output:      output,
		StartedAt:   time.Now().UTC(),
		FetchMillis: sql.NullInt64{Int64: fetch.Milliseconds(), Valid: fetch > 0},
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (date_id, archive, output, started_at, fetch_ms, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.DateID, run.Archive, run.Output, run.StartedAt, run.FetchMillis)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteRun stores the outcome fields of run.
func (s *Store) CompleteRun(run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			files = ?,
			frames_written = ?,
			frames_skipped = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Files, run.FramesWritten, run.FramesSkipped,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// RunSummary aggregates the runs started on one day.
type RunSummary struct {
	Date          string
	TotalRuns     int
	SuccessRuns   int
	FailedRuns    int
	FramesWritten int64
	FramesSkipped int64
}

// Summary returns per-day totals for runs started after since, newest
// day first.
func (s *Store) Summary(since time.Time) ([]RunSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			COALESCE(SUM(frames_written), 0) as frames_written,
			COALESCE(SUM(frames_skipped), 0) as frames_skipped
		FROM ingest_runs
		WHERE SUBSTR(started_at, 1, 19) >= ?
		GROUP BY date
		ORDER BY date DESC
	`, since.UTC().Format(time.DateTime))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.Date, &r.TotalRuns, &r.SuccessRuns, &r.FailedRuns,
			&r.FramesWritten, &r.FramesSkipped); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecentErrors returns the latest failed runs, newest first.
func (s *Store) RecentErrors(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, date_id, archive, output, started_at, finished_at, fetch_ms,
			   files, frames_written, frames_skipped, success, error_message
		FROM ingest_runs
		WHERE success = FALSE AND finished_at IS NOT NULL
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
		if err := rows.Scan(&r.ID, &r.DateID, &r.Archive, &r.Output, &r.StartedAt,
			&r.FinishedAt, &r.FetchMillis, &r.Files, &r.FramesWritten, &r.FramesSkipped,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
