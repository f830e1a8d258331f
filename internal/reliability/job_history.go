package reliability

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// JobRun is one recorded execution of a scheduled job.
type JobRun struct {
	ID         int64      `json:"id"`
	Job        string     `json:"job"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Error      string     `json:"error,omitempty"`
}

// JobHistoryRepository records scheduled-job runs in cache.db. History is
// operational telemetry only; losing it is harmless.
type JobHistoryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewJobHistoryRepository(db *sql.DB, log zerolog.Logger) *JobHistoryRepository {
	return &JobHistoryRepository{
		db:  db,
		log: log.With().Str("repo", "job_history").Logger(),
	}
}

// RecordStart inserts a run row and returns its id for RecordFinish.
func (r *JobHistoryRepository) RecordStart(job string) (int64, error) {
	result, err := r.db.Exec(
		`INSERT INTO job_history (job, started_at) VALUES (?, ?)`,
		job, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record %s start: %w", job, err)
	}
	return result.LastInsertId()
}

// RecordFinish closes out a run, storing the failure message if any.
func (r *JobHistoryRepository) RecordFinish(id int64, runErr error) error {
	message := ""
	if runErr != nil {
		message = runErr.Error()
	}
	_, err := r.db.Exec(
		`UPDATE job_history SET finished_at = ?, error = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), message, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record job finish: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (r *JobHistoryRepository) Recent(limit int) ([]JobRun, error) {
	rows, err := r.db.Query(
		`SELECT id, job, started_at, finished_at, error
		 FROM job_history ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var run JobRun
		var startedAt string
		var finishedAt, errMessage sql.NullString
		if err := rows.Scan(&run.ID, &run.Job, &startedAt, &finishedAt, &errMessage); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if finishedAt.Valid {
			if t, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
				run.FinishedAt = &t
			}
		}
		run.Error = errMessage.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Track wraps a job function with start/finish recording.
func (r *JobHistoryRepository) Track(job string, fn func() error) {
	id, err := r.RecordStart(job)
	if err != nil {
		r.log.Warn().Err(err).Str("job", job).Msg("Failed to record job start")
		fn()
		return
	}
	if err := r.RecordFinish(id, fn()); err != nil {
		r.log.Warn().Err(err).Str("job", job).Msg("Failed to record job finish")
	}
}
