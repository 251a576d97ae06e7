package repo

import (
	"context"
	"database/sql"

	"idptrack/internal/domain"
)

const jobColumns = `job_key,entity_kind,entity_id,status,fire_at,enabled,attempts,COALESCE(last_error,''),created_at,updated_at`

func scanJob(row interface{ Scan(...any) error }) (domain.ScheduledJob, error) {
	var j domain.ScheduledJob
	err := row.Scan(&j.Key, &j.EntityKind, &j.EntityID, &j.Status, &j.FireAt, &j.Enabled, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

// UpsertJob stores j by key, re-enabling and resetting attempts.
func (r Repo) UpsertJob(ctx context.Context, j domain.ScheduledJob) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO scheduled_jobs(job_key,entity_kind,entity_id,status,fire_at,enabled,attempts,last_error,created_at,updated_at)
VALUES (?,?,?,?,?,1,0,NULL,?,?)
ON CONFLICT(job_key) DO UPDATE SET status=excluded.status, fire_at=excluded.fire_at, enabled=1, attempts=0, last_error=NULL, updated_at=excluded.updated_at`,
		j.Key, j.EntityKind, j.EntityID, j.Status, j.FireAt, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, key string) (domain.ScheduledJob, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE job_key=?`, key))
}

// DisableJob turns a job off. Missing keys are not an error.
func (r Repo) DisableJob(ctx context.Context, key, updatedAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE scheduled_jobs SET enabled=0, updated_at=? WHERE job_key=?`, updatedAt, key)
	return err
}

// CompleteJob disables a job only if it still fires at fireAt.
func (r Repo) CompleteJob(ctx context.Context, key, fireAt, updatedAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE scheduled_jobs SET enabled=0, updated_at=? WHERE job_key=? AND fire_at=?`, updatedAt, key, fireAt)
	return err
}

// RecordJobFailure bumps attempts and stores the error. The job is disabled
// once attempts reach maxAttempts.
func (r Repo) RecordJobFailure(ctx context.Context, key, msg, updatedAt string, maxAttempts int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE scheduled_jobs SET attempts=attempts+1, last_error=?, updated_at=?,
enabled=CASE WHEN ?>0 AND attempts+1>=? THEN 0 ELSE enabled END WHERE job_key=?`,
		msg, updatedAt, maxAttempts, maxAttempts, key)
	return err
}

// DueJobs returns enabled jobs with fire_at at or before now, oldest first.
func (r Repo) DueJobs(ctx context.Context, now string, limit int) ([]domain.ScheduledJob, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE enabled=1 AND fire_at<=? ORDER BY fire_at, job_key LIMIT ?`, now, limit)
}

// ListJobs returns jobs, optionally for one entity.
func (r Repo) ListJobs(ctx context.Context, entityKind, entityID string, onlyEnabled bool) ([]domain.ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE 1=1`
	var args []any
	if entityKind != "" {
		query += ` AND entity_kind=?`
		args = append(args, entityKind)
	}
	if entityID != "" {
		query += ` AND entity_id=?`
		args = append(args, entityID)
	}
	if onlyEnabled {
		query += ` AND enabled=1`
	}
	query += ` ORDER BY fire_at, job_key`
	return r.queryJobs(ctx, query, args...)
}

func (r Repo) queryJobs(ctx context.Context, query string, args ...any) ([]domain.ScheduledJob, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}
