package schedule

import (
	"context"
	"time"

	"idptrack/internal/domain"
	"idptrack/internal/repo"
)

// Store keeps jobs in the scheduled_jobs table.
type Store struct {
	Repo repo.Repo
	Now  func() time.Time
}

var _ Scheduler = Store{}

func (s Store) now() string {
	if s.Now != nil {
		return s.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (s Store) ScheduleOnce(ctx context.Context, job Job) error {
	ts := s.now()
	return s.Repo.UpsertJob(ctx, domain.ScheduledJob{
		Key:        job.Key,
		EntityKind: job.Kind,
		EntityID:   job.EntityID,
		Status:     job.Status,
		FireAt:     job.FireAt.UTC().Format(time.RFC3339),
		CreatedAt:  ts,
		UpdatedAt:  ts,
	})
}

func (s Store) Cancel(ctx context.Context, key string) error {
	return s.Repo.DisableJob(ctx, key, s.now())
}

// Due returns enabled jobs whose fire time has passed.
func (s Store) Due(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error) {
	return s.Repo.DueJobs(ctx, now.UTC().Format(time.RFC3339), limit)
}

// Complete disables a job after it ran, unless the run rescheduled the
// same key to a different time.
func (s Store) Complete(ctx context.Context, job domain.ScheduledJob) error {
	return s.Repo.CompleteJob(ctx, job.Key, job.FireAt, s.now())
}

// Fail records a failed run. The job is disabled after maxAttempts
// failures; 0 keeps retrying forever.
func (s Store) Fail(ctx context.Context, key string, runErr error, maxAttempts int) error {
	return s.Repo.RecordJobFailure(ctx, key, runErr.Error(), s.now(), maxAttempts)
}

func (s Store) List(ctx context.Context, kind, id string, onlyEnabled bool) ([]domain.ScheduledJob, error) {
	return s.Repo.ListJobs(ctx, kind, id, onlyEnabled)
}
