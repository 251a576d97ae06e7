// Package schedule plans deferred status transitions (two weeks warning,
// overdue) and stores them as keyed one-off jobs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"idptrack/internal/status"
)

const (
	TransitionTwoWeeks = "two_weeks"
	TransitionOverdue  = "overdue"

	// Warning is how long before the planned end the two weeks job fires.
	Warning = 14 * 24 * time.Hour
)

// Job is a one-off request to set an entity's status at FireAt.
type Job struct {
	Key      string
	Kind     string
	EntityID string
	Status   string
	FireAt   time.Time
}

// Scheduler registers and cancels deferred transitions. ScheduleOnce is
// idempotent by key; Cancel of an unknown key is a no-op.
type Scheduler interface {
	ScheduleOnce(ctx context.Context, job Job) error
	Cancel(ctx context.Context, key string) error
}

// Key builds "<kind>:<transition>:<id>".
func Key(kind, transition, id string) string {
	return fmt.Sprintf("%s:%s:%s", kind, transition, id)
}

// Keys returns every job key an entity can own.
func Keys(kind, id string) []string {
	return []string{Key(kind, TransitionTwoWeeks, id), Key(kind, TransitionOverdue, id)}
}

// Intent is the scheduler work decided by one save.
type Intent struct {
	Schedule *Job
	Cancel   []string
}

func (i Intent) Empty() bool { return i.Schedule == nil && len(i.Cancel) == 0 }

// Plan decides the scheduler action for an entity now in st. Active
// entities get one job: the two weeks warning while it is still ahead, else
// the overdue transition at the planned end. A two_weeks entity only waits
// for overdue. The key not scheduled is always cancelled, and every other
// status loses both. Task statuses set by the parent plan count as their
// plain variants.
func Plan(kind, id, st string, plannedEnd, now time.Time) Intent {
	twoWeeks := Key(kind, TransitionTwoWeeks, id)
	overdue := &Job{
		Key: Key(kind, TransitionOverdue, id), Kind: kind, EntityID: id,
		Status: TransitionOverdue, FireAt: plannedEnd,
	}
	switch st {
	case string(status.IDPTwoWeeks):
		return Intent{Schedule: overdue, Cancel: []string{twoWeeks}}
	case string(status.IDPActive), string(status.TaskActiveWithIDP):
		if warnAt := plannedEnd.Add(-Warning); warnAt.After(now) {
			return Intent{
				Schedule: &Job{
					Key: twoWeeks, Kind: kind, EntityID: id,
					Status: TransitionTwoWeeks, FireAt: warnAt,
				},
				Cancel: []string{overdue.Key},
			}
		}
		return Intent{Schedule: overdue, Cancel: []string{twoWeeks}}
	}
	return Intent{Cancel: Keys(kind, id)}
}

// Apply sends the intent to s. Every cancellation is attempted even when an
// earlier call failed.
func (i Intent) Apply(ctx context.Context, s Scheduler) error {
	var errs []error
	if i.Schedule != nil {
		if err := s.ScheduleOnce(ctx, *i.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", i.Schedule.Key, err))
		}
	}
	for _, key := range i.Cancel {
		if err := s.Cancel(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// EndOfPlan turns a "2006-01-02" planned end date into the fire time,
// midnight UTC of that day.
func EndOfPlan(date string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", date, time.UTC)
}
