package schedule

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultBatch        = 100
)

// ApplyFunc performs a due transition. Returning nil completes the job.
type ApplyFunc func(ctx context.Context, kind, id, status string) error

// Runner polls Store for due jobs and hands them to Apply.
type Runner struct {
	Store       Store
	Apply       ApplyFunc
	Interval    time.Duration
	Batch       int
	MaxAttempts int
	Now         func() time.Time
	Log         logrus.FieldLogger
}

func (r Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Runner) log() logrus.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	return logrus.StandardLogger()
}

// Run ticks until ctx is done.
func (r Runner) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Tick(ctx); err != nil {
			r.log().WithError(err).Error("scheduler tick failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs every due job once and returns how many completed.
func (r Runner) Tick(ctx context.Context) (int, error) {
	batch := r.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	jobs, err := r.Store.Due(ctx, r.now(), batch)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		log := r.log().WithFields(logrus.Fields{"job": job.Key, "status": job.Status})
		if err := r.Apply(ctx, job.EntityKind, job.EntityID, job.Status); err != nil {
			log.WithError(err).Warn("deferred transition failed")
			if ferr := r.Store.Fail(ctx, job.Key, err, r.MaxAttempts); ferr != nil {
				return done, ferr
			}
			continue
		}
		if err := r.Store.Complete(ctx, job); err != nil {
			return done, err
		}
		log.Info("deferred transition applied")
		done++
	}
	return done, nil
}
