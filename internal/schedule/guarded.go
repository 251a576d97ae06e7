package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// GuardOptions tunes Guarded.
type GuardOptions struct {
	Attempts    int
	Backoff     time.Duration
	TripAfter   uint32
	OpenTimeout time.Duration
	Log         logrus.FieldLogger
}

// Guarded retries calls to the wrapped Scheduler and stops calling it while
// its circuit breaker is open.
type Guarded struct {
	next     Scheduler
	cb       *gobreaker.CircuitBreaker
	attempts int
	backoff  time.Duration
	log      logrus.FieldLogger
}

var _ Scheduler = (*Guarded)(nil)

func NewGuarded(next Scheduler, opts GuardOptions) *Guarded {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.TripAfter == 0 {
		opts.TripAfter = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	trip := opts.TripAfter
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "scheduler",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
	return &Guarded{next: next, cb: cb, attempts: opts.Attempts, backoff: opts.Backoff, log: log}
}

func (g *Guarded) ScheduleOnce(ctx context.Context, job Job) error {
	return g.call(ctx, job.Key, func() error { return g.next.ScheduleOnce(ctx, job) })
}

func (g *Guarded) Cancel(ctx context.Context, key string) error {
	return g.call(ctx, key, func() error { return g.next.Cancel(ctx, key) })
}

// State exposes the breaker state for diagnostics.
func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guarded) call(ctx context.Context, key string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		_, err = g.cb.Execute(func() (interface{}, error) {
			return nil, fn()
		})
		if err == nil {
			return nil
		}
		g.log.WithFields(logrus.Fields{"job": key, "attempt": attempt}).WithError(err).Warn("scheduler call failed")
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return err
		}
		if attempt == g.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.backoff * time.Duration(attempt)):
		}
	}
	return err
}
