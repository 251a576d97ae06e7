package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"idptrack/internal/config"
	"idptrack/internal/events"
	"idptrack/internal/logging"
	"idptrack/internal/notify"
	"idptrack/internal/repo"
	"idptrack/internal/schedule"
	"idptrack/internal/status"
)

const (
	dateLayout = "2006-01-02"
	// maxCascadeDepth bounds IDP -> Task -> IDP re-entry.
	maxCascadeDepth = 4
)

var (
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalid                = errors.New("invalid")
)

// ConflictError reports a save made against a stale version.
type ConflictError struct {
	Kind     string
	ID       string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %v (saved with version %d, stored version %d)", e.Kind, e.ID, ErrConcurrentModification, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentModification }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Scheduler schedule.Scheduler
	Log       logrus.FieldLogger
	Now       func() time.Time
	locks     *keyedLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	e := Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{},
		Config: cfg,
		Log:    logging.Logger,
		Now:    time.Now,
		locks:  newKeyedLocks(),
	}
	if cfg.SchedulingEnabled() {
		e.Scheduler = schedule.NewGuarded(schedule.Store{Repo: r}, schedule.GuardOptions{
			Attempts:    cfg.Schedule.Retry.Attempts,
			Backoff:     cfg.RetryBackoff(),
			TripAfter:   cfg.Schedule.Retry.TripAfter,
			OpenTimeout: cfg.BreakerTimeout(),
			Log:         e.Log,
		})
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

var fallbackLocks = newKeyedLocks()

// lock returns a release func that is safe to call more than once.
func (e Engine) lock(keys ...string) func() {
	l := e.locks
	if l == nil {
		l = fallbackLocks
	}
	var once sync.Once
	unlock := l.Lock(keys...)
	return func() { once.Do(unlock) }
}

// intentKeys maps plan lock keys to the keys that order scheduler calls.
func intentKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, "intents:"+k)
		}
	}
	return out
}

func (e Engine) dispatcher() notify.Dispatcher {
	d := notify.Dispatcher{Repo: e.Repo, Now: e.now, Log: e.log()}
	if e.Config != nil {
		d.BaseURL = e.Config.Links.BaseURL
	}
	return d
}

// unit collects the side effects of one top-level save. Notifications and
// scheduler intents run only after tx commits. The plan locks are held from
// begin until the notifications are written.
type unit struct {
	tx      *sql.Tx
	actor   string
	keys    []string
	unlock  func()
	notes   []pendingNote
	intents []schedule.Intent
}

type pendingNote struct {
	target  notify.Target
	trigger status.Trigger
}

// begin locks keys and opens the unit's transaction. Callers defer
// release.
func (e Engine) begin(ctx context.Context, actor string, keys ...string) (*unit, error) {
	unlock := e.lock(keys...)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		unlock()
		return nil, err
	}
	if actor == "" {
		actor = "system"
	}
	return &unit{tx: tx, actor: actor, keys: keys, unlock: unlock}, nil
}

// release rolls back an unfinished unit and frees its locks.
func (u *unit) release() {
	u.tx.Rollback()
	u.unlock()
}

func (e Engine) appendEvent(ctx context.Context, u *unit, evtType, kind, id string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, u.tx, evtType, kind, id, u.actor, payload)
}

// finish commits u and then runs its deferred side effects. Failures after
// the commit are logged, never returned. Scheduler calls run after the plan
// locks are released; a second lock set keeps them in commit order per plan.
func (e Engine) finish(ctx context.Context, u *unit) error {
	if err := u.tx.Commit(); err != nil {
		return err
	}
	e.dispatch(ctx, u.notes)
	if len(u.intents) == 0 || e.Scheduler == nil {
		u.unlock()
		return nil
	}
	ordered := e.lock(intentKeys(u.keys)...)
	u.unlock()
	defer ordered()
	e.applyIntents(ctx, u.intents)
	return nil
}

func (e Engine) dispatch(ctx context.Context, notes []pendingNote) {
	if len(notes) == 0 {
		return
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.log().WithError(err).Error("open notification transaction")
		return
	}
	defer tx.Rollback()
	d := e.dispatcher()
	total := 0
	for _, n := range notes {
		written, err := d.Notify(ctx, tx, n.target, n.trigger)
		if err != nil {
			e.log().WithFields(logrus.Fields{"trigger": n.trigger.ID, "entity": n.target.EntityID()}).WithError(err).Error("dispatch notification")
			continue
		}
		total += written
	}
	if err := tx.Commit(); err != nil {
		e.log().WithError(err).Error("commit notifications")
		return
	}
	e.log().WithField("rows", total).Debug("notifications dispatched")
}

func (e Engine) applyIntents(ctx context.Context, intents []schedule.Intent) {
	if e.Scheduler == nil {
		return
	}
	for _, in := range intents {
		if err := in.Apply(ctx, e.Scheduler); err != nil {
			e.log().WithError(err).Warn("deferred transition not registered")
		}
	}
}

// ApplyTransition is the scheduler callback: it loads the entity, sets
// status and saves it through the normal lifecycle. A missing entity is
// logged and reported as done.
func (e Engine) ApplyTransition(ctx context.Context, kind, id, newStatus string) error {
	switch kind {
	case repo.KindIDP:
		return e.applyIDPTransition(ctx, id, newStatus)
	case repo.KindTask:
		return e.applyTaskTransition(ctx, id, newStatus)
	}
	return invalidf("unknown entity kind %q", kind)
}

// MarkNotificationRead flips a notification row to Read.
func (e Engine) MarkNotificationRead(ctx context.Context, kind, id, receiverID string) error {
	if kind != repo.KindIDP && kind != repo.KindTask {
		return invalidf("unknown entity kind %q", kind)
	}
	return e.Repo.MarkNotificationRead(ctx, kind, id, receiverID)
}

func validDate(field, v string) error {
	if _, err := time.Parse(dateLayout, v); err != nil {
		return invalidf("%s %q is not a YYYY-MM-DD date", field, v)
	}
	return nil
}

func (e Engine) today() string {
	return e.now().UTC().Format(dateLayout)
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) plan(u *unit, kind, id, st, endDatePlan string) {
	end, err := schedule.EndOfPlan(endDatePlan)
	if err != nil {
		return
	}
	if in := schedule.Plan(kind, id, st, end, e.now()); !in.Empty() {
		u.intents = append(u.intents, in)
	}
}
