package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"idptrack/internal/diff"
	"idptrack/internal/domain"
	"idptrack/internal/events"
	"idptrack/internal/notify"
	"idptrack/internal/repo"
	"idptrack/internal/status"
)

func validateTask(t domain.Task) error {
	if t.Name == "" {
		return invalidf("task name is required")
	}
	if t.IDPID == "" {
		return invalidf("task idp is required")
	}
	if !status.Task(t.Status).Valid() {
		return invalidf("task status %q", t.Status)
	}
	return nil
}

// SaveTask creates the task when ID is 0 and updates it otherwise. Updates
// must carry the stored Version.
func (e Engine) SaveTask(ctx context.Context, t domain.Task, actorID string) (domain.Task, error) {
	if t.Status == "" {
		t.Status = string(status.TaskDraft)
	}
	if err := validateTask(t); err != nil {
		return domain.Task{}, err
	}
	keys := []string{t.IDPID}
	if t.ID != 0 {
		stored, err := e.Repo.GetTask(ctx, t.ID)
		if err != nil {
			return domain.Task{}, err
		}
		keys = append(keys, stored.IDPID)
	}
	u, err := e.begin(ctx, actorID, keys...)
	if err != nil {
		return domain.Task{}, err
	}
	defer u.release()

	id := t.ID
	if id == 0 {
		p, err := e.Repo.GetIDPTx(ctx, u.tx, t.IDPID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("idp %s: %w", t.IDPID, err)
		}
		if id, err = e.createTask(ctx, u, p, t); err != nil {
			return domain.Task{}, err
		}
	} else {
		prev, err := e.Repo.GetTaskTx(ctx, u.tx, t.ID)
		if err != nil {
			return domain.Task{}, err
		}
		if err := e.updateTask(ctx, u, prev, t, 0); err != nil {
			return domain.Task{}, err
		}
	}
	saved, err := e.Repo.GetTaskTx(ctx, u.tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.finish(ctx, u); err != nil {
		return domain.Task{}, err
	}
	return saved, nil
}

func (e Engine) createTask(ctx context.Context, u *unit, p domain.IDP, t domain.Task) (int64, error) {
	if err := e.ensureMentor(ctx, u, t.MentorID); err != nil {
		return 0, err
	}
	if t.StartDate == "" {
		t.StartDate = e.today()
	}
	if t.EndDatePlan == "" {
		t.EndDatePlan = p.EndDatePlan
	}
	if err := validTaskDates(t); err != nil {
		return 0, err
	}
	e.stampTaskClosed(&t)
	t.Version = 1
	t.CreatedAt = e.timestamp()
	t.UpdatedAt = t.CreatedAt
	id, err := e.Repo.InsertTaskTx(ctx, u.tx, t)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	t.ID = id
	if err := e.appendEvent(ctx, u, events.TaskCreated, repo.KindTask, taskKey(id), events.EventPayload{"idp_id": p.ID, "status": t.Status}); err != nil {
		return 0, err
	}
	if err := e.noteTask(ctx, u, p, t, status.StatusChange(t.Status)); err != nil {
		return 0, err
	}
	e.plan(u, repo.KindTask, taskKey(id), t.Status, t.EndDatePlan)
	e.log().WithFields(logrus.Fields{"idp_id": p.ID, "task_id": id, "status": t.Status}).Info("task created")
	return id, nil
}

// updateTask persists next over prev. A status change fires its trigger and
// may promote the plan; every other tracked field fires its own trigger.
func (e Engine) updateTask(ctx context.Context, u *unit, prev, next domain.Task, depth int) error {
	if depth > maxCascadeDepth {
		return fmt.Errorf("task %d: cascade depth exceeded", next.ID)
	}
	if next.Version != prev.Version {
		return &ConflictError{Kind: repo.KindTask, ID: taskKey(prev.ID), Expected: next.Version, Actual: prev.Version}
	}
	if next.IDPID == "" {
		next.IDPID = prev.IDPID
	}
	if next.StartDate == "" {
		next.StartDate = prev.StartDate
	}
	if next.EndDatePlan == "" {
		next.EndDatePlan = prev.EndDatePlan
	}
	next.CreatedAt = prev.CreatedAt
	if err := validTaskDates(next); err != nil {
		return err
	}
	p, err := e.Repo.GetIDPTx(ctx, u.tx, next.IDPID)
	if err != nil {
		return fmt.Errorf("idp %s: %w", next.IDPID, err)
	}
	if !sameRef(prev.MentorID, next.MentorID) {
		if err := e.ensureMentor(ctx, u, next.MentorID); err != nil {
			return err
		}
	}
	e.stampTaskClosed(&next)
	cs := diff.Task(diff.SnapshotTask(prev), diff.SnapshotTask(next))
	if cs.Empty() {
		return nil
	}
	next.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTaskTx(ctx, u.tx, next); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return &ConflictError{Kind: repo.KindTask, ID: taskKey(next.ID), Expected: next.Version}
		}
		return fmt.Errorf("update task: %w", err)
	}
	log := e.log().WithFields(logrus.Fields{"idp_id": next.IDPID, "task_id": next.ID})
	if cs.Has(status.FieldStatus) {
		if err := e.appendEvent(ctx, u, events.TaskStatusChanged, repo.KindTask, taskKey(next.ID), events.EventPayload{"from": prev.Status, "to": next.Status}); err != nil {
			return err
		}
		if err := e.noteTask(ctx, u, p, next, status.StatusChange(next.Status)); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"from": prev.Status, "to": next.Status}).Info("task status changed")
		cs = cs.Without(status.FieldStatus)
		if next.Status == string(status.TaskClosed) {
			if err := e.checkCompletion(ctx, u, next.IDPID, depth); err != nil {
				return err
			}
		}
	}
	if !cs.Empty() {
		if err := e.appendEvent(ctx, u, events.TaskUpdated, repo.KindTask, taskKey(next.ID), events.EventPayload{"fields": cs.Fields()}); err != nil {
			return err
		}
	}
	for _, ch := range cs {
		if err := e.noteTask(ctx, u, p, next, status.FieldChange(ch.Field)); err != nil {
			return err
		}
	}
	e.plan(u, repo.KindTask, taskKey(next.ID), next.Status, next.EndDatePlan)
	return nil
}

// checkCompletion promotes the plan to completed_approval once no task of
// it is left unclosed.
func (e Engine) checkCompletion(ctx context.Context, u *unit, idpID string, depth int) error {
	open, err := e.Repo.HasUnclosedTasksTx(ctx, u.tx, idpID)
	if err != nil {
		return err
	}
	if open {
		return nil
	}
	p, err := e.Repo.GetIDPTx(ctx, u.tx, idpID)
	if err != nil {
		return err
	}
	if status.IDP(p.Status).Settled() {
		return nil
	}
	if err := e.appendEvent(ctx, u, events.IDPCompletionRaised, repo.KindIDP, idpID, nil); err != nil {
		return err
	}
	return e.applyIDPStatus(ctx, u, idpID, status.IDPCompletedApproval, depth+1)
}

// applyTaskStatus moves a stored task to st through updateTask.
func (e Engine) applyTaskStatus(ctx context.Context, u *unit, id int64, st status.Task, depth int) error {
	prev, err := e.Repo.GetTaskTx(ctx, u.tx, id)
	if err != nil {
		return err
	}
	if prev.Status == string(st) {
		return nil
	}
	next := prev
	next.Status = string(st)
	return e.updateTask(ctx, u, prev, next, depth)
}

func (e Engine) noteTask(ctx context.Context, u *unit, p domain.IDP, t domain.Task, c status.Change) error {
	trig, ok := status.TaskTrigger(c)
	if !ok {
		return nil
	}
	chief, err := e.chiefOf(ctx, u, p.EmployeeID)
	if err != nil {
		return err
	}
	u.notes = append(u.notes, pendingNote{
		target: notify.Target{
			Kind:       repo.KindTask,
			IDPID:      p.ID,
			TaskID:     t.ID,
			EmployeeID: p.EmployeeID,
			ChiefID:    chief,
			MentorID:   t.MentorID,
		},
		trigger: trig,
	})
	return nil
}

func (e Engine) ensureMentor(ctx context.Context, u *unit, mentorID *string) error {
	if mentorID == nil || *mentorID == "" {
		return nil
	}
	if _, err := e.Repo.GetUserTx(ctx, u.tx, *mentorID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return invalidf("mentor %s does not exist", *mentorID)
		}
		return err
	}
	return nil
}

func (e Engine) stampTaskClosed(t *domain.Task) {
	if t.Status == string(status.TaskClosed) && t.EndDateFact == nil {
		today := e.today()
		t.EndDateFact = &today
	}
}

func validTaskDates(t domain.Task) error {
	if err := validDate("start_date", t.StartDate); err != nil {
		return err
	}
	if err := validDate("end_date_plan", t.EndDatePlan); err != nil {
		return err
	}
	if t.EndDateFact != nil {
		return validDate("end_date_fact", *t.EndDateFact)
	}
	return nil
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func taskKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (e Engine) applyTaskTransition(ctx context.Context, id, newStatus string) error {
	st := status.Task(newStatus)
	if !st.Valid() {
		return invalidf("task status %q", newStatus)
	}
	taskID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return invalidf("task id %q", id)
	}
	stored, err := e.Repo.GetTask(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		e.log().WithField("task_id", id).Warn("deferred transition for missing task")
		return nil
	}
	if err != nil {
		return err
	}
	u, err := e.begin(ctx, "scheduler", stored.IDPID)
	if err != nil {
		return err
	}
	defer u.release()
	t, err := e.Repo.GetTaskTx(ctx, u.tx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		e.log().WithField("task_id", id).Warn("deferred transition for missing task")
		return nil
	}
	if err != nil {
		return err
	}
	if status.Task(t.Status).Settled() {
		e.log().WithFields(logrus.Fields{"task_id": id, "status": t.Status}).Info("deferred transition skipped")
		return nil
	}
	if err := e.applyTaskStatus(ctx, u, taskID, st, 0); err != nil {
		return err
	}
	return e.finish(ctx, u)
}
