package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"idptrack/internal/diff"
	"idptrack/internal/domain"
	"idptrack/internal/events"
	"idptrack/internal/notify"
	"idptrack/internal/repo"
	"idptrack/internal/schedule"
	"idptrack/internal/status"
)

// IDPInput is a plan to save. Tasks are accepted only when the plan is new
// and are inserted before the plan's status cascades to them.
type IDPInput struct {
	IDP     domain.IDP
	Tasks   []domain.Task
	ActorID string
}

// SaveIDP creates the plan when its id is empty or unknown and updates it
// otherwise. Updates must carry the stored Version.
func (e Engine) SaveIDP(ctx context.Context, in IDPInput) (domain.IDP, error) {
	p := in.IDP
	if p.Name == "" {
		return domain.IDP{}, invalidf("name is required")
	}
	if p.EmployeeID == "" {
		return domain.IDP{}, invalidf("employee is required")
	}
	if p.Status == "" {
		p.Status = string(status.IDPDraft)
	}
	if !status.IDP(p.Status).Valid() {
		return domain.IDP{}, invalidf("idp status %q", p.Status)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	u, err := e.begin(ctx, in.ActorID, p.ID)
	if err != nil {
		return domain.IDP{}, err
	}
	defer u.release()

	prev, err := e.Repo.GetIDPTx(ctx, u.tx, p.ID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		if err := e.createIDP(ctx, u, p, in.Tasks); err != nil {
			return domain.IDP{}, err
		}
	case err != nil:
		return domain.IDP{}, err
	default:
		if len(in.Tasks) > 0 {
			return domain.IDP{}, invalidf("tasks can only be supplied when creating a plan")
		}
		if err := e.updateIDP(ctx, u, prev, p, 0); err != nil {
			return domain.IDP{}, err
		}
	}
	saved, err := e.Repo.GetIDPTx(ctx, u.tx, p.ID)
	if err != nil {
		return domain.IDP{}, err
	}
	if err := e.finish(ctx, u); err != nil {
		return domain.IDP{}, err
	}
	return saved, nil
}

func (e Engine) createIDP(ctx context.Context, u *unit, p domain.IDP, tasks []domain.Task) error {
	if _, err := e.Repo.GetUserTx(ctx, u.tx, p.EmployeeID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return invalidf("employee %s does not exist", p.EmployeeID)
		}
		return err
	}
	if p.StartDate == "" {
		p.StartDate = e.today()
	}
	if p.EndDatePlan == "" {
		p.EndDatePlan = e.now().Add(e.Config.PlanDuration()).UTC().Format(dateLayout)
	}
	if err := validIDPDates(p); err != nil {
		return err
	}
	e.stampIDPClosed(&p)
	p.Version = 1
	p.CreatedAt = e.timestamp()
	p.UpdatedAt = p.CreatedAt
	if err := e.Repo.InsertIDPTx(ctx, u.tx, p); err != nil {
		return fmt.Errorf("insert idp: %w", err)
	}
	if err := e.appendEvent(ctx, u, events.IDPCreated, repo.KindIDP, p.ID, events.EventPayload{"status": p.Status}); err != nil {
		return err
	}
	for _, t := range tasks {
		t.ID = 0
		t.IDPID = p.ID
		if t.Status == "" {
			t.Status = string(status.TaskDraft)
		}
		if err := validateTask(t); err != nil {
			return err
		}
		if _, err := e.createTask(ctx, u, p, t); err != nil {
			return err
		}
	}
	if err := e.noteIDP(ctx, u, p, status.StatusChange(p.Status)); err != nil {
		return err
	}
	if err := e.cascade(ctx, u, p, 0); err != nil {
		return err
	}
	e.plan(u, repo.KindIDP, p.ID, p.Status, p.EndDatePlan)
	e.log().WithFields(logrus.Fields{"idp_id": p.ID, "status": p.Status, "tasks": len(tasks)}).Info("idp created")
	return nil
}

// updateIDP persists next over prev and fires the status trigger plus
// cascade, or the generic updated trigger. An unchanged plan is left alone.
func (e Engine) updateIDP(ctx context.Context, u *unit, prev, next domain.IDP, depth int) error {
	if depth > maxCascadeDepth {
		return fmt.Errorf("idp %s: cascade depth exceeded", next.ID)
	}
	if next.Version != prev.Version {
		return &ConflictError{Kind: repo.KindIDP, ID: prev.ID, Expected: next.Version, Actual: prev.Version}
	}
	if next.StartDate == "" {
		next.StartDate = prev.StartDate
	}
	if next.EndDatePlan == "" {
		next.EndDatePlan = prev.EndDatePlan
	}
	if next.EmployeeID == "" {
		next.EmployeeID = prev.EmployeeID
	}
	next.CreatedAt = prev.CreatedAt
	if err := validIDPDates(next); err != nil {
		return err
	}
	if next.EmployeeID != prev.EmployeeID {
		if _, err := e.Repo.GetUserTx(ctx, u.tx, next.EmployeeID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return invalidf("employee %s does not exist", next.EmployeeID)
			}
			return err
		}
	}
	e.stampIDPClosed(&next)
	cs := diff.IDP(diff.SnapshotIDP(prev), diff.SnapshotIDP(next))
	if cs.Empty() {
		return nil
	}
	next.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateIDPTx(ctx, u.tx, next); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return &ConflictError{Kind: repo.KindIDP, ID: next.ID, Expected: next.Version}
		}
		return fmt.Errorf("update idp: %w", err)
	}
	log := e.log().WithField("idp_id", next.ID)
	if cs.Has(status.FieldStatus) {
		if err := e.appendEvent(ctx, u, events.IDPStatusChanged, repo.KindIDP, next.ID, events.EventPayload{"from": prev.Status, "to": next.Status}); err != nil {
			return err
		}
		if err := e.noteIDP(ctx, u, next, status.StatusChange(next.Status)); err != nil {
			return err
		}
		if err := e.cascade(ctx, u, next, depth); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"from": prev.Status, "to": next.Status}).Info("idp status changed")
	} else {
		if err := e.appendEvent(ctx, u, events.IDPUpdated, repo.KindIDP, next.ID, events.EventPayload{"fields": cs.Fields()}); err != nil {
			return err
		}
		if err := e.noteIDP(ctx, u, next, status.UpdatedChange()); err != nil {
			return err
		}
		log.WithField("fields", cs.Fields()).Info("idp updated")
	}
	e.plan(u, repo.KindIDP, next.ID, next.Status, next.EndDatePlan)
	return nil
}

// applyIDPStatus moves a stored plan to st through updateIDP.
func (e Engine) applyIDPStatus(ctx context.Context, u *unit, id string, st status.IDP, depth int) error {
	prev, err := e.Repo.GetIDPTx(ctx, u.tx, id)
	if err != nil {
		return err
	}
	if prev.Status == string(st) {
		return nil
	}
	next := prev
	next.Status = string(st)
	return e.updateIDP(ctx, u, prev, next, depth)
}

// cascade forces the mapped task status onto every task of p.
func (e Engine) cascade(ctx context.Context, u *unit, p domain.IDP, depth int) error {
	ts, ok := status.CascadeToTask(status.IDP(p.Status))
	if !ok {
		return nil
	}
	tasks, err := e.Repo.ListTasksTx(ctx, u.tx, p.ID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := e.applyTaskStatus(ctx, u, t.ID, ts, depth+1); err != nil {
			return fmt.Errorf("cascade %s to task %d: %w", ts, t.ID, err)
		}
	}
	return nil
}

func (e Engine) noteIDP(ctx context.Context, u *unit, p domain.IDP, c status.Change) error {
	trig, ok := status.IDPTrigger(c)
	if !ok {
		return nil
	}
	tgt := notify.Target{Kind: repo.KindIDP, IDPID: p.ID, EmployeeID: p.EmployeeID}
	chief, err := e.chiefOf(ctx, u, p.EmployeeID)
	if err != nil {
		return err
	}
	tgt.ChiefID = chief
	u.notes = append(u.notes, pendingNote{target: tgt, trigger: trig})
	return nil
}

func (e Engine) chiefOf(ctx context.Context, u *unit, employeeID string) (*string, error) {
	emp, err := e.Repo.GetUserTx(ctx, u.tx, employeeID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return emp.ChiefID, nil
}

func (e Engine) stampIDPClosed(p *domain.IDP) {
	if p.Status == string(status.IDPClosed) && p.EndDateFact == nil {
		today := e.today()
		p.EndDateFact = &today
	}
}

func validIDPDates(p domain.IDP) error {
	if err := validDate("start_date", p.StartDate); err != nil {
		return err
	}
	if err := validDate("end_date_plan", p.EndDatePlan); err != nil {
		return err
	}
	if p.EndDateFact != nil {
		return validDate("end_date_fact", *p.EndDateFact)
	}
	return nil
}

// DeleteIDP removes a plan with its tasks and notification rows and
// cancels their pending transitions.
func (e Engine) DeleteIDP(ctx context.Context, id, actorID string) error {
	u, err := e.begin(ctx, actorID, id)
	if err != nil {
		return err
	}
	defer u.release()
	if _, err := e.Repo.GetIDPTx(ctx, u.tx, id); err != nil {
		return err
	}
	tasks, err := e.Repo.ListTasksTx(ctx, u.tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteIDPTx(ctx, u.tx, id); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, u, events.IDPDeleted, repo.KindIDP, id, events.EventPayload{"tasks": len(tasks)}); err != nil {
		return err
	}
	u.intents = append(u.intents, schedule.Intent{Cancel: schedule.Keys(repo.KindIDP, id)})
	for _, t := range tasks {
		u.intents = append(u.intents, schedule.Intent{Cancel: schedule.Keys(repo.KindTask, taskKey(t.ID))})
	}
	if err := e.finish(ctx, u); err != nil {
		return err
	}
	e.log().WithField("idp_id", id).Info("idp deleted")
	return nil
}

func (e Engine) applyIDPTransition(ctx context.Context, id, newStatus string) error {
	st := status.IDP(newStatus)
	if !st.Valid() {
		return invalidf("idp status %q", newStatus)
	}
	u, err := e.begin(ctx, "scheduler", id)
	if err != nil {
		return err
	}
	defer u.release()
	p, err := e.Repo.GetIDPTx(ctx, u.tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		e.log().WithField("idp_id", id).Warn("deferred transition for missing idp")
		return nil
	}
	if err != nil {
		return err
	}
	if status.IDP(p.Status).Settled() {
		e.log().WithFields(logrus.Fields{"idp_id": id, "status": p.Status}).Info("deferred transition skipped")
		return nil
	}
	if err := e.applyIDPStatus(ctx, u, id, st, 0); err != nil {
		return err
	}
	return e.finish(ctx, u)
}
