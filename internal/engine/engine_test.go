package engine_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"idptrack/internal/config"
	"idptrack/internal/db"
	"idptrack/internal/domain"
	"idptrack/internal/engine"
	"idptrack/internal/events"
	"idptrack/internal/logging"
	"idptrack/internal/migrate"
	"idptrack/internal/repo"
	"idptrack/internal/schedule"
	"idptrack/internal/status"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Jobs   schedule.Store
}

func strPtr(s string) *string { return &s }

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	logging.Discard()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Repo.UpsertCatalog(ctx, cfg.CatalogEntries()); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	for _, u := range []domain.User{
		{ID: "boss", FirstName: "Ann", LastName: "Chief", CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "emp", FirstName: "Bob", LastName: "Worker", ChiefID: strPtr("boss"), CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "m", FirstName: "Cid", LastName: "Mentor", CreatedAt: "2024-01-01T00:00:00Z"},
	} {
		if err := eng.Repo.InsertUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx, Jobs: schedule.Store{Repo: eng.Repo}}
}

func (env testEnv) notes(t *testing.T, f repo.NotificationFilter) []domain.EntityNotification {
	t.Helper()
	res, err := env.Engine.Repo.ListNotifications(env.Ctx, f)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return res
}

func (env testEnv) draftPlan(t *testing.T) domain.IDP {
	t.Helper()
	p, err := env.Engine.SaveIDP(env.Ctx, engine.IDPInput{
		IDP: domain.IDP{ID: "p1", Name: "Grow", EmployeeID: "emp", EndDatePlan: "2024-03-01"},
		Tasks: []domain.Task{
			{Name: "Read", MentorID: strPtr("m")},
			{Name: "Write"},
		},
		ActorID: "boss",
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return p
}

func (env testEnv) activate(t *testing.T, p domain.IDP) domain.IDP {
	t.Helper()
	p.Status = string(status.IDPActive)
	p, err := env.Engine.SaveIDP(env.Ctx, engine.IDPInput{IDP: p, ActorID: "boss"})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return p
}

func (env testEnv) tasks(t *testing.T, idpID string) []domain.Task {
	t.Helper()
	ts, err := env.Engine.Repo.ListTasks(env.Ctx, idpID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	return ts
}

func TestCreateDraftPlanWithTasks(t *testing.T) {
	env := newTestEnv(t)
	p := env.draftPlan(t)
	if p.Status != "draft" || p.Version != 1 || p.StartDate != "2024-01-01" {
		t.Fatalf("plan: %+v", p)
	}
	ts := env.tasks(t, p.ID)
	if len(ts) != 2 {
		t.Fatalf("tasks: %+v", ts)
	}
	for _, task := range ts {
		if task.Status != "draft" || task.EndDatePlan != "2024-03-01" {
			t.Fatalf("task defaults: %+v", task)
		}
	}
	if n := env.notes(t, repo.NotificationFilter{}); len(n) != 0 {
		t.Fatalf("draft plan must not notify: %+v", n)
	}
}

func TestActivateCascadesToTasks(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, env.draftPlan(t))
	if p.Status != "active" || p.Version != 2 {
		t.Fatalf("plan: %+v", p)
	}
	for _, task := range env.tasks(t, p.ID) {
		if task.Status != string(status.TaskActiveWithIDP) {
			t.Fatalf("task %d status %s", task.ID, task.Status)
		}
	}
	created := env.notes(t, repo.NotificationFilter{Trigger: status.IDPCreatedTrigger})
	if len(created) != 1 || created[0].ReceiverID != "emp" || created[0].EntityID != "p1" {
		t.Fatalf("idp created: %+v", created)
	}
	withIDP := env.notes(t, repo.NotificationFilter{Trigger: status.TaskCreatedWithIDPTrigger})
	if len(withIDP) != 1 || withIDP[0].ReceiverID != "m" {
		t.Fatalf("only the mentored task notifies: %+v", withIDP)
	}
}

func TestNewActivePlanNotifiesOnce(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SaveIDP(env.Ctx, engine.IDPInput{
		IDP: domain.IDP{Name: "Lead", EmployeeID: "emp", Status: "active", EndDatePlan: "2024-06-01"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	all := env.notes(t, repo.NotificationFilter{EntityKind: repo.KindIDP})
	if len(all) != 1 || all[0].Trigger != status.IDPCreatedTrigger || all[0].Status != repo.NotificationUnread {
		t.Fatalf("notifications: %+v", all)
	}
	if all[0].Message == "" {
		t.Fatalf("message is empty")
	}
}

func TestNoOpSaveIsSilent(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, env.draftPlan(t))
	before := len(env.notes(t, repo.NotificationFilter{}))
	again, err := env.Engine.SaveIDP(env.Ctx, engine.IDPInput{IDP: p})
	if err != nil {
		t.Fatalf("resave: %v", err)
	}
	if again.Version != p.Version {
		t.Fatalf("no-op save bumped version %d -> %d", p.Version, again.Version)
	}
	if after := len(env.notes(t, repo.NotificationFilter{})); after != before {
		t.Fatalf("no-op save notified: %d -> %d", before, after)
	}
	task := env.tasks(t, p.ID)[0]
	if _, err := env.Engine.SaveTask(env.Ctx, task, "emp"); err != nil {
		t.Fatalf("resave task: %v", err)
	}
	if after := len(env.notes(t, repo.NotificationFilter{})); after != before {
		t.Fatalf("no-op task save notified: %d -> %d", before, after)
	}
}

func TestPlanFieldEditFiresUpdated(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, env.draftPlan(t))
	p.Name = "Grow faster"
	p.Target = strPtr("Senior")
	if _, err := env.Engine.SaveIDP(env.Ctx, engine.IDPInput{IDP: p}); err != nil {
		t.Fatalf("save: %v", err)
	}
	upd := env.notes(t, repo.NotificationFilter{Trigger: status.IDPUpdatedTrigger})
	if len(upd) != 1 || upd[0].ReceiverID != "emp" {
		t.Fatalf("updated: %+v", upd)
	}
}

func TestTaskFieldEditMultiplicity(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, env.draftPlan(t))
	task := env.tasks(t, p.ID)[0]
	before := len(env.notes(t, repo.NotificationFilter{EntityKind: repo.KindTask, ReceiverID: "emp"}))
	task.NoteMentor = "nice progress"
	task.EndDatePlan = "2024-02-20"
	saved, err := env.Engine.SaveTask(env.Ctx, task, "m")
	if err != nil {
		t.Fatalf("save task: %v", err)
	}
	if saved.Version != task.Version+1 || saved.NoteMentor != "nice progress" {
		t.Fatalf("saved: %+v", saved)
	}
	got := env.notes(t, repo.NotificationFilter{EntityKind: repo.KindTask, ReceiverID: "emp"})
	if len(got)-before != 2 {
		t.Fatalf("expected two new rows for the employee, got %d", len(got)-before)
	}
	triggers := map[string]bool{}
	for _, n := range got {
		triggers[n.Trigger] = true
	}
	if !triggers[status.TaskCommentAddedTrigger] || !triggers[status.TaskEndDateUpdatedTrigger] {
		t.Fatalf("triggers: %v", triggers)
	}
}

func TestMentorChangeNotifiesEmployee(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, env.draftPlan(t))
	task := env.tasks(t, p.ID)[1]
	task.MentorID = strPtr("boss")
	if _, err := env.Engine.SaveTask(env.Ctx, task, "boss"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got := env.notes(t, repo.NotificationFilter{Trigger: status.MentorChangedTrigger})
	if len(got) != 1 || got[0].ReceiverID != "emp" {
		t.Fatalf("mentor changed: %+v", got)
	}
	task, _ = env.Engine.Repo.GetTask(env.Ctx, task.ID)
	task.MentorID = strPtr("ghost")
	if _, err := env.Engine.SaveTask(env.Ctx, task, "boss"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("unknown mentor: %v", err)
	}
}

func closeTask(t *testing.T, env testEnv, task domain.Task) domain.Task {
	t.Helper()
	task.Status = string(status.TaskClosed)
	saved, err := env.Engine.SaveTask(env.Ctx, task, "boss")
	if err != nil {
		t.Fatalf("close task %d: %v", task.ID, err)
	}
	return saved
}

func TestCompletionRollUp(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, env.draftPlan(t))
	ts := env.tasks(t, p.ID)

	first := closeTask(t, env, ts[0])
	if first.EndDateFact == nil || *first.EndDateFact != "2024-01-01" {
		t.Fatalf("closed task without fact date: %+v", first)
	}
	if got, _ := env.Engine.Repo.GetIDP(env.Ctx, p.ID); got.Status != "active" {
		t.Fatalf("plan promoted with an open task: %s", got.Status)
	}
	closeTask(t, env, ts[1])
	got, err := env.Engine.Repo.GetIDP(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != string(status.IDPCompletedApproval) {
		t.Fatalf("plan status %s", got.Status)
	}
	req := env.notes(t, repo.NotificationFilter{Trigger: status.IDPCompletedApprovalTrig})
	if len(req) != 1 || req[0].ReceiverID != "boss" {
		t.Fatalf("close request: %+v", req)
	}

	// a further edit on a closed task must not promote again
	last, _ := env.Engine.Repo.GetTask(env.Ctx, ts[1].ID)
	last.NoteChief = "well done"
	if _, err := env.Engine.SaveTask(env.Ctx, last, "boss"); err != nil {
		t.Fatalf("edit closed task: %v", err)
	}
	if req := env.notes(t, repo.NotificationFilter{Trigger: status.IDPCompletedApprovalTrig}); len(req) != 1 {
		t.Fatalf("promotion repeated: %d", len(req))
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: events.IDPCompletionRaised})
	if err != nil || len(evts) != 1 {
		t.Fatalf("promotion events: %d %v", len(evts), err)
	}
}

func TestCancelCascadesAndCancelsJobs(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, env.draftPlan(t))
	jobs, err := env.Jobs.List(env.Ctx, repo.KindIDP, p.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Key != "idp:two_weeks:p1" || jobs[0].FireAt != "2024-02-16T00:00:00Z" {
		t.Fatalf("idp jobs: %+v", jobs)
	}
	taskJobs, _ := env.Jobs.List(env.Ctx, repo.KindTask, "", true)
	if len(taskJobs) != 2 {
		t.Fatalf("task jobs: %+v", taskJobs)
	}

	p.Status = string(status.IDPCancelled)
	if _, err := env.Engine.SaveIDP(env.Ctx, engine.IDPInput{IDP: p, ActorID: "boss"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, task := range env.tasks(t, p.ID) {
		if task.Status != string(status.TaskCancelledWithIDP) {
			t.Fatalf("task %d status %s", task.ID, task.Status)
		}
	}
	if n := env.notes(t, repo.NotificationFilter{Trigger: status.IDPCancelledTrigger}); len(n) != 1 {
		t.Fatalf("idp cancelled: %+v", n)
	}
	if n := env.notes(t, repo.NotificationFilter{Trigger: status.TaskCancelledAfterIDPTrig}); len(n) != 1 || n[0].ReceiverID != "m" {
		t.Fatalf("task cancelled with idp: %+v", n)
	}
	if left, _ := env.Jobs.List(env.Ctx, "", "", true); len(left) != 0 {
		t.Fatalf("jobs still enabled: %+v", left)
	}
}

func TestStaleVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	p := env.draftPlan(t)
	env.activate(t, p)
	p.Name = "stale"
	_, err := env.Engine.SaveIDP(env.Ctx, engine.IDPInput{IDP: p})
	var conflict *engine.ConflictError
	if !errors.As(err, &conflict) || conflict.Expected != 1 || conflict.Actual != 2 {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !errors.Is(err, engine.ErrConcurrentModification) {
		t.Fatalf("conflict must unwrap to ErrConcurrentModification")
	}
	task := env.tasks(t, p.ID)[0]
	task.Version = 1
	task.Name = "stale"
	if _, err := env.Engine.SaveTask(env.Ctx, task, ""); !errors.As(err, &conflict) {
		t.Fatalf("expected task conflict, got %v", err)
	}
}

func TestApplyTransition(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, env.draftPlan(t))
	if err := env.Engine.ApplyTransition(env.Ctx, repo.KindIDP, p.ID, "two_weeks"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := env.Engine.Repo.GetIDP(env.Ctx, p.ID)
	if got.Status != "two_weeks" {
		t.Fatalf("status %s", got.Status)
	}
	warn := env.notes(t, repo.NotificationFilter{Trigger: status.IDPTwoWeeksTrigger})
	if len(warn) != 2 {
		t.Fatalf("two weeks warning: %+v", warn)
	}
	jobs, _ := env.Jobs.List(env.Ctx, repo.KindIDP, p.ID, true)
	if len(jobs) != 1 || jobs[0].Key != "idp:overdue:p1" {
		t.Fatalf("overdue not scheduled: %+v", jobs)
	}

	task := env.tasks(t, p.ID)[0]
	if err := env.Engine.ApplyTransition(env.Ctx, repo.KindTask, taskID(task), "overdue"); err != nil {
		t.Fatalf("apply task: %v", err)
	}
	if got, _ := env.Engine.Repo.GetTask(env.Ctx, task.ID); got.Status != "overdue" {
		t.Fatalf("task status %s", got.Status)
	}

	if err := env.Engine.ApplyTransition(env.Ctx, repo.KindIDP, "missing", "overdue"); err != nil {
		t.Fatalf("missing idp must be a no-op: %v", err)
	}
	if err := env.Engine.ApplyTransition(env.Ctx, repo.KindTask, "999", "overdue"); err != nil {
		t.Fatalf("missing task must be a no-op: %v", err)
	}
	if err := env.Engine.ApplyTransition(env.Ctx, repo.KindTask, "abc", "overdue"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("bad task id: %v", err)
	}
	if err := env.Engine.ApplyTransition(env.Ctx, "widget", "1", "overdue"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("bad kind: %v", err)
	}
}

func TestTimerDoesNotOverrideSettledStatus(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, env.draftPlan(t))
	task := closeTask(t, env, env.tasks(t, p.ID)[0])
	if err := env.Engine.ApplyTransition(env.Ctx, repo.KindTask, taskID(task), "overdue"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got, _ := env.Engine.Repo.GetTask(env.Ctx, task.ID); got.Status != "closed" {
		t.Fatalf("closed task moved to %s", got.Status)
	}
}

func TestDeletePlan(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, env.draftPlan(t))
	if err := env.Engine.DeleteIDP(env.Ctx, p.ID, "boss"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetIDP(env.Ctx, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("plan still present: %v", err)
	}
	if ts := env.tasks(t, p.ID); len(ts) != 0 {
		t.Fatalf("tasks survived: %+v", ts)
	}
	if n := env.notes(t, repo.NotificationFilter{}); len(n) != 0 {
		t.Fatalf("notification rows survived: %+v", n)
	}
	if left, _ := env.Jobs.List(env.Ctx, "", "", true); len(left) != 0 {
		t.Fatalf("jobs still enabled: %+v", left)
	}
	if err := env.Engine.DeleteIDP(env.Ctx, p.ID, "boss"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []domain.IDP{
		{EmployeeID: "emp"},
		{Name: "x"},
		{Name: "x", EmployeeID: "emp", Status: "bogus"},
		{Name: "x", EmployeeID: "emp", EndDatePlan: "01.02.2024"},
		{Name: "x", EmployeeID: "nobody"},
	}
	for _, c := range cases {
		if _, err := env.Engine.SaveIDP(env.Ctx, engine.IDPInput{IDP: c}); !errors.Is(err, engine.ErrInvalid) {
			t.Fatalf("%+v: expected invalid, got %v", c, err)
		}
	}
	p := env.draftPlan(t)
	if _, err := env.Engine.SaveIDP(env.Ctx, engine.IDPInput{IDP: p, Tasks: []domain.Task{{Name: "late"}}}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("tasks on update: %v", err)
	}
	if _, err := env.Engine.SaveTask(env.Ctx, domain.Task{Name: "orphan", IDPID: "nope"}, ""); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown idp: %v", err)
	}
	if _, err := env.Engine.SaveTask(env.Ctx, domain.Task{IDPID: p.ID}, ""); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("unnamed task: %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p := env.draftPlan(t)
	p.Status = string(status.IDPDraftApproval)
	p, err := env.Engine.SaveIDP(env.Ctx, engine.IDPInput{IDP: p, ActorID: "emp"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n := env.notes(t, repo.NotificationFilter{Trigger: status.IDPRequestCreatedTrigger}); len(n) != 1 || n[0].ReceiverID != "boss" {
		t.Fatalf("request: %+v", n)
	}
	for _, task := range env.tasks(t, p.ID) {
		if task.Status != "draft_approval" {
			t.Fatalf("task %d status %s", task.ID, task.Status)
		}
	}
	p = env.activate(t, p)
	added, err := env.Engine.SaveTask(env.Ctx, domain.Task{IDPID: p.ID, Name: "Present", Status: "active", MentorID: strPtr("m")}, "boss")
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if n := env.notes(t, repo.NotificationFilter{Trigger: status.TaskCreatedTrigger}); len(n) != 2 {
		t.Fatalf("task created: %+v", n)
	}
	for _, task := range env.tasks(t, p.ID) {
		closeTask(t, env, task)
	}
	got, _ := env.Engine.Repo.GetIDP(env.Ctx, p.ID)
	if got.Status != "completed_approval" {
		t.Fatalf("plan %s after closing %d", got.Status, added.ID)
	}
	got.Status = string(status.IDPClosed)
	closed, err := env.Engine.SaveIDP(env.Ctx, engine.IDPInput{IDP: got, ActorID: "boss"})
	if err != nil {
		t.Fatalf("close plan: %v", err)
	}
	if closed.EndDateFact == nil || *closed.EndDateFact != "2024-01-01" {
		t.Fatalf("closed plan: %+v", closed)
	}
	if n := env.notes(t, repo.NotificationFilter{Trigger: status.IDPClosedTrigger}); len(n) != 1 {
		t.Fatalf("closed: %+v", n)
	}

	unread := env.notes(t, repo.NotificationFilter{ReceiverID: "emp", Status: repo.NotificationUnread})
	if len(unread) == 0 {
		t.Fatalf("employee has no notifications")
	}
	first := unread[0]
	if err := env.Engine.MarkNotificationRead(env.Ctx, first.EntityKind, first.ID, "boss"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign read: %v", err)
	}
	if err := env.Engine.MarkNotificationRead(env.Ctx, first.EntityKind, first.ID, "emp"); err != nil {
		t.Fatalf("read: %v", err)
	}
	if left := env.notes(t, repo.NotificationFilter{ReceiverID: "emp", Status: repo.NotificationUnread}); len(left) != len(unread)-1 {
		t.Fatalf("unread %d -> %d", len(unread), len(left))
	}
}

func taskID(t domain.Task) string {
	return strconv.FormatInt(t.ID, 10)
}
