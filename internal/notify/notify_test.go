package notify_test

import (
	"context"
	"testing"
	"time"

	"idptrack/internal/db"
	"idptrack/internal/domain"
	"idptrack/internal/logging"
	"idptrack/internal/migrate"
	"idptrack/internal/notify"
	"idptrack/internal/repo"
	"idptrack/internal/status"
)

func strPtr(s string) *string { return &s }

func TestResolveReceiver(t *testing.T) {
	idp := notify.Target{Kind: repo.KindIDP, IDPID: "p1", EmployeeID: "emp", ChiefID: strPtr("boss"), MentorID: strPtr("m")}
	if id, ok := notify.ResolveReceiver(idp, status.RoleEmployee); !ok || id != "emp" {
		t.Fatalf("employee: %q %v", id, ok)
	}
	if id, ok := notify.ResolveReceiver(idp, status.RoleChief); !ok || id != "boss" {
		t.Fatalf("chief: %q %v", id, ok)
	}
	if _, ok := notify.ResolveReceiver(idp, status.RoleMentor); ok {
		t.Fatalf("idp targets never resolve a mentor")
	}
	task := idp
	task.Kind = repo.KindTask
	task.TaskID = 9
	if id, ok := notify.ResolveReceiver(task, status.RoleMentor); !ok || id != "m" {
		t.Fatalf("mentor: %q %v", id, ok)
	}
	task.MentorID = nil
	task.ChiefID = nil
	if _, ok := notify.ResolveReceiver(task, status.RoleMentor); ok {
		t.Fatalf("absent mentor resolved")
	}
	if _, ok := notify.ResolveReceiver(task, status.RoleChief); ok {
		t.Fatalf("absent chief resolved")
	}
}

func TestDeepLink(t *testing.T) {
	tgt := notify.Target{Kind: repo.KindTask, IDPID: "abc", TaskID: 4}
	if got := notify.DeepLink("https://hr.example.com/", tgt); got != "https://hr.example.com/idp/abc/task/4" {
		t.Fatalf("task link %q", got)
	}
	tgt.Kind = repo.KindIDP
	if got := notify.DeepLink("", tgt); got != "/idp/abc" {
		t.Fatalf("idp link %q", got)
	}
}

type testEnv struct {
	Ctx        context.Context
	Repo       repo.Repo
	Dispatcher notify.Dispatcher
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	logging.Discard()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	for _, u := range []domain.User{
		{ID: "boss", FirstName: "B", LastName: "Oss", CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "emp", FirstName: "E", LastName: "Mp", ChiefID: strPtr("boss"), CreatedAt: "2024-01-01T00:00:00Z"},
	} {
		if err := r.InsertUser(ctx, u); err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}
	if err := r.UpsertCatalog(ctx, []domain.Notification{{Trigger: status.IDPTwoWeeksTrigger, Name: "two weeks"}}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InsertIDPTx(ctx, tx, domain.IDP{ID: "p1", Name: "Plan", Status: "active", StartDate: "2024-01-01", EndDatePlan: "2024-02-01",
		EmployeeID: "emp", Version: 1, CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert idp: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return testEnv{
		Ctx:  ctx,
		Repo: r,
		Dispatcher: notify.Dispatcher{
			Repo:    r,
			BaseURL: "https://hr.example.com",
			Now:     func() time.Time { return time.Date(2024, 1, 18, 0, 0, 0, 0, time.UTC) },
			Log:     logging.Logger,
		},
	}
}

func (env testEnv) notify(t *testing.T, tgt notify.Target, trig status.Trigger) int {
	t.Helper()
	tx, err := env.Repo.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	n, err := env.Dispatcher.Notify(env.Ctx, tx, tgt, trig)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestNotifyWritesRowPerReceiver(t *testing.T) {
	env := newTestEnv(t)
	trig, _ := status.IDPTrigger(status.StatusChange(string(status.IDPTwoWeeks)))
	tgt := notify.Target{Kind: repo.KindIDP, IDPID: "p1", EmployeeID: "emp", ChiefID: strPtr("boss")}
	if n := env.notify(t, tgt, trig); n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
	rows, err := env.Repo.ListNotifications(env.Ctx, repo.NotificationFilter{EntityID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("stored %d rows", len(rows))
	}
	for _, r := range rows {
		if r.Status != repo.NotificationUnread || r.Trigger != status.IDPTwoWeeksTrigger {
			t.Fatalf("row: %+v", r)
		}
		if want := trig.Message(roleFor(r.ReceiverID)) + " https://hr.example.com/idp/p1"; r.Message != want {
			t.Fatalf("message %q, want %q", r.Message, want)
		}
	}
}

func TestNotifySkipsMissingChiefAndCatalog(t *testing.T) {
	env := newTestEnv(t)
	trig, _ := status.IDPTrigger(status.StatusChange(string(status.IDPTwoWeeks)))
	tgt := notify.Target{Kind: repo.KindIDP, IDPID: "p1", EmployeeID: "emp"}
	if n := env.notify(t, tgt, trig); n != 1 {
		t.Fatalf("expected employee only, got %d", n)
	}
	overdue, _ := status.IDPTrigger(status.StatusChange(string(status.IDPOverdue)))
	if n := env.notify(t, tgt, overdue); n != 0 {
		t.Fatalf("trigger missing from catalog must write nothing, got %d", n)
	}
}

func TestMarkRead(t *testing.T) {
	env := newTestEnv(t)
	trig, _ := status.IDPTrigger(status.StatusChange(string(status.IDPTwoWeeks)))
	env.notify(t, notify.Target{Kind: repo.KindIDP, IDPID: "p1", EmployeeID: "emp"}, trig)
	rows, _ := env.Repo.ListNotifications(env.Ctx, repo.NotificationFilter{ReceiverID: "emp"})
	if len(rows) != 1 {
		t.Fatalf("rows: %v", rows)
	}
	if err := env.Repo.MarkNotificationRead(env.Ctx, repo.KindIDP, rows[0].ID, "boss"); err != repo.ErrNotFound {
		t.Fatalf("foreign receiver must not mark read: %v", err)
	}
	if err := env.Repo.MarkNotificationRead(env.Ctx, repo.KindIDP, rows[0].ID, "emp"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, _ := env.Repo.ListNotifications(env.Ctx, repo.NotificationFilter{ReceiverID: "emp", Status: repo.NotificationUnread})
	if len(unread) != 0 {
		t.Fatalf("still unread: %v", unread)
	}
}

func roleFor(id string) status.Role {
	if id == "boss" {
		return status.RoleChief
	}
	return status.RoleEmployee
}
