package diff_test

import (
	"reflect"
	"testing"

	"idptrack/internal/diff"
	"idptrack/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestIDPNoChanges(t *testing.T) {
	p := domain.IDP{ID: "a", Name: "Grow", Status: "draft", StartDate: "2024-01-01", EndDatePlan: "2024-01-31", EmployeeID: "u1", Version: 1}
	q := p
	q.Version = 7
	q.UpdatedAt = "2024-02-01T00:00:00Z"
	if cs := diff.IDP(diff.SnapshotIDP(p), diff.SnapshotIDP(q)); !cs.Empty() {
		t.Fatalf("bookkeeping fields must not diff: %v", cs)
	}
}

func TestIDPStatusAndName(t *testing.T) {
	p := domain.IDP{Name: "Grow", Status: "draft", EmployeeID: "u1"}
	q := p
	q.Name = "Grow more"
	q.Status = "active"
	cs := diff.IDP(diff.SnapshotIDP(p), diff.SnapshotIDP(q))
	if got := cs.Fields(); !reflect.DeepEqual(got, []string{"name", "status"}) {
		t.Fatalf("fields: %v", got)
	}
	if v, _ := cs.Get("status"); v != "active" {
		t.Fatalf("status value: %q", v)
	}
	rest := cs.Without("status")
	if rest.Has("status") || !rest.Has("name") || !cs.Has("status") {
		t.Fatalf("without must copy: %v / %v", cs, rest)
	}
}

func TestOptionalFields(t *testing.T) {
	base := domain.Task{Name: "Read", Status: "active", MentorID: strPtr("m1")}
	same := base
	same.MentorID = strPtr("m1")
	if cs := diff.Task(diff.SnapshotTask(base), diff.SnapshotTask(same)); !cs.Empty() {
		t.Fatalf("equal pointers by value: %v", cs)
	}
	cleared := base
	cleared.MentorID = nil
	cs := diff.Task(diff.SnapshotTask(base), diff.SnapshotTask(cleared))
	if v, ok := cs.Get("mentor"); !ok || v != "" {
		t.Fatalf("cleared mentor: %v", cs)
	}
	swapped := base
	swapped.MentorID = strPtr("m2")
	cs = diff.Task(diff.SnapshotTask(base), diff.SnapshotTask(swapped))
	if v, _ := cs.Get("mentor"); v != "m2" {
		t.Fatalf("mentor swap: %v", cs)
	}
}

func TestTaskTrackedFields(t *testing.T) {
	base := domain.Task{Name: "Read", Status: "active", EndDatePlan: "2024-03-01"}
	next := base
	next.Description = "chapter 3"
	next.NoteChief = "ok"
	next.NoteEmployee = "done"
	next.EndDatePlan = "2024-03-15"
	cs := diff.Task(diff.SnapshotTask(base), diff.SnapshotTask(next))
	want := []string{"description", "end_date_plan", "note_employee", "note_chief"}
	if got := cs.Fields(); !reflect.DeepEqual(got, want) {
		t.Fatalf("fields: %v want %v", got, want)
	}
}
