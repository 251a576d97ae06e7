package engine_test

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"idptrack/internal/domain"
	"idptrack/internal/engine"
	"idptrack/internal/events"
	"idptrack/internal/repo"
	"idptrack/internal/schedule"
	"idptrack/internal/status"
)

func TestKeyedLocksSerializeSharedKey(t *testing.T) {
	l := engine.NewKeyedLocks()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := l.Lock("p1", fmt.Sprintf("other-%d", i))
			v := counter
			runtime.Gosched()
			counter = v + 1
			unlock()
		}(i)
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter %d", counter)
	}
	if n := l.Held(); n != 0 {
		t.Fatalf("%d lock entries leaked", n)
	}
}

func TestKeyedLocksIndependentKeys(t *testing.T) {
	l := engine.NewKeyedLocks()
	unlock := l.Lock("a")
	defer unlock()
	got := make(chan struct{})
	go func() {
		l.Lock("b")()
		close(got)
	}()
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatalf("lock on b waited for a")
	}
}

func TestKeyedLocksOppositeOrder(t *testing.T) {
	l := engine.NewKeyedLocks()
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(2)
			go func() { defer wg.Done(); l.Lock("a", "b")() }()
			go func() { defer wg.Done(); l.Lock("b", "", "a", "b")() }()
		}
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("deadlock")
	}
}

func TestConcurrentClosesPromoteOnce(t *testing.T) {
	env := newTestEnv(t)
	p := env.activate(t, env.draftPlan(t))
	ts := env.tasks(t, p.ID)
	errs := make(chan error, len(ts))
	var wg sync.WaitGroup
	for _, task := range ts {
		wg.Add(1)
		go func(task domain.Task) {
			defer wg.Done()
			task.Status = string(status.TaskClosed)
			_, err := env.Engine.SaveTask(env.Ctx, task, "emp")
			errs <- err
		}(task)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	got, err := env.Engine.Repo.GetIDP(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != string(status.IDPCompletedApproval) {
		t.Fatalf("plan status %s", got.Status)
	}
	if n := env.notes(t, repo.NotificationFilter{Trigger: status.IDPCompletedApprovalTrig}); len(n) != 1 {
		t.Fatalf("close requests: %+v", n)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilter{Type: events.IDPCompletionRaised})
	if err != nil || len(evts) != 1 {
		t.Fatalf("promotion events: %d %v", len(evts), err)
	}
}

// gate blocks every scheduler call until open is closed.
type gate struct {
	entered chan string
	open    chan struct{}
}

func (g gate) wait(key string) {
	select {
	case g.entered <- key:
	default:
	}
	<-g.open
}

func (g gate) ScheduleOnce(ctx context.Context, job schedule.Job) error {
	g.wait(job.Key)
	return nil
}

func (g gate) Cancel(ctx context.Context, key string) error {
	g.wait(key)
	return nil
}

func TestSlowSchedulerDoesNotBlockPlanSaves(t *testing.T) {
	env := newTestEnv(t)
	p := env.draftPlan(t)
	g := gate{entered: make(chan string, 16), open: make(chan struct{})}
	env.Engine.Scheduler = g
	done := make(chan error, 2)

	p.Status = string(status.IDPActive)
	go func() {
		_, err := env.Engine.SaveIDP(env.Ctx, engine.IDPInput{IDP: p, ActorID: "boss"})
		done <- err
	}()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler never called")
	}

	task := env.tasks(t, p.ID)[0]
	task.NoteEmployee = "started"
	go func() {
		_, err := env.Engine.SaveTask(env.Ctx, task, "emp")
		done <- err
	}()
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
		if err == nil && got.NoteEmployee == "started" {
			break
		}
		if time.Now().After(deadline) {
			close(g.open)
			t.Fatalf("task save waited for the scheduler")
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(g.open)
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("save: %v", err)
		}
	}
}
