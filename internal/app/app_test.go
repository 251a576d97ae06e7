package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"idptrack/internal/app"
	"idptrack/internal/domain"
	"idptrack/internal/engine"
	"idptrack/internal/logging"
	"idptrack/internal/status"
)

func TestOpenSeedsCatalog(t *testing.T) {
	ctx := context.Background()
	a, err := app.Open(ctx, app.Options{Workspace: t.TempDir(), LogLevel: "error"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	logging.Discard()
	entries, err := a.Engine.Repo.ListCatalog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(status.TriggerIDs()) {
		t.Fatalf("catalog has %d entries", len(entries))
	}
}

func TestOpenRejectsIncompleteCatalog(t *testing.T) {
	dir := t.TempDir()
	cfg := "links:\n  base_url: https://hr.example.com\n"
	if err := os.WriteFile(filepath.Join(dir, "idptrack.yml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := app.Open(context.Background(), app.Options{Workspace: dir}); err == nil {
		t.Fatalf("config without catalog must be rejected")
	}
}

func TestRunnerAppliesTransitions(t *testing.T) {
	ctx := context.Background()
	a, err := app.Open(ctx, app.Options{Workspace: t.TempDir(), LogLevel: "error"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	logging.Discard()
	if err := a.Engine.Repo.InsertUser(ctx, domain.User{ID: "emp", FirstName: "E", LastName: "Mp", CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	// the planned end is in the past, so the overdue job is due at once
	p, err := a.Engine.SaveIDP(ctx, engine.IDPInput{IDP: domain.IDP{Name: "Old", EmployeeID: "emp", Status: "active", StartDate: "2020-01-01", EndDatePlan: "2020-02-01"}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	n, err := a.Runner().Tick(ctx)
	if err != nil || n != 1 {
		t.Fatalf("tick: %d %v", n, err)
	}
	got, _ := a.Engine.Repo.GetIDP(ctx, p.ID)
	if got.Status != "overdue" {
		t.Fatalf("status %s", got.Status)
	}
}
