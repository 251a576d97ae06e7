package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"idptrack/internal/config"
	"idptrack/internal/status"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := len(cfg.CatalogEntries()); got != len(status.TriggerIDs()) {
		t.Fatalf("catalog size %d, want %d", got, len(status.TriggerIDs()))
	}
	if cfg.PlanDuration() != 30*24*time.Hour {
		t.Fatalf("plan duration %v", cfg.PlanDuration())
	}
	if !cfg.SchedulingEnabled() || cfg.PollInterval() != 30*time.Second {
		t.Fatalf("schedule defaults: %v %v", cfg.SchedulingEnabled(), cfg.PollInterval())
	}
}

func TestValidateMissingTrigger(t *testing.T) {
	cfg := config.Default()
	delete(cfg.Notifications.Catalog, "Task_closed")
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "Task_closed") {
		t.Fatalf("expected missing trigger error, got %v", err)
	}
}

func TestValidateBadDuration(t *testing.T) {
	cfg := config.Default()
	cfg.Schedule.PollInterval = "soon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duration error")
	}
}

func TestLoadOptionalPrefersYAMLThenTOML(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing config: %v %v", cfg, err)
	}

	var b strings.Builder
	b.WriteString("[plans]\ndefault_duration_days = 45\n\n[links]\nbase_url = \"https://hr.example.com\"\n\n")
	for _, id := range status.TriggerIDs() {
		b.WriteString("[notifications.catalog." + id + "]\nname = \"" + id + "\"\n\n")
	}
	if err := os.WriteFile(filepath.Join(dir, "idptrack.toml"), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.PlanDuration() != 45*24*time.Hour || cfg.Links.BaseURL != "https://hr.example.com" {
		t.Fatalf("toml values not applied: %+v", cfg)
	}

	if err := os.WriteFile(config.Path(dir), []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.PlanDuration() != 30*24*time.Hour {
		t.Fatalf("yaml should win over toml")
	}
}

func TestFromYAMLRejectsEmptyCatalog(t *testing.T) {
	if _, err := config.FromYAML([]byte("links:\n  base_url: x\n")); err == nil {
		t.Fatalf("expected validation error")
	}
}
