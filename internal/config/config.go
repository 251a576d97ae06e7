package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"idptrack/internal/domain"
	"idptrack/internal/status"
)

// Config models idptrack.yml (or idptrack.toml).
type Config struct {
	Notifications struct {
		Catalog map[string]CatalogEntry `yaml:"catalog" toml:"catalog"`
	} `yaml:"notifications" toml:"notifications"`
	Links struct {
		BaseURL string `yaml:"base_url" toml:"base_url"`
	} `yaml:"links" toml:"links"`
	Plans struct {
		DefaultDurationDays int `yaml:"default_duration_days" toml:"default_duration_days"`
	} `yaml:"plans" toml:"plans"`
	Schedule Schedule `yaml:"schedule" toml:"schedule"`
	Log      struct {
		Level string `yaml:"level" toml:"level"`
		File  string `yaml:"file" toml:"file"`
	} `yaml:"log" toml:"log"`
}

type CatalogEntry struct {
	Name        string `yaml:"name" toml:"name"`
	Description string `yaml:"description" toml:"description"`
}

type Schedule struct {
	Enabled      *bool  `yaml:"enabled" toml:"enabled"`
	PollInterval string `yaml:"poll_interval" toml:"poll_interval"`
	BatchSize    int    `yaml:"batch_size" toml:"batch_size"`
	Retry        struct {
		Attempts     int    `yaml:"attempts" toml:"attempts"`
		Backoff      string `yaml:"backoff" toml:"backoff"`
		TripAfter    uint32 `yaml:"trip_after" toml:"trip_after"`
		OpenTimeout  string `yaml:"open_timeout" toml:"open_timeout"`
		MaxJobErrors int    `yaml:"max_job_errors" toml:"max_job_errors"`
	} `yaml:"retry" toml:"retry"`
}

// SchedulingEnabled defaults to true when unset.
func (c *Config) SchedulingEnabled() bool {
	return c.Schedule.Enabled == nil || *c.Schedule.Enabled
}

func (c *Config) PollInterval() time.Duration {
	return parseDuration(c.Schedule.PollInterval, 30*time.Second)
}

func (c *Config) RetryBackoff() time.Duration {
	return parseDuration(c.Schedule.Retry.Backoff, 200*time.Millisecond)
}

func (c *Config) BreakerTimeout() time.Duration {
	return parseDuration(c.Schedule.Retry.OpenTimeout, 30*time.Second)
}

// PlanDuration is the default span between an IDP's creation and its
// planned end.
func (c *Config) PlanDuration() time.Duration {
	days := c.Plans.DefaultDurationDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

func parseDuration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// CatalogEntries returns the catalog as notification definitions sorted by
// trigger.
func (c *Config) CatalogEntries() []domain.Notification {
	out := make([]domain.Notification, 0, len(c.Notifications.Catalog))
	for trig, e := range c.Notifications.Catalog {
		out = append(out, domain.Notification{Trigger: trig, Name: e.Name, Description: e.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trigger < out[j].Trigger })
	return out
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Notifications.Catalog) == 0 {
		return fmt.Errorf("config.notifications.catalog is required")
	}
	for trig, e := range c.Notifications.Catalog {
		if trig == "" {
			return fmt.Errorf("config.notifications.catalog has empty trigger")
		}
		if e.Name == "" {
			return fmt.Errorf("catalog entry %s has empty name", trig)
		}
	}
	for _, trig := range status.TriggerIDs() {
		if _, ok := c.Notifications.Catalog[trig]; !ok {
			return fmt.Errorf("catalog is missing trigger %s", trig)
		}
	}
	if c.Plans.DefaultDurationDays < 0 {
		return fmt.Errorf("config.plans.default_duration_days must not be negative")
	}
	for name, v := range map[string]string{
		"schedule.poll_interval":      c.Schedule.PollInterval,
		"schedule.retry.backoff":      c.Schedule.Retry.Backoff,
		"schedule.retry.open_timeout": c.Schedule.Retry.OpenTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config.%s: %w", name, err)
		}
	}
	if c.Schedule.Retry.Attempts < 0 {
		return fmt.Errorf("config.schedule.retry.attempts must not be negative")
	}
	return nil
}

// Path returns the YAML config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "idptrack.yml")
}

// TOMLPath returns the alternative TOML config path.
func TOMLPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "idptrack.toml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config %s not found; create one with idp config init", Path(workspace))
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if neither config file exists.
func LoadOptional(workspace string) (*Config, error) {
	for _, path := range []string{Path(workspace), TOMLPath(workspace)} {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		return FromFile(path)
	}
	return nil, nil
}

// Default returns the built-in configuration with the full catalog.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads config from path, choosing the format by extension.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) == ".toml" {
		return FromTOML(data)
	}
	return FromYAML(data)
}

const defaultTemplate = `notifications:
  catalog:
    Idp_created:
      name: "Development plan created"
      description: "A chief started a development plan for an employee"
    Task_created:
      name: "Task created"
      description: "A task was added to an active plan"
    Task_created_with_idp:
      name: "Task created with plan"
      description: "A task became active together with its plan"
    Idp_updated:
      name: "Development plan updated"
      description: "Plan fields changed without a status change"
    Idp_comment_added:
      name: "Comment added"
      description: "A chief or mentor commented on a task"
    Idp_task_updated:
      name: "Task updated"
      description: "Task description changed"
    Task_enddate_plan_updated:
      name: "Task deadline changed"
      description: "Planned end date of a task changed"
    Mentor_changed:
      name: "Mentor changed"
      description: "A task got a different mentor"
    Two_weeks_before_idp_overdue:
      name: "Plan due in two weeks"
      description: "Two weeks left until the plan's planned end date"
    Idp_overdue:
      name: "Plan overdue"
      description: "The plan passed its planned end date"
    Idp_request_from_employee:
      name: "Plan submitted for approval"
      description: "An employee asked the chief to approve a plan"
    Idp_cancelled:
      name: "Plan cancelled"
      description: "The plan was cancelled"
    Idp_close_request_created:
      name: "Plan awaiting completion approval"
      description: "Every task is closed and the chief must confirm"
    Idp_close_request_accepted:
      name: "Plan closed"
      description: "The chief confirmed the plan as completed"
    Idp_close_request_rejected:
      name: "Plan completion rejected"
      description: "The chief did not confirm the plan completion"
    Idp_request_rejected:
      name: "Plan request rejected"
      description: "The chief rejected the submitted plan"
    Two_weeks_before_task_overdue:
      name: "Task due in two weeks"
      description: "Two weeks left until the task's planned end date"
    Task_overdue:
      name: "Task overdue"
      description: "The task passed its planned end date"
    Task_cancelled:
      name: "Task cancelled"
      description: "The task was cancelled"
    Task_cancelled_because_of_idp:
      name: "Task cancelled with plan"
      description: "The task was cancelled because its plan was"
    Task_close_request_created:
      name: "Task awaiting approval"
      description: "The employee asked to confirm a finished task"
    Task_closed:
      name: "Task closed"
      description: "The task was confirmed as completed"
    Task_close_rejected:
      name: "Task sent back"
      description: "The task completion was rejected"

links:
  base_url: ""

plans:
  default_duration_days: 30

schedule:
  enabled: true
  poll_interval: 30s
  batch_size: 100
  retry:
    attempts: 3
    backoff: 200ms
    trip_after: 5
    open_timeout: 30s
    max_job_errors: 5

log:
  level: info
  file: ""
`
