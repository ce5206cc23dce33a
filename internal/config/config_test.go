package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
schedules:
  - name: nightly
    timer_unit: night-kitchen-nightly.timer
    task_group: night-kitchen-nightly.target
    fallback_cron: "0 2 * * *"
runner:
  resume_tolerance: "2m"
state_store:
  driver: file
  path: /tmp/resume-state.json
logging:
  level: debug
  console: true
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", validYAML)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Schedules) != 1 {
		t.Fatalf("schedules = %d, want 1", len(cfg.Schedules))
	}
	s := cfg.Schedules[0]
	if s.Name != "nightly" || s.TimerUnit != "night-kitchen-nightly.timer" {
		t.Fatalf("unexpected schedule: %+v", s)
	}
	if s.FallbackCron != "0 2 * * *" {
		t.Fatalf("FallbackCron = %q", s.FallbackCron)
	}

	tol, err := cfg.ResumeTolerance()
	if err != nil {
		t.Fatalf("ResumeTolerance: %v", err)
	}
	if tol != 2*time.Minute {
		t.Fatalf("ResumeTolerance = %v, want 2m", tol)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
  "schedules": [
    {"name": "weekly", "timer_unit": "weekly.timer", "task_group": "weekly.target"}
  ],
  "logging": {"console": true}
}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cfg.Schedule("weekly"); !ok {
		t.Fatal("schedule lookup failed")
	}
	if _, ok := cfg.Schedule("nope"); ok {
		t.Fatal("lookup of unknown schedule succeeded")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
schedules:
  - name: nightly
    timer_unit: nightly.timer
    task_group: nightly.target
logging:
  console: true
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	checks := []struct {
		name string
		get  func() (time.Duration, error)
		want time.Duration
	}{
		{"resume_tolerance", cfg.ResumeTolerance, DefaultResumeTolerance},
		{"fresh_boot_window", cfg.FreshBootWindow, DefaultFreshBootWindow},
		{"already_up_after", cfg.AlreadyUpAfter, DefaultAlreadyUpAfter},
		{"call_timeout", cfg.CallTimeout, DefaultCallTimeout},
	}
	for _, c := range checks {
		got, err := c.get()
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, got, c.want)
		}
	}

	if who := cfg.InhibitorWho(); who != DefaultInhibitorWho {
		t.Fatalf("InhibitorWho = %q", who)
	}
	store, err := cfg.StoreConfig()
	if err != nil {
		t.Fatalf("StoreConfig: %v", err)
	}
	if store.Driver != "file" || store.Path != DefaultStatePath {
		t.Fatalf("StoreConfig = %+v", store)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no schedules",
			content: `{"schedules": [], "logging": {"console": true}}`,
			wantErr: "at least one schedule",
		},
		{
			name: "missing timer unit",
			content: `
schedules:
  - name: nightly
    task_group: nightly.target
`,
			wantErr: "timer_unit is required",
		},
		{
			name: "missing task group",
			content: `
schedules:
  - name: nightly
    timer_unit: nightly.timer
`,
			wantErr: "task_group is required",
		},
		{
			name: "duplicate names",
			content: `
schedules:
  - {name: nightly, timer_unit: a.timer, task_group: a.target}
  - {name: nightly, timer_unit: b.timer, task_group: b.target}
`,
			wantErr: "duplicate name",
		},
		{
			name: "bad cron",
			content: `
schedules:
  - {name: nightly, timer_unit: a.timer, task_group: a.target, fallback_cron: "not cron"}
`,
			wantErr: "fallback_cron",
		},
		{
			name: "bad duration",
			content: `
schedules:
  - {name: nightly, timer_unit: a.timer, task_group: a.target}
runner:
  resume_tolerance: "ninety seconds"
`,
			wantErr: "resume_tolerance",
		},
		{
			name: "unknown field",
			content: `
schedules:
  - {name: nightly, timer_unit: a.timer, task_group: a.target}
wake_mode: aggressive
`,
			wantErr: "unknown field",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, "config.yaml", tt.content)
			_, err := NewManager(path).Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json",
		`{"schedules": [{"name":"a","timer_unit":"a.timer","task_group":"a.target"}]}{"extra": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestManagerSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	sub := m.Subscribe(1)
	cfg := m.Get()
	m.publish(cfg)

	select {
	case got := <-sub:
		if got != cfg {
			t.Fatal("published config differs from committed config")
		}
	default:
		t.Fatal("no config delivered to subscriber")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "90s", want: 90 * time.Second},
		{raw: "15m", want: 15 * time.Minute},
		{raw: "-5s", wantErr: true},
		{raw: "bogus", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test.field", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDurationField(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
