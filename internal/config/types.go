package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bnavetta/night-kitchen/internal/resumestate"
	logx "github.com/bnavetta/night-kitchen/pkg/logx"
)

type Config struct {
	// Schedules are the periodic cadences whose wakeups we guarantee.
	// Defined externally at install time; read-only at runtime.
	Schedules []ScheduleConfig `json:"schedules"`

	Runner     RunnerConfig     `json:"runner"`
	StateStore StateStoreConfig `json:"state_store"`
	RTC        RTCConfig        `json:"rtc,omitempty"`
	DBus       DBusConfig       `json:"dbus,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
	Inhibitor  InhibitorConfig  `json:"inhibitor,omitempty"`
}

// ScheduleConfig names one periodic cadence: the systemd timer that reports
// its next elapse time, and the task group (unit) the runner activates.
type ScheduleConfig struct {
	Name      string `json:"name"`
	TimerUnit string `json:"timer_unit"`
	TaskGroup string `json:"task_group"`

	// FallbackCron computes a next elapse when the timer unit cannot be
	// queried (e.g. systemd unreachable over D-Bus). Standard 5-field cron.
	FallbackCron string `json:"fallback_cron,omitempty"`
}

// RunnerConfig holds the trigger/restore classification thresholds.
//
// All durations are Go duration strings (e.g. "90s", "15m").
//
// Defaults (when fields are omitted/zero):
//   - resume_tolerance: "90s"
//   - fresh_boot_window: "3m"
//   - already_up_after: "15m"
type RunnerConfig struct {
	// ResumeTolerance: a wake counts as "for this schedule" when the runner
	// started within this window of the recorded resume timestamp.
	ResumeTolerance string `json:"resume_tolerance,omitempty"`

	// FreshBootWindow: with no resume record, a boot younger than this is
	// assumed to exist purely to run the schedule.
	FreshBootWindow string `json:"fresh_boot_window,omitempty"`

	// AlreadyUpAfter: past this much uptime the machine is considered in
	// ordinary use and is left running.
	AlreadyUpAfter string `json:"already_up_after,omitempty"`
}

const (
	DefaultResumeTolerance = 90 * time.Second
	DefaultFreshBootWindow = 3 * time.Minute
	DefaultAlreadyUpAfter  = 15 * time.Minute
)

type StateStoreConfig struct {
	Driver      string `json:"driver,omitempty"` // file | sqlite | none
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

const DefaultStatePath = "/var/lib/night-kitchen/resume-state.json"

type RTCConfig struct {
	Device string `json:"device,omitempty"` // default /dev/rtc0
}

type DBusConfig struct {
	// CallTimeout bounds every individual power transport call.
	// A timeout is treated identically to an explicit failure.
	CallTimeout string `json:"call_timeout,omitempty"` // default "5s"
}

const DefaultCallTimeout = 5 * time.Second

type LoggingConfig struct {
	Level   string           `json:"level,omitempty"`
	Console bool             `json:"console"`
	File    LogFileConfig    `json:"file,omitempty"`
	Journal JournalLogConfig `json:"journal,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type JournalLogConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type InhibitorConfig struct {
	Who string `json:"who,omitempty"`
	Why string `json:"why,omitempty"`
}

const (
	DefaultInhibitorWho = "night-kitchen-scheduler"
	DefaultInhibitorWhy = "scheduling next system wakeup"
)

// ---- Derived accessors ----

func (c *Config) ResumeTolerance() (time.Duration, error) {
	return ParseDurationOrDefault("runner.resume_tolerance", c.Runner.ResumeTolerance, DefaultResumeTolerance)
}

func (c *Config) FreshBootWindow() (time.Duration, error) {
	return ParseDurationOrDefault("runner.fresh_boot_window", c.Runner.FreshBootWindow, DefaultFreshBootWindow)
}

func (c *Config) AlreadyUpAfter() (time.Duration, error) {
	return ParseDurationOrDefault("runner.already_up_after", c.Runner.AlreadyUpAfter, DefaultAlreadyUpAfter)
}

func (c *Config) CallTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("dbus.call_timeout", c.DBus.CallTimeout, DefaultCallTimeout)
}

func (c *Config) InhibitorWho() string {
	if who := strings.TrimSpace(c.Inhibitor.Who); who != "" {
		return who
	}
	return DefaultInhibitorWho
}

func (c *Config) InhibitorWhy() string {
	if why := strings.TrimSpace(c.Inhibitor.Why); why != "" {
		return why
	}
	return DefaultInhibitorWhy
}

// StoreConfig maps the config block to the resumestate driver config.
func (c *Config) StoreConfig() (resumestate.Config, error) {
	driver := strings.TrimSpace(c.StateStore.Driver)
	if driver == "" {
		driver = "file"
	}
	path := strings.TrimSpace(c.StateStore.Path)
	if path == "" {
		path = DefaultStatePath
	}
	busy, err := ParseDurationField("state_store.busy_timeout", c.StateStore.BusyTimeout)
	if err != nil {
		return resumestate.Config{}, err
	}
	return resumestate.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

// LogxConfig maps the logging block to pkg/logx.
func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
		Journal: logx.JournalConfig{
			Enabled:    c.Logging.Journal.Enabled,
			MinLevel:   c.Logging.Journal.MinLevel,
			RatePerSec: c.Logging.Journal.RatePerSec,
		},
	}
}

// Schedule returns the schedule with the given name.
func (c *Config) Schedule(name string) (ScheduleConfig, bool) {
	for _, s := range c.Schedules {
		if s.Name == name {
			return s, true
		}
	}
	return ScheduleConfig{}, false
}

// Validate checks the whole config. It is also installed as the manager's
// validator so a broken edit never replaces a working config at runtime.
func (c *Config) Validate() error {
	if len(c.Schedules) == 0 {
		return fmt.Errorf("schedules: at least one schedule is required")
	}
	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("schedules[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("schedules[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if strings.TrimSpace(s.TimerUnit) == "" {
			return fmt.Errorf("schedules[%d] (%s): timer_unit is required", i, name)
		}
		if strings.TrimSpace(s.TaskGroup) == "" {
			return fmt.Errorf("schedules[%d] (%s): task_group is required", i, name)
		}
		if expr := strings.TrimSpace(s.FallbackCron); expr != "" {
			if _, err := cron.ParseStandard(expr); err != nil {
				return fmt.Errorf("schedules[%d] (%s): invalid fallback_cron %q: %w", i, name, expr, err)
			}
		}
	}

	for _, check := range []func() (time.Duration, error){
		c.ResumeTolerance, c.FreshBootWindow, c.AlreadyUpAfter, c.CallTimeout,
	} {
		if _, err := check(); err != nil {
			return err
		}
	}
	if _, err := c.StoreConfig(); err != nil {
		return err
	}
	return nil
}
