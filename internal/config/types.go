package config

import (
	"time"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Tasks is the task table. Order is registration order, which is also
	// the order tasks fire in when they come due on the same tick.
	Tasks []TaskConfig `json:"tasks"`

	// Storage is optional. Nil means fires and snapshots are not persisted.
	Storage *StorageConfig `json:"storage,omitempty"`

	Systemd SystemdConfig `json:"systemd,omitempty"`
}

// LoggingConfig: console prints readable lines, json prints JSON lines
// (journald). Both go to stdout. No sink at all means console.
type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	JSON    bool          `json:"json,omitempty"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the tick source and the scheduler core.
//
// Defaults (when fields are omitted/zero):
//   - period: "1ms"
//   - capacity: 0 (registry grows on demand)
//   - overrun_log_per_sec: 1
//   - fire_log_per_sec: 0 (unthrottled, trace level)
type SchedulerConfig struct {
	// Period is a Go duration string. Changing it requires a restart.
	Period           string  `json:"period"`
	Capacity         int     `json:"capacity,omitempty"`
	OverrunLogPerSec float64 `json:"overrun_log_per_sec,omitempty"`
	FireLogPerSec    float64 `json:"fire_log_per_sec,omitempty"`
}

// TaskConfig declares one task.
//
// Timeout is a Go duration string. Action is "log" (default) or "count".
// Autostart is a pointer so an omitted field defaults to true.
type TaskConfig struct {
	Name      string `json:"name"`
	Kind      string `json:"kind,omitempty"`
	Timeout   string `json:"timeout"`
	Action    string `json:"action,omitempty"`
	Message   string `json:"message,omitempty"`
	Autostart *bool  `json:"autostart,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Driver is one of "file", "sqlite", "postgres" or "mysql".
// Path is used by file/sqlite, DSN by postgres/mysql.
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	DSN    string `json:"dsn,omitempty"`

	// BusyTimeout applies to sqlite only (Go duration string).
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// SnapshotSchedule is a cron spec (seconds field optional, descriptors
	// like "@every 30s" accepted). Empty disables periodic snapshots.
	SnapshotSchedule string `json:"snapshot_schedule,omitempty"`
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING/WATCHDOG over $NOTIFY_SOCKET when present.
	Notify bool `json:"notify"`
}

const (
	DefaultPeriod           = time.Millisecond
	DefaultOverrunLogPerSec = 1.0

	DemoTaskName    = "demo"
	DemoTaskMessage = "demo task callback message every second"
)

// AutostartEnabled reports the effective autostart flag.
func (t TaskConfig) AutostartEnabled() bool {
	return t.Autostart == nil || *t.Autostart
}

// PeriodDuration returns the configured tick period or DefaultPeriod.
func (s SchedulerConfig) PeriodDuration() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.period", s.Period, DefaultPeriod)
}

// OverrunRate returns the overrun warning rate, defaulting when unset.
func (s SchedulerConfig) OverrunRate() float64 {
	if s.OverrunLogPerSec <= 0 {
		return DefaultOverrunLogPerSec
	}
	return s.OverrunLogPerSec
}

// Default is the built-in configuration used when no file is given:
// a 1ms tick and one periodic task logging a message every second.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{
			Period: DefaultPeriod.String(),
		},
		Tasks: []TaskConfig{{
			Name:    DemoTaskName,
			Kind:    "periodic",
			Timeout: "1s",
			Action:  "log",
			Message: DemoTaskMessage,
		}},
	}
}
