package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"ticksched/internal/scheduler"
	logx "ticksched/pkg/logx"
)

const (
	ActionLog   = "log"
	ActionCount = "count"
)

// SnapshotParser parses storage.snapshot_schedule. Seconds are optional.
var SnapshotParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var storageDrivers = map[string]bool{
	"":         true,
	"none":     true,
	"file":     true,
	"sqlite":   true,
	"sqlite3":  true,
	"postgres": true,
	"mysql":    true,
}

// Validate checks the whole config and reports every problem it finds.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if _, err := cfg.Scheduler.PeriodDuration(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Scheduler.Capacity < 0 {
		errs = append(errs, errors.New("scheduler.capacity: must be >= 0"))
	} else if cfg.Scheduler.Capacity > 0 && len(cfg.Tasks) > cfg.Scheduler.Capacity {
		errs = append(errs, fmt.Errorf("tasks: %d tasks exceed scheduler.capacity %d", len(cfg.Tasks), cfg.Scheduler.Capacity))
	}
	if cfg.Scheduler.OverrunLogPerSec < 0 {
		errs = append(errs, errors.New("scheduler.overrun_log_per_sec: must be >= 0"))
	}
	if cfg.Scheduler.FireLogPerSec < 0 {
		errs = append(errs, errors.New("scheduler.fire_log_per_sec: must be >= 0"))
	}

	seen := make(map[string]int, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		if err := validateTask(i, t); err != nil {
			errs = append(errs, err)
		}
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		if j, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("tasks[%d]: duplicate name %q (first at tasks[%d])", i, name, j))
			continue
		}
		seen[name] = i
	}

	if cfg.Storage != nil {
		errs = append(errs, validateStorage(cfg.Storage)...)
	}
	return errors.Join(errs...)
}

func validateTask(i int, t TaskConfig) error {
	var errs []error
	path := fmt.Sprintf("tasks[%d]", i)
	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, fmt.Errorf("%s.name: required", path))
	}
	if _, err := scheduler.ParseKind(t.Kind); err != nil {
		errs = append(errs, fmt.Errorf("%s.kind: %w", path, err))
	}
	if strings.TrimSpace(t.Timeout) == "" {
		errs = append(errs, fmt.Errorf("%s.timeout: required", path))
	} else if _, err := ParseDurationField(path+".timeout", t.Timeout); err != nil {
		errs = append(errs, err)
	}
	switch NormalizeAction(t.Action) {
	case ActionLog, ActionCount:
	default:
		errs = append(errs, fmt.Errorf("%s.action: unknown action %q (use log or count)", path, t.Action))
	}
	return errors.Join(errs...)
}

func validateStorage(s *StorageConfig) []error {
	var errs []error
	driver := NormalizeDriver(s.Driver)
	if !storageDrivers[driver] {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
	}
	switch driver {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(s.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path: required for driver %q", driver))
		}
	case "postgres", "mysql":
		if strings.TrimSpace(s.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage.dsn: required for driver %q", driver))
		}
	}
	if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if spec := strings.TrimSpace(s.SnapshotSchedule); spec != "" {
		if _, err := SnapshotParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("storage.snapshot_schedule: %w", err))
		}
	}
	return errs
}

// NormalizeAction lowercases the action and applies the default.
func NormalizeAction(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ActionLog
	}
	return s
}

func NormalizeDriver(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
