package config

import (
	"sort"
	"strings"

	logx "ticksched/pkg/logx"
)

// TaskDiff lists task names by how they changed between two configs.
type TaskDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d TaskDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffTasks compares task tables by name.
func DiffTasks(oldTasks, newTasks []TaskConfig) TaskDiff {
	oldM := indexTasks(oldTasks)
	newM := indexTasks(newTasks)

	var d TaskDiff
	for name, n := range newM {
		o, ok := oldM[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case !sameTask(o, n):
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

func indexTasks(ts []TaskConfig) map[string]TaskConfig {
	m := make(map[string]TaskConfig, len(ts))
	for _, t := range ts {
		m[strings.TrimSpace(t.Name)] = t
	}
	return m
}

func sameTask(a, b TaskConfig) bool {
	return strings.EqualFold(strings.TrimSpace(a.Kind), strings.TrimSpace(b.Kind)) &&
		strings.TrimSpace(a.Timeout) == strings.TrimSpace(b.Timeout) &&
		NormalizeAction(a.Action) == NormalizeAction(b.Action) &&
		a.Message == b.Message &&
		a.AutostartEnabled() == b.AutostartEnabled()
}

// SummarizeConfigChange returns the changed sections and log-safe attrs.
// DSNs are never logged.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, TaskDiff) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.period", strings.TrimSpace(newCfg.Scheduler.Period)),
			logx.Int("scheduler.capacity", newCfg.Scheduler.Capacity),
			logx.Bool("scheduler.period_changed", strings.TrimSpace(oldCfg.Scheduler.Period) != strings.TrimSpace(newCfg.Scheduler.Period)),
		)
	}

	td := DiffTasks(oldCfg.Tasks, newCfg.Tasks)
	if !td.Empty() {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.added", len(td.Added)),
			logx.Int("tasks.removed", len(td.Removed)),
			logx.Int("tasks.changed", len(td.Changed)),
			logx.Int("tasks.total", len(newCfg.Tasks)),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", NormalizeDriver(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nS.DSN) != ""),
			logx.String("storage.snapshot_schedule", strings.TrimSpace(nS.SnapshotSchedule)),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	sort.Strings(changed)
	return changed, attrs, td
}
