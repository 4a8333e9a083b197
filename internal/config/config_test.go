package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  period: 2ms
  capacity: 4
tasks:
  - name: heartbeat
    kind: periodic
    timeout: 1s
    message: alive
  - name: warmup
    kind: oneshot
    timeout: 250ms
    action: count
    autostart: false
storage:
  driver: sqlite
  path: ./data/ticksched.db
  snapshot_schedule: "@every 30s"
systemd:
  notify: true
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("ticksched.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "debug", cfg.Logging.Level)
	period, err := cfg.Scheduler.PeriodDuration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Millisecond, period)
	require.Len(t, cfg.Tasks, 2)
	assert.True(t, cfg.Tasks[0].AutostartEnabled())
	assert.False(t, cfg.Tasks[1].AutostartEnabled())
	assert.Equal(t, ActionLog, NormalizeAction(cfg.Tasks[0].Action))
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.True(t, cfg.Systemd.Notify)
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown json field", file: "c.json", body: `{"tasks":[],"bogus":1}`},
		{name: "unknown yaml field", file: "c.yml", body: "scheduler:\n  perod: 1ms\n"},
		{name: "trailing json", file: "c.json", body: `{} {}`},
		{name: "bad yaml", file: "c.yaml", body: "tasks: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.file, []byte(tt.body))
			assert.Error(t, err)
		})
	}

	cfg, err := Decode("empty.yaml", nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Tasks)
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, Validate(cfg))
	require.Len(t, cfg.Tasks, 1)
	assert.Equal(t, DemoTaskMessage, cfg.Tasks[0].Message)
	d, err := cfg.Tasks[0].TimeoutDuration(0)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Logging:   LoggingConfig{Level: "loud"},
		Scheduler: SchedulerConfig{Period: "-1ms", Capacity: 1},
		Tasks: []TaskConfig{
			{Name: "a", Timeout: "1s"},
			{Name: "a", Timeout: "soon", Kind: "daily", Action: "email"},
			{Timeout: ""},
		},
		Storage: &StorageConfig{Driver: "postgres", SnapshotSchedule: "every now and then"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"logging.level",
		"scheduler.period",
		"exceed scheduler.capacity",
		"duplicate name \"a\"",
		"tasks[1].timeout",
		"tasks[1].kind",
		"tasks[1].action",
		"tasks[2].name: required",
		"tasks[2].timeout: required",
		"storage.dsn",
		"storage.snapshot_schedule",
	} {
		assert.Contains(t, msg, want)
	}
	assert.Error(t, Validate(nil))
}

func TestDiffTasks(t *testing.T) {
	t.Parallel()
	no := false
	oldTasks := []TaskConfig{
		{Name: "keep", Timeout: "1s"},
		{Name: "retime", Timeout: "1s"},
		{Name: "gone", Timeout: "1s"},
		{Name: "pause", Timeout: "1s"},
	}
	newTasks := []TaskConfig{
		{Name: "keep", Timeout: "1s", Action: "LOG"},
		{Name: "retime", Timeout: "2s"},
		{Name: "pause", Timeout: "1s", Autostart: &no},
		{Name: "fresh", Timeout: "1s"},
	}
	d := DiffTasks(oldTasks, newTasks)
	assert.Equal(t, []string{"fresh"}, d.Added)
	assert.Equal(t, []string{"gone"}, d.Removed)
	assert.Equal(t, []string{"pause", "retime"}, d.Changed)
	assert.True(t, DiffTasks(oldTasks, oldTasks).Empty())
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	newCfg := Default()
	newCfg.Logging.Level = "debug"
	newCfg.Tasks = append(newCfg.Tasks, TaskConfig{Name: "extra", Timeout: "5s"})
	newCfg.Storage = &StorageConfig{Driver: "postgres", DSN: "postgres://secret@db/ticks"}

	changed, attrs, td := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "storage", "tasks"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"extra"}, td.Added)

	changed, _, _ = SummarizeConfigChange(nil, nil)
	assert.Empty(t, changed)
}

func TestManagerLoadAndReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "ticksched.json", `{"tasks":[{"name":"a","timeout":"1s"}]}`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published, "unchanged content is not republished")

	writeFile(t, dir, "ticksched.json", `{"tasks":[{"name":"a","timeout":"2s"}]}`)
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, published)
	got := <-sub
	assert.Equal(t, "2s", got.Tasks[0].Timeout)

	writeFile(t, dir, "ticksched.json", `{"tasks":[{"name":"","timeout":"2s"}]}`)
	_, err = m.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, "2s", m.Get().Tasks[0].Timeout, "invalid config is not committed")
}

func TestManagerValidatorRejects(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "c.yaml", "tasks: []\n")
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	writeFile(t, dir, "c.yaml", "tasks: [{name: x, timeout: 1s}]\n")
	_, err = m.Reload(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, m.Get().Tasks)
}

func TestManagerWithoutPathUsesDefault(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, DemoTaskName, cfg.Tasks[0].Name)
	require.NoError(t, m.Watch(context.Background()))
}

func TestWatchPublishesFileChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "ticksched.yaml", "tasks: [{name: a, timeout: 1s}]\n")
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	var got *Config
	require.Eventually(t, func() bool {
		// Rewrite until the watcher is up and has seen a change.
		writeFile(t, dir, "ticksched.yaml", "tasks: [{name: a, timeout: 3s}]\n")
		select {
		case got = <-sub:
			return true
		default:
			return false
		}
	}, 10*time.Second, 2*reloadDebounce)
	assert.Equal(t, "3s", got.Tasks[0].Timeout)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	m.Unsubscribe(sub)
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	ch := m.Subscribe(1)

	first, second := Default(), Default()
	second.Scheduler.Period = "2ms"
	m.publish(first)
	m.publish(second)

	got := <-ch
	assert.Same(t, second, got)

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
	m.Unsubscribe(ch)
}

func TestDebouncerCoalesces(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	calls := 0
	d := &debouncer{delay: 20 * time.Millisecond, fn: func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}}
	for range 5 {
		d.trigger()
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	d.stop()
}
