package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"ticksched/internal/actions"
	"ticksched/internal/config"
	"ticksched/internal/eventbus"
	"ticksched/internal/runtime/supervisor"
	"ticksched/internal/scheduler"
	"ticksched/internal/storage"
	"ticksched/internal/tick"
	logx "ticksched/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log       logx.Logger
	logs      *logx.Service
	bus       eventbus.Bus
	store     storage.Store
	storeErrs *logx.Limiter

	sched    *scheduler.Scheduler
	src      *tick.Source
	builder  actions.Builder
	counters *actions.Counters
	cron     *cron.Cron

	sd           Notifier
	notifyOn     bool
	snapshotSpec string

	mu    sync.Mutex
	tasks map[string]*managedTask
	order []string

	stopOnce sync.Once
	final    atomic.Pointer[RunStats]
}

type Option func(*App)

// WithNotifier replaces the sd_notify client.
func WithNotifier(n Notifier) Option {
	return func(a *App) {
		if n != nil {
			a.sd = n
		}
	}
}

// NewApp loads the config at cfgPath (empty = built-in demo config), opens
// storage, initializes the scheduler and registers the task table.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log, logErr := logx.New(logConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))
	if logErr != nil {
		log.Warn("log file sink disabled", logx.Err(logErr))
	}

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       eventbus.New(),
		counters:  actions.NewCounters(),
		sd:        sdNotifier{},
		notifyOn:  cfg.Systemd.Notify,
		tasks:     map[string]*managedTask{},
		storeErrs: logx.NewLimiter(log.With(logx.String("comp", "storage")), 1, 5),
		cron:      cron.New(cron.WithParser(config.SnapshotParser), cron.WithLogger(cronLogger{log: log.With(logx.String("comp", "cron"))})),
		builder:   actions.Builder{Log: log.With(logx.String("comp", "task"))},
	}
	a.builder.Counters = a.counters
	for _, o := range opts {
		o(a)
	}
	if !a.notifyOn {
		a.sd = nopNotifier{}
	}

	fail := func(err error) (*App, error) {
		if a.sched != nil && a.sched.Initialized() {
			_ = a.sched.Deinit()
		}
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return fail(fmt.Errorf("storage: %w", err))
		}
		a.store = st
		a.snapshotSpec = strings.TrimSpace(cfg.Storage.SnapshotSchedule)
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	period, err := cfg.Scheduler.PeriodDuration()
	if err != nil {
		return fail(err)
	}
	a.sched = scheduler.New(scheduler.Config{
		Capacity:      cfg.Scheduler.Capacity,
		Guard:         &sync.Mutex{},
		FireLogPerSec: cfg.Scheduler.FireLogPerSec,
		OnFire:        a.onFire,
	}, log.With(logx.String("comp", "scheduler")))
	if err := a.sched.Init(period); err != nil {
		return fail(err)
	}
	a.src, err = tick.New(a.sched, tick.Config{OverrunLogPerSec: cfg.Scheduler.OverrunRate()}, log.With(logx.String("comp", "tick")))
	if err != nil {
		return fail(err)
	}

	if err := a.applyTasks(cfg.Tasks); err != nil {
		return fail(err)
	}
	log.Info("scheduler ready",
		logx.Duration("period", period),
		logx.Int("tasks", len(cfg.Tasks)),
		logx.String("config", cfgPathLabel(cfgPath)),
	)
	return a, nil
}

func cfgPathLabel(p string) string {
	if strings.TrimSpace(p) == "" {
		return "<built-in>"
	}
	return p
}

func logConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		JSON:    c.JSON,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Counters() *actions.Counters { return a.counters }

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)

	events, unsub := a.bus.Subscribe(1024)
	a.sup.Go("events.record", func(c context.Context) error {
		defer unsub()
		return a.recordEvents(c, events)
	})

	a.sup.Go("tick", func(c context.Context) error {
		err := a.src.Run(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.RestartPolicy{})

	if err := a.startSnapshots(a.sup.Context(), a.snapshotSpec); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("storage.snapshot_schedule: %w", err)
	}

	if a.notifyOn {
		a.notify(daemon.SdNotifyReady + "\nSTATUS=ticking")
		a.sup.Go("systemd.watchdog", a.watchdog)
	}
	a.log.Info("app started")
	return nil
}

// validateReload rejects configs the running scheduler cannot take live.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if c := cfg.Scheduler.Capacity; c > 0 && len(cfg.Tasks) > c {
		return fmt.Errorf("tasks: %d tasks exceed scheduler.capacity %d", len(cfg.Tasks), c)
	}
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.ApplyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// ApplyConfig applies the live-reloadable parts of newCfg: logging and the
// task table. Scheduler, storage and systemd changes need a restart.
func (a *App) ApplyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, _ := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			if err := a.logs.Apply(logConfig(newCfg.Logging)); err != nil {
				a.log.Warn("log file sink disabled", logx.Err(err))
			}
		case "tasks":
			if err := a.applyTasks(newCfg.Tasks); err != nil {
				a.log.Warn("task table partially applied", logx.Err(err))
			}
		case "scheduler", "storage", "systemd":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Data: sections})
	a.log.Info("config reloaded", fields...)
}

// Stop shuts down in order: goroutines, final stats and snapshot, scheduler,
// storage.
// Each step is bounded so one component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.log.Info("stopping", logx.String("reason", string(reason)))
		if a.notifyOn {
			a.notify(daemon.SdNotifyStopping + "\nSTATUS=stopping: " + string(reason))
		}
		if a.sup != nil {
			a.sup.Cancel()
		}

		step := func(name string, max time.Duration, fn func(context.Context) error) {
			start := time.Now()
			stepCtx, cancel := context.WithTimeout(ctx, max)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- fmt.Errorf("panic in stop step %s: %v", name, r)
					}
				}()
				done <- fn(stepCtx)
			}()

			select {
			case err := <-done:
				if err != nil {
					a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
				}
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
			case <-stepCtx.Done():
				a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			}
		}

		step("cron", time.Second, func(c context.Context) error {
			select {
			case <-a.cron.Stop().Done():
				return nil
			case <-c.Done():
				return c.Err()
			}
		})
		if a.sup != nil {
			step("supervisor", 3*time.Second, func(c context.Context) error {
				err := a.sup.Stop(c)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
		final := a.collectStats()
		a.final.Store(&final)
		a.logFinalStats(final)

		if a.store != nil {
			step("snapshot", storeTimeout, a.SaveSnapshot)
		}
		step("scheduler", time.Second, func(context.Context) error {
			if !a.sched.Initialized() {
				return nil
			}
			return a.sched.Deinit()
		})
		if a.store != nil {
			step("storage", time.Second, func(context.Context) error { return a.store.Close() })
		}

		a.log.Info("stopped")
		_ = a.logs.Close()
	})
	return errors.Join(errs...)
}

// cronLogger routes robfig/cron's logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Trace(msg, kvFields(kv)...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn(msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Value(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
