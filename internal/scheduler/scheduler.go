package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ticksched/internal/registry"
	logx "ticksched/pkg/logx"
)

// Config controls a Scheduler instance.
type Config struct {
	// Capacity bounds the number of registered tasks (0 = grow on demand).
	Capacity int

	// Guard is held around Dispatch and every control operation.
	// nil means the caller keeps both on one goroutine.
	Guard sync.Locker

	// FireLogPerSec throttles the per-fire trace line (0 = unthrottled).
	FireLogPerSec float64

	// OnFire is called inside Dispatch after each firing, with the guard held.
	// Same rules as task callbacks: short, non-blocking, no control calls.
	OnFire func(Fire)
}

// Fire describes one callback invocation.
type Fire struct {
	Task    *Task
	ID      uuid.UUID
	Name    string
	Kind    Kind
	Tick    uint64
	Elapsed time.Duration // accumulator value that triggered the fire
	Status  Status        // status after the automatic transition
	Fires   uint64
}

type noopGuard struct{}

func (noopGuard) Lock()   {}
func (noopGuard) Unlock() {}

type Scheduler struct {
	cfg   Config
	log   logx.Logger
	fired *logx.Limiter
	guard sync.Locker

	period atomic.Int64              // time.Duration
	tasks  *registry.Registry[*Task] // nil until Init and after Deinit
	ticks  atomic.Uint64

	dispatching bool
}

func New(cfg Config, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	guard := cfg.Guard
	if guard == nil {
		guard = noopGuard{}
	}
	return &Scheduler{
		cfg:   cfg,
		log:   log,
		fired: logx.NewLimiter(log, cfg.FireLogPerSec, 10),
		guard: guard,
	}
}

// Guarded reports whether the scheduler was built with a real Guard.
func (s *Scheduler) Guarded() bool { return s.cfg.Guard != nil }

// Init allocates the task registry and stores the tick period.
func (s *Scheduler) Init(period time.Duration) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if s.dispatching {
		return ErrReentrant
	}
	if s.tasks != nil {
		s.log.Warn("scheduler already initialized", logx.Duration("period", s.Period()))
		return ErrAlreadyInitialized
	}
	if period < 0 {
		s.log.Warn("invalid tick period", logx.Duration("period", period))
		return ErrInvalidPeriod
	}
	tasks, err := registry.New[*Task](s.cfg.Capacity, registry.WithLogger(s.log.With(logx.String("comp", "registry"))))
	if err != nil {
		s.log.Error("task registry could not be allocated", logx.Int("capacity", s.cfg.Capacity), logx.Err(err))
		return mapRegistryErr(err)
	}
	s.tasks = tasks
	s.period.Store(int64(period))
	s.ticks.Store(0)
	s.log.Debug("scheduler initialized", logx.Duration("period", period), logx.Int("capacity", s.cfg.Capacity))
	return nil
}

// Deinit releases the registry. Registered tasks are left as they are.
func (s *Scheduler) Deinit() error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if s.dispatching {
		return ErrReentrant
	}
	if s.tasks == nil {
		s.log.Warn("scheduler has not been initialized")
		return ErrNotInitialized
	}
	n := s.tasks.Len()
	if err := s.tasks.Destroy(); err != nil {
		return mapRegistryErr(err)
	}
	s.tasks = nil
	s.log.Debug("scheduler deinitialized", logx.Int("released", n), logx.Uint64("ticks", s.ticks.Load()))
	return nil
}

// Dispatch advances every started task by one period and fires the due ones.
// Call it once per tick.
func (s *Scheduler) Dispatch() error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if s.dispatching {
		return ErrReentrant
	}
	if s.tasks == nil {
		s.log.Warn("dispatch on uninitialized scheduler")
		return ErrNotInitialized
	}
	s.dispatching = true
	defer func() { s.dispatching = false }()

	tick := s.ticks.Add(1)
	period := s.Period()
	for t := range s.tasks.All() {
		if t.loadStatus() != Started {
			continue
		}
		elapsed := addSaturating(t.elapsed(), period)
		t.setElapsed(elapsed)
		if elapsed < t.Timeout {
			continue
		}

		t.Callback.Run(t.Arg)
		fires := t.fires.Add(1)

		if t.Kind == Periodic {
			t.setElapsed(0)
		} else {
			t.storeStatus(Stopped)
		}
		status := t.loadStatus()

		s.fired.Trace("task fired",
			logx.String("task", t.Name),
			logx.String("kind", t.Kind.String()),
			logx.Uint64("tick", tick),
			logx.Duration("elapsed", elapsed),
			logx.String("status", status.String()),
		)
		if s.cfg.OnFire != nil {
			s.cfg.OnFire(Fire{
				Task:    t,
				ID:      t.id,
				Name:    t.Name,
				Kind:    t.Kind,
				Tick:    tick,
				Elapsed: elapsed,
				Status:  status,
				Fires:   fires,
			})
		}
	}
	return nil
}

// MonitoringLoop is Dispatch under its historical name.
func (s *Scheduler) MonitoringLoop() error { return s.Dispatch() }

// Register links t as Stopped with a zero accumulator.
func (s *Scheduler) Register(t *Task) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.precheckLocked(t, "register"); err != nil {
		return err
	}
	if f, ok := t.Callback.(RunnableFunc); t.Callback == nil || (ok && f == nil) {
		s.log.Warn("task has no callback", logx.String("task", t.Name))
		return ErrNullParam
	}
	if err := s.tasks.Add(t); err != nil {
		err = mapRegistryErr(err)
		s.log.Warn("task register failed", logx.String("task", t.Name), logx.Err(err))
		return err
	}
	t.storeStatus(Stopped)
	t.setElapsed(0)
	s.log.Debug("task registered",
		logx.String("task", t.Name),
		logx.String("kind", t.Kind.String()),
		logx.Duration("timeout", t.Timeout),
	)
	return nil
}

// Unregister unlinks t. The task itself, including its last status, is untouched.
func (s *Scheduler) Unregister(t *Task) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.precheckLocked(t, "unregister"); err != nil {
		return err
	}
	if err := s.tasks.Remove(t); err != nil {
		err = mapRegistryErr(err)
		s.log.Warn("task unregister failed", logx.String("task", t.Name), logx.Err(err))
		return err
	}
	s.log.Debug("task unregistered", logx.String("task", t.Name))
	return nil
}

// Start moves a stopped task to Started. The accumulator is kept.
func (s *Scheduler) Start(t *Task) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.lookupLocked(t, "start"); err != nil {
		return err
	}
	if t.loadStatus() == Started {
		s.log.Warn("task already started", logx.String("task", t.Name))
		return ErrAlreadyStarted
	}
	t.storeStatus(Started)
	s.log.Debug("task started", logx.String("task", t.Name))
	return nil
}

// Stop moves a started task to Stopped. The accumulator is kept.
func (s *Scheduler) Stop(t *Task) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.lookupLocked(t, "stop"); err != nil {
		return err
	}
	if t.loadStatus() == Stopped {
		s.log.Warn("task already stopped", logx.String("task", t.Name))
		return ErrAlreadyStopped
	}
	t.storeStatus(Stopped)
	s.log.Debug("task stopped", logx.String("task", t.Name))
	return nil
}

// Reinit stops t and clears its accumulator.
func (s *Scheduler) Reinit(t *Task) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.lookupLocked(t, "reinit"); err != nil {
		return err
	}
	t.storeStatus(Stopped)
	t.setElapsed(0)
	s.log.Debug("task reinitialized", logx.String("task", t.Name))
	return nil
}

// Restart starts t with a cleared accumulator.
func (s *Scheduler) Restart(t *Task) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.lookupLocked(t, "restart"); err != nil {
		return err
	}
	t.storeStatus(Started)
	t.setElapsed(0)
	s.log.Debug("task restarted", logx.String("task", t.Name))
	return nil
}

// Status returns the status stored on t, or Unknown for nil. It does not take
// the guard and is safe to call from callbacks and OnFire.
//
// Membership is not checked: an unregistered task reports whatever status it
// had when it left the registry.
func (s *Scheduler) Status(t *Task) Status {
	if t == nil {
		s.log.Debug("status of nil task")
		return Unknown
	}
	return t.loadStatus()
}

// Registered reports whether t is currently linked. Takes the guard.
func (s *Scheduler) Registered(t *Task) bool {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.tasks != nil && s.tasks.Contains(t)
}

// Elapsed returns t's accumulator. Lock-free.
func (s *Scheduler) Elapsed(t *Task) time.Duration {
	if t == nil {
		return 0
	}
	return t.elapsed()
}

// Fires returns how many times t has fired. Lock-free.
func (s *Scheduler) Fires(t *Task) uint64 {
	if t == nil {
		return 0
	}
	return t.fires.Load()
}

func (s *Scheduler) Initialized() bool {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.tasks != nil
}

func (s *Scheduler) Period() time.Duration { return time.Duration(s.period.Load()) }

// Ticks returns the number of Dispatch calls since Init. Lock-free.
func (s *Scheduler) Ticks() uint64 { return s.ticks.Load() }

// Tasks returns the registered tasks in dispatch order. Takes the guard.
func (s *Scheduler) Tasks() []*Task {
	s.guard.Lock()
	defer s.guard.Unlock()
	if s.tasks == nil {
		return nil
	}
	return s.tasks.Values()
}

// precheckLocked validates the common preconditions. Call with the guard held.
func (s *Scheduler) precheckLocked(t *Task, op string) error {
	if s.dispatching {
		s.log.Error("control call from inside dispatch", logx.String("op", op))
		return ErrReentrant
	}
	if t == nil {
		s.log.Warn("null task", logx.String("op", op))
		return ErrNullParam
	}
	if s.tasks == nil {
		s.log.Warn("scheduler has not been initialized", logx.String("op", op), logx.String("task", t.Name))
		return ErrNotInitialized
	}
	return nil
}

// lookupLocked is precheckLocked plus a membership check.
func (s *Scheduler) lookupLocked(t *Task, op string) error {
	if err := s.precheckLocked(t, op); err != nil {
		return err
	}
	if !s.tasks.Contains(t) {
		s.log.Warn("task has not been registered", logx.String("op", op), logx.String("task", t.Name))
		return errNotRegistered
	}
	return nil
}
