package scheduler

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksched/internal/registry"
	logx "ticksched/pkg/logx"
)

const period = 1000 * time.Microsecond

type counter struct {
	mu   sync.Mutex
	n    int
	args []any
}

func (c *counter) Run(arg any) {
	c.mu.Lock()
	c.n++
	c.args = append(c.args, arg)
	c.mu.Unlock()
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(Config{}, logx.Nop())
	require.NoError(t, s.Init(period))
	return s
}

func dispatchN(t *testing.T, s *Scheduler, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Dispatch())
	}
}

func TestRegisterDedup(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	task := NewTask("dup", Periodic, 3*period, &counter{}, nil)

	require.NoError(t, s.Register(task))
	err := s.Register(task)
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	require.ErrorIs(t, err, registry.ErrAlreadyPresent)
	assert.Len(t, s.Tasks(), 1)
}

func TestGuardedTransitions(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	task := NewTask("t", Periodic, 3*period, &counter{}, nil)

	err := s.Start(task)
	require.ErrorIs(t, err, ErrUnregisteredTask)
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.ErrorIs(t, s.Stop(task), ErrUnregisteredTask)
	require.ErrorIs(t, s.Reinit(task), ErrUnregisteredTask)
	require.ErrorIs(t, s.Restart(task), ErrUnregisteredTask)
	require.ErrorIs(t, s.Unregister(task), ErrUnregisteredTask)

	require.NoError(t, s.Register(task))
	assert.Equal(t, Stopped, s.Status(task))
	require.ErrorIs(t, s.Stop(task), ErrAlreadyStopped)

	require.NoError(t, s.Start(task))
	assert.Equal(t, Started, s.Status(task))
	require.ErrorIs(t, s.Start(task), ErrAlreadyStarted)

	require.NoError(t, s.Stop(task))
	assert.Equal(t, Stopped, s.Status(task))
}

func TestNullParams(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	assert.ErrorIs(t, s.Register(nil), ErrNullParam)
	assert.ErrorIs(t, s.Unregister(nil), ErrNullParam)
	assert.ErrorIs(t, s.Start(nil), ErrNullParam)
	assert.ErrorIs(t, s.Stop(nil), ErrNullParam)
	assert.ErrorIs(t, s.Reinit(nil), ErrNullParam)
	assert.ErrorIs(t, s.Restart(nil), ErrNullParam)
	assert.Equal(t, Unknown, s.Status(nil))

	noCallback := &Task{Name: "empty", Timeout: period}
	assert.ErrorIs(t, s.Register(noCallback), ErrNullParam)

	nilFunc := NewTask("nil-func", Periodic, period, RunnableFunc(nil), nil)
	assert.ErrorIs(t, s.Register(nilFunc), ErrNullParam)
	assert.False(t, s.Registered(nilFunc))
	require.NoError(t, s.Dispatch())
}

func TestPeriodicFiring(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	c := &counter{}
	task := NewTask("periodic", Periodic, 3000*time.Microsecond, c, "payload")
	require.NoError(t, s.Register(task))
	require.NoError(t, s.Start(task))

	dispatchN(t, s, 2)
	assert.Equal(t, 0, c.count())
	assert.Equal(t, 2*period, s.Elapsed(task))

	dispatchN(t, s, 1)
	assert.Equal(t, 1, c.count())
	assert.Zero(t, s.Elapsed(task))
	assert.Equal(t, Started, s.Status(task))

	dispatchN(t, s, 3)
	assert.Equal(t, 2, c.count())
	assert.Equal(t, []any{"payload", "payload"}, c.args)
	assert.EqualValues(t, 2, s.Fires(task))
}

func TestOneShotFiring(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	c := &counter{}
	task := NewTask("once", OneShot, 1000*time.Microsecond, c, nil)
	require.NoError(t, s.Register(task))
	require.NoError(t, s.Start(task))

	dispatchN(t, s, 1)
	assert.Equal(t, 1, c.count())
	assert.Equal(t, Stopped, s.Status(task))

	dispatchN(t, s, 5)
	assert.Equal(t, 1, c.count())
	assert.True(t, s.Registered(task), "one-shot stays registered after firing")

	// A restart arms it again.
	require.NoError(t, s.Restart(task))
	dispatchN(t, s, 1)
	assert.Equal(t, 2, c.count())
}

func TestTicksUntilFirstFire(t *testing.T) {
	t.Parallel()
	tests := []struct {
		timeout time.Duration
		ticks   int
	}{
		{timeout: 0, ticks: 1},
		{timeout: 1, ticks: 1},
		{timeout: 1000 * time.Microsecond, ticks: 1},
		{timeout: 1001 * time.Microsecond, ticks: 2},
		{timeout: 2500 * time.Microsecond, ticks: 3},
		{timeout: 2999 * time.Microsecond, ticks: 3},
		{timeout: 3000 * time.Microsecond, ticks: 3},
		{timeout: 10500 * time.Microsecond, ticks: 11},
	}
	for _, tt := range tests {
		t.Run(tt.timeout.String(), func(t *testing.T) {
			t.Parallel()
			s := newScheduler(t)
			c := &counter{}
			task := NewTask("q", OneShot, tt.timeout, c, nil)
			require.NoError(t, s.Register(task))
			require.NoError(t, s.Start(task))

			dispatchN(t, s, tt.ticks-1)
			require.Equal(t, 0, c.count(), "fired early")
			dispatchN(t, s, 1)
			require.Equal(t, 1, c.count())
		})
	}
}

func TestExampleScenario(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	c := &counter{}
	task := NewTask("T", Periodic, 2500*time.Microsecond, c, nil)
	require.NoError(t, s.Register(task))
	require.NoError(t, s.Start(task))

	var seen []time.Duration
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Dispatch())
		seen = append(seen, s.Elapsed(task))
		if i < 2 {
			assert.Equal(t, 0, c.count())
		}
	}
	assert.Equal(t, 1, c.count())
	assert.Equal(t, []time.Duration{1000 * time.Microsecond, 2000 * time.Microsecond, 0}, seen)

	require.NoError(t, s.MonitoringLoop())
	assert.Equal(t, 1000*time.Microsecond, s.Elapsed(task))
	assert.EqualValues(t, 4, s.Ticks())
}

func TestAccumulatorSaturatesNearMaxTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	require.NoError(t, s.Init(1<<62))
	c := &counter{}
	task := NewTask("far", OneShot, math.MaxInt64, c, nil)
	require.NoError(t, s.Register(task))
	require.NoError(t, s.Start(task))

	require.NoError(t, s.Dispatch())
	assert.Equal(t, time.Duration(1<<62), s.Elapsed(task))
	assert.Equal(t, 0, c.count())

	require.NoError(t, s.Dispatch())
	assert.Equal(t, 1, c.count())
	assert.Equal(t, Stopped, s.Status(task))
	assert.Equal(t, time.Duration(math.MaxInt64), s.Elapsed(task))

	dispatchN(t, s, 8)
	assert.Equal(t, 1, c.count())
}

func TestSameTickFiresInRegistrationOrder(t *testing.T) {
	t.Parallel()
	var order []string
	rec := func(name string) Runnable {
		return RunnableFunc(func(any) { order = append(order, name) })
	}
	s := newScheduler(t)
	a := NewTask("a", Periodic, 2*period, rec("a"), nil)
	b := NewTask("b", OneShot, 2*period, rec("b"), nil)
	c := NewTask("c", Periodic, 2*period, rec("c"), nil)
	for _, task := range []*Task{a, b, c} {
		require.NoError(t, s.Register(task))
		require.NoError(t, s.Start(task))
	}
	dispatchN(t, s, 2)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestStoppedTaskDoesNotAccumulate(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	c := &counter{}
	task := NewTask("paused", Periodic, 3*period, c, nil)
	require.NoError(t, s.Register(task))
	require.NoError(t, s.Start(task))
	dispatchN(t, s, 2)

	require.NoError(t, s.Stop(task))
	dispatchN(t, s, 10)
	assert.Equal(t, 2*period, s.Elapsed(task))
	assert.Equal(t, 0, c.count())

	// Start resumes from the kept accumulator.
	require.NoError(t, s.Start(task))
	dispatchN(t, s, 1)
	assert.Equal(t, 1, c.count())
}

func TestReinitAndRestartClearAccumulator(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	task := NewTask("r", Periodic, 5*period, &counter{}, nil)
	require.NoError(t, s.Register(task))
	require.NoError(t, s.Start(task))
	dispatchN(t, s, 3)

	require.NoError(t, s.Reinit(task))
	assert.Equal(t, Stopped, s.Status(task))
	assert.Zero(t, s.Elapsed(task))

	require.NoError(t, s.Restart(task))
	assert.Equal(t, Started, s.Status(task))
	dispatchN(t, s, 2)
	require.NoError(t, s.Restart(task), "restart works from Started too")
	assert.Zero(t, s.Elapsed(task))
}

func TestUnregisterIndependence(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	c := &counter{}
	arg := &struct{ v int }{v: 7}
	task := NewTask("u", Periodic, 3*period, c, arg)
	require.NoError(t, s.Register(task))
	require.NoError(t, s.Start(task))
	dispatchN(t, s, 2)

	require.NoError(t, s.Unregister(task))
	assert.Same(t, arg, task.Arg)
	assert.Equal(t, Runnable(c), task.Callback)
	assert.Equal(t, Periodic, task.Kind)
	assert.Equal(t, 3*period, task.Timeout)
	assert.False(t, s.Registered(task))

	// Status keeps the last stored value after leaving the registry.
	assert.Equal(t, Started, s.Status(task))

	dispatchN(t, s, 5)
	assert.Equal(t, 0, c.count(), "unregistered tasks never fire")

	require.NoError(t, s.Register(task))
	assert.Equal(t, Stopped, s.Status(task))
	assert.Zero(t, s.Elapsed(task))
}

func TestTeardownSafety(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	task := NewTask("x", Periodic, period, &counter{}, nil)

	require.ErrorIs(t, s.Dispatch(), ErrNotInitialized)
	require.ErrorIs(t, s.Deinit(), ErrNotInitialized)
	require.ErrorIs(t, s.Register(task), ErrNotInitialized)

	require.NoError(t, s.Init(period))
	require.ErrorIs(t, s.Init(period), ErrAlreadyInitialized)
	require.NoError(t, s.Register(task))
	require.NoError(t, s.Start(task))
	require.NoError(t, s.Deinit())

	for name, op := range map[string]func(*Task) error{
		"register":   s.Register,
		"unregister": s.Unregister,
		"start":      s.Start,
		"stop":       s.Stop,
		"reinit":     s.Reinit,
		"restart":    s.Restart,
	} {
		assert.ErrorIs(t, op(task), ErrNotInitialized, name)
	}
	assert.ErrorIs(t, s.Dispatch(), ErrNotInitialized)
	assert.ErrorIs(t, s.Deinit(), ErrNotInitialized)
	assert.Equal(t, Started, s.Status(task), "deinit leaves tasks as they were")
	assert.False(t, s.Registered(task))

	// The scheduler can be brought back up.
	require.NoError(t, s.Init(2*period))
	require.NoError(t, s.Register(task))
}

func TestInitRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	require.ErrorIs(t, s.Init(-time.Microsecond), ErrInvalidPeriod)

	bad := New(Config{Capacity: -1}, logx.Nop())
	err := bad.Init(period)
	require.ErrorIs(t, err, ErrAllocation)
	require.ErrorIs(t, err, registry.ErrAllocation)
}

func TestCapacityExhaustion(t *testing.T) {
	t.Parallel()
	s := New(Config{Capacity: 1}, logx.Nop())
	require.NoError(t, s.Init(period))
	require.NoError(t, s.Register(NewTask("a", Periodic, period, &counter{}, nil)))
	err := s.Register(NewTask("b", Periodic, period, &counter{}, nil))
	require.ErrorIs(t, err, ErrAllocation)
	assert.NotErrorIs(t, err, ErrAlreadyRegistered)
}

func TestReentrantControlRejected(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	other := NewTask("other", Periodic, period, &counter{}, nil)
	require.NoError(t, s.Register(other))

	var errs []error
	task := NewTask("meddler", OneShot, period, RunnableFunc(func(any) {
		errs = append(errs, s.Stop(other), s.Unregister(other), s.Dispatch(), s.Deinit())
	}), nil)
	require.NoError(t, s.Register(task))
	require.NoError(t, s.Start(task))
	require.NoError(t, s.Dispatch())

	require.Len(t, errs, 4)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrReentrant)
	}
	assert.True(t, s.Registered(other))
}

func TestOnFireHook(t *testing.T) {
	t.Parallel()
	var fires []Fire
	s := New(Config{OnFire: func(f Fire) { fires = append(fires, f) }}, logx.Nop())
	require.NoError(t, s.Init(period))
	task := NewTask("hook", OneShot, 2*period, &counter{}, nil)
	require.NoError(t, s.Register(task))
	require.NoError(t, s.Start(task))
	dispatchN(t, s, 3)

	require.Len(t, fires, 1)
	assert.Equal(t, task.ID(), fires[0].ID)
	assert.EqualValues(t, 2, fires[0].Tick)
	assert.Equal(t, 2*period, fires[0].Elapsed)
	assert.Equal(t, Stopped, fires[0].Status)
	assert.EqualValues(t, 1, fires[0].Fires)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	a := NewTask("a", Periodic, 3*period, &counter{}, nil)
	b := &Task{Name: "b", Kind: OneShot, Timeout: period, Callback: &counter{}}
	require.NoError(t, s.Register(a))
	require.NoError(t, s.Register(b))
	require.NoError(t, s.Start(a))
	dispatchN(t, s, 2)

	snap := s.Snapshot()
	assert.True(t, snap.Initialized)
	assert.Equal(t, period, snap.Period)
	assert.EqualValues(t, 2, snap.Ticks)
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, a.ID().String(), snap.Tasks[0].ID)
	assert.Equal(t, Started, snap.Tasks[0].Status)
	assert.Equal(t, 2*period, snap.Tasks[0].Elapsed)
	assert.Empty(t, snap.Tasks[1].ID, "literal tasks have no ID")
	assert.Equal(t, Stopped, snap.Tasks[1].Status)

	require.NoError(t, s.Deinit())
	assert.Empty(t, s.Snapshot().Tasks)
}

func TestGuardedSchedulerAcrossGoroutines(t *testing.T) {
	t.Parallel()
	s := New(Config{Guard: &sync.Mutex{}}, logx.Nop())
	require.True(t, s.Guarded())
	require.NoError(t, s.Init(period))

	c := &counter{}
	task := NewTask("shared", Periodic, period, c, nil)
	require.NoError(t, s.Register(task))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = s.Dispatch()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = s.Restart(task)
			_ = s.Stop(task)
		}
	}()
	wg.Wait()
	assert.EqualValues(t, 500, s.Ticks())
	assert.Equal(t, Stopped, s.Status(task))
}

func TestReadsFromCallbackOnGuardedScheduler(t *testing.T) {
	t.Parallel()
	type seen struct {
		status Status
		fires  uint64
		ticks  uint64
	}
	got := make(chan seen, 2)

	var s *Scheduler
	var task *Task
	s = New(Config{
		Guard: &sync.Mutex{},
		OnFire: func(f Fire) {
			got <- seen{status: s.Status(f.Task), fires: s.Fires(f.Task), ticks: s.Ticks()}
		},
	}, logx.Nop())
	require.NoError(t, s.Init(period))

	task = NewTask("self-check", OneShot, period, RunnableFunc(func(any) {
		got <- seen{status: s.Status(task), fires: s.Fires(task), ticks: s.Ticks()}
		_ = s.Elapsed(task)
		_ = s.Period()
	}), nil)
	require.NoError(t, s.Register(task))
	require.NoError(t, s.Start(task))

	done := make(chan error, 1)
	go func() { done <- s.Dispatch() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on a read from inside the callback")
	}

	assert.Equal(t, seen{status: Started, fires: 0, ticks: 1}, <-got)
	assert.Equal(t, seen{status: Stopped, fires: 1, ticks: 1}, <-got)
}

func TestParseKind(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Kind{"": Periodic, "periodic": Periodic, "OneShot": OneShot, "once": OneShot} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseKind("daily")
	assert.Error(t, err)
}
