package scheduler

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind selects what happens after a task fires.
type Kind uint8

const (
	// Periodic tasks reset their accumulator and stay started.
	Periodic Kind = iota
	// OneShot tasks stop after firing once.
	OneShot
)

func (k Kind) String() string {
	switch k {
	case Periodic:
		return "periodic"
	case OneShot:
		return "oneshot"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind accepts "periodic", "oneshot", "one-shot" and "once".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "periodic":
		return Periodic, nil
	case "oneshot", "one-shot", "once":
		return OneShot, nil
	default:
		return 0, fmt.Errorf("invalid task kind %q (use periodic or oneshot)", s)
	}
}

// Status is the control state stored on a task.
type Status uint8

const (
	Unknown Status = iota
	Stopped
	Started
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Started:
		return "started"
	default:
		return "unknown"
	}
}

// Runnable is the work a task performs when it fires.
type Runnable interface {
	Run(arg any)
}

// RunnableFunc adapts a plain function to Runnable.
type RunnableFunc func(arg any)

func (f RunnableFunc) Run(arg any) { f(arg) }

// Task is a caller-owned unit of work. The scheduler keeps a reference to it
// while it is registered and never copies or frees it.
//
// Name, Callback, Arg, Kind and Timeout belong to the caller. The remaining
// state is managed by the scheduler and read through Scheduler methods.
// Writes happen under the scheduler guard; reads are atomic and lock-free.
type Task struct {
	Name     string
	Callback Runnable
	Arg      any
	Kind     Kind
	Timeout  time.Duration

	id          uuid.UUID
	status      atomic.Uint32 // Status
	accumulated atomic.Int64  // time.Duration
	fires       atomic.Uint64
}

func (t *Task) loadStatus() Status { return Status(t.status.Load()) }

func (t *Task) storeStatus(s Status) { t.status.Store(uint32(s)) }

func (t *Task) elapsed() time.Duration { return time.Duration(t.accumulated.Load()) }

func (t *Task) setElapsed(d time.Duration) { t.accumulated.Store(int64(d)) }

// addSaturating returns a+b clamped to math.MaxInt64.
func addSaturating(a, b time.Duration) time.Duration {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// NewTask builds a task with a fresh ID.
func NewTask(name string, kind Kind, timeout time.Duration, cb Runnable, arg any) *Task {
	return &Task{
		Name:     name,
		Callback: cb,
		Arg:      arg,
		Kind:     kind,
		Timeout:  timeout,
		id:       uuid.New(),
	}
}

// ID is the stable identifier assigned by NewTask (zero for literal tasks).
func (t *Task) ID() uuid.UUID {
	if t == nil {
		return uuid.Nil
	}
	return t.id
}

func (t *Task) String() string {
	if t == nil {
		return "<nil task>"
	}
	name := t.Name
	if name == "" {
		name = fmt.Sprintf("%p", t)
	}
	return fmt.Sprintf("%s(%s every %s)", name, t.Kind, t.Timeout)
}
