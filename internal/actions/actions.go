// Package actions turns config task entries into scheduler callbacks.
package actions

import (
	"fmt"
	"sort"
	"sync"

	"ticksched/internal/config"
	"ticksched/internal/scheduler"
	logx "ticksched/pkg/logx"
)

// Counters holds the per-task counts bumped by the "count" action.
type Counters struct {
	mu sync.Mutex
	m  map[string]uint64
}

func NewCounters() *Counters { return &Counters{m: map[string]uint64{}} }

func (c *Counters) Inc(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[name]++
	return c.m[name]
}

func (c *Counters) Get(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[name]
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.m))
	for k, v := range c.m {
		out[k] = v
	}
	return out
}

func (c *Counters) Names() []string {
	snap := c.Snapshot()
	out := make([]string, 0, len(snap))
	for k := range snap {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Builder creates callbacks. Callbacks run inside Dispatch, so both actions
// only log or bump a counter.
type Builder struct {
	Log      logx.Logger
	Counters *Counters
}

// Callback returns the Runnable for tc. The task's message is passed as the
// callback argument.
func (b Builder) Callback(tc config.TaskConfig) (scheduler.Runnable, error) {
	name := tc.Name
	switch action := config.NormalizeAction(tc.Action); action {
	case config.ActionLog:
		log := b.Log.With(logx.String("task", name))
		return scheduler.RunnableFunc(func(arg any) {
			msg, _ := arg.(string)
			if msg == "" {
				msg = "task fired"
			}
			log.Info(msg)
		}), nil
	case config.ActionCount:
		if b.Counters == nil {
			return nil, fmt.Errorf("task %q: count action needs counters", name)
		}
		counters := b.Counters
		return scheduler.RunnableFunc(func(any) { counters.Inc(name) }), nil
	default:
		return nil, fmt.Errorf("task %q: unknown action %q", name, tc.Action)
	}
}

// Task builds an unregistered scheduler task from its config entry.
// i is the entry's index, used in error messages.
func (b Builder) Task(i int, tc config.TaskConfig) (*scheduler.Task, error) {
	kind, err := scheduler.ParseKind(tc.Kind)
	if err != nil {
		return nil, fmt.Errorf("tasks[%d].kind: %w", i, err)
	}
	timeout, err := tc.TimeoutDuration(i)
	if err != nil {
		return nil, err
	}
	cb, err := b.Callback(tc)
	if err != nil {
		return nil, err
	}
	return scheduler.NewTask(tc.Name, kind, timeout, cb, tc.Message), nil
}
