package app

import (
	"errors"
	"fmt"
	"strings"

	"ticksched/internal/config"
	"ticksched/internal/eventbus"
	"ticksched/internal/scheduler"
	logx "ticksched/pkg/logx"
)

var ErrUnknownTask = errors.New("unknown task")

type managedTask struct {
	cfg  config.TaskConfig
	task *scheduler.Task
}

// applyTasks brings the registered set in line with want: removed tasks are
// unregistered, changed tasks are replaced, new tasks are registered. New and
// replaced tasks are started when autostart is on. Every failure is collected
// and the rest of the table is still applied.
func (a *App) applyTasks(want []config.TaskConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	have := make([]config.TaskConfig, 0, len(a.tasks))
	for _, name := range a.order {
		have = append(have, a.tasks[name].cfg)
	}
	diff := config.DiffTasks(have, want)
	changed := make(map[string]bool, len(diff.Changed))
	for _, name := range diff.Changed {
		changed[name] = true
	}

	var errs []error
	for _, name := range diff.Removed {
		errs = append(errs, a.dropLocked(name))
	}
	for _, name := range diff.Changed {
		errs = append(errs, a.dropLocked(name))
	}

	for i, tc := range want {
		name := strings.TrimSpace(tc.Name)
		if _, ok := a.tasks[name]; ok {
			continue
		}
		tc.Name = name
		if err := a.addLocked(i, tc); err != nil {
			errs = append(errs, err)
			continue
		}
		if changed[name] {
			a.log.Info("task replaced", logx.String("task", name))
		}
	}
	return errors.Join(errs...)
}

func (a *App) addLocked(i int, tc config.TaskConfig) error {
	task, err := a.builder.Task(i, tc)
	if err != nil {
		return err
	}
	if err := a.control(task, "register", a.sched.Register); err != nil {
		return err
	}
	name := task.Name
	a.tasks[name] = &managedTask{cfg: tc, task: task}
	a.order = append(a.order, name)
	if tc.AutostartEnabled() {
		if err := a.control(task, "start", a.sched.Start); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) dropLocked(name string) error {
	mt, ok := a.tasks[name]
	if !ok {
		return nil
	}
	delete(a.tasks, name)
	for i, n := range a.order {
		if n == name {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return a.control(mt.task, "unregister", a.sched.Unregister)
}

// control runs one scheduler operation and publishes the outcome.
func (a *App) control(t *scheduler.Task, op string, fn func(*scheduler.Task) error) error {
	err := fn(t)
	ev := eventbus.Control{Task: t.Name, Op: op}
	if err != nil {
		ev.Err = err.Error()
		err = fmt.Errorf("%s %s: %w", op, t.Name, err)
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskControl, Data: ev})
	return err
}

func (a *App) lookup(name string) (*scheduler.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mt, ok := a.tasks[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return mt.task, nil
}

// StartTask starts a registered task by name.
func (a *App) StartTask(name string) error { return a.controlByName(name, "start", a.sched.Start) }

func (a *App) StopTask(name string) error { return a.controlByName(name, "stop", a.sched.Stop) }

// RestartTask starts a task with a cleared accumulator.
func (a *App) RestartTask(name string) error {
	return a.controlByName(name, "restart", a.sched.Restart)
}

// ReinitTask stops a task and clears its accumulator.
func (a *App) ReinitTask(name string) error {
	return a.controlByName(name, "reinit", a.sched.Reinit)
}

func (a *App) controlByName(name, op string, fn func(*scheduler.Task) error) error {
	t, err := a.lookup(name)
	if err != nil {
		return err
	}
	return a.control(t, op, fn)
}

// TaskStatus reports the stored status of a named task.
func (a *App) TaskStatus(name string) (scheduler.Status, error) {
	t, err := a.lookup(name)
	if err != nil {
		return scheduler.Unknown, err
	}
	return a.sched.Status(t), nil
}

// TaskNames returns the managed task names in registration order.
func (a *App) TaskNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.order...)
}
