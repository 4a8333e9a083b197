package app

import (
	"ticksched/internal/runtime/supervisor"
	"ticksched/internal/scheduler"
	"ticksched/internal/tick"
	logx "ticksched/pkg/logx"
)

// RunStats summarizes a run: tick source counters, the registered tasks and
// the supervised goroutines.
type RunStats struct {
	Tick       tick.Stats         `json:"tick"`
	Tasks      []TaskStats        `json:"tasks"`
	Goroutines []supervisor.Stats `json:"goroutines"`
	Dropped    uint64             `json:"dropped_events"`
}

type TaskStats struct {
	Name   string           `json:"name"`
	Status scheduler.Status `json:"status"`
	Fires  uint64           `json:"fires"`
}

// Stats returns live figures while running and the figures captured during
// Stop afterwards.
func (a *App) Stats() RunStats {
	if p := a.final.Load(); p != nil {
		return *p
	}
	return a.collectStats()
}

func (a *App) collectStats() RunStats {
	st := RunStats{Tick: a.src.Stats(), Dropped: a.bus.Dropped()}
	for _, t := range a.sched.Tasks() {
		st.Tasks = append(st.Tasks, TaskStats{Name: t.Name, Status: a.sched.Status(t), Fires: a.sched.Fires(t)})
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}

func (st RunStats) fires() uint64 {
	var n uint64
	for _, t := range st.Tasks {
		n += t.Fires
	}
	return n
}

func (a *App) logFinalStats(st RunStats) {
	var restarts, panics uint64
	for _, g := range st.Goroutines {
		restarts += g.Restarts
		panics += g.Panics
	}
	a.log.Info("run stats",
		logx.Uint64("ticks", st.Tick.Ticks),
		logx.Uint64("overruns", st.Tick.Overruns),
		logx.Uint64("tick_panics", st.Tick.Panics),
		logx.Duration("max_lag", st.Tick.MaxLag),
		logx.Int("tasks", len(st.Tasks)),
		logx.Uint64("fires", st.fires()),
		logx.Uint64("restarts", restarts),
		logx.Uint64("panics", panics),
		logx.Uint64("dropped_events", st.Dropped),
	)
}
