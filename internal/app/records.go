package app

import (
	"context"
	"time"

	"ticksched/internal/eventbus"
	"ticksched/internal/scheduler"
	"ticksched/internal/storage"
	logx "ticksched/pkg/logx"
)

const storeTimeout = 2 * time.Second

// onFire runs inside Dispatch with the scheduler guard held, so it only
// hands the fire to the bus.
func (a *App) onFire(f scheduler.Fire) {
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFired, Data: f})
}

// recordEvents drains the bus: fires go to the store, control ops to the log.
func (a *App) recordEvents(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			switch data := e.Data.(type) {
			case scheduler.Fire:
				a.recordFire(ctx, storage.FireFromEvent(data, e.Time))
			case eventbus.Control:
				a.log.Debug("task control",
					logx.String("task", data.Task),
					logx.String("op", data.Op),
					logx.String("err", data.Err),
				)
			}
		}
	}
}

func (a *App) recordFire(ctx context.Context, r storage.FireRecord) {
	if a.store == nil {
		return
	}
	c, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := a.store.AppendFire(c, r); err != nil {
		a.storeErrs.Warn("fire not recorded", logx.String("task", r.Task), logx.Err(err))
	}
}

// SaveSnapshot writes the current scheduler snapshot to the store.
func (a *App) SaveSnapshot(ctx context.Context) error {
	if a.store == nil {
		return storage.ErrDisabled
	}
	c, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	snap := a.sched.Snapshot()
	if err := a.store.PutSnapshot(c, storage.SnapshotRecord{At: time.Now(), Snapshot: snap}); err != nil {
		return err
	}
	a.log.Debug("snapshot saved", logx.Uint64("ticks", snap.Ticks), logx.Int("tasks", len(snap.Tasks)))
	return nil
}

// startSnapshots schedules SaveSnapshot on the configured cron spec.
func (a *App) startSnapshots(ctx context.Context, spec string) error {
	if a.store == nil || spec == "" {
		return nil
	}
	_, err := a.cron.AddFunc(spec, func() {
		if err := a.SaveSnapshot(ctx); err != nil {
			a.storeErrs.Warn("snapshot failed", logx.Err(err))
		}
	})
	if err != nil {
		return err
	}
	a.cron.Start()
	a.log.Info("periodic snapshots enabled", logx.String("schedule", spec))
	return nil
}

// Snapshot returns the live scheduler snapshot.
func (a *App) Snapshot() scheduler.Snapshot { return a.sched.Snapshot() }
