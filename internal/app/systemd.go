package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "ticksched/pkg/logx"
)

// Notifier sends sd_notify(3) state strings.
type Notifier interface {
	Notify(state string) (sent bool, err error)
	// WatchdogInterval returns the service watchdog timeout (0 = disabled).
	WatchdogInterval() (time.Duration, error)
}

type sdNotifier struct{}

func (sdNotifier) Notify(state string) (bool, error) { return daemon.SdNotify(false, state) }

func (sdNotifier) WatchdogInterval() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) }

type nopNotifier struct{}

func (nopNotifier) Notify(string) (bool, error)              { return false, nil }
func (nopNotifier) WatchdogInterval() (time.Duration, error) { return 0, nil }

func (a *App) notify(state string) {
	sent, err := a.sd.Notify(state)
	switch {
	case err != nil:
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		a.log.Debug("systemd notified", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured interval while the tick
// source is making progress. A stalled source lets the watchdog expire.
func (a *App) watchdog(ctx context.Context) error {
	interval, err := a.sd.WatchdogInterval()
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	last := a.src.Stats().Ticks
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			ticks := a.src.Stats().Ticks
			if ticks == last {
				a.log.Warn("tick source stalled; skipping watchdog ping", logx.Uint64("ticks", ticks))
				continue
			}
			last = ticks
			a.notify(daemon.SdNotifyWatchdog)
		}
	}
}
