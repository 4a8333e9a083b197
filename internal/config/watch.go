package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "ticksched/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	watchBackoff    = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

var errWatcherClosed = errors.New("config: watcher closed")

// debouncer runs fn once events stop arriving for the configured delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
		d.t = nil
	}
}

// Watch follows the config file with fsnotify and calls Reload once
// writes settle. The parent directory is watched so editors that replace
// the file by rename are seen. A failed watcher is rebuilt with jittered
// backoff. Watch returns nil when ctx ends, and at once for the built-in
// config.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)

	d := &debouncer{delay: reloadDebounce, fn: func() { m.reloadFromWatch(ctx) }}
	defer d.stop()

	backoff := watchBackoff
	for {
		err := m.watchOnce(ctx, dir, file, d.trigger, func() { backoff = watchBackoff })
		if ctx.Err() != nil {
			return nil
		}
		wait := backoff + rand.N(backoff/2+1)
		m.log.Warn("config watcher failed; retrying", logx.String("dir", dir), logx.Duration("backoff", wait), logx.Err(err))
		backoff = min(backoff*2, watchBackoffMax)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (m *ConfigManager) reloadFromWatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := os.Stat(m.path); errors.Is(err, os.ErrNotExist) {
		m.log.Warn("config file missing; keeping current config", logx.String("path", m.path))
		return
	}
	if _, err := m.Reload(ctx); err != nil {
		m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
	}
}

// watchOnce runs one fsnotify watcher until it fails or ctx ends.
// healthy is called once the watcher is in place.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, file string, changed, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	healthy()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if filepath.Base(ev.Name) != file || ev.Op == fsnotify.Chmod {
				continue
			}
			m.log.Debug("config file event", logx.String("op", ev.Op.String()))
			changed()
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errWatcherClosed
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				changed()
			case err != nil && strings.Contains(err.Error(), "closed"):
				return err
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}
