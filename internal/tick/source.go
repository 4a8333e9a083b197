// Package tick drives a scheduler from a time.Ticker.
package tick

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"ticksched/internal/scheduler"
	logx "ticksched/pkg/logx"
)

var (
	// ErrUnguarded is returned for schedulers built without a Config.Guard.
	// The source dispatches from its own goroutine, so control calls from
	// anywhere else need the lock.
	ErrUnguarded = errors.New("tick: scheduler has no guard")

	ErrNoPeriod = errors.New("tick: scheduler period must be > 0")

	// ErrCallbackPanic wraps a panic recovered from Dispatch.
	ErrCallbackPanic = errors.New("tick: callback panicked")
)

type Config struct {
	// OverrunLogPerSec limits overrun warnings (<= 0 = unlimited).
	OverrunLogPerSec float64
}

// Stats are best-effort counters.
type Stats struct {
	Ticks    uint64        `json:"ticks"`
	Overruns uint64        `json:"overruns"`
	Panics   uint64        `json:"panics"`
	Errors   uint64        `json:"errors"`
	MaxLag   time.Duration `json:"max_lag"`
	LastTick time.Time     `json:"last_tick"`
}

// Source calls Dispatch once per scheduler period.
//
// A dispatch that takes longer than one period is an overrun. Ticks the
// ticker drops while a dispatch runs are not replayed.
type Source struct {
	sched   *scheduler.Scheduler
	log     logx.Logger
	overrun *logx.Limiter

	ticks    atomic.Uint64
	overruns atomic.Uint64
	panics   atomic.Uint64
	errs     atomic.Uint64
	maxLag   atomic.Int64
	lastTick atomic.Int64
}

func New(s *scheduler.Scheduler, cfg Config, log logx.Logger) (*Source, error) {
	if s == nil {
		return nil, scheduler.ErrNullParam
	}
	if !s.Guarded() {
		return nil, ErrUnguarded
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{
		sched:   s,
		log:     log,
		overrun: logx.NewLimiter(log, cfg.OverrunLogPerSec, 1),
	}, nil
}

// Run ticks until ctx is canceled or the scheduler is deinitialized.
// It returns ctx.Err() on cancellation and ErrNotInitialized when the
// scheduler goes away underneath it.
func (src *Source) Run(ctx context.Context) error {
	period := src.sched.Period()
	if period <= 0 {
		return ErrNoPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	src.log.Info("tick source started", logx.Duration("period", period))
	defer func() {
		src.log.Info("tick source stopped",
			logx.Uint64("ticks", src.ticks.Load()),
			logx.Uint64("overruns", src.overruns.Load()),
			logx.Uint64("suppressed_overrun_logs", src.overrun.Suppressed()),
		)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := src.Step()
			switch {
			case err == nil, errors.Is(err, ErrCallbackPanic):
			case errors.Is(err, scheduler.ErrNotInitialized):
				return err
			default:
				src.log.Warn("dispatch failed", logx.Err(err))
			}
		}
	}
}

// Step performs one dispatch synchronously and records its timing.
func (src *Source) Step() (err error) {
	period := src.sched.Period()
	start := time.Now()
	defer func() {
		took := time.Since(start)
		src.ticks.Add(1)
		src.lastTick.Store(start.UnixNano())
		if lag := int64(took - period); lag > 0 {
			src.overruns.Add(1)
			if lag > src.maxLag.Load() {
				src.maxLag.Store(lag)
			}
			src.overrun.Warn("tick overrun",
				logx.Duration("took", took),
				logx.Duration("period", period),
				logx.Uint64("overruns", src.overruns.Load()),
			)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			src.panics.Add(1)
			src.log.Error("task callback panicked",
				logx.Value("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
	}()

	if err = src.sched.Dispatch(); err != nil {
		src.errs.Add(1)
	}
	return err
}

func (src *Source) Stats() Stats {
	st := Stats{
		Ticks:    src.ticks.Load(),
		Overruns: src.overruns.Load(),
		Panics:   src.panics.Load(),
		Errors:   src.errs.Load(),
		MaxLag:   time.Duration(src.maxLag.Load()),
	}
	if ns := src.lastTick.Load(); ns > 0 {
		st.LastTick = time.Unix(0, ns)
	}
	return st
}
