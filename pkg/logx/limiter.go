package logx

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter throttles a noisy log call site with a token bucket.
//
// Dropped lines are counted; the next line that gets through carries the
// count as "suppressed" so nothing disappears silently.
//
// Zero value (or nil) lets everything through.
type Limiter struct {
	log        Logger
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

// NewLimiter returns a limiter allowing perSec lines per second with the given burst.
// perSec <= 0 disables throttling.
func NewLimiter(log Logger, perSec float64, burst int) *Limiter {
	l := &Limiter{log: log}
	if perSec > 0 {
		if burst < 1 {
			burst = 1
		}
		l.lim = rate.NewLimiter(rate.Limit(perSec), burst)
	}
	return l
}

// Suppressed returns how many lines were dropped since the last emitted one.
func (l *Limiter) Suppressed() uint64 {
	if l == nil {
		return 0
	}
	return l.suppressed.Load()
}

func (l *Limiter) Trace(msg string, fields ...Field) { l.emit(LevelTrace, msg, fields) }
func (l *Limiter) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l *Limiter) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l *Limiter) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }

func (l *Limiter) emit(level Level, msg string, fields []Field) {
	if l == nil {
		return
	}
	// Don't burn tokens on lines that would be filtered anyway.
	if !l.log.Enabled(level) {
		return
	}
	if l.lim != nil && !l.lim.Allow() {
		l.suppressed.Add(1)
		return
	}
	if n := l.suppressed.Swap(0); n > 0 {
		fields = append(fields, Uint64("suppressed", n))
	}
	switch level {
	case LevelTrace:
		l.log.Trace(msg, fields...)
	case LevelDebug:
		l.log.Debug(msg, fields...)
	case LevelInfo:
		l.log.Info(msg, fields...)
	default:
		l.log.Warn(msg, fields...)
	}
}
