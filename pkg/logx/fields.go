package logx

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Field mutates a zerolog event. Fields apply in order; a repeated key
// keeps the later value.
type Field func(e *zerolog.Event)

func String(k, v string) Field { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }

func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}

// Duration renders d as a Go duration string ("2.5ms") in both sinks.
func Duration(k string, d time.Duration) Field {
	return func(e *zerolog.Event) { e.Str(k, d.String()) }
}

func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Value renders v with fmt.Sprint, only when the line is emitted.
func Value(k string, v any) Field {
	return func(e *zerolog.Event) { e.Str(k, fmt.Sprint(v)) }
}

// Ptr renders a handle as its address (0x...).
func Ptr(k string, v any) Field {
	return func(e *zerolog.Event) { e.Str(k, fmt.Sprintf("%p", v)) }
}
