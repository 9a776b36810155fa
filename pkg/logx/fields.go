package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field adds one key/value pair to an event. Fields apply in order, so a
// repeated key keeps the last value.
type Field func(*zerolog.Event)

func String(key, val string) Field { return func(e *zerolog.Event) { e.Str(key, val) } }

func Int(key string, val int) Field { return func(e *zerolog.Event) { e.Int(key, val) } }

func Int64(key string, val int64) Field { return func(e *zerolog.Event) { e.Int64(key, val) } }

func Uint64(key string, val uint64) Field { return func(e *zerolog.Event) { e.Uint64(key, val) } }

func Bool(key string, val bool) Field { return func(e *zerolog.Event) { e.Bool(key, val) } }

func Float64(key string, val float64) Field { return func(e *zerolog.Event) { e.Float64(key, val) } }

// Duration renders as milliseconds (zerolog's default duration unit).
func Duration(key string, val time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(key, val) }
}

func Time(key string, val time.Time) Field { return func(e *zerolog.Event) { e.Time(key, val) } }

func Any(key string, val any) Field { return func(e *zerolog.Event) { e.Interface(key, val) } }

// Err attaches err under "err". A nil error adds nothing.
func Err(err error) Field {
	if err == nil {
		return nil
	}
	return func(e *zerolog.Event) { e.Err(err) }
}
