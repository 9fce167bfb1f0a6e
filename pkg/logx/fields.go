package logx

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Field mutates a zerolog event. Fields are applied in order; later fields
// with the same key win.
type Field func(e *zerolog.Event)

func String(k, v string) Field  { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }
func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Strings(k string, v []string) Field {
	return func(e *zerolog.Event) { e.Strs(k, v) }
}

// Err adds err under "err"; nil is skipped.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

func Stack(stack string) Field {
	return func(e *zerolog.Event) {
		if strings.TrimSpace(stack) != "" {
			e.Str("stack", stack)
		}
	}
}

// Field names shared across the pipeline, so every component's lines can be
// grepped the same way.
const (
	KeyComponent = "comp"
	KeySession   = "session"
	KeyTransport = "transport"
	KeyIdentity  = "key"
	KeyJob       = "job"
)

func Component(name string) Field { return String(KeyComponent, name) }
func Session(name string) Field   { return String(KeySession, name) }
func Transport(name string) Field { return String(KeyTransport, name) }

// Identity is the dedup identity key of an intent or job.
func Identity(key string) Field { return String(KeyIdentity, key) }
func Job(id string) Field       { return String(KeyJob, id) }

// MaxTextField bounds Text values.
const MaxTextField = 64

// Text logs user-visible chat text, clipped to MaxTextField runes.
func Text(k, v string) Field {
	return func(e *zerolog.Event) { e.Str(k, clip(v, MaxTextField)) }
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
