// Package logx is the firmware logger. Lines look like
//
//	[sched] task started name=sync
//
// The default sink is the println builtin, which needs no fmt and writes to
// the USB/UART console on TinyGo. Hosts install their own sink.
package logx

import (
	"time"

	"watchcode-go/x/conv"
)

type Level uint8

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "D"
	case Info:
		return "I"
	case Warn:
		return "W"
	case Error:
		return "E"
	}
	return "?"
}

// Sink receives one formatted line without the trailing newline.
type Sink func(lvl Level, line string)

var (
	sink     Sink = printlnSink
	minLevel      = Info
)

func printlnSink(lvl Level, line string) { println(lvl.String(), line) }

// SetSink replaces the output. A nil sink restores println.
func SetSink(s Sink) {
	if s == nil {
		s = printlnSink
	}
	sink = s
}

// SetLevel drops lines below lvl.
func SetLevel(lvl Level) { minLevel = lvl }

// Logger prefixes every line with a component tag.
type Logger struct{ tag string }

func New(tag string) Logger { return Logger{tag: tag} }

func (l Logger) Debug(msg string, kv ...any) { l.log(Debug, msg, kv) }
func (l Logger) Info(msg string, kv ...any)  { l.log(Info, msg, kv) }
func (l Logger) Warn(msg string, kv ...any)  { l.log(Warn, msg, kv) }
func (l Logger) Error(msg string, kv ...any) { l.log(Error, msg, kv) }

func (l Logger) log(lvl Level, msg string, kv []any) {
	if lvl < minLevel {
		return
	}
	sink(lvl, Format(l.tag, msg, kv...))
}

// Format renders a line: "[tag] msg k=v k=v". An odd trailing value is
// printed bare.
func Format(tag, msg string, kv ...any) string {
	b := make([]byte, 0, 64)
	b = append(b, '[')
	b = append(b, tag...)
	b = append(b, "] "...)
	b = append(b, msg...)
	for i := 0; i < len(kv); i += 2 {
		b = append(b, ' ')
		if i+1 < len(kv) {
			if k, ok := kv[i].(string); ok {
				b = append(b, k...)
			} else {
				b = appendValue(b, kv[i])
			}
			b = append(b, '=')
			b = appendValue(b, kv[i+1])
		} else {
			b = appendValue(b, kv[i])
		}
	}
	return string(b)
}

type stringer interface{ String() string }

func appendValue(b []byte, v any) []byte {
	var num [20]byte
	switch x := v.(type) {
	case nil:
		return append(b, "nil"...)
	case string:
		return append(b, x...)
	case bool:
		if x {
			return append(b, "true"...)
		}
		return append(b, "false"...)
	case int:
		return append(b, conv.Itoa(num[:], int64(x))...)
	case int32:
		return append(b, conv.Itoa(num[:], int64(x))...)
	case int64:
		return append(b, conv.Itoa(num[:], x)...)
	case uint8:
		return append(b, conv.Utoa(num[:], uint64(x))...)
	case uint16:
		return append(b, conv.Utoa(num[:], uint64(x))...)
	case uint32:
		return append(b, conv.Utoa(num[:], uint64(x))...)
	case uint64:
		return append(b, conv.Utoa(num[:], x)...)
	case time.Duration:
		return append(b, x.String()...)
	case time.Time:
		return append(b, x.Format("2006-01-02T15:04:05Z07:00")...)
	case error:
		return append(b, x.Error()...)
	case stringer:
		return append(b, x.String()...)
	}
	return append(b, '?')
}
