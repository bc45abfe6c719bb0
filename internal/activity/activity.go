// Package activity defines the structured event sink every scheduler component
// reports through: state transitions, queue operations and lifecycle stages.
//
// The sink is optional. A nil Logger is valid everywhere and drops events.
package activity

import (
	"fmt"
	"strconv"
	"time"
)

// Level orders activities by severity.
type Level int8

const (
	LevelVerbose Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelVerbose:
		return "verbose"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "level(" + strconv.Itoa(int(l)) + ")"
	}
}

// Param is one key/value pair attached to an Activity.
type Param struct {
	Key   string
	Value any
}

// Activity is a single structured event.
type Activity struct {
	Subject     string
	Event       string
	Level       Level
	Description string
	Params      []Param
	Time        time.Time
}

// New starts an activity for subject/event at level.
func New(subject, event string, level Level) Activity {
	return Activity{Subject: subject, Event: event, Level: level}
}

// With returns a copy of a with an extra parameter.
func (a Activity) With(key string, value any) Activity {
	a.Params = append(append([]Param(nil), a.Params...), Param{Key: key, Value: value})
	return a
}

// Describe returns a copy of a with a human readable description.
func (a Activity) Describe(format string, args ...any) Activity {
	a.Description = fmt.Sprintf(format, args...)
	return a
}

// Param looks up a parameter by key.
func (a Activity) Param(key string) (any, bool) {
	for i := len(a.Params) - 1; i >= 0; i-- {
		if a.Params[i].Key == key {
			return a.Params[i].Value, true
		}
	}
	return nil, false
}

// Logger accepts activities. Implementations must not block the caller for long.
type Logger interface {
	Log(a Activity)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(a Activity)

func (f LoggerFunc) Log(a Activity) {
	if f != nil {
		f(a)
	}
}

// Emit sends a to l, stamping the time. A nil l drops the event.
func Emit(l Logger, a Activity) {
	if l == nil {
		return
	}
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	l.Log(a)
}

type nop struct{}

func (nop) Log(Activity) {}

// Nop returns a Logger that drops everything.
func Nop() Logger { return nop{} }

type multi []Logger

func (m multi) Log(a Activity) {
	for _, l := range m {
		if l != nil {
			l.Log(a)
		}
	}
}

// Multi fans out to every non-nil logger.
func Multi(loggers ...Logger) Logger {
	out := make(multi, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			out = append(out, l)
		}
	}
	switch len(out) {
	case 0:
		return Nop()
	case 1:
		return out[0]
	}
	return out
}
