// logging.go - structured logging for the runtime.
//
// Logging is a thin wrapper around github.com/joeycumines/logiface, with
// github.com/joeycumines/izerolog (backed by github.com/rs/zerolog) as the
// only wired backend. A Runtime with no logger configured holds a nil
// *Logger, on which every helper below is a no-op.

package osal

import (
	"os"
	"time"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the structured logger used throughout the runtime. It is a type
// alias so that callers can construct loggers directly against logiface
// without an extra indirection layer.
type Logger = logiface.Logger[*izerolog.Event]

// NewZerologLogger builds a Logger backed by zerolog, writing to out at the
// given minimum level. Pass the result to WithLogger to attach it to a
// Runtime; no logger is attached by default.
func NewZerologLogger(out *os.File, level logiface.Level) *Logger {
	z := zerolog.New(out).With().Timestamp().Logger()
	return logiface.New[*izerolog.Event](
		izerolog.WithZerolog(z),
		logiface.WithLevel[*izerolog.Event](level),
	)
}

// logTaskDispatch records a single task handler invocation.
func logTaskDispatch(l *Logger, taskID TaskID, events uint16, d time.Duration) {
	l.Debug().Call(func(b *logiface.Builder[*izerolog.Event]) {
		b.Int("task", int(taskID)).
			Uint64("events", uint64(events)).
			Dur("latency", d)
	}).Log("task dispatched")
}

// logTimerArmed records a timer being started or reloaded.
func logTimerArmed(l *Logger, taskID TaskID, eventFlag uint16, timeout uint16, reload uint16) {
	l.Trace().Call(func(b *logiface.Builder[*izerolog.Event]) {
		b.Int("task", int(taskID)).
			Uint64("event", uint64(eventFlag)).
			Uint64("timeout", uint64(timeout)).
			Uint64("reload", uint64(reload))
	}).Log("timer armed")
}

// logTimerFired records a timer reaching zero and notifying its task.
func logTimerFired(l *Logger, taskID TaskID, eventFlag uint16) {
	l.Trace().Call(func(b *logiface.Builder[*izerolog.Event]) {
		b.Int("task", int(taskID)).
			Uint64("event", uint64(eventFlag))
	}).Log("timer fired")
}

// logTimerReaped records a timer being cancelled: Runtime.StopTimer calls
// it when it marks the timer, and Runtime.OnTick calls it again when it
// unlinks and frees the node (by then a stopped timer's eventFlag is 0).
func logTimerReaped(l *Logger, taskID TaskID, eventFlag uint16) {
	l.Trace().Call(func(b *logiface.Builder[*izerolog.Event]) {
		b.Int("task", int(taskID)).
			Uint64("event", uint64(eventFlag))
	}).Log("timer reaped")
}

// logHeapExhausted records an allocation failure.
func logHeapExhausted(l *Logger, requested uint16) {
	l.Debug().Call(func(b *logiface.Builder[*izerolog.Event]) {
		b.Uint64("requested", uint64(requested))
	}).Log("heap allocation failed")
}

// logInvariantViolation records a fatal internal invariant violation prior
// to the panic that accompanies it.
func logInvariantViolation(l *Logger, where string, err error) {
	l.Err().Call(func(b *logiface.Builder[*izerolog.Event]) {
		b.Str("where", where).Err(err)
	}).Log("invariant violation")
}
