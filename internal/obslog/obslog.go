// Package obslog is the structured logging layer: a debug trace of
// allocator operations, gated by REZZAN_DEBUG, and a fatal diagnostic
// line emitted exactly once per process ahead of a safety-violation
// trap.
package obslog

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/mattn/go-isatty"
)

// Logger wraps two independently-gated loggers: a high-volume
// per-operation debug trace, and a single fatal diagnostic line.
type Logger struct {
	debug *logiface.Logger[*stumpy.Event]
	fatal *logiface.Logger[*stumpy.Event]
	color *color.Color
}

// New builds a Logger writing to w (os.Stderr in production; tests
// supply their own writer). debugEnabled mirrors REZZAN_DEBUG; the
// fatal logger is always enabled.
func New(w io.Writer, debugEnabled bool) *Logger {
	debugLevel := stumpy.L.LevelDebug()
	if !debugEnabled {
		debugLevel = logiface.LevelDisabled
	}

	l := &Logger{
		debug: stumpy.L.New(
			stumpy.L.WithStumpy(stumpy.WithWriter(w)),
			stumpy.L.WithLevel(debugLevel),
		),
		fatal: stumpy.L.New(
			stumpy.L.WithStumpy(stumpy.WithWriter(w)),
			stumpy.L.WithLevel(stumpy.L.LevelAlert()),
		),
	}

	isTerminal := false
	if f, ok := w.(*os.File); ok {
		isTerminal = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if isTerminal {
		l.color = color.New(color.FgRed, color.Bold)
	}
	return l
}

// Op is one of the named allocator operations.
type Op string

const (
	OpAllocate         Op = "allocate"
	OpRelease          Op = "release"
	OpResize           Op = "resize"
	OpQuarantineInsert Op = "quarantine_insert"
	OpQuarantineSplit  Op = "quarantine_split"
)

// Trace emits one structured debug line per allocator operation. It is
// a no-op when the debug logger is disabled.
func (l *Logger) Trace(op Op, n uint64, ptr uintptr, unitCount uint64) {
	l.debug.Debug().
		Str("op", string(op)).
		Uint64("n", n).
		Uint64("ptr", uint64(ptr)).
		Uint64("unit_count", unitCount).
		Log("allocator operation")
}

// Fatal emits the one-time diagnostic line that precedes a safety-
// violation trap: the violation kind, the offending address, and a
// human-readable detail. Color escapes are emitted iff the underlying
// stream was detected as a terminal at construction time.
//
// Fatal uses the Alert builder rather than Logger.Fatal: the latter
// calls os.Exit itself once the event is written, which would preempt
// package rezzan's own panic-based trap sequence. Termination stays
// the caller's responsibility.
func (l *Logger) Fatal(kind string, addr uintptr, detail string) {
	msg := "heap safety violation detected"
	if l.color != nil {
		msg = l.color.Sprint(msg)
	}
	l.fatal.Alert().
		Str("kind", kind).
		Uint64("addr", uint64(addr)).
		Str("detail", detail).
		Log(msg)
}
