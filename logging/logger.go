// Package logging is the structured-logging facade shared by every
// component of the runtime (scheduler, monitor, event loop, pool,
// selector, syscall chain).
//
// Grounded on the teacher eventloop package's logging.go, which defines a
// package-level Logger interface with level-gated methods and a no-op
// default, so instrumentation never costs anything unless a caller wires
// up a real backend. Here the real backend is backed by
// github.com/joeycumines/logiface (the logging library used throughout
// the rest of the joeycumines/go-utilpkg monorepo) with
// github.com/joeycumines/stumpy as its concrete Event/writer
// implementation, rather than a hand-rolled encoder.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Level mirrors the small severity set the runtime actually emits at. It
// maps directly onto logiface.Level so callers never juggle two enums.
type Level = logiface.Level

const (
	LevelDebug = logiface.LevelDebug
	LevelInfo  = logiface.LevelInformational
	LevelWarn  = logiface.LevelWarning
	LevelError = logiface.LevelError
)

// Logger is the interface every component depends on. It is satisfied by
// *Default (a thin wrapper around logiface.Logger[*stumpy.Event]) and by
// NoOp.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	// With returns a child Logger that always includes the given fields.
	With(fields ...Field) Logger
}

// Field is a single structured log field, applied via logiface's Builder.
type Field struct {
	Key   string
	Value any
}

func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Default is the logiface/stumpy-backed Logger implementation.
type Default struct {
	root   *logiface.Logger[*stumpy.Event]
	fields []Field
}

// New returns a Default logger writing newline-delimited structured
// records to w at or above level.
func New(w io.Writer, level Level) *Default {
	if w == nil {
		w = os.Stderr
	}
	l := stumpy.L.New(
		stumpy.L.WithLevel(level),
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
	)
	return &Default{root: l}
}

func (d *Default) apply(b *logiface.Builder[*stumpy.Event], extra []Field) *logiface.Builder[*stumpy.Event] {
	for _, f := range d.fields {
		b = b.Any(f.Key, f.Value)
	}
	for _, f := range extra {
		b = b.Any(f.Key, f.Value)
	}
	return b
}

func (d *Default) Debug(msg string, fields ...Field) {
	d.apply(d.root.Build(LevelDebug), fields).Log(msg)
}

func (d *Default) Info(msg string, fields ...Field) {
	d.apply(d.root.Build(LevelInfo), fields).Log(msg)
}

func (d *Default) Warn(msg string, fields ...Field) {
	d.apply(d.root.Build(LevelWarn), fields).Log(msg)
}

func (d *Default) Error(msg string, err error, fields ...Field) {
	b := d.apply(d.root.Build(LevelError), fields)
	if err != nil {
		b = b.Err(err)
	}
	b.Log(msg)
}

func (d *Default) With(fields ...Field) Logger {
	combined := make([]Field, 0, len(d.fields)+len(fields))
	combined = append(combined, d.fields...)
	combined = append(combined, fields...)
	return &Default{root: d.root, fields: combined}
}

// noop is the zero-overhead default used whenever a component is
// constructed without an explicit Logger.
type noop struct{}

// NoOp is the Logger every component falls back to until wired up.
var NoOp Logger = noop{}

func (noop) Debug(string, ...Field)        {}
func (noop) Info(string, ...Field)         {}
func (noop) Warn(string, ...Field)         {}
func (noop) Error(string, error, ...Field) {}
func (noop) With(...Field) Logger          { return NoOp }
