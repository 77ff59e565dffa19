// Package log wraps zap behind a small key/value interface shared by every
// tidewatch binary. Components receive a Logger; the package-level functions
// write through a process-wide instance installed by Init.
package log

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging surface used across the project. Keys and values are
// passed as alternating arguments, zap-sugar style.
type Logger interface {
	// Debug records diagnostic detail, normally filtered out in production.
	Debug(msg string, keysAndValues ...any)

	// Info records normal operational events.
	Info(msg string, keysAndValues ...any)

	// Warn records conditions that deserve attention but are not failures.
	Warn(msg string, keysAndValues ...any)

	// Error records a failure. A nil err is permitted and simply omitted.
	Error(err error, msg string, keysAndValues ...any)

	// WithName returns a derived logger whose entries carry the given name
	// segment. Names accumulate: l.WithName("a").WithName("b") yields "a.b".
	WithName(name string) Logger

	// WithValues returns a derived logger that attaches the given pairs to
	// every entry it emits.
	WithValues(keysAndValues ...any) Logger

	// Logr exposes the same sink through the logr API for libraries that
	// accept a logr.Logger.
	Logr() logr.Logger
}

// zlog backs Logger with a *zap.Logger.
type zlog struct {
	core *zap.Logger
}

var _ Logger = (*zlog)(nil)

// NewLogger builds a Logger from opts. A nil opts selects the defaults from
// NewOptions. Construction failures panic: a process that cannot log cannot
// report the problem any other way.
func NewLogger(opts *Options) Logger {
	if opts == nil {
		opts = NewOptions()
	}

	sinks := opts.OutputPaths
	if len(sinks) == 0 {
		sinks = []string{"stdout"}
	}

	cfg := &zap.Config{
		DisableCaller:    opts.DisableCaller,
		Level:            zap.NewAtomicLevelAt(parseLevel(opts.Level)),
		Encoding:         opts.Format,
		EncoderConfig:    encoderConfig(opts),
		OutputPaths:      sinks,
		ErrorOutputPaths: []string{"stderr"},
	}

	core, err := cfg.Build(zap.AddCallerSkip(opts.CallerSkip), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		panic(fmt.Sprintf("failed to build zap logger: %v", err))
	}

	if opts.Name != "" {
		core = core.Named(opts.Name)
	}

	return &zlog{core: core}
}

// parseLevel maps a level string onto a zap level, defaulting to info when
// the string does not parse.
func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func encoderConfig(opts *Options) zapcore.EncoderConfig {
	ec := zapcore.EncoderConfig{
		MessageKey:    "message",
		LevelKey:      "level",
		TimeKey:       "timestamp",
		NameKey:       "logger",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	// Durations render as milliseconds so log consumers need no unit parsing.
	ec.EncodeDuration = func(d time.Duration, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendFloat64(float64(d) / float64(time.Millisecond))
	}

	if opts.Format == "console" && opts.EnableColor {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return ec
}

func (z *zlog) Debug(msg string, keysAndValues ...any) {
	z.core.Debug(msg, toFields(keysAndValues...)...)
}

func (z *zlog) Info(msg string, keysAndValues ...any) {
	z.core.Info(msg, toFields(keysAndValues...)...)
}

func (z *zlog) Warn(msg string, keysAndValues ...any) {
	z.core.Warn(msg, toFields(keysAndValues...)...)
}

func (z *zlog) Error(err error, msg string, keysAndValues ...any) {
	fields := toFields(keysAndValues...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	z.core.Error(msg, fields...)
}

func (z *zlog) WithName(name string) Logger {
	return &zlog{core: z.core.Named(name)}
}

func (z *zlog) WithValues(keysAndValues ...any) Logger {
	return &zlog{core: z.core.With(toFields(keysAndValues...)...)}
}

func (z *zlog) Logr() logr.Logger {
	return zapr.NewLogger(z.core)
}

// The process-wide logger starts as a no-op so packages may log before Init
// runs (or in tests that never call it).
var (
	once sync.Once
	std  = NewNopLogger()
)

// Init installs the process-wide logger. Only the first call takes effect;
// later calls are ignored rather than racing with in-flight log statements.
func Init(opts *Options) {
	once.Do(func() {
		std = NewLogger(opts)
	})
}

// Std returns the process-wide logger.
func Std() Logger {
	return std
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return &zlog{core: zap.NewNop()}
}

// Package-level helpers forwarding to the process-wide logger.

func Debug(msg string, keysAndValues ...any)            { std.Debug(msg, keysAndValues...) }
func Info(msg string, keysAndValues ...any)             { std.Info(msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...any)             { std.Warn(msg, keysAndValues...) }
func Error(err error, msg string, keysAndValues ...any) { std.Error(err, msg, keysAndValues...) }
func WithName(name string) Logger                       { return std.WithName(name) }
func WithValues(keysAndValues ...any) Logger            { return std.WithValues(keysAndValues...) }
func Logr() logr.Logger                                 { return std.Logr() }
