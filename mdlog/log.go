// Package mdlog wraps zap for the structured, leveled logging the build and
// load pipelines use for diagnostics — the typed replacement for the
// teacher's package-level VerboseMode + fmt.Fprintf(os.Stderr, ...) pattern.
package mdlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin facade over *zap.Logger so callers in this module never
// import zap directly.
type Logger struct {
	z *zap.Logger
}

// Nop returns a Logger that discards everything; the default when no
// *Logger is supplied to an Options value.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// New builds a development-style console logger at the given level.
// verbose=false maps to zapcore.InfoLevel, verbose=true to zapcore.DebugLevel.
func New(verbose bool) *Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	z, err := cfg.Build()
	if err != nil {
		return Nop()
	}
	return &Logger{z: z}
}

func (l *Logger) Debugf(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Infof(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warnf(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Errorf(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// With returns a child logger carrying the given structured fields on every
// subsequent call — used to tag a build/load pass with e.g. the table id or
// method token it's currently processing.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

// Sync flushes buffered log entries; callers should defer this once at
// process exit (e.g. cmd/clrdump's main).
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// Field re-exports zap.Field/zap constructors so callers don't need their
// own zap import just to build a log line.
type Field = zap.Field

func String(key, val string) Field  { return zap.String(key, val) }
func Int(key string, val int) Field { return zap.Int(key, val) }
func Uint32(key string, val uint32) Field { return zap.Uint32(key, val) }
func Error(err error) Field         { return zap.Error(err) }
