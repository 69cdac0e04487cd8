package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging capabilities
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// WithFields returns a logger that attaches fields to every entry
	WithFields(fields map[string]interface{}) Logger

	// Sync flushes buffered entries
	Sync() error
}

// zapLogger implements Logger on top of a zap SugaredLogger
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewDefaultLogger creates a production JSON logger at info level
func NewDefaultLogger() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		// zap only fails here on a broken sink configuration
		return NewNopLogger()
	}
	return FromZap(l)
}

// NewDevelopmentLogger creates a human readable logger at debug level
func NewDevelopmentLogger() Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		return NewNopLogger()
	}
	return FromZap(l)
}

// NewLevelLogger creates a production logger that emits entries at or above level.
// Accepted levels are debug, info, warn and error; anything else falls back to info.
func NewLevelLogger(level string) Logger {
	cfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build()
	if err != nil {
		return NewNopLogger()
	}
	return FromZap(l)
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

// FromZap wraps an existing zap logger
func FromZap(l *zap.Logger) Logger {
	return &zapLogger{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *zapLogger) Error(args ...interface{}) { l.s.Error(args...) }

func (l *zapLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

func (l *zapLogger) Warn(args ...interface{}) { l.s.Warn(args...) }

func (l *zapLogger) Warnf(format string, args ...interface{}) { l.s.Warnf(format, args...) }

func (l *zapLogger) Info(args ...interface{}) { l.s.Info(args...) }

func (l *zapLogger) Infof(format string, args ...interface{}) { l.s.Infof(format, args...) }

func (l *zapLogger) Debug(args ...interface{}) { l.s.Debug(args...) }

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }

func (l *zapLogger) WithFields(fields map[string]interface{}) Logger {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &zapLogger{s: l.s.With(kv...)}
}

func (l *zapLogger) Sync() error {
	return l.s.Sync()
}
