package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level specifies the log level.
type Level int

const (
	// DebugLevel logs everything, including per-relay exclusions.
	DebugLevel Level = iota
	// InfoLevel is the default level.
	InfoLevel
	// WarningLevel logs warnings and errors only.
	WarningLevel
	// ErrorLevel logs errors only.
	ErrorLevel
)

var (
	// DefaultLogger writes info and above to stderr.
	DefaultLogger = New(InfoLevel, os.Stderr)
	// DiscardLogger drops every message.
	DiscardLogger = New(ErrorLevel, io.Discard)
)

// Logger is a thin leveled wrapper around a zap sugared logger.
type Logger struct {
	sugar *zap.SugaredLogger
	level Level
}

// New creates a Logger writing JSON lines to the given writers.
func New(level Level, writers ...io.Writer) *Logger {
	if len(writers) == 0 {
		writers = []io.Writer{os.Stderr}
	}

	syncers := make([]zapcore.WriteSyncer, 0, len(writers))
	for _, w := range writers {
		syncers = append(syncers, zapcore.AddSync(w))
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(syncers...),
		zap.NewAtomicLevelAt(level.zap()),
	)

	return &Logger{
		sugar: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(),
		level: level,
	}
}

// ParseLevel maps a level name ("debug", "info", "warn", "error") to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarningLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// LogLevel returns the level the logger was created with.
func (l *Logger) LogLevel() Level {
	return l.level
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keyValues ...any) *Logger {
	return &Logger{sugar: l.sugar.With(keyValues...), level: l.level}
}

func (l *Logger) Debug(v ...any)                 { l.sugar.Debug(v...) }
func (l *Logger) Debugf(format string, v ...any) { l.sugar.Debugf(format, v...) }
func (l *Logger) Info(v ...any)                  { l.sugar.Info(v...) }
func (l *Logger) Infof(format string, v ...any)  { l.sugar.Infof(format, v...) }
func (l *Logger) Warn(v ...any)                  { l.sugar.Warn(v...) }
func (l *Logger) Warnf(format string, v ...any)  { l.sugar.Warnf(format, v...) }
func (l *Logger) Error(v ...any)                 { l.sugar.Error(v...) }
func (l *Logger) Errorf(format string, v ...any) { l.sugar.Errorf(format, v...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func (level Level) zap() zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarningLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// String returns the lower case level name.
func (level Level) String() string {
	switch level {
	case DebugLevel:
		return "debug"
	case WarningLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "info"
	}
}
