package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warn"
	LogLevelError   LogLevel = "error"
)

// Options configures a Logger
type Options struct {
	Level     LogLevel
	Dir       string // optional; when set a daily file is written next to stderr output
	Component string
}

// Logger is a structured logger for guardian components.
// It keeps printf-style helpers for call sites that log prose and exposes
// the underlying zap logger for structured fields.
type Logger struct {
	zl      *zap.Logger
	sugar   *zap.SugaredLogger
	logFile *os.File
	mu      sync.Mutex
}

// NewLogger creates a logger writing JSON lines to stderr and optionally to a daily file
func NewLogger(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(string(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}

	var file *os.File
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := fmt.Sprintf("guardian_%s.log", time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(opts.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
	}

	zl := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	if opts.Component != "" {
		zl = zl.With(zap.String("component", opts.Component))
	}

	return &Logger{zl: zl, sugar: zl.Sugar(), logFile: file}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	zl := zap.NewNop()
	return &Logger{zl: zl, sugar: zl.Sugar()}
}

// FromZap wraps an existing zap logger
func FromZap(zl *zap.Logger) *Logger {
	return &Logger{zl: zl, sugar: zl.Sugar()}
}

// With returns a child logger carrying the given fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.zl.With(fields...)
	return &Logger{zl: child, sugar: child.Sugar()}
}

// Named returns a child logger for a sub-component
func (l *Logger) Named(component string) *Logger {
	return l.With(zap.String("component", component))
}

// Zap exposes the structured logger
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.zl.Error(context, zap.Error(err))
}

// LogWarning logs warning with context
func (l *Logger) LogWarning(context string, message string, args ...interface{}) {
	l.zl.Warn(context, zap.String("detail", fmt.Sprintf(message, args...)))
}

// Sync flushes buffered entries
func (l *Logger) Sync() {
	_ = l.zl.Sync()
}

// Close flushes and closes the log file, if any
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.zl.Sync()
	if l.logFile != nil {
		err := l.logFile.Close()
		l.logFile = nil
		return err
	}
	return nil
}
