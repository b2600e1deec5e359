// Package logging provides the printf-style logging contract used across the
// core. Components depend on the Logger interface only; construction and sinks
// are decided at the composition root.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// Level controls the minimum severity a writer logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	defaultLevel   = LevelInfo
	defaultLevelMu sync.RWMutex
)

// SetDefaultLevel sets the minimum level for loggers created afterwards.
func SetDefaultLevel(level Level) {
	defaultLevelMu.Lock()
	defaultLevel = level
	defaultLevelMu.Unlock()
}

func currentLevel() Level {
	defaultLevelMu.RLock()
	defer defaultLevelMu.RUnlock()
	return defaultLevel
}

// writerLogger writes timestamped component-scoped lines to a writer.
type writerLogger struct {
	component string
	out       io.Writer
	mu        *sync.Mutex
}

var stderrMu sync.Mutex

// NewComponentLogger returns a logger scoped to a component, writing to stderr.
func NewComponentLogger(component string) Logger {
	return &writerLogger{component: component, out: os.Stderr, mu: &stderrMu}
}

// NewWriterLogger returns a component logger writing to the given writer.
// Writes are serialized through the supplied mutex when mu is non-nil.
func NewWriterLogger(component string, out io.Writer, mu *sync.Mutex) Logger {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &writerLogger{component: component, out: out, mu: mu}
}

// NewFileLogger returns a component logger appending to path, creating parent
// directories as needed. Falls back to stderr when the file cannot be opened.
func NewFileLogger(component, path string) Logger {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return NewComponentLogger(component)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return NewComponentLogger(component)
	}
	return &writerLogger{component: component, out: f, mu: &sync.Mutex{}}
}

func (l *writerLogger) log(level Level, tag, format string, args ...any) {
	if level < currentLevel() {
		return
	}
	line := fmt.Sprintf("%s %s [%s] %s\n",
		time.Now().UTC().Format(time.RFC3339),
		tag,
		l.component,
		fmt.Sprintf(format, args...),
	)
	l.mu.Lock()
	_, _ = io.WriteString(l.out, line)
	l.mu.Unlock()
}

func (l *writerLogger) Debug(format string, args ...any) { l.log(LevelDebug, "DEBUG", format, args...) }
func (l *writerLogger) Info(format string, args ...any)  { l.log(LevelInfo, "INFO ", format, args...) }
func (l *writerLogger) Warn(format string, args ...any)  { l.log(LevelWarn, "WARN ", format, args...) }
func (l *writerLogger) Error(format string, args ...any) { l.log(LevelError, "ERROR", format, args...) }

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
