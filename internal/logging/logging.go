// Package logging provides the leveled line logger shared by docflow components.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/msageha/docflow/internal/model"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes "<RFC3339> <LEVEL> <component>: <msg>" lines.
type Logger struct {
	logger    *log.Logger
	level     LogLevel
	component string
	now       func() time.Time
}

func New(w io.Writer, level LogLevel, component string) *Logger {
	return &Logger{
		logger:    log.New(w, "", 0),
		level:     level,
		component: component,
		now:       time.Now,
	}
}

// Discard is a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, LogLevelError+1, "")
}

// Open builds a logger from config. With a file configured, output rotates through lumberjack.
func Open(cfg model.LoggingConfig, component string) (*Logger, io.Closer, error) {
	level := ParseLogLevel(cfg.Level)
	if cfg.File == "" {
		return New(os.Stderr, level, component), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return New(w, level, component), w, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// With returns a child logger for another component sharing writer and level.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		logger:    l.logger,
		level:     l.level,
		component: component,
		now:       l.now,
	}
}

func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.level
}

func (l *Logger) Logf(level LogLevel, format string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s %s %s: %s", l.now().Format(time.RFC3339), level, l.component, msg)
}

func (l *Logger) Debugf(format string, args ...any) { l.Logf(LogLevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.Logf(LogLevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.Logf(LogLevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.Logf(LogLevelError, format, args...) }
