package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	debugEnabled atomic.Bool
	std          = log.New(os.Stderr, "", log.LstdFlags)
)

func Init(debug bool) {
	debugEnabled.Store(debug)
}

// SetOutput redirects every logger to w.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Logger prefixes its lines with a component name.
type Logger struct {
	component string
}

// New returns a logger for component.
func New(component string) *Logger {
	return &Logger{component: component}
}

var root = &Logger{}

func (l *Logger) logWithLevel(level string, format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if l.component == "" {
		std.Printf("level=%s %q", level, msg)
		return
	}
	std.Printf("level=%s component=%s %q", level, l.component, msg)
}

func (l *Logger) Debug(format string, v ...interface{}) {
	if debugEnabled.Load() {
		l.logWithLevel("debug", format, v...)
	}
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.logWithLevel("info", format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.logWithLevel("warn", format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.logWithLevel("error", format, v...)
}

func Debug(format string, v ...interface{}) { root.Debug(format, v...) }

func Info(format string, v ...interface{}) { root.Info(format, v...) }

func Warn(format string, v ...interface{}) { root.Warn(format, v...) }

func Error(format string, v ...interface{}) { root.Error(format, v...) }

func Fatal(format string, v ...interface{}) {
	root.logWithLevel("fatal", format, v...)
	os.Exit(1)
}
