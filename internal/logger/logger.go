// Package logger provides the process-wide structured logger.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
	level         = "info"
)

// SetLevel configures the log level used when the logger is first built.
// Must be called before the first Get.
func SetLevel(l string) {
	if l != "" {
		level = l
	}
}

// Init builds the default logger once: console writer on stderr with
// RFC3339 timestamps.
func Init() {
	once.Do(func() {
		lvl, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			lvl = zerolog.InfoLevel
		}
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		defaultLogger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	})
}

// Get returns the initialized default logger.
func Get() zerolog.Logger {
	Init()
	return defaultLogger
}

// Info logs an informational message with optional key/value fields.
func Info(msg string, fields ...any) {
	l := Get()
	event(l.Info(), fields).Msg(msg)
}

// Warn logs a warning message.
func Warn(msg string, fields ...any) {
	l := Get()
	event(l.Warn(), fields).Msg(msg)
}

// Error logs an error message.
func Error(msg string, err error, fields ...any) {
	l := Get()
	e := l.Error()
	if err != nil {
		e = e.Err(err)
	}
	event(e, fields).Msg(msg)
}

// Debug logs a debug message.
func Debug(msg string, fields ...any) {
	l := Get()
	event(l.Debug(), fields).Msg(msg)
}

func event(e *zerolog.Event, fields []any) *zerolog.Event {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, fields[i+1])
	}
	return e
}
