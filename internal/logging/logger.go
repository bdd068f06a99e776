// Package logging provides structured logging for the local ledger store.
// It is a thin facade over logrus so call sites stay decoupled from the
// logging backend.
package logging

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	global *logrus.Logger
	once   sync.Once
)

// Init initializes the global logger with the given output and minimum level.
// Subsequent calls are no-ops.
func Init(out io.Writer, level string) {
	once.Do(func() {
		l := logrus.New()
		l.SetOutput(out)
		l.SetFormatter(&logrus.JSONFormatter{})

		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			parsed = logrus.InfoLevel
		}
		l.SetLevel(parsed)

		global = l
	})
}

// Get returns the global logger, initializing it with defaults if needed.
func Get() *logrus.Logger {
	if global == nil {
		Init(logrus.StandardLogger().Out, "info")
	}
	return global
}

// Debug logs a debug message with optional context fields.
func Debug(message string, context ...map[string]interface{}) {
	entryFor(nil, context).Debug(message)
}

// Info logs an info message with optional context fields.
func Info(message string, context ...map[string]interface{}) {
	entryFor(nil, context).Info(message)
}

// Warn logs a warning message with optional context fields.
func Warn(message string, context ...map[string]interface{}) {
	entryFor(nil, context).Warn(message)
}

// Error logs an error message with the error and optional context fields.
func Error(message string, err error, context ...map[string]interface{}) {
	entryFor(err, context).Error(message)
}

// entryFor merges context maps into a single logrus entry.
func entryFor(err error, context []map[string]interface{}) *logrus.Entry {
	fields := logrus.Fields{}
	for _, c := range context {
		for k, v := range c {
			fields[k] = v
		}
	}

	entry := Get().WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	return entry
}
