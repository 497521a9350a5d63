// Package logging is the structured logger of the netft packages: a small Logger interface over
// zap entries with pluggable appenders.
package logging

import (
	"os"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	globalMu     sync.RWMutex
	globalLogger Logger = newLogger("netft", INFO, NewWriterAppender(os.Stderr))
)

// ReplaceGlobal installs the logger returned by Global.
func ReplaceGlobal(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// Global returns the process wide logger, which writes info and above to stderr until replaced.
func Global() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// NewBlankLogger returns a debug level logger with no appenders.
func NewBlankLogger(name string) Logger {
	return newLogger(name, DEBUG)
}

// NewTestLogger returns a debug level logger writing to tb.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is NewTestLogger that also records entries for assertions.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return newLogger("", DEBUG, testAppender{tb: tb}, core), logs
}
