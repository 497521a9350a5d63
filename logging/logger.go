package logging

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger handed to every netft component.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})

	// CDebugw logs at debug level when the logger is at debug level or ctx carries a debug
	// request, in which case the request id is attached to the entry.
	CDebugw(ctx context.Context, msg string, keysAndValues ...interface{})
	// CWarnw is CDebugw at warn level.
	CWarnw(ctx context.Context, msg string, keysAndValues ...interface{})

	// Sublogger returns a logger named after this one and subname. It shares this logger's
	// level and appenders.
	Sublogger(subname string) Logger
	SetLevel(level Level)
	GetLevel() Level
	AddAppender(appender Appender)

	// Desugar exposes the logger as a zap logger for libraries that want one.
	Desugar() *zap.Logger
	Sync() error
}

// appenderSet is shared by a logger and all of its subloggers.
type appenderSet struct {
	mu   sync.RWMutex
	list []Appender
}

func (as *appenderSet) add(a Appender) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.list = append(as.list, a)
}

func (as *appenderSet) snapshot() []Appender {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return append([]Appender(nil), as.list...)
}

type logger struct {
	name      string
	level     zap.AtomicLevel
	appenders *appenderSet
}

func newLogger(name string, level Level, appenders ...Appender) *logger {
	return &logger{
		name:      name,
		level:     zap.NewAtomicLevelAt(level.zap()),
		appenders: &appenderSet{list: appenders},
	}
}

func (l *logger) Sublogger(subname string) Logger {
	name := subname
	if l.name != "" {
		name = l.name + "." + subname
	}
	return &logger{name: name, level: l.level, appenders: l.appenders}
}

func (l *logger) SetLevel(level Level) {
	l.level.SetLevel(level.zap())
}

func (l *logger) GetLevel() Level {
	return levelFromZap(l.level.Level())
}

func (l *logger) AddAppender(appender Appender) {
	l.appenders.add(appender)
}

func (l *logger) Sync() error {
	var err error
	for _, a := range l.appenders.snapshot() {
		err = multierr.Append(err, a.Sync())
	}
	return err
}

func (l *logger) Desugar() *zap.Logger {
	appenders := l.appenders.snapshot()
	cores := make([]zapcore.Core, 0, len(appenders))
	for _, a := range appenders {
		cores = append(cores, asCore(a, l.level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Named(l.name)
}

func (l *logger) Debugw(msg string, keysAndValues ...interface{}) {
	if l.level.Enabled(zapcore.DebugLevel) {
		l.write(2, DEBUG, msg, keysAndValues)
	}
}

func (l *logger) Infow(msg string, keysAndValues ...interface{}) {
	if l.level.Enabled(zapcore.InfoLevel) {
		l.write(2, INFO, msg, keysAndValues)
	}
}

func (l *logger) Warnw(msg string, keysAndValues ...interface{}) {
	if l.level.Enabled(zapcore.WarnLevel) {
		l.write(2, WARN, msg, keysAndValues)
	}
}

func (l *logger) Errorw(msg string, keysAndValues ...interface{}) {
	if l.level.Enabled(zapcore.ErrorLevel) {
		l.write(2, ERROR, msg, keysAndValues)
	}
}

func (l *logger) Info(args ...interface{}) {
	if l.level.Enabled(zapcore.InfoLevel) {
		l.write(2, INFO, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Warn(args ...interface{}) {
	if l.level.Enabled(zapcore.WarnLevel) {
		l.write(2, WARN, fmt.Sprint(args...), nil)
	}
}

func (l *logger) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.contextWrite(ctx, DEBUG, msg, keysAndValues)
}

func (l *logger) CWarnw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.contextWrite(ctx, WARN, msg, keysAndValues)
}

func (l *logger) contextWrite(ctx context.Context, level Level, msg string, keysAndValues []interface{}) {
	id, debug := DebugRequest(ctx)
	if !debug && !l.level.Enabled(level.zap()) {
		return
	}
	if debug {
		keysAndValues = append(keysAndValues[:len(keysAndValues):len(keysAndValues)], debugRequestKey, id)
	}
	l.write(3, level, msg, keysAndValues)
}

// write records the entry with the caller skip frames above it, which must be the line that
// logged.
func (l *logger) write(skip int, level Level, msg string, keysAndValues []interface{}) {
	entry := zapcore.Entry{
		Level:      level.zap(),
		Time:       time.Now(),
		LoggerName: l.name,
		Message:    msg,
		Caller:     zapcore.NewEntryCaller(runtime.Caller(skip)),
	}
	fields := toFields(keysAndValues)
	for _, a := range l.appenders.snapshot() {
		if err := a.Write(entry, fields); err != nil {
			reportAppenderError(err)
		}
	}
}

// toFields pairs up keys and values. A trailing key without a value is kept with an error value
// rather than dropped.
func toFields(keysAndValues []interface{}) []zapcore.Field {
	if len(keysAndValues) == 0 {
		return nil
	}
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.String(key, "<missing value>"))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
