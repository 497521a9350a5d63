package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TimeFormat is the timestamp layout of written lines. Times are always written in UTC.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Appender is an output for log entries. zapcore.Core satisfies it, so zap observers and cores
// can be added directly.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// LineAppender writes one tab separated line per entry: time, level, logger name, caller,
// message and, when there are any, the fields as a JSON object.
type LineAppender struct {
	w io.Writer
}

// NewWriterAppender returns an appender writing lines to w.
func NewWriterAppender(w io.Writer) LineAppender {
	return LineAppender{w: w}
}

// FileAppenderConfig describes a size rotated log file.
type FileAppenderConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewFileAppender returns an appender writing lines to a rotating file, and the closer of that
// file.
func NewFileAppender(cfg FileAppenderConfig) (LineAppender, io.Closer) {
	rotator := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	return LineAppender{w: rotator}, rotator
}

func (a LineAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line, err := formatLine(entry, fields)
	if _, werr := io.WriteString(a.w, line+"\n"); werr != nil {
		return werr
	}
	return err
}

// Sync is a no-op; lines are written unbuffered.
func (a LineAppender) Sync() error {
	return nil
}

// formatLine renders entry. On a field encoding error the line is still returned without fields.
func formatLine(entry zapcore.Entry, fields []zapcore.Field) (string, error) {
	parts := []string{entry.Time.UTC().Format(TimeFormat), strings.ToUpper(entry.Level.String())}
	if entry.LoggerName != "" {
		parts = append(parts, entry.LoggerName)
	}
	if entry.Caller.Defined {
		parts = append(parts, entry.Caller.TrimmedPath())
	}
	parts = append(parts, entry.Message)
	if len(fields) > 0 {
		encoded, err := fieldsJSON(fields)
		if err != nil {
			return strings.Join(parts, "\t"), err
		}
		parts = append(parts, encoded)
	}
	return strings.Join(parts, "\t"), nil
}

// fieldsJSON encodes fields, in order, as a JSON object.
func fieldsJSON(fields []zapcore.Field) (string, error) {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := enc.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return "", err
	}
	defer buf.Free()
	return buf.String(), nil
}

type testAppender struct {
	tb testing.TB
}

func (a testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	a.tb.Helper()
	line, err := formatLine(entry, fields)
	a.tb.Log(line)
	return err
}

func (a testAppender) Sync() error {
	return nil
}

// appenderCore lets zap loggers write through an Appender at the logger's level.
type appenderCore struct {
	Appender
	enabler zapcore.LevelEnabler
	fields  []zapcore.Field
}

func asCore(a Appender, enabler zapcore.LevelEnabler) zapcore.Core {
	return &appenderCore{Appender: a, enabler: enabler}
}

func (c *appenderCore) Enabled(level zapcore.Level) bool {
	return c.enabler.Enabled(level)
}

func (c *appenderCore) With(fields []zapcore.Field) zapcore.Core {
	return &appenderCore{
		Appender: c.Appender,
		enabler:  c.enabler,
		fields:   append(c.fields[:len(c.fields):len(c.fields)], fields...),
	}
}

func (c *appenderCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *appenderCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if len(c.fields) == 0 {
		return c.Appender.Write(entry, fields)
	}
	return c.Appender.Write(entry, append(c.fields[:len(c.fields):len(c.fields)], fields...))
}

func reportAppenderError(err error) {
	//nolint:errcheck
	fmt.Fprintln(os.Stderr, "log appender:", err)
}

var _ zapcore.Core = (*appenderCore)(nil)
