package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.viam.com/test"
)

type payload struct {
	Weight float64
	frame  string
}

// nextLine splits the next written line into its tab separated parts.
func nextLine(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	line, err := buf.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	return strings.Split(strings.TrimSuffix(line, "\n"), "\t")
}

func TestLineFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("netft", DEBUG, NewWriterAppender(&buf))

	before := time.Now().Add(-time.Second)
	logger.Infow("bias set", "mode", "fixed")
	parts := nextLine(t, &buf)
	test.That(t, parts, test.ShouldHaveLength, 6)

	at, err := time.Parse(TimeFormat, parts[0])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.HasSuffix(parts[0], "Z"), test.ShouldBeTrue)
	test.That(t, at.After(before), test.ShouldBeTrue)

	test.That(t, parts[1], test.ShouldEqual, "INFO")
	test.That(t, parts[2], test.ShouldEqual, "netft")
	test.That(t, parts[3], test.ShouldStartWith, "logging/logger_test.go:")
	test.That(t, parts[4], test.ShouldEqual, "bias set")
	test.That(t, parts[5], test.ShouldEqual, `{"mode":"fixed"}`)

	// without fields there is no JSON column
	logger.Sublogger("mqtt").Warn("broker ", "gone")
	parts = nextLine(t, &buf)
	test.That(t, parts, test.ShouldHaveLength, 5)
	test.That(t, parts[1:3], test.ShouldResemble, []string{"WARN", "netft.mqtt"})
	test.That(t, parts[4], test.ShouldEqual, "broker gone")

	logger.Errorw("odd", "cycle", 3, "dangling")
	parts = nextLine(t, &buf)
	fields := map[string]interface{}{}
	test.That(t, json.Unmarshal([]byte(parts[5]), &fields), test.ShouldBeNil)
	test.That(t, fields, test.ShouldResemble, map[string]interface{}{"cycle": 3., "dangling": "<missing value>"})
}

func TestStructFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("", DEBUG, NewWriterAppender(&buf))
	// unexported struct fields are not encoded
	logger.Debugw("estimate", "payload", payload{Weight: 2.5, frame: "ft"})
	parts := nextLine(t, &buf)
	test.That(t, parts, test.ShouldHaveLength, 4)
	test.That(t, parts[3], test.ShouldEqual, `{"payload":{"Weight":2.5}}`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("netft", WARN, NewWriterAppender(&buf))
	sub := logger.Sublogger("pipeline")

	sub.Debugw("dropped")
	sub.Infow("dropped")
	sub.CWarnw(context.Background(), "kept")
	test.That(t, nextLine(t, &buf)[1], test.ShouldEqual, "WARN")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	// a debug request lets its own debug entries through and tags them
	ctx := EnableDebugMode(context.Background(), "req-7")
	sub.CDebugw(ctx, "stale slots", "slots", "world")
	parts := nextLine(t, &buf)
	test.That(t, parts[1], test.ShouldEqual, "DEBUG")
	test.That(t, parts[3], test.ShouldStartWith, "logging/logger_test.go:")
	test.That(t, parts[5], test.ShouldEqual, `{"slots":"world","debug_request":"req-7"}`)
	sub.CDebugw(context.Background(), "dropped")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	// subloggers share the level
	sub.SetLevel(ERROR)
	test.That(t, logger.GetLevel(), test.ShouldEqual, ERROR)
	logger.Warnw("dropped")
	test.That(t, buf.Len(), test.ShouldEqual, 0)
}

func TestDebugRequest(t *testing.T) {
	_, ok := DebugRequest(context.Background())
	test.That(t, ok, test.ShouldBeFalse)

	id, ok := DebugRequest(EnableDebugMode(context.Background(), ""))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, id, test.ShouldHaveLength, 8)
}

func TestSubloggerAndDesugar(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("netft").Sublogger("pipeline")

	sub.Infow("hello", "cycle", 3)
	entries := observed.FilterMessage("hello").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "netft.pipeline")
	test.That(t, entries[0].ContextMap()["cycle"], test.ShouldEqual, int64(3))

	// appenders added later reach existing subloggers
	var buf bytes.Buffer
	logger.AddAppender(NewWriterAppender(&buf))
	zap.NewStdLog(sub.Desugar()).Print("from a library")
	test.That(t, observed.FilterMessage("from a library").Len(), test.ShouldEqual, 1)
	parts := nextLine(t, &buf)
	test.That(t, parts[2], test.ShouldEqual, "netft.pipeline")
	test.That(t, parts[len(parts)-1], test.ShouldEqual, "from a library")

	sub.SetLevel(WARN)
	sub.Desugar().Info("dropped")
	test.That(t, observed.FilterMessage("dropped").Len(), test.ShouldEqual, 0)
	test.That(t, logger.Sync(), test.ShouldBeNil)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected Level
		name     string
	}{
		{"debug", DEBUG, "debug"},
		{"INFO", INFO, "info"},
		{"warning", WARN, "warn"},
		{"Error", ERROR, "error"},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
		test.That(t, level.String(), test.ShouldEqual, tc.name)
	}

	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)
}
