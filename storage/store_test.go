package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/netft/calibration"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "netft.db"))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, s.Close(), test.ShouldBeNil) })
	return s
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, ok, err := s.Load(ctx, "ft")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	snap := calibration.Snapshot{
		Mode:      calibration.ModeFixed,
		Frame:     "ft",
		FixedBias: [6]float64{1, 2, 3, 0.1, 0.2, 0.3},
		Payload:   calibration.PayloadParameters{Weight: 12.5, LeverArm: 0.08},
		SavedAt:   t0,
	}
	test.That(t, s.Save(ctx, "ft", snap), test.ShouldBeNil)
	got, ok, err := s.Load(ctx, "ft")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldResemble, snap)

	snap.Mode = calibration.ModeGravity
	snap.GravityOrientation = [4]float64{1, 0, 0, 0}
	snap.SavedAt = t0.Add(time.Minute)
	test.That(t, s.Save(ctx, "ft", snap), test.ShouldBeNil)
	got, _, err = s.Load(ctx, "ft")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Mode, test.ShouldEqual, calibration.ModeGravity)
	test.That(t, got.SavedAt, test.ShouldResemble, snap.SavedAt)

	_, ok, err = s.Load(ctx, "other")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestOperationHistory(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	for i, op := range []string{"set_fixed_bias", "set_tool_data", "find_tool_params"} {
		rec := OperationRecord{
			Sensor:  "ft",
			Op:      op,
			Success: op != "find_tool_params",
			At:      t0.Add(time.Duration(i) * time.Second),
		}
		if op == "set_tool_data" {
			rec.Params = json.RawMessage(`{"weight":10}`)
		}
		if !rec.Success {
			rec.Message = "poses too close"
		}
		id, err := s.RecordOperation(ctx, rec)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, id, test.ShouldNotBeEmpty)
	}
	_, err := s.RecordOperation(ctx, OperationRecord{ID: "fixed-id", Sensor: "other", Op: "cancel", Success: true, At: t0})
	test.That(t, err, test.ShouldBeNil)
	_, err = s.RecordOperation(ctx, OperationRecord{ID: "fixed-id", Sensor: "other", Op: "cancel", At: t0})
	test.That(t, err, test.ShouldNotBeNil)

	all, err := s.History(ctx, "ft", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, all, test.ShouldHaveLength, 3)
	test.That(t, all[0].Op, test.ShouldEqual, "find_tool_params")
	test.That(t, all[0].Success, test.ShouldBeFalse)
	test.That(t, all[0].Message, test.ShouldEqual, "poses too close")
	test.That(t, all[0].At, test.ShouldResemble, t0.Add(2*time.Second))
	test.That(t, string(all[1].Params), test.ShouldEqual, `{"weight":10}`)
	test.That(t, all[2].Params, test.ShouldBeNil)

	recent, err := s.History(ctx, "ft", 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, recent, test.ShouldHaveLength, 1)
	test.That(t, recent[0].Op, test.ShouldEqual, "find_tool_params")
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Save(context.Background(), "ft", calibration.Snapshot{Mode: calibration.ModeNone, SavedAt: t0}), test.ShouldBeNil)
	_, ok, err := s.Load(context.Background(), "ft")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, s.Close(), test.ShouldBeNil)
}
