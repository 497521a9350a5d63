package wrench

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/netft/referenceframe"
	"go.viam.com/netft/spatialmath"
)

func TestArithmetic(t *testing.T) {
	now := time.Now()
	a := FromVector([6]float64{1, 2, 3, 4, 5, 6}, "ft", now)
	b := FromVector([6]float64{1, 1, 1, 1, 1, 1}, "other", now.Add(time.Second))

	diff := a.Sub(b)
	test.That(t, diff.Vector(), test.ShouldResemble, [6]float64{0, 1, 2, 3, 4, 5})
	test.That(t, diff.Frame, test.ShouldEqual, "ft")
	test.That(t, diff.Time, test.ShouldEqual, now)
	test.That(t, diff.Add(b).Vector(), test.ShouldResemble, a.Vector())
	test.That(t, a.Scale(2).Vector(), test.ShouldResemble, [6]float64{2, 4, 6, 8, 10, 12})
	test.That(t, FromVector([6]float64{3, 4, 0, 0, 0, 2}, "", now).ForceMagnitude(), test.ShouldEqual, 5.)
	test.That(t, FromVector([6]float64{3, 4, 0, 0, 0, 2}, "", now).TorqueMagnitude(), test.ShouldEqual, 2.)

	test.That(t, a.IsFinite(), test.ShouldBeTrue)
	test.That(t, FromVector([6]float64{math.NaN()}, "", now).IsFinite(), test.ShouldBeFalse)
	test.That(t, Zero("tool", now), test.ShouldResemble, Wrench{Frame: "tool", Time: now})
}

func TestJSON(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	w := FromVector([6]float64{1, -2, 3, 0.1, 0.2, -0.3}, "ft", at)
	data, err := json.Marshal(w)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, `"force":{"x":1,"y":-2,"z":3}`)

	var decoded Wrench
	test.That(t, json.Unmarshal(data, &decoded), test.ShouldBeNil)
	test.That(t, decoded.Vector(), test.ShouldResemble, w.Vector())
	test.That(t, decoded.Frame, test.ShouldEqual, "ft")
	test.That(t, decoded.Time.Equal(at), test.ShouldBeTrue)

	test.That(t, json.Unmarshal([]byte(`{"force": 3}`), &decoded), test.ShouldNotBeNil)
}

func TestTransportTranslation(t *testing.T) {
	// A 10 N downward force at a point 0.1 along x produces a 1 Nm moment about y at the origin.
	w := Wrench{Force: r3.Vector{0, 0, -10}, Frame: "ft"}
	out := Transport(w, spatialmath.NewPoseFromPoint(r3.Vector{0.1, 0, 0}), "base")
	test.That(t, out.Frame, test.ShouldEqual, "base")
	test.That(t, spatialmath.R3VectorAlmostEqual(out.Force, r3.Vector{0, 0, -10}, 1e-12), test.ShouldBeTrue)
	test.That(t, spatialmath.R3VectorAlmostEqual(out.Torque, r3.Vector{0, 1, 0}, 1e-12), test.ShouldBeTrue)
}

func TestTransportRoundTrip(t *testing.T) {
	pose := spatialmath.NewPose(r3.Vector{0.2, -0.1, 0.5}, &spatialmath.EulerAngles{Roll: 0.4, Pitch: -1.1, Yaw: 2.0})
	w := FromVector([6]float64{3, -1, 7, 0.2, 0.5, -0.4}, "ft", time.Now())

	there := Transport(w, pose, "world")
	back := Transport(there, spatialmath.PoseInverse(pose), "ft")
	test.That(t, AlmostEqual(back, w, 1e-9), test.ShouldBeTrue)

	// Force and torque magnitudes are preserved by a pure rotation.
	rotated := Rotate(w, pose.Orientation(), "world")
	test.That(t, rotated.ForceMagnitude(), test.ShouldAlmostEqual, w.ForceMagnitude(), 1e-9)
	test.That(t, rotated.TorqueMagnitude(), test.ShouldAlmostEqual, w.TorqueMagnitude(), 1e-9)
}

type fakeProvider struct {
	poses map[[2]string]spatialmath.Pose
	calls int
}

func (f *fakeProvider) Lookup(_ context.Context, source, target string, at time.Time) (spatialmath.Pose, error) {
	f.calls++
	pose, ok := f.poses[[2]string{source, target}]
	if !ok {
		return nil, referenceframe.NewTransformUnavailableError(source, target, at, nil)
	}
	return pose, nil
}

func TestTransformer(t *testing.T) {
	provider := &fakeProvider{poses: map[[2]string]spatialmath.Pose{
		{"tool", "tip"}: spatialmath.NewPoseFromPoint(r3.Vector{0, 0, -0.1}),
	}}
	tf := NewTransformer(provider)
	ctx := context.Background()
	w := Wrench{Force: r3.Vector{1, 0, 0}, Frame: "tool"}

	// Same frame and empty tip short-circuit.
	out, err := tf.Transform(ctx, w, "tool")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, w)
	out, err = tf.ApplyToolTipOffset(ctx, w, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, w)
	test.That(t, provider.calls, test.ShouldEqual, 0)

	out, err = tf.ApplyToolTipOffset(ctx, w, "tip")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Frame, test.ShouldEqual, "tip")
	test.That(t, spatialmath.R3VectorAlmostEqual(out.Torque, r3.Vector{0, -0.1, 0}, 1e-12), test.ShouldBeTrue)

	_, err = tf.Transform(ctx, w, "world")
	test.That(t, errors.Is(err, referenceframe.ErrTransformUnavailable), test.ShouldBeTrue)
}
