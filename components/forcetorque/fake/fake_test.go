package fake

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/netft/calibration"
	"go.viam.com/netft/components/forcetorque"
	"go.viam.com/netft/logging"
	"go.viam.com/netft/referenceframe"
	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/wrench"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newFrameSystem(t *testing.T) referenceframe.FrameSystem {
	t.Helper()
	fs, err := referenceframe.NewFrameSystemFromConfig("fake", []referenceframe.LinkConfig{
		{ID: "tool", Parent: referenceframe.World, Dynamic: true},
		{ID: "ft", Parent: "tool"},
	})
	test.That(t, err, test.ShouldBeNil)
	return fs
}

func TestWrenchFollowsOrientation(t *testing.T) {
	fs := newFrameSystem(t)
	clk := clock.NewMock()
	clk.Set(t0)
	payload := calibration.PayloadParameters{Weight: 10, LeverArm: 0.1}
	s, err := NewSensor(Config{Frame: "ft", Payload: payload, Offset: [6]float64{1, 0, 0, 0, 0, 0}}, fs, clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Name(), test.ShouldEqual, "ft")

	// no pose yet: level
	w, err := s.Wrench(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.Frame, test.ShouldEqual, "ft")
	test.That(t, w.Time, test.ShouldResemble, t0)
	test.That(t, wrench.AlmostEqual(w, wrench.FromVector([6]float64{1, 0, -10, 0, 0, 0}, "", t0), 1e-9), test.ShouldBeTrue)

	// rolled 90 degrees about x, gravity lies along the sensor -y axis
	rolled := &spatialmath.EulerAngles{Roll: math.Pi / 2}
	test.That(t, fs.SetPose("tool", spatialmath.NewPose(r3.Vector{}, rolled), clk.Now()), test.ShouldBeNil)
	w, err = s.Wrench(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	expected := wrench.FromVector([6]float64{1, 0, 0, 0, 0, 0}, "ft", t0).Add(payload.GravityEffect(rolled, "ft"))
	test.That(t, wrench.AlmostEqual(w, expected, 1e-9), test.ShouldBeTrue)
	test.That(t, math.Abs(w.Force.Y), test.ShouldAlmostEqual, 10, 1e-9)

	s.SetContact(wrench.Wrench{Force: r3.Vector{X: 5}})
	w, err = s.Wrench(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.Force.X, test.ShouldAlmostEqual, 6, 1e-9)

	readings, err := forcetorque.Readings(context.Background(), s, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings["force_x"], test.ShouldAlmostEqual, 6, 1e-9)
	test.That(t, readings["frame"], test.ShouldEqual, "ft")

	test.That(t, s.Close(context.Background()), test.ShouldBeNil)
	_, err = s.Wrench(context.Background(), nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNoiseIsSeeded(t *testing.T) {
	read := func() wrench.Wrench {
		clk := clock.NewMock()
		s, err := NewSensor(Config{Frame: "ft", Noise: 0.5, Seed: 7}, nil, clk, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		w, err := s.Wrench(context.Background(), nil)
		test.That(t, err, test.ShouldBeNil)
		return w
	}
	a, b := read(), read()
	test.That(t, a, test.ShouldResemble, b)
	test.That(t, a.Force.Norm(), test.ShouldBeGreaterThan, 0)
}

func TestNewSensorValidates(t *testing.T) {
	_, err := NewSensor(Config{}, nil, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewSensor(Config{Frame: "ft", Payload: calibration.PayloadParameters{Weight: -1}}, nil, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
