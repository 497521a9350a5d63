package calibration

import (
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/wrench"
)

var (
	sensorOffset = wrench.FromVector([6]float64{1.5, -2, 0.7, 0.01, 0.03, -0.02}, "ft", time.Time{})
	payload      = PayloadParameters{Weight: 12.5, LeverArm: 0.08}
)

// simulate produces the reading a sensor with the given constant offset reports while holding
// the payload at orientation o. The world up axis in the sensor frame is the last row of the
// sensor-to-world rotation matrix.
func simulate(offset wrench.Wrench, p PayloadParameters, o spatialmath.Orientation) wrench.Wrench {
	up := o.RotationMatrix().Row(2)
	force := up.Mul(-p.Weight)
	torque := r3.Vector{Z: p.LeverArm}.Cross(force)
	return wrench.Wrench{
		Force:  offset.Force.Add(force),
		Torque: offset.Torque.Add(torque),
		Frame:  "ft",
	}
}

var orientations = []spatialmath.Orientation{
	spatialmath.NewZeroOrientation(),
	&spatialmath.R4AA{Theta: math.Pi / 2, RX: 1},
	&spatialmath.R4AA{Theta: math.Pi / 3, RY: 1},
	&spatialmath.EulerAngles{Roll: 0.4, Pitch: -0.9, Yaw: 2.2},
	&spatialmath.R4AA{Theta: math.Pi, RX: 1, RY: 1},
}

func TestFixedBias(t *testing.T) {
	var b BiasState
	test.That(t, b.Mode(), test.ShouldEqual, ModeNone)
	raw := simulate(sensorOffset, payload, orientations[0])

	out, err := b.Correct(raw, nil, payload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, raw)

	b.SetFixedOrientationBias(raw)
	test.That(t, b.Mode(), test.ShouldEqual, ModeFixed)
	test.That(t, b.IsBiased, test.ShouldBeTrue)
	test.That(t, b.IsGravityBiased, test.ShouldBeFalse)
	test.That(t, b.IsNewBias, test.ShouldBeTrue)

	out, err = b.Correct(raw, nil, payload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, wrench.AlmostEqual(out, wrench.Zero("ft", time.Time{}), 1e-12), test.ShouldBeTrue)

	push := wrench.Wrench{Force: r3.Vector{0, 3, 0}, Torque: r3.Vector{0.1, 0, 0}}
	out, err = b.Correct(raw.Add(push), nil, payload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, wrench.AlmostEqual(out, push, 1e-12), test.ShouldBeTrue)

	b.ClearNewFlags()
	test.That(t, b.IsNewBias, test.ShouldBeFalse)

	// A fixed bias ignores gravity, so a reorientation shows up as a load.
	out, err = b.Correct(simulate(sensorOffset, payload, orientations[1]), nil, payload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.ForceMagnitude(), test.ShouldBeGreaterThan, 1.)
}

func TestGravityCompensation(t *testing.T) {
	var b BiasState
	ref := orientations[2]
	test.That(t, b.CompensateForGravity(simulate(sensorOffset, payload, ref), ref), test.ShouldBeNil)
	test.That(t, b.Mode(), test.ShouldEqual, ModeGravity)
	test.That(t, b.IsBiased, test.ShouldBeFalse)
	test.That(t, b.IsNewGravityBias, test.ShouldBeTrue)
	test.That(t, b.NeedsOrientation(), test.ShouldBeTrue)

	// With only the payload acting, the corrected reading is zero at every orientation.
	for _, o := range orientations {
		out, err := b.Correct(simulate(sensorOffset, payload, o), o, payload)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, wrench.AlmostEqual(out, wrench.Wrench{}, 1e-9), test.ShouldBeTrue)
	}

	// External loads survive.
	push := wrench.Wrench{Force: r3.Vector{-2, 0, 1}, Torque: r3.Vector{0, 0, 0.3}}
	out, err := b.Correct(simulate(sensorOffset, payload, orientations[3]).Add(push), orientations[3], payload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, wrench.AlmostEqual(out, push, 1e-9), test.ShouldBeTrue)

	bias, err := b.CurrentBias("ft", orientations[3], payload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, wrench.AlmostEqual(bias, simulate(sensorOffset, payload, orientations[3]), 1e-9), test.ShouldBeTrue)

	_, err = b.Correct(simulate(sensorOffset, payload, ref), nil, payload)
	test.That(t, errors.Is(err, ErrCalibrationPrecondition), test.ShouldBeTrue)

	test.That(t, errors.Is(b.CompensateForGravity(wrench.Wrench{}, nil), ErrCalibrationPrecondition), test.ShouldBeTrue)
}

func TestGravityWithoutPayloadMatchesFixed(t *testing.T) {
	raw := simulate(sensorOffset, PayloadParameters{}, orientations[0])
	var fixed, gravity BiasState
	fixed.SetFixedOrientationBias(raw)
	test.That(t, gravity.CompensateForGravity(raw, orientations[0]), test.ShouldBeNil)

	sample := raw.Add(wrench.FromVector([6]float64{1, 2, 3, 4, 5, 6}, "ft", time.Time{}))
	a, err := fixed.Correct(sample, nil, PayloadParameters{})
	test.That(t, err, test.ShouldBeNil)
	b, err := gravity.Correct(sample, orientations[3], PayloadParameters{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, wrench.AlmostEqual(a, b, 1e-12), test.ShouldBeTrue)
}

func TestWeightBias(t *testing.T) {
	var b BiasState
	err := b.SetWeightBias(wrench.Wrench{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrCalibrationPrecondition), test.ShouldBeTrue)
	_, err = b.NetWeight(wrench.Wrench{}, orientations[0])
	test.That(t, errors.Is(err, ErrCalibrationPrecondition), test.ShouldBeTrue)

	level := orientations[0]
	b.SetFixedOrientationBias(simulate(sensorOffset, payload, level))
	test.That(t, b.SetWeightBias(wrench.Wrench{Force: r3.Vector{0, 0, -0.5}}), test.ShouldBeNil)
	test.That(t, b.HasWeightBias, test.ShouldBeTrue)

	// Adding 5 N of load pushes the sensor down by 5 N more.
	w, err := b.NetWeight(wrench.Wrench{Force: r3.Vector{0, 0, -5.5}}, level)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w, test.ShouldAlmostEqual, 5., 1e-12)

	// A new baseline invalidates the weight bias.
	b.SetFixedOrientationBias(simulate(sensorOffset, payload, level))
	test.That(t, b.HasWeightBias, test.ShouldBeFalse)
}

func TestFindToolParams(t *testing.T) {
	samples := []PoseSample{
		{Reading: simulate(sensorOffset, payload, orientations[0]), Orientation: orientations[0]},
		{Reading: simulate(sensorOffset, payload, orientations[1]), Orientation: orientations[1]},
	}
	params, err := FindToolParams(samples, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.Weight, test.ShouldAlmostEqual, payload.Weight, payload.Weight*0.01)
	test.That(t, params.LeverArm, test.ShouldAlmostEqual, payload.LeverArm, payload.LeverArm*0.01)

	// More poses make an overdetermined fit with the same answer.
	for _, o := range orientations[2:] {
		samples = append(samples, PoseSample{Reading: simulate(sensorOffset, payload, o), Orientation: o})
	}
	params, err = FindToolParams(samples, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.Weight, test.ShouldAlmostEqual, payload.Weight, 1e-9)
	test.That(t, params.LeverArm, test.ShouldAlmostEqual, payload.LeverArm, 1e-9)
}

func TestFindToolParamsFailures(t *testing.T) {
	sample := func(p PayloadParameters, o spatialmath.Orientation) PoseSample {
		return PoseSample{Reading: simulate(sensorOffset, p, o), Orientation: o}
	}

	_, err := FindToolParams([]PoseSample{sample(payload, orientations[0])}, 0)
	test.That(t, errors.Is(err, ErrCalibrationPrecondition), test.ShouldBeTrue)

	// Nearly the same orientation twice.
	nearby := &spatialmath.R4AA{Theta: 0.05, RX: 1}
	_, err = FindToolParams([]PoseSample{sample(payload, orientations[0]), sample(payload, nearby)}, 0)
	test.That(t, errors.Is(err, ErrEstimationDegenerate), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "apart")

	// Turning the sensor upside down reveals the weight but not the lever arm.
	flipped := &spatialmath.R4AA{Theta: math.Pi, RX: 1}
	_, err = FindToolParams([]PoseSample{sample(payload, orientations[0]), sample(payload, flipped)}, 0)
	test.That(t, errors.Is(err, ErrEstimationDegenerate), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "lever arm")

	// A payload pulling upward is not a weight.
	lifted := PayloadParameters{Weight: -4, LeverArm: 0.1}
	_, err = FindToolParams([]PoseSample{sample(lifted, orientations[0]), sample(lifted, orientations[1])}, 0)
	test.That(t, errors.Is(err, ErrEstimationDegenerate), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not positive")

	_, err = FindToolParams([]PoseSample{sample(payload, orientations[0]), {Reading: wrench.Wrench{}}}, 0)
	test.That(t, errors.Is(err, ErrCalibrationPrecondition), test.ShouldBeTrue)
}

func TestAverage(t *testing.T) {
	_, _, err := Average(nil)
	test.That(t, errors.Is(err, ErrCalibrationPrecondition), test.ShouldBeTrue)

	last := time.Now()
	readings := []wrench.Wrench{
		wrench.FromVector([6]float64{1, 2, 3, 0, 0, 0}, "ft", last.Add(-time.Second)),
		wrench.FromVector([6]float64{3, 2, 1, 0, 0, 2}, "ft", last),
	}
	mean, spread, err := Average(readings)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mean.Vector(), test.ShouldResemble, [6]float64{2, 2, 2, 0, 0, 1})
	test.That(t, mean.Time, test.ShouldEqual, last)
	test.That(t, spread[0], test.ShouldAlmostEqual, 1.)
	test.That(t, spread[1], test.ShouldAlmostEqual, 0.)
}

func TestPayloadValidate(t *testing.T) {
	test.That(t, payload.Validate(), test.ShouldBeNil)
	test.That(t, errors.Is(PayloadParameters{Weight: -1}.Validate(), ErrInvalidConfiguration), test.ShouldBeTrue)
	test.That(t, errors.Is(PayloadParameters{LeverArm: math.Inf(1)}.Validate(), ErrInvalidConfiguration), test.ShouldBeTrue)
}

func TestSnapshotRestore(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	var gravity BiasState
	ref := orientations[3]
	test.That(t, gravity.CompensateForGravity(simulate(sensorOffset, payload, ref), ref), test.ShouldBeNil)
	snap := gravity.Snapshot("ft", payload, at)
	test.That(t, snap.Mode, test.ShouldEqual, ModeGravity)

	restored, restoredPayload, err := snap.Restore()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, restoredPayload, test.ShouldResemble, payload)
	test.That(t, restored.IsNewGravityBias, test.ShouldBeFalse)
	out, err := restored.Correct(simulate(sensorOffset, payload, orientations[1]), orientations[1], payload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, wrench.AlmostEqual(out, wrench.Wrench{}, 1e-9), test.ShouldBeTrue)

	var fixed BiasState
	fixed.SetBiasData(sensorOffset)
	restored, _, err = fixed.Snapshot("ft", PayloadParameters{}, at).Restore()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, restored.Mode(), test.ShouldEqual, ModeFixed)
	test.That(t, restored.FixedBias.Vector(), test.ShouldResemble, sensorOffset.Vector())

	var none BiasState
	restored, _, err = none.Snapshot("ft", PayloadParameters{}, at).Restore()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, restored.Mode(), test.ShouldEqual, ModeNone)

	_, _, err = Snapshot{Mode: "weird"}.Restore()
	test.That(t, errors.Is(err, ErrInvalidConfiguration), test.ShouldBeTrue)
}
