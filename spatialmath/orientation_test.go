package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

// represent a 45 degree rotation around the x axis in all the representations.
var (
	th    = math.Pi / 4.
	q45x  = quat.Number{math.Cos(th / 2.), math.Sin(th / 2.), 0, 0}
	aa45x = &R4AA{th, 1., 0., 0.}
	ea45x = &EulerAngles{Roll: th, Pitch: 0, Yaw: 0}
	rm45x = NewRotationMatrix([9]float64{
		1, 0, 0,
		0, math.Cos(th), -math.Sin(th),
		0, math.Sin(th), math.Cos(th),
	})
)

func TestZeroOrientation(t *testing.T) {
	zero := NewZeroOrientation()
	test.That(t, zero.AxisAngles(), test.ShouldResemble, &R4AA{RZ: 1})
	test.That(t, zero.Quaternion(), test.ShouldResemble, quat.Number{1, 0, 0, 0})
	test.That(t, zero.EulerAngles(), test.ShouldResemble, &EulerAngles{})
	test.That(t, RotateVector(zero, r3.Vector{1, 2, 3}), test.ShouldResemble, r3.Vector{1, 2, 3})
}

func checkAgainst45x(t *testing.T, o Orientation) {
	t.Helper()
	test.That(t, QuaternionAlmostEqual(o.Quaternion(), q45x, 1e-9), test.ShouldBeTrue)
	test.That(t, o.AxisAngles().Theta, test.ShouldAlmostEqual, aa45x.Theta)
	test.That(t, o.AxisAngles().RX, test.ShouldAlmostEqual, aa45x.RX)
	test.That(t, o.AxisAngles().RY, test.ShouldAlmostEqual, aa45x.RY)
	test.That(t, o.AxisAngles().RZ, test.ShouldAlmostEqual, aa45x.RZ)
	test.That(t, o.EulerAngles().Roll, test.ShouldAlmostEqual, ea45x.Roll)
	test.That(t, o.EulerAngles().Pitch, test.ShouldAlmostEqual, ea45x.Pitch)
	test.That(t, o.EulerAngles().Yaw, test.ShouldAlmostEqual, ea45x.Yaw)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, o.RotationMatrix().At(i, j), test.ShouldAlmostEqual, rm45x.At(i, j))
		}
	}
}

func TestOrientationRepresentations(t *testing.T) {
	qq45x := quaternion(q45x)
	checkAgainst45x(t, &qq45x)
	checkAgainst45x(t, aa45x)
	checkAgainst45x(t, ea45x)
	checkAgainst45x(t, rm45x)
}

func TestRotateVector(t *testing.T) {
	// 90 degrees about z takes x to y.
	o := &R4AA{Theta: math.Pi / 2, RZ: 1}
	v := RotateVector(o, r3.Vector{1, 0, 0})
	test.That(t, R3VectorAlmostEqual(v, r3.Vector{0, 1, 0}, 1e-9), test.ShouldBeTrue)

	// The rotation matrix agrees with the quaternion rotation.
	ea := &EulerAngles{Roll: 0.3, Pitch: -0.7, Yaw: 1.9}
	in := r3.Vector{0.4, -1.2, 2.5}
	test.That(t, R3VectorAlmostEqual(RotateVector(ea, in), ea.RotationMatrix().Mul(in), 1e-9), test.ShouldBeTrue)
	back := ea.RotationMatrix().Transpose().Mul(RotateVector(ea, in))
	test.That(t, R3VectorAlmostEqual(back, in, 1e-9), test.ShouldBeTrue)
}

func TestOrientationInverse(t *testing.T) {
	b := &EulerAngles{Yaw: 0.9}
	test.That(t, OrientationInverse(b).EulerAngles().Yaw, test.ShouldAlmostEqual, -0.9)
	test.That(t, OrientationAlmostEqual(OrientationInverse(OrientationInverse(b)), b), test.ShouldBeTrue)
}

func TestQuaternionDoubleCover(t *testing.T) {
	neg := quat.Scale(-1, q45x)
	test.That(t, QuaternionAlmostEqual(neg, q45x, 1e-9), test.ShouldBeTrue)
	aa := quatToR4AA(neg)
	test.That(t, aa.Theta, test.ShouldAlmostEqual, th)
	test.That(t, aa.RX, test.ShouldAlmostEqual, 1.)
}

func TestAxisAngleQuaternion(t *testing.T) {
	// the axis does not have to be unit length
	aa := &R4AA{Theta: math.Pi / 2, RZ: 2}
	v := RotateVector(aa, r3.Vector{1, 0, 0})
	test.That(t, R3VectorAlmostEqual(v, r3.Vector{0, 1, 0}, 1e-9), test.ShouldBeTrue)
	test.That(t, aa.RZ, test.ShouldEqual, 2.)

	test.That(t, (&R4AA{Theta: 1}).Quaternion(), test.ShouldResemble, quat.Number{Real: 1})

	// a half turn
	back := quatToR4AA((&R4AA{Theta: math.Pi, RY: 1}).Quaternion())
	test.That(t, back.Theta, test.ShouldAlmostEqual, math.Pi)
	test.That(t, back.RY, test.ShouldAlmostEqual, 1.)
}
