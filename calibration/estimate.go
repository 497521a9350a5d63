package calibration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/utils"
	"go.viam.com/netft/wrench"
)

// DefaultMinSeparation is the smallest angle, in radians, between the world vertical as seen
// by the sensor in two poses for payload estimation to be attempted.
var DefaultMinSeparation = utils.DegToRad(20)

var (
	errSVDFailed      = errors.New("singular value decomposition failed")
	errIllConditioned = errors.New("system is ill conditioned")
)

// maxConditionNumber bounds the conditioning of the least squares systems.
const maxConditionNumber = 1e8

// PoseSample is a reading taken while the sensor was held still at a known orientation.
type PoseSample struct {
	// Reading is in the sensor frame. Any constant offset cancels out, so raw or fixed-biased
	// readings both work.
	Reading wrench.Wrench
	// Orientation is the sensor orientation in the world.
	Orientation spatialmath.Orientation
}

// FindToolParams estimates the payload weight and lever arm from readings at two or more
// orientations. The model is
//
//	f_i = b_f - W·u_i
//	τ_i = b_τ - W·L·(ẑ × u_i)
//
// where u_i is the world up axis in the sensor frame, b_f and b_τ are unknown constant offsets,
// W is the weight and L the lever arm along the sensor z axis. The payload center of mass must
// lie on the sensor z axis for L to be meaningful.
func FindToolParams(samples []PoseSample, minSeparation float64) (PayloadParameters, error) {
	if len(samples) < 2 {
		return PayloadParameters{}, NewPreconditionError("payload estimation needs at least two poses, got %d", len(samples))
	}
	if minSeparation <= 0 {
		minSeparation = DefaultMinSeparation
	}

	ups := make([]r3.Vector, len(samples))
	levers := make([]r3.Vector, len(samples))
	for i, s := range samples {
		if s.Orientation == nil {
			return PayloadParameters{}, NewPreconditionError("pose %d has no orientation", i)
		}
		if !s.Reading.IsFinite() {
			return PayloadParameters{}, NewInvalidConfigurationError("pose %d has a non-finite reading", i)
		}
		ups[i] = WorldUp(s.Orientation)
		levers[i] = r3.Vector{Z: 1}.Cross(ups[i])
	}

	separation := 0.
	leverExcitation := 0.
	for i := range ups {
		for j := i + 1; j < len(ups); j++ {
			separation = math.Max(separation, spatialmath.AngleBetween(ups[i], ups[j]))
			leverExcitation = math.Max(leverExcitation, levers[i].Sub(levers[j]).Norm())
		}
	}
	if separation < minSeparation {
		return PayloadParameters{}, NewEstimationDegenerateError(
			"poses are only %.1f degrees apart, need at least %.1f", utils.RadToDeg(separation), utils.RadToDeg(minSeparation))
	}

	forces := make([]r3.Vector, len(samples))
	torques := make([]r3.Vector, len(samples))
	for i, s := range samples {
		forces[i] = s.Reading.Force
		torques[i] = s.Reading.Torque
	}

	weight, err := solveOffsetAndScale(forces, ups)
	if err != nil {
		return PayloadParameters{}, NewEstimationDegenerateError("cannot solve for weight: %v", err)
	}
	weight = -weight
	if weight <= 0 || math.IsNaN(weight) {
		return PayloadParameters{}, NewEstimationDegenerateError("estimated weight %v is not positive", weight)
	}

	// Only tilting the sensor z axis relative to the vertical exposes the lever arm.
	if leverExcitation < math.Sin(minSeparation/2) {
		return PayloadParameters{}, NewEstimationDegenerateError(
			"poses do not tilt the sensor z axis enough to observe a lever arm along it")
	}
	moment, err := solveOffsetAndScale(torques, levers)
	if err != nil {
		return PayloadParameters{}, NewEstimationDegenerateError("cannot solve for lever arm: %v", err)
	}

	return PayloadParameters{Weight: weight, LeverArm: -moment / weight}, nil
}

// solveOffsetAndScale fits y_i = b + s·x_i in the least squares sense over all samples and
// returns s. b is a free 3-vector.
func solveOffsetAndScale(ys, xs []r3.Vector) (float64, error) {
	rows := 3 * len(ys)
	a := mat.NewDense(rows, 4, nil)
	b := mat.NewVecDense(rows, nil)
	for i := range ys {
		x := [3]float64{xs[i].X, xs[i].Y, xs[i].Z}
		y := [3]float64{ys[i].X, ys[i].Y, ys[i].Z}
		for k := 0; k < 3; k++ {
			a.Set(3*i+k, k, 1)
			a.Set(3*i+k, 3, x[k])
			b.SetVec(3*i+k, y[k])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDNone); !ok {
		return 0, errSVDFailed
	}
	if cond := svd.Cond(); cond > maxConditionNumber || math.IsInf(cond, 0) || math.IsNaN(cond) {
		return 0, errIllConditioned
	}

	var solution mat.VecDense
	if err := solution.SolveVec(a, b); err != nil {
		return 0, err
	}
	return solution.AtVec(3), nil
}
