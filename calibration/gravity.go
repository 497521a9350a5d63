package calibration

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/wrench"
)

// PayloadParameters describe the load hanging off the sensor. The world z axis points up and the
// payload center of mass lies on the sensor z axis.
type PayloadParameters struct {
	// Weight is the magnitude of the payload's gravity force.
	Weight float64 `json:"weight"`
	// LeverArm is the z coordinate of the payload center of mass in the sensor frame.
	LeverArm float64 `json:"lever_arm"`
}

// Validate rejects non-finite or negative parameters.
func (p PayloadParameters) Validate() error {
	if math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) || math.IsNaN(p.LeverArm) || math.IsInf(p.LeverArm, 0) {
		return NewInvalidConfigurationError("payload weight and lever arm must be finite, got %v and %v", p.Weight, p.LeverArm)
	}
	if p.Weight < 0 {
		return NewInvalidConfigurationError("payload weight must not be negative, got %v", p.Weight)
	}
	return nil
}

// WorldUp returns the world +z axis expressed in sensor coordinates.
func WorldUp(sensorInWorld spatialmath.Orientation) r3.Vector {
	return spatialmath.RotateVector(spatialmath.OrientationInverse(sensorInWorld), r3.Vector{Z: 1})
}

// GravityEffect is the wrench the payload's weight produces at the sensor origin, in sensor
// coordinates, for the given sensor orientation in the world.
func (p PayloadParameters) GravityEffect(sensorInWorld spatialmath.Orientation, frame string) wrench.Wrench {
	force := WorldUp(sensorInWorld).Mul(-p.Weight)
	torque := r3.Vector{Z: p.LeverArm}.Cross(force)
	return wrench.Wrench{Force: force, Torque: torque, Frame: frame}
}
