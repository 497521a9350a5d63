package pipeline

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/netft/calibration"
	"go.viam.com/netft/wrench"
)

// Thresholds are the limits on the filtered tool frame wrench beyond which motion is cancelled.
// The zero value checks nothing.
type Thresholds struct {
	// Force and Torque bound the absolute value of each component when PerAxis is set.
	Force   r3.Vector `json:"force"`
	Torque  r3.Vector `json:"torque"`
	PerAxis bool      `json:"per_axis"`

	// MaxForce and MaxTorque bound the magnitudes. Zero disables the check.
	MaxForce  float64 `json:"max_force,omitempty"`
	MaxTorque float64 `json:"max_torque,omitempty"`
}

// Enabled reports whether any limit is configured.
func (t Thresholds) Enabled() bool {
	return t.PerAxis || t.MaxForce > 0 || t.MaxTorque > 0
}

func positiveLimit(name string, v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return calibration.NewInvalidConfigurationError("%s limit must be positive and finite, got %v", name, v)
	}
	return nil
}

// WithAxisLimits returns t with per-axis limits installed. Every limit must be positive.
func (t Thresholds) WithAxisLimits(force, torque r3.Vector) (Thresholds, error) {
	limits := []struct {
		name string
		v    float64
	}{
		{"force x", force.X}, {"force y", force.Y}, {"force z", force.Z},
		{"torque x", torque.X}, {"torque y", torque.Y}, {"torque z", torque.Z},
	}
	for _, l := range limits {
		if err := positiveLimit(l.name, l.v); err != nil {
			return t, err
		}
	}
	t.Force, t.Torque, t.PerAxis = force, torque, true
	return t, nil
}

// WithMagnitudeLimits returns t with force and torque magnitude limits installed.
func (t Thresholds) WithMagnitudeLimits(force, torque float64) (Thresholds, error) {
	if err := positiveLimit("force magnitude", force); err != nil {
		return t, err
	}
	if err := positiveLimit("torque magnitude", torque); err != nil {
		return t, err
	}
	t.MaxForce, t.MaxTorque = force, torque
	return t, nil
}

// Exceeded returns a description of the first limit w breaks, if any.
func (t Thresholds) Exceeded(w wrench.Wrench) (string, bool) {
	if t.PerAxis {
		axes := []struct {
			name         string
			value, limit float64
		}{
			{"force x", w.Force.X, t.Force.X}, {"force y", w.Force.Y, t.Force.Y}, {"force z", w.Force.Z, t.Force.Z},
			{"torque x", w.Torque.X, t.Torque.X}, {"torque y", w.Torque.Y, t.Torque.Y}, {"torque z", w.Torque.Z, t.Torque.Z},
		}
		for _, a := range axes {
			if math.Abs(a.value) > a.limit {
				return fmt.Sprintf("%s %.4g exceeds threshold %.4g", a.name, a.value, a.limit), true
			}
		}
	}
	if t.MaxForce > 0 && w.ForceMagnitude() > t.MaxForce {
		return fmt.Sprintf("force magnitude %.4g exceeds max %.4g", w.ForceMagnitude(), t.MaxForce), true
	}
	if t.MaxTorque > 0 && w.TorqueMagnitude() > t.MaxTorque {
		return fmt.Sprintf("torque magnitude %.4g exceeds max %.4g", w.TorqueMagnitude(), t.MaxTorque), true
	}
	return "", false
}
