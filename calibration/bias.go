// Package calibration removes sensor offset and payload gravity from raw force/torque readings
// and estimates the payload from readings taken at different orientations.
package calibration

import (
	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/wrench"
)

// Mode is the active bias model.
type Mode string

const (
	// ModeNone passes raw readings through.
	ModeNone Mode = "none"
	// ModeFixed subtracts a constant wrench. It ignores gravity and is only valid while the
	// sensor orientation does not change.
	ModeFixed Mode = "fixed"
	// ModeGravity subtracts the constant sensor offset plus the payload gravity at the current orientation.
	ModeGravity Mode = "gravity"
)

// BiasState is the bias model applied to raw readings. At most one of IsBiased and
// IsGravityBiased is true.
type BiasState struct {
	FixedBias wrench.Wrench

	// GravityReference is the raw reading captured when gravity compensation was enabled and
	// GravityOrientation the sensor orientation in the world at that moment.
	GravityReference   wrench.Wrench
	GravityOrientation spatialmath.Orientation

	WeightBias    wrench.Wrench
	HasWeightBias bool

	IsBiased        bool
	IsGravityBiased bool

	// IsNewBias and IsNewGravityBias are raised by a bias capture and cleared once the next
	// sample has been processed.
	IsNewBias        bool
	IsNewGravityBias bool
}

// Mode reports the active bias model.
func (b BiasState) Mode() Mode {
	switch {
	case b.IsGravityBiased:
		return ModeGravity
	case b.IsBiased:
		return ModeFixed
	default:
		return ModeNone
	}
}

// HasBaseline reports whether any bias has been captured.
func (b BiasState) HasBaseline() bool {
	return b.IsBiased || b.IsGravityBiased
}

// SetFixedOrientationBias stores the raw reading as a constant offset. The sensor must be at
// rest when this is called.
func (b *BiasState) SetFixedOrientationBias(raw wrench.Wrench) {
	b.setFixed(raw)
}

// SetBiasData installs an externally supplied constant offset.
func (b *BiasState) SetBiasData(bias wrench.Wrench) {
	b.setFixed(bias)
}

func (b *BiasState) setFixed(bias wrench.Wrench) {
	b.FixedBias = bias
	b.IsBiased = true
	b.IsGravityBiased = false
	b.IsNewBias = true
	b.IsNewGravityBias = false
	b.GravityOrientation = nil
	b.GravityReference = wrench.Wrench{}
	b.clearWeightBias()
}

// CompensateForGravity switches to the gravity model using the raw reading and the sensor
// orientation in the world at the same instant.
func (b *BiasState) CompensateForGravity(raw wrench.Wrench, sensorInWorld spatialmath.Orientation) error {
	if sensorInWorld == nil {
		return NewPreconditionError("gravity compensation needs the sensor orientation in the world")
	}
	b.GravityReference = raw
	b.GravityOrientation = sensorInWorld
	b.IsGravityBiased = true
	b.IsBiased = false
	b.IsNewGravityBias = true
	b.IsNewBias = false
	b.FixedBias = wrench.Wrench{}
	b.clearWeightBias()
	return nil
}

// SetWeightBias records a corrected reading as the zero for weight measurements.
func (b *BiasState) SetWeightBias(corrected wrench.Wrench) error {
	if !b.HasBaseline() {
		return NewPreconditionError("weight bias needs a baseline bias to be set first")
	}
	b.WeightBias = corrected
	b.HasWeightBias = true
	return nil
}

func (b *BiasState) clearWeightBias() {
	b.WeightBias = wrench.Wrench{}
	b.HasWeightBias = false
}

// ClearNewFlags lowers the one-shot flags.
func (b *BiasState) ClearNewFlags() {
	b.IsNewBias = false
	b.IsNewGravityBias = false
}

// NeedsOrientation reports whether Correct requires the current sensor orientation.
func (b BiasState) NeedsOrientation() bool {
	return b.IsGravityBiased
}

// Correct removes the bias from a raw reading. In gravity mode sensorInWorld must be the sensor
// orientation at the time of the reading; otherwise it is ignored and may be nil.
func (b *BiasState) Correct(raw wrench.Wrench, sensorInWorld spatialmath.Orientation, payload PayloadParameters) (wrench.Wrench, error) {
	switch b.Mode() {
	case ModeFixed:
		return raw.Sub(b.FixedBias), nil
	case ModeGravity:
		if sensorInWorld == nil {
			return wrench.Wrench{}, NewPreconditionError("gravity compensated bias needs the sensor orientation in the world")
		}
		// The constant sensor offset is what remains of the reference reading once the payload
		// gravity at the reference orientation is taken out.
		offset := b.GravityReference.Sub(payload.GravityEffect(b.GravityOrientation, raw.Frame))
		return raw.Sub(offset).Sub(payload.GravityEffect(sensorInWorld, raw.Frame)), nil
	default:
		return raw, nil
	}
}

// CurrentBias returns the wrench Correct would subtract at the given orientation.
func (b *BiasState) CurrentBias(frame string, sensorInWorld spatialmath.Orientation, payload PayloadParameters) (wrench.Wrench, error) {
	zero := wrench.Zero(frame, b.FixedBias.Time)
	corrected, err := b.Correct(zero, sensorInWorld, payload)
	if err != nil {
		return wrench.Wrench{}, err
	}
	return zero.Sub(corrected), nil
}

// NetWeight returns the weight added to the sensor since SetWeightBias, measured along the world
// vertical. corrected is the current corrected reading in the sensor frame.
func (b *BiasState) NetWeight(corrected wrench.Wrench, sensorInWorld spatialmath.Orientation) (float64, error) {
	if !b.HasWeightBias {
		return 0, NewPreconditionError("no weight bias has been set")
	}
	if sensorInWorld == nil {
		return 0, NewPreconditionError("weight measurement needs the sensor orientation in the world")
	}
	diff := corrected.Sub(b.WeightBias)
	return -spatialmath.RotateVector(sensorInWorld, diff.Force).Z, nil
}
