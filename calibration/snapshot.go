package calibration

import (
	"time"

	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/wrench"
)

// Snapshot is the persistent form of a calibration.
type Snapshot struct {
	Mode               Mode              `json:"mode"`
	Frame              string            `json:"frame"`
	FixedBias          [6]float64        `json:"fixed_bias"`
	GravityReference   [6]float64        `json:"gravity_reference"`
	GravityOrientation [4]float64        `json:"gravity_orientation"`
	Payload            PayloadParameters `json:"payload"`
	SavedAt            time.Time         `json:"saved_at"`
}

// Snapshot captures the bias model and payload.
func (b *BiasState) Snapshot(frame string, payload PayloadParameters, at time.Time) Snapshot {
	snap := Snapshot{
		Mode:    b.Mode(),
		Frame:   frame,
		Payload: payload,
		SavedAt: at,
	}
	switch snap.Mode {
	case ModeFixed:
		snap.FixedBias = b.FixedBias.Vector()
	case ModeGravity:
		snap.GravityReference = b.GravityReference.Vector()
		q := b.GravityOrientation.Quaternion()
		snap.GravityOrientation = [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
	case ModeNone:
	}
	return snap
}

// Restore rebuilds a bias state and payload from a snapshot. The one-shot flags stay low.
func (s Snapshot) Restore() (BiasState, PayloadParameters, error) {
	if err := s.Payload.Validate(); err != nil {
		return BiasState{}, PayloadParameters{}, err
	}
	var b BiasState
	switch s.Mode {
	case ModeNone, "":
	case ModeFixed:
		b.SetBiasData(wrench.FromVector(s.FixedBias, s.Frame, s.SavedAt))
	case ModeGravity:
		o := s.GravityOrientation
		if o == [4]float64{} {
			return BiasState{}, PayloadParameters{}, NewInvalidConfigurationError("gravity snapshot has no orientation")
		}
		orientation := spatialmath.NewOrientationFromQuaternion(quat.Number{Real: o[0], Imag: o[1], Jmag: o[2], Kmag: o[3]})
		if err := b.CompensateForGravity(wrench.FromVector(s.GravityReference, s.Frame, s.SavedAt), orientation); err != nil {
			return BiasState{}, PayloadParameters{}, err
		}
	default:
		return BiasState{}, PayloadParameters{}, NewInvalidConfigurationError("unknown calibration mode %q", s.Mode)
	}
	b.ClearNewFlags()
	return b, s.Payload, nil
}
