package wrench

import (
	"context"

	"go.viam.com/netft/referenceframe"
	"go.viam.com/netft/spatialmath"
)

// Transport re-expresses w in a target frame, given the pose of w's frame in the target frame.
// Force rotates. Torque rotates and picks up the moment of the rotated force about the new
// origin: τ' = R·τ + t × (R·F).
func Transport(w Wrench, pose spatialmath.Pose, target string) Wrench {
	rot := pose.Orientation()
	force := spatialmath.RotateVector(rot, w.Force)
	torque := spatialmath.RotateVector(rot, w.Torque).Add(pose.Point().Cross(force))
	return Wrench{Force: force, Torque: torque, Frame: target, Time: w.Time}
}

// Rotate re-expresses the components of w along the axes of another frame without moving the
// point torques are taken about.
func Rotate(w Wrench, orientation spatialmath.Orientation, target string) Wrench {
	return Wrench{
		Force:  spatialmath.RotateVector(orientation, w.Force),
		Torque: spatialmath.RotateVector(orientation, w.Torque),
		Frame:  target,
		Time:   w.Time,
	}
}

// Transformer moves wrenches between frames known to a TransformProvider.
type Transformer struct {
	provider referenceframe.TransformProvider
}

// NewTransformer returns a Transformer backed by the given provider.
func NewTransformer(provider referenceframe.TransformProvider) *Transformer {
	return &Transformer{provider: provider}
}

// Transform re-expresses w in the target frame using the transform at w's timestamp.
func (t *Transformer) Transform(ctx context.Context, w Wrench, target string) (Wrench, error) {
	if w.Frame == target {
		return w, nil
	}
	pose, err := t.provider.Lookup(ctx, w.Frame, target, w.Time)
	if err != nil {
		return Wrench{}, err
	}
	return Transport(w, pose, target), nil
}

// ApplyToolTipOffset moves a tool frame wrench to the tool tip. The wrench is returned
// unchanged when no tool tip is configured or the tip is the tool frame itself.
func (t *Transformer) ApplyToolTipOffset(ctx context.Context, w Wrench, toolTip string) (Wrench, error) {
	if toolTip == "" || toolTip == w.Frame {
		return w, nil
	}
	return t.Transform(ctx, w, toolTip)
}
