package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/netft/calibration"
	"go.viam.com/netft/referenceframe"
	"go.viam.com/netft/spatialmath"
)

// DefaultSensorFrame is the frame raw readings are reported in.
const DefaultSensorFrame = "ft"

// FrameSet names the frames outputs are expressed in.
type FrameSet struct {
	World  string `json:"world"`
	Sensor string `json:"sensor"`
	Tool   string `json:"tool"`
	// ToolTip is optional. When empty, tool tip outputs equal their tool and world counterparts.
	ToolTip string `json:"tool_tip,omitempty"`
}

// DefaultFrameSet reports tool outputs in the sensor frame.
func DefaultFrameSet() FrameSet {
	return FrameSet{World: referenceframe.World, Sensor: DefaultSensorFrame, Tool: DefaultSensorFrame}
}

// Validate checks that the mandatory frames are named.
func (fs FrameSet) Validate() error {
	switch {
	case fs.World == "":
		return calibration.NewInvalidConfigurationError("world frame must be named")
	case fs.Sensor == "":
		return calibration.NewInvalidConfigurationError("sensor frame must be named")
	case fs.Tool == "":
		return calibration.NewInvalidConfigurationError("tool frame must be named")
	}
	return nil
}

// HasToolTip reports whether a tool tip distinct from the tool frame is configured.
func (fs FrameSet) HasToolTip() bool {
	return fs.ToolTip != "" && fs.ToolTip != fs.Tool
}

// Lookup is the outcome of resolving one frame pair.
type Lookup struct {
	Pose spatialmath.Pose
	Err  error
}

// OK reports whether the lookup produced a pose.
func (l Lookup) OK() bool {
	return l.Err == nil && l.Pose != nil
}

// Transforms holds every frame lookup one cycle needs, resolved at the time of the raw sample.
// Each pair is looked up on its own so no output is derived from another by chaining.
type Transforms struct {
	// SensorInWorld is the pose of the sensor frame in the world frame.
	SensorInWorld Lookup
	// SensorInTool is the pose of the sensor frame in the tool frame.
	SensorInTool Lookup
	// ToolInToolTip is the pose of the tool frame in the tool tip frame.
	ToolInToolTip Lookup
	// ToolTipInWorld is the pose of the tool tip frame in the world frame.
	ToolTipInWorld Lookup
}

// Err combines the failed lookups, or nil if all succeeded.
func (tf Transforms) Err() error {
	return multierr.Combine(tf.SensorInWorld.Err, tf.SensorInTool.Err, tf.ToolInToolTip.Err, tf.ToolTipInWorld.Err)
}

func lookup(ctx context.Context, provider referenceframe.TransformProvider, source, target string, at time.Time) Lookup {
	if source == target {
		return Lookup{Pose: spatialmath.NewZeroPose()}
	}
	pose, err := provider.Lookup(ctx, source, target, at)
	if err == nil && pose == nil {
		err = referenceframe.NewTransformUnavailableError(source, target, at, errors.New("provider returned no pose"))
	}
	return Lookup{Pose: pose, Err: err}
}

// ResolveTransforms looks up every transform the frame set needs at the given time. Lookups that
// fail are recorded in the result rather than returned.
func ResolveTransforms(
	ctx context.Context,
	provider referenceframe.TransformProvider,
	frames FrameSet,
	at time.Time,
) Transforms {
	tf := Transforms{
		SensorInWorld: lookup(ctx, provider, frames.Sensor, frames.World, at),
		SensorInTool:  lookup(ctx, provider, frames.Sensor, frames.Tool, at),
	}
	if frames.HasToolTip() {
		tf.ToolInToolTip = lookup(ctx, provider, frames.Tool, frames.ToolTip, at)
		tf.ToolTipInWorld = lookup(ctx, provider, frames.ToolTip, frames.World, at)
	}
	return tf
}
