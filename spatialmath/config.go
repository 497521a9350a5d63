package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// OrientationType defines what orientation representations are known.
type OrientationType string

// The set of allowed representations for orientation.
const (
	NoOrientation            = OrientationType("")
	EulerAnglesType          = OrientationType("euler_angles")
	AxisAnglesType           = OrientationType("axis_angles")
	QuaternionType           = OrientationType("quaternion")
	OrientationVectorDegType = OrientationType("degrees")
)

// TranslationConfig is the config for a Translation.
type TranslationConfig struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// NewTranslationConfig creates a new TranslationConfig from the provided r3 Vector.
func NewTranslationConfig(pt r3.Vector) *TranslationConfig {
	return &TranslationConfig{X: pt.X, Y: pt.Y, Z: pt.Z}
}

// ParseConfig converts a TranslationConfig into a r3 Vector.
func (t *TranslationConfig) ParseConfig() r3.Vector {
	return r3.Vector{X: t.X, Y: t.Y, Z: t.Z}
}

// OrientationConfig holds the underlying type of orientation and the keyed values. Angles in
// configuration are given in degrees.
//
//	euler_angles: roll, pitch, yaw
//	axis_angles:  th, x, y, z
//	quaternion:   w, x, y, z
type OrientationConfig struct {
	Type  OrientationType    `json:"type"`
	Value map[string]float64 `json:"value"`
}

// ParseConfig will use the Type in OrientationConfig and convert into the correct struct that implements Orientation.
func (config *OrientationConfig) ParseConfig() (Orientation, error) {
	if config == nil {
		return NewZeroOrientation(), nil
	}
	v := config.Value
	deg := math.Pi / 180
	switch config.Type {
	case NoOrientation:
		return NewZeroOrientation(), nil
	case EulerAnglesType:
		return &EulerAngles{Roll: v["roll"] * deg, Pitch: v["pitch"] * deg, Yaw: v["yaw"] * deg}, nil
	case AxisAnglesType, OrientationVectorDegType:
		if v["x"] == 0 && v["y"] == 0 && v["z"] == 0 {
			if v["th"] != 0 {
				return nil, errors.New("axis_angles orientation needs a non-zero axis")
			}
			return NewZeroOrientation(), nil
		}
		return &R4AA{Theta: v["th"] * deg, RX: v["x"], RY: v["y"], RZ: v["z"]}, nil
	case QuaternionType:
		w, ok := v["w"]
		if !ok {
			return nil, errors.New("quaternion orientation needs a w field")
		}
		return NewOrientationFromQuaternion(quatFromValues(w, v["x"], v["y"], v["z"])), nil
	default:
		return nil, errors.Errorf("orientation type %q not recognized", config.Type)
	}
}
