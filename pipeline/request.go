package pipeline

import (
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/netft/calibration"
	"go.viam.com/netft/control"
	"go.viam.com/netft/spatialmath"
)

// Op names a calibration operation.
type Op string

// The calibration operations a Pipeline accepts.
const (
	OpSetFixedBias         = Op("set_fixed_bias")
	OpCompensateForGravity = Op("compensate_for_gravity")
	OpSetWeightBias        = Op("set_weight_bias")
	OpCaptureToolPose      = Op("capture_tool_pose")
	OpClearToolPoses       = Op("clear_tool_poses")
	OpFindToolParams       = Op("find_tool_params")
	OpSetToolData          = Op("set_tool_data")
	OpSetBiasData          = Op("set_bias_data")
	OpSetToolTipFrame      = Op("set_tool_tip_frame")
	OpSetFilter            = Op("set_filter")
	OpSetThreshold         = Op("set_threshold")
	OpSetMax               = Op("set_max")
	OpClearThresholds      = Op("clear_thresholds")
	OpCancel               = Op("cancel")
	OpRearmCancel          = Op("rearm_cancel")
	OpGetWeight            = Op("get_weight")
	OpGetStatus            = Op("get_status")
)

// A Request is one calibration operation and its parameters.
type Request interface {
	Op() Op
}

// SetFixedBias zeroes the sensor at its current reading, ignoring gravity. With Samples above
// one, the mean of that many recent raw samples is used instead of the latest.
type SetFixedBias struct {
	Samples int `json:"samples"`
}

// CompensateForGravity zeroes the sensor at its current reading and orientation and from then
// on removes the payload's gravity at whatever orientation the sensor is in.
type CompensateForGravity struct{}

// SetWeightBias records the current corrected reading as the zero for GetWeight.
type SetWeightBias struct{}

// CaptureToolPose stores the current raw reading and sensor orientation for FindToolParams.
type CaptureToolPose struct{}

// ClearToolPoses drops captured poses.
type ClearToolPoses struct{}

// PoseReading is a reading supplied with a request together with the sensor orientation in the
// world at which it was taken.
type PoseReading struct {
	Force       r3.Vector                     `json:"force"`
	Torque      r3.Vector                     `json:"torque"`
	Orientation spatialmath.OrientationConfig `json:"orientation"`
}

// FindToolParams estimates the payload from Poses, or from captured poses when Poses is empty.
type FindToolParams struct {
	Poses []PoseReading `json:"poses"`
	// MinSeparationDeg overrides the configured minimum angle between poses.
	MinSeparationDeg float64 `json:"min_separation_deg"`
}

// SetToolData sets the payload directly.
type SetToolData struct {
	Weight   float64 `json:"weight"`
	LeverArm float64 `json:"lever_arm"`
}

// SetBiasData installs a fixed bias in the sensor frame.
type SetBiasData struct {
	Force  r3.Vector `json:"force"`
	Torque r3.Vector `json:"torque"`
}

// SetToolTipFrame names the tool tip frame. Naming the tool frame removes the tool tip.
type SetToolTipFrame struct {
	Frame string `json:"frame"`
}

// SetFilter reconfigures the low pass filter.
type SetFilter struct {
	Enable   bool    `json:"enable"`
	CutoffHz float64 `json:"cutoff_hz"`
	// DeltaT is the sample period. Bare numbers decode as seconds.
	DeltaT time.Duration `json:"delta_t"`
}

// MarshalJSON writes delta_t in seconds so recorded requests decode back to the same period.
func (r SetFilter) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"enable":    r.Enable,
		"cutoff_hz": r.CutoffHz,
		"delta_t":   r.DeltaT.Seconds(),
	})
}

// SetThreshold sets per-axis limits on the filtered tool frame wrench.
type SetThreshold struct {
	Force  r3.Vector `json:"force"`
	Torque r3.Vector `json:"torque"`
}

// SetMax sets force and torque magnitude limits on the filtered tool frame wrench.
type SetMax struct {
	Force  float64 `json:"force"`
	Torque float64 `json:"torque"`
}

// ClearThresholds removes all limits.
type ClearThresholds struct{}

// Cancel emits a cancellation regardless of thresholds.
type Cancel struct {
	Reason string `json:"reason"`
}

// RearmCancel lets a threshold that is still exceeded signal again.
type RearmCancel struct{}

// GetWeight reports the weight added since SetWeightBias.
type GetWeight struct{}

// GetStatus reports the calibration state.
type GetStatus struct{}

// Op implements Request.
func (SetFixedBias) Op() Op { return OpSetFixedBias }

// Op implements Request.
func (CompensateForGravity) Op() Op { return OpCompensateForGravity }

// Op implements Request.
func (SetWeightBias) Op() Op { return OpSetWeightBias }

// Op implements Request.
func (CaptureToolPose) Op() Op { return OpCaptureToolPose }

// Op implements Request.
func (ClearToolPoses) Op() Op { return OpClearToolPoses }

// Op implements Request.
func (FindToolParams) Op() Op { return OpFindToolParams }

// Op implements Request.
func (SetToolData) Op() Op { return OpSetToolData }

// Op implements Request.
func (SetBiasData) Op() Op { return OpSetBiasData }

// Op implements Request.
func (SetToolTipFrame) Op() Op { return OpSetToolTipFrame }

// Op implements Request.
func (SetFilter) Op() Op { return OpSetFilter }

// Op implements Request.
func (SetThreshold) Op() Op { return OpSetThreshold }

// Op implements Request.
func (SetMax) Op() Op { return OpSetMax }

// Op implements Request.
func (ClearThresholds) Op() Op { return OpClearThresholds }

// Op implements Request.
func (Cancel) Op() Op { return OpCancel }

// Op implements Request.
func (RearmCancel) Op() Op { return OpRearmCancel }

// Op implements Request.
func (GetWeight) Op() Op { return OpGetWeight }

// Op implements Request.
func (GetStatus) Op() Op { return OpGetStatus }

// LowPassConfig converts the request into a filter configuration.
func (r SetFilter) LowPassConfig() control.LowPassConfig {
	return control.LowPassConfig{Enabled: r.Enable, CutoffHz: r.CutoffHz, DeltaT: r.DeltaT.Seconds()}
}

// samples converts the supplied readings into estimation samples in the given sensor frame.
func (r FindToolParams) samples(frame string) ([]calibration.PoseSample, error) {
	out := make([]calibration.PoseSample, 0, len(r.Poses))
	for i, p := range r.Poses {
		o, err := p.Orientation.ParseConfig()
		if err != nil {
			return nil, calibration.NewInvalidConfigurationError("pose %d: %v", i, err)
		}
		out = append(out, calibration.PoseSample{
			Reading:     wrenchIn(frame, p.Force, p.Torque),
			Orientation: o,
		})
	}
	return out, nil
}

// DecodeRequest builds the request for op from loosely typed parameters, such as a decoded JSON
// object. Unknown parameters are rejected. Durations may be given as strings like "10ms" or as
// numbers of seconds.
func DecodeRequest(op Op, params map[string]interface{}) (Request, error) {
	entry, ok := operations[op]
	if !ok {
		return nil, calibration.NewInvalidConfigurationError("unknown calibration operation %q", op)
	}
	req, err := entry.decode(params)
	if err != nil {
		return nil, calibration.NewInvalidConfigurationError("decoding %s parameters: %v", op, err)
	}
	return req, nil
}

func decodeParams(params map[string]interface{}, out interface{}) error {
	if len(params) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			secondsToDurationHookFunc(),
		),
	})
	if err != nil {
		return errors.Wrap(err, "building parameter decoder")
	}
	return decoder.Decode(params)
}

// secondsToDurationHookFunc reads a bare number bound for a time.Duration as seconds.
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		durationType := reflect.TypeOf(time.Duration(0))
		if to != durationType || from == durationType {
			return data, nil
		}
		var seconds float64
		switch v := reflect.ValueOf(data); from.Kind() {
		case reflect.Float32, reflect.Float64:
			seconds = v.Float()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			seconds = float64(v.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			seconds = float64(v.Uint())
		default:
			return data, nil
		}
		if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return nil, errors.Errorf("duration must be finite, got %v", seconds)
		}
		return time.Duration(math.Round(seconds * float64(time.Second))), nil
	}
}
