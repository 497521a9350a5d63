package ros

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Stamp is a ROS time.
type Stamp struct {
	Secs  int64 `json:"secs"`
	Nsecs int64 `json:"nsecs"`
}

// Time converts the stamp.
func (s Stamp) Time() time.Time {
	return time.Unix(s.Secs, s.Nsecs).UTC()
}

// Header is std_msgs/Header.
type Header struct {
	Seq     int    `json:"seq"`
	Stamp   Stamp  `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// Vector3 is geometry_msgs/Vector3.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is geometry_msgs/Quaternion.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// WrenchStampedMessage is a geometry_msgs/WrenchStamped as the bag parser emits it.
type WrenchStampedMessage struct {
	Meta Stamp `json:"meta"`
	Data struct {
		Header Header `json:"header"`
		Wrench struct {
			Force  Vector3 `json:"force"`
			Torque Vector3 `json:"torque"`
		} `json:"wrench"`
	} `json:"data"`
}

// TransformStamped is geometry_msgs/TransformStamped.
type TransformStamped struct {
	Header       Header `json:"header"`
	ChildFrameID string `json:"child_frame_id"`
	Transform    struct {
		Translation Vector3    `json:"translation"`
		Rotation    Quaternion `json:"rotation"`
	} `json:"transform"`
}

// TFMessage is a tf2_msgs/TFMessage as the bag parser emits it.
type TFMessage struct {
	Meta Stamp `json:"meta"`
	Data struct {
		Transforms []TransformStamped `json:"transforms"`
	} `json:"data"`
}

// decodeMessage fills out from a parsed bag message. Numbers may arrive as any numeric type.
func decodeMessage(message map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(message)
}
