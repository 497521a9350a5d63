package ros

import (
	"sort"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/wrench"
)

// Default topics of a force/torque driver recording.
const (
	DefaultWrenchTopic = "/netft_data"
	DefaultTFTopic     = "/tf"
)

// FramePose is a transform read from the bag: the pose of Frame relative to Parent.
type FramePose struct {
	Frame  string
	Parent string
	Pose   spatialmath.Pose
}

// Event is one timestamped item of a recorded session. Exactly one of Wrench and Pose is set.
type Event struct {
	Time   time.Time
	Wrench *wrench.Wrench
	Pose   *FramePose
}

// WrenchFromMessage converts a WrenchStamped message. The header stamp is preferred over the
// recording time.
func WrenchFromMessage(message map[string]interface{}) (wrench.Wrench, error) {
	var msg WrenchStampedMessage
	if err := decodeMessage(message, &msg); err != nil {
		return wrench.Wrench{}, errors.Wrap(err, "cannot decode wrench message")
	}
	at := msg.Data.Header.Stamp.Time()
	if msg.Data.Header.Stamp == (Stamp{}) {
		at = msg.Meta.Time()
	}
	f, t := msg.Data.Wrench.Force, msg.Data.Wrench.Torque
	return wrench.Wrench{
		Force:  r3.Vector{X: f.X, Y: f.Y, Z: f.Z},
		Torque: r3.Vector{X: t.X, Y: t.Y, Z: t.Z},
		Frame:  msg.Data.Header.FrameID,
		Time:   at,
	}, nil
}

// PosesFromMessage converts a TFMessage into one pose per transform.
func PosesFromMessage(message map[string]interface{}) ([]Event, error) {
	var msg TFMessage
	if err := decodeMessage(message, &msg); err != nil {
		return nil, errors.Wrap(err, "cannot decode tf message")
	}
	events := make([]Event, 0, len(msg.Data.Transforms))
	for _, tf := range msg.Data.Transforms {
		at := tf.Header.Stamp.Time()
		if tf.Header.Stamp == (Stamp{}) {
			at = msg.Meta.Time()
		}
		tr, rot := tf.Transform.Translation, tf.Transform.Rotation
		if rot == (Quaternion{}) {
			return nil, errors.Errorf("transform of %q has a zero rotation", tf.ChildFrameID)
		}
		orientation := spatialmath.NewOrientationFromQuaternion(quat.Number{Real: rot.W, Imag: rot.X, Jmag: rot.Y, Kmag: rot.Z})
		events = append(events, Event{
			Time: at,
			Pose: &FramePose{
				Frame:  tf.ChildFrameID,
				Parent: tf.Header.FrameID,
				Pose:   spatialmath.NewPose(r3.Vector{X: tr.X, Y: tr.Y, Z: tr.Z}, orientation),
			},
		})
	}
	return events, nil
}

// Session merges wrench and tf messages into one time ordered list. Poses sort before wrenches
// stamped at the same time.
func Session(messages map[string][]map[string]interface{}, wrenchTopic, tfTopic string) ([]Event, error) {
	var events []Event
	for _, message := range messages[tfTopic] {
		poses, err := PosesFromMessage(message)
		if err != nil {
			return nil, err
		}
		events = append(events, poses...)
	}
	for _, message := range messages[wrenchTopic] {
		w, err := WrenchFromMessage(message)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{Time: w.Time, Wrench: &w})
	}
	if len(events) == 0 {
		return nil, errors.Errorf("no messages on %s or %s", wrenchTopic, tfTopic)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Time.Equal(events[j].Time) {
			return events[i].Time.Before(events[j].Time)
		}
		return events[i].Pose != nil && events[j].Pose == nil
	})
	return events, nil
}

// ReadSession reads a recorded session from a bag file.
func ReadSession(filename, wrenchTopic, tfTopic string) ([]Event, error) {
	rb, err := ReadBag(filename)
	if err != nil {
		return nil, err
	}
	messages, err := AllMessagesForTopics(rb, wrenchTopic, tfTopic)
	if err != nil {
		return nil, err
	}
	return Session(messages, wrenchTopic, tfTopic)
}
