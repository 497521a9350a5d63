package ros

import (
	"encoding/json"
	"testing"
	"time"

	"go.viam.com/test"
)

func message(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	m := map[string]interface{}{}
	test.That(t, json.Unmarshal([]byte(raw), &m), test.ShouldBeNil)
	return m
}

const wrenchMessage = `{
	"meta": {"secs": 100, "nsecs": 0},
	"data": {
		"header": {"seq": 3, "stamp": {"secs": 10, "nsecs": 500000000}, "frame_id": "ft"},
		"wrench": {"force": {"x": 1, "y": 2, "z": 3}, "torque": {"x": 0.1, "y": 0.2, "z": 0.3}}
	}
}`

const tfMessage = `{
	"meta": {"secs": 10, "nsecs": 500000000},
	"data": {"transforms": [
		{
			"header": {"stamp": {"secs": 0, "nsecs": 0}, "frame_id": "world"},
			"child_frame_id": "tool",
			"transform": {"translation": {"x": 0.5, "y": 0, "z": 1}, "rotation": {"x": 0, "y": 0, "z": 1, "w": 0}}
		}
	]}
}`

func TestWrenchFromMessage(t *testing.T) {
	w, err := WrenchFromMessage(message(t, wrenchMessage))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.Frame, test.ShouldEqual, "ft")
	test.That(t, w.Force.Z, test.ShouldEqual, 3.)
	test.That(t, w.Torque.Y, test.ShouldEqual, 0.2)
	test.That(t, w.Time.Equal(time.Unix(10, 5e8)), test.ShouldBeTrue)

	_, err = WrenchFromMessage(map[string]interface{}{"data": "nope"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPosesFromMessage(t *testing.T) {
	events, err := PosesFromMessage(message(t, tfMessage))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, events, test.ShouldHaveLength, 1)

	ev := events[0]
	test.That(t, ev.Wrench, test.ShouldBeNil)
	test.That(t, ev.Pose.Frame, test.ShouldEqual, "tool")
	test.That(t, ev.Pose.Parent, test.ShouldEqual, "world")
	// an unstamped transform takes the recording time
	test.That(t, ev.Time.Equal(time.Unix(10, 5e8)), test.ShouldBeTrue)
	test.That(t, ev.Pose.Pose.Point().X, test.ShouldEqual, 0.5)
	q := ev.Pose.Pose.Orientation().Quaternion()
	test.That(t, q.Kmag, test.ShouldAlmostEqual, 1)

	bad := message(t, `{"data": {"transforms": [{"child_frame_id": "tool"}]}}`)
	_, err = PosesFromMessage(bad)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "zero rotation")
}

func TestSession(t *testing.T) {
	messages := map[string][]map[string]interface{}{
		DefaultWrenchTopic: {message(t, wrenchMessage)},
		DefaultTFTopic:     {message(t, tfMessage)},
	}
	events, err := Session(messages, DefaultWrenchTopic, DefaultTFTopic)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, events, test.ShouldHaveLength, 2)
	// same instant: the pose goes first so the wrench sees it
	test.That(t, events[0].Pose, test.ShouldNotBeNil)
	test.That(t, events[1].Wrench, test.ShouldNotBeNil)

	_, err = Session(messages, "/other", "/nothing")
	test.That(t, err, test.ShouldNotBeNil)
}
