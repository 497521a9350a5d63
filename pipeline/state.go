// Package pipeline turns raw force/torque samples into calibrated wrenches in the world, tool and
// tool tip frames, and serializes calibration requests against the per-sample path.
package pipeline

import (
	"time"

	"go.viam.com/netft/calibration"
	"go.viam.com/netft/control"
	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/wrench"
)

// State is everything one sample needs to produce outputs. It is a value: Process returns a new
// State and never modifies the one it was given.
type State struct {
	Frames     FrameSet
	Bias       calibration.BiasState
	Payload    calibration.PayloadParameters
	Filter     control.LowPassFilter
	Thresholds Thresholds

	// Tripped is set from the cycle a threshold is crossed until the wrench is back within limits
	// or the cancel is re-armed.
	Tripped bool

	// Poses are readings captured for payload estimation. Only calibration requests change them,
	// always by building a new slice.
	Poses []calibration.PoseSample

	Last    Outputs
	HasLast bool
}

// NewState returns an unbiased state with no payload, no filter and no thresholds.
func NewState(frames FrameSet) State {
	return State{Frames: frames}
}

// fallback is what a slot publishes when it cannot be computed: the previous cycle's value or,
// before any cycle, a zero wrench in the slot's frame.
func (s State) fallback(at time.Time) Outputs {
	if s.HasLast {
		return s.Last
	}
	fs := s.Frames
	tip := fs.Tool
	if fs.HasToolTip() {
		tip = fs.ToolTip
	}
	zero := Calibrated{
		Sensor:   wrench.Zero(fs.Sensor, at),
		World:    wrench.Zero(fs.World, at),
		Tool:     wrench.Zero(fs.Tool, at),
		ToolTip:  wrench.Zero(tip, at),
		WorldTip: wrench.Zero(fs.World, at),
	}
	return Outputs{RawWorld: wrench.Zero(fs.World, at), Calibrated: zero, Unfiltered: zero}
}

// express moves a sensor frame wrench into every output frame. The returned set holds the slots
// that could not be computed.
func (fs FrameSet) express(w wrench.Wrench, tf Transforms) (Calibrated, SlotSet) {
	c := Calibrated{Sensor: w}
	var stale SlotSet
	if tf.SensorInWorld.OK() {
		c.World = wrench.Transport(w, tf.SensorInWorld.Pose, fs.World)
	} else {
		stale = stale.With(SlotWorld)
	}
	if tf.SensorInTool.OK() {
		c.Tool = wrench.Transport(w, tf.SensorInTool.Pose, fs.Tool)
	} else {
		stale = stale.With(SlotTool)
	}

	if !fs.HasToolTip() {
		c.ToolTip, c.WorldTip = c.Tool, c.World
		if stale.Has(SlotTool) {
			stale = stale.With(SlotToolTip)
		}
		if stale.Has(SlotWorld) {
			stale = stale.With(SlotWorldTip)
		}
		return c, stale
	}

	if stale.Has(SlotTool) || !tf.ToolInToolTip.OK() {
		stale = stale.With(SlotToolTip)
	} else {
		c.ToolTip = wrench.Transport(c.Tool, tf.ToolInToolTip.Pose, fs.ToolTip)
	}
	if stale.Has(SlotToolTip) || !tf.ToolTipInWorld.OK() {
		stale = stale.With(SlotWorldTip)
	} else {
		c.WorldTip = wrench.Rotate(c.ToolTip, tf.ToolTipInWorld.Pose.Orientation(), fs.World)
	}
	return c, stale
}

// Process runs one raw sensor frame sample through bias correction, frame transforms, the
// filter and threshold evaluation. Any slot whose inputs are unavailable repeats its previous
// value and is flagged stale. Process never fails.
func Process(raw wrench.Wrench, tf Transforms, s State) (Outputs, State) {
	prev := s.fallback(raw.Time)
	out := Outputs{RawSensor: raw}
	var stale SlotSet

	var orientation spatialmath.Orientation
	if tf.SensorInWorld.OK() {
		orientation = tf.SensorInWorld.Pose.Orientation()
		out.RawWorld = wrench.Transport(raw, tf.SensorInWorld.Pose, s.Frames.World)
	} else {
		out.RawWorld = prev.RawWorld
		stale = stale.With(SlotRawWorld)
	}

	corrected, err := s.Bias.Correct(raw, orientation, s.Payload)
	if err != nil {
		out.Calibrated = prev.Calibrated
		out.Unfiltered = prev.Unfiltered
		stale |= calibratedSlots
	} else {
		filtered := wrench.FromVector(s.Filter.Next(corrected.Vector()), corrected.Frame, corrected.Time)
		var missing SlotSet
		out.Unfiltered, missing = s.Frames.express(corrected, tf)
		out.Calibrated, _ = s.Frames.express(filtered, tf)
		for _, slot := range missing.Slots() {
			out.Unfiltered.setSlot(slot, prev.Unfiltered.slot(slot))
			out.Calibrated.setSlot(slot, prev.Calibrated.slot(slot))
		}
		stale |= missing
	}

	out.Status = Status{
		IsBiased:         s.Bias.IsBiased,
		IsGravityBiased:  s.Bias.IsGravityBiased,
		IsNewBias:        s.Bias.IsNewBias,
		IsNewGravityBias: s.Bias.IsNewGravityBias,
		Filtered:         s.Filter.Enabled(),
		Stale:            stale,
	}
	if err == nil {
		s.Bias.ClearNewFlags()
	}

	// A stale tool slot carries no new information, so it neither trips nor clears an excursion.
	if s.Thresholds.Enabled() && !stale.Has(SlotTool) {
		reason, over := s.Thresholds.Exceeded(out.Tool)
		switch {
		case over && !s.Tripped:
			out.Cancel = &CancelEvent{Reason: reason, Wrench: out.Tool, At: raw.Time}
			s.Tripped = true
		case !over:
			s.Tripped = false
		}
	}
	out.Status.Cancelling = s.Tripped

	s.Last = out
	s.Last.Cancel = nil
	s.HasLast = true
	return out, s
}
