package pipeline

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/netft/wrench"
)

// Slot identifies one published output.
type Slot uint8

// The output slots that depend on something that can fail within a cycle.
const (
	SlotRawWorld Slot = 1 << iota
	SlotSensor
	SlotWorld
	SlotTool
	SlotToolTip
	SlotWorldTip
)

var allSlots = []Slot{SlotRawWorld, SlotSensor, SlotWorld, SlotTool, SlotToolTip, SlotWorldTip}

var slotNames = map[Slot]string{
	SlotRawWorld: "raw_world",
	SlotSensor:   "sensor",
	SlotWorld:    "world",
	SlotTool:     "tool",
	SlotToolTip:  "tool_tip",
	SlotWorldTip: "world_tip",
}

func (s Slot) String() string {
	if name, ok := slotNames[s]; ok {
		return name
	}
	return "unknown"
}

// calibratedSlots are every slot derived from the bias corrected reading.
const calibratedSlots = SlotSet(SlotSensor | SlotWorld | SlotTool | SlotToolTip | SlotWorldTip)

// SlotSet is a bitmask of slots.
type SlotSet uint8

// Has reports whether the slot is in the set.
func (ss SlotSet) Has(s Slot) bool {
	return ss&SlotSet(s) != 0
}

// With returns the set with s added.
func (ss SlotSet) With(s Slot) SlotSet {
	return ss | SlotSet(s)
}

// Slots lists the members of the set in publication order.
func (ss SlotSet) Slots() []Slot {
	return lo.Filter(allSlots, func(s Slot, _ int) bool { return ss.Has(s) })
}

func (ss SlotSet) String() string {
	return strings.Join(lo.Map(ss.Slots(), func(s Slot, _ int) string { return s.String() }), ",")
}

// MarshalJSON encodes the set as a list of slot names.
func (ss SlotSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(lo.Map(ss.Slots(), func(s Slot, _ int) string { return s.String() }))
}

// UnmarshalJSON decodes a list of slot names.
func (ss *SlotSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*ss = 0
	for _, name := range names {
		slot, ok := lo.FindKey(slotNames, name)
		if !ok {
			return errors.Errorf("unknown output slot %q", name)
		}
		*ss = ss.With(slot)
	}
	return nil
}

// Calibrated holds the bias corrected wrench in every output frame.
type Calibrated struct {
	// Sensor is in the sensor frame.
	Sensor wrench.Wrench `json:"sensor"`
	// World is transported to the world frame origin.
	World wrench.Wrench `json:"world"`
	// Tool is transported to the tool frame origin.
	Tool wrench.Wrench `json:"tool"`
	// ToolTip is transported to the tool tip frame origin.
	ToolTip wrench.Wrench `json:"tool_tip"`
	// WorldTip is taken about the tool tip with components along the world axes.
	WorldTip wrench.Wrench `json:"world_tip"`
}

func (c Calibrated) slot(s Slot) wrench.Wrench {
	switch s {
	case SlotSensor:
		return c.Sensor
	case SlotWorld:
		return c.World
	case SlotTool:
		return c.Tool
	case SlotToolTip:
		return c.ToolTip
	case SlotWorldTip:
		return c.WorldTip
	case SlotRawWorld:
	}
	return wrench.Wrench{}
}

func (c *Calibrated) setSlot(s Slot, w wrench.Wrench) {
	switch s {
	case SlotSensor:
		c.Sensor = w
	case SlotWorld:
		c.World = w
	case SlotTool:
		c.Tool = w
	case SlotToolTip:
		c.ToolTip = w
	case SlotWorldTip:
		c.WorldTip = w
	case SlotRawWorld:
	}
}

// Status summarizes the calibration state alongside each cycle's outputs.
type Status struct {
	IsBiased         bool    `json:"is_biased"`
	IsGravityBiased  bool    `json:"is_gravity_biased"`
	IsNewBias        bool    `json:"is_new_bias"`
	IsNewGravityBias bool    `json:"is_new_gravity_bias"`
	Filtered         bool    `json:"filtered"`
	Stale            SlotSet `json:"stale"`
	Cancelling       bool    `json:"cancelling"`
}

// CancelEvent asks whatever is moving the tool to stop.
type CancelEvent struct {
	Reason string        `json:"reason"`
	Wrench wrench.Wrench `json:"wrench"`
	At     time.Time     `json:"at"`
	// Forced is set when the event came from an operator request rather than a threshold.
	Forced bool `json:"forced,omitempty"`
}

// Outputs are everything one cycle publishes. The embedded Calibrated wrenches are filtered
// when the filter is enabled.
type Outputs struct {
	RawSensor wrench.Wrench `json:"raw_sensor"`
	RawWorld  wrench.Wrench `json:"raw_world"`
	Calibrated
	Unfiltered Calibrated   `json:"unfiltered"`
	Status     Status       `json:"status"`
	Cancel     *CancelEvent `json:"cancel,omitempty"`
}

// Stale reports whether the slot repeated an earlier value this cycle.
func (o Outputs) Stale(s Slot) bool {
	return o.Status.Stale.Has(s)
}

// Wrench returns the published wrench of a slot.
func (o Outputs) Wrench(s Slot) wrench.Wrench {
	if s == SlotRawWorld {
		return o.RawWorld
	}
	return o.slot(s)
}

// AllSlots lists every output slot in publication order.
func AllSlots() []Slot {
	return append([]Slot(nil), allSlots...)
}
