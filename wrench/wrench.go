// Package wrench defines the six-axis force/torque measurement and moves it between frames.
package wrench

import (
	"encoding/json"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Wrench is a force and a torque expressed in a named frame at an instant. Torque is taken
// about the origin of Frame.
type Wrench struct {
	Force  r3.Vector
	Torque r3.Vector
	Frame  string
	Time   time.Time
}

// Zero returns a zero wrench in the given frame.
func Zero(frame string, at time.Time) Wrench {
	return Wrench{Frame: frame, Time: at}
}

// FromVector builds a wrench from [fx fy fz tx ty tz].
func FromVector(v [6]float64, frame string, at time.Time) Wrench {
	return Wrench{
		Force:  r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		Torque: r3.Vector{X: v[3], Y: v[4], Z: v[5]},
		Frame:  frame,
		Time:   at,
	}
}

// Vector returns the wrench as [fx fy fz tx ty tz].
func (w Wrench) Vector() [6]float64 {
	return [6]float64{w.Force.X, w.Force.Y, w.Force.Z, w.Torque.X, w.Torque.Y, w.Torque.Z}
}

// Add returns w + o. The frame and time of w are kept.
func (w Wrench) Add(o Wrench) Wrench {
	w.Force = w.Force.Add(o.Force)
	w.Torque = w.Torque.Add(o.Torque)
	return w
}

// Sub returns w - o. The frame and time of w are kept.
func (w Wrench) Sub(o Wrench) Wrench {
	w.Force = w.Force.Sub(o.Force)
	w.Torque = w.Torque.Sub(o.Torque)
	return w
}

// Scale multiplies both force and torque by s.
func (w Wrench) Scale(s float64) Wrench {
	w.Force = w.Force.Mul(s)
	w.Torque = w.Torque.Mul(s)
	return w
}

// ForceMagnitude is the euclidean norm of the force.
func (w Wrench) ForceMagnitude() float64 {
	return w.Force.Norm()
}

// TorqueMagnitude is the euclidean norm of the torque.
func (w Wrench) TorqueMagnitude() float64 {
	return w.Torque.Norm()
}

// IsFinite reports whether every component is a finite number.
func (w Wrench) IsFinite() bool {
	for _, v := range w.Vector() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// AlmostEqual compares the force and torque components within epsilon. Frame and time are ignored.
func AlmostEqual(a, b Wrench, epsilon float64) bool {
	av, bv := a.Vector(), b.Vector()
	for i := range av {
		if math.Abs(av[i]-bv[i]) > epsilon {
			return false
		}
	}
	return true
}

type vectorJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type wrenchJSON struct {
	Frame  string     `json:"frame,omitempty"`
	Time   time.Time  `json:"time"`
	Force  vectorJSON `json:"force"`
	Torque vectorJSON `json:"torque"`
}

// MarshalJSON encodes the wrench with lower case vector fields.
func (w Wrench) MarshalJSON() ([]byte, error) {
	return json.Marshal(wrenchJSON{
		Frame:  w.Frame,
		Time:   w.Time,
		Force:  vectorJSON(w.Force),
		Torque: vectorJSON(w.Torque),
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (w *Wrench) UnmarshalJSON(data []byte) error {
	var raw wrenchJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "cannot decode wrench")
	}
	*w = Wrench{
		Force:  r3.Vector(raw.Force),
		Torque: r3.Vector(raw.Torque),
		Frame:  raw.Frame,
		Time:   raw.Time,
	}
	return nil
}
