// Package forcetorque defines a six-axis force/torque sensor.
package forcetorque

import (
	"context"

	"go.viam.com/netft/wrench"
)

// A Sensor reports raw wrenches in its own frame.
type Sensor interface {
	// Name is the sensor's name. Calibrations are stored under it.
	Name() string
	// Wrench returns the latest raw reading.
	Wrench(ctx context.Context, extra map[string]interface{}) (wrench.Wrench, error)
	Close(ctx context.Context) error
}

// Readings returns a reading of s in the generic sensor readings form.
func Readings(ctx context.Context, s Sensor, extra map[string]interface{}) (map[string]interface{}, error) {
	w, err := s.Wrench(ctx, extra)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"frame":    w.Frame,
		"force_x":  w.Force.X,
		"force_y":  w.Force.Y,
		"force_z":  w.Force.Z,
		"torque_x": w.Torque.X,
		"torque_y": w.Torque.Y,
		"torque_z": w.Torque.Z,
	}, nil
}
