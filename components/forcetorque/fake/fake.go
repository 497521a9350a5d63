// Package fake implements a simulated force/torque sensor carrying a payload.
package fake

import (
	"context"
	"math/rand"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/netft/calibration"
	"go.viam.com/netft/components/forcetorque"
	"go.viam.com/netft/logging"
	"go.viam.com/netft/referenceframe"
	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/wrench"
)

// Config describes the simulated sensor.
type Config struct {
	Name string
	// Frame is the sensor frame and World the frame gravity points down in.
	Frame string
	World string
	// Payload hangs off the sensor and Offset is added to every reading.
	Payload calibration.PayloadParameters
	Offset  [6]float64
	// Noise is the standard deviation of gaussian noise on each axis.
	Noise float64
	Seed  int64
}

// Sensor produces readings of a payload under gravity at the orientation the transform provider
// reports for its frame.
type Sensor struct {
	cfg      Config
	provider referenceframe.TransformProvider
	clock    clock.Clock
	logger   logging.Logger

	mu          sync.Mutex
	rand        *rand.Rand
	orientation spatialmath.Orientation
	contact     wrench.Wrench
	closed      bool
}

// NewSensor returns a simulated sensor. The clock stamps readings.
func NewSensor(
	cfg Config,
	provider referenceframe.TransformProvider,
	clk clock.Clock,
	logger logging.Logger,
) (*Sensor, error) {
	if cfg.Frame == "" {
		return nil, errors.New("fake sensor needs a frame")
	}
	if err := cfg.Payload.Validate(); err != nil {
		return nil, err
	}
	if cfg.World == "" {
		cfg.World = referenceframe.World
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Frame
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Sensor{
		cfg:         cfg,
		provider:    provider,
		clock:       clk,
		logger:      logger,
		rand:        rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec
		orientation: spatialmath.NewZeroOrientation(),
	}, nil
}

// Name returns the configured name.
func (s *Sensor) Name() string {
	return s.cfg.Name
}

// Wrench simulates a reading at the current time. When the sensor orientation cannot be
// looked up, the last known orientation is used.
func (s *Sensor) Wrench(ctx context.Context, extra map[string]interface{}) (wrench.Wrench, error) {
	now := s.clock.Now()
	var pose spatialmath.Pose
	var lookupErr error
	if s.provider != nil {
		pose, lookupErr = s.provider.Lookup(ctx, s.cfg.Frame, s.cfg.World, now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrench.Wrench{}, errors.New("fake sensor is closed")
	}
	switch {
	case s.provider == nil:
	case lookupErr != nil:
		s.logger.CDebugw(ctx, "using last known orientation", "error", lookupErr)
	default:
		s.orientation = pose.Orientation()
	}

	w := wrench.FromVector(s.cfg.Offset, s.cfg.Frame, now).
		Add(s.cfg.Payload.GravityEffect(s.orientation, s.cfg.Frame)).
		Add(s.contact)
	if s.cfg.Noise > 0 {
		var noise [6]float64
		for i := range noise {
			noise[i] = s.rand.NormFloat64() * s.cfg.Noise
		}
		w = w.Add(wrench.FromVector(noise, s.cfg.Frame, now))
	}
	return w, nil
}

// SetContact adds an external load, given in the sensor frame, to every following reading.
func (s *Sensor) SetContact(w wrench.Wrench) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contact = w
}

// Close stops the sensor. Later readings fail.
func (s *Sensor) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ forcetorque.Sensor = (*Sensor)(nil)
