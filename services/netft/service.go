// Package netft runs a calibration pipeline against a force/torque sensor, persists its
// calibration and fans its outputs and cancel events out to observers.
package netft

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/netft/calibration"
	"go.viam.com/netft/components/forcetorque"
	"go.viam.com/netft/components/forcetorque/fake"
	"go.viam.com/netft/config"
	"go.viam.com/netft/logging"
	"go.viam.com/netft/pipeline"
	"go.viam.com/netft/referenceframe"
	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/storage"
	"go.viam.com/netft/utils"
	"go.viam.com/netft/wrench"
)

// An Observer receives every cycle's outputs.
type Observer interface {
	PublishOutputs(ctx context.Context, out pipeline.Outputs)
}

// A ResponseObserver also receives calibration responses.
type ResponseObserver interface {
	Observer
	PublishResponse(ctx context.Context, resp pipeline.Response)
}

// Options override parts of the service built from config. Zero values use the config.
type Options struct {
	Clock clock.Clock
	// Sensor replaces the simulated sensor from the config.
	Sensor forcetorque.Sensor
	// Store replaces the store opened from the config. The service does not close it.
	Store *storage.Store
}

// Service owns a pipeline and everything around it.
type Service struct {
	name     string
	fs       referenceframe.FrameSystem
	pipe     *pipeline.Pipeline
	store    *storage.Store
	ownStore bool
	sensor   forcetorque.Sensor
	interval time.Duration
	clock    clock.Clock
	logger   logging.Logger

	// calibrationMu orders each calibration request with the save of its result.
	calibrationMu sync.Mutex

	mu         sync.Mutex
	observers  []Observer
	cancellers []pipeline.Canceller
	workers    utils.StoppableWorkers
}

// New builds a service from a validated config and restores its stored calibration.
func New(ctx context.Context, cfg *config.Config, opts Options, logger logging.Logger) (*Service, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	fs, err := buildFrameSystem(cfg, logger)
	if err != nil {
		return nil, err
	}
	pcfg, err := cfg.PipelineConfig()
	if err != nil {
		return nil, err
	}
	pcfg.Clock = clk

	s := &Service{
		name:   cfg.Name,
		fs:     fs,
		store:  opts.Store,
		sensor: opts.Sensor,
		clock:  clk,
		logger: logger,
	}
	s.pipe, err = pipeline.New(pcfg, fs, s, logger.Sublogger("pipeline"))
	if err != nil {
		return nil, err
	}

	if s.store == nil && cfg.Storage != nil {
		if s.store, err = storage.Open(ctx, cfg.Storage.Path); err != nil {
			return nil, err
		}
		s.ownStore = true
	}
	if s.sensor == nil && cfg.FakeSensor != nil {
		s.sensor, err = fake.NewSensor(fake.Config{
			Name:    cfg.Name,
			Frame:   cfg.Frames.Sensor,
			World:   cfg.Frames.World,
			Payload: cfg.FakeSensor.Payload(),
			Offset:  cfg.FakeSensor.Offset,
			Noise:   cfg.FakeSensor.Noise,
			Seed:    cfg.FakeSensor.Seed,
		}, fs, clk, logger.Sublogger("fake_sensor"))
		if err != nil {
			return nil, multierr.Combine(err, s.closeStore())
		}
		s.interval = cfg.FakeSensor.Interval()
	}
	if s.interval == 0 && cfg.Filter.SampleInterval > 0 {
		s.interval = cfg.Filter.SampleInterval
	}

	if err := s.initCalibration(ctx, cfg); err != nil {
		return nil, multierr.Combine(err, s.closeStore())
	}
	return s, nil
}

// buildFrameSystem adds any named output frame the config leaves out as a dynamic child of the
// world, to be positioned by pose updates.
func buildFrameSystem(cfg *config.Config, logger logging.Logger) (referenceframe.FrameSystem, error) {
	fs, err := referenceframe.NewFrameSystemFromConfig(cfg.Name, cfg.FrameSystem)
	if err != nil {
		return nil, err
	}
	names := fs.FrameNames()
	for _, frame := range []string{cfg.Frames.Sensor, cfg.Frames.Tool, cfg.Frames.ToolTip} {
		if frame == "" || frame == cfg.Frames.World || slices.Contains(names, frame) {
			continue
		}
		logger.Infow("adding unconfigured frame as a dynamic child of the world", "frame", frame)
		if err := fs.AddFrame(referenceframe.LinkConfig{ID: frame, Parent: referenceframe.World, Dynamic: true}); err != nil {
			return nil, err
		}
		names = append(names, frame)
	}
	return fs, nil
}

// initCalibration restores the stored calibration or, without one, applies the configured payload.
func (s *Service) initCalibration(ctx context.Context, cfg *config.Config) error {
	if s.store != nil {
		snap, ok, err := s.store.Load(ctx, s.name)
		if err != nil {
			return err
		}
		if ok {
			if err := s.pipe.Restore(snap); err != nil {
				s.logger.Warnw("ignoring stored calibration", "error", err)
			} else {
				s.logger.Infow("restored calibration", "mode", snap.Mode, "saved_at", snap.SavedAt)
				return nil
			}
		}
	}
	if payload := cfg.Payload(); payload != (calibration.PayloadParameters{}) {
		if _, err := s.pipe.Do(ctx, pipeline.SetToolData{Weight: payload.Weight, LeverArm: payload.LeverArm}); err != nil {
			return err
		}
	}
	return nil
}

// Name is the service name. Calibrations are stored under it.
func (s *Service) Name() string {
	return s.name
}

// FrameSystem is the frame system the pipeline resolves frames in.
func (s *Service) FrameSystem() referenceframe.FrameSystem {
	return s.fs
}

// AddObserver registers an observer of outputs.
func (s *Service) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// AddCanceller registers a receiver of cancel events.
func (s *Service) AddCanceller(c pipeline.Canceller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancellers = append(s.cancellers, c)
}

func (s *Service) snapshotObservers() ([]Observer, []pipeline.Canceller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.observers), slices.Clone(s.cancellers)
}

// Cancel forwards a cancel event to every registered canceller.
func (s *Service) Cancel(ctx context.Context, ev pipeline.CancelEvent) {
	_, cancellers := s.snapshotObservers()
	s.logger.Warnw("cancel", "reason", ev.Reason, "forced", ev.Forced, "cancellers", len(cancellers))
	for _, c := range cancellers {
		c.Cancel(ctx, ev)
	}
}

// Update processes one raw sample and publishes the outputs.
func (s *Service) Update(ctx context.Context, raw wrench.Wrench) (pipeline.Outputs, error) {
	out, err := s.pipe.Update(ctx, raw)
	if err != nil {
		return out, err
	}
	observers, _ := s.snapshotObservers()
	for _, o := range observers {
		o.PublishOutputs(ctx, out)
	}
	return out, nil
}

// Do runs a calibration request, records it and persists the calibration after a successful
// change.
func (s *Service) Do(ctx context.Context, req pipeline.Request) (pipeline.Response, error) {
	resp, err := s.do(ctx, req)
	observers, _ := s.snapshotObservers()
	for _, o := range observers {
		if ro, ok := o.(ResponseObserver); ok {
			ro.PublishResponse(ctx, resp)
		}
	}
	return resp, err
}

func (s *Service) do(ctx context.Context, req pipeline.Request) (pipeline.Response, error) {
	s.calibrationMu.Lock()
	defer s.calibrationMu.Unlock()
	resp, err := s.pipe.Do(ctx, req)
	if s.store == nil || req == nil {
		return resp, err
	}
	s.record(ctx, req, resp)
	if err == nil && req.Op().Mutating() {
		if saveErr := s.store.Save(ctx, s.name, s.pipe.Snapshot(s.clock.Now())); saveErr != nil {
			s.logger.Errorw("cannot persist calibration", "op", req.Op(), "error", saveErr)
		} else {
			s.logger.CDebugw(ctx, "calibration persisted", "op", req.Op())
		}
	}
	return resp, err
}

func (s *Service) record(ctx context.Context, req pipeline.Request, resp pipeline.Response) {
	params, err := json.Marshal(req)
	if err != nil {
		s.logger.Debugw("cannot encode request parameters", "op", req.Op(), "error", err)
		params = nil
	}
	_, err = s.store.RecordOperation(ctx, storage.OperationRecord{
		Sensor:  s.name,
		Op:      string(req.Op()),
		Success: resp.Success,
		Message: resp.Message,
		Params:  params,
		At:      s.clock.Now(),
	})
	if err != nil {
		s.logger.Errorw("cannot record calibration operation", "op", req.Op(), "error", err)
	}
}

// SetPose moves a dynamic frame.
func (s *Service) SetPose(frame string, pose spatialmath.Pose, at time.Time) error {
	return s.fs.SetPose(frame, pose, at)
}

// Outputs returns the latest outputs.
func (s *Service) Outputs() (pipeline.Outputs, bool) {
	return s.pipe.Outputs()
}

// History returns recent calibration operations. Without a store it is empty.
func (s *Service) History(ctx context.Context, limit int) ([]storage.OperationRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.History(ctx, s.name, limit)
}

// Start polls the sensor, if there is one, until Close.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers != nil {
		return errors.New("service already started")
	}
	s.workers = utils.NewStoppableWorkersWithContext(ctx)
	if s.sensor == nil {
		return nil
	}
	if s.interval <= 0 {
		return errors.New("polling a sensor needs a sample interval")
	}
	s.workers.AddWorkers(s.poll)
	return nil
}

func (s *Service) poll(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		raw, err := s.sensor.Wrench(ctx, nil)
		if err != nil {
			s.logger.CDebugw(ctx, "cannot read sensor", "error", err)
			continue
		}
		if _, err := s.Update(ctx, raw); err != nil {
			s.logger.Warnw("dropping sample", "error", err)
		}
	}
}

// Close stops polling, closes the sensor and the store the service opened.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	workers := s.workers
	s.mu.Unlock()
	if workers != nil {
		workers.Stop()
	}
	var err error
	if s.sensor != nil {
		err = multierr.Append(err, s.sensor.Close(ctx))
	}
	return multierr.Append(err, s.closeStore())
}

func (s *Service) closeStore() error {
	if s.store == nil || !s.ownStore {
		return nil
	}
	return s.store.Close()
}

var _ pipeline.Canceller = (*Service)(nil)
