package pipeline

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/netft/calibration"
	"go.viam.com/netft/control"
	"go.viam.com/netft/logging"
	"go.viam.com/netft/referenceframe"
	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/utils"
	"go.viam.com/netft/wrench"
)

// DefaultWindow is how many recent raw samples are kept for averaged bias capture.
const DefaultWindow = 100

// Config holds the initial pipeline settings.
type Config struct {
	Frames     FrameSet
	Filter     control.LowPassConfig
	Thresholds Thresholds
	// MinSeparation is the smallest angle in radians between poses used for payload estimation.
	MinSeparation float64
	// Window is how many recent raw samples are kept.
	Window int
	// StillForce and StillTorque are the per-axis standard deviations above which an averaged
	// bias capture warns that the sensor was moving. Zero disables the warning.
	StillForce  float64
	StillTorque float64
	// Clock stamps samples that arrive without a time and forced cancellations.
	Clock clock.Clock
}

// A Canceller halts motion when a threshold is crossed or a cancel is requested.
type Canceller interface {
	Cancel(ctx context.Context, ev CancelEvent)
}

// Pipeline owns a State and serializes samples and calibration requests against it.
type Pipeline struct {
	mu    sync.Mutex
	state State

	// current is the latest raw sample and currentTF the transforms resolved for it.
	current    wrench.Wrench
	currentTF  Transforms
	hasCurrent bool
	recent     *recentSamples
	stale      SlotSet

	minSeparation           float64
	stillForce, stillTorque float64

	provider  referenceframe.TransformProvider
	canceller Canceller
	clock     clock.Clock
	logger    logging.Logger
}

// New returns a pipeline that resolves frames through provider. canceller may be nil.
func New(
	cfg Config,
	provider referenceframe.TransformProvider,
	canceller Canceller,
	logger logging.Logger,
) (*Pipeline, error) {
	if provider == nil {
		return nil, errors.New("pipeline needs a transform provider")
	}
	if err := cfg.Frames.Validate(); err != nil {
		return nil, err
	}
	state := NewState(cfg.Frames)
	if err := state.Filter.Configure(cfg.Filter); err != nil {
		return nil, calibration.NewInvalidConfigurationError("%v", err)
	}
	state.Thresholds = cfg.Thresholds
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Pipeline{
		state:         state,
		recent:        newRecentSamples(cfg.Window),
		minSeparation: cfg.MinSeparation,
		stillForce:    cfg.StillForce,
		stillTorque:   cfg.StillTorque,
		provider:      provider,
		canceller:     canceller,
		clock:         cfg.Clock,
		logger:        logger,
	}, nil
}

// Update processes one raw sample. A sample without a frame is taken to be in the sensor frame
// and one without a time is stamped with the current time. Only samples that cannot be
// processed at all return an error; missing transforms produce stale outputs instead.
func (p *Pipeline) Update(ctx context.Context, raw wrench.Wrench) (Outputs, error) {
	if !raw.IsFinite() {
		return Outputs{}, errors.New("sample has non-finite components")
	}

	p.mu.Lock()
	frames := p.state.Frames
	if raw.Frame == "" {
		raw.Frame = frames.Sensor
	}
	if raw.Frame != frames.Sensor {
		p.mu.Unlock()
		return Outputs{}, errors.Errorf("sample is in frame %q, expected sensor frame %q", raw.Frame, frames.Sensor)
	}
	if raw.Time.IsZero() {
		raw.Time = p.clock.Now()
	}

	tf := ResolveTransforms(ctx, p.provider, frames, raw.Time)
	out, next := Process(raw, tf, p.state)
	p.state = next
	p.current, p.currentTF, p.hasCurrent = raw, tf, true
	p.recent.add(raw)
	p.logStale(ctx, out.Status.Stale, tf)
	p.mu.Unlock()

	if out.Cancel != nil {
		p.logger.Warnw("threshold exceeded, cancelling", "reason", out.Cancel.Reason)
		p.signalCancel(ctx, *out.Cancel)
	}
	return out, nil
}

// logStale warns once when a slot goes stale and notes when it recovers.
func (p *Pipeline) logStale(ctx context.Context, stale SlotSet, tf Transforms) {
	if newly := stale &^ p.stale; newly != 0 {
		p.logger.Warnw("outputs stale, repeating last values", "slots", newly.String(), "error", tf.Err())
	}
	if recovered := p.stale &^ stale; recovered != 0 {
		p.logger.Infow("outputs recovered", "slots", recovered.String())
	}
	if stale != 0 {
		p.logger.CDebugw(ctx, "stale cycle", "slots", stale.String(), "error", tf.Err())
	}
	p.stale = stale
}

func (p *Pipeline) signalCancel(ctx context.Context, ev CancelEvent) {
	if p.canceller != nil {
		p.canceller.Cancel(ctx, ev)
	}
}

// Do runs a calibration request to completion. A failed request leaves the state unchanged and
// is reported both in the response and as the error.
func (p *Pipeline) Do(ctx context.Context, req Request) (Response, error) {
	if req == nil {
		err := calibration.NewInvalidConfigurationError("no calibration request given")
		return Response{Message: err.Error()}, err
	}
	op := req.Op()
	entry, ok := operations[op]
	if !ok {
		err := calibration.NewInvalidConfigurationError("unknown calibration operation %q", op)
		return Response{Op: op, Message: err.Error()}, err
	}

	p.mu.Lock()
	resp, err := entry.run(p, ctx, req)
	p.mu.Unlock()

	if err != nil {
		p.logger.CWarnw(ctx, "calibration operation failed", "op", op, "error", err)
		return Response{Op: op, Message: err.Error()}, err
	}
	resp.Op = op
	resp.Success = true
	if entry.mutates {
		p.logger.Infow("calibration operation applied", "op", op)
	} else {
		p.logger.CDebugw(ctx, "calibration query", "op", op)
	}
	if resp.Cancel != nil {
		p.logger.Warnw("cancel requested", "reason", resp.Cancel.Reason)
		p.signalCancel(ctx, *resp.Cancel)
	}
	return resp, nil
}

// State returns a copy of the pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Outputs returns the most recent outputs and whether any sample has been processed.
func (p *Pipeline) Outputs() (Outputs, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Last, p.state.HasLast
}

// Snapshot captures the bias and payload for persistence.
func (p *Pipeline) Snapshot(at time.Time) calibration.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Bias.Snapshot(p.state.Frames.Sensor, p.state.Payload, at)
}

// Restore installs a persisted bias and payload.
func (p *Pipeline) Restore(snap calibration.Snapshot) error {
	bias, payload, err := snap.Restore()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if snap.Frame != "" && snap.Frame != p.state.Frames.Sensor {
		return calibration.NewInvalidConfigurationError(
			"calibration was saved for sensor frame %q, not %q", snap.Frame, p.state.Frames.Sensor)
	}
	p.state.Bias = bias
	p.state.Payload = payload
	return nil
}

// Ops lists the operations Do accepts.
func Ops() []Op {
	ops := lo.Keys(operations)
	slices.Sort(ops)
	return ops
}

// Mutating reports whether the operation changes calibration state.
func (op Op) Mutating() bool {
	return operations[op].mutates
}

// Weight is the load added since the weight bias was set.
type Weight struct {
	// Force is in the units of the sensor, newtons for most.
	Force float64 `json:"force"`
	// Grams assumes Force is in newtons.
	Grams float64 `json:"grams"`
}

// Report describes the calibration state.
type Report struct {
	Mode          calibration.Mode              `json:"mode"`
	Status        Status                        `json:"status"`
	Frames        FrameSet                      `json:"frames"`
	Payload       calibration.PayloadParameters `json:"payload"`
	Bias          *wrench.Wrench                `json:"bias,omitempty"`
	HasWeightBias bool                          `json:"has_weight_bias"`
	Filter        control.LowPassConfig         `json:"filter"`
	Thresholds    Thresholds                    `json:"thresholds"`
	Poses         int                           `json:"poses"`
	Samples       int                           `json:"samples"`
}

// Response is the result of a calibration request. Only the fields relevant to the operation
// are set.
type Response struct {
	Op      Op     `json:"op"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	Bias    *wrench.Wrench                 `json:"bias,omitempty"`
	Payload *calibration.PayloadParameters `json:"payload,omitempty"`
	Weight  *Weight                        `json:"weight,omitempty"`
	Report  *Report                        `json:"report,omitempty"`
	Poses   int                            `json:"poses,omitempty"`
	Cancel  *CancelEvent                   `json:"cancel,omitempty"`
}

type operation struct {
	mutates bool
	decode  func(params map[string]interface{}) (Request, error)
	run     func(p *Pipeline, ctx context.Context, req Request) (Response, error)
}

func newOperation[R Request](mutates bool, run func(*Pipeline, context.Context, R) (Response, error)) operation {
	return operation{
		mutates: mutates,
		decode: func(params map[string]interface{}) (Request, error) {
			var req R
			if err := decodeParams(params, &req); err != nil {
				return nil, err
			}
			return req, nil
		},
		run: func(p *Pipeline, ctx context.Context, req Request) (Response, error) {
			typed, ok := req.(R)
			if !ok {
				return Response{}, utils.NewUnexpectedTypeError[R](req)
			}
			return run(p, ctx, typed)
		},
	}
}

// operations handlers run with the pipeline lock held and must not mutate state on failure.
var operations = map[Op]operation{
	OpSetFixedBias:         newOperation(true, (*Pipeline).setFixedBias),
	OpCompensateForGravity: newOperation(true, (*Pipeline).compensateForGravity),
	OpSetWeightBias:        newOperation(true, (*Pipeline).setWeightBias),
	OpCaptureToolPose:      newOperation(true, (*Pipeline).captureToolPose),
	OpClearToolPoses:       newOperation(true, (*Pipeline).clearToolPoses),
	OpFindToolParams:       newOperation(true, (*Pipeline).findToolParams),
	OpSetToolData:          newOperation(true, (*Pipeline).setToolData),
	OpSetBiasData:          newOperation(true, (*Pipeline).setBiasData),
	OpSetToolTipFrame:      newOperation(true, (*Pipeline).setToolTipFrame),
	OpSetFilter:            newOperation(true, (*Pipeline).setFilter),
	OpSetThreshold:         newOperation(true, (*Pipeline).setThreshold),
	OpSetMax:               newOperation(true, (*Pipeline).setMax),
	OpClearThresholds:      newOperation(true, (*Pipeline).clearThresholds),
	OpCancel:               newOperation(false, (*Pipeline).cancel),
	OpRearmCancel:          newOperation(true, (*Pipeline).rearmCancel),
	OpGetWeight:            newOperation(false, (*Pipeline).getWeight),
	OpGetStatus:            newOperation(false, (*Pipeline).getStatus),
}

func wrenchIn(frame string, force, torque r3.Vector) wrench.Wrench {
	return wrench.Wrench{Force: force, Torque: torque, Frame: frame}
}

func (p *Pipeline) currentSample() (wrench.Wrench, error) {
	if !p.hasCurrent {
		return wrench.Wrench{}, calibration.NewPreconditionError("no sample has been received yet")
	}
	return p.current, nil
}

func (p *Pipeline) currentOrientation() (wrench.Wrench, Lookup, error) {
	raw, err := p.currentSample()
	if err != nil {
		return wrench.Wrench{}, Lookup{}, err
	}
	tf := p.currentTF.SensorInWorld
	if !tf.OK() {
		return wrench.Wrench{}, Lookup{}, calibration.NewPreconditionError(
			"sensor orientation in %q is unknown, cannot resolve the world up axis: %v", p.state.Frames.World, tf.Err)
	}
	return raw, tf, nil
}

// correctedCurrent is the latest raw sample with the active bias removed.
func (p *Pipeline) correctedCurrent() (wrench.Wrench, error) {
	raw, err := p.currentSample()
	if err != nil {
		return wrench.Wrench{}, err
	}
	tf := p.currentTF.SensorInWorld
	if !p.state.Bias.NeedsOrientation() {
		return p.state.Bias.Correct(raw, nil, p.state.Payload)
	}
	if !tf.OK() {
		return wrench.Wrench{}, calibration.NewPreconditionError("gravity compensation needs the sensor orientation: %v", tf.Err)
	}
	return p.state.Bias.Correct(raw, tf.Pose.Orientation(), p.state.Payload)
}

func (p *Pipeline) setFixedBias(_ context.Context, req SetFixedBias) (Response, error) {
	raw, err := p.currentSample()
	if err != nil {
		return Response{}, err
	}
	if req.Samples < 0 {
		return Response{}, calibration.NewInvalidConfigurationError("samples must not be negative, got %d", req.Samples)
	}
	if req.Samples > 1 {
		readings := p.recent.last(req.Samples)
		if len(readings) < req.Samples {
			p.logger.Warnw("fewer recent samples than requested for bias",
				"requested", req.Samples, "available", len(readings), "window", p.recent.capacity())
		}
		mean, spread, err := calibration.Average(readings)
		if err != nil {
			return Response{}, err
		}
		p.warnIfMoving(spread)
		raw = mean
	}
	p.state.Bias.SetFixedOrientationBias(raw)
	return Response{Bias: &raw}, nil
}

func (p *Pipeline) warnIfMoving(spread [6]float64) {
	force := max(spread[0], spread[1], spread[2])
	torque := max(spread[3], spread[4], spread[5])
	if (p.stillForce > 0 && force > p.stillForce) || (p.stillTorque > 0 && torque > p.stillTorque) {
		p.logger.Warnw("sensor was not still while the bias was captured",
			"force_stddev", force, "torque_stddev", torque)
	}
}

func (p *Pipeline) compensateForGravity(_ context.Context, _ CompensateForGravity) (Response, error) {
	raw, tf, err := p.currentOrientation()
	if err != nil {
		return Response{}, err
	}
	if err := p.state.Bias.CompensateForGravity(raw, tf.Pose.Orientation()); err != nil {
		return Response{}, err
	}
	return Response{Bias: &raw}, nil
}

func (p *Pipeline) setWeightBias(_ context.Context, _ SetWeightBias) (Response, error) {
	if !p.state.Bias.HasBaseline() {
		return Response{}, calibration.NewPreconditionError("weight bias needs a fixed or gravity bias to be set first")
	}
	corrected, err := p.correctedCurrent()
	if err != nil {
		return Response{}, err
	}
	if err := p.state.Bias.SetWeightBias(corrected); err != nil {
		return Response{}, err
	}
	return Response{Bias: &corrected}, nil
}

func (p *Pipeline) captureToolPose(_ context.Context, _ CaptureToolPose) (Response, error) {
	raw, tf, err := p.currentOrientation()
	if err != nil {
		return Response{}, err
	}
	poses := append(slices.Clone(p.state.Poses), calibration.PoseSample{Reading: raw, Orientation: tf.Pose.Orientation()})
	p.state.Poses = poses
	return Response{Poses: len(poses)}, nil
}

func (p *Pipeline) clearToolPoses(_ context.Context, _ ClearToolPoses) (Response, error) {
	p.state.Poses = nil
	return Response{}, nil
}

func (p *Pipeline) findToolParams(_ context.Context, req FindToolParams) (Response, error) {
	samples := p.state.Poses
	captured := len(req.Poses) == 0
	if !captured {
		var err error
		if samples, err = req.samples(p.state.Frames.Sensor); err != nil {
			return Response{}, err
		}
	}
	minSeparation := p.minSeparation
	if req.MinSeparationDeg < 0 {
		return Response{}, calibration.NewInvalidConfigurationError("min_separation_deg must not be negative")
	}
	if req.MinSeparationDeg > 0 {
		minSeparation = utils.DegToRad(req.MinSeparationDeg)
	}

	params, err := calibration.FindToolParams(samples, minSeparation)
	if err != nil {
		return Response{}, err
	}
	p.state.Payload = params
	if captured {
		p.state.Poses = nil
	}
	return Response{Payload: &params}, nil
}

func (p *Pipeline) setToolData(_ context.Context, req SetToolData) (Response, error) {
	params := calibration.PayloadParameters{Weight: req.Weight, LeverArm: req.LeverArm}
	if err := params.Validate(); err != nil {
		return Response{}, err
	}
	p.state.Payload = params
	return Response{Payload: &params}, nil
}

func (p *Pipeline) setBiasData(_ context.Context, req SetBiasData) (Response, error) {
	bias := wrenchIn(p.state.Frames.Sensor, req.Force, req.Torque)
	if !bias.IsFinite() {
		return Response{}, calibration.NewInvalidConfigurationError("bias must be finite")
	}
	p.state.Bias.SetBiasData(bias)
	return Response{Bias: &bias}, nil
}

func (p *Pipeline) setToolTipFrame(_ context.Context, req SetToolTipFrame) (Response, error) {
	if req.Frame == "" {
		return Response{}, calibration.NewInvalidConfigurationError("tool tip frame name must not be empty")
	}
	if req.Frame == p.state.Frames.Tool {
		p.state.Frames.ToolTip = ""
	} else {
		p.state.Frames.ToolTip = req.Frame
	}
	return Response{}, nil
}

func (p *Pipeline) setFilter(_ context.Context, req SetFilter) (Response, error) {
	if err := p.state.Filter.Configure(req.LowPassConfig()); err != nil {
		return Response{}, calibration.NewInvalidConfigurationError("%v", err)
	}
	return Response{}, nil
}

func (p *Pipeline) setThreshold(_ context.Context, req SetThreshold) (Response, error) {
	t, err := p.state.Thresholds.WithAxisLimits(req.Force, req.Torque)
	if err != nil {
		return Response{}, err
	}
	p.state.Thresholds, p.state.Tripped = t, false
	return Response{}, nil
}

func (p *Pipeline) setMax(_ context.Context, req SetMax) (Response, error) {
	t, err := p.state.Thresholds.WithMagnitudeLimits(req.Force, req.Torque)
	if err != nil {
		return Response{}, err
	}
	p.state.Thresholds, p.state.Tripped = t, false
	return Response{}, nil
}

func (p *Pipeline) clearThresholds(_ context.Context, _ ClearThresholds) (Response, error) {
	p.state.Thresholds, p.state.Tripped = Thresholds{}, false
	return Response{}, nil
}

func (p *Pipeline) cancel(_ context.Context, req Cancel) (Response, error) {
	reason := req.Reason
	if reason == "" {
		reason = "cancel requested"
	}
	ev := CancelEvent{Reason: reason, Wrench: p.state.Last.Tool, At: p.clock.Now(), Forced: true}
	return Response{Cancel: &ev}, nil
}

func (p *Pipeline) rearmCancel(_ context.Context, _ RearmCancel) (Response, error) {
	p.state.Tripped = false
	return Response{}, nil
}

func (p *Pipeline) getWeight(_ context.Context, _ GetWeight) (Response, error) {
	if !p.state.Bias.HasWeightBias {
		return Response{}, calibration.NewPreconditionError("no weight bias has been set")
	}
	_, tf, err := p.currentOrientation()
	if err != nil {
		return Response{}, err
	}
	corrected, err := p.correctedCurrent()
	if err != nil {
		return Response{}, err
	}
	force, err := p.state.Bias.NetWeight(corrected, tf.Pose.Orientation())
	if err != nil {
		return Response{}, err
	}
	return Response{Weight: &Weight{Force: force, Grams: force / utils.StandardGravity * 1000}}, nil
}

func (p *Pipeline) getStatus(_ context.Context, _ GetStatus) (Response, error) {
	s := p.state
	report := Report{
		Mode:          s.Bias.Mode(),
		Status:        s.Last.Status,
		Frames:        s.Frames,
		Payload:       s.Payload,
		HasWeightBias: s.Bias.HasWeightBias,
		Filter:        s.Filter.Config(),
		Thresholds:    s.Thresholds,
		Poses:         len(s.Poses),
		Samples:       p.recent.count,
	}
	report.Status.IsBiased = s.Bias.IsBiased
	report.Status.IsGravityBiased = s.Bias.IsGravityBiased
	report.Status.Filtered = s.Filter.Enabled()
	report.Status.Cancelling = s.Tripped

	if s.Bias.HasBaseline() {
		var orientation spatialmath.Orientation
		if tf := p.currentTF.SensorInWorld; tf.OK() {
			orientation = tf.Pose.Orientation()
		}
		if bias, err := s.Bias.CurrentBias(s.Frames.Sensor, orientation, s.Payload); err == nil {
			report.Bias = &bias
		}
	}
	return Response{Report: &report}, nil
}
