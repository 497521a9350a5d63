// Package config defines the configuration file of a netft service.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/netft/calibration"
	"go.viam.com/netft/control"
	"go.viam.com/netft/logging"
	"go.viam.com/netft/pipeline"
	"go.viam.com/netft/referenceframe"
	"go.viam.com/netft/utils"
)

// Defaults applied to unset fields.
const (
	DefaultName             = "netft"
	DefaultTopicPrefix      = "netft"
	DefaultWebAddress       = "localhost:8080"
	DefaultMinSeparationDeg = 20.
	DefaultFakeRateHz       = 100.
)

// Config describes a netft service.
type Config struct {
	ConfigFilePath string `json:"-"`

	Name        string                      `json:"name"`
	Frames      pipeline.FrameSet           `json:"frames"`
	FrameSystem []referenceframe.LinkConfig `json:"frame_system"`
	Filter      FilterConfig                `json:"filter"`
	Threshold   *ThresholdConfig            `json:"threshold,omitempty"`
	Max         *MaxConfig                  `json:"max,omitempty"`
	ToolParams  ToolParamsConfig            `json:"tool_params"`
	Bias        BiasConfig                  `json:"bias"`
	MQTT        *MQTTConfig                 `json:"mqtt,omitempty"`
	Web         *WebConfig                  `json:"web,omitempty"`
	Storage     *StorageConfig              `json:"storage,omitempty"`
	FakeSensor  *FakeSensorConfig           `json:"fake_sensor,omitempty"`
	Log         LogConfig                   `json:"log"`
}

// Axes holds one value per Cartesian axis.
type Axes struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vector converts the axes to a vector.
func (a Axes) Vector() r3.Vector {
	return r3.Vector{X: a.X, Y: a.Y, Z: a.Z}
}

// FilterConfig configures the low pass filter at startup.
type FilterConfig struct {
	Enabled        bool          `json:"enabled"`
	CutoffHz       float64       `json:"cutoff_hz"`
	SampleInterval time.Duration `json:"sample_interval"`
}

// LowPassConfig converts to the filter's own configuration.
func (cfg FilterConfig) LowPassConfig() control.LowPassConfig {
	return control.LowPassConfig{Enabled: cfg.Enabled, CutoffHz: cfg.CutoffHz, DeltaT: cfg.SampleInterval.Seconds()}
}

// ThresholdConfig sets per-axis limits on the tool frame wrench.
type ThresholdConfig struct {
	Force  Axes `json:"force"`
	Torque Axes `json:"torque"`
}

// MaxConfig sets magnitude limits on the tool frame wrench.
type MaxConfig struct {
	Force  float64 `json:"force"`
	Torque float64 `json:"torque"`
}

// ToolParamsConfig seeds the payload and tunes its estimation.
type ToolParamsConfig struct {
	Weight           float64 `json:"weight"`
	LeverArm         float64 `json:"lever_arm"`
	MinSeparationDeg float64 `json:"min_separation_deg"`
}

// BiasConfig tunes averaged bias capture.
type BiasConfig struct {
	AveragingWindow int     `json:"averaging_window"`
	StillForce      float64 `json:"still_force"`
	StillTorque     float64 `json:"still_torque"`
}

// MQTTConfig connects the service to a broker.
type MQTTConfig struct {
	Broker         string        `json:"broker"`
	ClientID       string        `json:"client_id"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	TopicPrefix    string        `json:"topic_prefix"`
	QoS            byte          `json:"qos"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// WebConfig exposes the HTTP API.
type WebConfig struct {
	Address string `json:"address"`
}

// StorageConfig persists calibrations.
type StorageConfig struct {
	Path string `json:"path"`
}

// FakeSensorConfig runs a simulated sensor instead of waiting for samples from outside.
type FakeSensorConfig struct {
	RateHz   float64    `json:"rate_hz"`
	Weight   float64    `json:"weight"`
	LeverArm float64    `json:"lever_arm"`
	Offset   [6]float64 `json:"offset"`
	Noise    float64    `json:"noise"`
	Seed     int64      `json:"seed"`
}

// LogConfig selects the log level and an optional rotating log file.
type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	defaults := pipeline.DefaultFrameSet()
	if c.Frames.World == "" {
		c.Frames.World = defaults.World
	}
	if c.Frames.Sensor == "" {
		c.Frames.Sensor = defaults.Sensor
	}
	if c.Frames.Tool == "" {
		c.Frames.Tool = c.Frames.Sensor
	}
	if c.ToolParams.MinSeparationDeg == 0 {
		c.ToolParams.MinSeparationDeg = DefaultMinSeparationDeg
	}
	if c.Bias.AveragingWindow == 0 {
		c.Bias.AveragingWindow = pipeline.DefaultWindow
	}
	if c.MQTT != nil {
		if c.MQTT.TopicPrefix == "" {
			c.MQTT.TopicPrefix = DefaultTopicPrefix
		}
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = c.Name
		}
		if c.MQTT.ConnectTimeout == 0 {
			c.MQTT.ConnectTimeout = 10 * time.Second
		}
	}
	if c.Web != nil && c.Web.Address == "" {
		c.Web.Address = DefaultWebAddress
	}
	if c.FakeSensor != nil && c.FakeSensor.RateHz == 0 {
		c.FakeSensor.RateHz = DefaultFakeRateHz
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate returns every problem with the config.
func (c *Config) Validate(path string) error {
	var errs error
	if c.Name == "" {
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, "name"))
	}
	if err := c.Frames.Validate(); err != nil {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(join(path, "frames"), err))
	}
	for idx := range c.FrameSystem {
		errs = multierr.Append(errs, c.FrameSystem[idx].Validate(join(path, fmt.Sprintf("frame_system.%d", idx))))
	}
	if err := c.Filter.LowPassConfig().Validate(); err != nil {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(join(path, "filter"), err))
	}
	if _, err := c.Thresholds(); err != nil {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path, err))
	}
	if err := c.Payload().Validate(); err != nil {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(join(path, "tool_params"), err))
	}
	if c.ToolParams.MinSeparationDeg < 0 || c.ToolParams.MinSeparationDeg >= 180 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(join(path, "tool_params"),
			errors.Errorf("min_separation_deg must be between 0 and 180, got %v", c.ToolParams.MinSeparationDeg)))
	}
	if c.Bias.AveragingWindow < 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(join(path, "bias"),
			errors.New("averaging_window must not be negative")))
	}
	if c.MQTT != nil {
		errs = multierr.Append(errs, c.MQTT.Validate(join(path, "mqtt")))
	}
	if c.Storage != nil && c.Storage.Path == "" {
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(join(path, "storage"), "path"))
	}
	if c.FakeSensor != nil {
		errs = multierr.Append(errs, c.FakeSensor.Validate(join(path, "fake_sensor")))
	}
	if _, err := logging.LevelFromString(c.Log.Level); err != nil {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(join(path, "log"), err))
	}
	return errs
}

// Validate checks the broker settings.
func (cfg *MQTTConfig) Validate(path string) error {
	var errs error
	if cfg.Broker == "" {
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, "broker"))
	}
	if cfg.QoS > 2 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path, errors.Errorf("qos must be 0, 1 or 2, got %d", cfg.QoS)))
	}
	return errs
}

// Validate checks the simulated sensor settings.
func (cfg *FakeSensorConfig) Validate(path string) error {
	var errs error
	if cfg.RateHz <= 0 || math.IsInf(cfg.RateHz, 0) {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path, errors.Errorf("rate_hz must be positive, got %v", cfg.RateHz)))
	}
	if cfg.Noise < 0 {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path, errors.New("noise must not be negative")))
	}
	if err := cfg.Payload().Validate(); err != nil {
		errs = multierr.Append(errs, goutils.NewConfigValidationError(path, err))
	}
	return errs
}

// Payload is the simulated payload.
func (cfg *FakeSensorConfig) Payload() calibration.PayloadParameters {
	return calibration.PayloadParameters{Weight: cfg.Weight, LeverArm: cfg.LeverArm}
}

// Interval is the time between simulated samples.
func (cfg *FakeSensorConfig) Interval() time.Duration {
	return time.Duration(float64(time.Second) / cfg.RateHz)
}

// Payload is the payload the service starts with.
func (c *Config) Payload() calibration.PayloadParameters {
	return calibration.PayloadParameters{Weight: c.ToolParams.Weight, LeverArm: c.ToolParams.LeverArm}
}

// Thresholds builds the starting limits from the threshold and max sections.
func (c *Config) Thresholds() (pipeline.Thresholds, error) {
	var t pipeline.Thresholds
	var err error
	if c.Threshold != nil {
		if t, err = t.WithAxisLimits(c.Threshold.Force.Vector(), c.Threshold.Torque.Vector()); err != nil {
			return pipeline.Thresholds{}, errors.Wrap(err, "threshold")
		}
	}
	if c.Max != nil {
		if t, err = t.WithMagnitudeLimits(c.Max.Force, c.Max.Torque); err != nil {
			return pipeline.Thresholds{}, errors.Wrap(err, "max")
		}
	}
	return t, nil
}

// PipelineConfig converts to the pipeline's settings. The config must be valid.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	thresholds, err := c.Thresholds()
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Frames:        c.Frames,
		Filter:        c.Filter.LowPassConfig(),
		Thresholds:    thresholds,
		MinSeparation: utils.DegToRad(c.ToolParams.MinSeparationDeg),
		Window:        c.Bias.AveragingWindow,
		StillForce:    c.Bias.StillForce,
		StillTorque:   c.Bias.StillTorque,
	}, nil
}

func join(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
