// Package control implements signal conditioning for wrench streams.
package control

import (
	"math"

	"github.com/pkg/errors"
)

// Channels is the number of independent signals a LowPassFilter smooths.
const Channels = 6

// LowPassConfig configures a single pole low pass filter.
type LowPassConfig struct {
	Enabled  bool    `json:"enabled"`
	CutoffHz float64 `json:"cutoff_hz"`
	// DeltaT is the sample period in seconds.
	DeltaT float64 `json:"delta_t"`
}

// Validate returns an error if an enabled config cannot produce a stable filter.
func (cfg LowPassConfig) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.DeltaT <= 0 || math.IsNaN(cfg.DeltaT) || math.IsInf(cfg.DeltaT, 0) {
		return errors.Errorf("low pass filter should have a positive delta_t, got %v", cfg.DeltaT)
	}
	if cfg.CutoffHz <= 0 || math.IsNaN(cfg.CutoffHz) || math.IsInf(cfg.CutoffHz, 0) {
		return errors.Errorf("low pass filter should have a positive cutoff_hz, got %v", cfg.CutoffHz)
	}
	return nil
}

// Alpha is the smoothing factor for a single pole filter: 1 - exp(-2π·fc·dt).
func Alpha(cutoffHz, deltaT float64) float64 {
	return 1 - math.Exp(-2*math.Pi*cutoffHz*deltaT)
}

// LowPassFilter is a first order IIR filter over six channels. The zero value is a disabled
// filter. It holds no pointers, so copying a filter copies its state.
type LowPassFilter struct {
	cfg    LowPassConfig
	alpha  float64
	y      [Channels]float64
	primed bool
}

// NewLowPassFilter returns a filter with the given configuration.
func NewLowPassFilter(cfg LowPassConfig) (LowPassFilter, error) {
	var f LowPassFilter
	if err := f.Configure(cfg); err != nil {
		return LowPassFilter{}, err
	}
	return f, nil
}

// Configure replaces the configuration and resets the filter state. An invalid configuration
// leaves the filter untouched.
func (f *LowPassFilter) Configure(cfg LowPassConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.cfg = cfg
	f.alpha = 0
	if cfg.Enabled {
		f.alpha = Alpha(cfg.CutoffHz, cfg.DeltaT)
	}
	f.Reset()
	return nil
}

// Reset drops the filter state. The next sample passes through unchanged and seeds the state.
func (f *LowPassFilter) Reset() {
	f.y = [Channels]float64{}
	f.primed = false
}

// Next feeds one sample through the filter. A disabled filter returns x and keeps no state.
func (f *LowPassFilter) Next(x [Channels]float64) [Channels]float64 {
	if !f.cfg.Enabled {
		return x
	}
	if !f.primed {
		f.y = x
		f.primed = true
		return x
	}
	for i := range f.y {
		f.y[i] += f.alpha * (x[i] - f.y[i])
	}
	return f.y
}

// Config returns the active configuration.
func (f LowPassFilter) Config() LowPassConfig {
	return f.cfg
}

// Enabled reports whether the filter is active.
func (f LowPassFilter) Enabled() bool {
	return f.cfg.Enabled
}
