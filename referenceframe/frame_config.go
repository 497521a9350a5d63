package referenceframe

import (
	"time"

	"github.com/pkg/errors"

	"go.viam.com/netft/spatialmath"
)

// LinkConfig describes one frame and its placement relative to its parent.
type LinkConfig struct {
	ID          string                         `json:"id"`
	Parent      string                         `json:"parent"`
	Translation spatialmath.TranslationConfig  `json:"translation"`
	Orientation *spatialmath.OrientationConfig `json:"orientation,omitempty"`

	// Dynamic frames get their pose at runtime through SetPose.
	Dynamic bool          `json:"dynamic,omitempty"`
	MaxAge  time.Duration `json:"max_age,omitempty"`
}

// Validate checks the link has a usable name, parent and orientation.
func (cfg *LinkConfig) Validate(path string) error {
	if cfg.ID == "" {
		return errors.Errorf("%s: frame needs an id", path)
	}
	if cfg.ID == World {
		return errors.Errorf("%s: frame may not be named %q", path, World)
	}
	if cfg.Parent == "" {
		return errors.Errorf("%s: frame %q needs a parent", path, cfg.ID)
	}
	if cfg.Parent == cfg.ID {
		return errors.Errorf("%s: frame %q cannot be its own parent", path, cfg.ID)
	}
	if cfg.MaxAge < 0 {
		return errors.Errorf("%s: frame %q max_age must not be negative", path, cfg.ID)
	}
	if _, err := cfg.Orientation.ParseConfig(); err != nil {
		return errors.Wrapf(err, "%s: frame %q", path, cfg.ID)
	}
	return nil
}

// parseConfig converts a LinkConfig into a frame.
func (cfg *LinkConfig) parseConfig() (*frame, error) {
	if err := cfg.Validate("frame"); err != nil {
		return nil, err
	}
	orientation, err := cfg.Orientation.ParseConfig()
	if err != nil {
		return nil, err
	}
	return &frame{
		name:    cfg.ID,
		parent:  cfg.Parent,
		pose:    spatialmath.NewPose(cfg.Translation.ParseConfig(), orientation),
		dynamic: cfg.Dynamic,
		maxAge:  cfg.MaxAge,
	}, nil
}
