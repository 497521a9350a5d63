package calibration

import (
	"github.com/pkg/errors"
)

var (
	// ErrCalibrationPrecondition is matched by errors from operations whose required state is missing.
	ErrCalibrationPrecondition = errors.New("calibration precondition not met")
	// ErrInvalidConfiguration is matched by errors from rejected parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrEstimationDegenerate is matched by errors from payload estimation that cannot produce a
	// trustworthy answer from the given poses.
	ErrEstimationDegenerate = errors.New("estimation degenerate")
)

// NewPreconditionError wraps ErrCalibrationPrecondition with a message.
func NewPreconditionError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCalibrationPrecondition, format, args...)
}

// NewInvalidConfigurationError wraps ErrInvalidConfiguration with a message.
func NewInvalidConfigurationError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidConfiguration, format, args...)
}

// NewEstimationDegenerateError wraps ErrEstimationDegenerate with a message.
func NewEstimationDegenerateError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrEstimationDegenerate, format, args...)
}
