package referenceframe

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrTransformUnavailable is matched by every error returned when a transform between two frames
// cannot be resolved at the requested time.
var ErrTransformUnavailable = errors.New("transform unavailable")

// TransformUnavailableError describes a failed frame lookup.
type TransformUnavailableError struct {
	Source string
	Target string
	At     time.Time
	Err    error
}

// NewTransformUnavailableError returns an error for a lookup from source to target that could not be resolved.
func NewTransformUnavailableError(source, target string, at time.Time, reason error) error {
	return &TransformUnavailableError{Source: source, Target: target, At: at, Err: reason}
}

func (e *TransformUnavailableError) Error() string {
	msg := fmt.Sprintf("transform unavailable from %q to %q", e.Source, e.Target)
	if !e.At.IsZero() {
		msg += " at " + e.At.Format(time.RFC3339Nano)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is ErrTransformUnavailable.
func (e *TransformUnavailableError) Is(target error) bool {
	return target == ErrTransformUnavailable
}

// Unwrap returns the underlying reason.
func (e *TransformUnavailableError) Unwrap() error {
	return e.Err
}

// NewParentFrameMissingError returns an error indicating that a frame's parent is not in the frame system.
func NewParentFrameMissingError(name, parent string) error {
	return errors.Errorf("parent frame %q of frame %q not in frame system", parent, name)
}

// NewFrameNotInFrameSystemError returns an error indicating that a frame is not in the frame system.
func NewFrameNotInFrameSystemError(name string) error {
	return errors.Errorf("frame with name %q not in frame system", name)
}

// NewFrameAlreadyExistsError returns an error indicating that a frame name is already taken.
func NewFrameAlreadyExistsError(name string) error {
	return errors.Errorf("frame with name %q already in frame system", name)
}
