// Package referenceframe resolves the pose of one named coordinate frame relative to another.
package referenceframe

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/netft/spatialmath"
)

// World is the string "world", but made into an exported constant.
const World = "world"

// TransformProvider resolves transforms between named frames at a point in time.
type TransformProvider interface {
	// Lookup returns the pose of the source frame expressed in the target frame, such that a
	// point p in source has coordinates R*p + t in target. Failures match ErrTransformUnavailable.
	Lookup(ctx context.Context, source, target string, at time.Time) (spatialmath.Pose, error)
}

// FrameSystem represents a tree of frames connected to each other, allowing for transformations between any two frames.
type FrameSystem interface {
	TransformProvider

	// Name returns the name of this FrameSystem
	Name() string

	// FrameNames returns the names of all of the frames that exist in the FrameSystem
	FrameNames() []string

	// AddFrame inserts a frame into the FrameSystem as a child of the parent frame.
	AddFrame(cfg LinkConfig) error

	// SetPose updates the pose of a frame relative to its parent, stamped with the given time.
	SetPose(name string, pose spatialmath.Pose, at time.Time) error

	// RemoveFrame removes the given frame and its descendents from the FrameSystem
	RemoveFrame(name string)

	// Parent returns the name of the parent frame for the given frame.
	Parent(name string) (string, error)

	// TracebackFrame traces the parentage of the given frame up to the world, and returns the full list of frames in between.
	// The list will include both the query frame and the world frame.
	TracebackFrame(name string) ([]string, error)
}

type frame struct {
	name   string
	parent string
	pose   spatialmath.Pose

	dynamic   bool
	maxAge    time.Duration
	updatedAt time.Time
	hasPose   bool
}

// simpleFrameSystem implements FrameSystem. It is a simple tree graph.
type simpleFrameSystem struct {
	name   string
	mu     sync.RWMutex
	frames map[string]*frame
}

// NewEmptyFrameSystem creates a frame system holding only the world frame.
func NewEmptyFrameSystem(name string) FrameSystem {
	return &simpleFrameSystem{name: name, frames: map[string]*frame{}}
}

// NewFrameSystemFromConfig builds a frame system from link configs. Parents may be listed in any order.
func NewFrameSystemFromConfig(name string, links []LinkConfig) (FrameSystem, error) {
	fs := &simpleFrameSystem{name: name, frames: map[string]*frame{}}
	pending := append([]LinkConfig(nil), links...)
	for len(pending) > 0 {
		var deferred []LinkConfig
		for _, link := range pending {
			if !fs.frameExists(link.Parent) && frameIn(pending, link.Parent) {
				deferred = append(deferred, link)
				continue
			}
			if err := fs.AddFrame(link); err != nil {
				return nil, err
			}
		}
		if len(deferred) == len(pending) {
			ids := make([]string, 0, len(deferred))
			for _, link := range deferred {
				ids = append(ids, link.ID)
			}
			return nil, errors.Errorf("frames %v form a parent cycle", ids)
		}
		pending = deferred
	}
	return fs, nil
}

func frameIn(links []LinkConfig, name string) bool {
	for _, link := range links {
		if link.ID == name {
			return true
		}
	}
	return false
}

func (sfs *simpleFrameSystem) Name() string {
	return sfs.name
}

// frameExists is a helper function to see if a frame with a given name already exists in the system.
func (sfs *simpleFrameSystem) frameExists(name string) bool {
	if name == World {
		return true
	}
	_, ok := sfs.frames[name]
	return ok
}

// FrameNames returns the list of frame names registered in the frame system.
func (sfs *simpleFrameSystem) FrameNames() []string {
	sfs.mu.RLock()
	defer sfs.mu.RUnlock()
	frameNames := make([]string, 0, len(sfs.frames))
	for k := range sfs.frames {
		frameNames = append(frameNames, k)
	}
	sort.Strings(frameNames)
	return frameNames
}

// AddFrame parses the config and adds the frame under its parent.
func (sfs *simpleFrameSystem) AddFrame(cfg LinkConfig) error {
	f, err := cfg.parseConfig()
	if err != nil {
		return err
	}

	sfs.mu.Lock()
	defer sfs.mu.Unlock()
	if !sfs.frameExists(f.parent) {
		return NewParentFrameMissingError(f.name, f.parent)
	}
	if sfs.frameExists(f.name) {
		return NewFrameAlreadyExistsError(f.name)
	}
	sfs.frames[f.name] = f
	return nil
}

// SetPose replaces the pose of a frame relative to its parent.
func (sfs *simpleFrameSystem) SetPose(name string, pose spatialmath.Pose, at time.Time) error {
	if pose == nil {
		return errors.Errorf("cannot set nil pose on frame %q", name)
	}
	sfs.mu.Lock()
	defer sfs.mu.Unlock()
	f, ok := sfs.frames[name]
	if !ok {
		return NewFrameNotInFrameSystemError(name)
	}
	f.pose = pose
	f.updatedAt = at
	f.hasPose = true
	return nil
}

// RemoveFrame will delete the given frame and all descendents from the frame system if it exists.
func (sfs *simpleFrameSystem) RemoveFrame(name string) {
	sfs.mu.Lock()
	defer sfs.mu.Unlock()
	sfs.removeFrame(name)
}

func (sfs *simpleFrameSystem) removeFrame(name string) {
	delete(sfs.frames, name)
	for childName, f := range sfs.frames {
		if f.parent == name {
			sfs.removeFrame(childName)
		}
	}
}

// Parent returns the parent frame of the input frame. An error is returned for the world frame.
func (sfs *simpleFrameSystem) Parent(name string) (string, error) {
	sfs.mu.RLock()
	defer sfs.mu.RUnlock()
	if name == World {
		return "", errors.New("world frame has no parent")
	}
	f, ok := sfs.frames[name]
	if !ok {
		return "", NewFrameNotInFrameSystemError(name)
	}
	return f.parent, nil
}

// TracebackFrame traces the parentage of the given frame up to the world.
func (sfs *simpleFrameSystem) TracebackFrame(name string) ([]string, error) {
	sfs.mu.RLock()
	defer sfs.mu.RUnlock()
	return sfs.traceback(name)
}

func (sfs *simpleFrameSystem) traceback(name string) ([]string, error) {
	chain := []string{}
	for name != World {
		f, ok := sfs.frames[name]
		if !ok {
			return nil, NewFrameNotInFrameSystemError(name)
		}
		chain = append(chain, name)
		name = f.parent
	}
	return append(chain, World), nil
}

// Lookup returns the pose of source in target. Only the frames between source, target and their
// closest common ancestor take part, so a dynamic frame above that ancestor cannot fail the
// lookup. Dynamic frames on the path that have never been updated, or whose last update is
// older than their max age at the lookup time, make the lookup fail.
func (sfs *simpleFrameSystem) Lookup(ctx context.Context, source, target string, at time.Time) (spatialmath.Pose, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewTransformUnavailableError(source, target, at, err)
	}
	if source == target {
		return spatialmath.NewZeroPose(), nil
	}

	sfs.mu.RLock()
	defer sfs.mu.RUnlock()

	sourceChain, err := sfs.traceback(source)
	if err != nil {
		return nil, NewTransformUnavailableError(source, target, at, err)
	}
	targetChain, err := sfs.traceback(target)
	if err != nil {
		return nil, NewTransformUnavailableError(source, target, at, err)
	}
	ancestor := commonAncestor(sourceChain, targetChain)

	ancestorFromSource, err := sfs.poseInAncestor(sourceChain, ancestor, at)
	if err != nil {
		return nil, NewTransformUnavailableError(source, target, at, err)
	}
	ancestorFromTarget, err := sfs.poseInAncestor(targetChain, ancestor, at)
	if err != nil {
		return nil, NewTransformUnavailableError(source, target, at, err)
	}
	return spatialmath.Compose(spatialmath.PoseInverse(ancestorFromTarget), ancestorFromSource), nil
}

// commonAncestor is the first frame of a that also appears in b. Both chains end in the world.
func commonAncestor(a, b []string) string {
	for _, name := range a {
		if slices.Contains(b, name) {
			return name
		}
	}
	return World
}

// poseInAncestor composes the frames of chain that lie strictly below ancestor.
func (sfs *simpleFrameSystem) poseInAncestor(chain []string, ancestor string, at time.Time) (spatialmath.Pose, error) {
	end := slices.Index(chain, ancestor)
	result := spatialmath.NewZeroPose()
	for i := end - 1; i >= 0; i-- {
		f := sfs.frames[chain[i]]
		if f.dynamic {
			if !f.hasPose {
				return nil, errors.Errorf("no pose received for frame %q", f.name)
			}
			if f.maxAge > 0 && !at.IsZero() && at.Sub(f.updatedAt) > f.maxAge {
				return nil, errors.Errorf("pose of frame %q is %s old", f.name, at.Sub(f.updatedAt))
			}
		}
		result = spatialmath.Compose(result, f.pose)
	}
	return result, nil
}
