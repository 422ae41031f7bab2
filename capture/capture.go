// Package capture defines the boundary to the image-capture and
// photogrammetry engines the scan orchestrator consumes. Engines are
// opaque capabilities: the orchestrator sequences them and reacts to
// their reported state, it never looks inside.
package capture

import (
	"context"

	"github.com/pkg/errors"
)

// Mode selects what a capture attempt optimizes for: a single object
// on the rig, or a whole area sweep.
type Mode string

// Supported capture modes.
const (
	ModeObject Mode = "object"
	ModeArea   Mode = "area"
)

// A Condition is an opaque transient feedback code reported by the
// capture engine. Not every condition has a user-facing message.
type Condition string

// Conditions reported by capture engines.
const (
	ConditionObjectTooClose     Condition = "object_too_close"
	ConditionObjectTooFar       Condition = "object_too_far"
	ConditionMovingTooFast      Condition = "moving_too_fast"
	ConditionEnvironmentTooDark Condition = "environment_too_dark"
	ConditionOutOfFieldOfView   Condition = "out_of_field_of_view"
	ConditionObjectNotFlippable Condition = "object_not_flippable"
	ConditionOverCapturing      Condition = "over_capturing"
)

// A ConditionSet is the set of conditions active in one feedback frame.
type ConditionSet map[Condition]bool

// NewConditionSet builds a set from the given conditions.
func NewConditionSet(conds ...Condition) ConditionSet {
	set := make(ConditionSet, len(conds))
	for _, c := range conds {
		set[c] = true
	}
	return set
}

// Has reports whether c is active in the set.
func (s ConditionSet) Has(c Condition) bool {
	return s[c]
}

// StateKind enumerates the phases an engine reports over its state
// stream. PassComplete is non-terminal; Completed and Failed are
// terminal.
type StateKind int

// Engine state kinds.
const (
	StateInitializing StateKind = iota
	StateRunning
	StatePassComplete
	StateCompleted
	StateFailed
)

func (k StateKind) String() string {
	switch k {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StatePassComplete:
		return "pass_complete"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is one update on an engine's state stream. Err is set only
// when Kind is StateFailed.
type State struct {
	Kind StateKind
	Err  error
}

// ErrCancelled marks an engine failure caused by cancellation rather
// than a real fault; the orchestrator recovers from it silently.
var ErrCancelled = errors.New("capture cancelled")

// ErrUnsupported is returned when no capture engine is available on
// this host. It is fatal: the environment cannot be repaired at runtime.
var ErrUnsupported = errors.New("object capture is not supported on this host")

// Cancelled reports whether a failure cause carries the cancellation
// marker.
func Cancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// SessionConfig configures a single capture engine run.
type SessionConfig struct {
	Mode Mode
	// OverCapture lets the engine keep shooting past its own coverage
	// estimate; the session manager always enables it.
	OverCapture   bool
	CheckpointDir string
}

// ReconstructionConfig configures a photogrammetry run over a folder
// of captured images.
type ReconstructionConfig struct {
	// MaskObject isolates the object from its surroundings; it is
	// enabled for every mode except area capture.
	MaskObject    bool
	CheckpointDir string
}

// An Engine is a running image-capture attempt. Feedback and state
// streams stay open for the engine's lifetime; both are closed by
// Close.
type Engine interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// Finish stops adding shots and finalizes the attempt; the engine
	// reports StateCompleted on its state stream when done.
	Finish(ctx context.Context) error

	Feedback() <-chan ConditionSet
	States() <-chan State
	// State returns the current state synchronously; used to detect an
	// engine that failed immediately on start.
	State() State

	ShotCount() int
	ScanPassComplete() bool

	Close(ctx context.Context) error
}

// An EngineProvider constructs capture engines for attempts.
type EngineProvider interface {
	Supported() bool
	NewEngine(ctx context.Context, dirs AttemptDirs, cfg SessionConfig) (Engine, error)
}

// A Reconstructor is a running photogrammetry job. It is fire and
// forget: observed only through its state stream.
type Reconstructor interface {
	States() <-chan State
	Close(ctx context.Context) error
}

// A ReconstructorFactory builds a reconstruction job from a folder of
// images. Construction may fail synchronously.
type ReconstructorFactory func(ctx context.Context, imagesDir string, cfg ReconstructionConfig) (Reconstructor, error)
