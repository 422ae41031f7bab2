package orchestrator

import "time"

// Phase is the top-level state of a capture session. Exactly one phase
// is active at a time; every write goes through the transition
// function, never direct assignment.
type Phase string

// Session phases.
const (
	PhaseReady                Phase = "ready"
	PhaseCapturing            Phase = "capturing"
	PhaseAutoCapturing        Phase = "auto_capturing"
	PhasePrepareToReconstruct Phase = "prepare_to_reconstruct"
	PhaseReconstructing       Phase = "reconstructing"
	PhaseViewing              Phase = "viewing"
	PhaseCompleted            Phase = "completed"
	PhaseRestart              Phase = "restart"
	PhaseFailed               Phase = "failed"
)

// StartMethod records how the current capture run was initiated. It is
// sticky across a reset: a non-manual method re-arms autonomous
// capture on the next run.
type StartMethod string

// Capture start methods.
const (
	MethodManual         StartMethod = "manual"
	MethodAutomatic      StartMethod = "automatic"
	MethodRobotTriggered StartMethod = "robot_triggered"
)

// OrbitProgress describes how far the current orbit has come, for
// progress display. In area mode there is a single descriptive state.
type OrbitProgress string

// Orbit progress states.
const (
	OrbitFirstSegmentComplete   OrbitProgress = "first_segment_complete"
	OrbitFirstSegmentNeedsWork  OrbitProgress = "first_segment_needs_work"
	OrbitSecondSegmentComplete  OrbitProgress = "second_segment_complete"
	OrbitSecondSegmentNeedsWork OrbitProgress = "second_segment_needs_work"
	OrbitThirdSegmentComplete   OrbitProgress = "third_segment_complete"
	OrbitThirdSegmentNeedsWork  OrbitProgress = "third_segment_needs_work"
	OrbitAreaModeCapture        OrbitProgress = "area_mode_capture"
)

const (
	// maxOrbit is the number of photographic orbits in a full scan.
	maxOrbit = 3
	// minShotsForCompletion is the shot count below which an orbit is
	// never considered complete.
	minShotsForCompletion = 10
)

// DefaultCaptureWindow is the total wall-clock budget of one
// autonomous capture run.
const DefaultCaptureWindow = 180 * time.Second
