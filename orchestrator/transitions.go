package orchestrator

import (
	"go.viam.com/scansync/capture"
	"go.viam.com/scansync/robot"
)

// An event is one input to the phase machine. External happenings
// (robot messages, engine stream updates, timer fires) are translated
// into events before they reach the transition function.
type event interface {
	isEvent()
}

type (
	// eventStartManual begins a manually driven capture run.
	eventStartManual struct{}
	// eventStartAuto begins an autonomous capture run.
	eventStartAuto struct{ method StartMethod }
	// eventToggleOff leaves autonomous mode and returns to Ready.
	eventToggleOff struct{}
	// eventEndCapture force-completes the session from any phase.
	eventEndCapture struct{}
	// eventWindowClosed ends the auto-capture window: the deadline
	// fired or the robot reported capture_complete.
	eventWindowClosed struct{ reason string }
	// eventReconstructNow chains PrepareToReconstruct into
	// Reconstructing synchronously.
	eventReconstructNow struct{}
	// eventEngineCompleted is a terminal completed report from the
	// capture or reconstruction engine.
	eventEngineCompleted struct{}
	// eventEngineFailed is a terminal failure report; a cancellation
	// cause recovers via Restart instead of surfacing an error.
	eventEngineFailed struct{ cause error }
	// eventReset performs the full reset back to Ready.
	eventReset struct{}

	// eventDeadline is the raw timer fire; it carries the arming epoch
	// so stale fires are detected and ignored.
	eventDeadline struct{ epoch int }
	// eventFeedback is one frame of capture-engine conditions.
	eventFeedback struct{ set capture.ConditionSet }
	// eventCaptureState is one update from the capture engine's state
	// stream.
	eventCaptureState struct{ state capture.State }
	// eventReconState is one update from the reconstruction job's state
	// stream.
	eventReconState struct{ state capture.State }
	// eventRobotCommand is one decoded inbound robot message.
	eventRobotCommand struct{ cmd robot.Command }
)

func (eventStartManual) isEvent()     {}
func (eventStartAuto) isEvent()       {}
func (eventToggleOff) isEvent()       {}
func (eventEndCapture) isEvent()      {}
func (eventWindowClosed) isEvent()    {}
func (eventReconstructNow) isEvent()  {}
func (eventEngineCompleted) isEvent() {}
func (eventEngineFailed) isEvent()    {}
func (eventReset) isEvent()           {}
func (eventDeadline) isEvent()        {}
func (eventFeedback) isEvent()        {}
func (eventCaptureState) isEvent()    {}
func (eventReconState) isEvent()      {}
func (eventRobotCommand) isEvent()    {}

// An effect is a side effect the orchestrator applies when committing
// a transition.
type effect int

const (
	effectStartCapture effect = iota
	effectFinishCapture
	effectDropCaptureEngine
	effectStartReconstruction
	effectDropReconstruction
	effectPurgeCheckpoint
	effectArmDeadline
	effectCancelDeadline
	effectConnectRobot
	effectDisconnectRobot
	effectSendSweep
	effectSetMethodManual
	effectFullReset
)

func (e effect) String() string {
	switch e {
	case effectStartCapture:
		return "start_capture"
	case effectFinishCapture:
		return "finish_capture"
	case effectDropCaptureEngine:
		return "drop_capture_engine"
	case effectStartReconstruction:
		return "start_reconstruction"
	case effectDropReconstruction:
		return "drop_reconstruction"
	case effectPurgeCheckpoint:
		return "purge_checkpoint"
	case effectArmDeadline:
		return "arm_deadline"
	case effectCancelDeadline:
		return "cancel_deadline"
	case effectConnectRobot:
		return "connect_robot"
	case effectDisconnectRobot:
		return "disconnect_robot"
	case effectSendSweep:
		return "send_sweep"
	case effectSetMethodManual:
		return "set_method_manual"
	case effectFullReset:
		return "full_reset"
	default:
		return "unknown"
	}
}

// transition is the pure phase function: given the current phase, an
// event and the draft-save flag, it yields the next phase and the side
// effects to apply. ok is false when the event does not apply to the
// phase; such events are no-ops (the source of an event race loses).
func transition(phase Phase, ev event, draft bool) (next Phase, effects []effect, ok bool) {
	switch ev := ev.(type) {
	case eventStartManual:
		if phase != PhaseReady {
			return phase, nil, false
		}
		return PhaseCapturing, []effect{effectStartCapture}, true

	case eventStartAuto:
		effects := []effect{effectCancelDeadline}
		if ev.method == MethodRobotTriggered {
			effects = append(effects, effectConnectRobot)
		}
		effects = append(effects, effectStartCapture, effectArmDeadline, effectSendSweep)
		return PhaseAutoCapturing, effects, true

	case eventToggleOff:
		if phase != PhaseAutoCapturing {
			return phase, nil, false
		}
		return PhaseReady, []effect{
			effectFinishCapture,
			effectCancelDeadline,
			effectSetMethodManual,
			effectDisconnectRobot,
		}, true

	case eventEndCapture:
		return PhaseCompleted, []effect{effectCancelDeadline}, true

	case eventWindowClosed:
		if phase != PhaseAutoCapturing {
			return phase, nil, false
		}
		return PhasePrepareToReconstruct, []effect{
			effectFinishCapture,
			effectDropCaptureEngine,
			effectCancelDeadline,
		}, true

	case eventReconstructNow:
		if phase != PhasePrepareToReconstruct {
			return phase, nil, false
		}
		return PhaseReconstructing, []effect{effectStartReconstruction}, true

	case eventEngineCompleted:
		switch phase {
		case PhaseCapturing, PhaseAutoCapturing:
			return PhasePrepareToReconstruct, []effect{effectDropCaptureEngine, effectCancelDeadline}, true
		case PhaseReconstructing:
			if draft {
				return PhaseRestart, []effect{effectDropReconstruction}, true
			}
			return PhaseViewing, []effect{effectDropReconstruction, effectPurgeCheckpoint}, true
		default:
			return phase, nil, false
		}

	case eventEngineFailed:
		if capture.Cancelled(ev.cause) {
			return PhaseRestart, []effect{effectCancelDeadline}, true
		}
		return PhaseFailed, []effect{effectCancelDeadline}, true

	case eventReset:
		return PhaseReady, []effect{effectCancelDeadline, effectFullReset}, true

	default:
		return phase, nil, false
	}
}
