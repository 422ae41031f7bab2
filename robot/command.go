package robot

import "encoding/json"

// A Command is one decoded inbound message from the robot controller.
// Payloads are decoded exactly once at the channel boundary; anything
// well formed but outside the vocabulary becomes Unknown.
type Command interface {
	isRobotCommand()
}

// StartCapture asks the orchestrator to begin a robot-triggered
// autonomous capture run.
type StartCapture struct{}

// OrbitComplete reports the zero-based index of the orbit the robot
// just finished.
type OrbitComplete struct {
	Orbit int
}

// CaptureComplete ends the current auto-capture window immediately,
// without waiting for the deadline.
type CaptureComplete struct{}

// Unknown is a well-formed message whose command is not part of the
// vocabulary; the orchestrator ignores it.
type Unknown struct {
	Name string
}

func (StartCapture) isRobotCommand()    {}
func (OrbitComplete) isRobotCommand()   {}
func (CaptureComplete) isRobotCommand() {}
func (Unknown) isRobotCommand()         {}

// decodeCommand parses one wire payload. Malformed payloads (bad JSON,
// missing command, missing required fields) return false and are
// dropped by the receive loop.
func decodeCommand(data []byte) (Command, bool) {
	var raw struct {
		Command string `json:"command"`
		Orbit   *int   `json:"orbit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}
	switch raw.Command {
	case "start_capture":
		return StartCapture{}, true
	case "orbit_complete":
		if raw.Orbit == nil {
			return nil, false
		}
		return OrbitComplete{Orbit: *raw.Orbit}, true
	case "capture_complete":
		return CaptureComplete{}, true
	case "":
		return nil, false
	default:
		return Unknown{Name: raw.Command}, true
	}
}
