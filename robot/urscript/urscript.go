// Package urscript builds URScript command text for Universal Robots
// controllers. Pose targets carry plane information in the robot base
// coordinate system; origins are given in millimetres and converted to
// the metres URScript expects.
package urscript

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Motion limits enforced on every generated move.
const (
	// MaxAccel is the tool acceleration ceiling in m/s^2.
	MaxAccel = 2.5
	// MaxVelocity is the tool speed ceiling in m/s.
	MaxVelocity = 2.5
)

// A Pose is a tool target: origin in millimetres in the robot base
// frame plus an axis-angle rotation vector in radians.
type Pose struct {
	Origin    r3.Vector
	AxisAngle r3.Vector
}

func clampMotion(accel, vel float64) (float64, float64) {
	accel = math.Abs(accel)
	if accel > MaxAccel {
		accel = MaxAccel
	}
	vel = math.Abs(vel)
	if vel > MaxVelocity {
		vel = MaxVelocity
	}
	return accel, vel
}

func formatPose(p Pose) string {
	return fmt.Sprintf("p[%.4f,%.4f,%.4f,%.4f,%.4f,%.4f]",
		p.Origin.X/1000, p.Origin.Y/1000, p.Origin.Z/1000,
		p.AxisAngle.X, p.AxisAngle.Y, p.AxisAngle.Z)
}

// MoveL returns a linear move in tool space.
func MoveL(p Pose, accel, vel float64) string {
	accel, vel = clampMotion(accel, vel)
	return fmt.Sprintf("movel(%s, a=%.2f, v=%.2f)\n", formatPose(p), accel, vel)
}

// MoveLBlend returns a linear tool-space move blended into the next
// motion within the given radius in metres.
func MoveLBlend(p Pose, accel, vel, blendRadius float64) string {
	accel, vel = clampMotion(accel, vel)
	blendRadius = math.Max(0, blendRadius)
	return fmt.Sprintf("movel(%s, a=%.3f, v=%.3f, r=%.3f)\n", formatPose(p), accel, vel, blendRadius)
}

// MovePBlend returns a process move (constant tool speed) blended into
// the next motion within the given radius in metres.
func MovePBlend(p Pose, accel, vel, blendRadius float64) string {
	accel, vel = clampMotion(accel, vel)
	blendRadius = math.Max(0, blendRadius)
	return fmt.Sprintf("movep(%s, a=%.3f, v=%.3f, r=%.3f)\n", formatPose(p), accel, vel, blendRadius)
}

// MoveJ returns a joint-space move; joints are six angles in radians.
func MoveJ(joints []float64, accel, vel float64) (string, error) {
	if len(joints) != 6 {
		return "", errors.Errorf("movej needs exactly 6 joint angles, got %d", len(joints))
	}
	accel, vel = clampMotion(accel, vel)
	return fmt.Sprintf("movej([%.2f,%.2f,%.2f,%.2f,%.2f,%.2f], a=%.2f, v=%.2f)\n",
		joints[0], joints[1], joints[2], joints[3], joints[4], joints[5], accel, vel), nil
}

// SetTCP returns a tool-center-point assignment. Offsets are in
// millimetres; axisAngle orients the tip relative to the base frame.
func SetTCP(offset, axisAngle r3.Vector) string {
	return fmt.Sprintf("set_tcp(%s)\n", formatPose(Pose{Origin: offset, AxisAngle: axisAngle}))
}

// Popup returns a pendant popup command.
func Popup(message, title string) string {
	return fmt.Sprintf("popup(%q,%q)\n", message, title)
}

// Sleep returns a sleep command for the given number of seconds.
func Sleep(seconds float64) string {
	return fmt.Sprintf("sleep(%.3f)\n", seconds)
}

// SetDigitalOut returns a digital output assignment.
func SetDigitalOut(id int, high bool) string {
	return fmt.Sprintf("set_digital_out(%d,%s)\n", id, boolText(high))
}

// TextMsg returns a controller log message command.
func TextMsg(label, value string) string {
	return fmt.Sprintf("textmsg(%q,%q)\n", label, value)
}

func boolText(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
