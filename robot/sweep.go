package robot

import (
	"encoding/json"
	"math"
	"os"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/scansync/robot/urscript"
)

// A Plane is one target of an orbit sweep: an origin in millimetres in
// the robot base frame and the outward normal the tool should face
// along.
type Plane struct {
	Origin r3.Vector
	Normal r3.Vector
}

// LoadSweep reads an ordered sweep plane file as produced by the scan
// planner: a JSON object keyed by decimal index, each entry carrying a
// 3-element "Point" and "Vector".
func LoadSweep(path string) ([]Plane, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read sweep file %q", path)
	}
	var raw map[string]struct {
		Point  []float64 `json:"Point"`
		Vector []float64 `json:"Vector"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "cannot parse sweep file %q", path)
	}

	planes := make([]Plane, len(raw))
	for i := range planes {
		entry, ok := raw[strconv.Itoa(i)]
		if !ok {
			return nil, errors.Errorf("sweep file %q is missing plane %d", path, i)
		}
		if len(entry.Point) != 3 || len(entry.Vector) != 3 {
			return nil, errors.Errorf("plane %d needs 3-element Point and Vector", i)
		}
		planes[i] = Plane{
			Origin: r3.Vector{X: entry.Point[0], Y: entry.Point[1], Z: entry.Point[2]},
			Normal: r3.Vector{X: entry.Vector[0], Y: entry.Vector[1], Z: entry.Vector[2]},
		}
	}
	return planes, nil
}

// PoseFromPlane converts a sweep plane into a tool pose, rotating the
// tool Z axis onto the plane normal.
func PoseFromPlane(p Plane) urscript.Pose {
	z := r3.Vector{Z: 1}
	n := p.Normal.Normalize()

	axis := z.Cross(n)
	sin := axis.Norm()
	cos := z.Dot(n)
	angle := math.Atan2(sin, cos)

	var axisAngle r3.Vector
	switch {
	case sin > 1e-9:
		axisAngle = axis.Mul(angle / sin)
	case cos < 0:
		// antiparallel normal; rotate half a turn about X.
		axisAngle = r3.Vector{X: math.Pi}
	}
	return urscript.Pose{Origin: p.Origin, AxisAngle: axisAngle}
}
