package robot

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func writeSweepFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sweep.json")
	test.That(t, os.WriteFile(path, []byte(contents), 0o644), test.ShouldBeNil)
	return path
}

func TestLoadSweep(t *testing.T) {
	path := writeSweepFile(t, `{
		"0": {"Point": [100, 0, 50], "Vector": [0, 0, 1]},
		"1": {"Point": [0, 100, 50], "Vector": [1, 0, 0]}
	}`)
	planes, err := LoadSweep(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, planes, test.ShouldHaveLength, 2)
	test.That(t, planes[0].Origin, test.ShouldResemble, r3.Vector{X: 100, Z: 50})
	test.That(t, planes[0].Normal, test.ShouldResemble, r3.Vector{Z: 1})
	test.That(t, planes[1].Normal, test.ShouldResemble, r3.Vector{X: 1})
}

func TestLoadSweepErrors(t *testing.T) {
	_, err := LoadSweep(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	path := writeSweepFile(t, `{"0": {"Point": [0,0,0], "Vector": [0,0,1]}, "2": {"Point": [0,0,0], "Vector": [0,0,1]}}`)
	_, err = LoadSweep(path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing plane 1")

	path = writeSweepFile(t, `{"0": {"Point": [0,0], "Vector": [0,0,1]}}`)
	_, err = LoadSweep(path)
	test.That(t, err, test.ShouldNotBeNil)

	path = writeSweepFile(t, `not json`)
	_, err = LoadSweep(path)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPoseFromPlane(t *testing.T) {
	// normal along tool Z: no rotation
	pose := PoseFromPlane(Plane{Origin: r3.Vector{X: 10}, Normal: r3.Vector{Z: 1}})
	test.That(t, pose.Origin, test.ShouldResemble, r3.Vector{X: 10})
	test.That(t, pose.AxisAngle.Norm(), test.ShouldAlmostEqual, 0, 1e-9)

	// antiparallel normal: half turn about X
	pose = PoseFromPlane(Plane{Normal: r3.Vector{Z: -1}})
	test.That(t, pose.AxisAngle.X, test.ShouldAlmostEqual, math.Pi, 1e-9)
	test.That(t, pose.AxisAngle.Y, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, pose.AxisAngle.Z, test.ShouldAlmostEqual, 0, 1e-9)

	// normal along X: quarter turn about Y
	pose = PoseFromPlane(Plane{Normal: r3.Vector{X: 1}})
	test.That(t, pose.AxisAngle.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, pose.AxisAngle.Y, test.ShouldAlmostEqual, math.Pi/2, 1e-9)
	test.That(t, pose.AxisAngle.Z, test.ShouldAlmostEqual, 0, 1e-9)

	// non-unit normals are normalized first
	pose = PoseFromPlane(Plane{Normal: r3.Vector{X: 5}})
	test.That(t, pose.AxisAngle.Y, test.ShouldAlmostEqual, math.Pi/2, 1e-9)
}
