package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/scansync/capture"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "station.json")
	test.That(t, os.WriteFile(path, []byte(contents), 0o644), test.ShouldBeNil)
	return path
}

func TestRead(t *testing.T) {
	t.Setenv("SCAN_OUTPUT", "/data/scans")
	path := writeConfigFile(t, `{
		"robot_address": "ws://10.1.2.3:8765",
		"capture_window_sec": 240,
		"output_dir": "$SCAN_OUTPUT",
		"mode": "area",
		"sweep_accel": 1.2,
		"sweep_vel": 0.4
	}`)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.RobotAddress, test.ShouldEqual, "ws://10.1.2.3:8765")
	test.That(t, cfg.OutputDir, test.ShouldEqual, "/data/scans")
	test.That(t, cfg.CaptureWindow(), test.ShouldEqual, 240*time.Second)
	test.That(t, cfg.CaptureMode(), test.ShouldEqual, capture.ModeArea)
	test.That(t, cfg.SweepAccel, test.ShouldEqual, 1.2)
}

func TestReadDefaults(t *testing.T) {
	path := writeConfigFile(t, `{}`)
	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.CaptureWindowSec, test.ShouldEqual, DefaultCaptureWindowSec)
	test.That(t, cfg.CaptureWindow(), test.ShouldEqual, 180*time.Second)
	test.That(t, cfg.OutputDir, test.ShouldEqual, ".")
	test.That(t, cfg.CaptureMode(), test.ShouldEqual, capture.ModeObject)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Read(writeConfigFile(t, `{`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Read(writeConfigFile(t, `{"mode": "panorama"}`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Read(writeConfigFile(t, `{"capture_window_sec": -5}`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Read(writeConfigFile(t, `{"sweep_vel": -1}`))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWatch(t *testing.T) {
	logger := golog.NewTestLogger(t)
	path := writeConfigFile(t, `{"capture_window_sec": 60}`)

	var mu sync.Mutex
	var got []*Config
	stop, err := Watch(path, func(cfg *Config) {
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer stop()

	test.That(t, os.WriteFile(path, []byte(`{"capture_window_sec": 90}`), 0o644), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mu.Lock()
		defer mu.Unlock()
		test.That(tb, len(got), test.ShouldBeGreaterThanOrEqualTo, 1)
		test.That(tb, got[len(got)-1].CaptureWindowSec, test.ShouldEqual, 90)
	})

	// an invalid rewrite is skipped, then a valid one lands
	test.That(t, os.WriteFile(path, []byte(`{"mode": "panorama"}`), 0o644), test.ShouldBeNil)
	test.That(t, os.WriteFile(path, []byte(`{"capture_window_sec": 120}`), 0o644), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mu.Lock()
		defer mu.Unlock()
		test.That(tb, len(got), test.ShouldBeGreaterThanOrEqualTo, 2)
		test.That(tb, got[len(got)-1].CaptureWindowSec, test.ShouldEqual, 120)
		for _, cfg := range got {
			test.That(tb, cfg.Validate(), test.ShouldBeNil)
		}
	})
}
