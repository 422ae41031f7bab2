// Package config reads and watches the scan station configuration
// file. The file is JSON with environment variable substitution
// applied before parsing.
package config

import (
	"encoding/json"
	"time"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"go.viam.com/scansync/capture"
)

// DefaultCaptureWindowSec is the auto-capture budget used when the
// file does not set one.
const DefaultCaptureWindowSec = 180

// A Config is the parsed station configuration.
type Config struct {
	// RobotAddress is the ws:// endpoint of the robot controller.
	// Empty runs the station without a robot.
	RobotAddress string `json:"robot_address"`
	// CaptureWindowSec is the total auto-capture budget in seconds.
	CaptureWindowSec int `json:"capture_window_sec"`
	// OutputDir is where capture attempt folders are created.
	OutputDir string `json:"output_dir"`
	// SweepFile is an optional sweep plane file streamed to the robot
	// at the start of each autonomous run.
	SweepFile  string  `json:"sweep_file"`
	SweepAccel float64 `json:"sweep_accel"`
	SweepVel   float64 `json:"sweep_vel"`
	// Mode is the initial capture mode, object or area.
	Mode string `json:"mode"`
}

// Read loads, substitutes and validates the configuration at path.
func Read(path string) (*Config, error) {
	data, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", path)
	}
	return FromBytes(data, path)
}

// FromBytes parses already-substituted configuration bytes. path is
// used for error reporting only.
func FromBytes(data []byte, path string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", path)
	}
	cfg.ensureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %q", path)
	}
	return &cfg, nil
}

func (c *Config) ensureDefaults() {
	if c.CaptureWindowSec == 0 {
		c.CaptureWindowSec = DefaultCaptureWindowSec
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.Mode == "" {
		c.Mode = string(capture.ModeObject)
	}
}

// Validate checks field ranges and enums.
func (c *Config) Validate() error {
	if c.CaptureWindowSec < 0 {
		return errors.New("capture_window_sec must not be negative")
	}
	switch capture.Mode(c.Mode) {
	case capture.ModeObject, capture.ModeArea:
	default:
		return errors.Errorf("unknown mode %q", c.Mode)
	}
	if c.SweepAccel < 0 || c.SweepVel < 0 {
		return errors.New("sweep acceleration and velocity must not be negative")
	}
	return nil
}

// CaptureWindow returns the auto-capture budget as a duration.
func (c *Config) CaptureWindow() time.Duration {
	return time.Duration(c.CaptureWindowSec) * time.Second
}

// CaptureMode returns the initial capture mode.
func (c *Config) CaptureMode() capture.Mode {
	return capture.Mode(c.Mode)
}
