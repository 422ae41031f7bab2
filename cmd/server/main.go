// Package main runs a scan station: the capture orchestrator, its
// session manager and the robot channel, wired from a config file.
package main

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/scansync/capture"
	"go.viam.com/scansync/capture/fake"
	"go.viam.com/scansync/config"
	"go.viam.com/scansync/orchestrator"
	"go.viam.com/scansync/robot"
	"go.viam.com/scansync/session"
)

var logger = golog.NewDevelopmentLogger("scansync")

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,required,usage=station config file"`
	Debug      bool   `flag:"debug,usage=enable debug logging"`
	AutoStart  bool   `flag:"auto-start,usage=begin an autonomous capture run immediately"`
}

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger = golog.NewDebugLogger("scansync")
	}

	cfg, err := config.Read(argsParsed.ConfigFile)
	if err != nil {
		return err
	}

	provider := &fake.Provider{ShotInterval: 2 * time.Second}
	reconSrc := &fake.ReconstructorSource{CompleteAfter: 10 * time.Second}
	return runStation(ctx, cfg, argsParsed, provider, reconSrc.Factory(), logger)
}

// runStation wires the station together and blocks until ctx is done.
// A host without capture support halts startup here; there is nothing
// to repair at runtime.
func runStation(
	ctx context.Context,
	cfg *config.Config,
	args Arguments,
	provider capture.EngineProvider,
	factory capture.ReconstructorFactory,
	logger golog.Logger,
) error {
	if !provider.Supported() {
		return capture.ErrUnsupported
	}

	var sweep []robot.Plane
	if cfg.SweepFile != "" {
		var err error
		if sweep, err = robot.LoadSweep(cfg.SweepFile); err != nil {
			return err
		}
		logger.Infow("loaded sweep", "file", cfg.SweepFile, "planes", len(sweep))
	}

	sess := session.NewManager(provider, factory, cfg.OutputDir, logger)
	channel := robot.NewChannel(logger)
	orch := orchestrator.New(sess, channel, orchestrator.Options{
		CaptureWindow: cfg.CaptureWindow(),
		RobotAddress:  cfg.RobotAddress,
		Sweep:         sweep,
		SweepAccel:    cfg.SweepAccel,
		SweepVel:      cfg.SweepVel,
		Mode:          cfg.CaptureMode(),
	}, logger)

	stopWatch, err := config.Watch(args.ConfigFile, func(c *config.Config) {
		orch.SetCaptureWindow(c.CaptureWindow())
	}, logger)
	if err != nil {
		return multierr.Combine(err, orch.Close(ctx))
	}
	defer stopWatch()

	if args.AutoStart {
		method := orchestrator.MethodAutomatic
		if cfg.RobotAddress != "" {
			method = orchestrator.MethodRobotTriggered
		}
		if err := orch.StartAutoCapture(ctx, method); err != nil {
			logger.Errorw("cannot start autonomous capture", "error", err)
		}
	}

	<-ctx.Done()
	return orch.Close(context.Background())
}
