// Package orchestrator owns the top-level capture session phase
// machine. It serializes every phase mutation onto one execution
// context fed by the robot channel, the engine streams and the
// auto-capture deadline timer, and applies transition side effects
// against the session manager and the robot channel.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/scansync/capture"
	"go.viam.com/scansync/feedback"
	"go.viam.com/scansync/robot"
	"go.viam.com/scansync/robot/urscript"
	"go.viam.com/scansync/session"
)

// Options configures an orchestrator.
type Options struct {
	// CaptureWindow is the total wall-clock budget of one autonomous
	// capture run. Zero means DefaultCaptureWindow.
	CaptureWindow time.Duration
	// RobotAddress is the websocket endpoint of the robot controller.
	// Empty disables robot connection attempts.
	RobotAddress string
	// Sweep is the ordered plane sequence streamed to the robot when an
	// autonomous run starts.
	Sweep      []robot.Plane
	SweepAccel float64
	SweepVel   float64
	// Mode is the initial capture mode. A full reset returns the mode
	// to object regardless.
	Mode capture.Mode
	// Clock is swapped out in tests; nil means the wall clock.
	Clock clock.Clock
}

// An Orchestrator owns the phase of one scan station. All phase writes
// go through the transition function under one mutex; asynchronous
// sources (engine streams, robot commands, the deadline timer) enqueue
// events consumed by a single worker, so no two transitions interleave.
type Orchestrator struct {
	logger golog.Logger
	sess   *session.Manager
	robot  *robot.Channel
	clock  clock.Clock

	robotAddr  string
	sweep      []robot.Plane
	sweepAccel float64
	sweepVel   float64

	mu            sync.Mutex
	phase         Phase
	startMethod   StartMethod
	orbit         int
	mode          capture.Mode
	captureWindow time.Duration
	tracker       *feedback.Tracker
	errCause      error

	draftRequested       bool
	tutorialPlayed       bool
	declaredNotFlippable bool
	flipOverridden       bool

	deadline      *clock.Timer
	deadlineEpoch int

	events                  chan event
	cancelWorker            func()
	activeBackgroundWorkers sync.WaitGroup
}

// New wires an orchestrator to its session manager and robot channel
// and starts the event worker. The orchestrator registers itself as
// the session stream handler and the robot command handler.
func New(sess *session.Manager, channel *robot.Channel, opts Options, logger golog.Logger) *Orchestrator {
	if opts.CaptureWindow <= 0 {
		opts.CaptureWindow = DefaultCaptureWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	mode := opts.Mode
	if mode == "" {
		mode = capture.ModeObject
	}

	o := &Orchestrator{
		logger:        logger,
		sess:          sess,
		robot:         channel,
		clock:         opts.Clock,
		robotAddr:     opts.RobotAddress,
		sweep:         opts.Sweep,
		sweepAccel:    opts.SweepAccel,
		sweepVel:      opts.SweepVel,
		phase:         PhaseReady,
		startMethod:   MethodManual,
		orbit:         1,
		mode:          mode,
		captureWindow: opts.CaptureWindow,
		tracker:       feedback.NewTracker(),
		events:        make(chan event, 64),
	}

	sess.SetHandlers(
		func(set capture.ConditionSet) { o.enqueue(eventFeedback{set: set}) },
		func(st capture.State) { o.enqueue(eventCaptureState{state: st}) },
		func(st capture.State) { o.enqueue(eventReconState{state: st}) },
	)
	channel.SetHandler(o)

	workerCtx, cancel := context.WithCancel(context.Background())
	o.cancelWorker = cancel
	o.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		o.eventLoop(workerCtx)
	}, o.activeBackgroundWorkers.Done)

	return o
}

// enqueue hands an event to the worker without blocking; the sources
// feeding it (engine forwarders, the robot receive loop, the deadline
// timer) must never stall on the orchestrator.
func (o *Orchestrator) enqueue(ev event) {
	select {
	case o.events <- ev:
	default:
		o.logger.Warnw("event queue full; dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

func (o *Orchestrator) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.events:
			o.mu.Lock()
			o.handleEventLocked(ctx, ev)
			o.mu.Unlock()
		}
	}
}

// handleEventLocked translates raw external events into phase events
// and dispatches them. Phase-specific events are checked against the
// current phase here: when two sources race, whichever dispatch runs
// first wins and the loser is a no-op.
func (o *Orchestrator) handleEventLocked(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case eventDeadline:
		if ev.epoch != o.deadlineEpoch {
			o.logger.Debugw("ignoring stale capture deadline", "epoch", ev.epoch)
			return
		}
		goutils.UncheckedError(o.dispatchLocked(ctx, eventWindowClosed{reason: "capture window elapsed"}))
	case eventFeedback:
		if o.phase == PhaseCapturing || o.phase == PhaseAutoCapturing {
			o.tracker.Update(ev.set, o.mode)
		}
	case eventCaptureState:
		o.handleCaptureStateLocked(ctx, ev.state)
	case eventReconState:
		o.handleReconStateLocked(ctx, ev.state)
	case eventRobotCommand:
		o.handleRobotCommandLocked(ctx, ev.cmd)
	default:
		goutils.UncheckedError(o.dispatchLocked(ctx, ev))
	}
}

func (o *Orchestrator) handleCaptureStateLocked(ctx context.Context, st capture.State) {
	if o.phase != PhaseCapturing && o.phase != PhaseAutoCapturing {
		return
	}
	switch st.Kind {
	case capture.StatePassComplete:
		if o.orbit < maxOrbit {
			o.advanceOrbitLocked(ctx, o.orbit+1)
		} else if o.phase == PhaseAutoCapturing {
			goutils.UncheckedError(o.dispatchLocked(ctx, eventWindowClosed{reason: "final orbit complete"}))
		}
	case capture.StateCompleted:
		goutils.UncheckedError(o.dispatchLocked(ctx, eventEngineCompleted{}))
	case capture.StateFailed:
		cause := st.Err
		if cause == nil {
			cause = errors.New("capture engine failed")
		}
		goutils.UncheckedError(o.dispatchLocked(ctx, eventEngineFailed{cause: cause}))
	}
}

func (o *Orchestrator) handleReconStateLocked(ctx context.Context, st capture.State) {
	if o.phase != PhaseReconstructing {
		return
	}
	switch st.Kind {
	case capture.StateCompleted:
		goutils.UncheckedError(o.dispatchLocked(ctx, eventEngineCompleted{}))
	case capture.StateFailed:
		cause := st.Err
		if cause == nil {
			cause = errors.New("reconstruction failed")
		}
		goutils.UncheckedError(o.dispatchLocked(ctx, eventEngineFailed{cause: cause}))
	}
}

func (o *Orchestrator) handleRobotCommandLocked(ctx context.Context, cmd robot.Command) {
	switch cmd := cmd.(type) {
	case robot.StartCapture:
		if o.phase == PhaseAutoCapturing {
			return
		}
		goutils.UncheckedError(o.dispatchLocked(ctx, eventStartAuto{method: MethodRobotTriggered}))
	case robot.OrbitComplete:
		// cmd.Orbit is the zero-based index of the orbit just finished;
		// the next orbit is one past it in 1-based terms.
		o.advanceOrbitLocked(ctx, cmd.Orbit+1)
	case robot.CaptureComplete:
		if o.phase != PhaseAutoCapturing {
			return
		}
		o.robot.MarkCompleted()
		goutils.UncheckedError(o.dispatchLocked(ctx, eventWindowClosed{reason: "robot reported capture complete"}))
	case robot.Unknown:
		o.logger.Debugw("ignoring unknown robot command", "command", cmd.Name)
	}
}

// advanceOrbitLocked moves to target if it is a strictly later valid
// orbit; anything else is ignored. A progress hint goes out to the
// robot, best effort.
func (o *Orchestrator) advanceOrbitLocked(ctx context.Context, target int) {
	if target <= o.orbit || target < 2 || target > maxOrbit {
		o.logger.Debugw("ignoring orbit advance", "target", target, "orbit", o.orbit)
		return
	}
	o.orbit = target
	o.logger.Infow("orbit advanced", "orbit", target)
	if err := o.robot.Send(ctx, urscript.TextMsg("orbit", fmt.Sprintf("%d of %d", target, maxOrbit))); err != nil {
		o.logger.Debugw("cannot send orbit progress", "error", err)
	}
}

// dispatchLocked runs one phase event through the transition function
// and, if it applies, applies its effects and commits the new phase.
// A failing effect aborts the transition: the failure is re-dispatched
// as an engine failure from the current (uncommitted) phase, so a run
// whose engine cannot start never reaches a capturing phase.
func (o *Orchestrator) dispatchLocked(ctx context.Context, ev event) error {
	next, effects, ok := transition(o.phase, ev, o.draftRequested)
	if !ok {
		o.logger.Debugw("event does not apply", "phase", o.phase, "event", fmt.Sprintf("%T", ev))
		return nil
	}

	prev := o.phase
	if prev == PhaseFailed {
		o.errCause = nil
	}
	for _, eff := range effects {
		if err := o.applyEffectLocked(ctx, eff); err != nil {
			o.logger.Errorw("transition effect failed", "phase", prev, "effect", eff, "error", err)
			goutils.UncheckedError(o.dispatchLocked(ctx, eventEngineFailed{cause: err}))
			return err
		}
	}
	o.phase = next

	switch ev := ev.(type) {
	case eventStartManual:
		o.startMethod = MethodManual
	case eventStartAuto:
		o.startMethod = ev.method
	case eventEngineFailed:
		if next == PhaseFailed {
			o.errCause = ev.cause
		}
	}
	if prev != next {
		o.logger.Infow("phase changed", "from", prev, "to", next)
	}

	// Transient phases resolve synchronously before the lock releases.
	switch next {
	case PhasePrepareToReconstruct:
		return o.dispatchLocked(ctx, eventReconstructNow{})
	case PhaseRestart:
		return o.dispatchLocked(ctx, eventReset{})
	case PhaseReady:
		if _, wasReset := ev.(eventReset); wasReset && o.startMethod != MethodManual {
			return o.dispatchLocked(ctx, eventStartAuto{method: o.startMethod})
		}
	}
	return nil
}

func (o *Orchestrator) applyEffectLocked(ctx context.Context, eff effect) error {
	switch eff {
	case effectStartCapture:
		return o.sess.StartNewCapture(ctx, o.mode)
	case effectFinishCapture:
		if err := o.sess.FinishCapture(ctx); err != nil {
			o.logger.Debugw("cannot finish capture engine", "error", err)
		}
	case effectDropCaptureEngine:
		o.sess.DropEngine(ctx)
	case effectStartReconstruction:
		return o.sess.StartReconstruction(ctx, o.mode)
	case effectDropReconstruction:
		o.sess.DropReconstruction(ctx)
	case effectPurgeCheckpoint:
		o.sess.RemoveCheckpointFolder()
	case effectArmDeadline:
		o.armDeadlineLocked()
	case effectCancelDeadline:
		o.stopDeadlineLocked()
	case effectConnectRobot:
		o.connectRobotLocked(ctx)
	case effectDisconnectRobot:
		goutils.UncheckedError(o.robot.Disconnect(ctx))
	case effectSendSweep:
		o.sendSweepLocked(ctx)
	case effectSetMethodManual:
		o.startMethod = MethodManual
	case effectFullReset:
		o.applyResetLocked(ctx)
	}
	return nil
}

// connectRobotLocked is best effort: an unreachable controller does
// not fail the capture run, which continues on its own timers.
func (o *Orchestrator) connectRobotLocked(ctx context.Context) {
	if o.robotAddr == "" || o.robot.State() != robot.Disconnected {
		return
	}
	if err := o.robot.Connect(ctx, o.robotAddr); err != nil {
		o.logger.Errorw("cannot connect robot", "address", o.robotAddr, "error", err)
	}
}

func (o *Orchestrator) sendSweepLocked(ctx context.Context) {
	if len(o.sweep) == 0 || o.robot.State() == robot.Disconnected {
		return
	}
	if err := o.robot.SendSweep(ctx, o.sweep, o.sweepAccel, o.sweepVel); err != nil {
		o.logger.Errorw("cannot send sweep to robot", "error", err)
	}
}

func (o *Orchestrator) armDeadlineLocked() {
	o.stopDeadlineLocked()
	epoch := o.deadlineEpoch
	o.deadline = o.clock.AfterFunc(o.captureWindow, func() {
		o.enqueue(eventDeadline{epoch: epoch})
	})
}

// stopDeadlineLocked bumps the epoch so a firing that already escaped
// Stop is detected as stale and ignored.
func (o *Orchestrator) stopDeadlineLocked() {
	o.deadlineEpoch++
	if o.deadline != nil {
		o.deadline.Stop()
		o.deadline = nil
	}
}

func (o *Orchestrator) applyResetLocked(ctx context.Context) {
	o.sess.DropEngine(ctx)
	o.sess.DropReconstruction(ctx)
	o.sess.ClearFolders()
	o.tracker.Reset()
	o.orbit = 1
	o.mode = capture.ModeObject
	o.draftRequested = false
	o.tutorialPlayed = false
	o.declaredNotFlippable = false
	o.flipOverridden = false
	o.errCause = nil
}

// Start begins a manually driven capture run. Valid only from Ready.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dispatchLocked(ctx, eventStartManual{})
}

// StartAutoCapture begins an autonomous run with the given start
// method, cancelling any pending deadline first. A robot-triggered
// start connects the robot channel if it is down.
func (o *Orchestrator) StartAutoCapture(ctx context.Context, method StartMethod) error {
	if method == MethodManual {
		method = MethodAutomatic
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dispatchLocked(ctx, eventStartAuto{method: method})
}

// ToggleAutoMode leaves autonomous mode if it is active (finishing the
// engine, resetting the start method to manual and disconnecting the
// robot); otherwise it starts an automatic run.
func (o *Orchestrator) ToggleAutoMode(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase == PhaseAutoCapturing {
		return o.dispatchLocked(ctx, eventToggleOff{})
	}
	return o.dispatchLocked(ctx, eventStartAuto{method: MethodAutomatic})
}

// EndCapture force-completes the session from any phase.
func (o *Orchestrator) EndCapture(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dispatchLocked(ctx, eventEndCapture{})
}

// Reset performs the full reset back to Ready. If the prior run was
// started non-manually a fresh autonomous run is armed immediately.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dispatchLocked(ctx, eventReset{})
}

// PauseCapture pauses the running engine. No-op outside capture phases.
func (o *Orchestrator) PauseCapture(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != PhaseCapturing && o.phase != PhaseAutoCapturing {
		return nil
	}
	return o.sess.PauseCapture(ctx)
}

// ResumeCapture resumes a paused engine. No-op outside capture phases.
func (o *Orchestrator) ResumeCapture(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != PhaseCapturing && o.phase != PhaseAutoCapturing {
		return nil
	}
	return o.sess.ResumeCapture(ctx)
}

// RequestDraftSave asks that the current attempt be kept as a draft:
// when reconstruction completes the session resets instead of entering
// Viewing.
func (o *Orchestrator) RequestDraftSave() {
	o.mu.Lock()
	o.draftRequested = true
	o.mu.Unlock()
}

// DraftRequested reports whether a draft save is pending.
func (o *Orchestrator) DraftRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draftRequested
}

// MarkTutorialPlayed records that the capture tutorial ran this
// attempt. Cleared on full reset.
func (o *Orchestrator) MarkTutorialPlayed() {
	o.mu.Lock()
	o.tutorialPlayed = true
	o.mu.Unlock()
}

// TutorialPlayed reports whether the tutorial ran this attempt.
func (o *Orchestrator) TutorialPlayed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tutorialPlayed
}

// DeclareNotFlippable records the operator's declaration that the
// object cannot be flipped.
func (o *Orchestrator) DeclareNotFlippable() {
	o.mu.Lock()
	o.declaredNotFlippable = true
	o.mu.Unlock()
}

// OverrideFlipDeclaration cancels a prior not-flippable declaration.
func (o *Orchestrator) OverrideFlipDeclaration() {
	o.mu.Lock()
	o.flipOverridden = true
	o.mu.Unlock()
}

// Flippable reports whether the object may be flipped: permissive by
// default, denied by an unoverridden operator declaration, otherwise
// following the engine's own feedback signal.
func (o *Orchestrator) Flippable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.declaredNotFlippable && !o.flipOverridden {
		return false
	}
	if !o.sess.HasEngine() {
		return true
	}
	return !o.tracker.Active(capture.ConditionObjectNotFlippable)
}

// OrbitProgress derives the progress state shown for the current
// orbit. An orbit counts as complete only with a minimum shot count
// and a completed scan pass; area mode has a single descriptive state.
func (o *Orchestrator) OrbitProgress() OrbitProgress {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mode == capture.ModeArea {
		return OrbitAreaModeCapture
	}
	complete := false
	if eng := o.sess.Engine(); eng != nil {
		complete = eng.ShotCount() >= minShotsForCompletion && eng.ScanPassComplete()
	}
	switch {
	case o.orbit <= 1:
		if complete {
			return OrbitFirstSegmentComplete
		}
		return OrbitFirstSegmentNeedsWork
	case o.orbit == 2:
		if complete {
			return OrbitSecondSegmentComplete
		}
		return OrbitSecondSegmentNeedsWork
	default:
		if complete {
			return OrbitThirdSegmentComplete
		}
		return OrbitThirdSegmentNeedsWork
	}
}

// OrbitBudget is the per-orbit share of the capture window, for
// progress display only; it drives no transitions.
func (o *Orchestrator) OrbitBudget() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.captureWindow / maxOrbit
}

// SetCaptureWindow changes the total auto-capture budget for
// subsequent runs; a deadline already armed keeps its original window.
func (o *Orchestrator) SetCaptureWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	o.mu.Lock()
	o.captureWindow = d
	o.mu.Unlock()
}

// CaptureWindow returns the configured auto-capture budget.
func (o *Orchestrator) CaptureWindow() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.captureWindow
}

// Phase returns the current session phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Orbit returns the current 1-based orbit ordinal.
func (o *Orchestrator) Orbit() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.orbit
}

// StartMethod returns how the current (or last) run was started.
func (o *Orchestrator) StartMethod() StartMethod {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.startMethod
}

// Mode returns the current capture mode.
func (o *Orchestrator) Mode() capture.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// SetMode changes the capture mode for the next run. Valid only while
// Ready.
func (o *Orchestrator) SetMode(mode capture.Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != PhaseReady {
		return
	}
	o.mode = mode
}

// ErrorCause returns the stored failure cause; non-nil exactly while
// the phase is Failed.
func (o *Orchestrator) ErrorCause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errCause
}

// FeedbackMessages returns the current ordered operator messages.
func (o *Orchestrator) FeedbackMessages() []feedback.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tracker.Messages()
}

// RobotState returns the robot channel's connection state.
func (o *Orchestrator) RobotState() robot.ConnectionState {
	return o.robot.State()
}

// HandleRobotCommand implements robot.Handler. It only enqueues: the
// robot receive loop never runs transitions directly.
func (o *Orchestrator) HandleRobotCommand(ctx context.Context, cmd robot.Command) {
	o.enqueue(eventRobotCommand{cmd: cmd})
}

// Close cancels the deadline and the event worker, tears down the
// session manager and the robot channel, and removes the capture
// folder if the attempt never completed.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.stopDeadlineLocked()
	incomplete := o.phase != PhaseReady && o.phase != PhaseViewing && o.phase != PhaseCompleted
	o.mu.Unlock()

	o.cancelWorker()
	o.activeBackgroundWorkers.Wait()

	if incomplete {
		o.sess.RemoveCaptureFolder()
	}
	var err error
	err = multierr.Combine(err, o.sess.Close(ctx))
	err = multierr.Combine(err, o.robot.Close(ctx))
	return err
}
