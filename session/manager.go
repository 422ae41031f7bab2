// Package session owns the lifecycles of the capture and
// reconstruction engine handles: it starts and stops them, listens to
// their asynchronous streams for as long as a handle exists, and tears
// them down deterministically.
package session

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/scansync/capture"
)

// ErrReconstructionInit marks a reconstruction job that failed at
// construction time.
var ErrReconstructionInit = errors.New("cannot initialize reconstruction")

// A Manager owns the engine handles for one scan station. Whenever a
// capture engine handle is non-nil exactly two listeners are live (one
// per stream); replacing or clearing a handle always detaches the old
// pair first.
type Manager struct {
	logger           golog.Logger
	provider         capture.EngineProvider
	newReconstructor capture.ReconstructorFactory
	baseDir          string

	mu      sync.Mutex
	folders *capture.FolderManager
	engine  capture.Engine
	recon   capture.Reconstructor

	onFeedback    func(capture.ConditionSet)
	onEngineState func(capture.State)
	onReconState  func(capture.State)

	engineCancel func()
	engineWG     sync.WaitGroup
	reconCancel  func()
	reconWG      sync.WaitGroup
}

// NewManager returns a manager that builds engines from provider and
// reconstruction jobs from factory, storing attempts under baseDir.
func NewManager(
	provider capture.EngineProvider,
	factory capture.ReconstructorFactory,
	baseDir string,
	logger golog.Logger,
) *Manager {
	return &Manager{
		logger:           logger,
		provider:         provider,
		newReconstructor: factory,
		baseDir:          baseDir,
	}
}

// SetHandlers registers the callbacks engine streams are forwarded to:
// capture feedback frames, capture engine states and reconstruction
// states. Must be called before the first capture starts.
func (m *Manager) SetHandlers(
	onFeedback func(capture.ConditionSet),
	onEngineState func(capture.State),
	onReconState func(capture.State),
) {
	m.mu.Lock()
	m.onFeedback = onFeedback
	m.onEngineState = onEngineState
	m.onReconState = onReconState
	m.mu.Unlock()
}

// StartNewCapture allocates a fresh attempt folder tree, constructs a
// capture engine with over-capture enabled, attaches its listeners and
// starts it. An engine that immediately reports a failed internal
// state is torn down and its cause returned.
func (m *Manager) StartNewCapture(ctx context.Context, mode capture.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.provider.Supported() {
		return capture.ErrUnsupported
	}
	m.dropEngineLocked(ctx)

	folders, err := capture.NewFolderManager(m.baseDir, m.logger)
	if err != nil {
		return errors.Wrap(err, "cannot allocate capture folders")
	}
	m.folders = folders

	dirs := folders.Dirs()
	eng, err := m.provider.NewEngine(ctx, dirs, capture.SessionConfig{
		Mode:          mode,
		OverCapture:   true,
		CheckpointDir: dirs.Checkpoint,
	})
	if err != nil {
		return errors.Wrap(err, "cannot construct capture engine")
	}
	m.attachEngineLocked(eng)

	if err := eng.Start(ctx); err != nil {
		m.dropEngineLocked(ctx)
		return errors.Wrap(err, "cannot start capture engine")
	}
	if st := eng.State(); st.Kind == capture.StateFailed {
		cause := st.Err
		if cause == nil {
			cause = errors.New("capture engine failed on start")
		}
		m.dropEngineLocked(ctx)
		return cause
	}

	m.logger.Infow("capture attempt started", "attempt", folders.ID(), "mode", mode)
	return nil
}

// attachEngineLocked installs the handle and its listener pair. The
// previous pair is always detached (cancelled, drained, cleared)
// before the new one starts.
func (m *Manager) attachEngineLocked(eng capture.Engine) {
	m.detachEngineListenersLocked()
	m.engine = eng

	listenCtx, cancel := context.WithCancel(context.Background())
	m.engineCancel = cancel

	feedbackCh := eng.Feedback()
	stateCh := eng.States()
	onFeedback := m.onFeedback
	onState := m.onEngineState
	m.engineWG.Add(2)
	goutils.ManagedGo(func() {
		m.forwardFeedback(listenCtx, feedbackCh, onFeedback)
	}, m.engineWG.Done)
	goutils.ManagedGo(func() {
		m.forwardStates(listenCtx, stateCh, onState)
	}, m.engineWG.Done)
}

func (m *Manager) detachEngineListenersLocked() {
	if m.engineCancel == nil {
		return
	}
	m.engineCancel()
	m.engineWG.Wait()
	m.engineCancel = nil
}

func (m *Manager) forwardFeedback(ctx context.Context, ch <-chan capture.ConditionSet, fn func(capture.ConditionSet)) {
	for {
		select {
		case <-ctx.Done():
			return
		case set, ok := <-ch:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if fn != nil {
				fn(set)
			}
		}
	}
}

func (m *Manager) forwardStates(ctx context.Context, ch <-chan capture.State, fn func(capture.State)) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-ch:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if fn != nil {
				fn(st)
			}
		}
	}
}

// FinishCapture asks the engine to stop adding shots and finalize; the
// engine reports completion on its state stream.
func (m *Manager) FinishCapture(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine == nil {
		return nil
	}
	return m.engine.Finish(ctx)
}

// PauseCapture pauses the running engine, if any.
func (m *Manager) PauseCapture(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine == nil {
		return nil
	}
	return m.engine.Pause(ctx)
}

// ResumeCapture resumes a paused engine, if any.
func (m *Manager) ResumeCapture(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine == nil {
		return nil
	}
	return m.engine.Resume(ctx)
}

// DropEngine detaches the listener pair and releases the capture
// engine handle, freeing its capture resources.
func (m *Manager) DropEngine(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropEngineLocked(ctx)
}

func (m *Manager) dropEngineLocked(ctx context.Context) {
	if m.engine == nil {
		return
	}
	m.detachEngineListenersLocked()
	if err := m.engine.Close(ctx); err != nil {
		m.logger.Debugw("error closing capture engine", "error", err)
	}
	m.engine = nil
}

// StartReconstruction builds the photogrammetry job over the attempt's
// images folder, reusing its checkpoint directory. Object masking is
// enabled unless the capture mode is area. A construction failure is
// reported as ErrReconstructionInit.
func (m *Manager) StartReconstruction(ctx context.Context, mode capture.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.folders == nil {
		return errors.New("no capture folders; nothing to reconstruct")
	}
	dirs := m.folders.Dirs()
	rec, err := m.newReconstructor(ctx, dirs.Images, capture.ReconstructionConfig{
		MaskObject:    mode != capture.ModeArea,
		CheckpointDir: dirs.Checkpoint,
	})
	if err != nil {
		return errors.WithMessage(ErrReconstructionInit, err.Error())
	}

	m.detachReconListenersLocked()
	m.recon = rec
	listenCtx, cancel := context.WithCancel(context.Background())
	m.reconCancel = cancel
	stateCh := rec.States()
	onState := m.onReconState
	m.reconWG.Add(1)
	goutils.ManagedGo(func() {
		m.forwardStates(listenCtx, stateCh, onState)
	}, m.reconWG.Done)

	m.logger.Infow("reconstruction started", "images", dirs.Images, "maskObject", mode != capture.ModeArea)
	return nil
}

func (m *Manager) detachReconListenersLocked() {
	if m.reconCancel == nil {
		return
	}
	m.reconCancel()
	m.reconWG.Wait()
	m.reconCancel = nil
}

// DropReconstruction detaches the reconstruction listener and releases
// the handle.
func (m *Manager) DropReconstruction(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropReconstructionLocked(ctx)
}

func (m *Manager) dropReconstructionLocked(ctx context.Context) {
	if m.recon == nil {
		return
	}
	m.detachReconListenersLocked()
	if err := m.recon.Close(ctx); err != nil {
		m.logger.Debugw("error closing reconstruction", "error", err)
	}
	m.recon = nil
}

// Engine returns the current capture engine handle, or nil.
func (m *Manager) Engine() capture.Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine
}

// HasEngine reports whether a capture engine handle exists.
func (m *Manager) HasEngine() bool {
	return m.Engine() != nil
}

// HasFolders reports whether a capture attempt's folders exist.
func (m *Manager) HasFolders() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.folders != nil
}

// Dirs returns the current attempt's folder locations.
func (m *Manager) Dirs() (capture.AttemptDirs, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.folders == nil {
		return capture.AttemptDirs{}, false
	}
	return m.folders.Dirs(), true
}

// RemoveCaptureFolder deletes the attempt folder tree, best effort.
func (m *Manager) RemoveCaptureFolder() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.folders != nil {
		m.folders.RemoveCaptureFolder()
	}
}

// RemoveCheckpointFolder deletes the checkpoint scratch space, best
// effort.
func (m *Manager) RemoveCheckpointFolder() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.folders != nil {
		m.folders.RemoveCheckpointFolder()
	}
}

// ClearFolders forgets the folder manager without deleting anything;
// storage is reclaimed opportunistically elsewhere.
func (m *Manager) ClearFolders() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders = nil
}

// Close tears down both handles and their listeners.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.engine != nil {
		m.detachEngineListenersLocked()
		err = multierr.Combine(err, m.engine.Close(ctx))
		m.engine = nil
	}
	if m.recon != nil {
		m.detachReconListenersLocked()
		err = multierr.Combine(err, m.recon.Close(ctx))
		m.recon = nil
	}
	return err
}
