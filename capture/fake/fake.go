// Package fake provides in-memory capture and reconstruction engines
// for development hosts without real capture hardware and for tests.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"go.viam.com/scansync/capture"
)

const streamBuffer = 16

// A Provider constructs fake capture engines. The zero value is a
// supported provider whose engines start cleanly and take shots only
// when told to.
type Provider struct {
	// Unsupported makes Supported report false.
	Unsupported bool
	// ConstructErr fails NewEngine synchronously.
	ConstructErr error
	// StartErr makes the engine's Start call return an error.
	StartErr error
	// StartFailState makes the engine report a failed internal state
	// immediately after a successful Start call.
	StartFailState error
	// ShotInterval, when set, has running engines take one shot per
	// interval on Clock, so a bench station shows live progress.
	ShotInterval time.Duration
	// Clock defaults to the wall clock.
	Clock clock.Clock

	mu   sync.Mutex
	last *Engine
}

// Supported implements capture.EngineProvider.
func (p *Provider) Supported() bool {
	return !p.Unsupported
}

// NewEngine implements capture.EngineProvider.
func (p *Provider) NewEngine(ctx context.Context, dirs capture.AttemptDirs, cfg capture.SessionConfig) (capture.Engine, error) {
	if p.ConstructErr != nil {
		return nil, p.ConstructErr
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	eng := &Engine{
		cfg:      cfg,
		dirs:     dirs,
		state:    capture.State{Kind: capture.StateInitializing},
		feedback: make(chan capture.ConditionSet, streamBuffer),
		states:   make(chan capture.State, streamBuffer),

		clock:          clk,
		shotInterval:   p.ShotInterval,
		startErr:       p.StartErr,
		startFailState: p.StartFailState,
	}
	p.mu.Lock()
	p.last = eng
	p.mu.Unlock()
	return eng, nil
}

// Last returns the engine most recently constructed, or nil.
func (p *Provider) Last() *Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// An Engine is an in-memory capture engine. Tests drive it through the
// Inject/Complete/Fail hooks; the orchestrator sees a real engine.
type Engine struct {
	mu   sync.Mutex
	cfg  capture.SessionConfig
	dirs capture.AttemptDirs

	state        capture.State
	shots        int
	passComplete bool
	closed       bool

	feedback chan capture.ConditionSet
	states   chan capture.State

	clock        clock.Clock
	shotInterval time.Duration
	shotTimer    *clock.Timer
	paused       bool

	startErr       error
	startFailState error
}

// Start implements capture.Engine.
func (e *Engine) Start(ctx context.Context) error {
	if e.startErr != nil {
		return e.startErr
	}
	if e.startFailState != nil {
		e.setState(capture.State{Kind: capture.StateFailed, Err: e.startFailState})
		return nil
	}
	e.setState(capture.State{Kind: capture.StateRunning})
	e.mu.Lock()
	e.scheduleShotLocked()
	e.mu.Unlock()
	return nil
}

func (e *Engine) scheduleShotLocked() {
	if e.shotInterval <= 0 || e.closed {
		return
	}
	e.shotTimer = e.clock.AfterFunc(e.shotInterval, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed || e.paused || e.state.Kind != capture.StateRunning {
			return
		}
		e.shots++
		e.scheduleShotLocked()
	})
}

// Pause implements capture.Engine.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	return nil
}

// Resume implements capture.Engine.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.paused {
		e.paused = false
		e.scheduleShotLocked()
	}
	e.mu.Unlock()
	return nil
}

// Finish implements capture.Engine; the fake finalizes instantly.
func (e *Engine) Finish(ctx context.Context) error {
	e.setState(capture.State{Kind: capture.StateCompleted})
	return nil
}

// Feedback implements capture.Engine.
func (e *Engine) Feedback() <-chan capture.ConditionSet { return e.feedback }

// States implements capture.Engine.
func (e *Engine) States() <-chan capture.State { return e.states }

// State implements capture.Engine.
func (e *Engine) State() capture.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ShotCount implements capture.Engine.
func (e *Engine) ShotCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shots
}

// ScanPassComplete implements capture.Engine.
func (e *Engine) ScanPassComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.passComplete
}

// Close implements capture.Engine; both streams close with it.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.shotTimer != nil {
		e.shotTimer.Stop()
	}
	close(e.feedback)
	close(e.states)
	return nil
}

// Config returns the session configuration the engine was built with.
func (e *Engine) Config() capture.SessionConfig {
	return e.cfg
}

// Dirs returns the attempt directories the engine was built with.
func (e *Engine) Dirs() capture.AttemptDirs {
	return e.dirs
}

// InjectFeedback emits one feedback frame.
func (e *Engine) InjectFeedback(set capture.ConditionSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.feedback <- set:
	default:
	}
}

// SetShots sets the reported shot counter.
func (e *Engine) SetShots(n int) {
	e.mu.Lock()
	e.shots = n
	e.mu.Unlock()
}

// CompletePass marks the current scan pass done and reports it.
func (e *Engine) CompletePass() {
	e.mu.Lock()
	e.passComplete = true
	e.mu.Unlock()
	e.setState(capture.State{Kind: capture.StatePassComplete})
}

// Complete reports terminal completion.
func (e *Engine) Complete() {
	e.setState(capture.State{Kind: capture.StateCompleted})
}

// Fail reports terminal failure with the given cause.
func (e *Engine) Fail(err error) {
	e.setState(capture.State{Kind: capture.StateFailed, Err: err})
}

func (e *Engine) setState(st capture.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = st
	if e.closed {
		return
	}
	select {
	case e.states <- st:
	default:
	}
}

// A ReconstructorSource builds fake reconstruction jobs and remembers
// the last one so tests can drive it to completion or failure.
type ReconstructorSource struct {
	// ConstructErr fails the factory synchronously.
	ConstructErr error
	// CompleteAfter, when set, has jobs report completion after the
	// duration elapses on Clock instead of waiting for a Complete call.
	CompleteAfter time.Duration
	// Clock defaults to the wall clock.
	Clock clock.Clock

	mu   sync.Mutex
	last *Reconstructor
}

// Factory returns a capture.ReconstructorFactory backed by this source.
func (s *ReconstructorSource) Factory() capture.ReconstructorFactory {
	return func(ctx context.Context, imagesDir string, cfg capture.ReconstructionConfig) (capture.Reconstructor, error) {
		if s.ConstructErr != nil {
			return nil, s.ConstructErr
		}
		rec := &Reconstructor{
			imagesDir: imagesDir,
			cfg:       cfg,
			states:    make(chan capture.State, streamBuffer),
		}
		if s.CompleteAfter > 0 {
			clk := s.Clock
			if clk == nil {
				clk = clock.New()
			}
			rec.doneTimer = clk.AfterFunc(s.CompleteAfter, rec.Complete)
		}
		s.mu.Lock()
		s.last = rec
		s.mu.Unlock()
		return rec, nil
	}
}

// Last returns the job most recently constructed, or nil.
func (s *ReconstructorSource) Last() *Reconstructor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// A Reconstructor is an in-memory photogrammetry job.
type Reconstructor struct {
	imagesDir string
	cfg       capture.ReconstructionConfig

	mu        sync.Mutex
	closed    bool
	states    chan capture.State
	doneTimer *clock.Timer
}

// States implements capture.Reconstructor.
func (r *Reconstructor) States() <-chan capture.State { return r.states }

// Close implements capture.Reconstructor.
func (r *Reconstructor) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.doneTimer != nil {
		r.doneTimer.Stop()
	}
	close(r.states)
	return nil
}

// Config returns the reconstruction configuration the job was built
// with.
func (r *Reconstructor) Config() capture.ReconstructionConfig {
	return r.cfg
}

// ImagesDir returns the folder the job reconstructs from.
func (r *Reconstructor) ImagesDir() string {
	return r.imagesDir
}

// Complete reports terminal completion.
func (r *Reconstructor) Complete() {
	r.emit(capture.State{Kind: capture.StateCompleted})
}

// Fail reports terminal failure with the given cause.
func (r *Reconstructor) Fail(err error) {
	r.emit(capture.State{Kind: capture.StateFailed, Err: err})
}

func (r *Reconstructor) emit(st capture.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.states <- st:
	default:
	}
}
