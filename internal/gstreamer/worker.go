package gstreamer

import (
	"context"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// ExecutionScope marks the lifetime of an execution context so per-context
// resources (host callback slots) can be released when it ends.
type ExecutionScope interface {
	Enter(ctx context.Context, name string) context.Context
	Exit(ctx context.Context)
}

// WorkerState is the lifecycle state of a WorkerLoop.
type WorkerState int

const (
	WorkerIdle WorkerState = iota
	WorkerStarting
	WorkerRunning
	WorkerStopping
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerStarting:
		return "starting"
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// WorkerLoop owns the goroutine that runs the main loop. Bus handlers run
// on that goroutine, which is locked to its OS thread for its lifetime.
type WorkerLoop struct {
	framework Framework
	scope     ExecutionScope
	logger    *logrus.Entry

	mu          sync.Mutex
	state       WorkerState
	loop        MainLoop
	ctx         context.Context
	started     chan struct{}
	ready       chan struct{}
	done        chan struct{}
	initialized bool

	readiness  func() bool
	readyHooks []func(ctx context.Context)
	observer   func(state WorkerState)
}

// NewWorkerLoop creates an idle worker.
func NewWorkerLoop(framework Framework, scope ExecutionScope) *WorkerLoop {
	return &WorkerLoop{
		framework: framework,
		scope:     scope,
		logger:    logrus.WithField("component", "worker-loop"),
		state:     WorkerIdle,
	}
}

// SetReadinessCheck sets the predicate that must hold, in addition to the
// loop existing, before the worker reports itself initialized. It is
// evaluated once, when the loop starts.
func (w *WorkerLoop) SetReadinessCheck(check func() bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readiness = check
}

// OnReady registers a hook run once, on the worker goroutine, when
// initialization completes.
func (w *WorkerLoop) OnReady(hook func(ctx context.Context)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readyHooks = append(w.readyHooks, hook)
}

// SetObserver sets a callback invoked on every state change.
func (w *WorkerLoop) SetObserver(observer func(state WorkerState)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observer = observer
}

// Start spawns the worker goroutine.
func (w *WorkerLoop) Start(parent context.Context) error {
	w.mu.Lock()
	if w.state != WorkerIdle {
		w.mu.Unlock()
		return ErrWorkerRunning
	}
	started := make(chan struct{})
	ready := make(chan struct{})
	done := make(chan struct{})
	w.started, w.ready, w.done = started, ready, done
	w.initialized = false
	w.setStateLocked(WorkerStarting)
	w.mu.Unlock()

	go w.run(parent, started, ready, done)
	return nil
}

func (w *WorkerLoop) run(parent context.Context, started, ready, done chan struct{}) {
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctx := parent
	if w.scope != nil {
		ctx = w.scope.Enter(parent, "worker-loop")
		defer w.scope.Exit(ctx)
	}

	w.logger.Debug("Creating main loop")
	loop, err := w.framework.NewMainLoop()
	if err != nil {
		w.logger.Error(NewInitializationError("worker-loop", "failed to create main loop", err))
		w.mu.Lock()
		w.setStateLocked(WorkerIdle)
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.loop = loop
	w.ctx = ctx
	w.mu.Unlock()

	w.logger.Debug("Entering main loop")
	loop.Run(func() {
		close(started)
		w.checkInitializationComplete(ready)
	})
	w.logger.Debug("Exited main loop")

	w.mu.Lock()
	w.loop = nil
	w.ctx = nil
	w.setStateLocked(WorkerIdle)
	w.mu.Unlock()
}

func (w *WorkerLoop) checkInitializationComplete(ready chan struct{}) {
	w.mu.Lock()
	if w.initialized || w.loop == nil || w.state != WorkerStarting {
		w.mu.Unlock()
		return
	}
	if w.readiness != nil && !w.readiness() {
		w.mu.Unlock()
		w.logger.Debug("Readiness check not satisfied yet")
		return
	}
	w.initialized = true
	w.setStateLocked(WorkerRunning)
	hooks := append([]func(context.Context){}, w.readyHooks...)
	ctx := w.ctx
	w.mu.Unlock()

	w.logger.Info("Initialization complete")
	for _, hook := range hooks {
		hook(ctx)
	}
	close(ready)
}

// Submit runs fn on the worker goroutine. It returns false when the worker
// has no loop.
func (w *WorkerLoop) Submit(fn func(ctx context.Context)) bool {
	w.mu.Lock()
	loop := w.loop
	w.mu.Unlock()
	if loop == nil {
		return false
	}
	loop.Invoke(func() {
		fn(w.Context())
	})
	return true
}

// Stop asks the loop to quit and waits for the goroutine to exit. Stopping
// an idle worker is a no-op; concurrent callers all wait for the same exit.
func (w *WorkerLoop) Stop() error {
	w.mu.Lock()
	switch w.state {
	case WorkerIdle:
		w.mu.Unlock()
		return nil
	case WorkerStopping:
		done := w.done
		w.mu.Unlock()
		<-done
		return nil
	}
	w.setStateLocked(WorkerStopping)
	started, done := w.started, w.done
	w.mu.Unlock()

	// The loop must be running before it can be told to quit.
	select {
	case <-started:
	case <-done:
		return nil
	}

	w.mu.Lock()
	loop := w.loop
	w.mu.Unlock()
	if loop != nil {
		w.logger.Debug("Requesting main loop exit")
		loop.Quit()
	}

	<-done
	w.logger.Info("Worker loop stopped")
	return nil
}

// Loop returns the running main loop, or nil.
func (w *WorkerLoop) Loop() MainLoop {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loop
}

// Context returns the execution context of the worker goroutine.
func (w *WorkerLoop) Context() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

// State returns the current lifecycle state.
func (w *WorkerLoop) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Initialized reports whether the readiness check has passed.
func (w *WorkerLoop) Initialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initialized
}

// Ready is closed when initialization completes.
func (w *WorkerLoop) Ready() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ready == nil {
		return make(chan struct{})
	}
	return w.ready
}

// Done is closed when the worker goroutine exits.
func (w *WorkerLoop) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return w.done
}

func (w *WorkerLoop) setStateLocked(state WorkerState) {
	if w.state == state {
		return
	}
	w.logger.Debugf("Worker state %s -> %s", w.state, state)
	w.state = state
	if w.observer != nil {
		w.observer(state)
	}
}
