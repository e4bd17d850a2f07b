package gstreamer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scopeKey struct{}

type recordingScope struct {
	mu      sync.Mutex
	entered []string
	exited  int
}

func (s *recordingScope) Enter(ctx context.Context, name string) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entered = append(s.entered, name)
	return context.WithValue(ctx, scopeKey{}, name)
}

func (s *recordingScope) Exit(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exited++
}

func (s *recordingScope) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entered), s.exited
}

func waitClosed(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting: %s", msg)
	}
}

func TestWorkerLoop_StartReadyStop(t *testing.T) {
	fw := NewSimulatedFramework(DefaultSimulatedOptions())
	scope := &recordingScope{}
	w := NewWorkerLoop(fw, scope)

	var hookCtx context.Context
	var hookCalls atomic.Int32
	w.OnReady(func(ctx context.Context) {
		hookCtx = ctx
		hookCalls.Add(1)
	})

	var states []WorkerState
	var statesMu sync.Mutex
	w.SetObserver(func(state WorkerState) {
		statesMu.Lock()
		defer statesMu.Unlock()
		states = append(states, state)
	})

	assert.Equal(t, WorkerIdle, w.State())
	require.NoError(t, w.Start(context.Background()))
	assert.ErrorIs(t, w.Start(context.Background()), ErrWorkerRunning)

	waitClosed(t, w.Ready(), "worker ready")
	assert.True(t, w.Initialized())
	assert.Equal(t, WorkerRunning, w.State())
	assert.Equal(t, int32(1), hookCalls.Load())
	assert.Equal(t, "worker-loop", hookCtx.Value(scopeKey{}))
	assert.NotNil(t, w.Loop())

	require.NoError(t, w.Stop())
	waitClosed(t, w.Done(), "worker exit")
	assert.Equal(t, WorkerIdle, w.State())
	assert.Nil(t, w.Loop())

	entered, exited := scope.counts()
	assert.Equal(t, 1, entered)
	assert.Equal(t, 1, exited)

	statesMu.Lock()
	assert.Equal(t, []WorkerState{WorkerStarting, WorkerRunning, WorkerStopping, WorkerIdle}, states)
	statesMu.Unlock()
}

func TestWorkerLoop_ReadinessGate(t *testing.T) {
	fw := NewSimulatedFramework(DefaultSimulatedOptions())
	w := NewWorkerLoop(fw, nil)
	w.SetReadinessCheck(func() bool { return false })

	var hookCalls atomic.Int32
	w.OnReady(func(ctx context.Context) { hookCalls.Add(1) })

	require.NoError(t, w.Start(context.Background()))
	require.Eventually(t, func() bool { return w.Loop() != nil }, 2*time.Second, 5*time.Millisecond)

	submitted := make(chan struct{})
	require.True(t, w.Submit(func(ctx context.Context) { close(submitted) }))
	waitClosed(t, submitted, "submitted work")

	assert.False(t, w.Initialized())
	assert.Equal(t, WorkerStarting, w.State())
	assert.Zero(t, hookCalls.Load())

	require.NoError(t, w.Stop())
	waitClosed(t, w.Done(), "worker exit")
	assert.Equal(t, WorkerIdle, w.State())
}

func TestWorkerLoop_StopIsIdempotent(t *testing.T) {
	fw := NewSimulatedFramework(DefaultSimulatedOptions())
	w := NewWorkerLoop(fw, nil)

	require.NoError(t, w.Stop(), "stopping an idle worker is a no-op")

	require.NoError(t, w.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Stop())
		}()
	}
	wg.Wait()

	assert.Equal(t, WorkerIdle, w.State())
	assert.False(t, w.Submit(func(ctx context.Context) {}))
}

func TestWorkerLoop_StopImmediatelyAfterStart(t *testing.T) {
	fw := NewSimulatedFramework(DefaultSimulatedOptions())
	w := NewWorkerLoop(fw, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Start(context.Background()))
		require.NoError(t, w.Stop())
		assert.Equal(t, WorkerIdle, w.State())
	}
}

func TestWorkerLoop_ContextDefaultsToBackground(t *testing.T) {
	w := NewWorkerLoop(NewSimulatedFramework(SimulatedOptions{}), nil)
	assert.Equal(t, context.Background(), w.Context())

	select {
	case <-w.Done():
	default:
		t.Fatal("Done of a never-started worker must be closed")
	}
}
