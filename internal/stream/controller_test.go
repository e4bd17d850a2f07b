package stream

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/gst-udpstream/internal/config"
	"github.com/open-beagle/gst-udpstream/internal/gstreamer"
)

type recordingAttacher struct {
	mu       sync.Mutex
	attached []string
}

func (r *recordingAttacher) Attach(pc *gstreamer.PipelineContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, pc.Name())
	return nil
}

func newTestController(opts gstreamer.SimulatedOptions) (*Controller, *gstreamer.SimulatedFramework, *recordingAttacher) {
	fw := gstreamer.NewSimulatedFramework(opts)
	cfg := config.DefaultGStreamerConfig()
	attacher := &recordingAttacher{}
	return NewController(gstreamer.NewPipelineBuilder(fw, cfg), attacher), fw, attacher
}

func sinkProperty(t *testing.T, pc *gstreamer.PipelineContext, name string) interface{} {
	t.Helper()
	value, err := pc.Sink.GetProperty(name)
	require.NoError(t, err)
	return value
}

func TestController_StartVideoBuildsOnce(t *testing.T) {
	c, fw, attacher := newTestController(gstreamer.DefaultSimulatedOptions())

	require.NoError(t, c.StartVideo("10.0.0.2"))
	first := c.Pipeline(gstreamer.MediaVideo)
	require.NotNil(t, first)
	graph := first.Graph
	assert.Equal(t, "10.0.0.2", sinkProperty(t, first, "host"))
	assert.Equal(t, 5000, sinkProperty(t, first, "port"))
	assert.True(t, c.VideoRunning())
	assert.Equal(t, gstreamer.PipelineStatePlaying, first.Pipeline().CurrentState())

	require.NoError(t, c.StartVideo("10.0.0.3"))
	second := c.Pipeline(gstreamer.MediaVideo)
	assert.Same(t, first, second)
	assert.Same(t, graph, second.Graph)
	assert.Equal(t, "10.0.0.3", sinkProperty(t, second, "host"))

	assert.Equal(t, 1, c.Builds(gstreamer.MediaVideo))
	assert.Equal(t, Built, c.State(gstreamer.MediaVideo))
	assert.Len(t, fw.Pipelines(gstreamer.VideoPipelineName), 1)
	assert.Equal(t, []string{gstreamer.VideoPipelineName, gstreamer.VideoPipelineName}, attacher.attached)

	host, port := c.Destination(gstreamer.MediaVideo)
	assert.Equal(t, "10.0.0.3", host)
	assert.Equal(t, 5000, port)

	linked, _ := first.Graph.DeferredResolved(gstreamer.VideoSourceName)
	assert.True(t, linked)
}

func TestController_BuildFailureThenRetry(t *testing.T) {
	c, fw, _ := newTestController(gstreamer.SimulatedOptions{
		Unavailable: []string{"openh264enc"},
		DynamicPads: map[string]int{"ahcsrc": 1},
	})

	err := c.StartVideo("10.0.0.2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gstreamer.ErrGraphConstructionFailed))
	assert.True(t, errors.Is(err, gstreamer.ErrUnavailableStageKind))
	assert.Nil(t, c.Pipeline(gstreamer.MediaVideo))
	assert.Equal(t, Unbuilt, c.State(gstreamer.MediaVideo))
	assert.False(t, c.VideoRunning())
	require.NoError(t, c.StopVideo())

	fw.SetUnavailable("openh264enc", false)
	require.NoError(t, c.StartVideo("10.0.0.2"))
	assert.Equal(t, 1, c.Builds(gstreamer.MediaVideo))

	pipelines := fw.Pipelines(gstreamer.VideoPipelineName)
	require.Len(t, pipelines, 2, "retry builds from scratch")
	assert.True(t, pipelines[0].Closed())
	assert.False(t, pipelines[1].Closed())
}

func TestController_StopVideo(t *testing.T) {
	c, fw, _ := newTestController(gstreamer.DefaultSimulatedOptions())
	require.NoError(t, c.StopVideo(), "stop before any start is a no-op")

	var events []bool
	c.SetObserver(func(kind gstreamer.MediaKind, running bool) {
		assert.Equal(t, gstreamer.MediaVideo, kind)
		events = append(events, running)
	})

	require.NoError(t, c.StartVideo("10.0.0.2"))
	sim := fw.Pipelines(gstreamer.VideoPipelineName)[0]
	before := len(sim.Transitions())

	require.NoError(t, c.StopVideo())
	assert.False(t, c.VideoRunning())
	assert.Equal(t, gstreamer.PipelineStateNull, sim.CurrentState())
	assert.Equal(t, []gstreamer.PipelineState{
		gstreamer.PipelineStatePaused,
		gstreamer.PipelineStateReady,
		gstreamer.PipelineStateNull,
	}, sim.Transitions()[before:])

	after := len(sim.Transitions())
	require.NoError(t, c.StopVideo())
	assert.Len(t, sim.Transitions(), after, "second stop performs no transitions")

	assert.Equal(t, []bool{true, false}, events)

	require.NoError(t, c.StartVideo("10.0.0.4"))
	assert.True(t, c.VideoRunning())
	assert.Equal(t, 1, c.Builds(gstreamer.MediaVideo))
}

func TestController_AudioIsIndependent(t *testing.T) {
	c, _, _ := newTestController(gstreamer.SimulatedOptions{Unavailable: []string{"openslessrc"}})

	require.NoError(t, c.StartAudio("10.0.0.9"))
	audio := c.Pipeline(gstreamer.MediaAudio)
	require.NotNil(t, audio)
	assert.True(t, audio.Degraded)
	assert.Equal(t, 5001, sinkProperty(t, audio, "port"))
	assert.True(t, c.AudioRunning())
	assert.False(t, c.VideoRunning())
	assert.Equal(t, Unbuilt, c.State(gstreamer.MediaVideo))

	require.NoError(t, c.StopAudio())
	assert.False(t, c.AudioRunning())
	require.NoError(t, c.StopAll())
}

func TestController_StateChangeFailure(t *testing.T) {
	c, fw, _ := newTestController(gstreamer.DefaultSimulatedOptions())
	fw.SetStateHook(func(pipeline string, target gstreamer.PipelineState) error {
		if target == gstreamer.PipelineStatePlaying {
			return errors.New("device busy")
		}
		return nil
	})

	err := c.StartVideo("10.0.0.2")
	require.Error(t, err)
	assert.True(t, gstreamer.IsErrorType(err, gstreamer.ErrorTypePipelineState))
	assert.False(t, c.VideoRunning())
	assert.Equal(t, Built, c.State(gstreamer.MediaVideo), "the graph is kept after a failed transition")

	fw.SetStateHook(nil)
	require.NoError(t, c.StartVideo("10.0.0.2"))
	assert.Equal(t, 1, c.Builds(gstreamer.MediaVideo))
}

func TestController_FaultClearedOnRestart(t *testing.T) {
	c, _, _ := newTestController(gstreamer.DefaultSimulatedOptions())
	require.NoError(t, c.StartVideo("10.0.0.2"))

	pc := c.Pipeline(gstreamer.MediaVideo)
	pc.MarkFaulted()
	require.NoError(t, pc.Pipeline().SetState(gstreamer.PipelineStateNull))
	assert.False(t, c.VideoRunning())

	require.NoError(t, c.StopVideo())
	require.NoError(t, c.StartVideo("10.0.0.2"))
	assert.False(t, pc.Faulted())
	assert.True(t, c.VideoRunning())
}

func TestController_ConcurrentStartsBuildOnce(t *testing.T) {
	c, fw, _ := newTestController(gstreamer.DefaultSimulatedOptions())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.StartVideo("10.0.0.2"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, c.Builds(gstreamer.MediaVideo))
	assert.Len(t, fw.Pipelines(gstreamer.VideoPipelineName), 1)
}

func TestController_RejectsEmptyHost(t *testing.T) {
	c, _, _ := newTestController(gstreamer.DefaultSimulatedOptions())
	assert.Error(t, c.StartVideo(""))
	assert.Equal(t, Unbuilt, c.State(gstreamer.MediaVideo))
}

func TestController_PipelineFaulted(t *testing.T) {
	c, _, _ := newTestController(gstreamer.DefaultSimulatedOptions())

	var events []bool
	c.SetObserver(func(kind gstreamer.MediaKind, running bool) {
		assert.Equal(t, gstreamer.MediaVideo, kind)
		events = append(events, running)
	})

	require.NoError(t, c.StartVideo("10.0.0.2"))
	pc := c.Pipeline(gstreamer.MediaVideo)

	// Not faulted yet: ignored.
	c.PipelineFaulted(pc)
	assert.True(t, c.VideoRunning())

	require.True(t, pc.MarkFaulted())
	c.PipelineFaulted(pc)
	c.PipelineFaulted(pc)
	assert.False(t, c.VideoRunning())
	assert.Equal(t, []bool{true, false}, events)

	// A restart clears the fault and reports running again.
	require.NoError(t, c.StartVideo("10.0.0.2"))
	assert.True(t, c.VideoRunning())
	assert.Equal(t, []bool{true, false, true}, events)

	c.PipelineFaulted(nil)
}
