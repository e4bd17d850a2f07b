package gstreamer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/gst-udpstream/internal/config"
)

func TestPipelineBuilder_BuildVideoGraph(t *testing.T) {
	fw := NewSimulatedFramework(DefaultSimulatedOptions())
	builder := NewPipelineBuilder(fw, config.DefaultGStreamerConfig())

	pc, err := builder.BuildVideoGraph()
	require.NoError(t, err)
	require.NotNil(t, pc)

	assert.Equal(t, MediaVideo, pc.Kind)
	assert.Equal(t, VideoPipelineName, pc.Name())
	assert.False(t, pc.Degraded)
	assert.Equal(t, SinkName, pc.Sink.Name())

	stages := pc.Graph.Stages()
	require.Len(t, stages, 6)
	kinds := make([]StageKind, 0, len(stages))
	for _, s := range stages {
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, []StageKind{
		StageCaptureSource, StageQueue, StageFormatFilter, StageConverter, StageEncoder, StageNetworkSink,
	}, kinds)

	caps, err := pc.Graph.Stages()[2].Element.GetProperty("caps")
	require.NoError(t, err)
	assert.Equal(t, Caps("video/x-raw,width=320,height=240"), caps)
	assert.Equal(t, "video", caps.(Caps).Media())

	assert.Equal(t, []Link{
		{Kind: LinkStatic, Src: VideoQueueName, Sink: VideoFilterName},
		{Kind: LinkStatic, Src: VideoFilterName, Sink: VideoConverterName},
		{Kind: LinkStatic, Src: VideoConverterName, Sink: VideoEncoderName},
		{Kind: LinkStatic, Src: VideoEncoderName, Sink: SinkName},
		{Kind: LinkDeferred, Src: VideoSourceName, Sink: VideoQueueName},
	}, pc.Graph.Links())

	linked, _ := pc.Graph.DeferredResolved(VideoSourceName)
	assert.False(t, linked, "capture source must not be linked before activation")
}

func TestPipelineBuilder_VideoSourceLinkedOnActivation(t *testing.T) {
	fw := NewSimulatedFramework(DefaultSimulatedOptions())
	builder := NewPipelineBuilder(fw, nil)

	var deferredKind MediaKind = -1
	builder.SetDeferredLinkHandler(func(kind MediaKind, src, sink, pad string, err error) {
		deferredKind = kind
		assert.Equal(t, VideoSourceName, src)
		assert.Equal(t, VideoQueueName, sink)
		assert.NoError(t, err)
	})

	pc, err := builder.BuildVideoGraph()
	require.NoError(t, err)

	require.NoError(t, pc.Pipeline().SetState(PipelineStatePlaying))
	linked, announced := pc.Graph.DeferredResolved(VideoSourceName)
	assert.True(t, linked)
	assert.Equal(t, 1, announced)
	assert.Equal(t, MediaVideo, deferredKind)
}

func TestPipelineBuilder_BuildAudioGraph(t *testing.T) {
	fw := NewSimulatedFramework(DefaultSimulatedOptions())
	builder := NewPipelineBuilder(fw, config.DefaultGStreamerConfig())

	pc, err := builder.BuildAudioGraph()
	require.NoError(t, err)

	assert.Equal(t, MediaAudio, pc.Kind)
	assert.Equal(t, AudioPipelineName, pc.Name())
	assert.False(t, pc.Degraded)

	src, ok := pc.Graph.Stage(AudioSourceName)
	require.True(t, ok)
	assert.Equal(t, "openslessrc", src.Element.Factory())

	assert.Equal(t, []Link{
		{Kind: LinkStatic, Src: AudioSourceName, Sink: AudioConverterName},
		{Kind: LinkStatic, Src: AudioConverterName, Sink: AudioEncoderName},
		{Kind: LinkStatic, Src: AudioEncoderName, Sink: SinkName},
	}, pc.Graph.Links())
}

func TestPipelineBuilder_AudioFallsBackToTestSource(t *testing.T) {
	fw := NewSimulatedFramework(SimulatedOptions{Unavailable: []string{"openslessrc"}})
	builder := NewPipelineBuilder(fw, config.DefaultGStreamerConfig())

	var observed []bool
	builder.SetBuildObserver(func(kind MediaKind, degraded bool, elapsed time.Duration, err error) {
		assert.NoError(t, err)
		observed = append(observed, degraded)
	})

	pc, err := builder.Build(MediaAudio)
	require.NoError(t, err)
	assert.True(t, pc.Degraded)

	src, ok := pc.Graph.Stage(AudioSourceName)
	require.True(t, ok)
	assert.Equal(t, "audiotestsrc", src.Element.Factory())
	assert.Equal(t, []bool{true}, observed)
}

func TestPipelineBuilder_Failures(t *testing.T) {
	tests := []struct {
		name string
		opts SimulatedOptions
		kind MediaKind
		want error
	}{
		{
			name: "missing video encoder",
			opts: SimulatedOptions{Unavailable: []string{"openh264enc"}},
			kind: MediaVideo,
			want: ErrUnavailableStageKind,
		},
		{
			name: "missing network sink",
			opts: SimulatedOptions{Unavailable: []string{"udpsink"}},
			kind: MediaAudio,
			want: ErrUnavailableStageKind,
		},
		{
			name: "both audio sources missing",
			opts: SimulatedOptions{Unavailable: []string{"openslessrc", "audiotestsrc"}},
			kind: MediaAudio,
			want: ErrUnavailableStageKind,
		},
		{
			name: "incompatible encoder output",
			opts: SimulatedOptions{IncompatibleLinks: []string{"speexenc->udpsink"}},
			kind: MediaAudio,
			want: ErrIncompatibleLink,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fw := NewSimulatedFramework(tt.opts)
			builder := NewPipelineBuilder(fw, config.DefaultGStreamerConfig())

			var observedErr error
			builder.SetBuildObserver(func(kind MediaKind, degraded bool, elapsed time.Duration, err error) {
				observedErr = err
			})

			pc, err := builder.Build(tt.kind)
			require.Error(t, err)
			assert.Nil(t, pc)
			assert.True(t, errors.Is(err, ErrGraphConstructionFailed))
			assert.True(t, errors.Is(err, tt.want))
			assert.Error(t, observedErr)

			name := VideoPipelineName
			if tt.kind == MediaAudio {
				name = AudioPipelineName
			}
			pipelines := fw.Pipelines(name)
			require.Len(t, pipelines, 1)
			assert.True(t, pipelines[0].Closed(), "partial graph must be released")
		})
	}
}

func TestPipelineContext_Configure(t *testing.T) {
	fw := NewSimulatedFramework(DefaultSimulatedOptions())
	pc, err := NewPipelineBuilder(fw, nil).BuildAudioGraph()
	require.NoError(t, err)

	require.NoError(t, pc.Configure("10.0.0.2", 5001))

	host, err := pc.Sink.GetProperty("host")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", host)
	port, err := pc.Sink.GetProperty("port")
	require.NoError(t, err)
	assert.Equal(t, 5001, port)
}

func TestPipelineContext_FaultFlag(t *testing.T) {
	pc := &PipelineContext{}
	assert.False(t, pc.Faulted())
	assert.True(t, pc.MarkFaulted())
	assert.False(t, pc.MarkFaulted())
	assert.True(t, pc.Faulted())
	pc.ClearFault()
	assert.False(t, pc.Faulted())
}
