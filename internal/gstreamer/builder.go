package gstreamer

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/config"
)

// Pipeline and element names used by the two graphs.
const (
	VideoPipelineName = "pipeline"
	AudioPipelineName = "pipeline-audio"

	VideoSourceName    = "ahcsrc"
	VideoQueueName     = "srcqueue"
	VideoFilterName    = "capsfilter"
	VideoConverterName = "videoconvert"
	VideoEncoderName   = "encoder"

	AudioSourceName    = "audiosource"
	AudioConverterName = "audio-convert"
	AudioEncoderName   = "audio-encoder"

	SinkName = "sink"
)

// PipelineContext is a built graph together with its runtime flags. It is
// created once per media kind and reused by every later start.
type PipelineContext struct {
	Kind  MediaKind
	Graph *ElementGraph
	Sink  Element

	// Degraded is set when the audio graph fell back to the test source.
	Degraded bool

	faulted atomic.Bool
}

// Pipeline returns the underlying pipeline.
func (pc *PipelineContext) Pipeline() Pipeline {
	return pc.Graph.Pipeline()
}

// Name returns the pipeline name.
func (pc *PipelineContext) Name() string {
	return pc.Graph.Pipeline().Name()
}

// MarkFaulted flags the context as faulted. It returns true only for the
// call that set the flag.
func (pc *PipelineContext) MarkFaulted() bool {
	return pc.faulted.CompareAndSwap(false, true)
}

// Faulted reports whether a bus error tore the pipeline down.
func (pc *PipelineContext) Faulted() bool {
	return pc.faulted.Load()
}

// ClearFault resets the fault flag after a successful restart.
func (pc *PipelineContext) ClearFault() {
	pc.faulted.Store(false)
}

// Configure points the network sink at host:port.
func (pc *PipelineContext) Configure(host string, port int) error {
	if err := pc.Graph.SetProperty(SinkName, "host", host); err != nil {
		return err
	}
	return pc.Graph.SetProperty(SinkName, "port", port)
}

// BuildObserver is notified of every build attempt.
type BuildObserver func(kind MediaKind, degraded bool, elapsed time.Duration, err error)

// PipelineBuilder assembles the fixed video and audio graphs.
type PipelineBuilder struct {
	framework Framework
	config    *config.GStreamerConfig
	logger    *logrus.Entry

	scope      ScopeRunner
	onDeferred func(kind MediaKind, src, sink, pad string, err error)
	observer   BuildObserver
}

// NewPipelineBuilder creates a builder over the given framework.
func NewPipelineBuilder(framework Framework, cfg *config.GStreamerConfig) *PipelineBuilder {
	if cfg == nil {
		cfg = config.DefaultGStreamerConfig()
	}
	return &PipelineBuilder{
		framework: framework,
		config:    cfg,
		logger:    logrus.WithField("component", "pipeline-builder"),
	}
}

// SetScopeRunner sets the runner graphs use for pad announcements.
func (b *PipelineBuilder) SetScopeRunner(runner ScopeRunner) {
	b.scope = runner
}

// SetDeferredLinkHandler sets the handler called when a deferred link resolves.
func (b *PipelineBuilder) SetDeferredLinkHandler(handler func(kind MediaKind, src, sink, pad string, err error)) {
	b.onDeferred = handler
}

// SetBuildObserver sets the observer notified after each build attempt.
func (b *PipelineBuilder) SetBuildObserver(observer BuildObserver) {
	b.observer = observer
}

// Build builds the graph for the given kind.
func (b *PipelineBuilder) Build(kind MediaKind) (*PipelineContext, error) {
	if kind == MediaAudio {
		return b.BuildAudioGraph()
	}
	return b.BuildVideoGraph()
}

// BuildVideoGraph builds capture -> queue -> capsfilter -> videoconvert ->
// encoder -> udpsink. The capture source is linked once it announces its pad.
func (b *PipelineBuilder) BuildVideoGraph() (*PipelineContext, error) {
	return b.build(MediaVideo, VideoPipelineName, func(g *ElementGraph) (bool, error) {
		cfg := b.config.Video

		stages := []struct {
			kind    StageKind
			factory string
			name    string
		}{
			{StageCaptureSource, cfg.Source, VideoSourceName},
			{StageQueue, "queue", VideoQueueName},
			{StageFormatFilter, "capsfilter", VideoFilterName},
			{StageConverter, "videoconvert", VideoConverterName},
			{StageEncoder, cfg.Encoder, VideoEncoderName},
			{StageNetworkSink, "udpsink", SinkName},
		}
		for _, s := range stages {
			if _, err := g.CreateElement(s.kind, s.factory, s.name); err != nil {
				return false, err
			}
		}

		if err := g.SetProperty(VideoFilterName, "caps", Caps(b.config.VideoCaps())); err != nil {
			return false, err
		}

		if err := g.LinkMany(VideoQueueName, VideoFilterName, VideoConverterName, VideoEncoderName, SinkName); err != nil {
			return false, err
		}

		return false, g.RegisterDeferredLink(VideoSourceName, VideoQueueName)
	})
}

// BuildAudioGraph builds capture -> audioconvert -> encoder -> udpsink. When
// the primary capture factory is unavailable the fallback source is used.
func (b *PipelineBuilder) BuildAudioGraph() (*PipelineContext, error) {
	return b.build(MediaAudio, AudioPipelineName, func(g *ElementGraph) (bool, error) {
		cfg := b.config.Audio
		degraded := false

		if _, err := g.CreateElement(StageCaptureSource, cfg.Source, AudioSourceName); err != nil {
			if !errors.Is(err, ErrUnavailableStageKind) || cfg.FallbackSource == "" {
				return false, err
			}
			b.logger.Warnf("Audio source %s unavailable, falling back to %s: %v", cfg.Source, cfg.FallbackSource, err)
			if _, err := g.CreateElement(StageCaptureSource, cfg.FallbackSource, AudioSourceName); err != nil {
				return false, err
			}
			degraded = true
		}

		if _, err := g.CreateElement(StageConverter, "audioconvert", AudioConverterName); err != nil {
			return degraded, err
		}
		if _, err := g.CreateElement(StageEncoder, cfg.Encoder, AudioEncoderName); err != nil {
			return degraded, err
		}
		if _, err := g.CreateElement(StageNetworkSink, "udpsink", SinkName); err != nil {
			return degraded, err
		}

		return degraded, g.LinkMany(AudioSourceName, AudioConverterName, AudioEncoderName, SinkName)
	})
}

func (b *PipelineBuilder) build(kind MediaKind, name string, assemble func(g *ElementGraph) (bool, error)) (*PipelineContext, error) {
	b.logger.Infof("Building %s pipeline %s on %s", kind, name, b.framework.Name())
	start := time.Now()

	pipeline, err := b.framework.NewPipeline(name)
	if err != nil {
		err = NewPipelineError(ErrorTypePipelineCreation, "pipeline-builder", "build",
			fmt.Sprintf("failed to create pipeline %s", name), err)
		return nil, b.fail(kind, nil, start, err)
	}

	graph := NewElementGraph(kind, pipeline)
	if b.scope != nil {
		graph.SetScopeRunner(b.scope)
	}
	if b.onDeferred != nil {
		handler := b.onDeferred
		graph.OnDeferredLink(func(src, sink, pad string, err error) {
			handler(kind, src, sink, pad, err)
		})
	}

	degraded, err := assemble(graph)
	if err != nil {
		return nil, b.fail(kind, graph, start, err)
	}

	sink, _ := graph.StageOf(StageNetworkSink)
	pc := &PipelineContext{
		Kind:     kind,
		Graph:    graph,
		Sink:     sink.Element,
		Degraded: degraded,
	}

	b.logger.Infof("%s pipeline %s built with %d stages (degraded: %v)", kind, name, len(graph.Stages()), degraded)
	if b.observer != nil {
		b.observer(kind, degraded, time.Since(start), nil)
	}
	return pc, nil
}

func (b *PipelineBuilder) fail(kind MediaKind, graph *ElementGraph, start time.Time, cause error) error {
	if graph != nil {
		if err := graph.Close(); err != nil {
			b.logger.Warnf("Failed to release partial %s pipeline: %v", kind, err)
		}
	}

	b.logger.Errorf("Failed to build %s pipeline: %v", kind, cause)
	if b.observer != nil {
		b.observer(kind, false, time.Since(start), cause)
	}
	return fmt.Errorf("%w (%s): %w", ErrGraphConstructionFailed, kind, cause)
}
