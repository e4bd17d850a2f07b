package stream

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/config"
	"github.com/open-beagle/gst-udpstream/internal/gstreamer"
)

// ConstructionState records whether a slot holds a built graph.
type ConstructionState int

const (
	Unbuilt ConstructionState = iota
	Built
)

func (s ConstructionState) String() string {
	if s == Built {
		return "built"
	}
	return "unbuilt"
}

// BusAttacher subscribes to the bus of a built pipeline.
type BusAttacher interface {
	Attach(pc *gstreamer.PipelineContext) error
}

// slot owns the pipeline of one media kind.
type slot struct {
	kind gstreamer.MediaKind
	port int

	mu      sync.Mutex
	state   ConstructionState
	pc      *gstreamer.PipelineContext
	running bool
	host    string
	builds  int
}

// Controller starts and stops the video and audio pipelines. Each pipeline
// is built on its first start and reused afterwards. Calls on the same
// media kind are serialized.
type Controller struct {
	builder *gstreamer.PipelineBuilder
	bus     BusAttacher
	logger  *logrus.Entry

	video *slot
	audio *slot

	observerMu sync.RWMutex
	observer   func(kind gstreamer.MediaKind, running bool)
}

// NewController creates a controller. bus may be nil.
func NewController(builder *gstreamer.PipelineBuilder, bus BusAttacher) *Controller {
	return &Controller{
		builder: builder,
		bus:     bus,
		logger:  logrus.WithField("component", "stream-controller"),
		video:   &slot{kind: gstreamer.MediaVideo, port: config.VideoPort},
		audio:   &slot{kind: gstreamer.MediaAudio, port: config.AudioPort},
	}
}

// SetObserver sets a callback invoked whenever a pipeline starts or stops.
func (c *Controller) SetObserver(observer func(kind gstreamer.MediaKind, running bool)) {
	c.observerMu.Lock()
	defer c.observerMu.Unlock()
	c.observer = observer
}

// StartVideo streams video to host.
func (c *Controller) StartVideo(host string) error { return c.start(c.video, host) }

// StopVideo stops the video pipeline.
func (c *Controller) StopVideo() error { return c.stop(c.video) }

// StartAudio streams audio to host.
func (c *Controller) StartAudio(host string) error { return c.start(c.audio, host) }

// StopAudio stops the audio pipeline.
func (c *Controller) StopAudio() error { return c.stop(c.audio) }

// StopAll stops both pipelines, returning the first error.
func (c *Controller) StopAll() error {
	videoErr := c.StopVideo()
	audioErr := c.StopAudio()
	if videoErr != nil {
		return videoErr
	}
	return audioErr
}

// VideoRunning reports whether video is streaming.
func (c *Controller) VideoRunning() bool { return c.video.isRunning() }

// AudioRunning reports whether audio is streaming.
func (c *Controller) AudioRunning() bool { return c.audio.isRunning() }

// Pipeline returns the built pipeline of kind, or nil.
func (c *Controller) Pipeline(kind gstreamer.MediaKind) *gstreamer.PipelineContext {
	s := c.slot(kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc
}

// Builds returns how many times the graph of kind was built.
func (c *Controller) Builds(kind gstreamer.MediaKind) int {
	s := c.slot(kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builds
}

// State returns the construction state of kind.
func (c *Controller) State(kind gstreamer.MediaKind) ConstructionState {
	s := c.slot(kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Destination returns the host the pipeline of kind was last pointed at,
// and its port.
func (c *Controller) Destination(kind gstreamer.MediaKind) (string, int) {
	s := c.slot(kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host, s.port
}

func (c *Controller) slot(kind gstreamer.MediaKind) *slot {
	if kind == gstreamer.MediaAudio {
		return c.audio
	}
	return c.video
}

func (c *Controller) start(s *slot, host string) error {
	if host == "" {
		return fmt.Errorf("empty destination host for %s stream", s.kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Unbuilt {
		pc, err := c.builder.Build(s.kind)
		if err != nil {
			return err
		}
		s.pc = pc
		s.state = Built
		s.builds++
	}

	if c.bus != nil {
		if err := c.bus.Attach(s.pc); err != nil {
			c.logger.Warnf("Failed to watch %s bus: %v", s.kind, err)
		}
	}

	if err := s.pc.Configure(host, s.port); err != nil {
		return err
	}
	s.host = host
	s.pc.ClearFault()

	if err := s.pc.Pipeline().SetState(gstreamer.PipelineStatePlaying); err != nil {
		s.running = false
		return gstreamer.NewPipelineError(gstreamer.ErrorTypePipelineState, "stream-controller", "start",
			fmt.Sprintf("failed to start %s pipeline", s.kind), err)
	}

	s.running = true
	c.logger.Infof("%s pipeline playing, sending to %s:%d", s.kind, host, s.port)
	c.notify(s.kind, true)
	return nil
}

func (c *Controller) stop(s *slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Unbuilt {
		return nil
	}

	pipeline := s.pc.Pipeline()
	if pipeline.CurrentState() == gstreamer.PipelineStateNull {
		if s.running {
			s.running = false
			c.notify(s.kind, false)
		}
		return nil
	}

	if err := pipeline.SetState(gstreamer.PipelineStatePaused); err != nil {
		return gstreamer.NewPipelineError(gstreamer.ErrorTypePipelineState, "stream-controller", "stop",
			fmt.Sprintf("failed to pause %s pipeline", s.kind), err)
	}
	c.logger.Debugf("%s pipeline paused", s.kind)

	if err := pipeline.SetState(gstreamer.PipelineStateNull); err != nil {
		return gstreamer.NewPipelineError(gstreamer.ErrorTypePipelineState, "stream-controller", "stop",
			fmt.Sprintf("failed to stop %s pipeline", s.kind), err)
	}

	s.running = false
	c.logger.Infof("%s pipeline stopped", s.kind)
	c.notify(s.kind, false)
	return nil
}

// PipelineFaulted records that a bus error tore pc down. The slot owning pc
// stops reporting as running and the observer is told once.
func (c *Controller) PipelineFaulted(pc *gstreamer.PipelineContext) {
	if pc == nil {
		return
	}
	s := c.slot(pc.Kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc != pc || !s.running || !pc.Faulted() {
		return
	}
	s.running = false
	c.logger.Warnf("%s pipeline faulted", s.kind)
	c.notify(s.kind, false)
}

func (s *slot) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.pc != nil && !s.pc.Faulted()
}

func (c *Controller) notify(kind gstreamer.MediaKind, running bool) {
	c.observerMu.RLock()
	observer := c.observer
	c.observerMu.RUnlock()
	if observer != nil {
		observer(kind, running)
	}
}
