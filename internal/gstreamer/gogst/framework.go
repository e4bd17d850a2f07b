// Package gogst implements the gstreamer.Framework interfaces on top of the
// go-gst bindings.
package gogst

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-gst/go-glib/glib"
	"github.com/go-gst/go-gst/gst"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/gstreamer"
)

var initOnce sync.Once

// Framework is the native GStreamer backend. gst.Init runs once per process,
// so GST_DEBUG must be configured before the first New.
type Framework struct {
	logger *logrus.Entry
}

// New initializes GStreamer and returns the backend.
func New() *Framework {
	logger := logrus.WithField("component", "gogst")
	initOnce.Do(func() {
		gst.Init(nil)
		logger.Info("GStreamer initialized")
	})
	return &Framework{logger: logger}
}

func (f *Framework) Name() string { return "gstreamer" }

func (f *Framework) NewPipeline(name string) (gstreamer.Pipeline, error) {
	p, err := gst.NewPipeline(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline %s: %w", name, err)
	}
	return &pipeline{
		name:     name,
		pipeline: p,
		logger:   f.logger.WithField("pipeline", name),
	}, nil
}

func (f *Framework) NewMainLoop() (gstreamer.MainLoop, error) {
	loop := glib.NewMainLoop(glib.MainContextDefault(), false)
	if loop == nil {
		return nil, fmt.Errorf("failed to create main loop")
	}
	return &mainLoop{loop: loop}, nil
}

// mainLoop runs on the default main context, which is also where bus
// watches are dispatched.
type mainLoop struct {
	loop    *glib.MainLoop
	running atomic.Bool
}

func (l *mainLoop) Run(onStarted func()) {
	glib.IdleAdd(func() bool {
		l.running.Store(true)
		if onStarted != nil {
			onStarted()
		}
		return false
	})
	l.loop.Run()
	l.running.Store(false)
}

func (l *mainLoop) Quit() {
	l.loop.Quit()
}

func (l *mainLoop) IsRunning() bool {
	return l.running.Load()
}

func (l *mainLoop) Invoke(fn func()) {
	glib.IdleAdd(func() bool {
		fn()
		return false
	})
}

func toGstState(state gstreamer.PipelineState) gst.State {
	switch state {
	case gstreamer.PipelineStateReady:
		return gst.StateReady
	case gstreamer.PipelineStatePaused:
		return gst.StatePaused
	case gstreamer.PipelineStatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}

func fromGstState(state gst.State) gstreamer.PipelineState {
	switch state {
	case gst.StateReady:
		return gstreamer.PipelineStateReady
	case gst.StatePaused:
		return gstreamer.PipelineStatePaused
	case gst.StatePlaying:
		return gstreamer.PipelineStatePlaying
	default:
		return gstreamer.PipelineStateNull
	}
}
