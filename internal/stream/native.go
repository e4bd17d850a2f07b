package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/bridge"
	"github.com/open-beagle/gst-udpstream/internal/config"
	"github.com/open-beagle/gst-udpstream/internal/gstreamer"
)

var (
	ErrClassNotBound      = errors.New("stream: ClassInit has not bound a target class")
	ErrAlreadyInitialized = errors.New("stream: a target is already initialized")
)

// component is the state stored in the target's backing field.
type component struct {
	id       string
	finalize sync.Once
}

// Native is the host boundary. The host calls ClassInit once, then Init,
// any number of StreamStart/StreamStop, and Finalize.
type Native struct {
	bridge     *bridge.Bridge
	worker     *gstreamer.WorkerLoop
	dispatcher *gstreamer.BusDispatcher
	builder    *gstreamer.PipelineBuilder
	controller *Controller
	logger     *logrus.Entry

	mu     sync.Mutex
	class  *bridge.Class
	target interface{}
}

// NewNative wires the worker, bus dispatcher and controller over framework.
func NewNative(framework gstreamer.Framework, cfg *config.GStreamerConfig, b *bridge.Bridge) *Native {
	n := &Native{
		bridge: b,
		logger: logrus.WithField("component", "native"),
	}

	n.worker = gstreamer.NewWorkerLoop(framework, b)
	n.worker.SetReadinessCheck(func() bool {
		return n.currentTarget() != nil
	})
	n.worker.OnReady(func(ctx context.Context) {
		n.logger.Debug("Initialization complete, notifying host")
		n.bridge.NotifySignal(ctx, n.currentTarget(), bridge.MethodOnInitialized)
	})

	n.dispatcher = gstreamer.NewBusDispatcher(n.worker, hostNotifier{n})

	n.builder = gstreamer.NewPipelineBuilder(framework, cfg)
	n.builder.SetScopeRunner(b.Scoped)

	n.controller = NewController(n.builder, n.dispatcher)

	// Runs after the dispatcher's own error handler has marked pc faulted.
	n.dispatcher.AddMessageHandler(gstreamer.MessageError,
		func(ctx context.Context, pc *gstreamer.PipelineContext, msg *gstreamer.Message) bool {
			n.controller.PipelineFaulted(pc)
			return true
		})
	return n
}

// ClassInit binds the entry points of target's class.
func (n *Native) ClassInit(target interface{}) bool {
	class, err := bridge.ResolveClass(target)
	if err != nil {
		return false
	}
	n.mu.Lock()
	n.class = class
	n.mu.Unlock()
	return true
}

// Init stores the component state in target and starts the worker.
func (n *Native) Init(target interface{}) error {
	n.mu.Lock()
	if n.class == nil {
		n.mu.Unlock()
		return ErrClassNotBound
	}
	if n.target != nil {
		n.mu.Unlock()
		return ErrAlreadyInitialized
	}
	comp := &component{id: uuid.NewString()}
	if err := n.class.SetData(target, comp); err != nil {
		n.mu.Unlock()
		return err
	}
	n.target = target
	n.mu.Unlock()

	n.logger.Debugf("Created component state %s", comp.id)
	if err := n.worker.Start(context.Background()); err != nil {
		n.mu.Lock()
		n.target = nil
		_ = n.class.SetData(target, nil)
		n.mu.Unlock()
		return err
	}
	return nil
}

// Finalize stops streaming, quits and joins the worker, and releases target.
// It is a no-op for a target that holds no component state. Concurrent calls
// for the same target wait for the first one to finish.
func (n *Native) Finalize(target interface{}) {
	n.mu.Lock()
	if n.class == nil {
		n.mu.Unlock()
		return
	}
	data, err := n.class.Data(target)
	n.mu.Unlock()
	if err != nil || data == nil {
		return
	}
	comp, ok := data.(*component)
	if !ok {
		return
	}

	comp.finalize.Do(func() {
		if err := n.controller.StopAll(); err != nil {
			n.logger.Warnf("Failed to stop pipelines: %v", err)
		}

		n.logger.Debug("Quitting main loop")
		_ = n.worker.Stop()
		n.dispatcher.DetachAll()

		n.mu.Lock()
		if n.target == target {
			n.target = nil
		}
		_ = n.class.SetData(target, nil)
		n.mu.Unlock()
		n.logger.Debugf("Released component state %s", comp.id)
	})
}

// StreamStart starts video towards the address carried by b0..b3.
func (n *Native) StreamStart(target interface{}, b0, b1, b2, b3 int8) error {
	addr := DecodeAddress(b0, b1, b2, b3)
	n.logger.Infof("Receiver IP: %s", addr)
	if err := n.controller.StartVideo(addr.String()); err != nil {
		n.logger.Errorf("stream_start: NOT OK: %v", err)
		return err
	}
	return nil
}

// StreamStop stops video.
func (n *Native) StreamStop(target interface{}) error {
	return n.controller.StopVideo()
}

// AudioStart starts audio towards the address carried by b0..b3.
func (n *Native) AudioStart(target interface{}, b0, b1, b2, b3 int8) error {
	return n.controller.StartAudio(DecodeAddress(b0, b1, b2, b3).String())
}

// AudioStop stops audio.
func (n *Native) AudioStop(target interface{}) error {
	return n.controller.StopAudio()
}

func (n *Native) Controller() *Controller              { return n.controller }
func (n *Native) Worker() *gstreamer.WorkerLoop        { return n.worker }
func (n *Native) Dispatcher() *gstreamer.BusDispatcher { return n.dispatcher }
func (n *Native) Builder() *gstreamer.PipelineBuilder  { return n.builder }

// Initialized reports whether a target is bound and the worker has reported
// ready.
func (n *Native) Initialized() bool {
	return n.currentTarget() != nil && n.worker.Initialized()
}

func (n *Native) currentTarget() interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target
}

type hostNotifier struct {
	native *Native
}

func (h hostNotifier) NotifyStatus(ctx context.Context, message string) {
	h.native.bridge.NotifyText(ctx, h.native.currentTarget(), message)
}
