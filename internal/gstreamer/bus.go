package gstreamer

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// StatusNotifier delivers status text to the host. Implementations must
// absorb host-side failures.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, message string)
}

// MessageHandler handles one bus message. Returning false stops the
// remaining handlers for that message.
type MessageHandler func(ctx context.Context, pc *PipelineContext, msg *Message) bool

// BusDispatcher routes bus messages of attached pipelines to handlers
// running on the worker goroutine.
type BusDispatcher struct {
	worker   *WorkerLoop
	notifier StatusNotifier
	logger   *logrus.Entry

	mu       sync.RWMutex
	handlers map[MessageType][]MessageHandler
	attached map[string]*PipelineContext
	pending  map[string]*PipelineContext
	observer func(kind MediaKind, msgType MessageType)
}

// NewBusDispatcher creates a dispatcher with the error and state-change
// handlers installed.
func NewBusDispatcher(worker *WorkerLoop, notifier StatusNotifier) *BusDispatcher {
	d := &BusDispatcher{
		worker:   worker,
		notifier: notifier,
		logger:   logrus.WithField("component", "bus"),
		handlers: make(map[MessageType][]MessageHandler),
		attached: make(map[string]*PipelineContext),
		pending:  make(map[string]*PipelineContext),
	}

	d.AddMessageHandler(MessageError, d.handleError)
	d.AddMessageHandler(MessageStateChanged, d.handleStateChanged)
	d.AddDefaultHandlers()

	worker.OnReady(func(ctx context.Context) {
		d.attachPending()
	})
	return d
}

// SetObserver sets a callback invoked for every dispatched message.
func (d *BusDispatcher) SetObserver(observer func(kind MediaKind, msgType MessageType)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = observer
}

// AddMessageHandler adds a handler for specific message types
func (d *BusDispatcher) AddMessageHandler(messageType MessageType, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[messageType] = append(d.handlers[messageType], handler)
	d.logger.Debugf("Added message handler for type: %s", messageType)
}

// AddDefaultHandlers logs warnings and end-of-stream.
func (d *BusDispatcher) AddDefaultHandlers() {
	d.AddMessageHandler(MessageWarning, func(ctx context.Context, pc *PipelineContext, msg *Message) bool {
		d.logger.Warnf("Pipeline warning from %s: %s", sourceName(msg), errorText(msg.Err))
		return true
	})

	d.AddMessageHandler(MessageEOS, func(ctx context.Context, pc *PipelineContext, msg *Message) bool {
		d.logger.Infof("End of stream received from %s", sourceName(msg))
		return true
	})
}

// Attach subscribes to the bus of pc. If the worker loop does not exist yet
// the subscription is made once the worker reports ready.
func (d *BusDispatcher) Attach(pc *PipelineContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := pc.Name()
	if _, ok := d.attached[name]; ok {
		return nil
	}

	loop := d.worker.Loop()
	if loop == nil {
		d.pending[name] = pc
		d.logger.Debugf("Worker loop not ready, deferring bus watch for %s", name)
		return nil
	}
	return d.watchLocked(loop, pc)
}

func (d *BusDispatcher) watchLocked(loop MainLoop, pc *PipelineContext) error {
	err := pc.Pipeline().Watch(loop, func(msg *Message) {
		d.handleMessage(pc, msg)
	})
	if err != nil {
		return NewPipelineError(ErrorTypePipelineState, "bus", "attach",
			fmt.Sprintf("failed to watch bus of %s", pc.Name()), err)
	}
	d.attached[pc.Name()] = pc
	delete(d.pending, pc.Name())
	d.logger.Debugf("Watching bus of %s", pc.Name())
	return nil
}

func (d *BusDispatcher) attachPending() {
	d.mu.Lock()
	defer d.mu.Unlock()

	loop := d.worker.Loop()
	if loop == nil {
		return
	}
	for _, pc := range d.pending {
		if err := d.watchLocked(loop, pc); err != nil {
			d.logger.Errorf("Failed to attach pending bus: %v", err)
		}
	}
}

// Detach removes the bus subscription of pc.
func (d *BusDispatcher) Detach(pc *PipelineContext) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := pc.Name()
	delete(d.pending, name)
	if _, ok := d.attached[name]; !ok {
		return
	}
	pc.Pipeline().Unwatch()
	delete(d.attached, name)
	d.logger.Debugf("Stopped watching bus of %s", name)
}

// DetachAll removes every bus subscription.
func (d *BusDispatcher) DetachAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name, pc := range d.attached {
		pc.Pipeline().Unwatch()
		delete(d.attached, name)
	}
	for name := range d.pending {
		delete(d.pending, name)
	}
}

// Attached reports whether the named pipeline is being watched.
func (d *BusDispatcher) Attached(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.attached[name]
	return ok
}

// handleMessage dispatches a message to registered handlers
func (d *BusDispatcher) handleMessage(pc *PipelineContext, msg *Message) {
	d.mu.RLock()
	handlers := d.handlers[msg.Type]
	observer := d.observer
	d.mu.RUnlock()

	if observer != nil {
		observer(pc.Kind, msg.Type)
	}

	if len(handlers) == 0 {
		d.logger.Tracef("Unhandled message: %s from %s", msg.Type, sourceName(msg))
		return
	}

	ctx := d.worker.Context()
	for _, handler := range handlers {
		if handler != nil && !handler(ctx, pc, msg) {
			break
		}
	}
}

// handleError reports the first error of a pipeline instance to the host and
// tears the pipeline down. Later errors of the same fault are only logged.
func (d *BusDispatcher) handleError(ctx context.Context, pc *PipelineContext, msg *Message) bool {
	text := fmt.Sprintf("Error received from element %s: %s", sourceName(msg), errorText(msg.Err))
	d.logger.Errorf("%s (pipeline %s)", text, pc.Name())
	if msg.Debug != "" {
		d.logger.Debugf("Debugging information: %s", msg.Debug)
	}

	first := pc.MarkFaulted()

	if err := pc.Pipeline().SetState(PipelineStateNull); err != nil {
		d.logger.Errorf("Failed to tear down %s after error: %v", pc.Name(), err)
	}

	if !first {
		d.logger.Debugf("Suppressing notification for additional error on faulted pipeline %s", pc.Name())
		return true
	}

	if d.notifier != nil {
		d.notifier.NotifyStatus(ctx, text)
	}
	return true
}

// handleStateChanged only surfaces transitions of the top-level pipeline.
func (d *BusDispatcher) handleStateChanged(ctx context.Context, pc *PipelineContext, msg *Message) bool {
	if !msg.FromPipeline {
		d.logger.Tracef("State of %s changed %s -> %s", sourceName(msg), msg.OldState, msg.NewState)
		return true
	}

	text := fmt.Sprintf("State changed to %s", msg.NewState)
	d.logger.Infof("%s (pipeline %s)", text, pc.Name())
	if d.notifier != nil {
		d.notifier.NotifyStatus(ctx, text)
	}
	return true
}

func sourceName(msg *Message) string {
	if msg.Source == "" {
		return "unknown"
	}
	return msg.Source
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
