package webserver

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/config"
)

// Host is the notification target bound to the native layer. It keeps the
// last status text and forwards every notification to the event stream.
type Host struct {
	// NativeCustomData holds the component state while initialized.
	NativeCustomData interface{} `native:"custom_data"`

	events *EventHub
	logger *logrus.Entry

	mu          sync.RWMutex
	lastMessage string
	messages    int
	initialized bool
}

// NewHost creates a host that publishes to events. A nil hub only logs.
func NewHost(events *EventHub) *Host {
	return &Host{
		events: events,
		logger: config.GetLoggerWithPrefix("host"),
	}
}

// SetMessage receives status text.
func (h *Host) SetMessage(message string) {
	h.mu.Lock()
	h.lastMessage = message
	h.messages++
	h.mu.Unlock()

	h.logger.Infof("Status: %s", message)
	h.publish(Event{Type: EventMessage, Message: message})
}

// OnGStreamerInitialized is called once the worker loop is ready.
func (h *Host) OnGStreamerInitialized() {
	h.mu.Lock()
	h.initialized = true
	h.mu.Unlock()

	h.logger.Info("Pipeline worker initialized")
	h.publish(Event{Type: EventInitialized})
}

func (h *Host) publish(event Event) {
	if h.events == nil {
		return
	}
	if err := h.events.Broadcast(event); err != nil {
		h.logger.Warnf("Failed to publish %s event: %v", event.Type, err)
	}
}

// LastMessage returns the most recent status text.
func (h *Host) LastMessage() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastMessage
}

// Messages returns how many status texts were received.
func (h *Host) Messages() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.messages
}

// Initialized reports whether the initialized signal was received.
func (h *Host) Initialized() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.initialized
}

// Events returns the event stream, or nil.
func (h *Host) Events() *EventHub {
	return h.events
}
