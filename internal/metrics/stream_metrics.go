package metrics

import (
	"fmt"
	"time"

	"github.com/open-beagle/gst-udpstream/internal/gstreamer"
)

// StreamMetrics 流水线相关指标
type StreamMetrics struct {
	builds        Counter
	buildDuration Histogram
	running       Gauge
	busMessages   Counter
	deferredLinks Counter
	notifications Counter
	bridgeSlots   Gauge
	workerState   Gauge
}

// NewStreamMetrics 在 m 上注册流水线指标
func NewStreamMetrics(m Metrics) (*StreamMetrics, error) {
	sm := &StreamMetrics{}
	var err error

	if sm.builds, err = m.RegisterCounter("pipeline_builds_total",
		"Pipeline graph construction attempts", []string{"kind", "result"}); err != nil {
		return nil, fmt.Errorf("failed to register pipeline_builds_total: %w", err)
	}
	if sm.buildDuration, err = m.RegisterHistogram("pipeline_build_duration_seconds",
		"Time spent constructing a pipeline graph", []string{"kind"},
		[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}); err != nil {
		return nil, fmt.Errorf("failed to register pipeline_build_duration_seconds: %w", err)
	}
	if sm.running, err = m.RegisterGauge("pipeline_running",
		"Whether the pipeline is streaming (1) or stopped (0)", []string{"kind"}); err != nil {
		return nil, fmt.Errorf("failed to register pipeline_running: %w", err)
	}
	if sm.busMessages, err = m.RegisterCounter("bus_messages_total",
		"Bus messages dispatched on the worker loop", []string{"kind", "type"}); err != nil {
		return nil, fmt.Errorf("failed to register bus_messages_total: %w", err)
	}
	if sm.deferredLinks, err = m.RegisterCounter("deferred_links_total",
		"Dynamic pads linked after activation", []string{"kind", "result"}); err != nil {
		return nil, fmt.Errorf("failed to register deferred_links_total: %w", err)
	}
	if sm.notifications, err = m.RegisterCounter("host_notifications_total",
		"Notifications delivered to the host", []string{"entry", "result"}); err != nil {
		return nil, fmt.Errorf("failed to register host_notifications_total: %w", err)
	}
	if sm.bridgeSlots, err = m.RegisterGauge("bridge_slots",
		"Execution contexts attached to the host runtime", nil); err != nil {
		return nil, fmt.Errorf("failed to register bridge_slots: %w", err)
	}
	if sm.workerState, err = m.RegisterGauge("worker_state",
		"Worker loop state (0 idle, 1 starting, 2 running, 3 stopping)", nil); err != nil {
		return nil, fmt.Errorf("failed to register worker_state: %w", err)
	}

	return sm, nil
}

// ObserveBuild 记录一次构建结果和耗时
func (sm *StreamMetrics) ObserveBuild(kind gstreamer.MediaKind, degraded bool, elapsed time.Duration, err error) {
	result := "success"
	switch {
	case err != nil:
		result = "failed"
	case degraded:
		result = "degraded"
	}
	sm.builds.Inc(kind.String(), result)
	sm.buildDuration.Observe(elapsed.Seconds(), kind.String())
}

func (sm *StreamMetrics) SetRunning(kind gstreamer.MediaKind, running bool) {
	value := 0.0
	if running {
		value = 1
	}
	sm.running.Set(value, kind.String())
}

func (sm *StreamMetrics) ObserveBusMessage(kind gstreamer.MediaKind, msgType gstreamer.MessageType) {
	sm.busMessages.Inc(kind.String(), msgType.String())
}

func (sm *StreamMetrics) ObserveDeferredLink(kind gstreamer.MediaKind, err error) {
	sm.deferredLinks.Inc(kind.String(), resultLabel(err))
}

func (sm *StreamMetrics) ObserveNotification(entry string, err error) {
	sm.notifications.Inc(entry, resultLabel(err))
}

func (sm *StreamMetrics) SetBridgeSlots(live int) {
	sm.bridgeSlots.Set(float64(live))
}

func (sm *StreamMetrics) SetWorkerState(state gstreamer.WorkerState) {
	sm.workerState.Set(float64(state))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
