package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/bridge"
	"github.com/open-beagle/gst-udpstream/internal/config"
	"github.com/open-beagle/gst-udpstream/internal/gstreamer"
	"github.com/open-beagle/gst-udpstream/internal/stream"
)

// Manager 监控组件管理器
// 内部指标始终采集，外部 Prometheus 端口按配置暴露
type Manager struct {
	config  *config.MetricsConfig
	metrics Metrics
	stream  *StreamMetrics
	logger  *logrus.Entry

	mutex     sync.RWMutex
	running   bool
	startTime time.Time
}

// NewManager 创建新的监控管理器
func NewManager(cfg *config.MetricsConfig) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("metrics config cannot be nil")
	}

	m, err := NewMetrics(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	sm, err := NewStreamMetrics(m)
	if err != nil {
		return nil, err
	}

	return &Manager{
		config:  cfg,
		metrics: m,
		stream:  sm,
		logger:  logrus.WithField("component", "metrics-manager"),
	}, nil
}

// Bind 将流水线组件的观察回调接到指标上
func (m *Manager) Bind(native *stream.Native, b *bridge.Bridge) {
	sm := m.stream

	native.Builder().SetBuildObserver(sm.ObserveBuild)
	native.Builder().SetDeferredLinkHandler(func(kind gstreamer.MediaKind, src, sink, pad string, err error) {
		sm.ObserveDeferredLink(kind, err)
	})
	native.Controller().SetObserver(sm.SetRunning)
	native.Dispatcher().SetObserver(sm.ObserveBusMessage)
	native.Worker().SetObserver(sm.SetWorkerState)

	b.SetSlotObserver(sm.SetBridgeSlots)
	b.SetNotifyObserver(sm.ObserveNotification)

	for _, kind := range []gstreamer.MediaKind{gstreamer.MediaVideo, gstreamer.MediaAudio} {
		sm.SetRunning(kind, false)
	}
	sm.SetWorkerState(native.Worker().State())
	sm.SetBridgeSlots(b.Slots())
}

// Start 启动监控管理器
func (m *Manager) Start() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.running {
		return ErrServerAlreadyRunning
	}

	if m.config.External.Enabled {
		if err := m.metrics.Start(); err != nil {
			return fmt.Errorf("failed to start external metrics server: %w", err)
		}
	} else {
		m.logger.Info("External metrics disabled, metrics are served by the control server only")
	}

	m.running = true
	m.startTime = time.Now()
	return nil
}

// Stop 停止监控管理器
func (m *Manager) Stop() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	if m.metrics.IsRunning() {
		if err := m.metrics.Stop(); err != nil {
			return fmt.Errorf("failed to stop external metrics server: %w", err)
		}
	}
	m.logger.Info("Metrics manager stopped")
	return nil
}

// IsRunning 检查监控管理器是否正在运行
func (m *Manager) IsRunning() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.running
}

// GetStats 获取监控管理器的统计信息
func (m *Manager) GetStats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stats := map[string]interface{}{
		"running":          m.running,
		"external_enabled": m.config.External.Enabled,
		"external_running": m.metrics.IsRunning(),
	}
	if m.running {
		stats["uptime"] = time.Since(m.startTime).Seconds()
	}
	return stats
}

// SetupRoutes 在控制服务器上注册指标路由
func (m *Manager) SetupRoutes(router *mux.Router) error {
	router.Handle("/metrics", m.metrics.Handler()).Methods("GET")
	router.HandleFunc("/api/v1/metrics/status", m.handleMetricsStatus).Methods("GET")
	return nil
}

func (m *Manager) handleMetricsStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.GetStats()); err != nil {
		m.logger.Errorf("Failed to encode metrics status: %v", err)
	}
}

// GetMetrics 获取监控实例
func (m *Manager) GetMetrics() Metrics {
	return m.metrics
}

// StreamMetrics 获取流水线指标
func (m *Manager) StreamMetrics() *StreamMetrics {
	return m.stream
}
