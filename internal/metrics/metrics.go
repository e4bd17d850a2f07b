package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/config"
)

// Namespace 所有指标的前缀
const Namespace = "gst_udpstream"

// Metrics 监控接口
type Metrics interface {
	// Start 启动外部监控服务（未启用时不做任何事）
	Start() error

	// Stop 停止外部监控服务
	Stop() error

	RegisterGauge(name, help string, labels []string) (Gauge, error)
	RegisterCounter(name, help string, labels []string) (Counter, error)
	RegisterHistogram(name, help string, labels []string, buckets []float64) (Histogram, error)

	// Handler 返回 Prometheus 格式的导出处理器
	Handler() http.Handler

	// GetRegistry 获取 Prometheus 注册表
	GetRegistry() *prometheus.Registry

	// IsRunning 检查外部服务是否运行
	IsRunning() bool
}

// Gauge 仪表盘接口
type Gauge interface {
	Set(value float64, labels ...string)
	Inc(labels ...string)
	Dec(labels ...string)
}

// Counter 计数器接口
type Counter interface {
	Inc(labels ...string)
	Add(value float64, labels ...string)
}

// Histogram 直方图接口
type Histogram interface {
	Observe(value float64, labels ...string)
}

type metricsImpl struct {
	config   config.ExternalMetricsConfig
	registry *prometheus.Registry
	logger   *logrus.Entry

	mu      sync.RWMutex
	server  *http.Server
	running bool

	registered map[string]prometheus.Collector
}

// NewMetrics 创建新的监控实例，并注册 Go 运行时和进程指标
func NewMetrics(cfg *config.MetricsConfig) (Metrics, error) {
	if cfg == nil {
		cfg = config.DefaultMetricsConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}),
	)

	return &metricsImpl{
		config:     cfg.External,
		registry:   registry,
		logger:     logrus.WithField("component", "metrics"),
		registered: make(map[string]prometheus.Collector),
	}, nil
}

// Start 启动监控服务
func (m *metricsImpl) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		return nil
	}
	if m.running {
		return ErrServerAlreadyRunning
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	m.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func(server *http.Server) {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Errorf("Metrics server error: %v", err)
		}
	}(m.server)

	m.running = true
	m.logger.Infof("Metrics exposed on %s%s", addr, m.config.Path)
	return nil
}

// Stop 停止监控服务
func (m *metricsImpl) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrServerNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.server.Shutdown(ctx); err != nil {
		return err
	}

	m.running = false
	return nil
}

// register 以 name 为键登记 collector，同名指标只能注册一次
func (m *metricsImpl) register(name string, c prometheus.Collector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.registered[name]; exists {
		return ErrMetricAlreadyRegistered
	}
	if err := m.registry.Register(c); err != nil {
		return err
	}
	m.registered[name] = c
	return nil
}

func (m *metricsImpl) RegisterGauge(name, help string, labels []string) (Gauge, error) {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: Namespace, Name: name, Help: help}, labels)
	if err := m.register(name, vec); err != nil {
		return nil, err
	}
	return gaugeVec{vec}, nil
}

func (m *metricsImpl) RegisterCounter(name, help string, labels []string) (Counter, error) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Name: name, Help: help}, labels)
	if err := m.register(name, vec); err != nil {
		return nil, err
	}
	return counterVec{vec}, nil
}

func (m *metricsImpl) RegisterHistogram(name, help string, labels []string, buckets []float64) (Histogram, error) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	if err := m.register(name, vec); err != nil {
		return nil, err
	}
	return histogramVec{vec}, nil
}

func (m *metricsImpl) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsImpl) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *metricsImpl) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

type gaugeVec struct{ *prometheus.GaugeVec }

func (g gaugeVec) Set(value float64, labels ...string) { g.WithLabelValues(labels...).Set(value) }
func (g gaugeVec) Inc(labels ...string)                { g.WithLabelValues(labels...).Inc() }
func (g gaugeVec) Dec(labels ...string)                { g.WithLabelValues(labels...).Dec() }

type counterVec struct{ *prometheus.CounterVec }

func (c counterVec) Inc(labels ...string)                { c.WithLabelValues(labels...).Inc() }
func (c counterVec) Add(value float64, labels ...string) { c.WithLabelValues(labels...).Add(value) }

type histogramVec struct{ *prometheus.HistogramVec }

func (h histogramVec) Observe(value float64, labels ...string) {
	h.WithLabelValues(labels...).Observe(value)
}
