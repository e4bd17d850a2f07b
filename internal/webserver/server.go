package webserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/config"
	"github.com/open-beagle/gst-udpstream/internal/stream"
)

// WebServer 控制服务器
type WebServer struct {
	config   *config.WebServerConfig
	server   *http.Server
	router   *mux.Router
	listener net.Listener
	logger   *logrus.Entry

	host     *Host
	controls *StreamControls

	mutex      sync.RWMutex
	running    bool
	startTime  time.Time
	components map[string]RouteSetup // 注册的组件
	order      []string
}

// NewWebServer 创建控制服务器
func NewWebServer(cfg *config.WebServerConfig, native *stream.Native, host *Host) (*WebServer, error) {
	if cfg == nil {
		cfg = config.DefaultWebServerConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if native == nil || host == nil {
		return nil, fmt.Errorf("native layer and host are required")
	}

	ws := &WebServer{
		config:     cfg,
		logger:     config.GetLoggerWithPrefix("webserver"),
		host:       host,
		controls:   NewStreamControls(native, host),
		startTime:  time.Now(),
		components: make(map[string]RouteSetup),
	}

	ws.server = &http.Server{
		Addr:         cfg.Address(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     config.GetStandardLoggerWithPrefix("webserver-http", logrus.WarnLevel),
	}
	return ws, nil
}

// RegisterComponent 注册带路由的组件，必须在启动前调用
func (ws *WebServer) RegisterComponent(name string, component RouteSetup) error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if ws.running {
		return fmt.Errorf("cannot register component %s while server is running", name)
	}
	if _, exists := ws.components[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}

	ws.components[name] = component
	ws.order = append(ws.order, name)
	ws.logger.Debugf("Component %s registered", name)
	return nil
}

// Handler 构建路由并返回HTTP处理器
func (ws *WebServer) Handler() (http.Handler, error) {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if err := ws.setupRoutes(); err != nil {
		return nil, err
	}
	return ws.router, nil
}

// Start 在后台启动控制服务器
func (ws *WebServer) Start() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if ws.running {
		return fmt.Errorf("web server already running")
	}
	if err := ws.setupRoutes(); err != nil {
		return err
	}
	ws.server.Handler = ws.router

	listener, err := net.Listen("tcp", ws.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.config.Address(), err)
	}
	ws.listener = listener
	ws.running = true
	ws.startTime = time.Now()

	go func() {
		var err error
		if ws.config.EnableTLS {
			err = ws.server.ServeTLS(listener, ws.config.TLS.CertFile, ws.config.TLS.KeyFile)
		} else {
			err = ws.server.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.logger.Errorf("Web server error: %v", err)
		}
		ws.mutex.Lock()
		ws.running = false
		ws.mutex.Unlock()
	}()

	ws.logger.Infof("Control server listening on %s (tls: %v)", listener.Addr(), ws.config.EnableTLS)
	return nil
}

// Stop 停止控制服务器，事件流客户端会被断开
func (ws *WebServer) Stop(ctx context.Context) error {
	ws.mutex.Lock()
	ws.running = false
	ws.mutex.Unlock()

	ws.logger.Info("Stopping web server...")
	if events := ws.host.Events(); events != nil {
		events.Close()
	}
	return ws.server.Shutdown(ctx)
}

// Addr 返回实际监听地址，未启动时为 nil
func (ws *WebServer) Addr() net.Addr {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()
	if ws.listener == nil {
		return nil
	}
	return ws.listener.Addr()
}

// IsRunning 检查服务器是否运行中
func (ws *WebServer) IsRunning() bool {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()
	return ws.running
}

// API处理器
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := ws.controls.Status()

	ws.mutex.RLock()
	status["uptime"] = time.Since(ws.startTime).Seconds()
	components := make(map[string]interface{})
	for _, name := range ws.order {
		if provider, ok := ws.components[name].(StatsProvider); ok {
			components[name] = provider.GetStats()
		}
	}
	ws.mutex.RUnlock()

	if events := ws.host.Events(); events != nil {
		components["events"] = events.GetStats()
	}
	status["components"] = components

	writeJSON(w, http.StatusOK, status)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	native := ws.controls.native
	healthy := native.Initialized()

	health := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]interface{}{
			"webserver":   ws.IsRunning(),
			"initialized": healthy,
			"worker":      native.Worker().State().String(),
		},
	}

	code := http.StatusOK
	if !healthy {
		health["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}
