package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/bridge"
	"github.com/open-beagle/gst-udpstream/internal/config"
	"github.com/open-beagle/gst-udpstream/internal/gstreamer"
	"github.com/open-beagle/gst-udpstream/internal/gstreamer/gogst"
	"github.com/open-beagle/gst-udpstream/internal/metrics"
	"github.com/open-beagle/gst-udpstream/internal/stream"
	"github.com/open-beagle/gst-udpstream/internal/webserver"
)

const readyTimeout = 10 * time.Second

// App 应用：持有原生层、宿主对象以及控制面和监控
type App struct {
	config     *config.Config
	bridge     *bridge.Bridge
	native     *stream.Native
	host       *webserver.Host
	webserver  *webserver.WebServer
	metricsMgr *metrics.Manager
	logger     *logrus.Entry
	startTime  time.Time
}

// NewApp 创建应用。GStreamer 调试环境变量必须在框架初始化之前设置
func NewApp(cfg *config.Config) (*App, error) {
	logger := config.GetLoggerWithPrefix("app")

	gstLog, err := gstreamer.ConfigureGStreamerLogging(cfg.Logging, cfg.GStreamer.GstDebug)
	if err != nil {
		return nil, fmt.Errorf("failed to configure GStreamer logging: %w", err)
	}
	logger.Debugf("GST_DEBUG=%s (from environment: %v)", gstLog.DebugString(), gstLog.FromEnvironment)

	fw, err := newFramework(cfg.GStreamer)
	if err != nil {
		return nil, err
	}

	b := bridge.New(bridge.NewReflectRuntime())
	native := stream.NewNative(fw, cfg.GStreamer, b)
	host := webserver.NewHost(webserver.NewEventHub(cfg.WebServer.PingInterval))

	metricsMgr, err := metrics.NewManager(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics manager: %w", err)
	}
	metricsMgr.Bind(native, b)

	app := &App{
		config:     cfg,
		bridge:     b,
		native:     native,
		host:       host,
		metricsMgr: metricsMgr,
		logger:     logger,
		startTime:  time.Now(),
	}

	if cfg.WebServer.Enabled {
		ws, err := webserver.NewWebServer(cfg.WebServer, native, host)
		if err != nil {
			return nil, fmt.Errorf("failed to create web server: %w", err)
		}
		if err := ws.RegisterComponent("metrics", metricsMgr); err != nil {
			return nil, err
		}
		app.webserver = ws
	}

	logger.Infof("Using %s media framework", fw.Name())
	return app, nil
}

func newFramework(cfg *config.GStreamerConfig) (gstreamer.Framework, error) {
	switch cfg.Backend {
	case config.BackendGStreamer, "":
		return gogst.New(), nil
	case config.BackendSimulated:
		return gstreamer.NewSimulatedFramework(gstreamer.DefaultSimulatedOptions()), nil
	default:
		return nil, fmt.Errorf("unknown media framework backend: %s", cfg.Backend)
	}
}

// Start 绑定宿主对象、启动工作线程，然后启动控制面和监控
func (app *App) Start() error {
	if !app.native.ClassInit(app.host) {
		return fmt.Errorf("failed to bind notification target")
	}
	if err := app.native.Init(app.host); err != nil {
		return fmt.Errorf("failed to initialize native layer: %w", err)
	}

	select {
	case <-app.native.Worker().Ready():
	case <-time.After(readyTimeout):
		return fmt.Errorf("worker loop not ready after %v", readyTimeout)
	}

	if err := app.metricsMgr.Start(); err != nil {
		return err
	}
	if app.webserver != nil {
		if err := app.webserver.Start(); err != nil {
			return err
		}
	}

	return app.autoStart()
}

func (app *App) autoStart() error {
	dest := app.config.Lifecycle.Destination
	if dest == "" {
		app.logger.Info("No destination configured, waiting for control requests")
		return nil
	}

	b, err := stream.ParseAndEncodeAddress(dest)
	if err != nil {
		return fmt.Errorf("invalid destination: %w", err)
	}
	if err := app.native.StreamStart(app.host, b[0], b[1], b[2], b[3]); err != nil {
		return fmt.Errorf("failed to start video stream: %w", err)
	}
	if app.config.Lifecycle.AutoStartAudio {
		if err := app.native.AudioStart(app.host, b[0], b[1], b[2], b[3]); err != nil {
			return fmt.Errorf("failed to start audio stream: %w", err)
		}
	}
	return nil
}

// Stop 按启动的相反顺序关闭各组件
func (app *App) Stop(ctx context.Context) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if app.webserver != nil && app.webserver.IsRunning() {
		record(app.webserver.Stop(ctx))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		app.native.Finalize(app.host)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		record(fmt.Errorf("finalize did not complete: %w", ctx.Err()))
	}

	record(app.metricsMgr.Stop())

	app.logger.Infof("Stopped after %v", time.Since(app.startTime).Round(time.Second))
	record(config.CloseLogOutput())
	return firstErr
}

// Native 返回原生层
func (app *App) Native() *stream.Native {
	return app.native
}

// Host 返回宿主对象
func (app *App) Host() *webserver.Host {
	return app.host
}
