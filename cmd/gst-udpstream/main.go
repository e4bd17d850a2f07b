package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/config"
)

const (
	AppName    = "gst-udpstream"
	AppVersion = "1.0.0"
)

// checkPortAvailability 启动前确认控制服务和外部指标端口未被占用
func checkPortAvailability(cfg *config.Config) error {
	type listenPort struct {
		service string
		addr    string
	}
	var ports []listenPort
	if cfg.WebServer != nil && cfg.WebServer.Enabled {
		ports = append(ports, listenPort{"webserver", cfg.WebServer.Address()})
	}
	if m := cfg.Metrics; m != nil && m.External.Enabled {
		ports = append(ports, listenPort{"metrics", net.JoinHostPort(m.External.Host, fmt.Sprint(m.External.Port))})
	}

	logger := logrus.WithField("component", "main")
	for _, p := range ports {
		ln, err := net.Listen("tcp", p.addr)
		if err != nil {
			return fmt.Errorf("%s address %s is not available: %w", p.service, p.addr, err)
		}
		ln.Close()
		logger.Debugf("%s address %s is available", p.service, p.addr)
	}
	return nil
}

func main() {
	// 解析命令行参数
	var (
		configFile = flag.String("config", "", "Configuration file path")
		backend    = flag.String("backend", "", "Media framework backend (gstreamer, simulated)")
		dest       = flag.String("dest", "", "Receiver IPv4 address to stream to at startup")
		audio      = flag.Bool("audio", false, "Also start the audio pipeline at startup")
		host       = flag.String("host", "", "Control server host")
		port       = flag.Int("port", 0, "Control server port")
		logLevel   = flag.String("log-level", "", "Log level (trace, debug, info, warn, error)")
		logOutput  = flag.String("log-output", "", "Log output (stdout, stderr, file)")
		logFile    = flag.String("log-file", "", "Log file path (when log-output is file)")
		version    = flag.Bool("version", false, "Show version information")
		writeCfg   = flag.String("write-config", "", "Write the effective configuration to this file and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		fmt.Println("GStreamer UDP video/audio sender")
		return
	}

	// 加载配置
	var cfg *config.Config
	if *configFile != "" {
		log.Printf("Loading configuration from: %s", *configFile)
		loaded, err := config.LoadConfigFromFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.LoadConfigFromEnv()
	}

	// 命令行参数覆盖配置
	if *backend != "" {
		cfg.GStreamer.Backend = *backend
	}
	if *dest != "" {
		cfg.Lifecycle.Destination = *dest
	}
	if *audio {
		cfg.Lifecycle.AutoStartAudio = true
	}
	if *host != "" {
		cfg.WebServer.Host = *host
	}
	if *port != 0 {
		cfg.WebServer.Port = *port
	}
	if *logLevel != "" {
		if level, err := config.ParseLogLevel(*logLevel); err == nil {
			cfg.Logging.Level = level
		} else {
			log.Printf("Invalid log level '%s': %v", *logLevel, err)
		}
	}
	if *logOutput != "" {
		cfg.Logging.Output = *logOutput
	}
	if *logFile != "" {
		cfg.Logging.File = *logFile
		if *logOutput == "" {
			cfg.Logging.Output = "file"
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *writeCfg != "" {
		if err := cfg.SaveToFile(*writeCfg); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Configuration written to %s\n", *writeCfg)
		return
	}

	if err := config.SetupLogger(cfg.Logging); err != nil {
		log.Fatalf("Failed to setup logger: %v", err)
	}

	logrus.WithField("component", "main").Infof("Loaded %s", cfg)

	if err := checkPortAvailability(cfg); err != nil {
		log.Printf("Port availability check failed: %v", err)
		os.Exit(1)
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		log.Printf("Application failed to start: %v", err)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Lifecycle.ShutdownTimeout)
		app.Stop(ctx)
		cancel()
		os.Exit(1)
	}

	fmt.Printf("\n%s v%s started (backend: %s)\n", AppName, AppVersion, cfg.GStreamer.Backend)
	if cfg.WebServer.Enabled {
		fmt.Printf("Control API: http://%s/api/v1/status\n", cfg.WebServer.Address())
	}
	if cfg.Metrics.External.Enabled {
		fmt.Printf("Metrics: http://%s:%d%s\n", cfg.Metrics.External.Host, cfg.Metrics.External.Port, cfg.Metrics.External.Path)
	}
	if cfg.Lifecycle.Destination != "" {
		fmt.Printf("Streaming to %s (video :%d)\n", cfg.Lifecycle.Destination, config.VideoPort)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	<-sigChan

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Lifecycle.ShutdownTimeout)
	defer cancel()

	if err := app.Stop(ctx); err != nil {
		log.Printf("Application shutdown error: %v", err)
	} else {
		log.Println("Application stopped gracefully")
	}
}
