package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config gst-udpstream 配置聚合器
type Config struct {
	// GStreamer配置模块（后端与两条发送管道）
	GStreamer *GStreamerConfig `yaml:"gstreamer" json:"gstreamer"`

	// 日志配置
	Logging *LoggingConfig `yaml:"logging" json:"logging"`

	// 控制服务配置模块
	WebServer *WebServerConfig `yaml:"webserver" json:"webserver"`

	// Metrics配置模块
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics"`

	// 生命周期管理配置
	Lifecycle LifecycleConfig `yaml:"lifecycle" json:"lifecycle"`
}

// LifecycleConfig 生命周期管理配置
type LifecycleConfig struct {
	// 优雅关闭超时时间
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// 是否在初始化完成后立即启动音频管道
	AutoStartAudio bool `yaml:"auto_start_audio" json:"auto_start_audio"`

	// 启动时的默认目标地址（为空则等待控制面指令）
	Destination string `yaml:"destination" json:"destination"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	cfg := &Config{
		GStreamer: DefaultGStreamerConfig(),
		Logging:   DefaultLoggingConfig(),
		WebServer: DefaultWebServerConfig(),
		Metrics:   DefaultMetricsConfig(),
	}

	cfg.Lifecycle.ShutdownTimeout = 30 * time.Second
	return cfg
}

// LoadConfigFromFile 读取 YAML 文件，文件中未出现的字段保留默认值
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.fillMissing()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type section struct {
	name     string
	present  bool
	validate func() error
}

func (c *Config) sections() []section {
	return []section{
		{"gstreamer", c.GStreamer != nil, func() error { return c.GStreamer.Validate() }},
		{"logging", c.Logging != nil, func() error { return c.Logging.Validate() }},
		{"webserver", c.WebServer != nil, func() error { return c.WebServer.Validate() }},
		{"metrics", c.Metrics != nil, func() error { return c.Metrics.Validate() }},
	}
}

// Validate 依次校验各模块（缺失的模块视为错误），再检查生命周期参数和端口冲突
func (c *Config) Validate() error {
	for _, s := range c.sections() {
		if !s.present {
			return fmt.Errorf("missing %s config", s.name)
		}
		if err := s.validate(); err != nil {
			return fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}

	if c.Lifecycle.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid lifecycle config: shutdown timeout must be positive, got: %v",
			c.Lifecycle.ShutdownTimeout)
	}

	if err := c.checkPortConflicts(); err != nil {
		return fmt.Errorf("module compatibility error: %w", err)
	}
	return nil
}

// checkPortConflicts 控制服务与外部指标服务不能监听同一端口
func (c *Config) checkPortConflicts() error {
	if c.WebServer == nil || !c.WebServer.Enabled || c.Metrics == nil || !c.Metrics.External.Enabled {
		return nil
	}
	if c.Metrics.External.Port == c.WebServer.Port {
		return fmt.Errorf("port conflict: metrics port %d already used by webserver", c.Metrics.External.Port)
	}
	return nil
}

// String 返回配置的字符串表示
func (c *Config) String() string {
	webInfo := "disabled"
	if c.WebServer != nil && c.WebServer.Enabled {
		webInfo = c.WebServer.Address()
	}

	streamInfo := "disabled"
	if c.GStreamer != nil {
		streamInfo = fmt.Sprintf("%s video:%d(%dx%d %s) audio:%d(%s)",
			c.GStreamer.Backend, VideoPort, VideoWidth, VideoHeight, c.GStreamer.Video.Encoder,
			AudioPort, c.GStreamer.Audio.Encoder)
	}

	return fmt.Sprintf("Config{WebServer: %s, Stream: %s}", webInfo, streamInfo)
}

// GetGStreamerConfig 获取GStreamer配置
func (c *Config) GetGStreamerConfig() *GStreamerConfig {
	if c.GStreamer == nil {
		c.GStreamer = DefaultGStreamerConfig()
	}
	return c.GStreamer
}

// GetLoggingConfig 获取日志配置
func (c *Config) GetLoggingConfig() *LoggingConfig {
	if c.Logging == nil {
		c.Logging = DefaultLoggingConfig()
	}
	return c.Logging
}

// fillMissing 为 YAML 中显式置空（如 "webserver: ~"）的模块补上默认值
func (c *Config) fillMissing() {
	c.GetGStreamerConfig()
	c.GetLoggingConfig()
	c.GetWebServerConfig()
	c.GetMetricsConfig()
}

// GetWebServerConfig 获取WebServer配置
func (c *Config) GetWebServerConfig() *WebServerConfig {
	if c.WebServer == nil {
		c.WebServer = DefaultWebServerConfig()
	}
	return c.WebServer
}

// GetMetricsConfig 获取Metrics配置
func (c *Config) GetMetricsConfig() *MetricsConfig {
	if c.Metrics == nil {
		c.Metrics = DefaultMetricsConfig()
	}
	return c.Metrics
}

// SaveToFile 保存配置到文件
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadConfigFromEnv 未提供配置文件时使用，只读取 GST_UDPSTREAM_* 环境变量
func LoadConfigFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.GStreamer = LoadGStreamerConfigFromEnv()
	cfg.Logging = LoadLoggingConfigFromEnv()
	cfg.Lifecycle.Destination = os.Getenv("GST_UDPSTREAM_DESTINATION")
	return cfg
}
