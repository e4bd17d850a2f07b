package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	// BackendGStreamer 使用真实的 GStreamer 运行时
	BackendGStreamer = "gstreamer"
	// BackendSimulated 使用内存模拟框架（演练与测试）
	BackendSimulated = "simulated"
)

// GStreamerConfig GStreamer配置模块
type GStreamerConfig struct {
	// Backend 媒体框架后端 (gstreamer, simulated)
	Backend string `yaml:"backend" json:"backend"`

	// GstDebug 传递给 GST_DEBUG 的值，为空时根据日志等级推导
	GstDebug string `yaml:"gst_debug" json:"gst_debug"`

	Video VideoStreamConfig `yaml:"video" json:"video"`
	Audio AudioStreamConfig `yaml:"audio" json:"audio"`
}

// 发送端口与视频帧尺寸是固定的，只有目标主机由调用方提供
const (
	VideoPort   = 5000
	AudioPort   = 5001
	VideoWidth  = 320
	VideoHeight = 240
)

// VideoStreamConfig 视频发送管道使用的元素工厂
type VideoStreamConfig struct {
	Source  string `yaml:"source" json:"source"`
	Encoder string `yaml:"encoder" json:"encoder"`
}

// AudioStreamConfig 音频发送管道使用的元素工厂
type AudioStreamConfig struct {
	Source         string `yaml:"source" json:"source"`
	FallbackSource string `yaml:"fallback_source" json:"fallback_source"`
	Encoder        string `yaml:"encoder" json:"encoder"`
}

// DefaultGStreamerConfig 返回默认的GStreamer配置
func DefaultGStreamerConfig() *GStreamerConfig {
	c := &GStreamerConfig{}
	c.SetDefaults()
	return c
}

// SetDefaults 真实后端，摄像头 + openh264，OpenSL ES + speex
func (c *GStreamerConfig) SetDefaults() {
	*c = GStreamerConfig{
		Backend: BackendGStreamer,
		Video:   VideoStreamConfig{Source: "ahcsrc", Encoder: "openh264enc"},
		Audio: AudioStreamConfig{
			Source:         "openslessrc",
			FallbackSource: "audiotestsrc",
			Encoder:        "speexenc",
		},
	}
}

// Validate 检查后端名称和必需的元素工厂
func (c *GStreamerConfig) Validate() error {
	if c.Backend != BackendGStreamer && c.Backend != BackendSimulated {
		return fmt.Errorf("invalid backend: %s (must be one of: %s)",
			c.Backend, strings.Join([]string{BackendGStreamer, BackendSimulated}, ", "))
	}
	if c.Video.Source == "" || c.Video.Encoder == "" {
		return fmt.Errorf("invalid video config: source and encoder element factories are required")
	}
	if c.Audio.Source == "" || c.Audio.Encoder == "" {
		return fmt.Errorf("invalid audio config: source and encoder element factories are required")
	}
	return nil
}

// VideoCaps 返回视频格式过滤器使用的 caps 字符串
func (c *GStreamerConfig) VideoCaps() string {
	return fmt.Sprintf("video/x-raw,width=%d,height=%d", VideoWidth, VideoHeight)
}

// LoadGStreamerConfigFromEnv 从环境变量加载GStreamer配置
func LoadGStreamerConfigFromEnv() *GStreamerConfig {
	config := DefaultGStreamerConfig()

	if backend := os.Getenv("GST_UDPSTREAM_BACKEND"); backend != "" {
		config.Backend = strings.ToLower(backend)
	}

	if source := os.Getenv("GST_UDPSTREAM_VIDEO_SOURCE"); source != "" {
		config.Video.Source = source
	}

	if source := os.Getenv("GST_UDPSTREAM_AUDIO_SOURCE"); source != "" {
		config.Audio.Source = source
	}

	return config
}
