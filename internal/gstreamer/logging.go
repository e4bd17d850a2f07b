package gstreamer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/config"
)

// GStreamerLogConfig GStreamer日志配置
type GStreamerLogConfig struct {
	Enabled    bool
	Level      int
	OutputFile string
	Colored    bool
	Categories map[string]int

	// FromEnvironment 表示配置来自已有的 GST_DEBUG 环境变量
	FromEnvironment bool
}

// DebugString 返回 GST_DEBUG 格式的字符串
func (c *GStreamerLogConfig) DebugString() string {
	if !c.Enabled {
		return "0"
	}

	parts := []string{fmt.Sprintf("%d", c.Level)}
	names := make([]string, 0, len(c.Categories))
	for name := range c.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s:%d", name, c.Categories[name]))
	}
	return strings.Join(parts, ",")
}

// ConfigureGStreamerLogging 根据应用日志配置设置 GStreamer 的调试环境变量。
// 必须在框架初始化之前调用；已经存在的 GST_DEBUG 环境变量优先。
func ConfigureGStreamerLogging(appConfig *config.LoggingConfig, gstDebug string) (*GStreamerLogConfig, error) {
	logger := logrus.WithField("component", "gstreamer-logging")

	if appConfig == nil {
		appConfig = config.DefaultLoggingConfig()
	}

	if envLevel := os.Getenv("GST_DEBUG"); envLevel != "" {
		level, err := parseGstDebugLevel(envLevel)
		if err != nil {
			logger.Warnf("Failed to parse GST_DEBUG value %q: %v", envLevel, err)
		}
		logger.Infof("GStreamer environment variables detected - GST_DEBUG: %q, GST_DEBUG_FILE: %q",
			envLevel, os.Getenv("GST_DEBUG_FILE"))
		return &GStreamerLogConfig{
			Enabled:         level > 0,
			Level:           level,
			OutputFile:      os.Getenv("GST_DEBUG_FILE"),
			FromEnvironment: true,
		}, nil
	}

	var cfg *GStreamerLogConfig
	if gstDebug != "" {
		level, err := parseGstDebugLevel(gstDebug)
		if err != nil {
			return nil, fmt.Errorf("invalid gst_debug setting: %w", err)
		}
		cfg = &GStreamerLogConfig{Enabled: level > 0, Level: level}
		if err := os.Setenv("GST_DEBUG", gstDebug); err != nil {
			return nil, err
		}
	} else {
		cfg = &GStreamerLogConfig{
			Level:      mapAppLogLevelToGStreamerLevel(appConfig.Level),
			Categories: defaultCategories(appConfig.Level),
		}
		cfg.Enabled = cfg.Level > 0
		if err := os.Setenv("GST_DEBUG", cfg.DebugString()); err != nil {
			return nil, err
		}
	}

	cfg.Colored = appConfig.EnableColors && appConfig.Output != "file"
	if !cfg.Colored {
		os.Setenv("GST_DEBUG_NO_COLOR", "1")
	}

	if cfg.Enabled {
		cfg.OutputFile = gstreamerLogFile(appConfig)
		if cfg.OutputFile != "" {
			if err := os.Setenv("GST_DEBUG_FILE", cfg.OutputFile); err != nil {
				return nil, err
			}
		}
	}

	logger.Debugf("GStreamer logging configured: GST_DEBUG=%q file=%q", os.Getenv("GST_DEBUG"), cfg.OutputFile)
	return cfg, nil
}

// appLevelDebug 应用日志级别对应的 GST_DEBUG 全局级别和分类级别。
// info 及以上不打开 GStreamer 调试输出。
var appLevelDebug = map[string]struct {
	level      int
	categories map[string]int
}{
	"trace": {5, map[string]int{"GST_ELEMENT_FACTORY": 3, "GST_PIPELINE": 4, "GST_PADS": 4, "udpsink": 5}},
	"debug": {3, map[string]int{"GST_ELEMENT_FACTORY": 2, "GST_PIPELINE": 3}},
}

func mapAppLogLevelToGStreamerLevel(appLogLevel string) int {
	return appLevelDebug[strings.ToLower(strings.TrimSpace(appLogLevel))].level
}

func defaultCategories(appLogLevel string) map[string]int {
	categories := make(map[string]int)
	for name, level := range appLevelDebug[strings.ToLower(strings.TrimSpace(appLogLevel))].categories {
		categories[name] = level
	}
	return categories
}

// gstreamerLogFile 在应用日志目录下生成 gstreamer.log 路径
func gstreamerLogFile(appConfig *config.LoggingConfig) string {
	if appConfig.Output != "file" || appConfig.File == "" {
		return ""
	}

	appLogFile := appConfig.File
	if !filepath.IsAbs(appLogFile) {
		if workDir, err := os.Getwd(); err == nil {
			appLogFile = filepath.Join(workDir, appLogFile)
		}
	}
	return filepath.Join(filepath.Dir(appLogFile), "gstreamer.log")
}

// parseGstDebugLevel 返回 GST_DEBUG 的全局级别。支持 "4"、"4,GST_PADS:5"
// 和 "*:3,udpsink:5"；只有分类设置时按 4 处理。
func parseGstDebugLevel(gstDebug string) (int, error) {
	gstDebug = strings.TrimSpace(gstDebug)
	if gstDebug == "" {
		return 0, fmt.Errorf("empty GST_DEBUG value")
	}

	hasCategory := false
	for i, part := range strings.Split(gstDebug, ",") {
		part = strings.TrimSpace(part)
		name, value, isCategory := strings.Cut(part, ":")
		if !isCategory {
			if i == 0 {
				if level, ok := debugLevel(part); ok {
					return level, nil
				}
			}
			continue
		}
		hasCategory = true
		if strings.TrimSpace(name) == "*" {
			if level, ok := debugLevel(value); ok {
				return level, nil
			}
		}
	}

	if hasCategory {
		return 4, nil
	}
	return 0, fmt.Errorf("invalid GST_DEBUG format: %s", gstDebug)
}

func debugLevel(s string) (int, bool) {
	level, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || level < 0 || level > 9 {
		return 0, false
	}
	return level, true
}
