package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logFileMu sync.Mutex
	logFile   *os.File
)

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level           string `yaml:"level" json:"level"`                       // trace, debug, info, warn, error
	Format          string `yaml:"format" json:"format"`                     // text 或 json
	Output          string `yaml:"output" json:"output"`                     // stdout, stderr 或 file
	File            string `yaml:"file" json:"file"`                         // Output 为 file 时的路径
	EnableTimestamp bool   `yaml:"enable_timestamp" json:"enable_timestamp"` // 文本格式下输出完整时间
	EnableCaller    bool   `yaml:"enable_caller" json:"enable_caller"`
	EnableColors    bool   `yaml:"enable_colors" json:"enable_colors"`
}

var (
	logFormats = map[string]bool{"text": true, "json": true}
	logOutputs = map[string]bool{"stdout": true, "stderr": true, "file": true}
)

// DefaultLoggingConfig 默认输出 info 级别的彩色文本日志到标准输出
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Level:           "info",
		Format:          "text",
		Output:          "stdout",
		EnableTimestamp: true,
		EnableColors:    true,
	}
}

// Validate 检查等级、格式与输出目标
func (c *LoggingConfig) Validate() error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	if !logFormats[c.Format] {
		return fmt.Errorf("invalid log format: %s, must be 'text' or 'json'", c.Format)
	}
	if !logOutputs[c.Output] {
		return fmt.Errorf("invalid log output: %s, must be 'stdout', 'stderr', or 'file'", c.Output)
	}
	if c.Output == "file" && c.File == "" {
		return fmt.Errorf("log file path is required when output is 'file'")
	}
	return nil
}

// LoadLoggingConfigFromEnv 读取 GST_UDPSTREAM_LOG_* 环境变量，未设置的项保持默认值
func LoadLoggingConfigFromEnv() *LoggingConfig {
	cfg := DefaultLoggingConfig()

	strs := map[string]*string{
		"GST_UDPSTREAM_LOG_FORMAT": &cfg.Format,
		"GST_UDPSTREAM_LOG_OUTPUT": &cfg.Output,
		"GST_UDPSTREAM_LOG_FILE":   &cfg.File,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("GST_UDPSTREAM_LOG_LEVEL"); v != "" {
		cfg.Level = strings.ToLower(v)
	}

	flags := map[string]*bool{
		"GST_UDPSTREAM_LOG_TIMESTAMP": &cfg.EnableTimestamp,
		"GST_UDPSTREAM_LOG_CALLER":    &cfg.EnableCaller,
		"GST_UDPSTREAM_LOG_COLORS":    &cfg.EnableColors,
	}
	for key, dst := range flags {
		if v := os.Getenv(key); v != "" {
			*dst = strings.EqualFold(v, "true")
		}
	}

	return cfg
}

// SetupLogger 按配置设置全局 logrus；重复调用会关闭上一次打开的日志文件
func SetupLogger(cfg *LoggingConfig) error {
	if cfg == nil {
		cfg = DefaultLoggingConfig()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	output, file, err := openLogOutput(cfg)
	if err != nil {
		return err
	}

	logrus.SetLevel(level)
	logrus.SetOutput(output)
	logrus.SetReportCaller(cfg.EnableCaller)

	const tsFormat = "2006-01-02 15:04:05.000"
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: tsFormat})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: tsFormat,
			FullTimestamp:   cfg.EnableTimestamp,
			ForceColors:     cfg.EnableColors,
		})
	}

	logFileMu.Lock()
	previous := logFile
	logFile = file
	logFileMu.Unlock()
	if previous != nil {
		previous.Close()
	}
	return nil
}

func openLogOutput(cfg *LoggingConfig) (io.Writer, *os.File, error) {
	switch cfg.Output {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		return f, f, nil
	default:
		return os.Stdout, nil, nil
	}
}

// ParseLogLevel 规范化 -log-level 参数，非法值返回 info 与错误
func ParseLogLevel(level string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if _, err := logrus.ParseLevel(normalized); err != nil {
		return "info", fmt.Errorf("invalid log level: %s", level)
	}
	return normalized, nil
}

// CloseLogOutput 关闭 SetupLogger 打开的日志文件并恢复标准输出
func CloseLogOutput() error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFile == nil {
		return nil
	}
	logrus.SetOutput(os.Stderr)
	err := logFile.Close()
	logFile = nil
	return err
}

// GetLoggerWithPrefix 获取带前缀的logger
func GetLoggerWithPrefix(prefix string) *logrus.Entry {
	return logrus.WithField("component", prefix)
}

// GetStandardLoggerWithPrefix 获取带前缀的标准库兼容logger，用于 http.Server.ErrorLog 等
func GetStandardLoggerWithPrefix(prefix string, level logrus.Level) *log.Logger {
	entry := GetLoggerWithPrefix(prefix)
	return log.New(&logrusWriter{entry: entry, level: level}, "", 0)
}

// logrusWriter 将 logrus.Entry 包装为 io.Writer
type logrusWriter struct {
	entry *logrus.Entry
	level logrus.Level
}

func (w *logrusWriter) Write(p []byte) (int, error) {
	w.entry.Log(w.level, strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
