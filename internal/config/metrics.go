package config

import (
	"fmt"
	"strings"
)

// MetricsConfig Metrics配置模块
type MetricsConfig struct {
	// 外部暴露配置（默认禁用，为Grafana等外部工具提供数据）
	External ExternalMetricsConfig `yaml:"external" json:"external"`
}

// ExternalMetricsConfig 外部监控配置
type ExternalMetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
	Host    string `yaml:"host" json:"host"`
}

// DefaultMetricsConfig 外部指标端口默认关闭，/metrics 仍挂在控制服务上
func DefaultMetricsConfig() *MetricsConfig {
	c := &MetricsConfig{}
	c.SetDefaults()
	return c
}

// SetDefaults 恢复默认值
func (c *MetricsConfig) SetDefaults() {
	c.External = ExternalMetricsConfig{Port: 9090, Path: "/metrics", Host: "0.0.0.0"}
}

// Validate 外部端口关闭时不做检查
func (c *MetricsConfig) Validate() error {
	ext := c.External
	switch {
	case !ext.Enabled:
		return nil
	case ext.Port < 1 || ext.Port > 65535:
		return fmt.Errorf("invalid port: %d (must be between 1 and 65535)", ext.Port)
	case !strings.HasPrefix(ext.Path, "/"):
		return fmt.Errorf("invalid metrics path: %q (must start with '/')", ext.Path)
	case ext.Host == "":
		return fmt.Errorf("metrics host cannot be empty")
	}
	return nil
}

