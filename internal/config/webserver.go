package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// WebServerConfig 控制服务配置
type WebServerConfig struct {
	// Enabled 是否启动 HTTP 控制面
	Enabled    bool      `yaml:"enabled" json:"enabled"`
	Host       string    `yaml:"host" json:"host"`
	Port       int       `yaml:"port" json:"port"`
	EnableTLS  bool      `yaml:"enable_tls" json:"enable_tls"`
	TLS        TLSConfig `yaml:"tls" json:"tls"`
	EnableCORS bool      `yaml:"enable_cors" json:"enable_cors"`

	// PingInterval 事件 WebSocket 心跳间隔
	PingInterval time.Duration `yaml:"ping_interval" json:"ping_interval"`
}

// TLSConfig TLS配置
type TLSConfig struct {
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// DefaultWebServerConfig 默认在 0.0.0.0:8080 提供明文 HTTP 控制面并允许跨域
func DefaultWebServerConfig() *WebServerConfig {
	c := &WebServerConfig{}
	c.SetDefaults()
	return c
}

// SetDefaults 恢复默认值，TLS 证书路径清空
func (c *WebServerConfig) SetDefaults() {
	*c = WebServerConfig{
		Enabled:      true,
		Host:         "0.0.0.0",
		Port:         8080,
		EnableCORS:   true,
		PingInterval: 54 * time.Second,
	}
}

// Validate 校验监听地址、TLS 证书和心跳间隔
func (c *WebServerConfig) Validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Port)
	case c.Host == "":
		return fmt.Errorf("host cannot be empty")
	case c.EnableTLS && (c.TLS.CertFile == "" || c.TLS.KeyFile == ""):
		return fmt.Errorf("TLS cert and key files are required when TLS is enabled")
	case c.PingInterval <= 0:
		return fmt.Errorf("ping interval must be positive, got: %v", c.PingInterval)
	}
	return nil
}

// Address 返回 host:port 形式的监听地址
func (c *WebServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
