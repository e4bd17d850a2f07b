package metrics

import "errors"

// 监控组件返回的哨兵错误
var (
	// ErrServerAlreadyRunning 重复启动外部指标端口或管理器
	ErrServerAlreadyRunning = errors.New("metrics: server already running")

	// ErrServerNotRunning 停止一个未启动的外部指标端口
	ErrServerNotRunning = errors.New("metrics: server not running")

	// ErrMetricAlreadyRegistered 同名指标只能注册一次
	ErrMetricAlreadyRegistered = errors.New("metrics: metric already registered")
)
