package webserver

import (
	"github.com/gorilla/mux"
)

// RouteSetup 由需要挂载额外 HTTP 路由的组件实现，例如监控管理器
type RouteSetup interface {
	SetupRoutes(router *mux.Router) error
}

// StatsProvider 组件可选实现，返回值出现在 /api/v1/status 的 components 下
type StatsProvider interface {
	GetStats() map[string]interface{}
}
