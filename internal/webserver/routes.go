package webserver

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

func (ws *WebServer) setupRoutes() error {
	ws.logger.Debug("Setting up webserver routes...")
	ws.router = mux.NewRouter()

	if ws.config.EnableCORS {
		ws.router.Use(ws.corsMiddleware)
	}
	ws.router.Use(ws.loggingMiddleware)

	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.HandleFunc("/api/v1/status", ws.handleStatus).Methods("GET")

	if err := ws.controls.SetupRoutes(ws.router); err != nil {
		return fmt.Errorf("stream routes: %w", err)
	}
	if events := ws.host.Events(); events != nil {
		if err := events.SetupRoutes(ws.router); err != nil {
			return fmt.Errorf("event routes: %w", err)
		}
	}

	for _, name := range ws.order {
		if err := ws.components[name].SetupRoutes(ws.router); err != nil {
			return fmt.Errorf("component %s routes: %w", name, err)
		}
		ws.logger.Debugf("Routes of component %s registered", name)
	}

	// CORS 预检请求需要匹配到路由才会经过中间件
	if ws.config.EnableCORS {
		ws.router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}
	return nil
}
