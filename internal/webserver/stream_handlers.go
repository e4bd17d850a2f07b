package webserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/config"
	"github.com/open-beagle/gst-udpstream/internal/gstreamer"
	"github.com/open-beagle/gst-udpstream/internal/stream"
)

const maxRequestBody = 4096

type addressRequest struct {
	Address string `json:"address"`
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

// StreamControls 把 HTTP 请求转换成对原生层入口的调用
// 地址在这里完成 +128 编码，和原生调用方的约定一致
type StreamControls struct {
	native *stream.Native
	host   *Host
	logger *logrus.Entry
}

// NewStreamControls 创建流控制处理器
func NewStreamControls(native *stream.Native, host *Host) *StreamControls {
	return &StreamControls{
		native: native,
		host:   host,
		logger: config.GetLoggerWithPrefix("webserver-stream"),
	}
}

// SetupRoutes 设置路由
func (c *StreamControls) SetupRoutes(router *mux.Router) error {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stream/start", c.handleStreamStart).Methods("POST")
	api.HandleFunc("/stream/stop", c.handleStreamStop).Methods("POST")
	api.HandleFunc("/audio/start", c.handleAudioStart).Methods("POST")
	api.HandleFunc("/audio/stop", c.handleAudioStop).Methods("POST")
	return nil
}

func (c *StreamControls) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	c.start(w, r, gstreamer.MediaVideo, c.native.StreamStart)
}

func (c *StreamControls) handleAudioStart(w http.ResponseWriter, r *http.Request) {
	c.start(w, r, gstreamer.MediaAudio, c.native.AudioStart)
}

func (c *StreamControls) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	c.stop(w, gstreamer.MediaVideo, c.native.StreamStop)
}

func (c *StreamControls) handleAudioStop(w http.ResponseWriter, r *http.Request) {
	c.stop(w, gstreamer.MediaAudio, c.native.AudioStop)
}

func (c *StreamControls) start(w http.ResponseWriter, r *http.Request, kind gstreamer.MediaKind,
	entry func(target interface{}, b0, b1, b2, b3 int8) error) {

	var req addressRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	b, err := stream.ParseAndEncodeAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := entry(c.host, b[0], b[1], b[2], b[3]); err != nil {
		c.logger.Errorf("Failed to start %s towards %s: %v", kind, req.Address, err)
		writeError(w, statusFor(err), err)
		return
	}

	host, port := c.native.Controller().Destination(kind)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":    kind.String(),
		"status":  "started",
		"address": host,
		"port":    port,
	})
}

func (c *StreamControls) stop(w http.ResponseWriter, kind gstreamer.MediaKind, entry func(target interface{}) error) {
	if err := entry(c.host); err != nil {
		c.logger.Errorf("Failed to stop %s: %v", kind, err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":   kind.String(),
		"status": "stopped",
	})
}

// Status 汇总两条流水线和工作线程的状态
func (c *StreamControls) Status() map[string]interface{} {
	ctrl := c.native.Controller()
	return map[string]interface{}{
		"initialized":  c.native.Initialized(),
		"worker":       c.native.Worker().State().String(),
		"last_message": c.host.LastMessage(),
		"video":        pipelineStatus(ctrl, gstreamer.MediaVideo, ctrl.VideoRunning()),
		"audio":        pipelineStatus(ctrl, gstreamer.MediaAudio, ctrl.AudioRunning()),
	}
}

func pipelineStatus(ctrl *stream.Controller, kind gstreamer.MediaKind, running bool) map[string]interface{} {
	host, port := ctrl.Destination(kind)
	status := map[string]interface{}{
		"running":      running,
		"construction": ctrl.State(kind).String(),
		"builds":       ctrl.Builds(kind),
		"host":         host,
		"port":         port,
	}
	if pc := ctrl.Pipeline(kind); pc != nil {
		status["degraded"] = pc.Degraded
		status["faulted"] = pc.Faulted()
		status["state"] = pc.Pipeline().CurrentState().String()
	}
	return status
}

// statusFor 缺少插件返回 503，框架拒绝状态切换返回 502
func statusFor(err error) int {
	switch {
	case errors.Is(err, gstreamer.ErrGraphConstructionFailed):
		return http.StatusServiceUnavailable
	case gstreamer.IsErrorType(err, gstreamer.ErrorTypePipelineState):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithField("component", "webserver").Errorf("Failed to encode JSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	if gstErr, ok := gstreamer.GetGStreamerError(err); ok {
		resp.Type = gstErr.Type.String()
	}
	writeJSON(w, status, resp)
}
