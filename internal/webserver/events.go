package webserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/gst-udpstream/internal/config"
)

// EventType 事件类型
type EventType string

const (
	EventMessage     EventType = "message"
	EventInitialized EventType = "initialized"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// Event 推送给事件流客户端的宿主通知
type Event struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// ClientInfo WebSocket连接信息
type ClientInfo struct {
	ID          string          `json:"id"`
	RemoteAddr  string          `json:"remote_addr"`
	UserAgent   string          `json:"user_agent"`
	ConnectedAt time.Time       `json:"connected_at"`
	LastSeen    time.Time       `json:"last_seen"`
	Conn        *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
}

// EventHub 事件流：把宿主收到的通知广播给所有 WebSocket 客户端
// 客户端只接收，不需要发送任何消息
type EventHub struct {
	clients      map[string]*ClientInfo
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	mutex        sync.RWMutex
	logger       *logrus.Entry
	closed       bool

	// 统计信息
	totalConnections int64
	totalEvents      int64
	droppedEvents    int64
}

// NewEventHub 创建事件流
func NewEventHub(pingInterval time.Duration) *EventHub {
	if pingInterval <= 0 {
		pingInterval = config.DefaultWebServerConfig().PingInterval
	}
	return &EventHub{
		clients: make(map[string]*ClientInfo),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许跨域
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pingInterval: pingInterval,
		logger:       config.GetLoggerWithPrefix("webserver-events"),
	}
}

// SetupRoutes 设置路由
func (h *EventHub) SetupRoutes(router *mux.Router) error {
	router.HandleFunc("/api/v1/events", h.HandleWebSocket).Methods("GET")
	return nil
}

// HandleWebSocket 处理WebSocket连接
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mutex.RLock()
	closed := h.closed
	h.mutex.RUnlock()
	if closed {
		http.Error(w, "event stream closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	info := &ClientInfo{
		ID:          uuid.NewString(),
		RemoteAddr:  conn.RemoteAddr().String(),
		UserAgent:   r.Header.Get("User-Agent"),
		ConnectedAt: time.Now(),
		LastSeen:    time.Now(),
		Conn:        conn,
		Send:        make(chan []byte, sendBufferSize),
	}

	h.register(info)

	go h.writePump(info)
	go h.readPump(info)
}

func (h *EventHub) register(info *ClientInfo) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[info.ID] = info
	h.totalConnections++
	h.logger.Infof("Event client connected: %s from %s", info.ID, info.RemoteAddr)
}

func (h *EventHub) unregister(info *ClientInfo) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[info.ID]; !ok {
		return
	}
	delete(h.clients, info.ID)
	close(info.Send)
	h.logger.Infof("Event client disconnected: %s (connected for: %v)", info.ID, time.Since(info.ConnectedAt))
}

// readPump 只处理控制帧和断开
func (h *EventHub) readPump(info *ClientInfo) {
	defer func() {
		h.unregister(info)
		info.Conn.Close()
	}()

	pongWait := h.pingInterval * 10 / 9
	info.Conn.SetReadDeadline(time.Now().Add(pongWait))
	info.Conn.SetPongHandler(func(string) error {
		h.touch(info)
		info.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := info.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warnf("WebSocket error for client %s: %v", info.ID, err)
			}
			return
		}
		h.touch(info)
	}
}

func (h *EventHub) writePump(info *ClientInfo) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		info.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-info.Send:
			info.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				info.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := info.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Errorf("Write error for client %s: %v", info.ID, err)
				return
			}

		case <-ticker.C:
			info.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := info.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *EventHub) touch(info *ClientInfo) {
	h.mutex.Lock()
	info.LastSeen = time.Now()
	h.mutex.Unlock()
}

// Broadcast 向所有客户端推送事件，发送队列已满的客户端会丢弃该事件
func (h *EventHub) Broadcast(event Event) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return nil
	}
	h.totalEvents++
	for id, info := range h.clients {
		select {
		case info.Send <- data:
		default:
			h.droppedEvents++
			h.logger.Warnf("Send queue full for client %s, dropping %s event", id, event.Type)
		}
	}
	return nil
}

// Clients 返回当前连接数
func (h *EventHub) Clients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close 断开所有客户端，之后的连接请求会被拒绝
func (h *EventHub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, info := range h.clients {
		delete(h.clients, id)
		close(info.Send)
	}
	h.logger.Debug("Event stream closed")
}

// GetStats 获取统计信息
func (h *EventHub) GetStats() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return map[string]interface{}{
		"clients":           len(h.clients),
		"total_connections": h.totalConnections,
		"total_events":      h.totalEvents,
		"dropped_events":    h.droppedEvents,
	}
}
