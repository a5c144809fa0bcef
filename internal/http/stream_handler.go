package httpapi

import (
	"net/http"
	"time"

	"wisefido-alarm-stats/internal/broadcast"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// StreamHandler WebSocket 视图推送
//   - /ws/views              全部视图
//   - /ws/views?stream=name  单个流
//
// 连接后立即推送当前值，之后每次重算推送一次（慢客户端只拿到最新值）
type StreamHandler struct {
	hub      *broadcast.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewStreamHandler(hub *broadcast.Hub, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 仪表盘与服务不同源部署
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Views GET /ws/views?stream=name
func (h *StreamHandler) Views(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("stream")
	if name == "" {
		ch, cancel := h.hub.SubscribeViews()
		h.serve(w, r, "views", func(conn *websocket.Conn) { pump(conn, ch, h.logger) }, cancel)
		return
	}

	stream, ok := h.hub.Stream(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail("unknown stream: "+name))
		return
	}
	ch, cancel := stream.Subscribe()
	h.serve(w, r, name, func(conn *websocket.Conn) { pump(conn, ch, h.logger) }, cancel)
}

func (h *StreamHandler) serve(w http.ResponseWriter, r *http.Request, name string, run func(*websocket.Conn), cancel func()) {
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("stream", name), zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("WebSocket subscriber connected", zap.String("stream", name))

	// 读循环只用于感知断开和处理 pong
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	run(conn)
	_ = conn.Close()
	<-done
	h.logger.Debug("WebSocket subscriber disconnected", zap.String("stream", name))
}

// pump 把订阅值写成 JSON 文本帧，channel 关闭或写失败时返回
func pump[T any](conn *websocket.Conn, ch <-chan T, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case v, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				logger.Debug("WebSocket send failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
