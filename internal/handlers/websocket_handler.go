package handlers

import (
	"net/http"
	"time"

	"ivc/pkg/logger"
	"ivc/pkg/queue"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WebSocketHandler 把Redis通知转发给前端
type WebSocketHandler struct {
	queue    *queue.RedisQueue
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(q *queue.RedisQueue) *WebSocketHandler {
	return &WebSocketHandler{
		queue: q,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 跨域校验由CORS中间件统一处理
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Notifications 订阅版本控制事件
// GET /api/v1/ws/notifications
func (h *WebSocketHandler) Notifications(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.GetLogger().Errorf("WebSocket升级失败: %v", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	sub := h.queue.SubscribeNotifications(ctx)
	defer sub.Close()

	// 读循环只用于感知客户端断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
