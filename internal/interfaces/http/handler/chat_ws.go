package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	appchat "github.com/casefile/backend/internal/application/chat"
	"github.com/casefile/backend/internal/domain/chat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 来源校验由 CORS 中间件层面的部署策略决定
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTransport 把下行帧写成 WebSocket JSON 消息
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *wsTransport) SendToken(content string) error {
	return t.send(map[string]any{"type": "token", "content": content})
}

func (t *wsTransport) SendDone(message *chat.Message) error {
	return t.send(map[string]any{
		"type":       "done",
		"session_id": message.SessionID,
		"message_id": message.ID,
		"status":     message.Status,
	})
}

func (t *wsTransport) SendError(message *chat.Message, err error) error {
	return t.send(map[string]any{
		"type":       "error",
		"error":      err.Error(),
		"message_id": message.ID,
		"status":     message.Status,
	})
}

func (t *wsTransport) send(payload map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(payload)
}

// StreamWS 通过 WebSocket 进行多轮对话
// 客户端每发一条 JSON 消息触发一轮，回复以 token/done/error 帧下发
// @Summary 发送消息（WebSocket）
// @Tags 会话
// @Param sessionId path string true "会话 ID"
// @Success 101 {string} string "协议切换"
// @Router /chat/sessions/{sessionId}/ws [get]
func (h *ChatHandler) StreamWS(c *gin.Context) {
	sessionID := c.Param("sessionId")

	// 升级前确认会话存在，未知会话走普通 JSON 错误
	exists, err := h.service.SessionExists(sessionID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if !exists {
		writeDomainError(c, chat.ErrSessionNotFound)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	transport := &wsTransport{conn: conn}

	// 独立 reader goroutine：请求入队，连接断开时关闭 done
	requests := make(chan SendMessageRequest)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var req SendMessageRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			select {
			case requests <- req:
			case <-done:
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		<-done
		cancel()
	}()

	for {
		select {
		case <-done:
			return
		case req := <-requests:
			h.runWSTurn(ctx, sessionID, req, transport)
		}
	}
}

// runWSTurn 执行一轮对话，轮次未开始的错误也通过 error 帧下发
func (h *ChatHandler) runWSTurn(ctx context.Context, sessionID string, req SendMessageRequest, transport *wsTransport) {
	err := h.coordinator.StreamTurn(ctx, appchat.TurnRequest{
		SessionID:   sessionID,
		Content:     req.Content,
		Mode:        chat.Mode(req.Mode),
		DocumentIDs: req.DocumentIDs,
	}, transport)
	if err != nil {
		if sendErr := transport.send(map[string]any{
			"type":  "error",
			"error": err.Error(),
		}); sendErr != nil {
			h.logger.Info("failed to deliver turn rejection", "error", sendErr)
		}
	}
}
