package handler

import (
	"net/http"

	"log/slog"

	"github.com/gin-gonic/gin"

	appchat "github.com/casefile/backend/internal/application/chat"
	"github.com/casefile/backend/internal/domain/chat"
	"github.com/casefile/backend/internal/infrastructure/config"
	"github.com/casefile/backend/internal/infrastructure/log"
	"github.com/casefile/backend/internal/interfaces/http/response"
)

// ChatHandler 会话处理器
type ChatHandler struct {
	service     *appchat.Service
	coordinator *appchat.Coordinator
	streamCfg   *config.StreamConfig
	logger      *slog.Logger
}

// NewChatHandler 创建会话处理器
func NewChatHandler(service *appchat.Service, coordinator *appchat.Coordinator, streamCfg *config.StreamConfig) *ChatHandler {
	return &ChatHandler{
		service:     service,
		coordinator: coordinator,
		streamCfg:   streamCfg,
		logger:      log.NewModuleLogger("http", "chat"),
	}
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	Mode        string   `json:"mode"`
	DocumentIDs []string `json:"document_ids"`
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	Content     string   `json:"content" binding:"required"`
	Mode        string   `json:"mode"`
	DocumentIDs []string `json:"document_ids"`
}

// CreateSession 创建会话
// @Summary 创建会话
// @Tags 会话
// @Accept json
// @Produce json
// @Param body body CreateSessionRequest true "会话参数"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Router /chat/sessions [post]
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.Error(c, http.StatusBadRequest, codeBadRequest, "参数错误")
		return
	}

	session, err := h.service.CreateSession(chat.Mode(req.Mode), req.DocumentIDs)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.Success(c, session)
}

// ListSessions 会话列表
// @Summary 会话列表
// @Tags 会话
// @Produce json
// @Success 200 {object} response.Response
// @Router /chat/sessions [get]
func (h *ChatHandler) ListSessions(c *gin.Context) {
	summaries, err := h.service.ListSessions()
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.Success(c, summaries)
}

// GetSession 会话详情（含全部消息）
// @Summary 会话详情
// @Tags 会话
// @Produce json
// @Param sessionId path string true "会话 ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Router /chat/sessions/{sessionId} [get]
func (h *ChatHandler) GetSession(c *gin.Context) {
	session, err := h.service.GetSession(c.Param("sessionId"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.Success(c, session)
}

// DeleteSession 删除会话
// @Summary 删除会话
// @Tags 会话
// @Produce json
// @Param sessionId path string true "会话 ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Router /chat/sessions/{sessionId} [delete]
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	if err := h.service.DeleteSession(c.Param("sessionId")); err != nil {
		writeDomainError(c, err)
		return
	}
	response.Success(c, nil)
}

// StreamMessage 发送消息并以 SSE 流式返回助手回复
// @Summary 发送消息（SSE）
// @Tags 会话
// @Accept json
// @Produce text/event-stream
// @Param sessionId path string true "会话 ID"
// @Param body body SendMessageRequest true "消息内容"
// @Success 200 {string} string "SSE 事件流"
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /chat/sessions/{sessionId}/messages [post]
func (h *ChatHandler) StreamMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, codeBadRequest, "参数错误")
		return
	}

	writer, err := newSSEWriter(c.Writer, h.streamCfg.KeepaliveInterval)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, codeInternal, "当前连接不支持流式响应")
		return
	}
	defer writer.Close()

	turnErr := h.coordinator.StreamTurn(c.Request.Context(), appchat.TurnRequest{
		SessionID:   c.Param("sessionId"),
		Content:     req.Content,
		Mode:        chat.Mode(req.Mode),
		DocumentIDs: req.DocumentIDs,
	}, writer)

	if turnErr != nil {
		// 轮次未开始：还没写出任何 SSE 字节时退回普通 JSON 错误
		if !writer.Started() {
			writeDomainError(c, turnErr)
			return
		}
		h.logger.Error("turn rejected after stream began", "error", turnErr)
	}
}
