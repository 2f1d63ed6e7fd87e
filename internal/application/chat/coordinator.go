package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	appdocument "github.com/casefile/backend/internal/application/document"
	"github.com/casefile/backend/internal/domain/chat"
	"github.com/casefile/backend/internal/domain/document"
	"github.com/casefile/backend/internal/infrastructure/config"
	"github.com/casefile/backend/internal/infrastructure/log"
)

// TurnRequest 一次对话轮次的输入
type TurnRequest struct {
	SessionID   string
	Content     string
	Mode        chat.Mode
	DocumentIDs []string
}

// Coordinator 流协调器
// 编排一次完整的对话轮次：落用户消息、建待定助手消息、
// 消费网关事件流、周期性刷账本、保证恰好一次终态迁移和一个终态帧
type Coordinator struct {
	sessions chat.SessionRepository
	docs     *appdocument.Service
	gateway  chat.ModelGateway
	cfg      *config.StreamConfig
	turns    *keyedLock
	logger   *slog.Logger
}

// NewCoordinator 创建流协调器
func NewCoordinator(
	sessions chat.SessionRepository,
	docs *appdocument.Service,
	gateway chat.ModelGateway,
	cfg *config.StreamConfig,
) *Coordinator {
	return &Coordinator{
		sessions: sessions,
		docs:     docs,
		gateway:  gateway,
		cfg:      cfg,
		turns:    newKeyedLock(),
		logger:   log.NewModuleLogger("chat", "coordinator"),
	}
}

// StreamTurn 执行一次对话轮次
// 返回非 nil 错误表示轮次未开始、transport 未被使用，由调用方以普通响应拒绝；
// 一旦开始流式输出，所有后续结果都通过 transport 的终态帧交付，返回值为 nil
func (c *Coordinator) StreamTurn(ctx context.Context, req TurnRequest, transport Transport) error {
	if strings.TrimSpace(req.Content) == "" {
		return chat.ErrEmptyMessage
	}
	if req.Mode != "" && !req.Mode.Valid() {
		return chat.ErrInvalidMode
	}

	if !c.turns.TryLock(req.SessionID) {
		return chat.ErrTurnInProgress
	}
	defer c.turns.Unlock(req.SessionID)

	session, err := c.sessions.FindSession(req.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return chat.ErrSessionNotFound
	}

	mode := req.Mode
	if mode == "" {
		mode = session.Mode
	}

	docIDs := mergeIDs(session.DocumentIDs, req.DocumentIDs)
	docCtx, err := c.resolveDocuments(docIDs, mode)
	if err != nil {
		return err
	}

	userMsg := &chat.Message{
		ID:          uuid.New().String(),
		SessionID:   session.ID,
		Role:        chat.RoleUser,
		Content:     req.Content,
		Mode:        mode,
		DocumentIDs: req.DocumentIDs,
		Status:      chat.StatusComplete,
		Timestamp:   time.Now(),
	}
	if err := c.sessions.AppendMessage(session.ID, userMsg); err != nil {
		return fmt.Errorf("failed to append user message: %w", err)
	}
	session.Messages = append(session.Messages, userMsg)

	if session.Title == "" {
		title := deriveTitle(req.Content)
		if err := c.sessions.UpdateSessionTitle(session.ID, title); err != nil {
			c.logger.Error("failed to set session title", "session_id", session.ID, "error", err)
		}
	}

	// 助手消息先以 streaming 状态落库，崩溃后可被启动恢复识别
	assistant := &chat.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      chat.RoleAssistant,
		Mode:      mode,
		Status:    chat.StatusStreaming,
		Timestamp: time.Now(),
	}
	if err := c.sessions.AppendMessage(session.ID, assistant); err != nil {
		return fmt.Errorf("failed to append assistant message: %w", err)
	}

	c.runStream(ctx, session, assistant, mode, docCtx, transport)
	return nil
}

// runStream 消费网关事件流直至终态
func (c *Coordinator) runStream(
	ctx context.Context,
	session *chat.Session,
	assistant *chat.Message,
	mode chat.Mode,
	docCtx []chat.DocumentContext,
	transport Transport,
) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	history := session.ContextMessages(0)
	events := c.gateway.StreamCompletion(streamCtx, history, mode, docCtx)

	var acc strings.Builder
	sinceFlush := 0

	for ev := range events {
		switch ev.Type {
		case chat.StreamEventToken:
			if acc.Len()+len(ev.Content) > c.cfg.MaxReplyBytes {
				c.logger.Warn("assistant reply exceeded accumulator limit",
					"session_id", session.ID,
					"message_id", assistant.ID,
					"limit", c.cfg.MaxReplyBytes,
				)
				cancel()
				c.finalize(assistant, acc.String(), chat.StatusIncomplete, chat.ErrAccumulatorOverflow.Error())
				_ = transport.SendError(assistant, chat.ErrAccumulatorOverflow)
				c.drain(events)
				return
			}
			acc.WriteString(ev.Content)
			sinceFlush++

			if err := transport.SendToken(ev.Content); err != nil {
				// 客户端断开：停掉上游，保留已产出的部分内容
				c.logger.Info("client disconnected mid-stream",
					"session_id", session.ID,
					"message_id", assistant.ID,
					"received_bytes", acc.Len(),
				)
				cancel()
				c.finalize(assistant, acc.String(), chat.StatusIncomplete, "client disconnected")
				c.drain(events)
				return
			}

			if c.cfg.FlushEveryTokens > 0 && sinceFlush >= c.cfg.FlushEveryTokens {
				sinceFlush = 0
				if err := c.sessions.UpdateAssistantContent(assistant.ID, acc.String()); err != nil {
					c.logger.Error("failed to flush partial content",
						"message_id", assistant.ID,
						"error", err,
					)
				}
			}

		case chat.StreamEventDone:
			c.finalize(assistant, acc.String(), chat.StatusComplete, "")
			if err := transport.SendDone(assistant); err != nil {
				c.logger.Info("client disconnected before done frame", "message_id", assistant.ID)
			}
			c.logger.Info("turn completed",
				"session_id", session.ID,
				"message_id", assistant.ID,
				"reply_bytes", acc.Len(),
			)
			return

		case chat.StreamEventError:
			status := chat.StatusFailed
			if acc.Len() > 0 {
				// 已交付过内容，部分回复保留为 incomplete
				status = chat.StatusIncomplete
			}
			c.finalize(assistant, acc.String(), status, errMessage(ev.Err))
			_ = transport.SendError(assistant, ev.Err)
			c.logger.Error("turn ended with error",
				"session_id", session.ID,
				"message_id", assistant.ID,
				"status", status,
				"error", ev.Err,
			)
			return
		}
	}

	// 网关保证以终态事件收尾；通道意外关闭按中断处理
	c.finalize(assistant, acc.String(), chat.StatusIncomplete, "stream ended unexpectedly")
	_ = transport.SendError(assistant, chat.ErrStreamInterrupted)
}

// finalize 执行恰好一次的终态迁移并同步内存中的消息
func (c *Coordinator) finalize(assistant *chat.Message, content string, status chat.MessageStatus, errMsg string) {
	if err := c.sessions.FinalizeMessage(assistant.ID, content, status, errMsg); err != nil {
		c.logger.Error("failed to finalize assistant message",
			"message_id", assistant.ID,
			"status", status,
			"error", err,
		)
	}
	assistant.Content = content
	assistant.Status = status
	assistant.Error = errMsg
}

// drain 读空已取消的事件通道，让网关 goroutine 尽快退出
func (c *Coordinator) drain(events <-chan chat.StreamEvent) {
	for range events {
	}
}

// resolveDocuments 解析文档上下文
// 深度研究模式内联文档全文，常规模式只携带元信息
func (c *Coordinator) resolveDocuments(ids []string, mode chat.Mode) ([]chat.DocumentContext, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]chat.DocumentContext, 0, len(ids))
	for _, id := range ids {
		if mode == chat.ModeDeepResearch {
			doc, data, err := c.docs.GetContent(id)
			if err != nil {
				if errors.Is(err, document.ErrNotFound) {
					return nil, fmt.Errorf("%w: %s", chat.ErrUnknownDocument, id)
				}
				return nil, fmt.Errorf("failed to load document %s: %w", id, err)
			}
			out = append(out, chat.DocumentContext{Meta: *doc, Text: string(data)})
			continue
		}

		doc, err := c.docs.Get(id)
		if err != nil {
			if errors.Is(err, document.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", chat.ErrUnknownDocument, id)
			}
			return nil, fmt.Errorf("failed to load document %s: %w", id, err)
		}
		out = append(out, chat.DocumentContext{Meta: *doc})
	}
	return out, nil
}

// mergeIDs 合并会话与请求引用的文档 ID，去重且保持顺序
func mergeIDs(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, id := range base {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range extra {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// errMessage 终态错误描述
func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
