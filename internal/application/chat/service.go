package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	appdocument "github.com/casefile/backend/internal/application/document"
	"github.com/casefile/backend/internal/domain/chat"
	"github.com/casefile/backend/internal/domain/document"
	"github.com/casefile/backend/internal/infrastructure/log"
)

// titleMaxRunes 会话标题截断长度
const titleMaxRunes = 50

// Service 会话应用服务（会话生命周期管理）
type Service struct {
	sessions chat.SessionRepository
	docs     *appdocument.Service
	logger   *slog.Logger
}

// NewService 创建会话应用服务
func NewService(sessions chat.SessionRepository, docs *appdocument.Service) *Service {
	return &Service{
		sessions: sessions,
		docs:     docs,
		logger:   log.NewModuleLogger("chat", "service"),
	}
}

// CreateSession 创建新会话
// 引用的文档必须已存在，否则拒绝创建
func (s *Service) CreateSession(mode chat.Mode, documentIDs []string) (*chat.Session, error) {
	if mode == "" {
		mode = chat.ModeRegular
	}
	if !mode.Valid() {
		return nil, chat.ErrInvalidMode
	}
	if err := s.checkDocuments(documentIDs); err != nil {
		return nil, err
	}

	now := time.Now()
	session := &chat.Session{
		ID:          uuid.New().String(),
		Mode:        mode,
		DocumentIDs: documentIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.sessions.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("session created", "session_id", session.ID, "mode", mode, "documents", len(documentIDs))
	return session, nil
}

// GetSession 读取会话及全部消息
func (s *Service) GetSession(id string) (*chat.Session, error) {
	session, err := s.sessions.FindSession(id)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, chat.ErrSessionNotFound
	}
	return session, nil
}

// SessionExists 检查会话是否存在（不加载消息账本）
func (s *Service) SessionExists(id string) (bool, error) {
	exists, err := s.sessions.SessionExists(id)
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return exists, nil
}

// ListSessions 按更新时间倒序返回会话摘要
func (s *Service) ListSessions() ([]*chat.SessionSummary, error) {
	summaries, err := s.sessions.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return summaries, nil
}

// DeleteSession 删除会话及其消息
func (s *Service) DeleteSession(id string) error {
	existed, err := s.sessions.DeleteSession(id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if !existed {
		return chat.ErrSessionNotFound
	}
	s.logger.Info("session deleted", "session_id", id)
	return nil
}

// RecoverInterrupted 把遗留的 streaming 消息标记为 incomplete
// 在服务启动时调用，避免上次崩溃留下"进行中"的假象
func (s *Service) RecoverInterrupted() error {
	n, err := s.sessions.MarkStreamingInterrupted()
	if err != nil {
		return fmt.Errorf("failed to recover interrupted streams: %w", err)
	}
	if n > 0 {
		s.logger.Warn("marked interrupted streaming messages as incomplete", "count", n)
	}
	return nil
}

// checkDocuments 校验引用的文档都存在
func (s *Service) checkDocuments(ids []string) error {
	for _, id := range ids {
		if _, err := s.docs.Get(id); err != nil {
			if errors.Is(err, document.ErrNotFound) {
				return fmt.Errorf("%w: %s", chat.ErrUnknownDocument, id)
			}
			return fmt.Errorf("failed to check document %s: %w", id, err)
		}
	}
	return nil
}

// deriveTitle 从首条用户消息推导会话标题
func deriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if idx := strings.IndexAny(title, "\r\n"); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes]) + "..."
	}
	return title
}
