package chat

import (
	"time"

	"github.com/casefile/backend/internal/domain/document"
)

// Mode 对话模式
// 模式只决定系统提示词与文档上下文策略，不改变流式处理路径
type Mode string

const (
	// ModeRegular 常规模式：上下文只包含文档标题引用
	ModeRegular Mode = "regular"
	// ModeDeepResearch 深度研究模式：上下文包含文档全文
	ModeDeepResearch Mode = "deep_research"
)

// Valid 检查模式是否合法
func (m Mode) Valid() bool {
	return m == ModeRegular || m == ModeDeepResearch
}

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus 消息状态
// 助手消息以 streaming 状态落库，流结束后只允许一次终态迁移
type MessageStatus string

const (
	// StatusStreaming 流式进行中（未完成的助手消息）
	StatusStreaming MessageStatus = "streaming"
	// StatusComplete 正常完成
	StatusComplete MessageStatus = "complete"
	// StatusIncomplete 流中断（客户端断开或服务重启），部分内容已保留
	StatusIncomplete MessageStatus = "incomplete"
	// StatusFailed 首 token 之前即失败，无内容产出
	StatusFailed MessageStatus = "failed"
)

// Terminal 是否为终态
func (s MessageStatus) Terminal() bool {
	return s == StatusComplete || s == StatusIncomplete || s == StatusFailed
}

// Message 会话中的一条消息
type Message struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Seq         int           `json:"seq"`
	Role        Role          `json:"role"`
	Content     string        `json:"content"`
	Mode        Mode          `json:"mode"`
	DocumentIDs []string      `json:"document_ids"`
	Status      MessageStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Session 对话会话，消息序列只追加不修改
type Session struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Mode        Mode       `json:"mode"`
	DocumentIDs []string   `json:"document_ids"`
	Messages    []*Message `json:"messages"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SessionSummary 会话摘要（索引视图，不含消息体）
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Mode         Mode      `json:"mode"`
	DocumentIDs  []string  `json:"document_ids"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ContextMessages 返回用于模型上下文的最近消息（排除 system 与未完成消息）
func (s *Session) ContextMessages(max int) []*Message {
	filtered := make([]*Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role == RoleSystem {
			continue
		}
		if m.Role == RoleAssistant && m.Status != StatusComplete {
			continue
		}
		filtered = append(filtered, m)
	}
	if max > 0 && len(filtered) > max {
		filtered = filtered[len(filtered)-max:]
	}
	return filtered
}

// DocumentContext 提供给模型网关的文档上下文
// Text 仅在深度研究模式下由协调器填充
type DocumentContext struct {
	Meta document.Document
	Text string
}

// StreamEventType 流事件类型
type StreamEventType string

const (
	// StreamEventToken 内容增量
	StreamEventToken StreamEventType = "token"
	// StreamEventError 流错误（终态）
	StreamEventError StreamEventType = "error"
	// StreamEventDone 正常结束（终态）
	StreamEventDone StreamEventType = "done"
)

// StreamEvent 模型网关产出的流事件
// 由流协调器独占消费，网关保证以 done 或 error 收尾
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Err     error
}
