package chat

// SessionRepository 会话账本仓储接口
// 消息追加按会话内序号排序，单条消息只允许一次终态迁移
type SessionRepository interface {
	// CreateSession 创建空会话
	CreateSession(session *Session) error
	// FindSession 读取会话及全部消息，不存在时返回 nil
	FindSession(id string) (*Session, error)
	// SessionExists 检查会话是否存在
	SessionExists(id string) (bool, error)
	// ListSessions 按更新时间倒序返回会话摘要
	ListSessions() ([]*SessionSummary, error)
	// DeleteSession 删除会话及其消息，返回是否存在
	DeleteSession(id string) (bool, error)
	// UpdateSessionTitle 更新会话标题
	UpdateSessionTitle(sessionID, title string) error

	// AppendMessage 追加消息并持久化，自动分配会话内序号，
	// 同时将会话 updated_at 推进到消息时间戳
	AppendMessage(sessionID string, message *Message) error
	// UpdateAssistantContent 刷新未完成助手消息的部分内容
	UpdateAssistantContent(messageID, content string) error
	// FinalizeMessage 将流式消息迁移到终态，终态消息不可再修改
	FinalizeMessage(messageID, content string, status MessageStatus, errMsg string) error
	// MarkStreamingInterrupted 将所有遗留的 streaming 消息标记为 incomplete
	// （服务重启恢复，保证不会出现"静默续写"的假象）
	MarkStreamingInterrupted() (int64, error)
}
