package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/casefile/backend/internal/domain/chat"
	"github.com/casefile/backend/internal/infrastructure/log"
)

// sessionRepository 会话账本 SQLite 仓储实现
// messages 表只追加；助手消息的 streaming -> 终态迁移是唯一的 UPDATE 路径
type sessionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSessionRepository 创建会话账本仓储实例
func NewSessionRepository(db *sql.DB) (chat.SessionRepository, error) {
	if err := initSessionTables(db); err != nil {
		return nil, err
	}
	return &sessionRepository{
		db:     db,
		logger: log.NewModuleLogger("storage", "sessions"),
	}, nil
}

// initSessionTables 初始化会话与消息表
func initSessionTables(db *sql.DB) error {
	createSessionsSQL := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL,
		document_ids TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`

	if _, err := db.Exec(createSessionsSQL); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	// seq 是会话内序号，UNIQUE 约束保证消息顺序永不交错
	createMessagesSQL := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL,
		document_ids TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE(session_id, seq)
	);`

	if _, err := db.Exec(createMessagesSQL); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}

	createIndexSQL := `
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);`

	if _, err := db.Exec(createIndexSQL); err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}

	return nil
}

// CreateSession 创建空会话
func (r *sessionRepository) CreateSession(session *chat.Session) error {
	docIDs, err := json.Marshal(session.DocumentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal document ids: %w", err)
	}

	query := `
		INSERT INTO sessions (id, title, mode, document_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err = r.db.Exec(query,
		session.ID,
		session.Title,
		string(session.Mode),
		string(docIDs),
		session.CreatedAt.UnixMilli(),
		session.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindSession 读取会话及全部消息
func (r *sessionRepository) FindSession(id string) (*chat.Session, error) {
	query := `
		SELECT id, title, mode, document_ids, created_at, updated_at
		FROM sessions
		WHERE id = ?`

	var session chat.Session
	var mode, docIDs string
	var createdAt, updatedAt int64

	err := r.db.QueryRow(query, id).Scan(
		&session.ID, &session.Title, &mode, &docIDs, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session.Mode = chat.Mode(mode)
	session.CreatedAt = time.UnixMilli(createdAt)
	session.UpdatedAt = time.UnixMilli(updatedAt)
	if err := json.Unmarshal([]byte(docIDs), &session.DocumentIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document ids: %w", err)
	}

	messages, err := r.findMessages(id)
	if err != nil {
		return nil, err
	}
	session.Messages = messages
	return &session, nil
}

// findMessages 按序号读取会话消息
func (r *sessionRepository) findMessages(sessionID string) ([]*chat.Message, error) {
	query := `
		SELECT id, session_id, seq, role, content, mode, document_ids, status, error, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY seq`

	rows, err := r.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*chat.Message
	for rows.Next() {
		var m chat.Message
		var role, mode, status, docIDs string
		var createdAt int64

		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.Seq, &role, &m.Content,
			&mode, &docIDs, &status, &m.Error, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}

		m.Role = chat.Role(role)
		m.Mode = chat.Mode(mode)
		m.Status = chat.MessageStatus(status)
		m.Timestamp = time.UnixMilli(createdAt)
		if err := json.Unmarshal([]byte(docIDs), &m.DocumentIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message document ids: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// SessionExists 检查会话是否存在
func (r *sessionRepository) SessionExists(id string) (bool, error) {
	var one int
	err := r.db.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return true, nil
}

// ListSessions 按更新时间倒序返回会话摘要
func (r *sessionRepository) ListSessions() ([]*chat.SessionSummary, error) {
	query := `
		SELECT s.id, s.title, s.mode, s.document_ids, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at DESC, s.id`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*chat.SessionSummary
	for rows.Next() {
		var s chat.SessionSummary
		var mode, docIDs string
		var createdAt, updatedAt int64

		if err := rows.Scan(&s.ID, &s.Title, &mode, &docIDs, &createdAt, &updatedAt, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}

		s.Mode = chat.Mode(mode)
		s.CreatedAt = time.UnixMilli(createdAt)
		s.UpdatedAt = time.UnixMilli(updatedAt)
		if err := json.Unmarshal([]byte(docIDs), &s.DocumentIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document ids: %w", err)
		}
		summaries = append(summaries, &s)
	}
	return summaries, rows.Err()
}

// DeleteSession 删除会话及其消息
func (r *sessionRepository) DeleteSession(id string) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete session messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit session delete: %w", err)
	}
	return true, nil
}

// UpdateSessionTitle 更新会话标题
func (r *sessionRepository) UpdateSessionTitle(sessionID, title string) error {
	res, err := r.db.Exec(`UPDATE sessions SET title = ? WHERE id = ?`, title, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.ErrSessionNotFound
	}
	return nil
}

// AppendMessage 追加消息并持久化
// 在单个事务内分配序号、写入消息、推进会话 updated_at，
// 事务提交成功后消息即处于崩溃安全状态
func (r *sessionRepository) AppendMessage(sessionID string, message *chat.Message) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	if err := tx.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return chat.ErrSessionNotFound
		}
		return fmt.Errorf("failed to check session: %w", err)
	}

	var seq int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("failed to allocate message seq: %w", err)
	}

	docIDs, err := json.Marshal(message.DocumentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal message document ids: %w", err)
	}

	ts := message.Timestamp.UnixMilli()
	_, err = tx.Exec(`
		INSERT INTO messages (id, session_id, seq, role, content, mode, document_ids, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, sessionID, seq,
		string(message.Role), message.Content,
		string(message.Mode), string(docIDs),
		string(message.Status), message.Error, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	// updated_at 单调不减
	if _, err := tx.Exec(
		`UPDATE sessions SET updated_at = MAX(updated_at, ?) WHERE id = ?`, ts, sessionID,
	); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message append: %w", err)
	}

	message.SessionID = sessionID
	message.Seq = seq
	return nil
}

// UpdateAssistantContent 刷新未完成助手消息的部分内容
// 只作用于 streaming 状态的消息，终态消息不可触碰
func (r *sessionRepository) UpdateAssistantContent(messageID, content string) error {
	res, err := r.db.Exec(
		`UPDATE messages SET content = ? WHERE id = ? AND status = ?`,
		content, messageID, string(chat.StatusStreaming),
	)
	if err != nil {
		return fmt.Errorf("failed to update streaming content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.ErrMessageNotFound
	}
	return nil
}

// FinalizeMessage 将流式消息迁移到终态
// WHERE status = 'streaming' 保证终态迁移只发生一次
func (r *sessionRepository) FinalizeMessage(messageID, content string, status chat.MessageStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize requires a terminal status, got %q", status)
	}

	res, err := r.db.Exec(
		`UPDATE messages SET content = ?, status = ?, error = ? WHERE id = ? AND status = ?`,
		content, string(status), errMsg, messageID, string(chat.StatusStreaming),
	)
	if err != nil {
		return fmt.Errorf("failed to finalize message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.ErrMessageNotFound
	}
	return nil
}

// MarkStreamingInterrupted 启动恢复：把遗留的 streaming 消息标记为 incomplete
func (r *sessionRepository) MarkStreamingInterrupted() (int64, error) {
	res, err := r.db.Exec(
		`UPDATE messages SET status = ?, error = ? WHERE status = ?`,
		string(chat.StatusIncomplete),
		"stream interrupted by server restart",
		string(chat.StatusStreaming),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read recovery result: %w", err)
	}
	if n > 0 {
		r.logger.Warn("recovered interrupted streaming messages", "count", n)
	}
	return n, nil
}
