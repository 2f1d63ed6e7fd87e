package chat

import "github.com/casefile/backend/internal/domain/chat"

// Transport 流式回复的下行通道抽象
// SSE 与 WebSocket 各自实现；任何方法返回错误都视为客户端断开
type Transport interface {
	// SendToken 下发一段内容增量
	SendToken(content string) error
	// SendDone 下发终态帧（正常完成）
	SendDone(message *chat.Message) error
	// SendError 下发终态帧（失败或中断），message 携带已保留的部分内容
	SendError(message *chat.Message, err error) error
}
