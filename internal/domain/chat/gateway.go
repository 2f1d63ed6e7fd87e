package chat

import "context"

// ModelGateway 模型网关能力接口
// 唯一能力：给定历史消息、模式与文档上下文，产出惰性的 token 流。
// 流不可续传：重试必须发起全新调用，且只允许发生在首 token 之前。
type ModelGateway interface {
	// StreamCompletion 发起一次流式补全
	// 返回的通道以 StreamEventDone 或 StreamEventError 收尾后关闭；
	// 取消 ctx 会立即释放底层连接
	StreamCompletion(ctx context.Context, history []*Message, mode Mode, docs []DocumentContext) <-chan StreamEvent
}
