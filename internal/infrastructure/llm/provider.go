package llm

import (
	"context"

	"github.com/casefile/backend/internal/domain/chat"
)

// TokenStream 单次流式调用的惰性 token 序列
// 流不可续传，重试必须通过 Provider 重新发起调用
type TokenStream interface {
	// Recv 返回下一段内容增量；流正常结束返回 io.EOF
	Recv() (string, error)
	// Close 立即释放底层连接
	Close() error
}

// CompletionRequest 发往上游的补全请求（模式整形已完成）
type CompletionRequest struct {
	SystemPrompt string
	History      []*chat.Message
	MaxTokens    int
	Temperature  float32
}

// Provider 上游补全提供方
// 具体提供方（OpenAI 兼容 API、本地模型等）都实现此接口，由配置选择
type Provider interface {
	// Name 提供方标识，用于日志
	Name() string
	// OpenStream 发起新的流式调用
	// 返回 error 表示连接阶段失败（未产出任何内容，可安全重试）
	OpenStream(ctx context.Context, req CompletionRequest) (TokenStream, error)
}
