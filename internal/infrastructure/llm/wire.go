package llm

import (
	"github.com/casefile/backend/internal/infrastructure/config"
	"github.com/google/wire"
)

// ProviderSet LLM 基础设施层 ProviderSet
var ProviderSet = wire.NewSet(
	NewPromptBuilder,
	NewGateway,
	ProvideProvider,
)

// ProvideProvider 提供模型 Provider 实例（用于依赖注入）
func ProvideProvider(cfg *config.LLMConfig) Provider {
	return NewOpenAIProvider(cfg)
}
