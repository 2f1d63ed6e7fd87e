package llm

import (
	"context"
	"errors"

	"log/slog"

	"github.com/casefile/backend/internal/infrastructure/config"
	"github.com/casefile/backend/internal/infrastructure/log"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider OpenAI 兼容 API 的流式补全提供方
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIProvider 创建 OpenAI 提供方
func NewOpenAIProvider(cfg *config.LLMConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: log.NewModuleLogger("llm", "openai"),
	}
}

// Name 提供方标识
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// OpenStream 发起流式补全调用
func (p *OpenAIProvider) OpenStream(ctx context.Context, req CompletionRequest) (TokenStream, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.SystemPrompt,
	})
	for _, m := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	p.logger.Debug("opening completion stream",
		"model", p.model,
		"messages", len(messages),
	)

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}

	return &openaiTokenStream{stream: stream}, nil
}

// openaiTokenStream go-openai 流的 TokenStream 适配
type openaiTokenStream struct {
	stream *openai.ChatCompletionStream
}

// Recv 返回下一段内容增量
func (s *openaiTokenStream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		// io.EOF 原样透传表示正常结束
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

// Close 释放底层连接
func (s *openaiTokenStream) Close() error {
	return s.stream.Close()
}

// isNonRetryable 判断连接阶段错误是否不可重试
// 认证、权限与请求格式错误重试不会成功；限流与 5xx 可以重试
func isNonRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return nonRetryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return nonRetryableStatus(reqErr.HTTPStatusCode)
	}
	return false
}

// nonRetryableStatus 不可重试的 HTTP 状态码
func nonRetryableStatus(code int) bool {
	switch code {
	case 400, 401, 403, 404, 422:
		return true
	}
	return false
}
