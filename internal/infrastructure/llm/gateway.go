package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"log/slog"

	"github.com/casefile/backend/internal/domain/chat"
	"github.com/casefile/backend/internal/infrastructure/config"
	"github.com/casefile/backend/internal/infrastructure/log"
	"github.com/cenkalti/backoff/v4"
)

// Gateway 模型网关实现
// 核心规则：重试只允许发生在首 token 之前。一旦任何内容到达调用方，
// 该次调用即视为已交付，失败只能以 error 事件收尾，绝不自动重试
type Gateway struct {
	provider Provider
	prompts  *PromptBuilder
	cfg      *config.LLMConfig
	logger   *slog.Logger
}

// NewGateway 创建模型网关
func NewGateway(cfg *config.LLMConfig, provider Provider, prompts *PromptBuilder) chat.ModelGateway {
	return &Gateway{
		provider: provider,
		prompts:  prompts,
		cfg:      cfg,
		logger:   log.NewModuleLogger("llm", "gateway"),
	}
}

// StreamCompletion 发起一次流式补全
// 返回的通道以 done 或 error 事件收尾后关闭
func (g *Gateway) StreamCompletion(ctx context.Context, history []*chat.Message, mode chat.Mode, docs []chat.DocumentContext) <-chan chat.StreamEvent {
	out := make(chan chat.StreamEvent, 16)

	req := CompletionRequest{
		SystemPrompt: g.prompts.BuildSystemPrompt(mode, docs),
		History:      g.prompts.TrimHistory(history),
		MaxTokens:    g.cfg.MaxTokens,
		Temperature:  g.cfg.Temperature,
	}

	go g.run(ctx, req, out)
	return out
}

// run 带重试的流式调用主循环
func (g *Gateway) run(ctx context.Context, req CompletionRequest, out chan<- chat.StreamEvent) {
	defer close(out)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.InitialBackoff
	bo.MaxInterval = g.cfg.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.3
	bo.MaxElapsedTime = 0

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		delivered, err := g.attempt(ctx, req, out)
		if err == nil {
			// attempt 内部已发送 done 事件
			return
		}

		if delivered {
			// 首 token 已交付，重试会导致内容重复
			g.logger.Error("stream failed after first token, not retrying",
				"provider", g.provider.Name(),
				"attempt", attempt,
				"error", err,
			)
			g.send(ctx, out, chat.StreamEvent{Type: chat.StreamEventError, Err: fmt.Errorf("%w: %v", chat.ErrStreamInterrupted, err)})
			return
		}

		if ctx.Err() != nil {
			g.send(ctx, out, chat.StreamEvent{Type: chat.StreamEventError, Err: ctx.Err()})
			return
		}

		if isNonRetryable(err) {
			g.logger.Error("non-retryable upstream error",
				"provider", g.provider.Name(),
				"error", err,
			)
			g.send(ctx, out, chat.StreamEvent{Type: chat.StreamEventError, Err: fmt.Errorf("%w: %v", chat.ErrUpstreamUnavailable, err)})
			return
		}

		lastErr = err
		if attempt < g.cfg.MaxAttempts {
			wait := bo.NextBackOff()
			g.logger.Warn("upstream attempt failed before first token, retrying",
				"provider", g.provider.Name(),
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				g.send(ctx, out, chat.StreamEvent{Type: chat.StreamEventError, Err: ctx.Err()})
				return
			}
		}
	}

	g.logger.Error("upstream attempts exhausted",
		"provider", g.provider.Name(),
		"attempts", g.cfg.MaxAttempts,
		"error", lastErr,
	)
	g.send(ctx, out, chat.StreamEvent{Type: chat.StreamEventError, Err: fmt.Errorf("%w: %v", chat.ErrUpstreamUnavailable, lastErr)})
}

// attempt 执行单次流式调用
// 返回 delivered 表示本次尝试是否已向调用方交付过内容；
// err 为 nil 表示流正常结束且 done 事件已发送
func (g *Gateway) attempt(ctx context.Context, req CompletionRequest, out chan<- chat.StreamEvent) (delivered bool, err error) {
	stream, err := g.provider.OpenStream(ctx, req)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			g.send(ctx, out, chat.StreamEvent{Type: chat.StreamEventDone})
			return delivered, nil
		}
		if err != nil {
			return delivered, err
		}
		if token == "" {
			continue
		}

		delivered = true
		if !g.send(ctx, out, chat.StreamEvent{Type: chat.StreamEventToken, Content: token}) {
			return delivered, ctx.Err()
		}
	}
}

// send 发送事件，ctx 取消时放弃发送
func (g *Gateway) send(ctx context.Context, out chan<- chat.StreamEvent, ev chat.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
