package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/casefile/backend/internal/domain/chat"
	"github.com/casefile/backend/internal/infrastructure/config"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStream 按脚本吐 token，之后返回指定错误
type scriptedStream struct {
	tokens []string
	err    error
	pos    int
}

func (s *scriptedStream) Recv() (string, error) {
	if s.pos < len(s.tokens) {
		t := s.tokens[s.pos]
		s.pos++
		return t, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error { return nil }

// fakeAttempt 单次调用的脚本：openErr 非空表示连接阶段失败
type fakeAttempt struct {
	openErr error
	stream  *scriptedStream
}

// fakeProvider 按调用顺序回放脚本
type fakeProvider struct {
	attempts []fakeAttempt
	calls    int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) OpenStream(ctx context.Context, req CompletionRequest) (TokenStream, error) {
	if p.calls >= len(p.attempts) {
		return nil, errors.New("unexpected extra attempt")
	}
	a := p.attempts[p.calls]
	p.calls++
	if a.openErr != nil {
		return nil, a.openErr
	}
	return a.stream, nil
}

func testLLMConfig() *config.LLMConfig {
	return &config.LLMConfig{
		Model:          "test-model",
		MaxTokens:      256,
		Temperature:    0.7,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func newTestGateway(p Provider) chat.ModelGateway {
	cfg := testLLMConfig()
	return NewGateway(cfg, p, NewPromptBuilder(cfg))
}

// collect 读空事件通道
func collect(t *testing.T, ch <-chan chat.StreamEvent) []chat.StreamEvent {
	t.Helper()
	var events []chat.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func tokensOf(events []chat.StreamEvent) string {
	var s string
	for _, ev := range events {
		if ev.Type == chat.StreamEventToken {
			s += ev.Content
		}
	}
	return s
}

func TestGateway_StreamsToCompletion(t *testing.T) {
	provider := &fakeProvider{attempts: []fakeAttempt{
		{stream: &scriptedStream{tokens: []string{"Hello", ", ", "world"}}},
	}}
	gw := newTestGateway(provider)

	events := collect(t, gw.StreamCompletion(context.Background(), nil, chat.ModeRegular, nil))

	require.NotEmpty(t, events)
	assert.Equal(t, "Hello, world", tokensOf(events))
	assert.Equal(t, chat.StreamEventDone, events[len(events)-1].Type)
	assert.Equal(t, 1, provider.calls)
}

func TestGateway_RetriesBeforeFirstToken(t *testing.T) {
	provider := &fakeProvider{attempts: []fakeAttempt{
		{openErr: errors.New("connection refused")},
		{stream: &scriptedStream{err: errors.New("reset before any token")}},
		{stream: &scriptedStream{tokens: []string{"ok"}}},
	}}
	gw := newTestGateway(provider)

	events := collect(t, gw.StreamCompletion(context.Background(), nil, chat.ModeRegular, nil))

	assert.Equal(t, "ok", tokensOf(events))
	assert.Equal(t, chat.StreamEventDone, events[len(events)-1].Type)
	assert.Equal(t, 3, provider.calls)
}

func TestGateway_NoRetryAfterFirstToken(t *testing.T) {
	provider := &fakeProvider{attempts: []fakeAttempt{
		{stream: &scriptedStream{tokens: []string{"partial "}, err: errors.New("connection reset")}},
		{stream: &scriptedStream{tokens: []string{"should never be seen"}}},
	}}
	gw := newTestGateway(provider)

	events := collect(t, gw.StreamCompletion(context.Background(), nil, chat.ModeRegular, nil))

	assert.Equal(t, "partial ", tokensOf(events))
	last := events[len(events)-1]
	require.Equal(t, chat.StreamEventError, last.Type)
	assert.ErrorIs(t, last.Err, chat.ErrStreamInterrupted)
	assert.Equal(t, 1, provider.calls, "must not reopen the stream once content was delivered")
}

func TestGateway_ExhaustedAttempts(t *testing.T) {
	provider := &fakeProvider{attempts: []fakeAttempt{
		{openErr: errors.New("unavailable")},
		{openErr: errors.New("unavailable")},
		{openErr: errors.New("unavailable")},
	}}
	gw := newTestGateway(provider)

	events := collect(t, gw.StreamCompletion(context.Background(), nil, chat.ModeRegular, nil))

	require.Len(t, events, 1)
	require.Equal(t, chat.StreamEventError, events[0].Type)
	assert.ErrorIs(t, events[0].Err, chat.ErrUpstreamUnavailable)
	assert.Equal(t, 3, provider.calls)
}

func TestGateway_NonRetryableFailsImmediately(t *testing.T) {
	provider := &fakeProvider{attempts: []fakeAttempt{
		{openErr: &openai.APIError{HTTPStatusCode: 401, Message: "invalid api key"}},
		{stream: &scriptedStream{tokens: []string{"should never be seen"}}},
	}}
	gw := newTestGateway(provider)

	events := collect(t, gw.StreamCompletion(context.Background(), nil, chat.ModeRegular, nil))

	require.Len(t, events, 1)
	require.Equal(t, chat.StreamEventError, events[0].Type)
	assert.ErrorIs(t, events[0].Err, chat.ErrUpstreamUnavailable)
	assert.Equal(t, 1, provider.calls, "auth errors must not be retried")
}

func TestGateway_ContextCancelStopsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{attempts: []fakeAttempt{
		{stream: &scriptedStream{tokens: []string{"a", "b", "c", "d"}}},
	}}
	gw := newTestGateway(provider)

	ch := gw.StreamCompletion(ctx, nil, chat.ModeRegular, nil)

	// 收到首个 token 后取消
	ev := <-ch
	require.Equal(t, chat.StreamEventToken, ev.Type)
	cancel()

	// 通道必须在取消后关闭，不得泄漏 goroutine
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("stream channel not closed after cancellation")
		}
	}
}
