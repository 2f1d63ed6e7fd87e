package chat

import "errors"

var (
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("session not found")
	// ErrMessageNotFound 消息不存在
	ErrMessageNotFound = errors.New("message not found")
	// ErrEmptyMessage 消息内容为空
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrInvalidMode 非法的对话模式
	ErrInvalidMode = errors.New("invalid chat mode")
	// ErrUnknownDocument 引用了不存在的文档
	ErrUnknownDocument = errors.New("unknown document reference")
	// ErrTurnInProgress 同一会话已有进行中的对话轮次
	ErrTurnInProgress = errors.New("another turn is in progress for this session")
	// ErrUpstreamUnavailable 首 token 之前重试次数耗尽
	ErrUpstreamUnavailable = errors.New("upstream model unavailable")
	// ErrStreamInterrupted 流开始后被中断（错误或客户端断开）
	ErrStreamInterrupted = errors.New("stream interrupted")
	// ErrAccumulatorOverflow 助手回复超出累积器上限
	ErrAccumulatorOverflow = errors.New("assistant reply exceeds accumulator limit")
)
