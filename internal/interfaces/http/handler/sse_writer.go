package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/casefile/backend/internal/domain/chat"
)

// sseWriter 把流协调器的下行帧写成 SSE 事件
// 线格式：event: <type>\ndata: <json>\n\n，每帧立即 flush。
// 首帧之前定期发送注释行保活，让代理和客户端不超时
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu      sync.Mutex
	started bool
	closed  bool

	keepaliveStop chan struct{}
	keepaliveWg   sync.WaitGroup
}

// newSSEWriter 创建 SSE 写入器
// ResponseWriter 必须支持 Flush，keepalive <= 0 时不保活
func newSSEWriter(w http.ResponseWriter, keepalive time.Duration) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	sw := &sseWriter{
		w:             w,
		flusher:       flusher,
		keepaliveStop: make(chan struct{}),
	}

	if keepalive > 0 {
		sw.keepaliveWg.Add(1)
		go sw.keepaliveLoop(keepalive)
	}
	return sw, nil
}

// SendToken 下发内容增量
func (sw *sseWriter) SendToken(content string) error {
	return sw.writeEvent("token", map[string]any{
		"type":    "token",
		"content": content,
	})
}

// SendDone 下发完成帧
func (sw *sseWriter) SendDone(message *chat.Message) error {
	return sw.writeEvent("done", map[string]any{
		"type":       "done",
		"session_id": message.SessionID,
		"message_id": message.ID,
		"status":     message.Status,
	})
}

// SendError 下发错误帧
func (sw *sseWriter) SendError(message *chat.Message, err error) error {
	return sw.writeEvent("error", map[string]any{
		"type":       "error",
		"error":      err.Error(),
		"message_id": message.ID,
		"status":     message.Status,
	})
}

// Started 是否已写出任何字节
// 未开始时调用方仍可退回普通 JSON 错误响应
func (sw *sseWriter) Started() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.started
}

// Close 停止保活
func (sw *sseWriter) Close() {
	sw.mu.Lock()
	if sw.closed {
		sw.mu.Unlock()
		return
	}
	sw.closed = true
	sw.mu.Unlock()

	close(sw.keepaliveStop)
	sw.keepaliveWg.Wait()
}

// writeEvent 写出单个 SSE 事件
func (sw *sseWriter) writeEvent(event string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal sse payload: %w", err)
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.ensureHeaders()
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// ensureHeaders 在首次写出前设置流式响应头，调用方需持有锁
func (sw *sseWriter) ensureHeaders() {
	if sw.started {
		return
	}
	sw.started = true

	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
}

// keepaliveLoop 周期性写注释行保活
func (sw *sseWriter) keepaliveLoop(interval time.Duration) {
	defer sw.keepaliveWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.keepaliveStop:
			return
		case <-ticker.C:
			sw.mu.Lock()
			if sw.closed {
				sw.mu.Unlock()
				return
			}
			sw.ensureHeaders()
			if _, err := fmt.Fprint(sw.w, ": keepalive\n\n"); err != nil {
				sw.mu.Unlock()
				return
			}
			sw.flusher.Flush()
			sw.mu.Unlock()
		}
	}
}
