//go:build integration
// +build integration

package framework

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockLLM 模拟 OpenAI 兼容的流式补全服务
// 守护进程通过 CASEFILE_LLM_BASE_URL 指向它
type MockLLM struct {
	server *httptest.Server

	mu     sync.Mutex
	reply  []string // 按 token 切分的回复内容
	fail   bool     // true 时返回 500
	protos []ReceivedPrompt
}

// ReceivedPrompt 记录一次补全请求的关键字段，供断言使用
type ReceivedPrompt struct {
	Model    string
	System   string
	Messages int
}

// NewMockLLM 启动模拟服务
func NewMockLLM() *MockLLM {
	m := &MockLLM{
		reply: []string{"你好", "，", "已收到", "。"},
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// BaseURL 返回模拟服务的 v1 地址
func (m *MockLLM) BaseURL() string {
	return m.server.URL + "/v1"
}

// SetReply 设置下次请求的回复 token 序列
func (m *MockLLM) SetReply(tokens ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = tokens
}

// SetFail 设置是否让请求直接失败
func (m *MockLLM) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// Prompts 返回已接收的请求记录
func (m *MockLLM) Prompts() []ReceivedPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReceivedPrompt, len(m.protos))
	copy(out, m.protos)
	return out
}

// Close 关闭模拟服务
func (m *MockLLM) Close() {
	m.server.Close()
}

func (m *MockLLM) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}

	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	rec := ReceivedPrompt{Model: req.Model, Messages: len(req.Messages)}
	if len(req.Messages) > 0 && req.Messages[0].Role == "system" {
		rec.System = req.Messages[0].Content
	}
	m.protos = append(m.protos, rec)
	fail := m.fail
	tokens := make([]string, len(m.reply))
	copy(tokens, m.reply)
	m.mu.Unlock()

	if fail {
		http.Error(w, `{"error":{"message":"mock upstream failure"}}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)

	for _, tok := range tokens {
		chunk := map[string]interface{}{
			"id":     "chatcmpl-mock",
			"object": "chat.completion.chunk",
			"model":  req.Model,
			"choices": []map[string]interface{}{
				{"index": 0, "delta": map[string]string{"content": tok}},
			},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
