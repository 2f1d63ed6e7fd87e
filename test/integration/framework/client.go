//go:build integration
// +build integration

// APIClient 基于 resty 封装的 HTTP 客户端，直接复用业务结构体
package framework

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domainChat "github.com/casefile/backend/internal/domain/chat"
	domainDocument "github.com/casefile/backend/internal/domain/document"
	"github.com/go-resty/resty/v2"
)

// APIClient 测试用 HTTP 客户端
type APIClient struct {
	client  *resty.Client
	baseURL string
}

// NewAPIClient 创建测试用 HTTP 客户端
func NewAPIClient(baseURL string) *APIClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)

	return &APIClient{
		client:  client,
		baseURL: baseURL,
	}
}

// --- 通用响应结构 ---

// APIResponse 通用 API 响应（复用 response.Response 的 JSON 结构）
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// --- 各接口 Data 结构（与 handler 返回的 gin.H 对应） ---

// UploadItem 单个文件的上传结果
type UploadItem struct {
	Filename string                   `json:"filename"`
	Document *domainDocument.Document `json:"document,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// UploadData POST /documents 响应 data
type UploadData struct {
	Results   []UploadItem `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// do 执行请求并统一处理成功/错误响应的 JSON 解析
// resty 的 SetResult 仅在 2xx 时解析，SetError 在 4xx/5xx 时解析
// 由于两者的 code/message 字段一致，用同类型接收即可
func do[T any](r *resty.Request, result *APIResponse[T]) *resty.Request {
	return r.SetResult(result).SetError(result)
}

// --- 健康检查 ---

// HealthCheck 健康检查
func (c *APIClient) HealthCheck() error {
	resp, err := c.client.R().Get("/health")
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode())
	}
	return nil
}

// --- 文档管理 ---

// UploadDocument 上传单个文档
func (c *APIClient) UploadDocument(filename string, content []byte) (*APIResponse[UploadData], error) {
	var result APIResponse[UploadData]
	_, err := do(c.client.R().
		SetFileReader("files", filename, strings.NewReader(string(content))), &result).
		Post("/api/v1/documents")
	return &result, err
}

// ListDocuments 获取文档列表
func (c *APIClient) ListDocuments() (*APIResponse[[]*domainDocument.Document], error) {
	var result APIResponse[[]*domainDocument.Document]
	_, err := do(c.client.R(), &result).
		Get("/api/v1/documents")
	return &result, err
}

// GetDocument 获取文档详情
func (c *APIClient) GetDocument(id string) (*APIResponse[*domainDocument.Document], error) {
	var result APIResponse[*domainDocument.Document]
	_, err := do(c.client.R(), &result).
		Get(fmt.Sprintf("/api/v1/documents/%s", id))
	return &result, err
}

// GetDocumentContent 下载文档内容
func (c *APIClient) GetDocumentContent(id string) ([]byte, int, error) {
	resp, err := c.client.R().
		Get(fmt.Sprintf("/api/v1/documents/%s/content", id))
	if err != nil {
		return nil, 0, err
	}
	return resp.Body(), resp.StatusCode(), nil
}

// DeleteDocument 删除文档
func (c *APIClient) DeleteDocument(id string) (*APIResponse[any], int, error) {
	var result APIResponse[any]
	resp, err := do(c.client.R(), &result).
		Delete(fmt.Sprintf("/api/v1/documents/%s", id))
	if err != nil {
		return nil, 0, err
	}
	return &result, resp.StatusCode(), nil
}

// GetStorageStats 获取存储统计
func (c *APIClient) GetStorageStats() (*APIResponse[domainDocument.StorageStats], error) {
	var result APIResponse[domainDocument.StorageStats]
	_, err := do(c.client.R(), &result).
		Get("/api/v1/documents/stats")
	return &result, err
}

// --- 会话管理 ---

// CreateSessionBody 创建会话请求体
type CreateSessionBody struct {
	Mode        string   `json:"mode,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// CreateSession 创建会话
func (c *APIClient) CreateSession(body CreateSessionBody) (*APIResponse[*domainChat.Session], int, error) {
	var result APIResponse[*domainChat.Session]
	resp, err := do(c.client.R().SetBody(body), &result).
		Post("/api/v1/chat/sessions")
	if err != nil {
		return nil, 0, err
	}
	return &result, resp.StatusCode(), nil
}

// ListSessions 获取会话列表
func (c *APIClient) ListSessions() (*APIResponse[[]*domainChat.SessionSummary], error) {
	var result APIResponse[[]*domainChat.SessionSummary]
	_, err := do(c.client.R(), &result).
		Get("/api/v1/chat/sessions")
	return &result, err
}

// GetSession 获取会话详情（含消息账本）
func (c *APIClient) GetSession(id string) (*APIResponse[*domainChat.Session], int, error) {
	var result APIResponse[*domainChat.Session]
	resp, err := do(c.client.R(), &result).
		Get(fmt.Sprintf("/api/v1/chat/sessions/%s", id))
	if err != nil {
		return nil, 0, err
	}
	return &result, resp.StatusCode(), nil
}

// DeleteSession 删除会话
func (c *APIClient) DeleteSession(id string) (*APIResponse[any], int, error) {
	var result APIResponse[any]
	resp, err := do(c.client.R(), &result).
		Delete(fmt.Sprintf("/api/v1/chat/sessions/%s", id))
	if err != nil {
		return nil, 0, err
	}
	return &result, resp.StatusCode(), nil
}

// --- 消息流 ---

// SSEEvent 一帧 SSE 事件
type SSEEvent struct {
	Event string
	Data  json.RawMessage
}

// SendMessageBody 发送消息请求体
type SendMessageBody struct {
	Content     string   `json:"content"`
	Mode        string   `json:"mode,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// StreamMessage 发送消息并读取完整 SSE 事件流
// 在流式响应场景返回全部事件帧；在前置校验失败场景返回 JSON 错误
func (c *APIClient) StreamMessage(sessionID string, body SendMessageBody) ([]SSEEvent, *APIResponse[any], int, error) {
	resp, err := c.client.R().
		SetBody(body).
		SetDoNotParseResponse(true).
		Post(fmt.Sprintf("/api/v1/chat/sessions/%s/messages", sessionID))
	if err != nil {
		return nil, nil, 0, err
	}
	defer resp.RawBody().Close()

	contentType := resp.Header().Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/event-stream") {
		// 前置错误走 JSON 响应
		var errResp APIResponse[any]
		if err := json.NewDecoder(resp.RawBody()).Decode(&errResp); err != nil {
			return nil, nil, resp.StatusCode(), fmt.Errorf("failed to decode error response: %w", err)
		}
		return nil, &errResp, resp.StatusCode(), nil
	}

	events, err := readSSE(resp.RawBody())
	return events, nil, resp.StatusCode(), err
}

// readSSE 解析 SSE 帧直到流结束，忽略注释行（保活）
func readSSE(body interface{ Read([]byte) (int, error) }) ([]SSEEvent, error) {
	var events []SSEEvent
	var current SSEEvent

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.Event != "" || current.Data != nil {
				events = append(events, current)
				current = SSEEvent{}
			}
		case strings.HasPrefix(line, ":"):
			// 保活注释，跳过
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = json.RawMessage(strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("failed to read event stream: %w", err)
	}
	return events, nil
}

// TokenText 拼接事件流中全部 token 帧的内容
func TokenText(events []SSEEvent) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Event != "token" {
			continue
		}
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err == nil {
			sb.WriteString(payload.Content)
		}
	}
	return sb.String()
}

// LastEvent 返回最后一帧事件（终止帧）
func LastEvent(events []SSEEvent) (SSEEvent, bool) {
	if len(events) == 0 {
		return SSEEvent{}, false
	}
	return events[len(events)-1], true
}
