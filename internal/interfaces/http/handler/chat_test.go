package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appchat "github.com/casefile/backend/internal/application/chat"
	appdocument "github.com/casefile/backend/internal/application/document"
	"github.com/casefile/backend/internal/domain/chat"
	"github.com/casefile/backend/internal/infrastructure/config"
	"github.com/casefile/backend/internal/infrastructure/storage"
)

// scriptedGateway 固定回放事件序列的模型网关
type scriptedGateway struct {
	events []chat.StreamEvent
}

func (g *scriptedGateway) StreamCompletion(ctx context.Context, history []*chat.Message, mode chat.Mode, docs []chat.DocumentContext) <-chan chat.StreamEvent {
	out := make(chan chat.StreamEvent, len(g.events))
	go func() {
		defer close(out)
		for _, ev := range g.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// delayedGateway 首 token 前挂起一段时间的模型网关
type delayedGateway struct {
	delay  time.Duration
	events []chat.StreamEvent
}

func (g *delayedGateway) StreamCompletion(ctx context.Context, history []*chat.Message, mode chat.Mode, docs []chat.DocumentContext) <-chan chat.StreamEvent {
	out := make(chan chat.StreamEvent, len(g.events))
	go func() {
		defer close(out)
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return
		}
		for _, ev := range g.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// setupChatRouter 创建带真实 SQLite 账本的测试路由
func setupChatRouter(t *testing.T, gw chat.ModelGateway) (*gin.Engine, *appchat.Service) {
	t.Helper()
	return setupChatRouterCfg(t, gw, &config.StreamConfig{
		FlushEveryTokens:  2,
		MaxReplyBytes:     1 << 20,
		KeepaliveInterval: time.Minute,
	})
}

func setupChatRouterCfg(t *testing.T, gw chat.ModelGateway, streamCfg *config.StreamConfig) (*gin.Engine, *appchat.Service) {
	t.Helper()

	dir := t.TempDir()
	db, err := storage.OpenDB(&config.DatabaseConfig{Path: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sessionRepo, err := storage.NewSessionRepository(db)
	require.NoError(t, err)
	docRepo, err := storage.NewDocumentRepository(db)
	require.NoError(t, err)
	blobs, err := storage.NewBlobStore(&config.StorageConfig{BlobDir: filepath.Join(dir, "blobs")})
	require.NoError(t, err)

	docs := appdocument.NewService(docRepo, blobs, &config.UploadConfig{MaxSizeMB: 1})
	service := appchat.NewService(sessionRepo, docs)
	coordinator := appchat.NewCoordinator(sessionRepo, docs, gw, streamCfg)
	h := NewChatHandler(service, coordinator, streamCfg)

	router := gin.New()
	sessions := router.Group("/api/v1/chat/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/:sessionId", h.GetSession)
		sessions.DELETE("/:sessionId", h.DeleteSession)
		sessions.POST("/:sessionId/messages", h.StreamMessage)
		sessions.GET("/:sessionId/ws", h.StreamWS)
	}
	return router, service
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestChatHandler_SessionLifecycle(t *testing.T) {
	router, _ := setupChatRouter(t, &scriptedGateway{})

	w := postJSON(t, router, "/api/v1/chat/sessions", CreateSessionRequest{Mode: "deep_research"})
	require.Equal(t, http.StatusOK, w.Code)

	var created struct {
		Data chat.Session `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.ID)
	assert.Equal(t, chat.ModeDeepResearch, created.Data.Mode)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/sessions", nil)
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/chat/sessions/"+created.Data.ID, nil)
	w3 := httptest.NewRecorder()
	router.ServeHTTP(w3, req)
	assert.Equal(t, http.StatusOK, w3.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/chat/sessions/"+created.Data.ID, nil)
	w4 := httptest.NewRecorder()
	router.ServeHTTP(w4, req)
	assert.Equal(t, http.StatusNotFound, w4.Code)
}

func TestChatHandler_CreateSessionInvalidMode(t *testing.T) {
	router, _ := setupChatRouter(t, &scriptedGateway{})

	w := postJSON(t, router, "/api/v1/chat/sessions", CreateSessionRequest{Mode: "turbo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandler_StreamMessageSSE(t *testing.T) {
	gw := &scriptedGateway{events: []chat.StreamEvent{
		{Type: chat.StreamEventToken, Content: "Hello"},
		{Type: chat.StreamEventToken, Content: " there"},
		{Type: chat.StreamEventDone},
	}}
	router, service := setupChatRouter(t, gw)

	session, err := service.CreateSession(chat.ModeRegular, nil)
	require.NoError(t, err)

	w := postJSON(t, router, "/api/v1/chat/sessions/"+session.ID+"/messages", SendMessageRequest{Content: "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "event: token")
	assert.Contains(t, body, `"content":"Hello"`)
	assert.Contains(t, body, "event: done")

	// 账本中留下完整的对话记录
	stored, err := service.GetSession(session.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, chat.RoleUser, stored.Messages[0].Role)
	assert.Equal(t, chat.StatusComplete, stored.Messages[1].Status)
	assert.Equal(t, "Hello there", stored.Messages[1].Content)
}

func TestChatHandler_StreamMessageUpstreamError(t *testing.T) {
	gw := &scriptedGateway{events: []chat.StreamEvent{
		{Type: chat.StreamEventError, Err: chat.ErrUpstreamUnavailable},
	}}
	router, service := setupChatRouter(t, gw)

	session, err := service.CreateSession(chat.ModeRegular, nil)
	require.NoError(t, err)

	w := postJSON(t, router, "/api/v1/chat/sessions/"+session.ID+"/messages", SendMessageRequest{Content: "hi"})
	require.Equal(t, http.StatusOK, w.Code, "stream already began, error arrives as SSE frame")

	body := w.Body.String()
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, `"status":"failed"`)
}

func TestChatHandler_StreamMessageKeepalive(t *testing.T) {
	gw := &delayedGateway{
		delay: 80 * time.Millisecond,
		events: []chat.StreamEvent{
			{Type: chat.StreamEventToken, Content: "ok"},
			{Type: chat.StreamEventDone},
		},
	}
	router, service := setupChatRouterCfg(t, gw, &config.StreamConfig{
		FlushEveryTokens:  2,
		MaxReplyBytes:     1 << 20,
		KeepaliveInterval: 10 * time.Millisecond,
	})

	session, err := service.CreateSession(chat.ModeRegular, nil)
	require.NoError(t, err)

	w := postJSON(t, router, "/api/v1/chat/sessions/"+session.ID+"/messages", SendMessageRequest{Content: "hi"})
	require.Equal(t, http.StatusOK, w.Code)

	// 上游挂起期间先出现保活注释行，首个 token 帧在其后
	body := w.Body.String()
	keepaliveIdx := strings.Index(body, ": keepalive")
	tokenIdx := strings.Index(body, "event: token")
	require.GreaterOrEqual(t, keepaliveIdx, 0, "keepalive comment frame before first token")
	require.GreaterOrEqual(t, tokenIdx, 0)
	assert.Less(t, keepaliveIdx, tokenIdx)
	assert.Contains(t, body, "event: done")
}

func TestChatHandler_StreamWSUnknownSessionRejectedBeforeUpgrade(t *testing.T) {
	router, _ := setupChatRouter(t, &scriptedGateway{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/sessions/missing/ws", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestChatHandler_StreamMessageRejectsBeforeStream(t *testing.T) {
	router, _ := setupChatRouter(t, &scriptedGateway{})

	// 会话不存在：普通 JSON 错误而非 SSE
	w := postJSON(t, router, "/api/v1/chat/sessions/missing/messages", SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	// 缺少内容由参数绑定拦截
	w = postJSON(t, router, "/api/v1/chat/sessions/missing/messages", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
