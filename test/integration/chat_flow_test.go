//go:build integration
// +build integration

package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainChat "github.com/casefile/backend/internal/domain/chat"
	"github.com/casefile/backend/test/integration/framework"
)

// startChatDaemon 启动模拟模型服务与守护进程
func startChatDaemon(t *testing.T, name string) (*framework.MockLLM, *framework.TestDaemon, *framework.APIClient) {
	t.Helper()
	framework.RequireDaemonBinary(t)

	mock := framework.NewMockLLM()
	t.Cleanup(mock.Close)

	daemon, err := framework.NewTestDaemon(framework.BinaryPath, name,
		framework.WithLLMBaseURL(mock.BaseURL()))
	require.NoError(t, err)
	require.NoError(t, daemon.Start())
	t.Cleanup(func() { daemon.Stop() })

	return mock, daemon, framework.NewAPIClient(daemon.BaseURL())
}

// TestChatSessionLifecycle 会话的创建、查询与删除
func TestChatSessionLifecycle(t *testing.T) {
	_, _, client := startChatDaemon(t, "chatlife")

	// 默认模式 regular
	createResp, status, err := client.CreateSession(framework.CreateSessionBody{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 0, createResp.Code, createResp.Message)
	session := createResp.Data
	assert.Equal(t, domainChat.ModeRegular, session.Mode)
	assert.Empty(t, session.Messages)

	// 非法模式被拒绝
	_, status, err = client.CreateSession(framework.CreateSessionBody{Mode: "turbo"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	// 引用不存在的文档被拒绝
	_, status, err = client.CreateSession(framework.CreateSessionBody{
		DocumentIDs: []string{strings.Repeat("0", 64)},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	listResp, err := client.ListSessions()
	require.NoError(t, err)
	assert.Len(t, listResp.Data, 1)

	_, status, err = client.DeleteSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	_, status, err = client.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

// TestChatStreamHappyPath 消息流式回复并落入会话账本
func TestChatStreamHappyPath(t *testing.T) {
	mock, _, client := startChatDaemon(t, "chatstream")
	mock.SetReply("租赁", "合同", "已审阅", "完毕。")

	createResp, _, err := client.CreateSession(framework.CreateSessionBody{})
	require.NoError(t, err)
	sessionID := createResp.Data.ID

	events, errResp, status, err := client.StreamMessage(sessionID, framework.SendMessageBody{
		Content: "请审阅这份租赁合同的违约条款。",
	})
	require.NoError(t, err)
	require.Nil(t, errResp)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, "租赁合同已审阅完毕。", framework.TokenText(events))

	last, ok := framework.LastEvent(events)
	require.True(t, ok)
	require.Equal(t, "done", last.Event)
	var donePayload struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(last.Data, &donePayload))
	assert.Equal(t, string(domainChat.StatusComplete), donePayload.Status)

	// 账本：用户消息 + 完成的助手消息，标题来自首条用户消息
	sessResp, _, err := client.GetSession(sessionID)
	require.NoError(t, err)
	session := sessResp.Data
	require.Len(t, session.Messages, 2)
	assert.Equal(t, domainChat.RoleUser, session.Messages[0].Role)
	assert.Equal(t, domainChat.RoleAssistant, session.Messages[1].Role)
	assert.Equal(t, domainChat.StatusComplete, session.Messages[1].Status)
	assert.Equal(t, "租赁合同已审阅完毕。", session.Messages[1].Content)
	assert.Equal(t, "请审阅这份租赁合同的违约条款。", session.Title)
}

// TestChatModesControlDocumentContext 两种模式下提示词携带的文档信息不同
func TestChatModesControlDocumentContext(t *testing.T) {
	mock, _, client := startChatDaemon(t, "chatmodes")

	content := []byte("保密义务在合同终止后持续有效五年。")
	upResp, err := client.UploadDocument("nda.txt", content)
	require.NoError(t, err)
	require.Equal(t, 1, upResp.Data.Succeeded)
	docID := upResp.Data.Results[0].Document.ID

	createResp, _, err := client.CreateSession(framework.CreateSessionBody{
		DocumentIDs: []string{docID},
	})
	require.NoError(t, err)
	sessionID := createResp.Data.ID

	// 常规模式：提示词含文件名，不含全文
	_, _, _, err = client.StreamMessage(sessionID, framework.SendMessageBody{
		Content: "总结文档要点。",
	})
	require.NoError(t, err)

	// 深度研究模式：提示词内联全文
	_, _, _, err = client.StreamMessage(sessionID, framework.SendMessageBody{
		Content: "逐条分析保密条款。",
		Mode:    string(domainChat.ModeDeepResearch),
	})
	require.NoError(t, err)

	prompts := mock.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0].System, "nda.txt")
	assert.NotContains(t, prompts[0].System, "保密义务在合同终止后持续有效五年")
	assert.Contains(t, prompts[1].System, "nda.txt")
	assert.Contains(t, prompts[1].System, "保密义务在合同终止后持续有效五年")
}

// TestChatUpstreamFailure 上游持续失败时流以 error 帧结束，助手消息标记 failed
func TestChatUpstreamFailure(t *testing.T) {
	mock, _, client := startChatDaemon(t, "chatfail")
	mock.SetFail(true)

	createResp, _, err := client.CreateSession(framework.CreateSessionBody{})
	require.NoError(t, err)
	sessionID := createResp.Data.ID

	events, errResp, status, err := client.StreamMessage(sessionID, framework.SendMessageBody{
		Content: "这份合同有哪些风险？",
	})
	require.NoError(t, err)
	require.Nil(t, errResp)
	require.Equal(t, http.StatusOK, status)

	last, ok := framework.LastEvent(events)
	require.True(t, ok)
	require.Equal(t, "error", last.Event)
	var errPayload struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(last.Data, &errPayload))
	assert.Equal(t, string(domainChat.StatusFailed), errPayload.Status)

	sessResp, _, err := client.GetSession(sessionID)
	require.NoError(t, err)
	session := sessResp.Data
	require.Len(t, session.Messages, 2)
	assert.Equal(t, domainChat.StatusFailed, session.Messages[1].Status)
	assert.Empty(t, session.Messages[1].Content)
}

// TestChatRejectsBeforeStream 前置校验失败时返回 JSON 错误而非事件流
func TestChatRejectsBeforeStream(t *testing.T) {
	_, _, client := startChatDaemon(t, "chatreject")

	// 会话不存在
	events, errResp, status, err := client.StreamMessage("nonexistent", framework.SendMessageBody{
		Content: "你好",
	})
	require.NoError(t, err)
	assert.Nil(t, events)
	require.NotNil(t, errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEqual(t, 0, errResp.Code)

	// 空消息
	createResp, _, err := client.CreateSession(framework.CreateSessionBody{})
	require.NoError(t, err)
	_, errResp, status, err = client.StreamMessage(createResp.Data.ID, framework.SendMessageBody{})
	require.NoError(t, err)
	require.NotNil(t, errResp)
	assert.Equal(t, http.StatusBadRequest, status)
}
