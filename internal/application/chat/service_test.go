package chat

import (
	"testing"
	"time"

	"github.com/casefile/backend/internal/domain/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatService(t *testing.T) (*Service, *memSessionRepo) {
	t.Helper()
	repo := newMemSessionRepo()
	return NewService(repo, newTestDocService()), repo
}

func TestService_CreateSessionDefaultsToRegular(t *testing.T) {
	svc, _ := newTestChatService(t)

	session, err := svc.CreateSession("", nil)
	require.NoError(t, err)
	assert.Equal(t, chat.ModeRegular, session.Mode)
	assert.NotEmpty(t, session.ID)
}

func TestService_CreateSessionRejectsInvalidMode(t *testing.T) {
	svc, _ := newTestChatService(t)

	_, err := svc.CreateSession("turbo", nil)
	assert.ErrorIs(t, err, chat.ErrInvalidMode)
}

func TestService_CreateSessionRejectsUnknownDocument(t *testing.T) {
	svc, _ := newTestChatService(t)

	_, err := svc.CreateSession(chat.ModeRegular, []string{"no-such-doc"})
	assert.ErrorIs(t, err, chat.ErrUnknownDocument)
}

func TestService_SessionLifecycle(t *testing.T) {
	svc, _ := newTestChatService(t)

	session, err := svc.CreateSession(chat.ModeDeepResearch, nil)
	require.NoError(t, err)

	found, err := svc.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.ModeDeepResearch, found.Mode)

	summaries, err := svc.ListSessions()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, session.ID, summaries[0].ID)

	require.NoError(t, svc.DeleteSession(session.ID))
	_, err = svc.GetSession(session.ID)
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	assert.ErrorIs(t, svc.DeleteSession(session.ID), chat.ErrSessionNotFound)
}

func TestService_RecoverInterrupted(t *testing.T) {
	svc, repo := newTestChatService(t)

	session, err := svc.CreateSession(chat.ModeRegular, nil)
	require.NoError(t, err)

	stuck := &chat.Message{
		ID:        "stuck",
		SessionID: session.ID,
		Role:      chat.RoleAssistant,
		Content:   "partial before crash",
		Status:    chat.StatusStreaming,
		Timestamp: time.Now(),
	}
	require.NoError(t, repo.AppendMessage(session.ID, stuck))

	require.NoError(t, svc.RecoverInterrupted())

	m := repo.message("stuck")
	require.NotNil(t, m)
	assert.Equal(t, chat.StatusIncomplete, m.Status)
	assert.Equal(t, "partial before crash", m.Content, "partial content survives recovery")
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "short question", deriveTitle("  short question  "))
	assert.Equal(t, "first line", deriveTitle("first line\nsecond line"))

	long := "This is a deliberately long first user message that keeps going"
	title := deriveTitle(long)
	assert.Len(t, []rune(title), titleMaxRunes+3)
	assert.Contains(t, title, "...")
}

func TestKeyedLock(t *testing.T) {
	l := newKeyedLock()

	assert.True(t, l.TryLock("a"))
	assert.False(t, l.TryLock("a"))
	assert.True(t, l.TryLock("b"), "locks are independent per key")

	l.Unlock("a")
	assert.True(t, l.TryLock("a"))
}

func TestService_SessionExists(t *testing.T) {
	svc, _ := newTestChatService(t)

	session, err := svc.CreateSession(chat.ModeRegular, nil)
	require.NoError(t, err)

	exists, err := svc.SessionExists(session.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = svc.SessionExists("no-such-session")
	require.NoError(t, err)
	assert.False(t, exists)
}
