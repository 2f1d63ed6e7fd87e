package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	appdocument "github.com/casefile/backend/internal/application/document"
	"github.com/casefile/backend/internal/domain/chat"
	"github.com/casefile/backend/internal/domain/document"
	"github.com/casefile/backend/internal/infrastructure/config"
)

// memSessionRepo 内存会话仓储，终态门控语义与 SQLite 实现一致
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*chat.Session
	messages map[string]*chat.Message

	flushes map[string][]string
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{
		sessions: make(map[string]*chat.Session),
		messages: make(map[string]*chat.Message),
		flushes:  make(map[string][]string),
	}
}

func (r *memSessionRepo) CreateSession(session *chat.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	cp.Messages = nil
	r.sessions[session.ID] = &cp
	return nil
}

func (r *memSessionRepo) FindSession(id string) (*chat.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.Messages = append([]*chat.Message(nil), s.Messages...)
	return &cp, nil
}

func (r *memSessionRepo) SessionExists(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok, nil
}

func (r *memSessionRepo) ListSessions() ([]*chat.SessionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*chat.SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, &chat.SessionSummary{
			ID:           s.ID,
			Title:        s.Title,
			Mode:         s.Mode,
			DocumentIDs:  s.DocumentIDs,
			MessageCount: len(s.Messages),
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
		})
	}
	return out, nil
}

func (r *memSessionRepo) DeleteSession(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	for _, m := range s.Messages {
		delete(r.messages, m.ID)
	}
	delete(r.sessions, id)
	return true, nil
}

func (r *memSessionRepo) UpdateSessionTitle(sessionID, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return chat.ErrSessionNotFound
	}
	s.Title = title
	return nil
}

func (r *memSessionRepo) AppendMessage(sessionID string, message *chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return chat.ErrSessionNotFound
	}
	message.Seq = len(s.Messages) + 1
	s.Messages = append(s.Messages, message)
	r.messages[message.ID] = message
	if message.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = message.Timestamp
	}
	return nil
}

func (r *memSessionRepo) UpdateAssistantContent(messageID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok || m.Status != chat.StatusStreaming {
		return chat.ErrMessageNotFound
	}
	m.Content = content
	r.flushes[messageID] = append(r.flushes[messageID], content)
	return nil
}

func (r *memSessionRepo) FinalizeMessage(messageID, content string, status chat.MessageStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !status.Terminal() {
		return errors.New("status is not terminal")
	}
	m, ok := r.messages[messageID]
	if !ok || m.Status != chat.StatusStreaming {
		return chat.ErrMessageNotFound
	}
	m.Content = content
	m.Status = status
	m.Error = errMsg
	return nil
}

func (r *memSessionRepo) MarkStreamingInterrupted() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.messages {
		if m.Status == chat.StatusStreaming {
			m.Status = chat.StatusIncomplete
			m.Error = "stream interrupted by server restart"
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) message(id string) *chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[id]
}

func (r *memSessionRepo) assistantMessage(sessionID string) *chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[sessionID]
	if s == nil {
		return nil
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == chat.RoleAssistant {
			return s.Messages[i]
		}
	}
	return nil
}

// memDocRepo 内存文档仓储（会话层测试用）
type memDocRepo struct {
	mu   sync.Mutex
	docs map[string]*document.Document
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{docs: make(map[string]*document.Document)}
}

func (r *memDocRepo) Save(doc *document.Document) (*document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.docs[doc.ID]; ok {
		return existing, nil
	}
	r.docs[doc.ID] = doc
	return doc, nil
}

func (r *memDocRepo) FindByID(id string) (*document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[id], nil
}

func (r *memDocRepo) FindAll() ([]*document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*document.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	return out, nil
}

func (r *memDocRepo) Delete(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return false, nil
	}
	delete(r.docs, id)
	return true, nil
}

func (r *memDocRepo) AllIDs() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	return ids, nil
}

// memDocBlobs 内存文档内容存储（会话层测试用）
type memDocBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemDocBlobs() *memDocBlobs {
	return &memDocBlobs{blobs: make(map[string][]byte)}
}

func (b *memDocBlobs) Write(key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (b *memDocBlobs) Read(key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, document.ErrNotFound
	}
	return data, nil
}

func (b *memDocBlobs) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, key)
	return nil
}

func (b *memDocBlobs) Exists(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[key]
	return ok
}

func (b *memDocBlobs) Keys() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.blobs))
	for k := range b.blobs {
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *memDocBlobs) Dir() string { return "/tmp/chat-test-blobs" }

func newTestDocService() *appdocument.Service {
	return appdocument.NewService(newMemDocRepo(), newMemDocBlobs(), &config.UploadConfig{MaxSizeMB: 10})
}

// fakeGateway 按脚本回放事件的模型网关
type fakeGateway struct {
	mu     sync.Mutex
	events []chat.StreamEvent

	// block 非空时网关在发出任何事件前等待其关闭
	block chan struct{}

	lastHistory []*chat.Message
	lastMode    chat.Mode
	lastDocs    []chat.DocumentContext
	cancelled   bool
}

func (g *fakeGateway) StreamCompletion(ctx context.Context, history []*chat.Message, mode chat.Mode, docs []chat.DocumentContext) <-chan chat.StreamEvent {
	g.mu.Lock()
	g.lastHistory = history
	g.lastMode = mode
	g.lastDocs = docs
	events := append([]chat.StreamEvent(nil), g.events...)
	block := g.block
	g.mu.Unlock()

	out := make(chan chat.StreamEvent)
	go func() {
		defer close(out)
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				g.setCancelled()
				return
			}
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				g.setCancelled()
				return
			}
		}
	}()
	return out
}

func (g *fakeGateway) setCancelled() {
	g.mu.Lock()
	g.cancelled = true
	g.mu.Unlock()
}

func (g *fakeGateway) wasCancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}

// recordingTransport 记录下行帧的 Transport
type recordingTransport struct {
	mu     sync.Mutex
	tokens []string
	done   *chat.Message
	errs   []error

	// failAfter 第 N 次 SendToken 起返回错误，0 表示不失败
	failAfter int
	sent      int
}

func (t *recordingTransport) SendToken(content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent++
	if t.failAfter > 0 && t.sent >= t.failAfter {
		return errors.New("client gone")
	}
	t.tokens = append(t.tokens, content)
	return nil
}

func (t *recordingTransport) SendDone(message *chat.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *message
	t.done = &cp
	return nil
}

func (t *recordingTransport) SendError(message *chat.Message, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs = append(t.errs, err)
	return nil
}

func (t *recordingTransport) text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var s string
	for _, tok := range t.tokens {
		s += tok
	}
	return s
}

func testStreamConfig() *config.StreamConfig {
	return &config.StreamConfig{
		FlushEveryTokens:  2,
		MaxReplyBytes:     1 << 20,
		KeepaliveInterval: time.Second,
	}
}

func tokenEvents(tokens ...string) []chat.StreamEvent {
	evs := make([]chat.StreamEvent, 0, len(tokens)+1)
	for _, tok := range tokens {
		evs = append(evs, chat.StreamEvent{Type: chat.StreamEventToken, Content: tok})
	}
	return append(evs, chat.StreamEvent{Type: chat.StreamEventDone})
}
