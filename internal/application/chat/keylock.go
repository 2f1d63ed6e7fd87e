package chat

import "sync"

// keyedLock 按键的非阻塞互斥
// 同一会话同时只允许一个对话轮次，后来者直接拒绝而不是排队
type keyedLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newKeyedLock() *keyedLock {
	return &keyedLock{held: make(map[string]bool)}
}

// TryLock 尝试获取键的锁，已被占用时返回 false
func (l *keyedLock) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false
	}
	l.held[key] = true
	return true
}

// Unlock 释放键的锁
func (l *keyedLock) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
