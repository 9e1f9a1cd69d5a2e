package storage

import (
	"sync"
	"time"

	"github.com/xuyupeng07/WeChatBot/internal/model"
)

// MemoryStore 引擎的四张共享表：流式会话、响应缓存、
// 在途流式连接与在途普通连接。全部常驻内存，进程重启即丢失。
// 原实现跑在单线程事件循环上，这里用一把读写锁换取同等的串行语义；
// 回调在持锁期间必须重新确认条目仍然存在
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*model.StreamSession
	cache       map[string]*model.CacheEntry
	streams     map[string]*model.TrackedConn
	connections map[string]*model.TrackedConn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*model.StreamSession),
		cache:       make(map[string]*model.CacheEntry),
		streams:     make(map[string]*model.TrackedConn),
		connections: make(map[string]*model.TrackedConn),
	}
}

func (m *MemoryStore) PutSession(session *model.StreamSession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.ID] = session
}

func (m *MemoryStore) GetSession(sessionID string) (*model.StreamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// UpdateSession 持锁执行fn；会话已被消费或回收时返回false，fn不执行。
// fn返回true表示本次更新后应当移除会话
func (m *MemoryStore) UpdateSession(sessionID string, fn func(*model.StreamSession) (remove bool)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return false
	}

	if fn(session) {
		delete(m.sessions, sessionID)
	}
	return true
}

func (m *MemoryStore) DeleteSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
}

func (m *MemoryStore) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}

func (m *MemoryStore) GetCache(key string) (*model.CacheEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.cache[key]
	return entry, exists
}

func (m *MemoryStore) PutCache(key string, entry *model.CacheEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache[key] = entry
}

func (m *MemoryStore) CacheCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.cache)
}

func (m *MemoryStore) TrackStream(requestID string, conn *model.TrackedConn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.streams[requestID] = conn
}

func (m *MemoryStore) UntrackStream(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.streams, requestID)
}

func (m *MemoryStore) StreamCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.streams)
}

func (m *MemoryStore) TrackConnection(requestID string, conn *model.TrackedConn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connections[requestID] = conn
}

func (m *MemoryStore) UntrackConnection(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.connections, requestID)
}

func (m *MemoryStore) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.connections)
}

// sweep 按谓词移除表项，返回移除数量
func sweep[V any](table map[string]V, predicate func(string, V) bool) int {
	count := 0
	for key, value := range table {
		if predicate(key, value) {
			delete(table, key)
			count++
		}
	}
	return count
}

// SweepSessions 移除开始时间早于cutoff的会话
func (m *MemoryStore) SweepSessions(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sweep(m.sessions, func(_ string, s *model.StreamSession) bool {
		return s.StartTime.Before(cutoff)
	})
}

// SweepCache 移除写入时间早于cutoff的缓存
func (m *MemoryStore) SweepCache(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sweep(m.cache, func(_ string, e *model.CacheEntry) bool {
		return e.StoredAt.Before(cutoff)
	})
}

// SweepTracked 移除两张在途连接表中早于cutoff的记账条目
func (m *MemoryStore) SweepTracked(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := func(_ string, c *model.TrackedConn) bool {
		return c.StartTime.Before(cutoff)
	}
	return sweep(m.streams, expired) + sweep(m.connections, expired)
}

// Clear 清空全部表，用于进程退出前的收尾
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]*model.StreamSession)
	m.cache = make(map[string]*model.CacheEntry)
	m.streams = make(map[string]*model.TrackedConn)
	m.connections = make(map[string]*model.TrackedConn)
}
