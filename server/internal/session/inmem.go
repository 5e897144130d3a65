package session

import (
	"context"
	"sync"
	"time"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// InMemoryStore 是基于内存的会话后端：实现简单、调试方便。
// 重启即丢数据；多实例部署需要换 Redis 后端。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*model.Session

	// ttl 是空闲回收时限，0 表示不回收。
	ttl time.Duration
	now func() time.Time
}

// NewInMemoryStore 创建内存会话后端。
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]*model.Session),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get 按 ID 取会话拷贝。过期会话视同不存在并顺手删除。
func (s *InMemoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	sess, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	if s.expired(sess) {
		s.mu.Lock()
		if cur, still := s.data[id]; still && s.expired(cur) {
			delete(s.data, id)
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	return sess.Clone(), nil
}

// Put 保存会话拷贝。
func (s *InMemoryStore) Put(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[sess.SessionID] = sess.Clone()
	return nil
}

// Delete 删除会话。
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}

// Close 实现 Store，内存后端无资源可释放。
func (s *InMemoryStore) Close() error { return nil }

// Len 返回当前存量会话数。
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Run 周期回收空闲会话，直到 ctx 结束。ttl 为 0 时直接阻塞等退出。
func (s *InMemoryStore) Run(ctx context.Context) error {
	if s.ttl <= 0 {
		<-ctx.Done()
		return nil
	}

	interval := s.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.evictIdle(s.now())
		}
	}
}

// evictIdle 删除所有在 now 时点已过期的会话，返回回收数量。
func (s *InMemoryStore) evictIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.data {
		if s.ttl > 0 && now.Sub(sess.LastActivityAt) > s.ttl {
			delete(s.data, id)
			n++
		}
	}
	return n
}

func (s *InMemoryStore) expired(sess *model.Session) bool {
	return s.ttl > 0 && s.now().Sub(sess.LastActivityAt) > s.ttl
}
