package session

import "sync"

// KeyedLocks 是按会话 ID 复用的互斥锁注册表：
// 同一会话同一时刻最多一轮在临界区内，不同会话完全并发。
// 锁条目带引用计数，无人持有也无人等待时即刻回收，
// 注册表不会随历史会话数无限增长。
type KeyedLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocks 创建锁注册表。
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{entries: make(map[string]*lockEntry)}
}

// Lock 拿下 id 的排他锁，阻塞直到可用。
func (k *KeyedLocks) Lock(id string) {
	k.mu.Lock()
	e, ok := k.entries[id]
	if !ok {
		e = &lockEntry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock 释放 id 的排他锁。与 sync.Mutex 一样，解锁未持有的锁是编程错误。
func (k *KeyedLocks) Unlock(id string) {
	k.mu.Lock()
	e, ok := k.entries[id]
	if ok {
		e.refs--
		if e.refs == 0 {
			delete(k.entries, id)
		}
	}
	k.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}

// Len 返回当前注册的锁条目数。
func (k *KeyedLocks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
