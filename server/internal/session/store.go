package session

import (
	"context"
	"errors"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

var ErrNotFound = errors.New("session not found")

// Store 是会话的键值后端。
// Get 必须返回拷贝：缓存内的会话只能经由持有会话锁的编排器写回，
// 任何实现都不得把内部指针漏给调用方。
type Store interface {
	// Get 按 ID 取会话，不存在或已过期回收返回 ErrNotFound。
	Get(ctx context.Context, id string) (*model.Session, error)
	// Put 立即持久化会话并续期空闲回收计时。
	Put(ctx context.Context, s *model.Session) error
	// Delete 删除会话。删除只发生在管理员显式操作或空闲回收。
	Delete(ctx context.Context, id string) error
	// Close 释放后端连接。
	Close() error
}
