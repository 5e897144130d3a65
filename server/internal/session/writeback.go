package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/log"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/metrics"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// WriteBack 在后端之上实现延迟写回。
// 普通轮次的变更先进内存脏集，后台清扫按 interval 批量落库；
// 持久化关键迁移走 PutCritical 立即落库。由此崩溃时的数据损失
// 被限定在一个清扫周期或一次关键迁移以内。
//
// 不变量：对某个会话脏集条目的一切写入（PutDeferred、PutCritical、
// 清扫落库）都发生在该会话的排他锁内。轮次由编排器持锁，
// 清扫对每个条目临时取锁，因此后端不会被旧版本倒灌。
type WriteBack struct {
	backend Store
	locks   *KeyedLocks
	logger  zerolog.Logger

	interval   time.Duration
	maxRetries int
	baseDelay  time.Duration

	mu    sync.Mutex
	dirty map[string]*model.Session
}

// NewWriteBack 创建写回层。interval 是清扫周期。
func NewWriteBack(backend Store, interval time.Duration) *WriteBack {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &WriteBack{
		backend:    backend,
		locks:      NewKeyedLocks(),
		logger:     log.WithComponent("writeback"),
		interval:   interval,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		dirty:      make(map[string]*model.Session),
	}
}

// Lock 拿下会话的排他锁，轮次期间由编排器全程持有。
func (w *WriteBack) Lock(id string) { w.locks.Lock(id) }

// Unlock 释放会话的排他锁。
func (w *WriteBack) Unlock(id string) { w.locks.Unlock(id) }

// Get 先查脏集（内存里最新的版本），未命中再读后端。返回拷贝。
func (w *WriteBack) Get(ctx context.Context, id string) (*model.Session, error) {
	w.mu.Lock()
	if s, ok := w.dirty[id]; ok {
		cp := s.Clone()
		w.mu.Unlock()
		return cp, nil
	}
	w.mu.Unlock()

	return w.backend.Get(ctx, id)
}

// PutDeferred 把会话记入脏集，等待清扫落库。调用方必须持有会话锁。
func (w *WriteBack) PutDeferred(s *model.Session) {
	cp := s.Clone()
	cp.Dirty = true

	w.mu.Lock()
	w.dirty[cp.SessionID] = cp
	n := len(w.dirty)
	w.mu.Unlock()

	metrics.SetDirtySessions(n)
}

// PutCritical 立即落库，带指数退避重试。调用方必须持有会话锁。
// 重试耗尽时会话留在脏集里由清扫接着试。持久化故障只对运维可见，
// 永远不转化为用户可见的对话错误。
func (w *WriteBack) PutCritical(ctx context.Context, s *model.Session) error {
	cp := s.Clone()
	cp.Dirty = false

	var err error
	delay := w.baseDelay
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
			if err != nil {
				break
			}
		}
		if err = w.backend.Put(ctx, cp); err == nil {
			break
		}
	}

	if err != nil {
		cp.Dirty = true
		w.mu.Lock()
		w.dirty[cp.SessionID] = cp
		n := len(w.dirty)
		w.mu.Unlock()
		metrics.SetDirtySessions(n)
		metrics.IncFlush("critical", "failure")
		w.logger.Error().Err(err).
			Str("session_id", cp.SessionID).
			Msg("critical flush failed, session kept dirty for sweep retry")
		return fmt.Errorf("critical flush: %w", err)
	}

	w.mu.Lock()
	delete(w.dirty, cp.SessionID)
	n := len(w.dirty)
	w.mu.Unlock()
	metrics.SetDirtySessions(n)
	metrics.IncFlush("critical", "success")
	return nil
}

// Delete 把会话从脏集与后端一并删除。调用方必须持有会话锁。
func (w *WriteBack) Delete(ctx context.Context, id string) error {
	w.mu.Lock()
	delete(w.dirty, id)
	n := len(w.dirty)
	w.mu.Unlock()
	metrics.SetDirtySessions(n)

	return w.backend.Delete(ctx, id)
}

// FlushDirty 把脏集全部落库。落库失败的会话留在脏集里，
// 下个清扫周期自然重试。
func (w *WriteBack) FlushDirty(ctx context.Context) error {
	return w.flush(ctx, "manual")
}

func (w *WriteBack) flush(ctx context.Context, trigger string) error {
	w.mu.Lock()
	ids := make([]string, 0, len(w.dirty))
	for id := range w.dirty {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	var failed int
	var firstErr error
	for _, id := range ids {
		w.locks.Lock(id)

		w.mu.Lock()
		s, ok := w.dirty[id]
		if ok {
			delete(w.dirty, id)
		}
		w.mu.Unlock()

		if ok {
			s.Dirty = false
			if err := w.backend.Put(ctx, s); err != nil {
				s.Dirty = true
				w.mu.Lock()
				w.dirty[id] = s
				w.mu.Unlock()
				failed++
				if firstErr == nil {
					firstErr = err
				}
				metrics.IncFlush(trigger, "failure")
				w.logger.Warn().Err(err).
					Str("session_id", id).
					Msg("flush failed, session kept dirty")
			} else {
				metrics.IncFlush(trigger, "success")
			}
		}

		w.locks.Unlock(id)
	}

	w.mu.Lock()
	n := len(w.dirty)
	w.mu.Unlock()
	metrics.SetDirtySessions(n)

	if failed > 0 {
		return fmt.Errorf("flush %s: %d of %d sessions failed: %w", trigger, failed, len(ids), firstErr)
	}
	return nil
}

// DirtyCount 返回脏集大小。
func (w *WriteBack) DirtyCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirty)
}

// Run 启动清扫循环直到 ctx 结束，退出前做最后一次整体落库。
func (w *WriteBack) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.interval).Msg("write-back sweep started")

	for {
		select {
		case <-ctx.Done():
			// 进程退出路径：用独立的短超时上下文做收尾落库。
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := w.flush(shutdownCtx, "shutdown")
			cancel()
			if err != nil {
				w.logger.Error().Err(err).Msg("final flush on shutdown failed")
				return err
			}
			w.logger.Info().Msg("write-back sweep stopped")
			return nil
		case <-ticker.C:
			if err := w.flush(ctx, "sweep"); err != nil {
				w.logger.Warn().Err(err).Msg("sweep flush incomplete")
			}
		}
	}
}
