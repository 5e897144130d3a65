package audit

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/log"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// subscriberBuffer 每个订阅者的缓冲深度。写满即丢，绝不反压回合处理。
const subscriberBuffer = 16

// Sink 接收编排器产出的每一条回合日志。实现必须快速返回且不得失败，
// 回合处理不等待审计落地。
type Sink interface {
	Record(tl model.TurnLog)
}

// Hub 进程内的回合日志分发器，服务管理端的实时流。
// 每条日志广播给所有订阅者；慢订阅者丢消息而不是拖慢回合。
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan model.TurnLog
	logger zerolog.Logger
}

// NewHub 创建空分发器。
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]chan model.TurnLog),
		logger: log.WithComponent("audit"),
	}
}

// Subscribe 注册订阅者并返回其接收通道。id 须全局唯一（调用方生成）。
func (h *Hub) Subscribe(id string) <-chan model.TurnLog {
	ch := make(chan model.TurnLog, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.subs[id]; ok {
		close(old)
	}
	h.subs[id] = ch
	return ch
}

// Unsubscribe 注销订阅者并关闭其通道。
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Publish 把回合日志广播给所有订阅者。非阻塞：缓冲满的订阅者丢这条。
func (h *Hub) Publish(tl model.TurnLog) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- tl:
		default:
			h.logger.Debug().
				Str("subscriber", id).
				Str("turn_id", tl.TurnID).
				Msg("slow audit subscriber, turn log dropped")
		}
	}
}

// SubscriberCount 当前订阅者数量。
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
