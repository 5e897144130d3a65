package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// handleAdminStream 把审计枢纽上的轮次日志实时推给管理端。
// 订阅者跟不上时枢纽直接丢弃，慢消费者永远拖不慢轮次处理。
func (s *Server) handleAdminStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	subID := uuid.NewString()
	ch := s.hub.Subscribe(subID)
	s.logger.Info().Str("subscriber", subID).Msg("audit stream connected")

	defer func() {
		s.hub.Unsubscribe(subID)
		_ = conn.Close()
		s.logger.Info().Str("subscriber", subID).Msg("audit stream closed")
	}()

	// 读泵只为发现对端关闭，入站内容一律丢弃。
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug().Err(err).Str("subscriber", subID).Msg("audit stream read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case tl, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(tl); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
