package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/audit"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/config"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/log"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/orchestrator"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/session"
)

// Server 是 HTTP 传输层。所有对话语义都在编排器里，
// 这里只做绑定、鉴别错误码和 debug 负载的门禁。
type Server struct {
	cfg    *config.Config
	orch   *orchestrator.Orchestrator
	hub    *audit.Hub
	logger zerolog.Logger

	upgrader websocket.Upgrader
}

// NewServer 创建传输层。hub 供管理端实时流订阅，可与编排器共享。
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, hub *audit.Hub) *Server {
	s := &Server{
		cfg:    cfg,
		orch:   orch,
		hub:    hub,
		logger: log.WithComponent("api"),
	}
	s.upgrader = websocket.Upgrader{
		// 浏览器之外的客户端（监控脚本、curl 探活）不带 Origin，放行；
		// 带 Origin 的按白名单走，与 CORS 同一份配置。
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

// Routes 组装 gin 路由。
func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(s.requestLogger(), gin.Recovery(), s.corsMiddleware())

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.GET("/api/greeting", s.handleGreeting)
	engine.POST("/api/chat", s.handleChat)
	engine.GET("/api/sessions/:id/log", s.handleSessionLog)
	engine.GET("/api/sessions/:id/transcript", s.handleTranscript)
	engine.DELETE("/api/sessions/:id", s.handleDeleteSession)
	engine.GET("/api/admin/stream", s.handleAdminStream)

	return engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleGreeting 创建会话并返回开场轮，前端用它拿 sessionId。
func (s *Server) handleGreeting(c *gin.Context) {
	resp, err := s.orch.StartSession(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("start session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "start session failed"})
		return
	}
	c.JSON(http.StatusOK, s.gateDebug(resp))
}

// handleChat 处理一个用户轮次。
func (s *Server) handleChat(c *gin.Context) {
	var req model.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	resp, err := s.orch.ProcessTurn(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrBadEvent):
			c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of text or buttonId is required"})
		case errors.Is(err, session.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		default:
			s.logger.Error().Err(err).Str("session_id", req.SessionID).Msg("turn failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "handle turn failed"})
		}
		return
	}

	c.JSON(http.StatusOK, s.gateDebug(resp))
}

// handleSessionLog 返回会话的全量轮次日志，审计与回放用。
func (s *Server) handleSessionLog(c *gin.Context) {
	id := c.Param("id")
	logs, err := s.orch.TurnLogs(c.Request.Context(), id)
	if err != nil {
		s.replyLoadError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id, "turnLogs": logs})
}

// handleTranscript 返回面向人读的对话记录。
func (s *Server) handleTranscript(c *gin.Context) {
	id := c.Param("id")
	transcript, err := s.orch.Transcript(c.Request.Context(), id)
	if err != nil {
		s.replyLoadError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id, "transcript": transcript})
}

// handleDeleteSession 删除会话。删除是幂等的，不存在也算成功。
func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.orch.DeleteSession(c.Request.Context(), id); err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("delete session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete session failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) replyLoadError(c *gin.Context, id string, err error) {
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	s.logger.Error().Err(err).Str("session_id", id).Msg("load session failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "load session failed"})
}

// gateDebug 在诊断关闭时剥掉 debug 负载。编排器总是填好它，
// 暴露与否是传输层的决定。
func (s *Server) gateDebug(resp *model.TurnResponse) *model.TurnResponse {
	if !s.cfg.Server.Diagnostics {
		resp.Debug = nil
	}
	return resp
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
