package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/IvanShepeta/CRMconnector/internal/agent"
	"github.com/IvanShepeta/CRMconnector/internal/gateway"
	"github.com/IvanShepeta/CRMconnector/internal/store"
	logx "github.com/IvanShepeta/CRMconnector/pkg/logger"
)

// Config holds the HTTP listener parameters.
type Config struct {
	Addr string `envconfig:"SERVER_ADDR" default:":8000"`
}

const defaultHistoryLimit = 50

// Server exposes the chat gateway over HTTP and WebSocket.
type Server struct {
	engine      *gin.Engine
	registry    *gateway.Registry
	coordinator *gateway.Coordinator
	agent       *agent.Manager
	store       store.Store
	upgrader    websocket.Upgrader
}

func New(registry *gateway.Registry, coordinator *gateway.Coordinator, mgr *agent.Manager, st store.Store) *Server {
	s := &Server{
		registry:    registry,
		coordinator: coordinator,
		agent:       mgr,
		store:       st,
		upgrader: websocket.Upgrader{
			// the gateway fronts browser clients from arbitrary origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.engine = s.buildRouter()
	return s
}

// Handler returns the underlying HTTP handler, for mounting into an
// http.Server or test harness.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) buildRouter() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: false,
	}))

	engine.GET("/health", s.handleHealth)
	engine.GET("/ws/:user_id", s.handleWebSocket)

	api := engine.Group("/api")
	{
		api.POST("/new-conversation", s.handleNewConversation)
		api.GET("/history/:user_id", s.handleHistory)
		api.GET("/stats", s.handleStats)
	}
	return engine
}

// requestLogger logs method, path, status and latency for every request.
func requestLogger() gin.HandlerFunc {
	httpLog := logx.With("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		httpLog.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

// handleWebSocket runs the per-connection receive loop. Every exit path,
// including abrupt closures and handler panics recovered upstream, funnels
// into the registry disconnect.
func (s *Server) handleWebSocket(c *gin.Context) {
	userID := c.Param("user_id")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	ctx := c.Request.Context()
	if _, err := s.registry.Connect(ctx, userID, conn, c.ClientIP()); err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("connect failed")
	}
	defer s.registry.Disconnect(ctx, userID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logx.Warn().Err(err).Str("user_id", userID).Msg("websocket read failed")
			}
			return
		}
		s.coordinator.HandleInbound(ctx, userID, raw)
	}
}

type newConversationRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// handleNewConversation drops the agent-side thread only; durable session,
// context and history stay as they are. Always succeeds, even for users
// without a thread.
func (s *Server) handleNewConversation(c *gin.Context) {
	var req newConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	s.agent.ClearThread(req.UserID)
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "new conversation started"})
}

// handleHistory returns the session plus up to limit most recent turns,
// oldest first.
func (s *Server) handleHistory(c *gin.Context) {
	userID := c.Param("user_id")
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	history, err := s.store.History(ctx, userID, limit)
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("history lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "history unavailable"})
		return
	}
	session, err := s.store.GetSession(ctx, userID)
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("session lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "session unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"session": session,
		"history": history,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_users":      s.registry.Count(),
		"total_threads":     s.agent.ThreadCount(),
		"agent_initialized": s.agent.Initialized(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"agent_initialized": s.agent.Initialized(),
		"active_threads":    s.agent.ThreadCount(),
	})
}
