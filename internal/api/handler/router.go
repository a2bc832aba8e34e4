package handler

import (
	"net/http"

	"randomchat/backend/internal/api/middleware"
	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/metrics"

	"github.com/gin-gonic/gin"
)

// RouterConfig carries the settings NewRouter needs besides the handler.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	RateLimiter    *middleware.RateLimiter
	Metrics        *metrics.Metrics
	Logger         *logger.Logger
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = logger.GetGlobal()
	}

	r := gin.New()
	r.Use(
		middleware.RequestLogger(log),
		middleware.Recovery(),
		middleware.ErrorHandler(),
		middleware.CORS(cfg.AllowedOrigins),
		cfg.Metrics.Middleware(),
	)

	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "route not found"})
	})

	api := r.Group(cfg.APIPrefix)
	if cfg.RateLimiter != nil {
		api.Use(cfg.RateLimiter.Middleware())
	}
	api.GET("/health", h.Health)
	api.POST("/user/session", h.CreateSession)

	authed := api.Group("")
	authed.Use(middleware.RequireAuth(h.Tokens))
	{
		authed.POST("/search/start", h.StartSearch)
		authed.POST("/search/stop", h.StopSearch)
		authed.POST("/message/send", h.SendMessage)
		authed.POST("/chat/end", h.EndChat)
		authed.POST("/user/online", h.SetOnline)
		authed.POST("/user/name", h.SetDisplayName)
		authed.GET("/user/:userId", h.GetUser)
		authed.GET("/chat/active/:userId", h.GetActiveChat)
		authed.GET("/chat/messages/:chatSessionId", h.GetMessages)
		authed.GET("/ws/chat/:chatSessionId", h.ServeWebSocket)
	}

	return r
}
