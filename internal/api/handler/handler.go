package handler

import (
	"context"
	"net/http"
	"time"

	"randomchat/backend/internal/api/middleware"
	"randomchat/backend/internal/apperrors"
	"randomchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the chat API on top of the chathub services.
type Handler struct {
	Presence *chathub.PresenceService
	Matcher  *chathub.MatcherService
	Sessions *chathub.SessionService
	Hub      *chathub.ManagerService
	Tokens   *middleware.TokenService
	Store    Pinger

	upgrader websocket.Upgrader
}

func NewHandler(
	presence *chathub.PresenceService,
	matcher *chathub.MatcherService,
	sessions *chathub.SessionService,
	hub *chathub.ManagerService,
	tokens *middleware.TokenService,
	store Pinger,
	allowedOrigins []string,
) *Handler {
	return &Handler{
		Presence: presence,
		Matcher:  matcher,
		Sessions: sessions,
		Hub:      hub,
		Tokens:   tokens,
		Store:    store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// bind decodes the JSON body, turning binding failures into validation errors.
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(apperrors.Validation("missing required fields"))
		return false
	}
	return true
}

// actingAs rejects requests made on behalf of a user other than the token holder.
func actingAs(c *gin.Context, userID string) bool {
	if userID != middleware.AuthenticatedUserID(c) {
		_ = c.Error(apperrors.Forbidden("token does not belong to this user"))
		return false
	}
	return true
}

// Health reports liveness and store reachability.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	if h.Store != nil {
		if err := h.Store.Ping(ctx); err != nil {
			middleware.GetLogger(c).LogError(err, "health check: store unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "timestamp": now})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": now})
}
