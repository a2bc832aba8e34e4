package handler

import (
	"randomchat/backend/internal/api/middleware"
	"randomchat/backend/internal/apperrors"
	"randomchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
)

// ServeWebSocket upgrades a participant's connection and subscribes it to
// the events of one chat session.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID := middleware.AuthenticatedUserID(c)
	sessionID := c.Param("chatSessionId")

	session, err := h.Sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !session.HasParticipant(userID) {
		_ = c.Error(apperrors.Forbidden("not a participant of this chat session"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		middleware.GetLogger(c).Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, userID, sessionID)
	if !h.Hub.Register(client) {
		conn.Close()
	}
}
