package handler

import (
	"net/http"

	"randomchat/backend/internal/api/middleware"
	"randomchat/backend/internal/apperrors"

	"github.com/gin-gonic/gin"
)

type userRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type sendMessageRequest struct {
	ChatSessionID string `json:"chatSessionId" binding:"required"`
	SenderID      string `json:"senderId" binding:"required"`
	MessageText   string `json:"messageText" binding:"required"`
}

type endChatRequest struct {
	ChatSessionID string `json:"chatSessionId" binding:"required"`
	UserID        string `json:"userId" binding:"required"`
}

type onlineRequest struct {
	UserID   string `json:"userId" binding:"required"`
	IsOnline *bool  `json:"isOnline" binding:"required"`
}

type displayNameRequest struct {
	UserID      string `json:"userId" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
}

func (h *Handler) StartSearch(c *gin.Context) {
	var req userRequest
	if !bind(c, &req) || !actingAs(c, req.UserID) {
		return
	}

	result, err := h.Matcher.StartSearch(c.Request.Context(), req.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := gin.H{"success": true, "matched": result.Matched}
	if result.ChatSession != nil {
		resp["chatSession"] = result.ChatSession
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) StopSearch(c *gin.Context) {
	var req userRequest
	if !bind(c, &req) || !actingAs(c, req.UserID) {
		return
	}
	if err := h.Matcher.StopSearch(c.Request.Context(), req.UserID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if !bind(c, &req) || !actingAs(c, req.SenderID) {
		return
	}

	msg, err := h.Sessions.SendMessage(c.Request.Context(), req.ChatSessionID, req.SenderID, req.MessageText)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

func (h *Handler) EndChat(c *gin.Context) {
	var req endChatRequest
	if !bind(c, &req) || !actingAs(c, req.UserID) {
		return
	}
	if err := h.Sessions.EndSession(c.Request.Context(), req.ChatSessionID, req.UserID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) SetOnline(c *gin.Context) {
	var req onlineRequest
	if !bind(c, &req) || !actingAs(c, req.UserID) {
		return
	}
	if err := h.Presence.SetOnline(c.Request.Context(), req.UserID, *req.IsOnline); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) SetDisplayName(c *gin.Context) {
	var req displayNameRequest
	if !bind(c, &req) || !actingAs(c, req.UserID) {
		return
	}
	if err := h.Presence.SetDisplayName(c.Request.Context(), req.UserID, req.DisplayName); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.Presence.GetUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

// GetActiveChat returns the caller's active session, or null.
func (h *Handler) GetActiveChat(c *gin.Context) {
	userID := c.Param("userId")
	if !actingAs(c, userID) {
		return
	}
	session, err := h.Sessions.GetActiveSession(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chatSession": session})
}

// GetMessages returns the full ordered history; thin clients poll it while
// push is unavailable.
func (h *Handler) GetMessages(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("chatSessionId")

	session, err := h.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !session.HasParticipant(middleware.AuthenticatedUserID(c)) {
		_ = c.Error(apperrors.Forbidden("not a participant of this chat session"))
		return
	}

	messages, err := h.Sessions.LoadMessages(ctx, sessionID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": messages, "status": session.Status})
}
