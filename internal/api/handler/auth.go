package handler

import (
	"errors"
	"io"
	"net/http"

	"randomchat/backend/internal/apperrors"

	"github.com/gin-gonic/gin"
)

type createSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// CreateSession creates a user on first contact or resumes the one owning
// sessionId, and returns a bearer token for the rest of the API.
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	// The body is optional: no body means a brand new user.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		_ = c.Error(apperrors.Validation("malformed request body"))
		return
	}

	user, err := h.Presence.CreateOrResume(c.Request.Context(), req.SessionID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	token, err := h.Tokens.Issue(user.ID, user.SessionID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": user, "token": token})
}
