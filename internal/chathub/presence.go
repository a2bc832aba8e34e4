package chathub

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"randomchat/backend/internal/apperrors"
	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/models"
	"randomchat/backend/internal/storage"
)

const maxDisplayNameLength = 32

// PresenceService manages user identities and their online flag.
type PresenceService struct {
	Storage storage.Storage
	log     *logger.Logger
}

func NewPresenceService(s storage.Storage, log *logger.Logger) *PresenceService {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &PresenceService{Storage: s, log: log}
}

// CreateOrResume returns the user bound to sessionID, creating it on first contact.
func (p *PresenceService) CreateOrResume(ctx context.Context, sessionID string) (*models.User, error) {
	user, err := p.Storage.CreateOrResumeUser(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, apperrors.TransientStore(err)
	}
	return user, nil
}

func (p *PresenceService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, apperrors.Validation("userId is required")
	}
	user, err := p.Storage.GetUserByID(ctx, userID)
	if err != nil {
		return nil, userError(err)
	}
	return user, nil
}

// SetOnline records presence. Going offline also leaves the waiting queue.
func (p *PresenceService) SetOnline(ctx context.Context, userID string, online bool) error {
	if userID == "" {
		return apperrors.Validation("userId is required")
	}
	if err := p.Storage.SetOnline(ctx, userID, online); err != nil {
		return userError(err)
	}
	if !online {
		p.log.Debug("user went offline", "user_id", userID)
	}
	return nil
}

// SetDisplayName sets the display name. It can only be set once.
func (p *PresenceService) SetDisplayName(ctx context.Context, userID, name string) error {
	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return apperrors.Validation("userId and displayName are required")
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return apperrors.Validation("displayName is too long")
	}
	err := p.Storage.SetDisplayName(ctx, userID, name)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrDisplayNameSet):
		return apperrors.StateConflict(apperrors.CodeDisplayNameSet, "display name can only be set once")
	default:
		return userError(err)
	}
}
