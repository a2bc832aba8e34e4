package chathub

import (
	"errors"
	"net/http"

	"randomchat/backend/internal/apperrors"
	"randomchat/backend/internal/storage"
)

// userError maps a storage error from a user lookup onto the error taxonomy.
func userError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
	}
	return apperrors.TransientStore(err)
}

// sessionError maps a storage error from a chat session lookup onto the error taxonomy.
func sessionError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NotFound(apperrors.CodeSessionNotFound, "chat session not found")
	}
	return apperrors.TransientStore(err)
}

func notParticipant() error {
	return apperrors.NewError(http.StatusBadRequest, apperrors.KindValidation, apperrors.CodeNotParticipant,
		"user is not a participant of this chat session")
}
