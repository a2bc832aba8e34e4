package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an anonymous participant identified by an opaque session id.
// Users are never hard-deleted; presence is tracked through IsOnline and LastActive.
type User struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID   string    `gorm:"uniqueIndex;not null" json:"session_id"`
	DisplayName *string   `json:"display_name"`
	IsOnline    bool      `gorm:"not null;default:false" json:"is_online"`
	IsSearching bool      `gorm:"not null;default:false" json:"is_searching"`
	LastActive  time.Time `gorm:"not null" json:"last_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// BeforeCreate is a GORM hook that generates the anonymous UUID when it is not set yet.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.LastActive.IsZero() {
		u.LastActive = time.Now().UTC()
	}
	return
}

// NewSessionID generates an opaque session id for a user who did not bring one.
func NewSessionID() string {
	return "session_" + uuid.New().String()
}
