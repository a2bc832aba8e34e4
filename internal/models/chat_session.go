package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session statuses. A session starts active and ends exactly once.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// ChatSession is a 1-on-1 conversation between two users.
type ChatSession struct {
	// ID is the unique identifier of the session (UUID).
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	// User1ID is the user whose search created the session.
	User1ID string `gorm:"not null;index" json:"user1_id"`
	// User2ID is the waiting partner that was claimed from the queue.
	User2ID string `gorm:"not null;index" json:"user2_id"`
	// Status is either SessionActive or SessionEnded.
	Status string `gorm:"not null;index;default:active" json:"status"`
	// StartedAt is the timestamp when the pairing committed.
	StartedAt time.Time `gorm:"not null" json:"started_at"`
	// EndedAt is set once, when either participant skips or exits.
	EndedAt *time.Time `json:"ended_at"`
}

func (s *ChatSession) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return
}

// HasParticipant reports whether userID is one of the two members of the session.
func (s *ChatSession) HasParticipant(userID string) bool {
	return userID != "" && (s.User1ID == userID || s.User2ID == userID)
}

// PartnerOf returns the other participant, or "" if userID is not a member.
func (s *ChatSession) PartnerOf(userID string) string {
	switch userID {
	case s.User1ID:
		return s.User2ID
	case s.User2ID:
		return s.User1ID
	}
	return ""
}

func (s *ChatSession) IsActive() bool {
	return s.Status == SessionActive
}

// ActiveParticipant holds one row per user currently in an active session.
// The primary key on UserID is what keeps a user in at most one active session.
type ActiveParticipant struct {
	UserID        string `gorm:"primaryKey;type:varchar(36)"`
	ChatSessionID string `gorm:"not null;index;type:varchar(36)"`
}
