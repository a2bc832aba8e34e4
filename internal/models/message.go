package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is one append-only line of a chat session history.
// Messages are ordered by (SentAt, ID) and never mutated after creation.
type Message struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ChatSessionID string    `gorm:"not null;type:varchar(36);index:idx_session_order,priority:1" json:"chat_session_id"`
	SenderID      string    `gorm:"not null;type:varchar(36)" json:"sender_id"`
	MessageText   string    `gorm:"type:text;not null" json:"message_text"`
	SentAt        time.Time `gorm:"not null;index:idx_session_order,priority:2" json:"sent_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// Before reports whether m sorts before other in session history order.
func (m Message) Before(other Message) bool {
	if !m.SentAt.Equal(other.SentAt) {
		return m.SentAt.Before(other.SentAt)
	}
	return m.ID < other.ID
}
