package models

import "time"

// WaitingQueueEntry is a searching user's claim to be matched next.
// UserID is the primary key, so the store itself guarantees at most one live entry per user.
type WaitingQueueEntry struct {
	UserID   string    `gorm:"primaryKey;type:varchar(36)" json:"user_id"`
	JoinedAt time.Time `gorm:"not null;index" json:"joined_at"`
}
