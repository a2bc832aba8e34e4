package chathub

import "randomchat/backend/internal/models"

// Client is one subscriber connection to a chat session (e.g. a WebSocket).
// It abstracts the transport so the hub can manage subscribers uniformly.
type Client interface {
	// GetUserID returns the participant the connection belongs to.
	GetUserID() string
	// GetSessionID returns the chat session the connection is subscribed to.
	GetSessionID() string

	// GetSendChannel returns the channel the hub writes events to. Only the
	// hub writes to it, and Close closes it.
	GetSendChannel() chan<- models.ChatEvent

	// Run starts the read and write pumps.
	Run()
	// Close stops the write pump and releases the connection. Safe to call twice.
	Close()
}
