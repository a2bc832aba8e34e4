package models

// Event types carried on the push channel of a session.
const (
	EventMessage      = "message"
	EventSessionEnded = "session_ended"
)

// ChatEvent is the envelope published per chat session and pushed to subscribers.
type ChatEvent struct {
	Type          string   `json:"type"`
	ChatSessionID string   `json:"chat_session_id"`
	Message       *Message `json:"message,omitempty"`
}

// NewMessageEvent wraps a persisted message for the push channel.
func NewMessageEvent(msg Message) ChatEvent {
	return ChatEvent{Type: EventMessage, ChatSessionID: msg.ChatSessionID, Message: &msg}
}

// NewSessionEndedEvent tells subscribers that no further messages will arrive.
func NewSessionEndedEvent(sessionID string) ChatEvent {
	return ChatEvent{Type: EventSessionEnded, ChatSessionID: sessionID}
}
