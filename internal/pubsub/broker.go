// Package pubsub is the push channel of the chat service: events are
// published per chat session and delivered to every subscriber of that
// session. Delivery is at-least-once and unordered on failure; consumers
// must be idempotent.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"randomchat/backend/internal/models"
)

// ErrClosed is returned when using a broker after Close.
var ErrClosed = errors.New("pubsub: broker closed")

// Subscription delivers the events of one chat session.
// Events is closed when the subscription is closed or the underlying
// channel is lost; callers treat an unexpected close as degraded delivery.
type Subscription interface {
	Events() <-chan models.ChatEvent
	Close() error
}

// Broker publishes and subscribes to chat session events.
type Broker interface {
	Publish(ctx context.Context, event models.ChatEvent) error
	// Subscribe returns once the subscription is confirmed by the backend,
	// or with an error when ctx expires first.
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
	Close() error
}

// RedisChannel is the Redis pub/sub channel of a chat session.
func RedisChannel(sessionID string) string {
	return "chat:" + sessionID
}

// PostgresChannel is the LISTEN/NOTIFY channel of a chat session.
// Channel identifiers are limited to 63 bytes, so dashes are dropped.
func PostgresChannel(sessionID string) string {
	return "chat_" + strings.ReplaceAll(sessionID, "-", "")
}

func encodeEvent(event models.ChatEvent) (string, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeEvent(payload string) (models.ChatEvent, error) {
	var event models.ChatEvent
	err := json.Unmarshal([]byte(payload), &event)
	return event, err
}
