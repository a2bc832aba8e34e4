package pubsub

import (
	"context"
	"sync"

	"randomchat/backend/internal/models"
)

// MemoryBroker is an in-process broker for single-instance deployments and tests.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (b *MemoryBroker) Publish(ctx context.Context, event models.ChatEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[event.ChatSessionID] {
		select {
		case sub.events <- event:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{broker: b, sessionID: sessionID, events: make(chan models.ChatEvent, 64)}
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*memorySubscription]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}
	return sub, nil
}

// Subscribers returns the number of open subscriptions for a session.
func (b *MemoryBroker) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

// Drop closes every subscription of a session, simulating a lost channel.
func (b *MemoryBroker) Drop(sessionID string) {
	b.mu.Lock()
	set := b.subs[sessionID]
	delete(b.subs, sessionID)
	b.mu.Unlock()
	for sub := range set {
		sub.closeEvents()
	}
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[string]map[*memorySubscription]struct{})
	b.closed = true
	b.mu.Unlock()
	for _, set := range all {
		for sub := range set {
			sub.closeEvents()
		}
	}
	return nil
}

type memorySubscription struct {
	broker    *MemoryBroker
	sessionID string
	events    chan models.ChatEvent
	once      sync.Once
}

func (s *memorySubscription) Events() <-chan models.ChatEvent { return s.events }

func (s *memorySubscription) closeEvents() {
	s.once.Do(func() { close(s.events) })
}

func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	if set, ok := s.broker.subs[s.sessionID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.broker.subs, s.sessionID)
		}
	}
	s.broker.mu.Unlock()
	s.closeEvents()
	return nil
}
