package chathub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"randomchat/backend/internal/chathub"
	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// channelWatcher hands out one channel per session that the test writes to.
// Like the delivery runner, the returned stream closes when ctx is done.
type channelWatcher struct {
	mu      sync.Mutex
	streams map[string]chan models.ChatEvent
}

func (w *channelWatcher) Watch(ctx context.Context, sessionID string) <-chan models.ChatEvent {
	in := make(chan models.ChatEvent, 4)
	w.mu.Lock()
	w.streams[sessionID] = in
	w.mu.Unlock()

	out := make(chan models.ChatEvent)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (w *channelWatcher) stream(sessionID string) chan models.ChatEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.streams[sessionID]
}

func TestManager_FeedsRegisteredClient(t *testing.T) {
	watcher := &channelWatcher{streams: make(map[string]chan models.ChatEvent)}
	hub := chathub.NewManagerService(watcher, nil, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := newMockClient("user_A", "room1")
	require.True(t, hub.Register(client))
	require.Eventually(t, func() bool { return watcher.stream("room1") != nil }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, client.running.Load, time.Second, 5*time.Millisecond)

	stream := watcher.stream("room1")
	stream <- models.NewMessageEvent(models.Message{ID: "m1", ChatSessionID: "room1", MessageText: "hello"})

	select {
	case ev := <-client.send:
		assert.Equal(t, "hello", ev.Message.MessageText)
	case <-time.After(time.Second):
		t.Fatal("client did not receive the event")
	}

	// The stream ending (session over) closes the client.
	close(stream)
	select {
	case <-client.closed:
	case <-time.After(time.Second):
		t.Fatal("client was not closed after the stream ended")
	}
}

func TestManager_StopDisconnectsEveryone(t *testing.T) {
	watcher := &channelWatcher{streams: make(map[string]chan models.ChatEvent)}
	hub := chathub.NewManagerService(watcher, nil, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	client := newMockClient("user_B", "room2")
	require.True(t, hub.Register(client))

	cancel()
	<-stopped

	select {
	case <-client.closed:
	case <-time.After(time.Second):
		t.Fatal("client was not closed on shutdown")
	}
	assert.False(t, hub.Register(newMockClient("late", "room2")), "a stopped hub rejects connections")
	hub.Unregister(client)
}
