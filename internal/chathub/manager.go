package chathub

import (
	"context"

	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/metrics"
	"randomchat/backend/internal/models"
)

// Watcher streams the events of one chat session.
type Watcher interface {
	Watch(ctx context.Context, sessionID string) <-chan models.ChatEvent
}

// ManagerService tracks the subscriber connections of this instance and feeds
// each of them from the delivery coordinator. It only holds connection state;
// session and queue state live in the store.
type ManagerService struct {
	Clients map[Client]context.CancelFunc

	RegisterCh   chan Client
	UnregisterCh chan Client

	Watcher Watcher
	Metrics *metrics.Metrics
	done    chan struct{}
	log     *logger.Logger
}

func NewManagerService(w Watcher, m *metrics.Metrics, log *logger.Logger) *ManagerService {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &ManagerService{
		Clients:      make(map[Client]context.CancelFunc),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		Watcher:      w,
		Metrics:      m,
		done:         make(chan struct{}),
		log:          log,
	}
}

// Run owns the Clients map until ctx is done, then disconnects everyone.
func (m *ManagerService) Run(ctx context.Context) {
	defer close(m.done)
	m.log.Info("chat hub started")
	for {
		select {
		case client := <-m.RegisterCh:
			clientCtx, cancel := context.WithCancel(ctx)
			m.Clients[client] = cancel
			m.Metrics.SubscriberAdded()
			go m.feed(clientCtx, client)
			client.Run()
			m.log.Debug("subscriber registered",
				"user_id", client.GetUserID(),
				"chat_session_id", client.GetSessionID(),
			)

		case client := <-m.UnregisterCh:
			if cancel, ok := m.Clients[client]; ok {
				cancel()
				delete(m.Clients, client)
				m.Metrics.SubscriberRemoved()
			}

		case <-ctx.Done():
			for client, cancel := range m.Clients {
				cancel()
				delete(m.Clients, client)
				m.Metrics.SubscriberRemoved()
			}
			m.log.Info("chat hub stopped")
			return
		}
	}
}

// Register hands a connection to the hub. It returns false when the hub has stopped.
func (m *ManagerService) Register(client Client) bool {
	select {
	case m.RegisterCh <- client:
		return true
	case <-m.done:
		return false
	}
}

// Unregister detaches a connection. It does not block once the hub has stopped.
func (m *ManagerService) Unregister(client Client) {
	select {
	case m.UnregisterCh <- client:
	case <-m.done:
	}
}

// feed is the only writer of the client's send channel; it closes the client
// when the session ends or the client is unregistered.
func (m *ManagerService) feed(ctx context.Context, client Client) {
	defer client.Close()

	send := client.GetSendChannel()
	for event := range m.Watcher.Watch(ctx, client.GetSessionID()) {
		select {
		case send <- event:
		case <-ctx.Done():
			return
		}
	}
}
