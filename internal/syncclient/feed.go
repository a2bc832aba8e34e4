package syncclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"randomchat/backend/internal/models"
	"randomchat/backend/internal/pubsub"

	"github.com/gorilla/websocket"
)

// Feed opens the service's WebSocket push channel for chat sessions.
type Feed struct {
	BaseURL string
	Token   func() string
	Dialer  *websocket.Dialer
}

// NewFeed derives the WebSocket endpoint from the HTTP API base URL.
func NewFeed(baseURL string, token func() string) *Feed {
	return &Feed{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, Dialer: websocket.DefaultDialer}
}

// Subscribe returns once the WebSocket handshake for the session completed.
func (f *Feed) Subscribe(ctx context.Context, chatSessionID string) (pubsub.Subscription, error) {
	u, err := url.Parse(f.BaseURL + "/ws/chat/" + url.PathEscape(chatSessionID))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if f.Token != nil {
		if token := f.Token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := f.Dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	sub := &feedSubscription{conn: conn, events: make(chan models.ChatEvent, 16), done: make(chan struct{})}
	go sub.readLoop()
	return sub, nil
}

type feedSubscription struct {
	conn      *websocket.Conn
	events    chan models.ChatEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *feedSubscription) Events() <-chan models.ChatEvent { return s.events }

func (s *feedSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// readLoop forwards frames until the connection drops, then closes Events.
func (s *feedSubscription) readLoop() {
	defer close(s.events)
	for {
		var ev models.ChatEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			return
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
