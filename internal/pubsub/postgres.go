package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Listener is the LISTEN side of the broker; *pq.Listener satisfies it.
type Listener interface {
	Listen(channel string) error
	Unlisten(channel string) error
	Close() error
}

// PostgresBroker publishes with pg_notify and receives through a single
// shared lib/pq Listener, dispatching notifications to per-session subscribers.
type PostgresBroker struct {
	DB       *gorm.DB
	listener Listener
	notify   <-chan *pq.Notification
	log      *logger.Logger

	mu       sync.Mutex
	channels map[string]*pgChannel
	closed   bool
}

// pgChannel tracks one LISTENed channel. ready is closed once the LISTEN
// attempt has finished, after which err holds its outcome.
type pgChannel struct {
	subs  map[*pgSubscription]struct{}
	ready chan struct{}
	err   error
}

func (ch *pgChannel) listening() bool {
	select {
	case <-ch.ready:
		return ch.err == nil
	default:
		return false
	}
}

// NewPostgresBroker opens a dedicated LISTEN connection using dsn.
func NewPostgresBroker(db *gorm.DB, dsn string, log *logger.Logger) *PostgresBroker {
	b := &PostgresBroker{log: log}
	l := pq.NewListener(dsn, time.Second, 30*time.Second, b.onListenerEvent)
	return newPostgresBroker(b, db, l, l.Notify)
}

// NewPostgresBrokerWithListener builds a broker on an existing listener whose
// notifications arrive on notify.
func NewPostgresBrokerWithListener(db *gorm.DB, l Listener, notify <-chan *pq.Notification, log *logger.Logger) *PostgresBroker {
	return newPostgresBroker(&PostgresBroker{log: log}, db, l, notify)
}

func newPostgresBroker(b *PostgresBroker, db *gorm.DB, l Listener, notify <-chan *pq.Notification) *PostgresBroker {
	b.DB = db
	b.listener = l
	b.notify = notify
	b.channels = make(map[string]*pgChannel)
	go b.dispatch()
	return b
}

func (b *PostgresBroker) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		b.log.Warn("postgres listener disconnected", "error", errString(err))
	case pq.ListenerEventConnectionAttemptFailed:
		b.log.Warn("postgres listener reconnect failed", "error", errString(err))
	case pq.ListenerEventReconnected:
		b.log.Info("postgres listener reconnected")
	}
}

func (b *PostgresBroker) Publish(ctx context.Context, event models.ChatEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return b.DB.WithContext(ctx).
		Exec("SELECT pg_notify(?, ?)", PostgresChannel(event.ChatSessionID), payload).Error
}

// Subscribe joins the channel of sessionID. Every subscriber waits for the
// channel's single LISTEN attempt, so success always means a confirmed LISTEN.
func (b *PostgresBroker) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	channel := PostgresChannel(sessionID)
	sub := &pgSubscription{
		broker:  b,
		channel: channel,
		events:  make(chan models.ChatEvent, 64),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	ch, ok := b.channels[channel]
	if !ok {
		ch = &pgChannel{subs: make(map[*pgSubscription]struct{}), ready: make(chan struct{})}
		b.channels[channel] = ch
		// Listen blocks while the listener connection is down, so it races ctx.
		go b.listen(channel, ch)
	}
	ch.subs[sub] = struct{}{}
	sub.ch = ch
	b.mu.Unlock()

	select {
	case <-ch.ready:
		if ch.err != nil {
			_ = sub.Close()
			return nil, fmt.Errorf("listen %s: %w", channel, ch.err)
		}
		return sub, nil
	case <-ctx.Done():
		_ = sub.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, ctx.Err())
	}
}

// listen runs the LISTEN for ch. When every subscriber left while it was
// pending, the channel is unlistened here since nobody else will.
func (b *PostgresBroker) listen(channel string, ch *pgChannel) {
	err := b.listener.Listen(channel)
	if err == pq.ErrChannelAlreadyOpen {
		err = nil
	}

	b.mu.Lock()
	ch.err = err
	close(ch.ready)
	current := b.channels[channel]
	if err != nil && current == ch {
		delete(b.channels, channel)
	}
	orphaned := err == nil && current == nil
	b.mu.Unlock()

	if orphaned {
		b.unlisten(channel)
	}
}

func (b *PostgresBroker) unlisten(channel string) {
	if err := b.listener.Unlisten(channel); err != nil && err != pq.ErrChannelNotOpen {
		b.log.Warn("unlisten failed", "channel", channel, "error", err.Error())
	}
}

// dispatch routes notifications to subscribers. A nil notification means the
// connection was re-established and notifications may have been lost, so
// every subscription is closed and consumers fall back to polling.
func (b *PostgresBroker) dispatch() {
	for n := range b.notify {
		if n == nil {
			b.dropAll()
			continue
		}
		event, err := decodeEvent(n.Extra)
		if err != nil {
			b.log.Warn("dropping undecodable chat event", "channel", n.Channel, "error", err.Error())
			continue
		}

		b.mu.Lock()
		if ch, ok := b.channels[n.Channel]; ok {
			for sub := range ch.subs {
				select {
				case sub.events <- event:
				default:
					b.log.Warn("subscriber too slow, dropping event", "channel", n.Channel)
				}
			}
		}
		b.mu.Unlock()
	}
}

func (b *PostgresBroker) dropAll() {
	b.mu.Lock()
	channels := b.channels
	b.channels = make(map[string]*pgChannel)
	b.mu.Unlock()

	for channel, ch := range channels {
		for sub := range ch.subs {
			sub.closeEvents()
		}
		if ch.listening() {
			b.unlisten(channel)
		}
	}
}

func (b *PostgresBroker) remove(sub *pgSubscription) {
	b.mu.Lock()
	ch, ok := b.channels[sub.channel]
	if !ok || ch != sub.ch {
		b.mu.Unlock()
		return
	}
	delete(ch.subs, sub)
	empty := len(ch.subs) == 0
	if empty {
		delete(b.channels, sub.channel)
	}
	// A pending LISTEN is undone by listen itself once it completes.
	listening := ch.listening()
	b.mu.Unlock()

	if empty && listening {
		b.unlisten(sub.channel)
	}
}

func (b *PostgresBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.dropAll()
	return b.listener.Close()
}

type pgSubscription struct {
	broker  *PostgresBroker
	ch      *pgChannel
	channel string
	events  chan models.ChatEvent
	once    sync.Once
}

func (s *pgSubscription) Events() <-chan models.ChatEvent { return s.events }

func (s *pgSubscription) closeEvents() {
	s.once.Do(func() { close(s.events) })
}

func (s *pgSubscription) Close() error {
	s.broker.remove(s)
	s.closeEvents()
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
