package pubsub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// receiveTimeout bounds one blocking read; an idle subscription is pinged after it.
const receiveTimeout = 30 * time.Second

// RedisBroker fans chat events out through Redis pub/sub, one channel per session.
type RedisBroker struct {
	Redis *redis.Client
	log   *logger.Logger
}

func NewRedisBroker(rdb *redis.Client, log *logger.Logger) *RedisBroker {
	return &RedisBroker{Redis: rdb, log: log}
}

// Publish sends the event on the session channel.
func (b *RedisBroker) Publish(ctx context.Context, event models.ChatEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return b.Redis.Publish(ctx, RedisChannel(event.ChatSessionID), payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	ps := b.Redis.Subscribe(ctx, RedisChannel(sessionID))

	// The first reply on a fresh PubSub is the subscription confirmation.
	msg, err := ps.Receive(ctx)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}
	if _, ok := msg.(*redis.Subscription); !ok {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: unexpected reply %T", sessionID, msg)
	}

	sub := &redisSubscription{
		ps:     ps,
		events: make(chan models.ChatEvent, 64),
		done:   make(chan struct{}),
		log:    b.log.With("chat_session_id", sessionID),
	}
	go sub.receiveLoop()
	return sub, nil
}

// Close is a no-op: the client is owned by whoever passed it in, and open
// subscriptions are closed by their holders.
func (b *RedisBroker) Close() error {
	return nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan models.ChatEvent
	done   chan struct{}
	once   sync.Once
	log    *logger.Logger
}

func (s *redisSubscription) Events() <-chan models.ChatEvent { return s.events }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// receiveLoop forwards messages until the subscription is closed or the
// connection is lost. Closing events is how loss is reported to the consumer.
func (s *redisSubscription) receiveLoop() {
	defer close(s.events)
	ctx := context.Background()

	for {
		msg, err := s.ps.ReceiveTimeout(ctx, receiveTimeout)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if pingErr := s.ps.Ping(ctx); pingErr == nil {
					continue
				}
			}
			s.log.Warn("redis subscription lost", "error", err.Error())
			return
		}

		m, ok := msg.(*redis.Message)
		if !ok {
			continue
		}
		event, err := decodeEvent(m.Payload)
		if err != nil {
			s.log.Warn("dropping undecodable chat event", "error", err.Error())
			continue
		}
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}
