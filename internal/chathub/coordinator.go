package chathub

import (
	"context"

	"randomchat/backend/internal/apperrors"
	"randomchat/backend/internal/delivery"
	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/metrics"
	"randomchat/backend/internal/models"
	"randomchat/backend/internal/pubsub"
	"randomchat/backend/internal/storage"
)

// DeliveryCoordinator publishes appended messages on the push channel and
// feeds subscribers from push, falling back to history polling while push is
// unavailable. It does not deduplicate; clients apply events idempotently.
type DeliveryCoordinator struct {
	Broker  pubsub.Broker
	Storage storage.Storage
	Runner  *delivery.Runner
	Metrics *metrics.Metrics
	log     *logger.Logger
}

func NewDeliveryCoordinator(b pubsub.Broker, s storage.Storage, r *delivery.Runner, m *metrics.Metrics, log *logger.Logger) *DeliveryCoordinator {
	if log == nil {
		log = logger.GetGlobal()
	}
	if r.OnModeChange == nil {
		r.OnModeChange = func(sessionID string, mode delivery.Mode) {
			m.DeliveryModeChanged(string(mode))
		}
	}
	return &DeliveryCoordinator{Broker: b, Storage: s, Runner: r, Metrics: m, log: log}
}

// Publish sends event to the session channel. A failure degrades delivery to
// polling and is only logged.
func (d *DeliveryCoordinator) Publish(ctx context.Context, event models.ChatEvent) {
	if err := d.Broker.Publish(ctx, event); err != nil {
		d.Metrics.PublishFailed()
		d.log.Warn("publish failed, subscribers will poll",
			"error", apperrors.DeliveryDegraded(err).Error(),
			"chat_session_id", event.ChatSessionID,
			"event", event.Type,
		)
	}
}

// Watch streams the events of a session until it ends or ctx is done.
func (d *DeliveryCoordinator) Watch(ctx context.Context, sessionID string) <-chan models.ChatEvent {
	return d.Runner.Watch(ctx, delivery.Source{
		SessionID: sessionID,
		Subscribe: func(ctx context.Context) (pubsub.Subscription, error) {
			return d.Broker.Subscribe(ctx, sessionID)
		},
		Poll: func(ctx context.Context) ([]models.Message, bool, error) {
			session, err := d.Storage.GetSessionByID(ctx, sessionID)
			if err != nil {
				return nil, false, err
			}
			messages, err := d.Storage.LoadMessages(ctx, sessionID)
			if err != nil {
				return nil, false, err
			}
			return messages, !session.IsActive(), nil
		},
	})
}
