package chathub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"randomchat/backend/internal/apperrors"
	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/metrics"
	"randomchat/backend/internal/models"
	"randomchat/backend/internal/storage"
)

// Publisher pushes chat events to the subscribers of a session.
// Publishing is best effort; subscribers recover missed events by polling.
type Publisher interface {
	Publish(ctx context.Context, event models.ChatEvent)
}

// SessionService owns the chat session state machine (active -> ended) and
// the append-only message log.
type SessionService struct {
	Storage   storage.Storage
	Publisher Publisher
	Metrics   *metrics.Metrics
	clock     *messageClock
	log       *logger.Logger
}

func NewSessionService(s storage.Storage, p Publisher, m *metrics.Metrics, log *logger.Logger) *SessionService {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &SessionService{
		Storage:   s,
		Publisher: p,
		Metrics:   m,
		clock:     newMessageClock(time.Now),
		log:       log,
	}
}

// EndSession moves the session to ended on behalf of one of its participants.
// Ending an ended session is a no-op.
func (s *SessionService) EndSession(ctx context.Context, sessionID, userID string) error {
	if sessionID == "" || userID == "" {
		return apperrors.Validation("chatSessionId and userId are required")
	}
	session, err := s.Storage.GetSessionByID(ctx, sessionID)
	if err != nil {
		return sessionError(err)
	}
	if !session.HasParticipant(userID) {
		return notParticipant()
	}

	changed, err := s.Storage.EndSession(ctx, sessionID, time.Now())
	if err != nil {
		return apperrors.TransientStore(err)
	}
	if err := s.Storage.SetSearching(ctx, userID, false); err != nil {
		return userError(err)
	}
	if !changed {
		return nil
	}

	s.Metrics.SessionEnded()
	s.log.Info("chat session ended", "chat_session_id", sessionID, "ended_by", userID)
	s.publish(ctx, models.NewSessionEndedEvent(sessionID))
	return nil
}

// SendMessage appends text to an active session. The text is stored as sent;
// only the emptiness check trims it.
func (s *SessionService) SendMessage(ctx context.Context, sessionID, senderID, text string) (*models.Message, error) {
	if sessionID == "" || senderID == "" {
		return nil, apperrors.Validation("chatSessionId and senderId are required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.Validation("messageText must not be empty")
	}

	session, err := s.Storage.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, sessionError(err)
	}
	if !session.IsActive() {
		return nil, apperrors.SessionNotActive()
	}
	if !session.HasParticipant(senderID) {
		return nil, notParticipant()
	}

	msg := &models.Message{
		ChatSessionID: sessionID,
		SenderID:      senderID,
		MessageText:   text,
		SentAt:        s.clock.Next(),
	}
	if err := s.Storage.SaveMessage(ctx, msg); err != nil {
		switch {
		case errors.Is(err, storage.ErrSessionNotActive):
			// Ended between the lookup above and the append.
			return nil, apperrors.SessionNotActive()
		case errors.Is(err, storage.ErrNotFound):
			return nil, sessionError(err)
		}
		return nil, apperrors.TransientStore(err)
	}

	s.Metrics.MessageSent()
	s.publish(ctx, models.NewMessageEvent(*msg))
	return msg, nil
}

// LoadMessages returns the full history of a session in (sent_at, id) order.
func (s *SessionService) LoadMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	if sessionID == "" {
		return nil, apperrors.Validation("chatSessionId is required")
	}
	if _, err := s.Storage.GetSessionByID(ctx, sessionID); err != nil {
		return nil, sessionError(err)
	}
	messages, err := s.Storage.LoadMessages(ctx, sessionID)
	if err != nil {
		return nil, apperrors.TransientStore(err)
	}
	return messages, nil
}

// GetSession returns a session by id.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	session, err := s.Storage.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, sessionError(err)
	}
	return session, nil
}

// GetActiveSession returns the user's active session, or nil.
func (s *SessionService) GetActiveSession(ctx context.Context, userID string) (*models.ChatSession, error) {
	if userID == "" {
		return nil, apperrors.Validation("userId is required")
	}
	session, err := s.Storage.GetActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.TransientStore(err)
	}
	return session, nil
}

func (s *SessionService) publish(ctx context.Context, event models.ChatEvent) {
	if s.Publisher != nil {
		s.Publisher.Publish(ctx, event)
	}
}

// messageClock hands out strictly increasing timestamps at the precision the
// store keeps, so messages appended by this instance keep their send order.
type messageClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newMessageClock(now func() time.Time) *messageClock {
	return &messageClock{now: now}
}

func (c *messageClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
