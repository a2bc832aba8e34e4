package chathub

import (
	"context"
	"errors"
	"time"

	"randomchat/backend/internal/apperrors"
	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/metrics"
	"randomchat/backend/internal/models"
	"randomchat/backend/internal/storage"
)

// SearchResult is the outcome of one StartSearch call.
type SearchResult struct {
	Matched     bool                `json:"matched"`
	ChatSession *models.ChatSession `json:"chatSession,omitempty"`
}

// MatcherService pairs searching users. It holds no state between calls:
// every cross-user effect is a conditional write in the store, so any number
// of instances can serve StartSearch concurrently. Callers poll StartSearch
// until it reports a match.
type MatcherService struct {
	Storage        storage.Storage
	CandidateBatch int
	Now            func() time.Time
	Metrics        *metrics.Metrics
	log            *logger.Logger
}

// NewMatcherService creates a matcher that inspects up to candidateBatch waiting users per attempt.
func NewMatcherService(s storage.Storage, candidateBatch int, m *metrics.Metrics, log *logger.Logger) *MatcherService {
	if candidateBatch < 1 {
		candidateBatch = 1
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &MatcherService{
		Storage:        s,
		CandidateBatch: candidateBatch,
		Now:            time.Now,
		Metrics:        m,
		log:            log,
	}
}

// StartSearch returns the user's active session if there is one, otherwise
// tries to pair the user with the oldest waiting user, otherwise queues the user.
func (m *MatcherService) StartSearch(ctx context.Context, userID string) (*SearchResult, error) {
	if userID == "" {
		return nil, apperrors.Validation("userId is required")
	}
	if _, err := m.Storage.GetUserByID(ctx, userID); err != nil {
		return nil, m.fail(userError(err))
	}

	// Re-entry: retries and reconnects get the same session without any write.
	active, err := m.Storage.GetActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, m.fail(apperrors.TransientStore(err))
	}
	if active != nil {
		m.Metrics.Search("resumed")
		return &SearchResult{Matched: true, ChatSession: active}, nil
	}

	if err := m.Storage.SetSearching(ctx, userID, true); err != nil {
		return nil, m.fail(userError(err))
	}

	session, err := m.claimPartner(ctx, userID)
	if err != nil {
		return nil, m.fail(err)
	}
	if session != nil {
		m.Metrics.Search("matched")
		return &SearchResult{Matched: true, ChatSession: session}, nil
	}

	if _, err := m.Storage.EnqueueUser(ctx, userID, m.Now()); err != nil {
		return nil, m.fail(apperrors.TransientStore(err))
	}

	// Another instance may have paired us between the lookup above and the
	// enqueue, in which case the entry we just wrote is stale.
	session, err = m.Storage.GetActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, m.fail(apperrors.TransientStore(err))
	}
	if session != nil {
		if err := m.settle(ctx, userID); err != nil {
			return nil, m.fail(err)
		}
		m.Metrics.Search("matched")
		return &SearchResult{Matched: true, ChatSession: session}, nil
	}

	m.Metrics.Search("queued")
	return &SearchResult{Matched: false}, nil
}

// claimPartner walks the oldest waiting entries and tries to pair with each
// until one pairing commits. A nil session means nobody could be claimed.
func (m *MatcherService) claimPartner(ctx context.Context, userID string) (*models.ChatSession, error) {
	candidates, err := m.Storage.ListWaiting(ctx, userID, m.CandidateBatch)
	if err != nil {
		return nil, apperrors.TransientStore(err)
	}

	for _, candidate := range candidates {
		session, err := m.Storage.PairUsers(ctx, userID, candidate.UserID, m.Now())
		switch {
		case err == nil:
			m.Metrics.SessionStarted()
			m.log.Info("users paired",
				"chat_session_id", session.ID,
				"user1_id", session.User1ID,
				"user2_id", session.User2ID,
			)
			return session, nil

		case errors.Is(err, storage.ErrPartnerGone):
			// Claimed by a concurrent search or cancelled; try the next one.
			m.Metrics.PairingConflict("partner_gone")
			continue

		case errors.Is(err, storage.ErrAlreadyPaired):
			m.Metrics.PairingConflict("already_paired")
			// Either side may hold the conflicting session. If it is us, we were
			// claimed by someone else in the meantime.
			mine, lookupErr := m.Storage.GetActiveSessionForUser(ctx, userID)
			if lookupErr != nil {
				return nil, apperrors.TransientStore(lookupErr)
			}
			if mine != nil {
				if err := m.settle(ctx, userID); err != nil {
					return nil, err
				}
				return mine, nil
			}
			continue

		default:
			return nil, apperrors.TransientStore(err)
		}
	}
	return nil, nil
}

// settle removes search leftovers of a user that turned out to be paired.
func (m *MatcherService) settle(ctx context.Context, userID string) error {
	if err := m.Storage.DequeueUser(ctx, userID); err != nil {
		return apperrors.TransientStore(err)
	}
	if err := m.Storage.SetSearching(ctx, userID, false); err != nil {
		return userError(err)
	}
	return nil
}

// StopSearch clears the searching flag and removes any queue entry.
// Stopping when not searching is not an error.
func (m *MatcherService) StopSearch(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.Validation("userId is required")
	}
	if err := m.Storage.SetSearching(ctx, userID, false); err != nil {
		return userError(err)
	}
	if err := m.Storage.DequeueUser(ctx, userID); err != nil {
		return apperrors.TransientStore(err)
	}
	return nil
}

func (m *MatcherService) fail(err error) error {
	m.Metrics.Search("error")
	return err
}
