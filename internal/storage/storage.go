package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"randomchat/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a user or chat session does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrPartnerGone means the claimed queue entry was removed by a concurrent pairing or a stop.
	ErrPartnerGone = errors.New("partner queue entry already claimed")
	// ErrAlreadyPaired means one of the two users already holds an active session.
	ErrAlreadyPaired = errors.New("user already in an active session")
	// ErrDisplayNameSet is returned on a second attempt to set a display name.
	ErrDisplayNameSet = errors.New("display name already set")
	// ErrSessionNotActive means a message was sent to an ended chat session.
	ErrSessionNotActive = errors.New("chat session is not active")
)

// Storage is the durable store behind the matchmaking and chat-session core.
// Every cross-user invariant is enforced here with conditional writes, so any
// number of stateless server instances can share one store.
type Storage interface {
	CreateOrResumeUser(ctx context.Context, sessionID string) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	SetOnline(ctx context.Context, userID string, online bool) error
	SetSearching(ctx context.Context, userID string, searching bool) error
	SetDisplayName(ctx context.Context, userID, name string) error

	EnqueueUser(ctx context.Context, userID string, joinedAt time.Time) (bool, error)
	DequeueUser(ctx context.Context, userID string) error
	ListWaiting(ctx context.Context, excludeUserID string, limit int) ([]models.WaitingQueueEntry, error)
	IsQueued(ctx context.Context, userID string) (bool, error)
	QueueLength(ctx context.Context) (int64, error)

	PairUsers(ctx context.Context, requesterID, partnerID string, startedAt time.Time) (*models.ChatSession, error)
	GetActiveSessionForUser(ctx context.Context, userID string) (*models.ChatSession, error)
	GetSessionByID(ctx context.Context, sessionID string) (*models.ChatSession, error)
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) (bool, error)
	ListActiveSessions(ctx context.Context) ([]models.ChatSession, error)

	SaveMessage(ctx context.Context, msg *models.Message) error
	LoadMessages(ctx context.Context, sessionID string) ([]models.Message, error)

	Ping(ctx context.Context) error
}

type Service struct {
	DB *gorm.DB
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// AutoMigrate creates or updates every table the service needs.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.WaitingQueueEntry{},
		&models.ChatSession{},
		&models.ActiveParticipant{},
		&models.Message{},
	)
}

// CreateOrResumeUser returns the user owning sessionID, marking it online, or
// creates one. An empty sessionID always creates a user with a fresh session id.
func (s *Service) CreateOrResumeUser(ctx context.Context, sessionID string) (*models.User, error) {
	if sessionID == "" {
		sessionID = models.NewSessionID()
	}
	now := time.Now().UTC()

	user := models.User{SessionID: sessionID, IsOnline: true, LastActive: now}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"is_online": true, "last_active": now}),
		}).
		Create(&user).Error
	if err != nil {
		return nil, fmt.Errorf("create or resume user: %w", err)
	}

	// On conflict the struct still carries the freshly generated id, so read back the stored row.
	var stored models.User
	if err := s.DB.WithContext(ctx).Where("session_id = ?", sessionID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("load user by session: %w", err)
	}
	return &stored, nil
}

func (s *Service) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &user, nil
}

// SetOnline updates presence. Going offline also drops the user's queue entry
// and clears the searching flag in the same transaction.
func (s *Service) SetOnline(ctx context.Context, userID string, online bool) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"is_online": online, "last_active": time.Now().UTC()}
		if !online {
			updates["is_searching"] = false
		}
		res := tx.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if online {
			return nil
		}
		return tx.Where("user_id = ?", userID).Delete(&models.WaitingQueueEntry{}).Error
	})
}

func (s *Service) SetSearching(ctx context.Context, userID string, searching bool) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{"is_searching": searching, "last_active": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("set searching for %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDisplayName sets the display name exactly once.
func (s *Service) SetDisplayName(ctx context.Context, userID, name string) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND (display_name IS NULL OR display_name = '')", userID).
		Update("display_name", name)
	if res.Error != nil {
		return fmt.Errorf("set display name for %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return ErrDisplayNameSet
}

// EnqueueUser inserts a queue entry unless one already exists for the user.
// It reports whether a new entry was written.
func (s *Service) EnqueueUser(ctx context.Context, userID string, joinedAt time.Time) (bool, error) {
	entry := models.WaitingQueueEntry{UserID: userID, JoinedAt: joinedAt.UTC()}
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&entry)
	if res.Error != nil {
		return false, fmt.Errorf("enqueue %s: %w", userID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DequeueUser removes the user's queue entry. Removing a missing entry is not an error.
func (s *Service) DequeueUser(ctx context.Context, userID string) error {
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.WaitingQueueEntry{}).Error; err != nil {
		return fmt.Errorf("dequeue %s: %w", userID, err)
	}
	return nil
}

// ListWaiting returns the oldest queue entries, skipping excludeUserID and
// stale entries of users that are already in an active session.
func (s *Service) ListWaiting(ctx context.Context, excludeUserID string, limit int) ([]models.WaitingQueueEntry, error) {
	var entries []models.WaitingQueueEntry
	q := s.DB.WithContext(ctx).
		Where("user_id NOT IN (?)", s.DB.Model(&models.ActiveParticipant{}).Select("user_id")).
		Order("joined_at asc").
		Order("user_id asc")
	if excludeUserID != "" {
		q = q.Where("user_id <> ?", excludeUserID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list waiting: %w", err)
	}
	return entries, nil
}

func (s *Service) IsQueued(ctx context.Context, userID string) (bool, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.WaitingQueueEntry{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check queue for %s: %w", userID, err)
	}
	return count > 0, nil
}

func (s *Service) QueueLength(ctx context.Context) (int64, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.WaitingQueueEntry{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return count, nil
}

// PairUsers atomically creates an active session for requester and partner.
// Inside one transaction it creates the session, claims an active-participant
// row for each user, deletes the partner's queue entry (which must still
// exist), deletes the requester's entry and clears both searching flags.
// ErrAlreadyPaired and ErrPartnerGone roll everything back.
func (s *Service) PairUsers(ctx context.Context, requesterID, partnerID string, startedAt time.Time) (*models.ChatSession, error) {
	if requesterID == partnerID {
		return nil, fmt.Errorf("pair %s with itself: %w", requesterID, ErrAlreadyPaired)
	}

	session := &models.ChatSession{
		User1ID:   requesterID,
		User2ID:   partnerID,
		Status:    models.SessionActive,
		StartedAt: startedAt.UTC(),
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return err
		}

		// Stable order keeps concurrent pairings from locking rows in opposite orders.
		first, second := requesterID, partnerID
		if second < first {
			first, second = second, first
		}
		claims := []models.ActiveParticipant{
			{UserID: first, ChatSessionID: session.ID},
			{UserID: second, ChatSessionID: session.ID},
		}
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).Create(&claims)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 2 {
			return ErrAlreadyPaired
		}

		res = tx.Where("user_id = ?", partnerID).Delete(&models.WaitingQueueEntry{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrPartnerGone
		}

		if err := tx.Where("user_id = ?", requesterID).Delete(&models.WaitingQueueEntry{}).Error; err != nil {
			return err
		}

		return tx.Model(&models.User{}).
			Where("id IN ?", []string{requesterID, partnerID}).
			Update("is_searching", false).Error
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyPaired) || errors.Is(err, ErrPartnerGone) {
			return nil, err
		}
		return nil, fmt.Errorf("pair %s with %s: %w", requesterID, partnerID, err)
	}
	return session, nil
}

// GetActiveSessionForUser returns the user's active session, or nil when there is none.
func (s *Service) GetActiveSessionForUser(ctx context.Context, userID string) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.DB.WithContext(ctx).
		Where("status = ?", models.SessionActive).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("started_at desc").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active session for %s: %w", userID, err)
	}
	return &session, nil
}

func (s *Service) GetSessionByID(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.DB.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &session, nil
}

// EndSession moves an active session to ended and releases both participants.
// It reports false when the session was already ended.
func (s *Service) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (bool, error) {
	var changed bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ChatSession{}).
			Where("id = ? AND status = ?", sessionID, models.SessionActive).
			Updates(map[string]interface{}{"status": models.SessionEnded, "ended_at": endedAt.UTC()})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected == 1
		return tx.Where("chat_session_id = ?", sessionID).Delete(&models.ActiveParticipant{}).Error
	})
	if err != nil {
		return false, fmt.Errorf("end session %s: %w", sessionID, err)
	}
	return changed, nil
}

func (s *Service) ListActiveSessions(ctx context.Context) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	if err := s.DB.WithContext(ctx).
		Where("status = ?", models.SessionActive).
		Order("started_at asc").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// SaveMessage appends a message to an active session. The session row is
// share-locked for the insert, so an append never lands after EndSession has
// committed; ErrSessionNotActive is returned instead. The caller checks
// membership.
func (s *Service) SaveMessage(ctx context.Context, msg *models.Message) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.ChatSession
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id", "status").
			First(&session, "id = ?", msg.ChatSessionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !session.IsActive() {
			return ErrSessionNotActive
		}
		return tx.Create(msg).Error
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionNotActive) {
		return err
	}
	if err != nil {
		return fmt.Errorf("save message for session %s: %w", msg.ChatSessionID, err)
	}
	return nil
}

// LoadMessages returns the full history of a session ordered by (sent_at, id).
func (s *Service) LoadMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	messages := []models.Message{}
	if err := s.DB.WithContext(ctx).
		Where("chat_session_id = ?", sessionID).
		Order("sent_at asc").
		Order("id asc").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("load messages for session %s: %w", sessionID, err)
	}
	return messages, nil
}

func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
