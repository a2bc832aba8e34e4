package chathub_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"randomchat/backend/internal/models"
	"randomchat/backend/internal/storage"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockStorage is a testify mock of storage.Storage.
type MockStorage struct {
	mock.Mock
}

var _ storage.Storage = (*MockStorage)(nil)

func (m *MockStorage) CreateOrResumeUser(ctx context.Context, sessionID string) (*models.User, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) SetOnline(ctx context.Context, userID string, online bool) error {
	return m.Called(ctx, userID, online).Error(0)
}

func (m *MockStorage) SetSearching(ctx context.Context, userID string, searching bool) error {
	return m.Called(ctx, userID, searching).Error(0)
}

func (m *MockStorage) SetDisplayName(ctx context.Context, userID, name string) error {
	return m.Called(ctx, userID, name).Error(0)
}

func (m *MockStorage) EnqueueUser(ctx context.Context, userID string, joinedAt time.Time) (bool, error) {
	args := m.Called(ctx, userID, joinedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) DequeueUser(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockStorage) ListWaiting(ctx context.Context, excludeUserID string, limit int) ([]models.WaitingQueueEntry, error) {
	args := m.Called(ctx, excludeUserID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.WaitingQueueEntry), args.Error(1)
}

func (m *MockStorage) IsQueued(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) QueueLength(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) PairUsers(ctx context.Context, requesterID, partnerID string, startedAt time.Time) (*models.ChatSession, error) {
	args := m.Called(ctx, requesterID, partnerID, startedAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatSession), args.Error(1)
}

func (m *MockStorage) GetActiveSessionForUser(ctx context.Context, userID string) (*models.ChatSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatSession), args.Error(1)
}

func (m *MockStorage) GetSessionByID(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatSession), args.Error(1)
}

func (m *MockStorage) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (bool, error) {
	args := m.Called(ctx, sessionID, endedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) ListActiveSessions(ctx context.Context) ([]models.ChatSession, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatSession), args.Error(1)
}

func (m *MockStorage) SaveMessage(ctx context.Context, msg *models.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockStorage) LoadMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ChatEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.ChatEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []models.ChatEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.ChatEvent, len(p.events))
	copy(out, p.events)
	return out
}

// mockClient is an in-memory chathub.Client.
type mockClient struct {
	userID    string
	sessionID string
	send      chan models.ChatEvent
	closed    chan struct{}
	once      sync.Once
	running   atomic.Bool
}

func newMockClient(userID, sessionID string) *mockClient {
	return &mockClient{
		userID:    userID,
		sessionID: sessionID,
		send:      make(chan models.ChatEvent, 16),
		closed:    make(chan struct{}),
	}
}

func (c *mockClient) GetUserID() string                        { return c.userID }
func (c *mockClient) GetSessionID() string                     { return c.sessionID }
func (c *mockClient) GetSendChannel() chan<- models.ChatEvent { return c.send }
func (c *mockClient) Run()                                     { c.running.Store(true) }
func (c *mockClient) Close()                                   { c.once.Do(func() { close(c.closed) }) }

// newTestStore returns a storage service on a private in-memory SQLite database.
func newTestStore(t *testing.T) *storage.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, storage.AutoMigrate(db))
	return storage.NewStorageService(db)
}

func createUser(t *testing.T, s storage.Storage) *models.User {
	t.Helper()
	u, err := s.CreateOrResumeUser(context.Background(), "")
	require.NoError(t, err)
	return u
}
