package storage_test

import (
	"context"
	"testing"
	"time"

	"randomchat/backend/internal/models"
	"randomchat/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestStore creates an in-memory SQLite database for testing.
// A single connection keeps the database alive and serializes transactions.
func setupTestStore(t *testing.T) *storage.Service {
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

func newUser(t *testing.T, s *storage.Service) *models.User {
	t.Helper()
	u, err := s.CreateOrResumeUser(context.Background(), "")
	require.NoError(t, err)
	return u
}

func TestCreateOrResumeUser_CreatesThenResumes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	created, err := s.CreateOrResumeUser(ctx, "session_fixed")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "session_fixed", created.SessionID)
	assert.True(t, created.IsOnline)

	require.NoError(t, s.SetOnline(ctx, created.ID, false))

	resumed, err := s.CreateOrResumeUser(ctx, "session_fixed")
	require.NoError(t, err)
	assert.Equal(t, created.ID, resumed.ID, "same session id must resume the same user")
	assert.True(t, resumed.IsOnline)
}

func TestCreateOrResumeUser_GeneratesSessionID(t *testing.T) {
	s := setupTestStore(t)

	u := newUser(t, s)

	assert.Contains(t, u.SessionID, "session_")
}

func TestGetUserByID_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetUserByID(context.Background(), "missing")

	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSetOnlineFalse_RemovesQueueEntry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	u := newUser(t, s)
	require.NoError(t, s.SetSearching(ctx, u.ID, true))
	_, err := s.EnqueueUser(ctx, u.ID, time.Now())
	require.NoError(t, err)

	require.NoError(t, s.SetOnline(ctx, u.ID, false))

	queued, err := s.IsQueued(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, queued)
	stored, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOnline)
	assert.False(t, stored.IsSearching)

	assert.ErrorIs(t, s.SetOnline(ctx, "missing", true), storage.ErrNotFound)
}

func TestSetDisplayName_OnlyOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	u := newUser(t, s)

	require.NoError(t, s.SetDisplayName(ctx, u.ID, "stranger"))
	assert.ErrorIs(t, s.SetDisplayName(ctx, u.ID, "other"), storage.ErrDisplayNameSet)
	assert.ErrorIs(t, s.SetDisplayName(ctx, "missing", "x"), storage.ErrNotFound)

	stored, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DisplayName)
	assert.Equal(t, "stranger", *stored.DisplayName)
}

func TestEnqueueUser_InsertIfAbsent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	u := newUser(t, s)

	inserted, err := s.EnqueueUser(ctx, u.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.EnqueueUser(ctx, u.ID, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.False(t, inserted, "second enqueue must not create a duplicate entry")

	n, err := s.QueueLength(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, s.DequeueUser(ctx, u.ID))
	require.NoError(t, s.DequeueUser(ctx, u.ID), "dequeue is idempotent")
}

func TestListWaiting_FIFOExcludingRequester(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a, b, c := newUser(t, s), newUser(t, s), newUser(t, s)
	base := time.Now()
	_, _ = s.EnqueueUser(ctx, b.ID, base.Add(2*time.Second))
	_, _ = s.EnqueueUser(ctx, a.ID, base)
	_, _ = s.EnqueueUser(ctx, c.ID, base.Add(time.Second))

	entries, err := s.ListWaiting(ctx, a.ID, 10)
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, c.ID, entries[0].UserID)
	assert.Equal(t, b.ID, entries[1].UserID)
}

func TestPairUsers_AtomicUnit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a, b := newUser(t, s), newUser(t, s)
	require.NoError(t, s.SetSearching(ctx, a.ID, true))
	require.NoError(t, s.SetSearching(ctx, b.ID, true))
	_, _ = s.EnqueueUser(ctx, b.ID, time.Now())
	_, _ = s.EnqueueUser(ctx, a.ID, time.Now())

	session, err := s.PairUsers(ctx, a.ID, b.ID, time.Now())
	require.NoError(t, err)

	assert.Equal(t, a.ID, session.User1ID)
	assert.Equal(t, b.ID, session.User2ID)
	assert.Equal(t, models.SessionActive, session.Status)

	n, err := s.QueueLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "both queue entries are removed with the pairing")

	for _, id := range []string{a.ID, b.ID} {
		u, err := s.GetUserByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, u.IsSearching)

		active, err := s.GetActiveSessionForUser(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, session.ID, active.ID)
	}
}

func TestPairUsers_PartnerGoneRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a, b := newUser(t, s), newUser(t, s)
	_, _ = s.EnqueueUser(ctx, a.ID, time.Now())

	_, err := s.PairUsers(ctx, a.ID, b.ID, time.Now())

	assert.ErrorIs(t, err, storage.ErrPartnerGone)
	active, err := s.GetActiveSessionForUser(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, active, "no session may survive a failed pairing")
	queued, err := s.IsQueued(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, queued, "requester entry is restored by the rollback")
}

func TestPairUsers_AlreadyPairedRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a, b, c := newUser(t, s), newUser(t, s), newUser(t, s)
	_, _ = s.EnqueueUser(ctx, b.ID, time.Now())
	_, err := s.PairUsers(ctx, a.ID, b.ID, time.Now())
	require.NoError(t, err)

	_, _ = s.EnqueueUser(ctx, c.ID, time.Now())
	_, err = s.PairUsers(ctx, a.ID, c.ID, time.Now())

	assert.ErrorIs(t, err, storage.ErrAlreadyPaired)
	queued, err := s.IsQueued(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, queued, "partner entry must survive the rolled back attempt")
	sessions, err := s.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestEndSession_IdempotentAndReleasesParticipants(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a, b := newUser(t, s), newUser(t, s)
	_, _ = s.EnqueueUser(ctx, b.ID, time.Now())
	session, err := s.PairUsers(ctx, a.ID, b.ID, time.Now())
	require.NoError(t, err)

	changed, err := s.EndSession(ctx, session.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.EndSession(ctx, session.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, changed, "ending an ended session is a no-op")

	stored, err := s.GetSessionByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, stored.Status)
	assert.NotNil(t, stored.EndedAt)

	// Both users are free to be paired again.
	_, _ = s.EnqueueUser(ctx, a.ID, time.Now())
	_, err = s.PairUsers(ctx, b.ID, a.ID, time.Now())
	assert.NoError(t, err)
}

func TestGetSessionByID_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetSessionByID(context.Background(), "nope")

	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// pairedSession pairs two fresh users and returns their active session.
func pairedSession(t *testing.T, s *storage.Service) *models.ChatSession {
	t.Helper()
	ctx := context.Background()
	a, b := newUser(t, s), newUser(t, s)
	_, err := s.EnqueueUser(ctx, b.ID, time.Now())
	require.NoError(t, err)
	session, err := s.PairUsers(ctx, a.ID, b.ID, time.Now())
	require.NoError(t, err)
	return session
}

func TestLoadMessages_OrderedBySentAtThenID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	room, other := pairedSession(t, s), pairedSession(t, s)

	msgs := []*models.Message{
		{ID: "b", ChatSessionID: room.ID, SenderID: room.User1ID, MessageText: "second", SentAt: base},
		{ID: "c", ChatSessionID: room.ID, SenderID: room.User2ID, MessageText: "third", SentAt: base.Add(time.Millisecond)},
		{ID: "a", ChatSessionID: room.ID, SenderID: room.User1ID, MessageText: "first", SentAt: base},
		{ID: "z", ChatSessionID: other.ID, SenderID: other.User1ID, MessageText: "elsewhere", SentAt: base},
	}
	for _, m := range msgs {
		require.NoError(t, s.SaveMessage(ctx, m))
	}

	history, err := s.LoadMessages(ctx, room.ID)
	require.NoError(t, err)

	require.Len(t, history, 3)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{history[0].MessageText, history[1].MessageText, history[2].MessageText})

	empty, err := s.LoadMessages(ctx, "unknown")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSaveMessage_OnlyWhileSessionActive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	session := pairedSession(t, s)

	require.NoError(t, s.SaveMessage(ctx, &models.Message{
		ChatSessionID: session.ID, SenderID: session.User1ID, MessageText: "before", SentAt: time.Now(),
	}))
	_, err := s.EndSession(ctx, session.ID, time.Now())
	require.NoError(t, err)

	err = s.SaveMessage(ctx, &models.Message{
		ChatSessionID: session.ID, SenderID: session.User2ID, MessageText: "after", SentAt: time.Now(),
	})
	assert.ErrorIs(t, err, storage.ErrSessionNotActive)

	err = s.SaveMessage(ctx, &models.Message{
		ChatSessionID: "missing", SenderID: session.User1ID, MessageText: "lost", SentAt: time.Now(),
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	history, err := s.LoadMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 1, "nothing is appended after the end commits")
	assert.Equal(t, "before", history[0].MessageText)
}

func TestPing(t *testing.T) {
	s := setupTestStore(t)

	assert.NoError(t, s.Ping(context.Background()))
}

func TestListWaiting_SkipsUsersInActiveSession(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	a, b, c := newUser(t, s), newUser(t, s), newUser(t, s)
	_, _ = s.EnqueueUser(ctx, b.ID, time.Now())
	_, err := s.PairUsers(ctx, a.ID, b.ID, time.Now())
	require.NoError(t, err)

	// A stale entry written after the pairing committed.
	_, _ = s.EnqueueUser(ctx, a.ID, time.Now())

	entries, err := s.ListWaiting(ctx, c.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
