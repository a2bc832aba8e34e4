package syncclient_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"randomchat/backend/internal/apperrors"
	"randomchat/backend/internal/delivery"
	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/models"
	"randomchat/backend/internal/pubsub"
	"randomchat/backend/internal/syncclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const searchInterval = 20 * time.Millisecond

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) CreateSession(ctx context.Context, sessionID string) (*models.User, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockAPI) StartSearch(ctx context.Context, userID string) (*syncclient.SearchResult, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncclient.SearchResult), args.Error(1)
}

func (m *MockAPI) StopSearch(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockAPI) SendMessage(ctx context.Context, chatSessionID, senderID, text string) (*models.Message, error) {
	args := m.Called(ctx, chatSessionID, senderID, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockAPI) EndChat(ctx context.Context, chatSessionID, userID string) error {
	return m.Called(ctx, chatSessionID, userID).Error(0)
}

func (m *MockAPI) SetOnline(ctx context.Context, userID string, online bool) error {
	return m.Called(ctx, userID, online).Error(0)
}

func (m *MockAPI) Messages(ctx context.Context, chatSessionID string) ([]models.Message, string, error) {
	args := m.Called(ctx, chatSessionID)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]models.Message), args.String(1), args.Error(2)
}

var (
	me      = &models.User{ID: "U", SessionID: "session_u"}
	room    = &models.ChatSession{ID: "room", User1ID: "U", User2ID: "P", Status: models.SessionActive}
	waiting = &syncclient.SearchResult{Matched: false}
	found   = &syncclient.SearchResult{Matched: true, ChatSession: room}
)

func newController(api *MockAPI, broker *pubsub.MemoryBroker) *syncclient.Controller {
	runner := delivery.NewRunner(100*time.Millisecond, 30*time.Millisecond, logger.Discard())
	return syncclient.NewController(api, broker, runner, searchInterval, logger.Discard())
}

func nextUpdate(t *testing.T, c *syncclient.Controller, kind syncclient.UpdateKind) syncclient.Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-c.Updates():
			require.True(t, ok, "updates closed early")
			if u.Kind == kind {
				return u
			}
		case <-deadline:
			t.Fatalf("no %s update", kind)
		}
	}
}

// startMatched runs a controller up to an active chat with push confirmed.
func startMatched(t *testing.T, api *MockAPI, broker *pubsub.MemoryBroker) *syncclient.Controller {
	t.Helper()
	api.On("CreateSession", mock.Anything, "").Return(me, nil).Once()
	api.On("StartSearch", mock.Anything, "U").Return(found, nil).Once()
	api.On("Messages", mock.Anything, "room").Return([]models.Message{}, models.SessionActive, nil).Maybe()

	c := newController(api, broker)
	_, err := c.Start(context.Background(), "")
	require.NoError(t, err)
	nextUpdate(t, c, syncclient.UpdateMatched)
	require.Eventually(t, func() bool { return broker.Subscribers("room") == 1 }, time.Second, 5*time.Millisecond)
	return c
}

func TestController_SearchLoopStopsOnMatch(t *testing.T) {
	api := &MockAPI{}
	api.On("CreateSession", mock.Anything, "").Return(me, nil).Once()
	api.On("StartSearch", mock.Anything, "U").Return(waiting, nil).Once()
	api.On("StartSearch", mock.Anything, "U").Return(nil, errors.New("timeout")).Once()
	api.On("StartSearch", mock.Anything, "U").Return(found, nil).Once()
	api.On("Messages", mock.Anything, "room").Return([]models.Message{}, models.SessionActive, nil).Maybe()
	c := newController(api, pubsub.NewMemoryBroker())

	user, err := c.Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "U", user.ID)

	u := nextUpdate(t, c, syncclient.UpdateMatched)
	assert.Equal(t, "room", u.ChatSession.ID)
	assert.Equal(t, syncclient.StateChatting, c.State())

	time.Sleep(5 * searchInterval)
	api.AssertNumberOfCalls(t, "StartSearch", 3)
}

func TestController_OptimisticSendReconciledByPush(t *testing.T) {
	api := &MockAPI{}
	broker := pubsub.NewMemoryBroker()
	c := startMatched(t, api, broker)

	stored := authoritative("m1", "U", "hi")
	api.On("SendMessage", mock.Anything, "room", "U", "hi").
		Run(func(mock.Arguments) {
			// Visible before the service has answered.
			entries := c.Messages()
			require.Len(t, entries, 1)
			assert.True(t, entries[0].Provisional)
			// Push overtakes the HTTP response.
			require.NoError(t, broker.Publish(context.Background(), models.NewMessageEvent(stored)))
			assert.Eventually(t, func() bool {
				e := c.Messages()
				return len(e) == 1 && !e[0].Provisional
			}, time.Second, 5*time.Millisecond)
		}).
		Return(&stored, nil).Once()

	require.NoError(t, c.Send(context.Background(), "hi"))

	entries := c.Messages()
	require.Len(t, entries, 1, "exactly one hi from U")
	assert.Equal(t, "m1", entries[0].ID)
	assert.False(t, entries[0].Provisional)
}

func TestController_SendFailureRollsBack(t *testing.T) {
	api := &MockAPI{}
	c := startMatched(t, api, pubsub.NewMemoryBroker())
	api.On("SendMessage", mock.Anything, "room", "U", "lost").
		Return(nil, apperrors.TransientStore(errors.New("conn reset"))).Once()

	err := c.Send(context.Background(), "lost")

	assert.True(t, apperrors.IsKind(err, apperrors.KindTransientStore))
	assert.Empty(t, c.Messages(), "provisional entry is removed")
	assert.Equal(t, "lost", c.TakeDraft(), "text goes back to the compose field")
	assert.Empty(t, c.TakeDraft())
}

func TestController_SendValidation(t *testing.T) {
	api := &MockAPI{}
	api.On("CreateSession", mock.Anything, "").Return(me, nil).Once()
	api.On("StartSearch", mock.Anything, "U").Return(waiting, nil)
	c := newController(api, pubsub.NewMemoryBroker())
	_, err := c.Start(context.Background(), "")
	require.NoError(t, err)

	assert.True(t, apperrors.IsKind(c.Send(context.Background(), "   "), apperrors.KindValidation))
	assert.True(t, apperrors.HasCode(c.Send(context.Background(), "hi"), apperrors.CodeSessionNotActive),
		"nothing to send to while searching")
	api.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestController_PartnerLeft(t *testing.T) {
	api := &MockAPI{}
	broker := pubsub.NewMemoryBroker()
	c := startMatched(t, api, broker)

	require.NoError(t, broker.Publish(context.Background(), models.NewSessionEndedEvent("room")))

	u := nextUpdate(t, c, syncclient.UpdatePartnerLeft)
	assert.Equal(t, "room", u.ChatSession.ID)
	assert.Equal(t, syncclient.StatePartnerLeft, c.State())
	assert.True(t, apperrors.HasCode(c.Send(context.Background(), "anyone?"), apperrors.CodeSessionNotActive))
}

func TestController_IncomingMessagesAreDeduplicated(t *testing.T) {
	api := &MockAPI{}
	broker := pubsub.NewMemoryBroker()
	c := startMatched(t, api, broker)
	msg := authoritative("m7", "P", "hello")

	require.NoError(t, broker.Publish(context.Background(), models.NewMessageEvent(msg)))
	require.NoError(t, broker.Publish(context.Background(), models.NewMessageEvent(msg)))

	u := nextUpdate(t, c, syncclient.UpdateMessage)
	assert.Equal(t, "hello", u.Message.MessageText)
	assert.Eventually(t, func() bool { return len(c.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.Messages(), 1)
}

func TestController_SkipEndsChatAndSearchesAgain(t *testing.T) {
	api := &MockAPI{}
	broker := pubsub.NewMemoryBroker()
	c := startMatched(t, api, broker)
	searched := make(chan struct{}, 1)
	api.On("EndChat", mock.Anything, "room", "U").Return(nil).Once()
	api.On("StartSearch", mock.Anything, "U").Return(waiting, nil).Run(func(mock.Arguments) {
		select {
		case searched <- struct{}{}:
		default:
		}
	})

	require.NoError(t, c.Skip(context.Background()))

	assert.Equal(t, syncclient.StateSearching, c.State())
	assert.Nil(t, c.ChatSession())
	assert.Empty(t, c.Messages())
	assert.Equal(t, 0, broker.Subscribers("room"), "the watch is stopped before the chat is ended")
	api.AssertCalled(t, "EndChat", mock.Anything, "room", "U")
	select {
	case <-searched:
	case <-time.After(time.Second):
		t.Fatal("search did not restart")
	}
}

func TestController_CloseWhileSearchingIsBestEffort(t *testing.T) {
	api := &MockAPI{}
	api.On("CreateSession", mock.Anything, "").Return(me, nil).Once()
	api.On("StartSearch", mock.Anything, "U").Return(waiting, nil)
	api.On("StopSearch", mock.Anything, "U").Return(errors.New("network down")).Once()
	api.On("SetOnline", mock.Anything, "U", false).Return(nil).Once()
	c := newController(api, pubsub.NewMemoryBroker())
	_, err := c.Start(context.Background(), "")
	require.NoError(t, err)

	err = c.Close(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop search")
	api.AssertExpectations(t)
	api.AssertNotCalled(t, "EndChat", mock.Anything, mock.Anything, mock.Anything)

	calls := len(api.Calls)
	time.Sleep(5 * searchInterval)
	assert.Len(t, api.Calls, calls, "no search ticks after close")

	_, open := <-c.Updates()
	assert.False(t, open)
	assert.NoError(t, c.Close(context.Background()), "close is idempotent")
	assert.ErrorIs(t, c.Skip(context.Background()), syncclient.ErrClosed)
}

func TestController_CloseEndsActiveChat(t *testing.T) {
	api := &MockAPI{}
	broker := pubsub.NewMemoryBroker()
	c := startMatched(t, api, broker)
	api.On("EndChat", mock.Anything, "room", "U").Return(errors.New("boom")).Once()
	api.On("SetOnline", mock.Anything, "U", false).Return(errors.New("also boom")).Once()

	err := c.Close(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "end chat")
	assert.Contains(t, err.Error(), "set offline")
	api.AssertNotCalled(t, "StopSearch", mock.Anything, mock.Anything)
	assert.Equal(t, syncclient.StateClosed, c.State())
	assert.Eventually(t, func() bool { return broker.Subscribers("room") == 0 }, time.Second, 5*time.Millisecond)
}

func TestController_CloseRightAfterMatch(t *testing.T) {
	for i := 0; i < 200; i++ {
		api := &MockAPI{}
		api.On("CreateSession", mock.Anything, "").Return(me, nil).Once()
		api.On("StartSearch", mock.Anything, "U").Return(found, nil).Maybe()
		api.On("Messages", mock.Anything, "room").Return([]models.Message{}, models.SessionActive, nil).Maybe()
		api.On("EndChat", mock.Anything, "room", "U").Return(nil).Maybe()
		api.On("StopSearch", mock.Anything, "U").Return(nil).Maybe()
		api.On("SetOnline", mock.Anything, "U", false).Return(nil).Once()
		broker := pubsub.NewMemoryBroker()
		c := newController(api, broker)

		_, err := c.Start(context.Background(), "")
		require.NoError(t, err)
		require.NoError(t, c.Close(context.Background()))

		for range c.Updates() {
		}
		require.Equal(t, 0, broker.Subscribers("room"), "iteration %d: no loop outlives Close", i)
		require.Equal(t, syncclient.StateClosed, c.State())
	}
}
