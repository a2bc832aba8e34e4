package syncclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"randomchat/backend/internal/apperrors"
	"randomchat/backend/internal/delivery"
	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/models"
	"randomchat/backend/internal/pubsub"
)

// Subscriber opens the push channel of a chat session.
type Subscriber interface {
	Subscribe(ctx context.Context, chatSessionID string) (pubsub.Subscription, error)
}

// State is where the controller is in the search and chat lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StateChatting  State = "chatting"
	// StatePartnerLeft means the session was ended by the other side.
	StatePartnerLeft State = "partner_left"
	StateClosed      State = "closed"
)

// UpdateKind tells the UI what changed.
type UpdateKind string

const (
	UpdateMatched     UpdateKind = "matched"
	UpdateMessage     UpdateKind = "message"
	UpdatePartnerLeft UpdateKind = "partner_left"
)

type Update struct {
	Kind        UpdateKind
	ChatSession *models.ChatSession
	Message     *models.Message
}

// ErrClosed is returned by operations on a closed controller.
var ErrClosed = errors.New("syncclient: controller closed")

// Controller drives one user's view. At most one background loop runs at a
// time: it searches until matched, then watches the chat session.
type Controller struct {
	API            API
	Feed           Subscriber
	Runner         *delivery.Runner
	SearchInterval time.Duration
	Now            func() time.Time

	view    View
	updates chan Update
	log     *logger.Logger

	// loops counts every spawned loop; Close waits for all of them before
	// closing updates.
	loops sync.WaitGroup

	mu      sync.Mutex
	root    context.Context
	stop    context.CancelFunc
	user    *models.User
	session *models.ChatSession
	state   State
	draft   string
	current *loop
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewController(api API, feed Subscriber, runner *delivery.Runner, searchInterval time.Duration, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.GetGlobal()
	}
	root, stop := context.WithCancel(context.Background())
	return &Controller{
		API:            api,
		Feed:           feed,
		Runner:         runner,
		SearchInterval: searchInterval,
		Now:            time.Now,
		updates:        make(chan Update, 32),
		log:            log,
		root:           root,
		stop:           stop,
		state:          StateIdle,
	}
}

// Updates delivers matches, incoming messages and partner departures.
// It is closed by Close.
func (c *Controller) Updates() <-chan Update { return c.updates }

// Messages returns the current chat view.
func (c *Controller) Messages() []Entry { return c.view.Entries() }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) User() *models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Controller) ChatSession() *models.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// TakeDraft returns the text of the last failed send and clears it.
func (c *Controller) TakeDraft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.draft
	c.draft = ""
	return d
}

// Start creates or resumes the user and begins searching.
func (c *Controller) Start(ctx context.Context, sessionID string) (*models.User, error) {
	user, err := c.API.CreateSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, ErrClosed
	}
	c.user = user
	c.startSearchLocked()
	return user, nil
}

// Send renders text as a provisional message, then stores it. On failure the
// provisional entry is removed and the text is kept as the draft.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return apperrors.Validation("message text is required")
	}

	c.mu.Lock()
	user, session, state := c.user, c.session, c.state
	c.mu.Unlock()
	if state == StateClosed {
		return ErrClosed
	}
	if state != StateChatting || session == nil {
		return apperrors.SessionNotActive()
	}

	localID := c.view.AddProvisional(session.ID, user.ID, text, c.Now())
	msg, err := c.API.SendMessage(ctx, session.ID, user.ID, text)
	if err != nil {
		c.view.Remove(localID)
		c.mu.Lock()
		c.draft = text
		c.mu.Unlock()
		c.log.Warn("send failed, message rolled back", "error", err.Error(), "chat_session_id", session.ID)
		return err
	}
	c.view.Merge(*msg)
	return nil
}

// Skip ends the current chat, if any, and starts searching again.
func (c *Controller) Skip(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed || c.user == nil {
		c.mu.Unlock()
		return ErrClosed
	}
	l := c.detachLocked()
	c.mu.Unlock()
	l.wait()

	c.mu.Lock()
	user, session := c.user, c.session
	c.session = nil
	c.mu.Unlock()

	var err error
	if session != nil {
		err = c.API.EndChat(ctx, session.ID, user.ID)
	}
	c.view.Reset()

	c.mu.Lock()
	if c.state != StateClosed {
		c.startSearchLocked()
	}
	c.mu.Unlock()
	return err
}

// Close ends the active session if any, stops a running search and marks
// the user offline. Every step is attempted even if an earlier one failed.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	wasSearching := c.state == StateSearching
	c.state = StateClosed
	l := c.detachLocked()
	c.mu.Unlock()
	l.wait()

	c.mu.Lock()
	user, session := c.user, c.session
	c.session = nil
	c.mu.Unlock()

	c.stop()
	c.loops.Wait()
	close(c.updates)
	if user == nil {
		return nil
	}

	var errs []error
	if session != nil {
		if err := c.API.EndChat(ctx, session.ID, user.ID); err != nil {
			errs = append(errs, fmt.Errorf("end chat: %w", err))
		}
	} else if wasSearching {
		if err := c.API.StopSearch(ctx, user.ID); err != nil {
			errs = append(errs, fmt.Errorf("stop search: %w", err))
		}
	}
	if err := c.API.SetOnline(ctx, user.ID, false); err != nil {
		errs = append(errs, fmt.Errorf("set offline: %w", err))
	}
	return errors.Join(errs...)
}

// detachLocked cancels the running loop. The caller waits for it after
// releasing the lock, since the loop may need the lock to finish.
func (c *Controller) detachLocked() *loop {
	l := c.current
	c.current = nil
	if l != nil {
		l.cancel()
	}
	return l
}

func (l *loop) wait() {
	if l != nil {
		<-l.done
	}
}

func (c *Controller) spawnLocked(fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(c.root)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	c.current = l
	c.loops.Add(1)
	go func() {
		defer c.loops.Done()
		defer close(l.done)
		fn(ctx)
	}()
}

func (c *Controller) startSearchLocked() {
	c.state = StateSearching
	c.spawnLocked(c.searchThenWatch)
}

// searchThenWatch searches until matched, then watches the session from the
// same goroutine.
func (c *Controller) searchThenWatch(ctx context.Context) {
	session := c.searchLoop(ctx)
	if session == nil || !c.matched(ctx, session) {
		return
	}
	c.watch(ctx, session.ID)
}

// searchLoop asks for a partner right away, then on every tick until matched.
// Failures are left to the next tick. It returns nil when cancelled.
func (c *Controller) searchLoop(ctx context.Context) *models.ChatSession {
	ticker := time.NewTicker(c.SearchInterval)
	defer ticker.Stop()

	for {
		if session, done := c.trySearch(ctx); done {
			return session
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Controller) trySearch(ctx context.Context) (*models.ChatSession, bool) {
	user := c.User()
	res, err := c.API.StartSearch(ctx, user.ID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, true
		}
		c.log.Warn("search attempt failed", "error", err.Error(), "user_id", user.ID)
		return nil, false
	}
	if !res.Matched || res.ChatSession == nil {
		return nil, false
	}
	return res.ChatSession, true
}

// matched switches to chatting and announces the partner. It reports false
// when the loop was cancelled meanwhile.
func (c *Controller) matched(ctx context.Context, session *models.ChatSession) bool {
	c.mu.Lock()
	// Recorded even when cancelled, so teardown still ends the session.
	c.session = session
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.state = StateChatting
	c.view.Reset()
	c.mu.Unlock()

	c.emit(ctx, Update{Kind: UpdateMatched, ChatSession: session})
	return ctx.Err() == nil
}

// watch applies pushed or polled events to the view until the session ends.
func (c *Controller) watch(ctx context.Context, chatSessionID string) {
	events := c.Runner.Watch(ctx, delivery.Source{
		SessionID: chatSessionID,
		Subscribe: func(ctx context.Context) (pubsub.Subscription, error) {
			return c.Feed.Subscribe(ctx, chatSessionID)
		},
		Poll: func(ctx context.Context) ([]models.Message, bool, error) {
			messages, status, err := c.API.Messages(ctx, chatSessionID)
			if err != nil {
				return nil, false, err
			}
			return messages, status != models.SessionActive, nil
		},
	})

	for ev := range events {
		switch ev.Type {
		case models.EventMessage:
			if ev.Message != nil && c.view.Merge(*ev.Message) {
				c.emit(ctx, Update{Kind: UpdateMessage, Message: ev.Message})
			}
		case models.EventSessionEnded:
			c.partnerLeft(ctx, chatSessionID)
		}
	}
}

func (c *Controller) partnerLeft(ctx context.Context, chatSessionID string) {
	c.mu.Lock()
	if c.session == nil || c.session.ID != chatSessionID || c.state != StateChatting {
		c.mu.Unlock()
		return
	}
	c.state = StatePartnerLeft
	session := c.session
	c.mu.Unlock()

	c.emit(ctx, Update{Kind: UpdatePartnerLeft, ChatSession: session})
}

func (c *Controller) emit(ctx context.Context, u Update) {
	select {
	case c.updates <- u:
	case <-ctx.Done():
	}
}
