// Package delivery turns a push subscription and a history poller into one
// stream of chat events. Push is preferred; when it cannot be confirmed in
// time, or is lost later, the runner polls until push recovers or the
// session ends.
package delivery

import (
	"context"
	"time"

	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/models"
	"randomchat/backend/internal/pubsub"
)

// Source describes where the events of one chat session come from.
type Source struct {
	SessionID string
	// Subscribe opens the push channel. It must honour ctx while waiting for
	// confirmation.
	Subscribe func(ctx context.Context) (pubsub.Subscription, error)
	// Poll returns the full ordered history and whether the session has ended.
	Poll func(ctx context.Context) (messages []models.Message, ended bool, err error)
}

// Mode is the path events are currently flowing through.
type Mode string

const (
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

// Runner drives Sources. The zero value is not usable; set both intervals.
type Runner struct {
	SubscribeTimeout time.Duration
	PollInterval     time.Duration
	Log              *logger.Logger

	// OnModeChange is called whenever a watch switches between push and poll.
	OnModeChange func(sessionID string, mode Mode)
}

func NewRunner(subscribeTimeout, pollInterval time.Duration, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Runner{SubscribeTimeout: subscribeTimeout, PollInterval: pollInterval, Log: log}
}

// Watch streams the events of src until the session ends or ctx is done.
// The returned channel is closed when watching stops.
func (r *Runner) Watch(ctx context.Context, src Source) <-chan models.ChatEvent {
	out := make(chan models.ChatEvent, 16)
	w := &watch{
		runner: r,
		src:    src,
		out:    out,
		seen:   make(map[string]struct{}),
		log:    r.Log.With("chat_session_id", src.SessionID),
	}
	go func() {
		defer close(out)
		w.run(ctx)
	}()
	return out
}

type watch struct {
	runner *Runner
	src    Source
	out    chan<- models.ChatEvent
	seen   map[string]struct{}
	mode   Mode
	log    *logger.Logger
}

func (w *watch) run(ctx context.Context) {
	sub := w.subscribe(ctx, w.runner.SubscribeTimeout)
	// Pick up whatever was appended before the subscription was confirmed.
	if sub != nil && w.poll(ctx) {
		_ = sub.Close()
		return
	}
	for {
		if sub != nil {
			w.setMode(ModePush)
			done := w.consume(ctx, sub)
			_ = sub.Close()
			if done || ctx.Err() != nil {
				return
			}
			w.log.Warn("push channel lost, falling back to polling")
		} else if ctx.Err() != nil {
			return
		}

		w.setMode(ModePoll)
		sub = w.pollUntilResubscribed(ctx)
		if sub == nil {
			return
		}
		// Catch up on whatever was appended while push was down.
		if done := w.poll(ctx); done {
			_ = sub.Close()
			return
		}
	}
}

// pollUntilResubscribed polls on every tick and tries to resubscribe between
// polls. It returns nil when watching must stop.
func (w *watch) pollUntilResubscribed(ctx context.Context) pubsub.Subscription {
	ticker := time.NewTicker(w.runner.PollInterval)
	defer ticker.Stop()

	retry := w.runner.SubscribeTimeout
	if w.runner.PollInterval < retry {
		retry = w.runner.PollInterval
	}

	for {
		if done := w.poll(ctx); done {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if sub := w.subscribe(ctx, retry); sub != nil {
			return sub
		}
	}
}

func (w *watch) subscribe(ctx context.Context, timeout time.Duration) pubsub.Subscription {
	subCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sub, err := w.src.Subscribe(subCtx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("push subscription not confirmed", "error", err.Error())
		}
		return nil
	}
	return sub
}

// consume forwards pushed events. It returns true when the session ended or
// ctx is done, false when the subscription was lost.
func (w *watch) consume(ctx context.Context, sub pubsub.Subscription) bool {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-events:
			if !ok {
				return false
			}
			// Pushed events pass through as published; subscribers
			// deduplicate by id. Recording them keeps later polls from
			// emitting them a second time.
			if ev.Message != nil {
				w.seen[ev.Message.ID] = struct{}{}
			}
			if !w.emit(ctx, ev) {
				return true
			}
			if ev.Type == models.EventSessionEnded {
				return true
			}
		}
	}
}

// poll emits every message not delivered before, then a session_ended event
// when the session is over. A failed poll is logged and retried on the next tick.
func (w *watch) poll(ctx context.Context) bool {
	messages, ended, err := w.src.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		w.log.Warn("history poll failed", "error", err.Error())
		return false
	}
	for _, msg := range messages {
		if _, ok := w.seen[msg.ID]; ok {
			continue
		}
		w.seen[msg.ID] = struct{}{}
		if !w.emit(ctx, models.NewMessageEvent(msg)) {
			return true
		}
	}
	if ended {
		w.emit(ctx, models.NewSessionEndedEvent(w.src.SessionID))
		return true
	}
	return false
}

func (w *watch) emit(ctx context.Context, ev models.ChatEvent) bool {
	select {
	case w.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *watch) setMode(mode Mode) {
	if w.mode == mode {
		return
	}
	w.mode = mode
	if w.runner.OnModeChange != nil {
		w.runner.OnModeChange(w.src.SessionID, mode)
	}
}
