package syncclient

import (
	"sync"
	"time"

	"randomchat/backend/internal/models"

	"github.com/google/uuid"
)

// provisionalPrefix marks ids that were assigned locally and never stored.
const provisionalPrefix = "local_"

// Entry is one line of the local chat view.
type Entry struct {
	models.Message
	// Provisional is true until the authoritative copy of the message arrives.
	Provisional bool
}

// Merge applies an authoritative message to entries and reports whether the
// view changed. A message whose id is already present is dropped. Otherwise
// the first provisional entry with the same sender and text is replaced in
// place; failing that the message is appended.
func Merge(entries []Entry, msg models.Message) ([]Entry, bool) {
	for _, e := range entries {
		if !e.Provisional && e.ID == msg.ID {
			return entries, false
		}
	}
	for i, e := range entries {
		if e.Provisional && e.SenderID == msg.SenderID && e.MessageText == msg.MessageText {
			entries[i] = Entry{Message: msg}
			return entries, true
		}
	}
	return append(entries, Entry{Message: msg}), true
}

// View is the concurrency-safe message list of the current chat.
type View struct {
	mu      sync.Mutex
	entries []Entry
}

// AddProvisional renders a just-typed message before the service confirms it
// and returns its local id.
func (v *View) AddProvisional(chatSessionID, senderID, text string, now time.Time) string {
	id := provisionalPrefix + uuid.New().String()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = append(v.entries, Entry{
		Message: models.Message{
			ID:            id,
			ChatSessionID: chatSessionID,
			SenderID:      senderID,
			MessageText:   text,
			SentAt:        now,
		},
		Provisional: true,
	})
	return id
}

// Remove drops a provisional entry. It returns false when the entry was
// already reconciled or never existed.
func (v *View) Remove(localID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, e := range v.entries {
		if e.Provisional && e.ID == localID {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (v *View) Merge(msg models.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	var changed bool
	v.entries, changed = Merge(v.entries, msg)
	return changed
}

// Entries returns a copy of the view in display order.
func (v *View) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

func (v *View) Reset() {
	v.mu.Lock()
	v.entries = nil
	v.mu.Unlock()
}
