package realtime

import "github.com/matheus3301/relay/internal/model"

// PresenceChanged is the payload of presence.changed events.
type PresenceChanged struct {
	Online []string `json:"online"`
}

// ContactsChanged is the payload of contacts.changed events. ContactID and
// Unseen are set when a single contact moved.
type ContactsChanged struct {
	Reason    string `json:"reason"`
	ContactID string `json:"contactId,omitempty"`
	Unseen    int    `json:"unseen,omitempty"`
}

// SelectionChanged is the payload of contacts.selected events.
type SelectionChanged struct {
	ContactID string `json:"contactId"`
}

// MessageAppended is the payload of message.appended events.
type MessageAppended struct {
	ContactID string        `json:"contactId"`
	Source    string        `json:"source"`
	Message   model.Message `json:"message"`
}

// HistoryLoaded is the payload of message.history_loaded events.
type HistoryLoaded struct {
	ContactID string `json:"contactId"`
	Count     int    `json:"count"`
}

// MessageSeen is the payload of message.seen events.
type MessageSeen struct {
	ContactID string `json:"contactId"`
	MessageID string `json:"messageId"`
}

// Snapshot is a consistent copy of the engine state.
type Snapshot struct {
	Active   bool            `json:"active"`
	SelfID   string          `json:"selfId"`
	Contacts []model.User    `json:"contacts"`
	Unseen   map[string]int  `json:"unseen"`
	Online   []string        `json:"online"`
	Selected string          `json:"selected"`
	Messages []model.Message `json:"messages"`
}

// Snapshot copies the current state under the engine lock.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Active:   e.active,
		SelfID:   e.selfID,
		Contacts: e.index.Contacts(),
		Unseen:   e.index.UnseenCounts(),
		Online:   e.presence.IDs(),
		Selected: e.selected,
		Messages: e.log.Messages(),
	}
}
