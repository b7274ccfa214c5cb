package realtime

import (
	"context"
	"fmt"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/metrics"
	"github.com/matheus3301/relay/internal/model"
	"github.com/matheus3301/relay/internal/outbox"
	"go.uber.org/zap"
)

// RefreshContacts replaces the contact list and unseen counters with the
// server's view in full.
func (e *Engine) RefreshContacts(ctx context.Context) error {
	session, err := e.currentSession()
	if err != nil {
		return err
	}

	roster, err := e.api.Contacts(ctx)
	if err != nil {
		return fmt.Errorf("fetch contacts: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active || e.session != session {
		metrics.StaleResponses.WithLabelValues("contacts").Inc()
		return ErrSessionChanged
	}
	e.index.Replace(roster.Users, roster.Unseen)
	clear(e.hydrating)
	e.logger.Debug("contacts refreshed", zap.Int("contacts", e.index.Len()))
	e.bus.Emit(bus.KindContactsChanged, ContactsChanged{Reason: "refresh"})
	return nil
}

// SelectContact opens the conversation with id: the message log is emptied
// until LoadHistory resolves, and the contact's unseen counter is zeroed.
func (e *Engine) SelectContact(id string) error {
	if id == "" {
		return ErrNoContact
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return ErrNoSession
	}
	e.selected = id
	e.selection++
	e.log.Reset()
	e.index.ClearUnseen(id)
	e.bus.Emit(bus.KindSelectionChanged, SelectionChanged{ContactID: id})
	return nil
}

// LoadHistory fetches the conversation with id and installs it, provided id
// is still the selected contact under the same selection. Messages pushed into
// the conversation while the fetch was in flight are kept after the history.
// The server marks the returned inbound messages as seen.
func (e *Engine) LoadHistory(ctx context.Context, id string) error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return ErrNoSession
	}
	if e.selected != id {
		e.mu.Unlock()
		return ErrStaleHistory
	}
	session, selection := e.session, e.selection
	e.mu.Unlock()

	msgs, err := e.api.History(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active || e.session != session {
		metrics.StaleResponses.WithLabelValues("history").Inc()
		return ErrSessionChanged
	}
	if e.selection != selection || e.selected != id {
		metrics.StaleResponses.WithLabelValues("history").Inc()
		e.logger.Debug("discarding stale history", zap.String("contact", id), zap.String("selected", e.selected))
		return ErrStaleHistory
	}

	arrived := e.log.Messages()
	e.log.Replace(msgs)
	for _, m := range arrived {
		e.log.Append(m)
	}
	for _, m := range msgs {
		metrics.MessagesObserved.WithLabelValues(SourceFetch).Inc()
		e.recent.Add(m.ID)
		e.observeLocked(m)
	}
	if len(msgs) > 0 {
		e.bus.Emit(bus.KindContactsChanged, ContactsChanged{Reason: "history", ContactID: id})
	}
	e.bus.Emit(bus.KindHistoryLoaded, HistoryLoaded{ContactID: id, Count: e.log.Len()})
	return nil
}

// Open selects id and loads its history.
func (e *Engine) Open(ctx context.Context, id string) error {
	if err := e.SelectContact(id); err != nil {
		return err
	}
	return e.LoadHistory(ctx, id)
}

// Send posts draft to id. Empty drafts fail before any network call. Only the
// canonical message returned by the server is recorded.
func (e *Engine) Send(ctx context.Context, id string, draft model.Draft) (*model.Message, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrNoContact
	}
	session, err := e.currentSession()
	if err != nil {
		return nil, err
	}

	msg, err := e.api.Send(ctx, id, draft)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active || e.session != session {
		metrics.StaleResponses.WithLabelValues("send").Inc()
		return msg, ErrSessionChanged
	}
	metrics.MessagesObserved.WithLabelValues(SourceSend).Inc()
	e.applyLocked(*msg, SourceSend)
	return msg, nil
}

// ObserveMessage records a message pushed over the channel.
func (e *Engine) ObserveMessage(msg model.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		metrics.StaleResponses.WithLabelValues("push").Inc()
		return
	}
	if msg.SenderID != e.selfID && msg.ReceiverID != e.selfID {
		e.logger.Warn("ignoring message for another user",
			zap.String("msg_id", msg.ID),
			zap.String("sender", msg.SenderID),
			zap.String("receiver", msg.ReceiverID))
		return
	}
	metrics.MessagesObserved.WithLabelValues(SourcePush).Inc()
	e.applyLocked(msg, SourcePush)
}

// ReplacePresence swaps the online set for ids.
func (e *Engine) ReplacePresence(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		metrics.StaleResponses.WithLabelValues("presence").Inc()
		return
	}
	e.presence.Replace(ids)
	metrics.OnlineUsers.Set(float64(e.presence.Len()))
	e.bus.Emit(bus.KindPresenceChanged, PresenceChanged{Online: e.presence.IDs()})
}

// applyLocked appends msg to the open conversation if it belongs there, then
// updates the contact index. A message already in the log, or one already
// observed for another conversation, changes nothing.
func (e *Engine) applyLocked(msg model.Message, source string) {
	partner := msg.PartnerOf(e.selfID)
	first := e.recent.Add(msg.ID)
	if partner == e.selected {
		if !e.log.Append(msg) {
			e.duplicateLocked(msg, source)
			return
		}
		e.bus.Emit(bus.KindMessageAppended, MessageAppended{ContactID: partner, Source: source, Message: msg})
		e.markSeenIfOpenConversationLocked(msg, partner)
	} else if !first {
		e.duplicateLocked(msg, source)
		return
	}
	if partner, unseen := e.observeLocked(msg); partner != "" {
		e.bus.Emit(bus.KindContactsChanged, ContactsChanged{Reason: "message", ContactID: partner, Unseen: unseen})
	}
}

func (e *Engine) duplicateLocked(msg model.Message, source string) {
	metrics.DuplicatesSuppressed.Inc()
	e.logger.Debug("duplicate message suppressed", zap.String("msg_id", msg.ID), zap.String("source", source))
}

// observeLocked moves the partner of msg to the front of the contact list and
// counts inbound messages outside the open conversation as unseen.
// It returns the partner and its unseen counter.
func (e *Engine) observeLocked(msg model.Message) (string, int) {
	partner := msg.PartnerOf(e.selfID)
	if partner == "" {
		return "", 0
	}
	if !e.index.MoveToFront(partner) {
		e.index.InsertFront(model.User{ID: partner})
		e.hydrateLocked(partner)
	}
	unseen := e.index.Unseen(partner)
	if msg.ReceiverID == e.selfID && partner != e.selected {
		unseen = e.index.Increment(partner)
	}
	return partner, unseen
}

// markSeenIfOpenConversationLocked queues a seen receipt for an unseen
// message the selected partner sent.
func (e *Engine) markSeenIfOpenConversationLocked(msg model.Message, partner string) {
	if msg.Seen || msg.SenderID != partner || msg.SenderID == e.selfID {
		return
	}
	e.receipts.Enqueue(outbox.Receipt{MessageID: msg.ID, ContactID: partner, Session: e.session})
}

// receiptCurrent reports whether r still belongs to the active session, so a
// receipt queued before a logout never goes out under the next credential.
func (e *Engine) receiptCurrent(r outbox.Receipt) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active && e.session == r.Session
}

// receiptDone flips the local copy to seen once the server accepted the receipt.
func (e *Engine) receiptDone(r outbox.Receipt, err error) {
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active || e.session != r.Session || e.selected != r.ContactID {
		return
	}
	if e.log.MarkSeen(r.MessageID) {
		e.bus.Emit(bus.KindMessageSeen, MessageSeen{ContactID: r.ContactID, MessageID: r.MessageID})
	}
}

// hydrateLocked fetches the profile of a contact first seen through a
// message, without moving it in the list.
func (e *Engine) hydrateLocked(id string) {
	if e.hydrating[id] {
		return
	}
	e.hydrating[id] = true
	session := e.session
	e.spawn(func(ctx context.Context) {
		roster, err := e.api.Contacts(ctx)

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.session != session {
			return
		}
		delete(e.hydrating, id)
		if err != nil {
			e.logger.Warn("failed to hydrate contact", zap.String("contact", id), zap.Error(err))
			return
		}
		for _, u := range roster.Users {
			if u.ID == id {
				if e.index.Update(u) {
					e.bus.Emit(bus.KindContactsChanged, ContactsChanged{Reason: "hydrate", ContactID: id, Unseen: e.index.Unseen(id)})
				}
				return
			}
		}
		e.logger.Debug("contact not in roster", zap.String("contact", id))
	})
}

func (e *Engine) currentSession() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return 0, ErrNoSession
	}
	return e.session, nil
}
