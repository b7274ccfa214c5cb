package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by namespace prefix
// (e.g. "message." or "session.").
const (
	KindStatusChanged    = "session.status_changed"
	KindSelfChanged      = "session.self_changed"
	KindChannelConnected = "channel.connected"
	KindChannelClosed    = "channel.closed"
	KindChannelLost      = "channel.disconnected"
	KindPresenceChanged  = "presence.changed"
	KindContactsChanged  = "contacts.changed"
	KindSelectionChanged = "contacts.selected"
	KindMessageAppended  = "message.appended"
	KindHistoryLoaded    = "message.history_loaded"
	KindMessageSeen      = "message.seen"
	KindNoticeSuccess    = "notice.success"
	KindNoticeError      = "notice.error"
	KindNoticeWarning    = "notice.warning"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
