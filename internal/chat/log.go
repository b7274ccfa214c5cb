package chat

import (
	"slices"

	"github.com/matheus3301/relay/internal/model"
)

// Log is the arrival-ordered message sequence of the open conversation.
// Message ids are unique; the first copy of an id wins.
type Log struct {
	msgs  []model.Message
	index map[string]int
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{index: make(map[string]int)}
}

// Append adds msg at the end unless its id is already present.
// It reports whether the message was added.
func (l *Log) Append(msg model.Message) bool {
	if _, ok := l.index[msg.ID]; ok {
		return false
	}
	l.index[msg.ID] = len(l.msgs)
	l.msgs = append(l.msgs, msg)
	return true
}

// Replace swaps the whole sequence, dropping repeated ids.
func (l *Log) Replace(msgs []model.Message) {
	l.Reset()
	for _, m := range msgs {
		l.Append(m)
	}
}

// Has reports whether id is in the log.
func (l *Log) Has(id string) bool {
	_, ok := l.index[id]
	return ok
}

// MarkSeen flips the seen flag of id. It reports false if id is absent or already seen.
func (l *Log) MarkSeen(id string) bool {
	i, ok := l.index[id]
	if !ok || l.msgs[i].Seen {
		return false
	}
	l.msgs[i].Seen = true
	return true
}

// Messages returns a copy of the sequence.
func (l *Log) Messages() []model.Message {
	return slices.Clone(l.msgs)
}

// Len returns the number of messages.
func (l *Log) Len() int { return len(l.msgs) }

// Reset empties the log.
func (l *Log) Reset() {
	l.msgs = nil
	clear(l.index)
}
