// Package notice carries short user-facing messages (login succeeded, send
// failed, ...). The latest one is kept until it expires and each is published
// on the bus for watchers.
package notice

import (
	"sync"
	"time"

	"github.com/matheus3301/relay/internal/bus"
)

// Level represents the severity of a notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is one user-facing message.
type Notice struct {
	Text    string    `json:"text"`
	Level   Level     `json:"level"`
	Expires time.Time `json:"expires"`
}

// Notifier holds the latest notice.
type Notifier struct {
	bus *bus.Bus

	mu      sync.RWMutex
	current Notice
}

// New creates a notifier publishing on b (may be nil).
func New(b *bus.Bus) *Notifier {
	return &Notifier{bus: b}
}

// Success sets a success notice.
func (n *Notifier) Success(msg string) {
	n.set(msg, LevelSuccess, 5*time.Second, bus.KindNoticeSuccess)
}

// Warn sets a warning notice.
func (n *Notifier) Warn(msg string) {
	n.set(msg, LevelWarning, 8*time.Second, bus.KindNoticeWarning)
}

// Error sets an error notice.
func (n *Notifier) Error(msg string) {
	n.set(msg, LevelError, 10*time.Second, bus.KindNoticeError)
}

func (n *Notifier) set(msg string, level Level, d time.Duration, kind string) {
	nt := Notice{
		Text:    msg,
		Level:   level,
		Expires: time.Now().Add(d),
	}
	n.mu.Lock()
	n.current = nt
	n.mu.Unlock()
	n.bus.Emit(kind, nt)
}

// Current returns the latest notice, or nil if it expired.
func (n *Notifier) Current() *Notice {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if time.Now().After(n.current.Expires) {
		return nil
	}
	nt := n.current
	return &nt
}
