// Package realtime is the sync engine: it keeps the contact index, the open
// conversation and the presence set consistent across request/response
// fetches and channel pushes.
//
// A single mutex covers all local state so an observed message updates the
// conversation and the contact order together. Network calls never run under
// it; responses are applied only if the session (and, for history, the
// selection) they were issued under is still current.
package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/metrics"
	"github.com/matheus3301/relay/internal/model"
	"github.com/matheus3301/relay/internal/outbox"
	"github.com/matheus3301/relay/internal/rest"
	"go.uber.org/zap"
)

var (
	// ErrNoSession is returned when no authenticated session is active.
	ErrNoSession = errors.New("no active session")
	// ErrSessionChanged is returned when the session ended while a request was in flight.
	ErrSessionChanged = errors.New("session changed while request was in flight")
	// ErrStaleHistory is returned when the selection moved on before the history arrived.
	ErrStaleHistory = errors.New("history response is stale")
	// ErrNoContact is returned when an operation needs a contact id and got none.
	ErrNoContact = errors.New("contact id is required")
)

// recentMessages bounds the ids remembered for redelivery detection outside
// the open conversation.
const recentMessages = 4096

// Message sources, used for logs and metrics.
const (
	SourcePush  = "push"
	SourceSend  = "send"
	SourceFetch = "fetch"
)

// API is the subset of the chat server the engine calls.
type API interface {
	Contacts(ctx context.Context) (*rest.Roster, error)
	History(ctx context.Context, contactID string) ([]model.Message, error)
	Send(ctx context.Context, contactID string, draft model.Draft) (*model.Message, error)
	MarkSeen(ctx context.Context, messageID string) error
}

// Engine owns the local view of one authenticated session at a time.
type Engine struct {
	api      API
	bus      *bus.Bus
	logger   *zap.Logger
	receipts *outbox.Sender

	bgMu   sync.Mutex
	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	active    bool
	selfID    string
	session   uint64
	selected  string
	selection uint64
	index     *chat.Index
	log       *chat.Log
	presence  *chat.Presence
	recent    *chat.Recent
	hydrating map[string]bool
}

// NewEngine creates an engine with no active session.
func NewEngine(api API, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		api:       api,
		bus:       b,
		logger:    logger,
		bg:        context.Background(),
		index:     chat.NewIndex(),
		log:       chat.NewLog(),
		presence:  chat.NewPresence(),
		recent:    chat.NewRecent(recentMessages),
		hydrating: make(map[string]bool),
	}
	e.receipts = outbox.NewSender(api, e.receiptCurrent, e.receiptDone, logger.Named("receipts"))
	return e
}

// Start runs the background workers (seen receipts, contact hydration) under ctx.
func (e *Engine) Start(ctx context.Context) {
	e.bgMu.Lock()
	e.bg, e.cancel = context.WithCancel(ctx)
	bg := e.bg
	e.bgMu.Unlock()
	e.receipts.Start(bg)
}

// Stop cancels background work and waits for it to return.
func (e *Engine) Stop() {
	e.bgMu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.bgMu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.receipts.Stop()
	e.wg.Wait()
}

// Begin starts a fresh session for selfID, discarding all previous state.
func (e *Engine) Begin(selfID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.active = true
	e.selfID = selfID
	e.logger.Info("session started", zap.String("self", selfID), zap.Uint64("session", e.session))
}

// Reset ends the session and clears contacts, conversation and presence.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasActive := e.active
	e.resetLocked()
	if wasActive {
		e.logger.Info("session reset", zap.Uint64("session", e.session))
	}
}

func (e *Engine) resetLocked() {
	e.session++
	e.active = false
	e.selfID = ""
	e.selected = ""
	e.selection++
	e.index.Reset()
	e.log.Reset()
	e.presence.Reset()
	e.recent.Reset()
	clear(e.hydrating)
	metrics.OnlineUsers.Set(0)
	e.bus.Emit(bus.KindPresenceChanged, PresenceChanged{})
	e.bus.Emit(bus.KindContactsChanged, ContactsChanged{Reason: "reset"})
}

// SelfID returns the confirmed user id of the active session, or "".
func (e *Engine) SelfID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selfID
}

// Selected returns the selected contact id, or "".
func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// spawn runs fn in the background under the engine's context.
func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.bgMu.Lock()
	ctx := e.bg
	e.bgMu.Unlock()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(ctx)
	}()
}
