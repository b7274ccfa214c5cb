// Package session owns the authentication lifecycle: it verifies or issues the
// credential, and the presence channel exists only while a credential is set
// and the server has confirmed who it belongs to.
//
// Every credential change bumps an attempt counter. A verification, login or
// profile response captured under an older attempt is discarded.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/channel"
	"github.com/matheus3301/relay/internal/credential"
	"github.com/matheus3301/relay/internal/metrics"
	"github.com/matheus3301/relay/internal/model"
	"github.com/matheus3301/relay/internal/notice"
	"github.com/matheus3301/relay/internal/rest"
	"github.com/matheus3301/relay/internal/status"
	"go.uber.org/zap"
)

const authFailedNotice = "Authentication failed. Please log in again."

var (
	// ErrSuperseded is returned when the credential changed while a request was in flight.
	ErrSuperseded = errors.New("superseded by a newer authentication attempt")
	// ErrNotAuthenticated is returned by operations that need a confirmed session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrCredentialExpired is returned when a restored credential is already past its expiry.
	ErrCredentialExpired = errors.New("credential expired")
	// ErrEmptyUpdate is returned by UpdateProfile when no field is set.
	ErrEmptyUpdate = errors.New("profile update has no fields")
)

// Auth is the credential-related subset of the chat server API.
type Auth interface {
	Login(ctx context.Context, mode model.AuthMode, creds model.Credentials) (*rest.AuthResult, error)
	CheckAuth(ctx context.Context) (*model.User, error)
	UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*model.User, error)
}

// Conn is the presence channel.
type Conn interface {
	Open(ctx context.Context, selfID, token string, sink channel.Sink) error
	Close()
	Connected() bool
}

// Engine is the sync engine: it receives push events and is reset with the session.
type Engine interface {
	channel.Sink
	Begin(selfID string)
	Reset()
}

// Info is a point-in-time view of the session.
type Info struct {
	State     status.State
	Self      *model.User
	Connected bool
}

// Manager drives the session state machine.
type Manager struct {
	creds   *credential.Store
	auth    Auth
	conn    Conn
	engine  Engine
	machine *status.Machine
	notes   *notice.Notifier
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time

	// mu serializes credential changes, including the channel open that follows one.
	mu      sync.Mutex
	attempt uint64
	// intent counts Login and RestoreOrLogin calls; only the newest may apply.
	intent uint64
	self   *model.User
}

// NewManager wires a manager. The machine should still be in BOOTING.
func NewManager(
	creds *credential.Store,
	auth Auth,
	conn Conn,
	engine Engine,
	machine *status.Machine,
	notes *notice.Notifier,
	b *bus.Bus,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		creds:   creds,
		auth:    auth,
		conn:    conn,
		engine:  engine,
		machine: machine,
		notes:   notes,
		bus:     b,
		logger:  logger,
		now:     time.Now,
	}
}

// Start restores the persisted credential and verifies it, or settles in
// ANONYMOUS when there is none.
func (m *Manager) Start(ctx context.Context) error {
	token, err := m.creds.Restore()
	if err != nil {
		m.logger.Error("failed to restore credential", zap.Error(err))
	}
	if token == "" {
		m.mu.Lock()
		m.transition(status.Anonymous)
		m.mu.Unlock()
		return err
	}
	_, err = m.RestoreOrLogin(ctx, token)
	return err
}

// RestoreOrLogin installs token, tears down any current session and verifies
// the token with the server. On success the channel is opened for the
// confirmed user; on failure the credential is cleared.
func (m *Manager) RestoreOrLogin(ctx context.Context, token string) (*model.User, error) {
	m.mu.Lock()
	m.intent++
	attempt := m.bumpLocked()
	m.teardownLocked()
	if err := m.creds.Set(token); err != nil {
		m.logger.Warn("credential not persisted", zap.Error(err))
	}
	m.transition(status.Authenticating)
	if credential.Expired(token, m.now()) {
		m.failLocked(ErrCredentialExpired)
		m.mu.Unlock()
		return nil, ErrCredentialExpired
	}
	m.mu.Unlock()

	user, err := m.auth.CheckAuth(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.attempt {
		metrics.StaleResponses.WithLabelValues("verification").Inc()
		m.logger.Debug("discarding superseded verification")
		return nil, ErrSuperseded
	}
	if err != nil {
		m.failLocked(err)
		return nil, fmt.Errorf("verify credential: %w", err)
	}
	m.establishLocked(ctx, *user, token)
	return m.selfLocked(), nil
}

// Login issues a credential through signup or login. A failure leaves the
// current session untouched and surfaces the server's reason as a notice.
func (m *Manager) Login(ctx context.Context, mode model.AuthMode, creds model.Credentials) (*model.User, error) {
	m.mu.Lock()
	m.intent++
	attempt, intent := m.attempt, m.intent
	m.mu.Unlock()

	result, err := m.auth.Login(ctx, mode, creds)

	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.attempt || intent != m.intent {
		metrics.StaleResponses.WithLabelValues("login").Inc()
		m.logger.Debug("discarding superseded login", zap.String("mode", string(mode)))
		return nil, ErrSuperseded
	}
	if err != nil {
		m.notes.Error(rest.Reason(err))
		m.logger.Info("login failed", zap.String("mode", string(mode)), zap.Error(err))
		return nil, err
	}
	m.bumpLocked()
	m.teardownLocked()
	if err := m.creds.Set(result.Token); err != nil {
		m.logger.Warn("credential not persisted", zap.Error(err))
	}
	m.establishLocked(ctx, result.User, result.Token)

	msg := result.Message
	if msg == "" {
		msg = "Logged in successfully"
		if mode == model.ModeSignup {
			msg = "Account created successfully"
		}
	}
	m.notes.Success(msg)
	return m.selfLocked(), nil
}

// Logout clears the credential, the self-record and all synced state, and
// closes the channel. Calling it while logged out is harmless.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasAuthenticated := m.machine.Current() == status.Authenticated
	m.bumpLocked()
	if err := m.creds.Clear(); err != nil {
		m.logger.Warn("credential not removed from disk", zap.Error(err))
	}
	m.teardownLocked()
	if m.machine.Current() != status.Anonymous {
		m.transition(status.Anonymous)
	}
	if wasAuthenticated {
		m.logger.Info("logged out")
		m.notes.Success("Logged out successfully")
	}
}

// UpdateProfile rewrites fields of the self-record.
func (m *Manager) UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*model.User, error) {
	if update.Empty() {
		return nil, ErrEmptyUpdate
	}
	m.mu.Lock()
	if m.self == nil {
		m.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	attempt := m.attempt
	m.mu.Unlock()

	user, err := m.auth.UpdateProfile(ctx, update)

	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.attempt {
		metrics.StaleResponses.WithLabelValues("profile").Inc()
		return nil, ErrSuperseded
	}
	if err != nil {
		m.notes.Error(rest.Reason(err))
		return nil, err
	}
	if user.ID == "" {
		user.ID = m.self.ID
	}
	m.self = user
	m.bus.Emit(bus.KindSelfChanged, *user)
	m.notes.Success("Profile updated successfully")
	return m.selfLocked(), nil
}

// Reconnect reopens the channel for the confirmed user after it dropped.
// It is a no-op while connected.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.self == nil {
		return ErrNotAuthenticated
	}
	if m.conn.Connected() {
		return nil
	}
	token, ok := m.creds.Token()
	if !ok {
		return ErrNotAuthenticated
	}
	return m.conn.Open(ctx, m.self.ID, token, m.engine)
}

// Shutdown closes the channel and invalidates in-flight responses. The
// persisted credential is kept for the next start.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bumpLocked()
	m.conn.Close()
}

// Info returns the current session view.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		State:     m.machine.Current(),
		Self:      m.selfLocked(),
		Connected: m.conn.Connected(),
	}
}

// Self returns a copy of the confirmed self-record, or nil.
func (m *Manager) Self() *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selfLocked()
}

func (m *Manager) selfLocked() *model.User {
	if m.self == nil {
		return nil
	}
	u := *m.self
	return &u
}

func (m *Manager) bumpLocked() uint64 {
	m.attempt++
	return m.attempt
}

// establishLocked records the confirmed user and opens the channel. A channel
// failure is reported but does not undo authentication.
func (m *Manager) establishLocked(ctx context.Context, user model.User, token string) {
	m.self = &user
	m.transition(status.Authenticated)
	m.engine.Begin(user.ID)
	m.bus.Emit(bus.KindSelfChanged, user)
	m.logger.Info("authenticated", zap.String("self", user.ID))

	if err := m.conn.Open(ctx, user.ID, token, m.engine); err != nil {
		m.logger.Warn("presence channel unavailable", zap.Error(err))
		m.notes.Warn("Realtime connection unavailable")
	}
}

// failLocked handles a rejected credential: FAILED, then back to ANONYMOUS
// with everything cleared.
func (m *Manager) failLocked(cause error) {
	metrics.AuthFailures.Inc()
	m.logger.Warn("credential rejected", zap.Error(cause))
	m.bumpLocked()
	m.transition(status.Failed)
	if err := m.creds.Clear(); err != nil {
		m.logger.Warn("credential not removed from disk", zap.Error(err))
	}
	m.teardownLocked()
	m.transition(status.Anonymous)
	m.notes.Error(authFailedNotice)
}

func (m *Manager) teardownLocked() {
	m.conn.Close()
	m.engine.Reset()
	if m.self != nil {
		m.self = nil
		m.bus.Emit(bus.KindSelfChanged, model.User{})
	}
}

func (m *Manager) transition(to status.State) {
	if err := m.machine.Transition(to); err != nil {
		m.logger.Error("state transition rejected", zap.Error(err))
	}
}
