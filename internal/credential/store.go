// Package credential holds the single bearer token that authorizes requests
// and the presence channel. The in-memory value is authoritative; the
// persister keeps it across daemon restarts.
package credential

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Persister stores the credential between runs. *store.DB implements it.
type Persister interface {
	SaveCredential(token string) error
	LoadCredential() (string, error)
	DeleteCredential() error
}

// Store is the process-wide credential. Reads are safe from any goroutine.
type Store struct {
	mu      sync.RWMutex
	token   string
	persist Persister
	logger  *zap.Logger
}

// NewStore creates an empty store. persist may be nil for an in-memory store.
func NewStore(persist Persister, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{persist: persist, logger: logger}
}

// Token returns the current credential and whether one is present.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Present reports whether a credential is set.
func (s *Store) Present() bool {
	_, ok := s.Token()
	return ok
}

// Set replaces the credential. The in-memory value changes even if persisting fails.
func (s *Store) Set(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	if s.persist == nil {
		return nil
	}
	if err := s.persist.SaveCredential(token); err != nil {
		s.logger.Warn("failed to persist credential", zap.Error(err))
		return fmt.Errorf("persist credential: %w", err)
	}
	return nil
}

// Clear removes the credential from memory and from the persister.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()

	if s.persist == nil {
		return nil
	}
	if err := s.persist.DeleteCredential(); err != nil {
		s.logger.Warn("failed to delete persisted credential", zap.Error(err))
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// Restore loads the persisted credential into memory and returns it.
// An empty result means no credential was stored.
func (s *Store) Restore() (string, error) {
	if s.persist == nil {
		return "", nil
	}
	token, err := s.persist.LoadCredential()
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return token, nil
}

// Expired reports whether token is a JWT whose exp claim has passed.
// Tokens that are not JWTs, or carry no exp, are never considered expired;
// the server has the final word on those.
func Expired(token string, now time.Time) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
