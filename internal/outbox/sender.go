// Package outbox delivers seen receipts for inbound messages in the background.
// Receipts are best-effort: a failed call is logged and never retried.
package outbox

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const queueSize = 256

// SeenMarker is the server call that flags one message as seen.
type SeenMarker interface {
	MarkSeen(ctx context.Context, messageID string) error
}

// Receipt identifies one message to mark as seen. Session is the sync engine
// session generation the receipt was queued under.
type Receipt struct {
	MessageID string
	ContactID string
	Session   uint64
}

// Sender drains queued receipts one at a time.
type Sender struct {
	marker SeenMarker
	valid  func(Receipt) bool
	done   func(Receipt, error)
	logger *zap.Logger
	queue  chan Receipt

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewSender creates a sender. valid, if set, is consulted right before each
// call; a receipt it rejects is dropped without reaching the server. done, if
// set, is called after every attempt.
func NewSender(marker SeenMarker, valid func(Receipt) bool, done func(Receipt, error), logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		marker: marker,
		valid:  valid,
		done:   done,
		logger: logger,
		queue:  make(chan Receipt, queueSize),
	}
}

// Enqueue schedules r. It reports false when the queue is full and r was dropped.
func (s *Sender) Enqueue(r Receipt) bool {
	select {
	case s.queue <- r:
		return true
	default:
		s.logger.Warn("receipt queue full, dropping", zap.String("msg_id", r.MessageID))
		return false
	}
}

// Start begins draining the queue until ctx is cancelled or Stop is called.
func (s *Sender) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.stopped = make(chan struct{})
	go s.loop(ctx, s.stopped)
}

// Stop stops the loop and waits for the in-flight receipt to finish.
func (s *Sender) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (s *Sender) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case r := <-s.queue:
			s.deliver(ctx, r)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) deliver(ctx context.Context, r Receipt) {
	if s.valid != nil && !s.valid(r) {
		s.logger.Debug("dropping stale receipt", zap.String("msg_id", r.MessageID), zap.Uint64("session", r.Session))
		return
	}
	err := s.marker.MarkSeen(ctx, r.MessageID)
	if err != nil {
		s.logger.Warn("failed to mark message seen",
			zap.String("msg_id", r.MessageID),
			zap.String("contact", r.ContactID),
			zap.Error(err))
	} else {
		s.logger.Debug("message marked seen", zap.String("msg_id", r.MessageID))
	}
	if s.done != nil {
		s.done(r, err)
	}
}
