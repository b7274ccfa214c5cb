package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/notice"
	"github.com/matheus3301/relay/internal/realtime"
	"github.com/matheus3301/relay/internal/rest"
	"github.com/matheus3301/relay/internal/status"
	"go.uber.org/zap"
)

const refreshTimeout = 30 * time.Second

// watcher reacts to session and channel events: a confirmed session gets its
// contact list, and a dropped channel is surfaced as a notice.
type watcher struct {
	engine *realtime.Engine
	notes  *notice.Notifier
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

func newWatcher(engine *realtime.Engine, notes *notice.Notifier, b *bus.Bus, logger *zap.Logger) *watcher {
	return &watcher{engine: engine, notes: notes, bus: b, logger: logger}
}

func (w *watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	sessionCh, unsubSession := w.bus.Subscribe("session.", 64)
	channelCh, unsubChannel := w.bus.Subscribe("channel.", 64)

	go func() {
		defer unsubSession()
		defer unsubChannel()
		for {
			select {
			case evt := <-sessionCh:
				w.handleSession(ctx, evt)
			case evt := <-channelCh:
				if evt.Kind == bus.KindChannelLost {
					w.notes.Warn("Realtime connection lost")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *watcher) handleSession(ctx context.Context, evt bus.Event) {
	change, ok := evt.Payload.(status.StatusChange)
	if !ok || change.To != status.Authenticated {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		err := w.engine.RefreshContacts(ctx)
		if err == nil {
			return
		}
		w.logger.Warn("initial contact refresh failed", zap.Error(err))
		// A session that ended meanwhile has nothing to report.
		if errors.Is(err, realtime.ErrSessionChanged) || errors.Is(err, realtime.ErrNoSession) {
			return
		}
		w.notes.Error(rest.Reason(err))
	}()
}
