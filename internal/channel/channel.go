// Package channel maintains the persistent push connection to the chat server.
//
// The server pushes JSON frames {"event": name, "data": payload}. Handlers for
// the known events are registered when the connection opens and released when
// it closes; once Close returns, no handler runs for that connection again.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/metrics"
	"github.com/matheus3301/relay/internal/model"
	"go.uber.org/zap"
)

// Push event names.
const (
	EventOnlineUsers = "getOnlineUsers"
	EventNewMessage  = "newMessage"
)

const maxFrameBytes = 8 << 20

// Sink receives decoded push events.
type Sink interface {
	ReplacePresence(ids []string)
	ObserveMessage(msg model.Message)
}

// Frame is one push event on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// HandlerFunc handles the payload of one push event.
type HandlerFunc func(data json.RawMessage) error

// Connected is the payload of channel.connected events.
type Connected struct {
	SelfID string
}

// Lost is the payload of channel.disconnected events.
type Lost struct {
	SelfID string
	Reason string
}

// Channel owns at most one connection at a time.
type Channel struct {
	socketURL string
	handshake time.Duration
	bus       *bus.Bus
	logger    *zap.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	selfID   string
	handlers map[string]HandlerFunc
}

// New creates a closed channel for socketURL (e.g. ws://localhost:5000).
func New(socketURL string, handshake time.Duration, b *bus.Bus, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		socketURL: socketURL,
		handshake: handshake,
		bus:       b,
		logger:    logger,
	}
}

// Open connects as selfID. It is a no-op while already connected as selfID;
// a connection for another user is closed first. Failures are not retried.
func (c *Channel) Open(ctx context.Context, selfID, token string, sink Sink) error {
	if selfID == "" {
		return errors.New("open channel: empty user id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if c.selfID == selfID {
			return nil
		}
		c.releaseLocked("replaced")
	}

	target, err := c.dialURL(selfID)
	if err != nil {
		return err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.handshake,
	}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		reason := err.Error()
		if resp != nil {
			reason = fmt.Sprintf("%s (HTTP %d)", reason, resp.StatusCode)
		}
		c.logger.Warn("channel connect failed", zap.String("self", selfID), zap.String("reason", reason))
		metrics.ChannelDisconnects.WithLabelValues("error").Inc()
		c.bus.Emit(bus.KindChannelLost, Lost{SelfID: selfID, Reason: reason})
		return fmt.Errorf("connect channel: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	c.conn = conn
	c.selfID = selfID
	c.handlers = map[string]HandlerFunc{
		EventOnlineUsers: func(data json.RawMessage) error {
			var ids []string
			if err := json.Unmarshal(data, &ids); err != nil {
				return fmt.Errorf("decode online users: %w", err)
			}
			sink.ReplacePresence(ids)
			return nil
		},
		EventNewMessage: func(data json.RawMessage) error {
			var msg model.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				return fmt.Errorf("decode new message: %w", err)
			}
			if msg.ID == "" {
				return errors.New("new message without id")
			}
			sink.ObserveMessage(msg)
			return nil
		},
	}

	go c.readLoop(conn, selfID)

	metrics.ChannelOpens.Inc()
	c.logger.Info("channel connected", zap.String("self", selfID))
	c.bus.Emit(bus.KindChannelConnected, Connected{SelfID: selfID})
	return nil
}

// Close releases the connection and its handlers. Safe to call when closed.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked("closed")
}

// Connected reports whether a connection is open.
func (c *Channel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// SelfID returns the user the open connection belongs to, or "".
func (c *Channel) SelfID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selfID
}

func (c *Channel) dialURL(selfID string) (string, error) {
	u, err := url.Parse(c.socketURL)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("userId", selfID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) releaseLocked(cause string) {
	if c.conn == nil {
		return
	}
	conn, selfID := c.conn, c.selfID
	c.conn = nil
	c.selfID = ""
	c.handlers = nil

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()

	metrics.ChannelDisconnects.WithLabelValues("closed").Inc()
	c.logger.Info("channel closed", zap.String("self", selfID), zap.String("cause", cause))
	c.bus.Emit(bus.KindChannelClosed, Lost{SelfID: selfID, Reason: cause})
}

func (c *Channel) readLoop(conn *websocket.Conn, selfID string) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, selfID, err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			c.logger.Warn("undecodable frame", zap.ByteString("sample", sample), zap.Error(err))
			continue
		}
		c.dispatch(conn, frame)
	}
}

// dispatch runs the handler under the read lock and only while conn is still
// the current connection, so Close cannot return while a handler is running.
func (c *Channel) dispatch(conn *websocket.Conn, frame Frame) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn != conn {
		return
	}
	h, ok := c.handlers[frame.Event]
	if !ok {
		c.logger.Debug("no handler for event", zap.String("event", frame.Event))
		return
	}
	metrics.ChannelEvents.WithLabelValues(frame.Event).Inc()
	if err := h(frame.Data); err != nil {
		c.logger.Warn("push event dropped", zap.String("event", frame.Event), zap.Error(err))
	}
}

func (c *Channel) lost(conn *websocket.Conn, selfID string, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.selfID = ""
	c.handlers = nil
	c.mu.Unlock()
	_ = conn.Close()

	cause := "error"
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		cause = "remote"
	case errors.As(err, &ne) && ne.Timeout():
		cause = "timeout"
	}
	metrics.ChannelDisconnects.WithLabelValues(cause).Inc()
	c.logger.Warn("channel disconnected", zap.String("self", selfID), zap.String("cause", cause), zap.Error(err))
	c.bus.Emit(bus.KindChannelLost, Lost{SelfID: selfID, Reason: err.Error()})
}
