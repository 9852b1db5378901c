package leadpilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrMissingIdentity is returned when ConnectAndJoin gets a blank identity.
var ErrMissingIdentity = errors.New("identity is required")

const joinTimeout = 10 * time.Second

// Session owns the realtime connection lifecycle. It is the only component
// that opens or closes the transport; views observe events through Subscribe.
type Session struct {
	registry *Registry
	log      *zap.Logger

	mu     sync.Mutex
	bound  Conn
	joined string
}

func NewSession(registry *Registry, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{registry: registry, log: log}
}

// NormalizeIdentity trims and lowercases an email identity.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// ConnectAndJoin makes sure a connection exists and is connected, then joins
// the identity's room. Repeated calls with the same identity reuse the
// connection and do not re-join it.
func (s *Session) ConnectAndJoin(ctx context.Context, identity string) error {
	id := NormalizeIdentity(identity)
	if id == "" {
		return ErrMissingIdentity
	}

	conn := s.registry.Get()
	s.registry.SetIdentity(id)
	s.bind(conn)

	if !conn.Connected() {
		if err := conn.Connect(ctx); err != nil {
			// The transport keeps reconnecting on its own and the connect
			// hook joins once it succeeds.
			s.log.Warn("realtime connect failed", zap.String("identity", id), zap.Error(err))
			return fmt.Errorf("realtime connect: %w", err)
		}
		if !conn.Connected() {
			return nil
		}
	}
	return s.join(ctx, conn)
}

// Disconnect removes all listeners, closes the connection and clears the
// identity. It is a no-op without a connection.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.bound = nil
	s.joined = ""
	s.mu.Unlock()
	return s.registry.Reset()
}

// Identity returns the joined identity, or "" when logged out.
func (s *Session) Identity() string {
	return s.registry.Identity()
}

// Connected reports whether a registered connection is currently open.
func (s *Session) Connected() bool {
	conn := s.registry.Current()
	return conn != nil && conn.Connected()
}

// Subscribe registers a raw event handler on the current connection. The
// caller owns the returned handle and must release it on teardown.
func (s *Session) Subscribe(event string, h EventHandler) *Subscription {
	return s.registry.Get().On(event, h)
}

// SubscribeMessages registers a handler for a message event, decoding its
// payload. Malformed payloads are logged and dropped.
func (s *Session) SubscribeMessages(event string, h func(EventMessage)) *Subscription {
	return s.Subscribe(event, func(payload json.RawMessage) {
		var msg EventMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Warn("dropping malformed realtime message", zap.String("event", event), zap.Error(err))
			return
		}
		h(msg)
	})
}

// bind installs the lifecycle hooks once per connection object.
func (s *Session) bind(conn Conn) {
	s.mu.Lock()
	if s.bound == conn {
		s.mu.Unlock()
		return
	}
	s.bound = conn
	s.joined = ""
	s.mu.Unlock()

	conn.On(EventConnect, func(json.RawMessage) {
		s.mu.Lock()
		s.joined = ""
		s.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
		defer cancel()
		if err := s.join(ctx, conn); err != nil {
			s.log.Warn("realtime join failed", zap.Error(err))
		}
	})
	conn.On(EventDisconnect, func(payload json.RawMessage) {
		s.mu.Lock()
		s.joined = ""
		s.mu.Unlock()
		s.log.Info("realtime disconnected", zap.ByteString("reason", payload))
	})
	conn.On(EventConnectError, func(payload json.RawMessage) {
		s.log.Warn("realtime connect error", zap.ByteString("error", payload))
	})
	conn.On(EventError, func(payload json.RawMessage) {
		s.log.Warn("realtime error", zap.ByteString("error", payload))
	})
}

func (s *Session) join(ctx context.Context, conn Conn) error {
	id := s.registry.Identity()
	if id == "" {
		return nil
	}

	s.mu.Lock()
	if s.bound != conn || s.joined == id {
		s.mu.Unlock()
		return nil
	}
	s.joined = id
	s.mu.Unlock()

	if err := conn.Emit(ctx, EventJoin, id); err != nil {
		s.mu.Lock()
		if s.joined == id {
			s.joined = ""
		}
		s.mu.Unlock()
		return fmt.Errorf("realtime join: %w", err)
	}
	s.log.Debug("joined realtime room", zap.String("identity", id))
	return nil
}
