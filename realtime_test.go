package leadpilot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// ============================================================================
// Test Helpers
// ============================================================================

type wsServer struct {
	srv    *httptest.Server
	frames chan RealtimeEnvelope
	conns  chan *websocket.Conn
	tokens chan string
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		frames: make(chan RealtimeEnvelope, 16),
		conns:  make(chan *websocket.Conn, 4),
		tokens: make(chan string, 4),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/socket" {
			http.NotFound(w, r)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s.tokens <- r.URL.Query().Get("token")
		s.conns <- c
		for {
			_, data, err := c.Read(context.Background())
			if err != nil {
				return
			}
			var env RealtimeEnvelope
			if json.Unmarshal(data, &env) == nil {
				s.frames <- env
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection")
		return nil
	}
}

func (s *wsServer) frame(t *testing.T) RealtimeEnvelope {
	t.Helper()
	select {
	case env := <-s.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return RealtimeEnvelope{}
	}
}

func serverSend(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.Write(context.Background(), websocket.MessageText, []byte(frame)))
}

func newTestWSClient(t *testing.T, s *wsServer, cfg RealtimeConfig) *RealtimeWSClient {
	t.Helper()
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Hour
	}
	ws := NewRealtimeWSClient(s.srv.URL, &cfg)
	t.Cleanup(func() { _ = ws.Disconnect() })
	return ws
}

func receive(t *testing.T, ch <-chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("event not dispatched")
		return nil
	}
}

// ============================================================================
// RealtimeWSClient
// ============================================================================

func TestRealtimeURL(t *testing.T) {
	ws := NewRealtimeWSClient("https://crm.example.com/", &RealtimeConfig{Token: "a b&c"})
	assert.Equal(t, "wss://crm.example.com/socket?token=a+b%26c", ws.URL())

	ws = NewRealtimeWSClient("http://localhost:3000", &RealtimeConfig{Path: "/rt"})
	assert.Equal(t, "ws://localhost:3000/rt", ws.URL())
}

func TestRealtimeConnectAndEmit(t *testing.T) {
	s := newWSServer(t)
	ws := newTestWSClient(t, s, RealtimeConfig{Token: "tok"})

	var connects atomic.Int32
	ws.On(EventConnect, func(json.RawMessage) { connects.Add(1) })

	require.NoError(t, ws.Connect(context.Background()))
	s.accept(t)
	assert.True(t, ws.Connected())
	assert.Equal(t, int32(1), connects.Load())
	assert.Equal(t, "tok", <-s.tokens)

	require.NoError(t, ws.Connect(context.Background()))
	assert.Equal(t, int32(1), connects.Load())

	require.NoError(t, ws.Emit(context.Background(), EventJoin, "agent@example.com"))
	env := s.frame(t)
	assert.Equal(t, EventJoin, env.Type)
	assert.JSONEq(t, `"agent@example.com"`, string(env.Payload))
}

func TestRealtimeDispatch(t *testing.T) {
	s := newWSServer(t)
	ws := newTestWSClient(t, s, RealtimeConfig{})

	removed := make(chan json.RawMessage, 4)
	kept := make(chan json.RawMessage, 4)
	pushed := make(chan json.RawMessage, 4)
	sub := ws.On(EventNewMessage, func(p json.RawMessage) { removed <- p })
	ws.On(EventNewMessage, func(p json.RawMessage) { kept <- p })
	ws.On(EventMessageNew, func(p json.RawMessage) { pushed <- p })
	sub.Unsubscribe()

	require.NoError(t, ws.Connect(context.Background()))
	server := s.accept(t)

	serverSend(t, server, `not json`)
	serverSend(t, server, `{"type":"newMessage","payload":{"leadId":"l1","text":"hi"}}`)
	serverSend(t, server, `{"type":"message:new","payload":{"leadId":"l1"}}`)

	assert.JSONEq(t, `{"leadId":"l1","text":"hi"}`, string(receive(t, kept)))
	assert.JSONEq(t, `{"leadId":"l1"}`, string(receive(t, pushed)))
	assert.Empty(t, removed)
}

func TestRealtimeDisconnect(t *testing.T) {
	t.Run("client disconnect", func(t *testing.T) {
		s := newWSServer(t)
		ws := newTestWSClient(t, s, RealtimeConfig{AutoReconnect: true})
		disconnects := make(chan json.RawMessage, 4)
		ws.On(EventDisconnect, func(p json.RawMessage) { disconnects <- p })

		require.NoError(t, ws.Connect(context.Background()))
		s.accept(t)
		_ = ws.Disconnect()

		receive(t, disconnects)
		assert.False(t, ws.Connected())
		assert.Error(t, ws.Emit(context.Background(), EventJoin, "x"))

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, StateDisconnected, ws.State())
		assert.Empty(t, s.conns)
	})

	t.Run("server close without reconnect", func(t *testing.T) {
		s := newWSServer(t)
		ws := newTestWSClient(t, s, RealtimeConfig{})
		disconnects := make(chan json.RawMessage, 4)
		ws.On(EventDisconnect, func(p json.RawMessage) { disconnects <- p })

		require.NoError(t, ws.Connect(context.Background()))
		server := s.accept(t)
		_ = server.Close(websocket.StatusGoingAway, "bye")

		receive(t, disconnects)
		assert.Eventually(t, func() bool { return ws.State() == StateDisconnected }, time.Second, 5*time.Millisecond)
	})

	t.Run("server close with reconnect", func(t *testing.T) {
		s := newWSServer(t)
		ws := newTestWSClient(t, s, RealtimeConfig{AutoReconnect: true, ReconnectBaseDelay: 10 * time.Millisecond})
		connects := make(chan json.RawMessage, 4)
		ws.On(EventConnect, func(p json.RawMessage) { connects <- p })

		require.NoError(t, ws.Connect(context.Background()))
		receive(t, connects)
		server := s.accept(t)
		_ = server.Close(websocket.StatusGoingAway, "restart")

		s.accept(t)
		receive(t, connects)
		assert.True(t, ws.Connected())
	})
}

func TestRealtimeConnectError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ws := NewRealtimeWSClient(url, &RealtimeConfig{})
	errs := make(chan json.RawMessage, 1)
	ws.On(EventConnectError, func(p json.RawMessage) { errs <- p })

	assert.Error(t, ws.Connect(context.Background()))
	assert.NotEmpty(t, receive(t, errs))
	assert.Equal(t, StateDisconnected, ws.State())
}

func TestRealtimeConnectWhileReconnecting(t *testing.T) {
	var accepting atomic.Bool
	var live atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !accepting.Load() {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		live.Add(1)
		defer live.Add(-1)
		for {
			if _, _, err := c.Read(context.Background()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	ws := NewRealtimeWSClient(srv.URL, &RealtimeConfig{
		AutoReconnect:      true,
		ReconnectBaseDelay: 50 * time.Millisecond,
		HeartbeatInterval:  time.Hour,
	})
	t.Cleanup(func() { _ = ws.Disconnect() })

	assert.Error(t, ws.Connect(context.Background()))
	assert.Equal(t, StateReconnecting, ws.State())
	assert.NoError(t, ws.Connect(context.Background()))
	assert.NoError(t, ws.Connect(context.Background()))

	accepting.Store(true)
	require.Eventually(t, ws.Connected, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return live.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), live.Load())
	assert.True(t, ws.Connected())
}
