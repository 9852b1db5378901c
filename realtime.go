package leadpilot

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Event names
// ============================================================================

const (
	// EventJoin is emitted by the client with the lowercased identity so the
	// server routes that user's events to this socket.
	EventJoin = "join"
	// EventNewMessage is the locally-originated echo of a message update.
	EventNewMessage = "newMessage"
	// EventMessageNew is the server-pushed new message notification.
	EventMessageNew = "message:new"

	// Meta-events raised by the transport itself.
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
	EventError        = "error"
)

// RealtimeEnvelope is the wire format for all events in both directions.
type RealtimeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime transport.
type RealtimeConfig struct {
	Token                string
	Path                 string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
	Logger               *zap.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.Path == "" {
		c.Path = "/socket"
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Connection contract
// ============================================================================

// EventHandler receives the raw payload of one event.
type EventHandler func(payload json.RawMessage)

// Conn is a realtime connection as seen by the registry and the session.
type Conn interface {
	Connect(ctx context.Context) error
	Connected() bool
	Emit(ctx context.Context, event string, payload any) error
	On(event string, h EventHandler) *Subscription
	RemoveAllListeners()
	Disconnect() error
}

// Subscription is a listener handle. The owner releases it with Unsubscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the listener. Safe to call more than once, or on nil.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

// ============================================================================
// Event Dispatcher
// ============================================================================

type listener struct {
	id uint64
	h  EventHandler
}

type eventDispatcher struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]listener
	log      *zap.Logger
}

func newEventDispatcher(log *zap.Logger) *eventDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &eventDispatcher{handlers: make(map[string][]listener), log: log}
}

func (d *eventDispatcher) on(event string, h EventHandler) *Subscription {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[event] = append(d.handlers[event], listener{id: id, h: h})
	d.mu.Unlock()
	return &Subscription{cancel: func() { d.off(event, id) }}
}

func (d *eventDispatcher) off(event string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ls := d.handlers[event]
	for i, l := range ls {
		if l.id == id {
			d.handlers[event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(d.handlers[event]) == 0 {
		delete(d.handlers, event)
	}
}

func (d *eventDispatcher) removeAll() {
	d.mu.Lock()
	d.handlers = make(map[string][]listener)
	d.mu.Unlock()
}

func (d *eventDispatcher) count(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event])
}

// dispatch runs handlers synchronously in registration order so events of one
// connection are observed in arrival order.
func (d *eventDispatcher) dispatch(event string, payload json.RawMessage) {
	d.mu.RLock()
	ls := append([]listener(nil), d.handlers[event]...)
	d.mu.RUnlock()
	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("realtime handler panicked", zap.String("event", event), zap.Any("panic", r))
				}
			}()
			l.h(payload)
		}()
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// RealtimeWSClient
// ============================================================================

// RealtimeWSClient is a WebSocket realtime client with auto-reconnect and
// heartbeat. It implements Conn.
type RealtimeWSClient struct {
	baseURL    string
	config     *RealtimeConfig
	log        *zap.Logger
	dispatcher *eventDispatcher

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	recon            *reconnector
	lifeCtx          context.Context
	lifeCancel       context.CancelFunc
	connCancel       context.CancelFunc
}

// NewRealtimeWSClient creates a client for baseURL. Call Connect to dial.
func NewRealtimeWSClient(baseURL string, config *RealtimeConfig) *RealtimeWSClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &RealtimeWSClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		config:     &cfg,
		log:        cfg.Logger,
		dispatcher: newEventDispatcher(cfg.Logger),
		state:      StateDisconnected,
		recon:      newReconnector(&cfg),
	}
}

// URL returns the socket URL including the token query parameter.
func (ws *RealtimeWSClient) URL() string {
	u := strings.Replace(ws.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	u += ws.config.Path
	if ws.config.Token != "" {
		u += "?token=" + url.QueryEscape(ws.config.Token)
	}
	return u
}

// On registers a handler for an event, including the meta-events.
func (ws *RealtimeWSClient) On(event string, h EventHandler) *Subscription {
	return ws.dispatcher.on(event, h)
}

// RemoveAllListeners drops every registered handler.
func (ws *RealtimeWSClient) RemoveAllListeners() {
	ws.dispatcher.removeAll()
}

// State returns the current connection state.
func (ws *RealtimeWSClient) State() RealtimeState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Connected reports whether the socket is open.
func (ws *RealtimeWSClient) Connected() bool {
	return ws.State() == StateConnected
}

// Connect establishes the WebSocket connection. When the dial fails and
// AutoReconnect is set, reconnection continues in the background.
func (ws *RealtimeWSClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	if ws.state != StateDisconnected {
		// Already open, dialing, or owned by the reconnect loop.
		ws.mu.Unlock()
		return nil
	}
	ws.state = StateConnecting
	ws.intentionalClose = false
	if ws.lifeCtx == nil {
		ws.lifeCtx, ws.lifeCancel = context.WithCancel(context.Background())
	}
	life := ws.lifeCtx
	ws.mu.Unlock()

	retry, err := ws.dial(ctx)
	if retry {
		go ws.scheduleReconnect(life)
	}
	return err
}

// dial opens one socket. On failure the state moves straight to
// StateReconnecting when a retry is due, so no concurrent Connect can start a
// second dial; retry reports whether the caller owns that retry.
func (ws *RealtimeWSClient) dial(ctx context.Context) (retry bool, err error) {
	opts := &websocket.DialOptions{HTTPClient: ws.config.HTTPClient}
	conn, _, err := websocket.Dial(ctx, ws.URL(), opts)
	if err != nil {
		ws.mu.Lock()
		retry = ws.retryStateLocked()
		ws.mu.Unlock()
		ws.dispatcher.dispatch(EventConnectError, quote(err.Error()))
		return retry, fmt.Errorf("websocket dial: %w", err)
	}

	ws.mu.Lock()
	if ws.intentionalClose || ws.lifeCtx == nil {
		ws.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return false, fmt.Errorf("websocket dial: client disconnected")
	}
	if ws.conn != nil {
		// Never replace a live socket.
		ws.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "duplicate connection")
		return false, nil
	}
	connCtx, cancel := context.WithCancel(ws.lifeCtx)
	ws.conn = conn
	ws.state = StateConnected
	ws.connCancel = cancel
	ws.recon.markConnected()
	ws.mu.Unlock()

	go ws.readLoop(connCtx, conn)
	go ws.heartbeatLoop(connCtx, conn)

	ws.dispatcher.dispatch(EventConnect, nil)
	return false, nil
}

// retryStateLocked sets the state after a lost or failed connection and
// reports whether a reconnect should follow. ws.mu must be held.
func (ws *RealtimeWSClient) retryStateLocked() bool {
	if ws.config.AutoReconnect && !ws.intentionalClose && ws.lifeCtx != nil && ws.recon.shouldReconnect() {
		ws.state = StateReconnecting
		return true
	}
	ws.state = StateDisconnected
	return false
}

// Disconnect closes the connection and stops any pending reconnect.
func (ws *RealtimeWSClient) Disconnect() error {
	ws.mu.Lock()
	ws.intentionalClose = true
	connCancel, lifeCancel := ws.connCancel, ws.lifeCancel
	ws.connCancel, ws.lifeCtx, ws.lifeCancel = nil, nil, nil
	conn := ws.conn
	ws.conn = nil
	wasConnected := ws.state == StateConnected
	ws.state = StateDisconnected
	ws.recon.reset()
	ws.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if connCancel != nil {
		connCancel()
	}
	if lifeCancel != nil {
		lifeCancel()
	}
	if wasConnected {
		ws.dispatcher.dispatch(EventDisconnect, quote("client disconnect"))
	}
	return err
}

// Emit sends an event with a JSON-encodable payload.
func (ws *RealtimeWSClient) Emit(ctx context.Context, event string, payload any) error {
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(RealtimeEnvelope{Type: event, Payload: raw})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (ws *RealtimeWSClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			ws.mu.Lock()
			intentional := ws.intentionalClose
			current := ws.conn == conn
			var retry bool
			if !intentional && current {
				ws.conn = nil
				if ws.connCancel != nil {
					ws.connCancel()
					ws.connCancel = nil
				}
				retry = ws.retryStateLocked()
			}
			life := ws.lifeCtx
			ws.mu.Unlock()
			if intentional || !current {
				return
			}

			ws.log.Warn("realtime connection lost", zap.Error(err))
			ws.dispatcher.dispatch(EventDisconnect, quote(err.Error()))

			if retry {
				ws.scheduleReconnect(life)
			}
			return
		}

		var env RealtimeEnvelope
		if json.Unmarshal(data, &env) != nil || env.Type == "" {
			ws.log.Debug("dropping malformed realtime frame", zap.Int("bytes", len(data)))
			continue
		}
		ws.dispatcher.dispatch(env.Type, env.Payload)
	}
}

func (ws *RealtimeWSClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(ws.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				// Heartbeat failed; closing makes readLoop observe the loss.
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

// scheduleReconnect is the only reconnect loop of a client: it runs while the
// state is StateReconnecting, which keeps Connect from dialing alongside it.
func (ws *RealtimeWSClient) scheduleReconnect(life context.Context) {
	for {
		ws.mu.Lock()
		if ws.intentionalClose || ws.state != StateReconnecting {
			ws.mu.Unlock()
			return
		}
		delay := ws.recon.nextDelay()
		attempt := ws.recon.attempt
		ws.mu.Unlock()

		ws.log.Info("realtime reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-life.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		retry, err := ws.dial(life)
		if err == nil || !retry {
			if err != nil {
				ws.log.Warn("realtime reconnect gave up", zap.Error(err))
			}
			return
		}
		ws.log.Warn("realtime reconnect failed", zap.Error(err))
	}
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
