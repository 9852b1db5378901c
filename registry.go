package leadpilot

import "sync"

// DialFunc constructs a new, not yet connected realtime connection.
type DialFunc func() Conn

// Registry holds at most one realtime connection and the identity joined on
// it. One registry is owned by the App and shared by reference.
type Registry struct {
	dial DialFunc

	mu       sync.Mutex
	conn     Conn
	identity string
}

func NewRegistry(dial DialFunc) *Registry {
	return &Registry{dial: dial}
}

// Get returns the registered connection, constructing one if none exists.
func (r *Registry) Get() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		r.conn = r.dial()
	}
	return r.conn
}

// Current returns the registered connection or nil.
func (r *Registry) Current() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (r *Registry) Identity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

func (r *Registry) SetIdentity(identity string) {
	r.mu.Lock()
	r.identity = identity
	r.mu.Unlock()
}

// Reset removes all listeners, closes the connection and clears the identity.
func (r *Registry) Reset() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.identity = ""
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.RemoveAllListeners()
	return conn.Disconnect()
}

// WebSocketDialer returns a DialFunc building RealtimeWSClients against the
// client's backend with the token current at dial time.
func WebSocketDialer(client *Client, config *RealtimeConfig) DialFunc {
	return func() Conn {
		cfg := RealtimeConfig{AutoReconnect: true}
		if config != nil {
			cfg = *config
		}
		cfg.Token = client.Token()
		if cfg.Logger == nil {
			cfg.Logger = client.log
		}
		return NewRealtimeWSClient(client.baseURL, &cfg)
	}
}
