// Package leadpilot provides the Go SDK for the LeadPilot mobile CRM backend.
//
// It covers the mobile REST API (sub-module access pattern) and the realtime
// conversation subsystem: a single shared socket session, a polling sync
// engine that detects new inbound messages, a thread loader and a deep-link
// resolver for push-notification taps.
//
// Example:
//
//	client := leadpilot.NewClient("", leadpilot.WithBaseURL("https://crm.example.com"))
//	login, _ := client.Auth.Login(ctx, "agent@example.com", "secret")
//
//	convs, _ := client.Messages.Conversations(ctx)
//	client.Messages.Send(ctx, convs[0].ID, "Hello!")
//
//	app := leadpilot.NewApp(client, nil)
//	app.Start(ctx, login.User.Email)
//	defer app.Logout()
package leadpilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://app.leadpilot.io"
	DefaultTimeout = 30 * time.Second
)

// ErrNotAuthenticated is returned by authenticated calls when no token is set.
var ErrNotAuthenticated = errors.New("not authenticated")

// ============================================================================
// Client
// ============================================================================

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger

	mu    sync.RWMutex
	token string

	Auth          *AuthClient
	Folders       *FoldersClient
	Leads         *LeadsClient
	Messages      *MessagesClient
	Notifications *NotificationsClient
	Numbers       *NumbersClient
	Voice         *VoiceClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithTimeout sets the request timeout on a copy of the HTTP client, so a
// client passed with WithHTTPClient is never modified.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = timeout
		c.httpClient = &hc
	}
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient creates a new client. token may be empty until Auth.Login runs.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Auth = &AuthClient{c: c}
	c.Folders = &FoldersClient{c: c}
	c.Leads = &LeadsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	c.Notifications = &NotificationsClient{c: c}
	c.Numbers = &NumbersClient{c: c}
	c.Voice = &VoiceClient{c: c}
	return c
}

// SetToken sets or clears the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Logger returns the client's logger.
func (c *Client) Logger() *zap.Logger {
	return c.log
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	return c.send(ctx, method, path, body, query, true)
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}, query map[string]string, auth bool) ([]byte, error) {
	token := c.Token()
	if auth && token == "" {
		return nil, ErrNotAuthenticated
	}

	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := apiErrorFromBody(resp.StatusCode, data)
		c.log.Debug("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("error", apiErr.Message))
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if len(bytes.TrimSpace(data)) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// decodeList decodes either a bare JSON array or an object holding the array
// under one of keys.
func decodeList[T any](data []byte, keys ...string) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return []T{}, nil
	}
	if data[0] == '[' {
		var list []T
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return list, nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	for _, k := range append(keys, "data") {
		if raw, ok := wrapper[k]; ok {
			return decodeList[T](raw, keys...)
		}
	}
	return nil, fmt.Errorf("failed to unmarshal response: no list under %v", keys)
}

// decodeObject decodes either a bare object or one wrapped under one of keys.
func decodeObject[T any](data []byte, keys ...string) (*T, error) {
	var wrapper map[string]json.RawMessage
	if json.Unmarshal(data, &wrapper) == nil {
		for _, k := range keys {
			if raw, ok := wrapper[k]; ok && len(raw) > 0 && raw[0] == '{' {
				return decodeJSON[T](raw)
			}
		}
	}
	return decodeJSON[T](data)
}

// ============================================================================
// Sub-Clients
// ============================================================================

// AuthClient handles login.
type AuthClient struct{ c *Client }

// Login exchanges credentials for a token and stores it on the client.
func (a *AuthClient) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}
	data, err := a.c.send(ctx, "POST", "/api/mobile/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil, false)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[LoginResult](data)
	if err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, errors.New("login response did not include a token")
	}
	a.c.SetToken(res.Token)
	return res, nil
}

// FoldersClient lists lead folders.
type FoldersClient struct{ c *Client }

func (f *FoldersClient) List(ctx context.Context) ([]Folder, error) {
	data, err := f.c.doRequest(ctx, "GET", "/api/mobile/folders", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Folder](data, "folders")
}

// LeadsClient lists leads.
type LeadsClient struct{ c *Client }

func (l *LeadsClient) ByFolder(ctx context.Context, folderID string) ([]Lead, error) {
	data, err := l.c.doRequest(ctx, "GET", "/api/mobile/leads-by-folder", nil, map[string]string{"folderId": folderID})
	if err != nil {
		return nil, err
	}
	return decodeList[Lead](data, "leads")
}

// MessagesClient handles conversations and messages.
type MessagesClient struct{ c *Client }

// Conversations returns the full conversation list; there is no delta endpoint.
func (m *MessagesClient) Conversations(ctx context.Context) ([]Conversation, error) {
	data, err := m.c.doRequest(ctx, "GET", "/api/mobile/message/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Conversation](data, "conversations")
}

// History returns every message of one conversation in server order.
func (m *MessagesClient) History(ctx context.Context, leadID string) ([]Message, error) {
	data, err := m.c.doRequest(ctx, "GET", "/api/mobile/message/"+url.PathEscape(leadID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Message](data, "messages")
}

// Send posts an outbound message. The returned message is nil when the
// backend confirms without echoing it.
func (m *MessagesClient) Send(ctx context.Context, leadID, text string) (*Message, error) {
	data, err := m.c.doRequest(ctx, "POST", "/api/mobile/message", map[string]string{
		"leadId":    leadID,
		"text":      text,
		"direction": string(DirectionOutbound),
	}, nil)
	if err != nil {
		return nil, err
	}
	msg, err := decodeObject[Message](data, "message", "data")
	if err != nil {
		return nil, err
	}
	if msg.Text == "" && msg.ID == "" {
		return nil, nil
	}
	return msg, nil
}

func (m *MessagesClient) MarkRead(ctx context.Context, leadID string) error {
	_, err := m.c.doRequest(ctx, "POST", "/api/mobile/messages/mark-read", map[string]string{"leadId": leadID}, nil)
	return err
}

// NotificationsClient registers push tokens.
type NotificationsClient struct{ c *Client }

func (n *NotificationsClient) Register(ctx context.Context, reg *PushRegistration) error {
	if reg == nil || reg.ExpoPushToken == "" {
		return errors.New("push token is required")
	}
	_, err := n.c.doRequest(ctx, "POST", "/api/mobile/notifications/register", reg, nil)
	return err
}
