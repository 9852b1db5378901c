package leadpilot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a non-2xx response from the backend.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// apiErrorFromBody builds an APIError from a failed response body, preferring
// the body's "error" field, then "message", then a generic fallback.
func apiErrorFromBody(status int, body []byte) *APIError {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if msg := rawErrorText(payload.Error); msg != "" {
			return &APIError{Status: status, Message: msg}
		}
		if payload.Message != "" {
			return &APIError{Status: status, Message: payload.Message}
		}
	}
	return &APIError{Status: status, Message: fmt.Sprintf("request failed (%s)", http.StatusText(status))}
}

// rawErrorText accepts both `"error": "text"` and `"error": {"message": "text"}`.
func rawErrorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Message
	}
	return ""
}

// Timestamp is a backend time value. It accepts RFC 3339 strings, epoch
// milliseconds, empty strings and null.
type Timestamp struct {
	time.Time
}

// At wraps t as a Timestamp.
func At(t time.Time) Timestamp { return Timestamp{Time: t} }

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" || string(data) == `""` {
		ts.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", data, err)
		}
		ts.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	ts.Time = t
	return nil
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

// ============================================================================
// Messaging Types
// ============================================================================

// Direction is the direction of a message relative to the account.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	// DirectionAI marks an outbound message composed by the assistant.
	DirectionAI Direction = "ai"
)

// IsInbound reports whether the message came from the counterparty.
func (d Direction) IsInbound() bool {
	return strings.EqualFold(string(d), string(DirectionInbound))
}

// NamePlaceholder is the display name the backend stores when a lead has no
// name on file.
const NamePlaceholder = "Unknown"

// Conversation is one thread with a single counterparty (lead).
type Conversation struct {
	ID                   string    `json:"leadId"`
	Name                 string    `json:"name,omitempty"`
	Phone                string    `json:"phone,omitempty"`
	LastMessage          string    `json:"lastMessage,omitempty"`
	LastMessageAt        Timestamp `json:"lastMessageDate"`
	LastMessageDirection Direction `json:"lastMessageDirection,omitempty"`
	Unread               *bool     `json:"unread,omitempty"`
	UnreadCount          *int      `json:"unreadCount,omitempty"`
}

// UnreadValue returns the unread count, falling back to the boolean flag as 0
// or 1 when no count is present.
func (c *Conversation) UnreadValue() int {
	if c.UnreadCount != nil {
		return *c.UnreadCount
	}
	if c.Unread != nil && *c.Unread {
		return 1
	}
	return 0
}

// DisplayName returns the lead's name, or the phone number when the name is
// absent or the placeholder.
func (c *Conversation) DisplayName() string {
	name := strings.TrimSpace(c.Name)
	if name == "" || strings.EqualFold(name, NamePlaceholder) {
		return c.Phone
	}
	return name
}

// Message is one SMS or voice-text event inside a conversation.
type Message struct {
	ID        string    `json:"id,omitempty"`
	LeadID    string    `json:"leadId"`
	Text      string    `json:"text"`
	Direction Direction `json:"direction"`
	Date      Timestamp `json:"date"`
}

// EventMessage is the payload of the newMessage and message:new realtime events.
type EventMessage struct {
	ID        string    `json:"id,omitempty"`
	LeadID    string    `json:"leadId"`
	Text      string    `json:"text"`
	Direction Direction `json:"direction"`
	Date      Timestamp `json:"date"`
}

// Message converts the event payload into a thread message, stamping now when
// the event carried no date.
func (e *EventMessage) Message(now time.Time) Message {
	date := e.Date
	if date.IsZero() {
		date = At(now)
	}
	return Message{ID: e.ID, LeadID: e.LeadID, Text: e.Text, Direction: e.Direction, Date: date}
}

// ============================================================================
// Account Types
// ============================================================================

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type Folder struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LeadCount int    `json:"leadCount,omitempty"`
}

type Lead struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	FolderID string `json:"folderId,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ============================================================================
// Numbers, Push and Voice Types
// ============================================================================

type PhoneNumber struct {
	SID          string `json:"sid,omitempty"`
	PhoneNumber  string `json:"phoneNumber"`
	FriendlyName string `json:"friendlyName,omitempty"`
}

type AvailableNumber struct {
	PhoneNumber  string `json:"phoneNumber"`
	FriendlyName string `json:"friendlyName,omitempty"`
	Locality     string `json:"locality,omitempty"`
	Region       string `json:"region,omitempty"`
}

// PushRegistration is the body of the push-token registration endpoint.
type PushRegistration struct {
	ExpoPushToken string `json:"expoPushToken"`
	Platform      string `json:"platform"`
	DeviceID      string `json:"deviceId"`
}

type VoiceToken struct {
	Token    string `json:"token"`
	Identity string `json:"identity,omitempty"`
}
