package leadpilot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrMissingDestination = errors.New("destination number is required")
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
)

// VoiceClient fetches voice access tokens.
type VoiceClient struct{ c *Client }

// Token returns a short-lived access token for the native voice SDK.
func (v *VoiceClient) Token(ctx context.Context) (*VoiceToken, error) {
	data, err := v.c.doRequest(ctx, "GET", "/api/twilio/voice/token", nil, nil)
	if err != nil {
		return nil, err
	}
	tok, err := decodeObject[VoiceToken](data, "data")
	if err != nil {
		return nil, err
	}
	if tok.Token == "" {
		return nil, errors.New("voice token response did not include a token")
	}
	return tok, nil
}

// ============================================================================
// Native voice SDK boundary
// ============================================================================

// CallEvent is a lifecycle event reported by the native voice SDK.
type CallEvent string

const (
	CallConnected       CallEvent = "connected"
	CallDisconnected    CallEvent = "disconnected"
	CallReconnecting    CallEvent = "reconnecting"
	CallReconnected     CallEvent = "reconnected"
	CallFailedToConnect CallEvent = "failedToConnect"
)

// CallStatus is the simplified status surfaced to callers.
type CallStatus string

const (
	StatusConnecting   CallStatus = "connecting"
	StatusConnected    CallStatus = "connected"
	StatusReconnecting CallStatus = "reconnecting"
	StatusEnded        CallStatus = "ended"
	StatusFailed       CallStatus = "failed"
)

// StatusForEvent maps a native call event to a CallStatus.
func StatusForEvent(ev CallEvent) CallStatus {
	switch ev {
	case CallConnected, CallReconnected:
		return StatusConnected
	case CallReconnecting:
		return StatusReconnecting
	case CallDisconnected:
		return StatusEnded
	case CallFailedToConnect:
		return StatusFailed
	}
	return StatusConnecting
}

// Call is an active outbound call.
type Call interface {
	Disconnect() error
}

// VoiceSDK is the native telephony SDK.
type VoiceSDK interface {
	Register(ctx context.Context, accessToken string) error
	Connect(ctx context.Context, accessToken string, params map[string]string, onEvent func(CallEvent)) (Call, error)
}

type voiceTokenSource interface {
	Token(ctx context.Context) (*VoiceToken, error)
}

// Dialer places outbound calls, registering with the SDK once per token.
type Dialer struct {
	tokens   voiceTokenSource
	sdk      VoiceSDK
	log      *zap.Logger
	onStatus func(CallStatus)

	mu         sync.Mutex
	registered string
}

// NewDialer creates a dialer. onStatus may be nil.
func NewDialer(client *Client, sdk VoiceSDK, onStatus func(CallStatus)) *Dialer {
	if onStatus == nil {
		onStatus = func(CallStatus) {}
	}
	return &Dialer{tokens: client.Voice, sdk: sdk, log: client.log, onStatus: onStatus}
}

// Call dials to, which may use any common formatting.
func (d *Dialer) Call(ctx context.Context, to string) (Call, error) {
	if strings.TrimSpace(to) == "" {
		return nil, ErrMissingDestination
	}
	dest, err := NormalizeE164(to)
	if err != nil {
		return nil, err
	}

	tok, err := d.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("voice token: %w", err)
	}

	d.mu.Lock()
	needsRegister := d.registered != tok.Token
	d.mu.Unlock()
	if needsRegister {
		if err := d.sdk.Register(ctx, tok.Token); err != nil {
			return nil, fmt.Errorf("voice register: %w", err)
		}
		d.mu.Lock()
		d.registered = tok.Token
		d.mu.Unlock()
	}

	d.onStatus(StatusConnecting)
	call, err := d.sdk.Connect(ctx, tok.Token, map[string]string{"To": dest}, func(ev CallEvent) {
		status := StatusForEvent(ev)
		d.log.Debug("call event", zap.String("event", string(ev)), zap.String("status", string(status)))
		d.onStatus(status)
	})
	if err != nil {
		d.onStatus(StatusFailed)
		return nil, fmt.Errorf("voice connect: %w", err)
	}
	return call, nil
}

// NormalizeE164 converts a phone number to E.164, assuming the North American
// plan for bare 10-digit numbers.
func NormalizeE164(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	plus := strings.HasPrefix(phone, "+")
	digits := DigitsOnly(phone)

	switch {
	case plus && len(digits) >= 8 && len(digits) <= 15:
		return "+" + digits, nil
	case len(digits) == 10:
		return "+1" + digits, nil
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits, nil
	case !plus && len(digits) > 11 && len(digits) <= 15:
		return "+" + digits, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, phone)
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
