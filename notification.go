package leadpilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// NotificationIncomingSMS is the only push payload type that deep-links.
const NotificationIncomingSMS = "incoming_sms"

var ErrUnsupportedNotification = errors.New("unsupported notification type")

// NotificationPayload is the data attached to a push notification.
type NotificationPayload struct {
	Type           string `json:"type"`
	FromPhone      string `json:"fromPhone,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
}

// ParseNotification turns a tapped notification's data into a deep-link
// target.
func ParseNotification(data []byte) (*DeepLinkTarget, error) {
	var p NotificationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid notification payload: %w", err)
	}
	return p.Target()
}

// Target converts the payload into a deep-link target.
func (p *NotificationPayload) Target() (*DeepLinkTarget, error) {
	if p.Type != NotificationIncomingSMS {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNotification, p.Type)
	}
	t := &DeepLinkTarget{ConversationID: p.ConversationID, Phone: p.FromPhone, MessageID: p.MessageID}
	if t.Empty() {
		return nil, errors.New("notification has neither conversationId nor fromPhone")
	}
	return t, nil
}

// PushTokenSource is the device-registration SDK.
type PushTokenSource interface {
	PushToken(ctx context.Context) (string, error)
	Platform() string
	DeviceID() string
}

// RegisterDevice fetches the platform push token and registers it with the
// backend. A device without a stable id gets a random one.
func RegisterDevice(ctx context.Context, source PushTokenSource, client *Client) error {
	token, err := source.PushToken(ctx)
	if err != nil {
		return fmt.Errorf("push token: %w", err)
	}
	deviceID := source.DeviceID()
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	return client.Notifications.Register(ctx, &PushRegistration{
		ExpoPushToken: token,
		Platform:      source.Platform(),
		DeviceID:      deviceID,
	})
}
