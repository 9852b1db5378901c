package leadpilot

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// phoneMatchDigits is how many trailing digits two numbers must share to be
// considered the same line, which absorbs country-code prefixes.
const phoneMatchDigits = 10

// DeepLinkTarget is a pending request to open a conversation.
type DeepLinkTarget struct {
	ConversationID string
	Phone          string
	MessageID      string
}

// Empty reports whether the target names nothing to resolve.
func (t DeepLinkTarget) Empty() bool {
	return strings.TrimSpace(t.ConversationID) == "" && DigitsOnly(t.Phone) == ""
}

// PhoneKey returns the trailing digits of phone used for matching.
func PhoneKey(phone string) string {
	d := DigitsOnly(phone)
	if len(d) > phoneMatchDigits {
		d = d[len(d)-phoneMatchDigits:]
	}
	return d
}

// ResolveTarget picks at most one conversation for target: an exact
// identifier match first, then a trailing-digit phone match.
func ResolveTarget(target DeepLinkTarget, list []Conversation) (*Conversation, bool) {
	if id := strings.TrimSpace(target.ConversationID); id != "" {
		for i := range list {
			if list[i].ID == id {
				c := list[i]
				return &c, true
			}
		}
	}
	if key := PhoneKey(target.Phone); key != "" {
		for i := range list {
			if PhoneKey(list[i].Phone) == key {
				c := list[i]
				return &c, true
			}
		}
	}
	return nil, false
}

// Selector is the part of the thread loader the resolver drives.
type Selector interface {
	Selected() string
	Select(ctx context.Context, conversationID string) error
}

// DeepLinker holds one pending target and selects its conversation as soon as
// a loaded list contains it. A target is consumed exactly once.
type DeepLinker struct {
	selector Selector
	log      *zap.Logger

	mu      sync.Mutex
	pending *DeepLinkTarget
	lastMsg string
}

func NewDeepLinker(selector Selector, log *zap.Logger) *DeepLinker {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeepLinker{selector: selector, log: log}
}

// Open records target as pending, replacing any earlier one. Every tap is
// fresh, except a replay of the message that was last consumed.
func (d *DeepLinker) Open(target DeepLinkTarget) bool {
	if target.Empty() {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if target.MessageID != "" && target.MessageID == d.lastMsg {
		return false
	}
	d.pending = &target
	return true
}

// Pending returns the pending target, if any.
func (d *DeepLinker) Pending() (DeepLinkTarget, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return DeepLinkTarget{}, false
	}
	return *d.pending, true
}

// Abandon drops the pending target, e.g. when the user navigates manually.
func (d *DeepLinker) Abandon() {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
}

// Offer tries to resolve the pending target against list. It does nothing
// while a conversation is already selected.
func (d *DeepLinker) Offer(ctx context.Context, list []Conversation) (string, bool) {
	if d.selector.Selected() != "" {
		return "", false
	}

	d.mu.Lock()
	if d.pending == nil {
		d.mu.Unlock()
		return "", false
	}
	target := *d.pending
	conv, ok := ResolveTarget(target, list)
	if !ok {
		d.mu.Unlock()
		return "", false
	}
	d.pending = nil
	d.lastMsg = target.MessageID
	d.mu.Unlock()

	d.log.Info("deep link resolved", zap.String("leadId", conv.ID), zap.String("messageId", target.MessageID))
	if err := d.selector.Select(ctx, conv.ID); err != nil {
		d.log.Warn("deep link thread load failed", zap.String("leadId", conv.ID), zap.Error(err))
	}
	return conv.ID, true
}
