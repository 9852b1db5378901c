package leadpilot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSelector struct {
	mu       sync.Mutex
	selected string
	calls    []string
	err      error
}

func (f *fakeSelector) Selected() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

func (f *fakeSelector) Select(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = id
	f.calls = append(f.calls, id)
	return f.err
}

func deepLinkList() []Conversation {
	return []Conversation{
		{ID: "lead-a", Phone: "(555) 987-6543"},
		{ID: "lead-b", Phone: "555-123-4567"},
		{ID: "lead-c", Phone: "+1 555 222 3333"},
	}
}

func TestResolveTarget(t *testing.T) {
	t.Run("identifier wins over phone", func(t *testing.T) {
		got, ok := ResolveTarget(DeepLinkTarget{ConversationID: "lead-c", Phone: "+15551234567"}, deepLinkList())
		require.True(t, ok)
		assert.Equal(t, "lead-c", got.ID)
	})

	t.Run("phone matches on trailing digits", func(t *testing.T) {
		got, ok := ResolveTarget(DeepLinkTarget{Phone: "+15551234567"}, deepLinkList())
		require.True(t, ok)
		assert.Equal(t, "lead-b", got.ID)
	})

	t.Run("unknown identifier falls back to phone", func(t *testing.T) {
		got, ok := ResolveTarget(DeepLinkTarget{ConversationID: "gone", Phone: "5552223333"}, deepLinkList())
		require.True(t, ok)
		assert.Equal(t, "lead-c", got.ID)
	})

	t.Run("no match", func(t *testing.T) {
		_, ok := ResolveTarget(DeepLinkTarget{Phone: "+15550000000"}, deepLinkList())
		assert.False(t, ok)
		_, ok = ResolveTarget(DeepLinkTarget{Phone: "+15551234567"}, nil)
		assert.False(t, ok)
	})

	t.Run("phone key keeps the last ten digits", func(t *testing.T) {
		assert.Equal(t, "5551234567", PhoneKey("+1 (555) 123-4567"))
		assert.Equal(t, "1234", PhoneKey("12-34"))
		assert.Equal(t, "", PhoneKey("n/a"))
	})
}

func TestDeepLinker(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes the target once", func(t *testing.T) {
		sel := &fakeSelector{}
		d := NewDeepLinker(sel, nil)
		target := DeepLinkTarget{Phone: "+15551234567"}

		require.True(t, d.Open(target))
		id, ok := d.Offer(ctx, deepLinkList())
		require.True(t, ok)
		assert.Equal(t, "lead-b", id)
		_, pending := d.Pending()
		assert.False(t, pending)

		sel.selected = ""
		_, ok = d.Offer(ctx, deepLinkList())
		assert.False(t, ok)
		assert.Equal(t, []string{"lead-b"}, sel.calls)
	})

	t.Run("repeat tap for the same lead opens again", func(t *testing.T) {
		sel := &fakeSelector{}
		d := NewDeepLinker(sel, nil)
		target := DeepLinkTarget{ConversationID: "lead-a"}

		require.True(t, d.Open(target))
		_, ok := d.Offer(ctx, deepLinkList())
		require.True(t, ok)

		sel.selected = ""
		require.True(t, d.Open(target))
		id, ok := d.Offer(ctx, deepLinkList())
		require.True(t, ok)
		assert.Equal(t, "lead-a", id)
		assert.Equal(t, []string{"lead-a", "lead-a"}, sel.calls)
	})

	t.Run("replayed message is ignored", func(t *testing.T) {
		sel := &fakeSelector{}
		d := NewDeepLinker(sel, nil)
		target := DeepLinkTarget{ConversationID: "lead-a", MessageID: "msg-1"}

		require.True(t, d.Open(target))
		_, ok := d.Offer(ctx, deepLinkList())
		require.True(t, ok)

		sel.selected = ""
		assert.False(t, d.Open(target))
		assert.True(t, d.Open(DeepLinkTarget{ConversationID: "lead-a", MessageID: "msg-2"}))
	})

	t.Run("waits for a list containing the target", func(t *testing.T) {
		sel := &fakeSelector{}
		d := NewDeepLinker(sel, nil)
		d.Open(DeepLinkTarget{ConversationID: "lead-new"})

		_, ok := d.Offer(ctx, deepLinkList())
		assert.False(t, ok)
		_, pending := d.Pending()
		assert.True(t, pending)

		id, ok := d.Offer(ctx, append(deepLinkList(), Conversation{ID: "lead-new"}))
		require.True(t, ok)
		assert.Equal(t, "lead-new", id)
	})

	t.Run("ignored while a conversation is selected", func(t *testing.T) {
		sel := &fakeSelector{selected: "lead-a"}
		d := NewDeepLinker(sel, nil)
		d.Open(DeepLinkTarget{ConversationID: "lead-b"})

		_, ok := d.Offer(ctx, deepLinkList())
		assert.False(t, ok)
		assert.Empty(t, sel.calls)
		_, pending := d.Pending()
		assert.True(t, pending)
	})

	t.Run("abandon drops the pending target", func(t *testing.T) {
		sel := &fakeSelector{}
		d := NewDeepLinker(sel, nil)
		d.Open(DeepLinkTarget{ConversationID: "lead-a"})
		d.Abandon()

		_, ok := d.Offer(ctx, deepLinkList())
		assert.False(t, ok)
		assert.Empty(t, sel.calls)
	})

	t.Run("empty target is ignored", func(t *testing.T) {
		d := NewDeepLinker(&fakeSelector{}, nil)
		assert.False(t, d.Open(DeepLinkTarget{Phone: "  "}))
	})

	t.Run("thread load failure still consumes", func(t *testing.T) {
		sel := &fakeSelector{err: errors.New("offline")}
		d := NewDeepLinker(sel, nil)
		d.Open(DeepLinkTarget{ConversationID: "lead-a"})

		id, ok := d.Offer(ctx, deepLinkList())
		assert.True(t, ok)
		assert.Equal(t, "lead-a", id)
		_, pending := d.Pending()
		assert.False(t, pending)
	})
}

func TestParseNotification(t *testing.T) {
	t.Run("incoming sms", func(t *testing.T) {
		target, err := ParseNotification([]byte(`{"type":"incoming_sms","fromPhone":"+15551234567","messageId":"m1"}`))
		require.NoError(t, err)
		assert.Equal(t, "+15551234567", target.Phone)
		assert.Equal(t, "m1", target.MessageID)
	})

	t.Run("other types are rejected", func(t *testing.T) {
		_, err := ParseNotification([]byte(`{"type":"marketing","fromPhone":"+15551234567"}`))
		assert.ErrorIs(t, err, ErrUnsupportedNotification)
	})

	t.Run("payload without a target", func(t *testing.T) {
		_, err := ParseNotification([]byte(`{"type":"incoming_sms"}`))
		assert.Error(t, err)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, err := ParseNotification([]byte(`{`))
		assert.Error(t, err)
	})
}
