package leadpilot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrEmptyMessage = errors.New("message text is empty")
	ErrNoSelection  = errors.New("no conversation selected")
)

// MessageService is the message half of the REST API.
type MessageService interface {
	History(ctx context.Context, leadID string) ([]Message, error)
	Send(ctx context.Context, leadID, text string) (*Message, error)
	MarkRead(ctx context.Context, leadID string) error
}

// Refresher triggers a non-blocking conversation list refresh.
type Refresher interface {
	RefreshAsync(ctx context.Context)
}

type messageSubscriber interface {
	SubscribeMessages(event string, h func(EventMessage)) *Subscription
}

// ThreadUpdate is delivered to OnChange listeners.
type ThreadUpdate struct {
	ConversationID string
	Messages       []Message
}

type ThreadOptions struct {
	Logger *zap.Logger
	Now    func() time.Time
}

// Thread loads, sends and live-updates the messages of the selected
// conversation. Results are applied only if the conversation they were
// requested for is still selected when they arrive.
type Thread struct {
	api       MessageService
	refresher Refresher
	log       *zap.Logger
	now       func() time.Time
	tasks     background

	mu          sync.Mutex
	selected    string
	gen         uint64
	loadSeq     uint64
	appliedLoad uint64
	messages    []Message
	loading     bool
	err         error
	draft       string
	subs        []*Subscription

	onChange listeners[ThreadUpdate]
}

// NewThread creates a thread loader. refresher may be nil.
func NewThread(api MessageService, refresher Refresher, opts *ThreadOptions) *Thread {
	t := &Thread{api: api, refresher: refresher, log: zap.NewNop(), now: time.Now}
	if opts != nil {
		if opts.Logger != nil {
			t.log = opts.Logger
		}
		if opts.Now != nil {
			t.now = opts.Now
		}
	}
	t.tasks.log = t.log
	return t
}

// Select opens a conversation and loads its history. An empty id closes the
// thread.
func (t *Thread) Select(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	t.selected = conversationID
	t.gen++
	t.messages = nil
	t.err = nil
	t.loading = false
	t.mu.Unlock()

	t.notify()
	if conversationID == "" {
		return nil
	}
	return t.LoadMessages(ctx, conversationID)
}

// LoadMessages fetches the full history of the selected conversation and then
// marks it read in the background. A response that arrives after the
// selection moved on, or after a newer load, is discarded.
func (t *Thread) LoadMessages(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	if conversationID == "" || conversationID != t.selected {
		t.mu.Unlock()
		return ErrNoSelection
	}
	gen := t.gen
	t.loadSeq++
	seq := t.loadSeq
	t.loading = true
	t.mu.Unlock()

	msgs, err := t.api.History(ctx, conversationID)

	t.mu.Lock()
	if t.selected != conversationID || t.gen != gen || seq < t.appliedLoad {
		t.mu.Unlock()
		t.log.Debug("discarding late thread response", zap.String("leadId", conversationID))
		return nil
	}
	if seq == t.loadSeq {
		t.loading = false
	}
	if err != nil {
		t.err = err
		t.mu.Unlock()
		t.log.Warn("thread load failed", zap.String("leadId", conversationID), zap.Error(err))
		return err
	}
	t.appliedLoad = seq
	t.err = nil
	t.messages = msgs
	t.mu.Unlock()

	t.notify()
	t.markReadAsync(ctx, conversationID)
	return nil
}

// SendMessage posts text to the selected conversation. Blank text and a
// missing selection are rejected before any request. On success the message
// is appended and the draft cleared; on failure the draft keeps the text.
func (t *Thread) SendMessage(ctx context.Context, conversationID, text string) error {
	body := strings.TrimSpace(text)
	if body == "" {
		return ErrEmptyMessage
	}

	t.mu.Lock()
	if conversationID == "" || conversationID != t.selected {
		t.mu.Unlock()
		return ErrNoSelection
	}
	gen := t.gen
	t.mu.Unlock()

	sent, err := t.api.Send(ctx, conversationID, body)
	if err != nil {
		t.mu.Lock()
		if t.selected == conversationID {
			t.draft = text
		}
		t.mu.Unlock()
		t.log.Warn("send message failed", zap.String("leadId", conversationID), zap.Error(err))
		return err
	}

	msg := t.confirmed(conversationID, body, sent)
	t.mu.Lock()
	applied := t.selected == conversationID && t.gen == gen
	if applied {
		t.appendLocked(msg)
		t.draft = ""
	}
	t.mu.Unlock()

	if applied {
		t.notify()
	}
	if t.refresher != nil {
		t.refresher.RefreshAsync(ctx)
	}
	return nil
}

// confirmed fills a server-confirmed message, or builds the local fallback
// timestamped at send time.
func (t *Thread) confirmed(conversationID, body string, sent *Message) Message {
	msg := Message{}
	if sent != nil {
		msg = *sent
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.LeadID == "" {
		msg.LeadID = conversationID
	}
	if msg.Text == "" {
		msg.Text = body
	}
	if msg.Direction == "" {
		msg.Direction = DirectionOutbound
	}
	if msg.Date.IsZero() {
		msg.Date = At(t.now())
	}
	return msg
}

// HandleEcho applies a newMessage event: appended directly when it targets
// the open thread, which is then marked read if the message is inbound.
func (t *Thread) HandleEcho(ctx context.Context, evt EventMessage) {
	msg := evt.Message(t.now())

	t.mu.Lock()
	open := t.selected
	targets := open != "" && evt.LeadID == open
	if targets {
		t.appendLocked(msg)
	}
	t.mu.Unlock()

	if targets {
		t.notify()
		if evt.Direction.IsInbound() {
			t.markReadAsync(ctx, open)
		}
	}
	if t.refresher != nil {
		t.refresher.RefreshAsync(ctx)
	}
}

// HandlePushed applies a message:new event: the open thread is re-fetched
// when targeted.
func (t *Thread) HandlePushed(ctx context.Context, evt EventMessage) {
	open := t.Selected()
	if open != "" && evt.LeadID == open {
		t.tasks.Go(ctx, "thread reload", func(ctx context.Context) error {
			err := t.LoadMessages(ctx, open)
			if errors.Is(err, ErrNoSelection) {
				return nil
			}
			return err
		})
	}
	if t.refresher != nil {
		t.refresher.RefreshAsync(ctx)
	}
}

// Bind subscribes the thread to both realtime message events. The handles are
// released by Unbind.
func (t *Thread) Bind(ctx context.Context, s messageSubscriber) {
	subs := []*Subscription{
		s.SubscribeMessages(EventNewMessage, func(evt EventMessage) { t.HandleEcho(ctx, evt) }),
		s.SubscribeMessages(EventMessageNew, func(evt EventMessage) { t.HandlePushed(ctx, evt) }),
	}
	t.mu.Lock()
	old := t.subs
	t.subs = subs
	t.mu.Unlock()
	for _, sub := range old {
		sub.Unsubscribe()
	}
}

// Unbind releases the realtime subscriptions and waits for background work.
func (t *Thread) Unbind() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	t.tasks.Wait()
}

func (t *Thread) Selected() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selected
}

func (t *Thread) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.messages...)
}

func (t *Thread) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

func (t *Thread) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Thread) Draft() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draft
}

func (t *Thread) SetDraft(text string) {
	t.mu.Lock()
	t.draft = text
	t.mu.Unlock()
}

// OnChange registers fn for every change of the open thread's messages.
func (t *Thread) OnChange(fn func(ThreadUpdate)) *Subscription {
	return t.onChange.add(fn)
}

// Wait blocks until detached mark-read and reload tasks finish.
func (t *Thread) Wait() {
	t.tasks.Wait()
}

// appendLocked keeps server order; a message whose id is already present is
// not appended twice.
func (t *Thread) appendLocked(msg Message) {
	if msg.ID != "" {
		for _, m := range t.messages {
			if m.ID == msg.ID {
				return
			}
		}
	}
	t.messages = append(t.messages, msg)
}

func (t *Thread) markReadAsync(ctx context.Context, conversationID string) {
	// Best effort: a failed mark-read never blocks or fails the thread.
	t.tasks.Go(ctx, "mark read", func(ctx context.Context) error {
		return t.api.MarkRead(ctx, conversationID)
	})
}

func (t *Thread) notify() {
	t.mu.Lock()
	u := ThreadUpdate{ConversationID: t.selected, Messages: append([]Message(nil), t.messages...)}
	t.mu.Unlock()
	t.onChange.emit(u)
}
