package leadpilot

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 8 * time.Second
	DefaultBannerTTL    = 5 * time.Second
)

// ConversationSource fetches the full conversation list.
type ConversationSource interface {
	Conversations(ctx context.Context) ([]Conversation, error)
}

// Banner is a transient notice for a newly arrived inbound message.
type Banner struct {
	ConversationID string
	Title          string
	Preview        string
	At             time.Time
}

// SyncOptions tunes a SyncEngine. Zero values take the defaults.
type SyncOptions struct {
	PollInterval time.Duration
	BannerTTL    time.Duration
	Logger       *zap.Logger
}

// SyncEngine keeps the conversation list current by polling and infers new
// inbound messages by diffing consecutive snapshots.
type SyncEngine struct {
	source       ConversationSource
	log          *zap.Logger
	pollInterval time.Duration
	bannerTTL    time.Duration
	tasks        background

	mu          sync.Mutex
	snapshot    []Conversation
	loading     bool
	loadSeq     uint64
	err         error
	seq         uint64
	applied     uint64
	banner      *Banner
	bannerTimer *time.Timer
	stopPoll    context.CancelFunc
	pollDone    chan struct{}

	onUpdate listeners[[]Conversation]
	onBanner listeners[*Banner]
}

func NewSyncEngine(source ConversationSource, opts *SyncOptions) *SyncEngine {
	e := &SyncEngine{
		source:       source,
		log:          zap.NewNop(),
		pollInterval: DefaultPollInterval,
		bannerTTL:    DefaultBannerTTL,
	}
	if opts != nil {
		if opts.PollInterval > 0 {
			e.pollInterval = opts.PollInterval
		}
		if opts.BannerTTL > 0 {
			e.bannerTTL = opts.BannerTTL
		}
		if opts.Logger != nil {
			e.log = opts.Logger
		}
	}
	e.tasks.log = e.log
	return e
}

// DetectNewInbound returns the conversation to announce after going from prev
// to curr, or nil. Only conversations whose latest message is inbound count.
// A known conversation qualifies when its unread value grew without its
// timestamp moving backwards; an unknown one when it has anything unread.
// The latest qualifying timestamp wins; on a tie the first one found stays.
func DetectNewInbound(prev, curr []Conversation) *Conversation {
	prevByID := make(map[string]*Conversation, len(prev))
	for i := range prev {
		prevByID[prev[i].ID] = &prev[i]
	}

	var best *Conversation
	for i := range curr {
		c := &curr[i]
		if !c.LastMessageDirection.IsInbound() {
			continue
		}
		unread := c.UnreadValue()

		var qualifies bool
		if p, ok := prevByID[c.ID]; ok {
			qualifies = unread > p.UnreadValue() && !c.LastMessageAt.Before(p.LastMessageAt.Time)
		} else {
			qualifies = unread > 0
		}
		if !qualifies {
			continue
		}
		if best == nil || c.LastMessageAt.After(best.LastMessageAt.Time) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	found := *best
	return &found
}

// Load is the initial fetch: it flags loading, clears the error and replaces
// the list unconditionally.
func (e *SyncEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	e.loading = true
	e.err = nil
	e.loadSeq++
	load := e.loadSeq
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	list, err := e.source.Conversations(ctx)

	e.mu.Lock()
	// Only the newest Load owns the flag; refreshes never touch it.
	if load == e.loadSeq {
		e.loading = false
	}
	if err != nil {
		if seq > e.applied {
			e.err = err
		}
		e.mu.Unlock()
		e.log.Warn("conversation load failed", zap.Error(err))
		return err
	}
	if seq < e.applied {
		e.mu.Unlock()
		return nil
	}
	e.applied = seq
	e.snapshot = list
	e.mu.Unlock()

	e.onUpdate.emit(cloneConversations(list))
	return nil
}

// Refresh is the silent background fetch. It diffs the result against the
// stored snapshot, replaces the snapshot and shows a banner for the newest
// qualifying conversation. Responses older than an already applied one are
// dropped.
func (e *SyncEngine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	list, err := e.source.Conversations(ctx)
	if err != nil {
		e.log.Debug("conversation refresh failed", zap.Error(err))
		return err
	}

	e.mu.Lock()
	if seq < e.applied {
		e.mu.Unlock()
		e.log.Debug("dropping stale conversation refresh", zap.Uint64("seq", seq))
		return nil
	}
	candidate := DetectNewInbound(e.snapshot, list)
	e.snapshot = list
	e.applied = seq
	e.mu.Unlock()

	e.onUpdate.emit(cloneConversations(list))
	if candidate != nil {
		e.showBanner(candidate)
	}
	return nil
}

// RefreshAsync triggers a detached Refresh, e.g. after a send or a realtime
// event. Failures are logged only.
func (e *SyncEngine) RefreshAsync(ctx context.Context) {
	e.tasks.Go(ctx, "conversation refresh", e.Refresh)
}

// Start runs the initial load and then polls until Stop, ctx cancellation, or
// the client losing its token.
func (e *SyncEngine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.stopPoll != nil {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.stopPoll = cancel
	e.pollDone = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		if err := e.Load(ctx); errors.Is(err, ErrNotAuthenticated) {
			return
		}

		ticker := time.NewTicker(e.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.Refresh(ctx); errors.Is(err, ErrNotAuthenticated) {
					e.log.Info("polling stopped: not authenticated")
					return
				}
			}
		}
	}()
}

// Stop cancels polling and any visible banner, then waits for in-flight
// detached refreshes.
func (e *SyncEngine) Stop() {
	e.mu.Lock()
	cancel, done := e.stopPoll, e.pollDone
	e.stopPoll, e.pollDone = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	e.DismissBanner()
	e.tasks.Wait()
}

// Reset drops the snapshot, error and banner. Fetches still in flight are
// discarded when they resolve.
func (e *SyncEngine) Reset() {
	e.DismissBanner()
	e.mu.Lock()
	e.snapshot = nil
	e.err = nil
	e.loading = false
	e.loadSeq++
	e.seq++
	e.applied = e.seq
	e.mu.Unlock()
	e.onUpdate.emit(nil)
}

// Polling reports whether the poll loop is running.
func (e *SyncEngine) Polling() bool {
	e.mu.Lock()
	done := e.pollDone
	e.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (e *SyncEngine) Conversations() []Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneConversations(e.snapshot)
}

func (e *SyncEngine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// Err returns the error of the last initial load, if it failed.
func (e *SyncEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Banner returns the visible banner or nil.
func (e *SyncEngine) Banner() *Banner {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.banner == nil {
		return nil
	}
	b := *e.banner
	return &b
}

// OnUpdate registers fn for every applied snapshot.
func (e *SyncEngine) OnUpdate(fn func([]Conversation)) *Subscription {
	return e.onUpdate.add(fn)
}

// OnBanner registers fn for banner changes; nil means hidden.
func (e *SyncEngine) OnBanner(fn func(*Banner)) *Subscription {
	return e.onBanner.add(fn)
}

// DismissBanner hides the banner and cancels its timer.
func (e *SyncEngine) DismissBanner() {
	e.mu.Lock()
	if e.bannerTimer != nil {
		e.bannerTimer.Stop()
		e.bannerTimer = nil
	}
	visible := e.banner != nil
	e.banner = nil
	e.mu.Unlock()
	if visible {
		e.onBanner.emit(nil)
	}
}

func (e *SyncEngine) showBanner(c *Conversation) {
	b := &Banner{
		ConversationID: c.ID,
		Title:          c.DisplayName(),
		Preview:        c.LastMessage,
		At:             c.LastMessageAt.Time,
	}

	e.mu.Lock()
	if e.bannerTimer != nil {
		e.bannerTimer.Stop()
	}
	e.banner = b
	e.bannerTimer = time.AfterFunc(e.bannerTTL, func() {
		e.mu.Lock()
		if e.banner != b {
			e.mu.Unlock()
			return
		}
		e.banner = nil
		e.bannerTimer = nil
		e.mu.Unlock()
		e.onBanner.emit(nil)
	})
	e.mu.Unlock()

	e.log.Info("new inbound message", zap.String("leadId", c.ID))
	shown := *b
	e.onBanner.emit(&shown)
}

func cloneConversations(list []Conversation) []Conversation {
	if list == nil {
		return nil
	}
	return append([]Conversation(nil), list...)
}
