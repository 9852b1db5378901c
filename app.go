package leadpilot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// AppOptions configures an App. Every field is optional.
type AppOptions struct {
	// Dial overrides how realtime connections are built.
	Dial     DialFunc
	Realtime *RealtimeConfig
	Sync     *SyncOptions
	// Push registers the device for notifications on Start when set.
	Push PushTokenSource
}

// App is the top-level controller. It owns the single registry and session
// and hands them by reference to the sync engine, thread and deep linker, so
// every presentation layer shares one set of engines.
type App struct {
	Client   *Client
	Registry *Registry
	Session  *Session
	Sync     *SyncEngine
	Thread   *Thread
	Links    *DeepLinker

	log   *zap.Logger
	push  PushTokenSource
	tasks background

	mu      sync.Mutex
	subs    []*Subscription
	started bool
}

func NewApp(client *Client, opts *AppOptions) *App {
	if opts == nil {
		opts = &AppOptions{}
	}
	log := client.log

	dial := opts.Dial
	if dial == nil {
		dial = WebSocketDialer(client, opts.Realtime)
	}
	syncOpts := SyncOptions{}
	if opts.Sync != nil {
		syncOpts = *opts.Sync
	}
	if syncOpts.Logger == nil {
		syncOpts.Logger = log.Named("sync")
	}

	a := &App{Client: client, log: log, push: opts.Push}
	a.tasks.log = log
	a.Registry = NewRegistry(dial)
	a.Session = NewSession(a.Registry, log.Named("realtime"))
	a.Sync = NewSyncEngine(client.Messages, &syncOpts)
	a.Thread = NewThread(client.Messages, a.Sync, &ThreadOptions{Logger: log.Named("thread")})
	a.Links = NewDeepLinker(a.Thread, log.Named("deeplink"))
	return a
}

// Login authenticates and starts the app for the returned user.
func (a *App) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	res, err := a.Client.Auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	identity := res.User.Email
	if identity == "" {
		identity = email
	}
	if err := a.Start(ctx, identity); err != nil {
		return res, err
	}
	return res, nil
}

// Start joins the realtime session for identity, wires realtime events into
// the thread and sync engine, and starts polling. A realtime connect failure
// is logged and does not stop polling.
func (a *App) Start(ctx context.Context, identity string) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return a.Session.ConnectAndJoin(ctx, identity)
	}
	a.started = true
	a.mu.Unlock()

	if err := a.Session.ConnectAndJoin(ctx, identity); err != nil {
		if errors.Is(err, ErrMissingIdentity) {
			a.mu.Lock()
			a.started = false
			a.mu.Unlock()
			return err
		}
		a.log.Warn("realtime unavailable, relying on polling", zap.Error(err))
	}

	a.Thread.Bind(ctx, a.Session)
	sub := a.Sync.OnUpdate(func(list []Conversation) {
		a.Links.Offer(ctx, list)
	})
	a.mu.Lock()
	a.subs = append(a.subs, sub)
	a.mu.Unlock()

	if a.push != nil {
		a.tasks.Go(ctx, "push registration", func(ctx context.Context) error {
			return RegisterDevice(ctx, a.push, a.Client)
		})
	}

	a.Sync.Start(ctx)
	return nil
}

// OpenNotification handles a tapped push notification: the target is kept
// pending until a conversation list containing it is available.
func (a *App) OpenNotification(ctx context.Context, data []byte) error {
	target, err := ParseNotification(data)
	if err != nil {
		return err
	}
	if !a.Links.Open(*target) {
		return nil
	}
	a.Links.Offer(ctx, a.Sync.Conversations())
	return nil
}

// SelectConversation is a manual navigation; it abandons any pending deep link.
func (a *App) SelectConversation(ctx context.Context, conversationID string) error {
	a.Links.Abandon()
	return a.Thread.Select(ctx, conversationID)
}

// Send sends text to the open conversation.
func (a *App) Send(ctx context.Context, text string) error {
	return a.Thread.SendMessage(ctx, a.Thread.Selected(), text)
}

// Stop tears down the views: subscriptions are released, polling and banner
// timers stopped. The realtime session stays connected.
func (a *App) Stop() {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	a.started = false
	a.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	a.Thread.Unbind()
	a.Sync.Stop()
	a.tasks.Wait()
}

// Logout stops the views, clears the token and the cached conversations,
// and tears down the realtime session.
func (a *App) Logout() error {
	a.Stop()
	a.Client.SetToken("")
	a.Sync.Reset()
	a.Links.Abandon()
	if err := a.Thread.Select(context.Background(), ""); err != nil {
		a.log.Debug("closing thread", zap.Error(err))
	}
	if err := a.Session.Disconnect(); err != nil {
		return fmt.Errorf("realtime disconnect: %w", err)
	}
	return nil
}
