package console

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"support-console/internal/gateway"
	"support-console/internal/models"
	"support-console/internal/registry"
	"support-console/internal/telemetry"
	"support-console/internal/timeline"
	"support-console/internal/transport"
)

var (
	ErrClosed          = errors.New("console closed")
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionEnded    = errors.New("session already ended")
	ErrSendFailed      = errors.New("send failed")
)

const eventBuffer = 256

// Link is the slice of transport.Conn the console depends on.
type Link interface {
	Connect(ctx context.Context)
	Frames() <-chan models.Frame
	States() <-chan models.ConnectionState
	State() models.ConnectionState
	Send(v any) bool
	Close() error
}

var _ Link = (*transport.Conn)(nil)

// Options carry the operator identity and every timer interval.
type Options struct {
	OperatorID      string
	Environment     string
	SessionRefresh  time.Duration
	TimeoutPoll     time.Duration
	MessagePoll     time.Duration
	PostSendRecheck time.Duration
	BannerTTL       time.Duration
}

func (o *Options) applyDefaults() {
	if o.SessionRefresh <= 0 {
		o.SessionRefresh = 10 * time.Second
	}
	if o.TimeoutPoll <= 0 {
		o.TimeoutPoll = 10 * time.Second
	}
	if o.MessagePoll <= 0 {
		o.MessagePoll = 30 * time.Second
	}
	if o.PostSendRecheck <= 0 {
		o.PostSendRecheck = time.Second
	}
	if o.BannerTTL <= 0 {
		o.BannerTTL = 3 * time.Second
	}
}

// Console coordinates the session registry, message reconciler, the two
// gateway sockets and every per-session timer. All per-session timers live
// in one sessionWatch so selection changes tear them down atomically.
type Console struct {
	opts       Options
	gw         gateway.Client
	chatLink   Link
	notifyLink Link
	audit      *telemetry.ActionEmitter

	registry *registry.Registry
	rec      *timeline.Reconciler

	events   chan models.Event
	evMu     sync.Mutex
	evClosed bool

	mu          sync.Mutex
	watch       *sessionWatch
	bannerTimer *time.Timer
	started     bool
	closed      bool
	runCtx      context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// sessionWatch owns the cancellation of every timer scoped to one selected
// session: the timeout monitor, the polling fallback and post-send rechecks.
type sessionWatch struct {
	chatID  string
	cancel  context.CancelFunc
	done    chan struct{}
	recheck chan struct{}
}

// New builds a Console around an authenticated operator identity.
func New(gw gateway.Client, chatLink, notifyLink Link, audit *telemetry.ActionEmitter, opts Options) *Console {
	opts.applyDefaults()
	return &Console{
		opts:       opts,
		gw:         gw,
		chatLink:   chatLink,
		notifyLink: notifyLink,
		audit:      audit,
		registry:   registry.New(),
		rec:        timeline.NewReconciler(opts.OperatorID),
		events:     make(chan models.Event, eventBuffer),
	}
}

// Events is the stream consumed by the rendering layer.
func (c *Console) Events() <-chan models.Event {
	return c.events
}

// Registry exposes session snapshots for rendering.
func (c *Console) Registry() *registry.Registry {
	return c.registry
}

// Timeline returns a copy of a session's reconciled messages.
func (c *Console) Timeline(chatID string) []models.Message {
	return c.rec.Timeline(chatID)
}

// ConnectionState reports the chat socket state, which gates sending.
func (c *Console) ConnectionState() models.ConnectionState {
	return c.chatLink.State()
}

// Start connects both sockets and runs the background loops. It returns
// immediately.
func (c *Console) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true
	c.runCtx, c.cancel = context.WithCancel(ctx)

	c.chatLink.Connect(c.runCtx)
	c.notifyLink.Connect(c.runCtx)

	c.wg.Add(4)
	go c.chatLoop()
	go c.notifyLoop()
	go c.stateLoop()
	go c.refreshLoop()
	return nil
}

// Close cancels every loop and timer deterministically and closes both
// sockets.
func (c *Console) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	if c.bannerTimer != nil {
		c.bannerTimer.Stop()
	}
	c.stopWatchLocked()
	c.mu.Unlock()

	_ = c.chatLink.Close()
	_ = c.notifyLink.Close()
	c.wg.Wait()

	c.evMu.Lock()
	c.evClosed = true
	close(c.events)
	c.evMu.Unlock()
	return nil
}

// RefreshSessions pulls the session list from the backend and merges it.
func (c *Console) RefreshSessions(ctx context.Context) error {
	sessions, err := c.gw.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("refresh sessions: %w", err)
	}
	c.registry.Merge(sessions)
	c.emit(models.Event{Type: models.EventSessionsRefreshed})
	return nil
}

// SelectSession makes a session active: unread drops to zero, a mark-read is
// issued, history loads, and the timeout monitor and polling fallback are
// (re)started for that session only. Selecting the already-active session
// leaves the running watch untouched.
func (c *Console) SelectSession(ctx context.Context, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	session, ok := c.registry.Get(chatID)
	if !ok {
		return registry.ErrSessionNotFound
	}

	if c.watch != nil && c.watch.chatID == chatID && c.watchAliveLocked() {
		_ = c.registry.SetActive(chatID)
		c.emit(models.Event{Type: models.EventUnreadChanged, ChatID: chatID, Unread: 0})
		go c.markRead(chatID)
		return nil
	}

	c.stopWatchLocked()
	if err := c.registry.SetActive(chatID); err != nil {
		return err
	}
	c.emit(models.Event{Type: models.EventUnreadChanged, ChatID: chatID, Unread: 0})
	go c.markRead(chatID)

	msgs, err := c.gw.ChatMessages(ctx, chatID)
	if err != nil {
		// Sync failures keep the last-known timeline; the poll heals later.
		log.Printf("console: history load failed for %s: %v", chatID, err)
	} else {
		c.rec.SetHistory(chatID, msgs)
		c.emit(models.Event{Type: models.EventTimelineReset, ChatID: chatID})
	}

	if !session.IsEnded {
		c.startWatchLocked(chatID)
	}
	c.audit.Emit(ctx, telemetry.ActionSessionSelected, chatID, "")
	return nil
}

// SendMessage sends to the active session's user. The optimistic entry is
// recorded before the wire write and retained even when the write fails.
func (c *Console) SendMessage(ctx context.Context, content string) error {
	chatID := c.registry.Active()
	if chatID == "" {
		return ErrNoActiveSession
	}
	session, ok := c.registry.Get(chatID)
	if !ok {
		return registry.ErrSessionNotFound
	}
	if session.IsEnded {
		return ErrSessionEnded
	}

	msg := c.rec.ApplyOptimistic(chatID, session.UserID, content)
	c.emit(models.Event{Type: models.EventTimelineAppend, ChatID: chatID, Message: &msg})

	sent := c.chatLink.Send(models.SendFrame{
		ReceiverID: session.UserID,
		Content:    content,
		ChatID:     chatID,
	})
	if !sent {
		c.emit(models.Event{Type: models.EventSendFailed, ChatID: chatID, Reason: "connection unavailable"})
		return ErrSendFailed
	}

	c.audit.Emit(ctx, telemetry.ActionMessageSent, chatID, "")
	c.scheduleRecheck()
	return nil
}

// ForceEndSession invokes the backend end-endpoint for the active session.
// On success the session is marked ended before the next list refresh
// confirms it, and its timers are cancelled immediately.
func (c *Console) ForceEndSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	chatID := c.registry.Active()
	if chatID == "" {
		return ErrNoActiveSession
	}

	if err := c.gw.EndChat(ctx, chatID); err != nil {
		return fmt.Errorf("end chat %s: %w", chatID, err)
	}

	c.registry.MarkEnded(chatID, time.Now())
	c.stopWatchLocked()
	c.emit(models.Event{Type: models.EventSessionEnded, ChatID: chatID})
	c.audit.Emit(ctx, telemetry.ActionSessionForceEnded, chatID, "")
	return nil
}

// Cleanup asks the backend to garbage-collect ended sessions.
func (c *Console) Cleanup(ctx context.Context) error {
	if err := c.gw.CleanupSessions(ctx); err != nil {
		return fmt.Errorf("cleanup sessions: %w", err)
	}
	c.audit.Emit(ctx, telemetry.ActionCleanupRequested, "", "")
	return c.RefreshSessions(ctx)
}

func (c *Console) chatLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case f := <-c.chatLink.Frames():
			c.handleChatFrame(f)
		}
	}
}

func (c *Console) notifyLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case f := <-c.notifyLink.Frames():
			c.handleNotifyFrame(f)
		}
	}
}

func (c *Console) stateLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case s := <-c.chatLink.States():
			c.emit(models.Event{Type: models.EventConnectionState, State: s})
		case <-c.notifyLink.States():
			// Notify link state never gates operator actions.
		}
	}
}

func (c *Console) refreshLoop() {
	defer c.wg.Done()
	if err := c.RefreshSessions(c.runCtx); err != nil {
		log.Printf("console: %v", err)
	}
	ticker := time.NewTicker(c.opts.SessionRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case <-ticker.C:
			if err := c.RefreshSessions(c.runCtx); err != nil {
				log.Printf("console: %v", err)
			}
		}
	}
}

// handleChatFrame applies a pushed message to the active session's timeline
// or, for any other session, to its unread counter.
func (c *Console) handleChatFrame(f models.Frame) {
	if !f.IsChatMessage() {
		return
	}
	if f.ChatID == c.registry.Active() {
		msg, ok := c.rec.ApplyInbound(f)
		if !ok {
			return
		}
		c.emit(models.Event{Type: models.EventTimelineAppend, ChatID: f.ChatID, Message: &msg})
		go c.markRead(f.ChatID)
		return
	}
	if count, ok := c.registry.IncrementUnread(f.ChatID); ok {
		c.emit(models.Event{Type: models.EventUnreadChanged, ChatID: f.ChatID, Unread: count})
	}
}

// handleNotifyFrame processes cross-session events. The chat socket owns the
// active session, so notify-channel copies of its messages are dropped here
// and unread never double-counts.
func (c *Console) handleNotifyFrame(f models.Frame) {
	if f.Type == models.FrameUserConnected && f.UserInfo != nil {
		c.showBanner(f.UserInfo.Name)
		return
	}
	if !f.IsChatMessage() {
		return
	}
	if f.ChatID == c.registry.Active() {
		return
	}
	if count, ok := c.registry.IncrementUnread(f.ChatID); ok {
		c.emit(models.Event{Type: models.EventUnreadChanged, ChatID: f.ChatID, Unread: count})
	}
}

func (c *Console) showBanner(name string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.bannerTimer != nil {
		c.bannerTimer.Stop()
	}
	c.bannerTimer = time.AfterFunc(c.opts.BannerTTL, func() {
		c.emit(models.Event{Type: models.EventBannerCleared})
	})
	c.mu.Unlock()
	c.emit(models.Event{Type: models.EventBannerShown, Banner: name})
}

func (c *Console) baseCtx() context.Context {
	if c.runCtx != nil {
		return c.runCtx
	}
	return context.Background()
}

// startWatchLocked starts the per-session coordinator goroutine. Callers
// hold c.mu.
func (c *Console) startWatchLocked(chatID string) {
	ctx, cancel := context.WithCancel(c.baseCtx())
	w := &sessionWatch{
		chatID:  chatID,
		cancel:  cancel,
		done:    make(chan struct{}),
		recheck: make(chan struct{}, 4),
	}
	c.watch = w
	go c.runWatch(ctx, w)
}

// stopWatchLocked cancels the current watch and waits for it to exit, so no
// orphaned timer keeps mutating a deselected session. Callers hold c.mu.
func (c *Console) stopWatchLocked() {
	if c.watch == nil {
		return
	}
	c.watch.cancel()
	<-c.watch.done
	c.watch = nil
}

func (c *Console) watchAliveLocked() bool {
	if c.watch == nil {
		return false
	}
	select {
	case <-c.watch.done:
		return false
	default:
		return true
	}
}

// runWatch is the single owner of one selected session's timers: the 10s
// timeout monitor, the 30s polling fallback, and post-send rechecks.
func (c *Console) runWatch(ctx context.Context, w *sessionWatch) {
	defer close(w.done)

	timeoutTicker := time.NewTicker(c.opts.TimeoutPoll)
	defer timeoutTicker.Stop()
	pollTicker := time.NewTicker(c.opts.MessagePoll)
	defer pollTicker.Stop()

	c.checkTimeout(ctx, w)
	for {
		select {
		case <-ctx.Done():
			return
		case <-timeoutTicker.C:
			c.checkTimeout(ctx, w)
		case <-w.recheck:
			c.checkTimeout(ctx, w)
		case <-pollTicker.C:
			c.pollMessages(ctx, w.chatID)
		}
	}
}

func (c *Console) checkTimeout(ctx context.Context, w *sessionWatch) {
	status, err := c.gw.TimeoutStatus(ctx, w.chatID)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("console: timeout status failed for %s: %v", w.chatID, err)
		}
		return
	}
	c.emit(models.Event{Type: models.EventTimeoutState, ChatID: w.chatID, Timeout: &status})
	if status.IsEnded {
		c.registry.MarkEnded(w.chatID, time.Now())
		c.emit(models.Event{Type: models.EventSessionEnded, ChatID: w.chatID})
		w.cancel()
	}
}

func (c *Console) pollMessages(ctx context.Context, chatID string) {
	issued := c.rec.PollIssued(chatID)
	msgs, err := c.gw.ChatMessages(ctx, chatID)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("console: message poll failed for %s: %v", chatID, err)
		}
		return
	}
	if c.rec.ApplyPoll(chatID, msgs, issued) {
		c.emit(models.Event{Type: models.EventTimelineReset, ChatID: chatID})
	}
}

// scheduleRecheck queues a timeout re-check shortly after a send, since the
// send resets the idle clock server-side and the last status is stale.
func (c *Console) scheduleRecheck() {
	c.mu.Lock()
	w := c.watch
	alive := c.watchAliveLocked()
	c.mu.Unlock()
	if !alive {
		return
	}
	time.AfterFunc(c.opts.PostSendRecheck, func() {
		select {
		case w.recheck <- struct{}{}:
		default:
		}
	})
}

func (c *Console) markRead(chatID string) {
	ctx, cancel := context.WithTimeout(c.baseCtx(), 10*time.Second)
	defer cancel()
	if err := c.gw.MarkRead(ctx, chatID); err != nil && ctx.Err() == nil {
		log.Printf("console: mark read failed for %s: %v", chatID, err)
	}
}

func (c *Console) emit(ev models.Event) {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	if c.evClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		log.Printf("console: event dropped: %s", ev.Type)
	}
}
