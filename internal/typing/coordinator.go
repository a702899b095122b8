// Package typing turns raw keystroke events into debounced start/stop
// typing announcements and folds incoming announcements into the set
// of users currently typing in a conversation.
package typing

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client-core/internal/domain"
)

// DefaultDebounce is the inactivity window after which a typing user
// is treated as stopped, with or without an explicit stop signal.
const DefaultDebounce = 3 * time.Second

// Publisher sends a typing announcement on the conversation's shared
// broadcast channel. Failures are best-effort: the coordinator logs
// and moves on, it never retries.
type Publisher interface {
	PublishTyping(ctx context.Context, a domain.TypingAnnouncement) error
}

type timerStopper interface{ Stop() bool }

// Coordinator owns typing state for one open conversation.
type Coordinator struct {
	conversationID string
	localUserID    string
	pub            Publisher
	log            *zap.SugaredLogger
	window         time.Duration
	onChange       func()

	// Seams for tests; defaulted in New.
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) timerStopper

	mu      sync.Mutex
	timer   timerStopper
	active  bool                 // local user currently announced as typing
	remotes map[string]time.Time // userID -> last announcement time
	closed  bool
}

// Option tweaks a Coordinator.
type Option func(*Coordinator)

// WithDebounce overrides the 3s inactivity window.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) { c.window = d }
}

// WithOnChange registers a callback fired whenever the set of typing
// users may have changed.
func WithOnChange(f func()) Option {
	return func(c *Coordinator) { c.onChange = f }
}

// New returns a coordinator for one conversation.
func New(conversationID, localUserID string, pub Publisher, log *zap.SugaredLogger, opts ...Option) *Coordinator {
	c := &Coordinator{
		conversationID: conversationID,
		localUserID:    localUserID,
		pub:            pub,
		log:            log,
		window:         DefaultDebounce,
		now:            time.Now,
		afterFunc: func(d time.Duration, f func()) timerStopper {
			return time.AfterFunc(d, f)
		},
		remotes: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnTextChanged reacts to one keystroke in the compose box. An
// empty<->non-empty transition announces immediately; every keystroke
// on non-empty text re-arms the stop timer for the full window.
func (c *Coordinator) OnTextChanged(ctx context.Context, newText, previousText string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	wasEmpty := previousText == ""
	isEmpty := newText == ""

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	switch {
	case isEmpty && !wasEmpty:
		c.active = false
		c.mu.Unlock()
		c.announce(ctx, false)
		return
	case isEmpty:
		c.mu.Unlock()
		return
	}

	announceStart := !c.active
	c.active = true
	c.timer = c.afterFunc(c.window, c.debounceFired)
	c.mu.Unlock()

	if announceStart {
		c.announce(ctx, true)
	}
}

func (c *Coordinator) debounceFired() {
	c.mu.Lock()
	if c.closed || !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.timer = nil
	c.mu.Unlock()
	c.announce(context.Background(), false)
}

func (c *Coordinator) announce(ctx context.Context, isTyping bool) {
	a := domain.TypingAnnouncement{
		ConversationID: c.conversationID,
		UserID:         c.localUserID,
		IsTyping:       isTyping,
	}
	if err := c.pub.PublishTyping(ctx, a); err != nil {
		// Soft-real-time hint, not guaranteed delivery.
		c.log.Debugw("typing announce dropped", "conversation_id", c.conversationID, "err", err)
	}
}

// OnAnnouncement folds a received announcement into the typing set.
// The local user's own announcements reflected back are ignored.
func (c *Coordinator) OnAnnouncement(a domain.TypingAnnouncement) {
	if a.UserID == c.localUserID || a.ConversationID != c.conversationID {
		return
	}
	c.mu.Lock()
	if a.IsTyping {
		c.remotes[a.UserID] = c.now()
	} else {
		delete(c.remotes, a.UserID)
	}
	onChange := c.onChange
	c.mu.Unlock()
	if onChange != nil {
		onChange()
	}
}

// TypingUsers returns who is typing now, sorted for stable rendering.
// Entries older than the debounce window count as stopped.
func (c *Coordinator) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.window)
	out := make([]string, 0, len(c.remotes))
	for id, at := range c.remotes {
		if at.Before(cutoff) {
			delete(c.remotes, id)
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close stops the debounce timer and, if the local user was announced
// as typing, sends a final stop.
func (c *Coordinator) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	wasActive := c.active
	c.active = false
	c.mu.Unlock()
	if wasActive {
		c.announce(ctx, false)
	}
}
