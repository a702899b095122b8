package typing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client-core/internal/domain"
)

type capturedAnnouncement struct {
	userID   string
	isTyping bool
}

type fakePublisher struct {
	mu   sync.Mutex
	got  []capturedAnnouncement
	fail error
}

func (p *fakePublisher) PublishTyping(ctx context.Context, a domain.TypingAnnouncement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.got = append(p.got, capturedAnnouncement{userID: a.UserID, isTyping: a.IsTyping})
	return nil
}

func (p *fakePublisher) announcements() []capturedAnnouncement {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]capturedAnnouncement, len(p.got))
	copy(out, p.got)
	return out
}

type fakeTimer struct{ stopped bool }

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type timerController struct {
	timers []*fakeTimer
	delays []time.Duration
	fns    []func()
}

func (tc *timerController) afterFunc(d time.Duration, f func()) timerStopper {
	t := &fakeTimer{}
	tc.timers = append(tc.timers, t)
	tc.delays = append(tc.delays, d)
	tc.fns = append(tc.fns, f)
	return t
}

func newTestCoordinator(pub Publisher) (*Coordinator, *timerController) {
	tc := &timerController{}
	c := New("conv-1", "user-a", pub, zap.NewNop().Sugar())
	c.afterFunc = tc.afterFunc
	return c, tc
}

func TestStartAnnouncedOnFirstKeystroke(t *testing.T) {
	pub := &fakePublisher{}
	c, tc := newTestCoordinator(pub)

	c.OnTextChanged(context.Background(), "h", "")

	got := pub.announcements()
	require.Len(t, got, 1)
	assert.True(t, got[0].isTyping)
	require.Len(t, tc.delays, 1)
	assert.Equal(t, DefaultDebounce, tc.delays[0])
}

func TestStopAnnouncedWhenClearedToEmpty(t *testing.T) {
	pub := &fakePublisher{}
	c, tc := newTestCoordinator(pub)

	c.OnTextChanged(context.Background(), "h", "")
	c.OnTextChanged(context.Background(), "", "h")

	got := pub.announcements()
	require.Len(t, got, 2)
	assert.True(t, got[0].isTyping)
	assert.False(t, got[1].isTyping)
	assert.True(t, tc.timers[0].stopped, "clearing the box cancels the debounce timer")
}

func TestDebounceFiresFromLastKeystroke(t *testing.T) {
	pub := &fakePublisher{}
	c, tc := newTestCoordinator(pub)

	// Keystrokes at t=0 and t=1000ms: each re-arms a full window, so
	// the stop fires 3s after the SECOND keystroke, not the first.
	c.OnTextChanged(context.Background(), "h", "")
	c.OnTextChanged(context.Background(), "hi", "h")

	require.Len(t, tc.timers, 2)
	assert.True(t, tc.timers[0].stopped, "first timer re-armed, never fires")
	assert.False(t, tc.timers[1].stopped)
	assert.Equal(t, DefaultDebounce, tc.delays[1], "second timer runs the full window again")

	// Only the start announcement so far.
	require.Len(t, pub.announcements(), 1)

	// Fire the live timer: the stop goes out exactly once.
	tc.fns[1]()
	got := pub.announcements()
	require.Len(t, got, 2)
	assert.False(t, got[1].isTyping)
}

func TestDebounceFireAfterStopIsNoop(t *testing.T) {
	pub := &fakePublisher{}
	c, tc := newTestCoordinator(pub)

	c.OnTextChanged(context.Background(), "h", "")
	c.OnTextChanged(context.Background(), "", "h")

	// Late fire from a timer that lost the race with Stop.
	tc.fns[0]()
	require.Len(t, pub.announcements(), 2, "no second stop")
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	pub := &fakePublisher{fail: errors.New("bus down")}
	c, _ := newTestCoordinator(pub)

	// Must not panic or retry; typing is a soft hint.
	c.OnTextChanged(context.Background(), "h", "")
	c.OnTextChanged(context.Background(), "", "h")
}

func TestOwnAnnouncementIgnored(t *testing.T) {
	pub := &fakePublisher{}
	c, _ := newTestCoordinator(pub)

	c.OnAnnouncement(domain.TypingAnnouncement{ConversationID: "conv-1", UserID: "user-a", IsTyping: true})
	assert.Empty(t, c.TypingUsers())
}

func TestRemoteTypingSetAndExplicitStop(t *testing.T) {
	pub := &fakePublisher{}
	c, _ := newTestCoordinator(pub)

	c.OnAnnouncement(domain.TypingAnnouncement{ConversationID: "conv-1", UserID: "user-b", IsTyping: true})
	c.OnAnnouncement(domain.TypingAnnouncement{ConversationID: "conv-1", UserID: "user-c", IsTyping: true})
	assert.Equal(t, []string{"user-b", "user-c"}, c.TypingUsers())

	c.OnAnnouncement(domain.TypingAnnouncement{ConversationID: "conv-1", UserID: "user-b", IsTyping: false})
	assert.Equal(t, []string{"user-c"}, c.TypingUsers())
}

func TestRemoteEntryExpiresWithoutStopSignal(t *testing.T) {
	pub := &fakePublisher{}
	c, _ := newTestCoordinator(pub)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.OnAnnouncement(domain.TypingAnnouncement{ConversationID: "conv-1", UserID: "user-b", IsTyping: true})
	assert.Equal(t, []string{"user-b"}, c.TypingUsers())

	now = now.Add(DefaultDebounce + time.Millisecond)
	assert.Empty(t, c.TypingUsers(), "stale entry treated as stopped")
}

func TestOtherConversationIgnored(t *testing.T) {
	pub := &fakePublisher{}
	c, _ := newTestCoordinator(pub)

	c.OnAnnouncement(domain.TypingAnnouncement{ConversationID: "conv-2", UserID: "user-b", IsTyping: true})
	assert.Empty(t, c.TypingUsers())
}

func TestCloseAnnouncesStopWhenActive(t *testing.T) {
	pub := &fakePublisher{}
	c, _ := newTestCoordinator(pub)

	c.OnTextChanged(context.Background(), "h", "")
	c.Close(context.Background())

	got := pub.announcements()
	require.Len(t, got, 2)
	assert.False(t, got[1].isTyping)

	// Keystrokes after close are ignored.
	c.OnTextChanged(context.Background(), "hi", "h")
	assert.Len(t, pub.announcements(), 2)
}
