// Package conversation owns one open conversation view: it acquires
// the broadcast channel handle and the durable insert feed on Open,
// serializes every ledger and typing mutation through a single event
// loop, and projects the merged result for rendering.
package conversation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client-core/internal/broadcast"
	"github.com/fathima-sithara/chat-client-core/internal/dispatch"
	"github.com/fathima-sithara/chat-client-core/internal/domain"
	"github.com/fathima-sithara/chat-client-core/internal/events"
	"github.com/fathima-sithara/chat-client-core/internal/ledger"
	"github.com/fathima-sithara/chat-client-core/internal/metrics"
	"github.com/fathima-sithara/chat-client-core/internal/presence"
	"github.com/fathima-sithara/chat-client-core/internal/store"
	"github.com/fathima-sithara/chat-client-core/internal/translate"
	"github.com/fathima-sithara/chat-client-core/internal/typing"
)

const historyLimit = 50

// Config wires a session. Presence, Telemetry and Translator are
// optional.
type Config struct {
	ConversationID string
	LocalUserID    string
	Bus            broadcast.Bus
	Store          store.MessageStore
	Translator     translate.Translator
	TargetLang     string
	Telemetry      *events.Publisher
	Presence       *presence.Store
	TypingDebounce time.Duration
	Log            *zap.SugaredLogger
}

// Session is the conversation view model. All exported methods are
// safe for concurrent use; mutations funnel into the internal loop.
type Session struct {
	cfg     Config
	channel string

	dispatcher *dispatch.Dispatcher
	typing     *typing.Coordinator

	eventsCh chan ledger.Event
	updates  chan struct{}
	done     chan struct{}
	stopped  chan struct{}

	stateCh chan stateReq

	busSub    broadcast.Subscription
	insertSub store.Subscription

	log *zap.SugaredLogger
}

type stateReq struct {
	fn func(ledger.State)
	ok chan struct{}
}

// New builds a session; nothing is subscribed until Open.
func New(cfg Config) *Session {
	if cfg.TypingDebounce == 0 {
		cfg.TypingDebounce = typing.DefaultDebounce
	}
	s := &Session{
		cfg:      cfg,
		channel:  ChannelName(cfg.ConversationID),
		eventsCh: make(chan ledger.Event, 256),
		updates:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		stateCh:  make(chan stateReq),
		log:      cfg.Log,
	}
	s.typing = typing.New(
		cfg.ConversationID, cfg.LocalUserID, s, cfg.Log,
		typing.WithDebounce(cfg.TypingDebounce),
		typing.WithOnChange(s.notify),
	)
	s.dispatcher = dispatch.New(dispatch.Config{
		ConversationID: cfg.ConversationID,
		LocalUserID:    cfg.LocalUserID,
		Channel:        s.channel,
		Bus:            cfg.Bus,
		Store:          cfg.Store,
		Translator:     cfg.Translator,
		TargetLang:     cfg.TargetLang,
		Telemetry:      cfg.Telemetry,
		Apply:          s.enqueue,
		Log:            cfg.Log,
	})
	go s.loop()
	return s
}

// ChannelName is the broadcast channel for a conversation.
func ChannelName(conversationID string) string {
	return "conversation:" + conversationID
}

// Open subscribes the broadcast channel and the durable insert feed,
// loads recent history, and issues the view-focus read marking. The
// channel handle is owned by this session and released on Close.
func (s *Session) Open(ctx context.Context) error {
	sub, err := s.cfg.Bus.Subscribe(ctx, s.channel, s.onBusPayload)
	if err != nil {
		return fmt.Errorf("subscribe broadcast: %w", err)
	}
	s.busSub = sub

	insertSub, err := s.cfg.Store.SubscribeInserts(ctx, s.cfg.ConversationID, s.onInsert)
	if err != nil {
		_ = s.busSub.Close()
		return fmt.Errorf("subscribe inserts: %w", err)
	}
	s.insertSub = insertSub

	history, err := s.cfg.Store.List(ctx, s.cfg.ConversationID, historyLimit, time.Time{})
	if err != nil {
		s.log.Warnw("history load", "conversation_id", s.cfg.ConversationID, "err", err)
	} else {
		s.enqueue(ledger.Event{Type: ledger.EventHistory, History: history})
	}

	s.MarkRead(ctx)

	if s.cfg.Presence != nil {
		if err := s.cfg.Presence.SetOnline(ctx, s.cfg.LocalUserID, s.cfg.ConversationID); err != nil {
			s.log.Debugw("presence online", "err", err)
		}
	}
	return nil
}

// MarkRead is the view-focus read marking: persist the read state and
// announce it so the peer's ledger can advance to read. Open invokes
// it once; the bridge re-invokes it when the view regains focus.
func (s *Session) MarkRead(ctx context.Context) {
	if err := s.cfg.Store.MarkRead(ctx, s.cfg.ConversationID, s.cfg.LocalUserID); err != nil {
		s.log.Debugw("mark read", "err", err)
	}
	readAt := time.Now().UTC()
	payload, err := domain.EncodeChannelEvent(domain.ChannelEvent{
		Type:           domain.ChannelEventRead,
		ConversationID: s.cfg.ConversationID,
		SenderID:       s.cfg.LocalUserID,
		SentAt:         readAt,
		ReadAt:         &readAt,
	})
	if err != nil {
		return
	}
	if err := s.cfg.Bus.Publish(ctx, s.channel, payload); err != nil {
		s.log.Debugw("read receipt publish", "err", err)
	}
}

// loop is the single owner of ledger state.
func (s *Session) loop() {
	state := ledger.NewState(s.cfg.LocalUserID)
	defer close(s.stopped)
	for {
		select {
		case ev := <-s.eventsCh:
			state = ledger.Apply(state, ev)
			s.notify()
		case req := <-s.stateCh:
			// Consume everything already queued before answering:
			// Send enqueues its optimistic insert before returning,
			// so a snapshot taken right after Send must contain it.
			state = s.drainQueued(state)
			req.fn(state)
			close(req.ok)
		case <-s.done:
			// Late durable settlements already queued still land.
			s.drainQueued(state)
			return
		}
	}
}

func (s *Session) drainQueued(state ledger.State) ledger.State {
	for {
		select {
		case ev := <-s.eventsCh:
			state = ledger.Apply(state, ev)
			s.notify()
		default:
			return state
		}
	}
}

func (s *Session) enqueue(ev ledger.Event) {
	select {
	case s.eventsCh <- ev:
	case <-s.done:
	}
}

func (s *Session) withState(fn func(ledger.State)) bool {
	req := stateReq{fn: fn, ok: make(chan struct{})}
	select {
	case s.stateCh <- req:
		<-req.ok
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Updates signals that the projection may have changed. Signals
// coalesce; consumers re-read the snapshot.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// Messages returns the visible sequence: created_at ascending, one
// entry per temp id.
func (s *Session) Messages() []domain.Message {
	var out []domain.Message
	s.withState(func(st ledger.State) { out = st.Messages() })
	return out
}

// TypingUsers returns who is typing now, excluding the local user.
func (s *Session) TypingUsers() []string {
	return s.typing.TypingUsers()
}

// Send submits one composed message over both delivery paths.
func (s *Session) Send(ctx context.Context, recipientID, text string) (*dispatch.Receipt, error) {
	return s.dispatcher.Send(ctx, recipientID, text)
}

// Retry re-submits a failed message with its original temp id. The
// compose content is restored from the ledger entry.
func (s *Session) Retry(ctx context.Context, tempID string) (*dispatch.Receipt, error) {
	var msg domain.Message
	found := false
	s.withState(func(st ledger.State) { msg, found = st.Get(tempID) })
	if !found {
		return nil, fmt.Errorf("retry %s: %w", tempID, store.ErrNotFound)
	}
	if msg.Status != domain.StatusFailed {
		return nil, fmt.Errorf("retry %s: message not failed", tempID)
	}
	return s.dispatcher.Retry(ctx, msg), nil
}

// OnTextChanged feeds one compose-box keystroke to the typing
// coordinator.
func (s *Session) OnTextChanged(ctx context.Context, newText, previousText string) {
	s.typing.OnTextChanged(ctx, newText, previousText)
}

// PublishTyping implements typing.Publisher over the session's
// broadcast channel.
func (s *Session) PublishTyping(ctx context.Context, a domain.TypingAnnouncement) error {
	payload, err := domain.EncodeChannelEvent(domain.ChannelEvent{
		Type:           domain.ChannelEventTyping,
		ConversationID: a.ConversationID,
		SenderID:       a.UserID,
		SentAt:         time.Now().UTC(),
		Typing:         &a,
	})
	if err != nil {
		return err
	}
	metrics.TypingAnnouncements.Inc()
	return s.cfg.Bus.Publish(ctx, s.channel, payload)
}

func (s *Session) onBusPayload(payload []byte) {
	ev, err := domain.DecodeChannelEvent(payload)
	if err != nil {
		s.log.Debugw("broadcast decode", "err", err)
		return
	}
	switch ev.Type {
	case domain.ChannelEventMessage:
		if ev.Message == nil {
			return
		}
		s.enqueue(ledger.Event{Type: ledger.EventBroadcastRecv, Msg: *ev.Message})
	case domain.ChannelEventTyping:
		if ev.Typing == nil {
			return
		}
		s.typing.OnAnnouncement(*ev.Typing)
	case domain.ChannelEventRead:
		if ev.SenderID == s.cfg.LocalUserID {
			return
		}
		readAt := ev.SentAt
		if ev.ReadAt != nil {
			readAt = *ev.ReadAt
		}
		s.enqueue(ledger.Event{Type: ledger.EventPeerRead, PeerID: ev.SenderID, ReadAt: readAt})
	}
}

func (s *Session) onInsert(m domain.Message) {
	s.enqueue(ledger.Event{Type: ledger.EventDurableRecv, Msg: m})
}

// Close releases the channel handle and feeds, announces typing stop
// and presence offline. In-flight durable inserts are detached and
// still land after Close.
func (s *Session) Close(ctx context.Context) {
	if s.busSub != nil {
		_ = s.busSub.Close()
	}
	if s.insertSub != nil {
		_ = s.insertSub.Close()
	}
	s.typing.Close(ctx)
	if s.cfg.Presence != nil {
		if err := s.cfg.Presence.SetOffline(ctx, s.cfg.LocalUserID); err != nil {
			s.log.Debugw("presence offline", "err", err)
		}
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	<-s.stopped
}
