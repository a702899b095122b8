// Package dispatch sends a single user-authored message over two
// independent paths, an ephemeral low-latency broadcast and a durable
// row insert, and reconciles whichever settles first into one ledger
// entry keyed by the client-generated temp id.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client-core/internal/broadcast"
	"github.com/fathima-sithara/chat-client-core/internal/domain"
	"github.com/fathima-sithara/chat-client-core/internal/events"
	"github.com/fathima-sithara/chat-client-core/internal/ledger"
	"github.com/fathima-sithara/chat-client-core/internal/metrics"
	"github.com/fathima-sithara/chat-client-core/internal/store"
	"github.com/fathima-sithara/chat-client-core/internal/translate"
)

var ErrEmptyMessage = errors.New("message text required")

// ApplyFunc hands a ledger event to the owning conversation loop. All
// ledger mutations are serialized behind it.
type ApplyFunc func(ev ledger.Event)

const translateTimeout = 2 * time.Second

// Dispatcher coordinates the dual-path send for one conversation.
type Dispatcher struct {
	conversationID string
	localUserID    string
	channel        string

	bus        broadcast.Bus
	store      store.MessageStore
	translator translate.Translator
	targetLang string
	telemetry  *events.Publisher
	apply      ApplyFunc
	log        *zap.SugaredLogger

	// Seams for tests.
	now   func() time.Time
	newID func() string
}

// Config carries the dispatcher collaborators.
type Config struct {
	ConversationID string
	LocalUserID    string
	Channel        string
	Bus            broadcast.Bus
	Store          store.MessageStore
	Translator     translate.Translator
	TargetLang     string
	Telemetry      *events.Publisher
	Apply          ApplyFunc
	Log            *zap.SugaredLogger
}

func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		conversationID: cfg.ConversationID,
		localUserID:    cfg.LocalUserID,
		channel:        cfg.Channel,
		bus:            cfg.Bus,
		store:          cfg.Store,
		translator:     cfg.Translator,
		targetLang:     cfg.TargetLang,
		telemetry:      cfg.Telemetry,
		apply:          cfg.Apply,
		log:            cfg.Log,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// Receipt is handed back by Send. Durable settles exactly once with
// the durable path's outcome; the UI path never waits on it.
type Receipt struct {
	TempID  string
	Durable <-chan error
}

// Send runs the optimistic insert, the best-effort translation, the
// broadcast publish and the concurrent durable insert for one new
// message. The ledger entry exists with status sending before Send
// returns.
func (d *Dispatcher) Send(ctx context.Context, recipientID, text string) (*Receipt, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}

	msg := domain.Message{
		TempID:         d.newID(),
		ConversationID: d.conversationID,
		SenderID:       d.localUserID,
		RecipientID:    recipientID,
		OriginalText:   text,
		Kind:           domain.KindText,
		CreatedAt:      d.now().UTC(),
	}
	d.apply(ledger.Event{Type: ledger.EventLocalSend, Msg: msg})
	metrics.MessagesSent.Inc()

	msg.TranslatedText = d.translateText(ctx, text)

	return d.transmit(ctx, msg), nil
}

// Retry re-runs both paths for a failed message, reusing its temp id
// so the receiving side still deduplicates onto the original entry.
func (d *Dispatcher) Retry(ctx context.Context, msg domain.Message) *Receipt {
	d.apply(ledger.Event{Type: ledger.EventRetry, Msg: domain.Message{TempID: msg.TempID}})
	metrics.Retries.Inc()
	return d.transmit(ctx, msg)
}

func (d *Dispatcher) transmit(ctx context.Context, msg domain.Message) *Receipt {
	durable := make(chan error, 1)

	d.publishBroadcast(ctx, msg)

	// The durable insert is fire-and-forget relative to the caller's
	// context: a message sent just before the view closes must still
	// land.
	go d.insertDurable(msg, durable)

	return &Receipt{TempID: msg.TempID, Durable: durable}
}

func (d *Dispatcher) translateText(ctx context.Context, text string) string {
	if d.translator == nil || d.targetLang == "" {
		return ""
	}
	tctx, cancel := context.WithTimeout(ctx, translateTimeout)
	defer cancel()
	out, err := d.translator.Translate(tctx, text, d.targetLang)
	if err != nil {
		// Enrichment only; the original text is always delivered.
		d.log.Debugw("translation skipped", "err", err)
		return ""
	}
	return out
}

func (d *Dispatcher) publishBroadcast(ctx context.Context, msg domain.Message) {
	payload, err := domain.EncodeChannelEvent(domain.ChannelEvent{
		Type:           domain.ChannelEventMessage,
		ConversationID: d.conversationID,
		SenderID:       d.localUserID,
		SentAt:         d.now().UTC(),
		Message:        &msg,
	})
	if err != nil {
		d.log.Warnw("broadcast encode", "temp_id", msg.TempID, "err", err)
		return
	}
	if err := d.bus.Publish(ctx, d.channel, payload); err != nil {
		// Non-fatal: the durable path is the fallback source of
		// truth, so status reaches sent without the delivered
		// inference.
		metrics.BroadcastFailures.Inc()
		d.log.Warnw("broadcast publish", "temp_id", msg.TempID, "err", err)
		return
	}
	d.apply(ledger.Event{Type: ledger.EventBroadcastAck, Msg: domain.Message{TempID: msg.TempID}})
	d.emitTransition(msg, domain.StatusDelivered, nil)
}

func (d *Dispatcher) insertDurable(msg domain.Message, result chan<- error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stored, err := d.store.Insert(ctx, msg)
	if err != nil {
		metrics.DurableFailures.Inc()
		d.log.Errorw("durable insert", "temp_id", msg.TempID, "err", err)
		d.apply(ledger.Event{Type: ledger.EventDurableFail, Msg: domain.Message{TempID: msg.TempID}})
		d.emitTransition(msg, domain.StatusFailed, err)
		result <- err
		return
	}
	d.apply(ledger.Event{Type: ledger.EventDurableAck, Msg: stored})
	d.emitTransition(stored, domain.StatusSent, nil)
	result <- nil
}

func (d *Dispatcher) emitTransition(msg domain.Message, status domain.Status, cause error) {
	if d.telemetry == nil {
		return
	}
	t := events.Transition{
		ConversationID: d.conversationID,
		TempID:         msg.TempID,
		MessageID:      msg.ID,
		SenderID:       d.localUserID,
		Status:         status,
		At:             d.now().UTC(),
	}
	if cause != nil {
		t.Error = cause.Error()
	}
	d.telemetry.PublishTransition(context.Background(), t)
}
